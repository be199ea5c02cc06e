package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrConnection        = errors.New("tool endpoint unreachable")
	ErrToolUnavailable   = errors.New("no tools available")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrInvalidArguments  = errors.New("invalid tool arguments")
	ErrToolFailed        = errors.New("tool call failed")
	ErrStepLimitExceeded = errors.New("step limit exceeded")
)
