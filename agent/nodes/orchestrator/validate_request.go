package orchestratornode

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
)

const (
	MaxMessageRunes = 4000
	MaxSessionIDLen = 256
)

var (
	ErrInvalidMessage = fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	ErrInvalidSession = fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
	ErrMessageTooLong = fmt.Errorf("%w: message exceeds %d characters", contractx.ErrValidation, MaxMessageRunes)
	ErrSessionIDShape = fmt.Errorf("%w: session id is too long or has control characters", contractx.ErrValidation)
)

type GraphInput struct {
	SessionID string
	Text      string
}

type GraphOutput struct {
	Outcome contractx.Outcome
	Steps   int
}

type GraphState struct {
	SessionID string
	Text      string
	Now       time.Time

	Session *statex.Session
	Result  *statex.StructuredResult
	Steps   int
}

// ValidateRequest trims the input and rejects anything a turn cannot start from.
// Session ids come from callers verbatim (an SMS sender address, a task id) and end up
// in store keys, so they are kept short and printable.
func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	if len(sessionID) > MaxSessionIDLen || strings.IndexFunc(sessionID, unicode.IsControl) >= 0 {
		return nil, ErrSessionIDShape
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	return &GraphState{
		SessionID: sessionID,
		Text:      text,
		Now:       nowFn().UTC(),
	}, nil
}
