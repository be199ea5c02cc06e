package contract

import (
	"context"

	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
)

// Reasoner is one round trip to the model: given the session history it either asks
// for tools or returns the terminal structured result.
type Reasoner interface {
	Next(ctx context.Context, history []statex.Message) (ReasonerStep, error)
}

// ToolInvoker resolves a tool request against the registry. Implementations must not
// retry: tool calls may have real-world side effects.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}
