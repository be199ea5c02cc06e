package contract

import (
	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
)

type AgentType string

const (
	AgentTypeConcierge  AgentType = "concierge"
	AgentTypeStructurer AgentType = "structurer"
)

type ReasonerStep struct {
	Reply        string                   `json:"reply,omitempty"`
	ToolRequests []ToolRequest            `json:"tool_requests,omitempty"`
	Result       *statex.StructuredResult `json:"result,omitempty"`
}

type ToolRequest struct {
	ID   string         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Outcome is the caller-facing shape of a turn. Its JSON form must not change.
type Outcome struct {
	IsTaskComplete   bool   `json:"is_task_complete"`
	RequireUserInput bool   `json:"require_user_input"`
	Content          string `json:"content"`
}
