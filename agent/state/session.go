package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Session is the per-conversation source of truth.
// - History is append-only and ordered exactly as produced.
// - Result holds the latest structured outcome; each turn overwrites it at most once.
type Session struct {
	SessionID string            `json:"session_id"`
	History   []Message         `json:"history,omitempty"`
	Result    *StructuredResult `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // raw JSON object
}

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Status string

const (
	StatusCompleted     Status = "completed"
	StatusInputRequired Status = "input_required"
	StatusError         Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusInputRequired, StatusError:
		return true
	default:
		return false
	}
}

type StructuredResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

func ErrorResult(message string) *StructuredResult {
	return &StructuredResult{Status: StatusError, Message: message}
}

/* ---------------------------- Session helpers ---------------------------- */

var (
	ErrNilSession     = errors.New("nil session")
	ErrInvalidStatus  = errors.New("invalid result status")
	ErrHistoryCorrupt = errors.New("session history corrupt")
)

func NewSession(sessionID string, now time.Time) *Session {
	return &Session{
		SessionID: sessionID,
		History:   make([]Message, 0, 8),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *Session) AppendUser(text string, now time.Time) {
	s.append(Message{Role: RoleUser, Content: text, CreatedAt: now.UTC()}, now)
}

// AppendAssistant records a model reply. calls may be empty for a final answer.
func (s *Session) AppendAssistant(text string, calls []ToolCall, now time.Time) {
	s.append(Message{
		Role:      RoleAssistant,
		Content:   text,
		ToolCalls: append([]ToolCall(nil), calls...),
		CreatedAt: now.UTC(),
	}, now)
}

func (s *Session) AppendToolResult(callID, toolName, content string, now time.Time) {
	s.append(Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		CreatedAt:  now.UTC(),
	}, now)
}

func (s *Session) append(m Message, now time.Time) {
	s.History = append(s.History, m)
	s.Touch(now)
}

// SetResult replaces any earlier result.
func (s *Session) SetResult(r *StructuredResult, now time.Time) error {
	if s == nil {
		return ErrNilSession
	}
	if r == nil || !r.Status.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidStatus, r)
	}
	cp := *r
	s.Result = &cp
	s.Touch(now)
	return nil
}

// LastUserMessage returns the most recent user utterance, or "".
func (s *Session) LastUserMessage() string {
	if s == nil {
		return ""
	}
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleUser {
			return s.History[i].Content
		}
	}
	return ""
}

func (s *Session) Validate() error {
	if s == nil {
		return ErrNilSession
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	if s.Result != nil && !s.Result.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s.Result.Status)
	}
	// every tool message must answer a call issued earlier in the history
	issued := make(map[string]struct{})
	for i, m := range s.History {
		switch m.Role {
		case RoleUser:
		case RoleAssistant:
			for _, c := range m.ToolCalls {
				issued[c.ID] = struct{}{}
			}
		case RoleTool:
			if _, ok := issued[m.ToolCallID]; !ok {
				return fmt.Errorf("%w: tool message %d answers unknown call %q", ErrHistoryCorrupt, i, m.ToolCallID)
			}
		default:
			return fmt.Errorf("%w: message %d has role %q", ErrHistoryCorrupt, i, m.Role)
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = make([]Message, len(s.History))
	for i, m := range s.History {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		out.History[i] = m
	}
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	return &out
}
