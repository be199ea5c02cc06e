package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Replies sent to the texter when the agent cannot answer.
const (
	ReplyTimeout      = "Sorry, the request to the agent timed out."
	ReplyUnreachable  = "Sorry, I'm having trouble connecting to the agent right now."
	ReplyUnexpected   = "An unexpected error occurred."
	ReplyUnparseable  = "Agent returned a response I couldn't understand."
	ReplyEmptyText    = "Agent response did not contain text."
	defaultAgentURL   = "http://localhost:10000/"
	defaultAgentLimit = 60 * time.Second
)

// AgentClient sends one tasks/send request per SMS.
type AgentClient struct {
	url        string
	httpClient *http.Client
	newID      func() string
}

type AgentOption func(*AgentClient)

func WithAgentHTTPClient(c *http.Client) AgentOption {
	return func(a *AgentClient) {
		if c != nil {
			a.httpClient = c
		}
	}
}

func NewAgentClient(url string, timeout time.Duration, opts ...AgentOption) *AgentClient {
	url = strings.TrimSpace(url)
	if url == "" {
		url = defaultAgentURL
	}
	if timeout <= 0 {
		timeout = defaultAgentLimit
	}
	a := &AgentClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

type rpcRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      string     `json:"id"`
	Method  string     `json:"method"`
	Params  taskParams `json:"params"`
}

type taskParams struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId,omitempty"`
	Message   taskMessage `json:"message"`
}

type taskMessage struct {
	Role  string     `json:"role"`
	Parts []taskPart `json:"parts"`
}

type taskPart struct {
	Type string  `json:"type"`
	Text *string `json:"text,omitempty"`
}

type rpcResponse struct {
	Result *struct {
		Status struct {
			Message *taskMessage `json:"message"`
		} `json:"status"`
		Artifacts []struct {
			Parts []taskPart `json:"parts"`
		} `json:"artifacts"`
	} `json:"result"`
}

// Query asks the agent and returns its reply. It never fails: transport and payload
// problems become one of the Reply* strings.
func (a *AgentClient) Query(ctx context.Context, sessionID, text string) string {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      a.newID(),
		Method:  "tasks/send",
		Params: taskParams{
			ID:        a.newID(),
			SessionID: sessionID,
			Message: taskMessage{
				Role:  "user",
				Parts: []taskPart{{Type: "text", Text: &text}},
			},
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode agent request")
		return ReplyUnexpected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("url", a.url).Msg("failed to build agent request")
		return ReplyUnexpected
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			log.Warn().Err(err).Str("url", a.url).Msg("agent request timed out")
			return ReplyTimeout
		}
		log.Error().Err(err).Str("url", a.url).Msg("failed to reach agent")
		return ReplyUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Str("url", a.url).Msg("agent returned error status")
		return ReplyUnreachable
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if isTimeout(err) {
			return ReplyTimeout
		}
		log.Error().Err(err).Msg("failed to decode agent response")
		return ReplyUnexpected
	}
	return replyText(out)
}

func replyText(out rpcResponse) string {
	if out.Result == nil {
		return ReplyUnparseable
	}

	var parts []taskPart
	if len(out.Result.Artifacts) > 0 {
		parts = out.Result.Artifacts[0].Parts
	} else if out.Result.Status.Message != nil {
		parts = out.Result.Status.Message.Parts
	}
	if len(parts) == 0 || parts[0].Type != "text" {
		return ReplyUnparseable
	}
	if parts[0].Text == nil {
		return ReplyEmptyText
	}
	return *parts[0].Text
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
