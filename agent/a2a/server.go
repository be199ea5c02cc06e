package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Studio-Agent/pkg/httpx"
	metricsx "github.com/tanpawarit/Chative-Studio-Agent/pkg/metrics"
)

const maxBodyBytes = 1 << 20

// TurnHandler runs conversation turns. *orchestrator.Orchestrator satisfies it.
type TurnHandler interface {
	HandleMessage(ctx context.Context, sessionID string, text string) (contractx.Outcome, error)
	Outcome(ctx context.Context, sessionID string) (contractx.Outcome, error)
	Reset(ctx context.Context, sessionID string) error
}

// ToolRefresher re-enumerates the tool catalog.
type ToolRefresher interface {
	Refresh(ctx context.Context) error
}

type Config struct {
	Host      string `default:"0.0.0.0"`
	Port      int    `default:"10000"`
	PublicURL string `envconfig:"PUBLIC_URL"`
}

// CardURL is the address advertised in the agent card.
func (c Config) CardURL() string {
	if u := strings.TrimSpace(c.PublicURL); u != "" {
		return u
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + host + ":" + strconv.Itoa(c.Port) + "/"
}

type Server struct {
	turns TurnHandler
	tools ToolRefresher
	card  AgentCard
	now   func() time.Time
}

func NewServer(turns TurnHandler, tools ToolRefresher, card AgentCard) *Server {
	return &Server{
		turns: turns,
		tools: tools,
		card:  card,
		now:   time.Now,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/", s.handleRPC)
	r.Get("/.well-known/agent.json", s.handleAgentCard)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Delete("/", s.handleDeleteSession)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Post("/tools/refresh", s.handleRefreshTools)
	})
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, s.card)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.rpcError(w, nil, "", CodeParseError, "failed to read request body")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.rpcError(w, nil, "", CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		s.rpcError(w, req.ID, req.Method, CodeInvalidRequest, "invalid JSON-RPC request")
		return
	}

	switch req.Method {
	case MethodSendTask:
		s.sendTask(w, r, req)
	default:
		s.rpcError(w, req.ID, req.Method, CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) sendTask(w http.ResponseWriter, r *http.Request, req Request) {
	var params TaskSendParams
	if len(req.Params) == 0 {
		s.rpcError(w, req.ID, req.Method, CodeInvalidParams, "params are required")
		return
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.rpcError(w, req.ID, req.Method, CodeInvalidParams, "invalid params")
		return
	}

	taskID := strings.TrimSpace(params.ID)
	if taskID == "" {
		s.rpcError(w, req.ID, req.Method, CodeInvalidParams, "task id is required")
		return
	}
	text := strings.TrimSpace(params.Message.Text())
	if text == "" {
		s.rpcError(w, req.ID, req.Method, CodeInvalidParams, "message has no text")
		return
	}
	sessionID := strings.TrimSpace(params.SessionID)
	if sessionID == "" {
		sessionID = taskID
	}

	outcome, err := s.turns.HandleMessage(r.Context(), sessionID, text)
	result := "ok"
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("task_id", taskID).Msg("turn failed")
		outcome = contractx.FallbackOutcome()
		result = "turn_error"
	}
	metricsx.TaskRequests.WithLabelValues(req.Method, result).Inc()

	httpx.JSON(w, http.StatusOK, Response{
		JSONRPC: jsonRPCVersion,
		ID:      req.ID,
		Result:  s.taskFromOutcome(taskID, sessionID, outcome),
	})
}

func (s *Server) taskFromOutcome(taskID, sessionID string, outcome contractx.Outcome) Task {
	state := TaskStateInputRequired
	if outcome.IsTaskComplete {
		state = TaskStateCompleted
	}
	parts := []Part{{Type: "text", Text: outcome.Content}}
	return Task{
		ID:        taskID,
		SessionID: sessionID,
		Status: TaskStatus{
			State:     state,
			Message:   &Message{Role: "agent", Parts: parts},
			Timestamp: s.now().UTC(),
		},
		Artifacts: []Artifact{{Parts: parts, Index: 0}},
	}
}

func (s *Server) rpcError(w http.ResponseWriter, id json.RawMessage, method string, code int, message string) {
	if method == "" {
		method = "unknown"
	}
	metricsx.TaskRequests.WithLabelValues(method, "rpc_error").Inc()
	httpx.JSON(w, http.StatusOK, Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	outcome, err := s.turns.Outcome(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, contractx.ErrValidation) {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to read session outcome")
		httpx.Error(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.turns.Reset(r.Context(), sessionID); err != nil {
		if errors.Is(err, contractx.ErrValidation) {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to reset session")
		httpx.Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshTools(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		httpx.Error(w, http.StatusNotImplemented, "tool refresh is not available")
		return
	}
	if err := s.tools.Refresh(r.Context()); err != nil {
		log.Error().Err(err).Msg("tool refresh failed")
		httpx.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
