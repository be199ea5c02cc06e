package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Studio-Agent/pkg/httpx"
	metricsx "github.com/tanpawarit/Chative-Studio-Agent/pkg/metrics"
)

const maxBodyBytes = 64 << 10

type Config struct {
	Host         string        `default:"0.0.0.0"`
	Port         int           `default:"8080"`
	AgentURL     string        `envconfig:"AGENT_URL" default:"http://localhost:10000/"`
	AgentTimeout time.Duration `split_words:"true" default:"60s"`
	Subject      string
}

type Agent interface {
	Query(ctx context.Context, sessionID, text string) string
}

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Handler turns inbound SMS webhooks into agent queries and emails the reply back to
// the sender's email-to-SMS gateway address.
type Handler struct {
	agent   Agent
	sender  Sender
	subject string
	verify  func(http.Handler) http.Handler
}

type HandlerOption func(*Handler)

// WithSignatureCheck guards the webhook with the given middleware.
func WithSignatureCheck(mw func(http.Handler) http.Handler) HandlerOption {
	return func(h *Handler) {
		h.verify = mw
	}
}

func WithSubject(subject string) HandlerOption {
	return func(h *Handler) {
		h.subject = subject
	}
}

func NewHandler(agent Agent, sender Sender, opts ...HandlerOption) *Handler {
	h := &Handler{agent: agent, sender: sender}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type smsPayload struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Route("/api", func(r chi.Router) {
		if h.verify != nil {
			r.With(h.verify).Post("/incoming-sms", h.handleIncomingSMS)
			return
		}
		r.Post("/incoming-sms", h.handleIncomingSMS)
	})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Server is running"})
}

func (h *Handler) handleIncomingSMS(w http.ResponseWriter, r *http.Request) {
	var payload smsPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		metricsx.RelayMessages.WithLabelValues("invalid").Inc()
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "Invalid payload"})
		return
	}
	sender := strings.TrimSpace(payload.Sender)
	if sender == "" || strings.TrimSpace(payload.Message) == "" {
		metricsx.RelayMessages.WithLabelValues("invalid").Inc()
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "sender and message are required"})
		return
	}

	reply := h.agent.Query(r.Context(), sender, payload.Message)

	if err := h.sender.Send(r.Context(), sender, h.subject, reply); err != nil {
		log.Error().Err(err).Str("sender", sender).Msg("failed to send reply email")
		metricsx.RelayMessages.WithLabelValues("send_failed").Inc()
		httpx.JSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to send response"})
		return
	}

	log.Info().Str("sender", sender).Msg("reply sent")
	metricsx.RelayMessages.WithLabelValues("sent").Inc()
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "Response sent successfully"})
}
