package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	metricsx "github.com/tanpawarit/Chative-Studio-Agent/pkg/metrics"
)

// Transport is the wire to a tool-hosting endpoint.
type Transport interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

type Config struct {
	Endpoint       string        `envconfig:"ENDPOINT" default:"http://localhost:8000/sse"`
	ConnectTimeout time.Duration `split_words:"true" default:"15s"`
	RequireTools   bool          `split_words:"true" default:"true"`
	AuthToken      string        `split_words:"true"`
}

type Option func(*Registry)

// WithRequireTools makes an empty enumeration an error (default true).
func WithRequireTools(require bool) Option {
	return func(r *Registry) {
		r.requireTools = require
	}
}

// Registry caches the tool catalog of one endpoint. It is populated at startup and
// only changes on an explicit Refresh.
type Registry struct {
	transport    Transport
	requireTools bool

	mu          sync.RWMutex
	descriptors map[string]ToolDescriptor
	infos       []*schema.ToolInfo
}

// Connect dials endpoint over MCP/SSE and enumerates its tools.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Registry, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: tool endpoint is required", contractx.ErrValidation)
	}

	dialCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var headers map[string]string
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		headers = map[string]string{"Authorization": "Bearer " + token}
	}

	tr, err := DialMCP(dialCtx, endpoint, headers)
	if err != nil {
		return nil, err
	}

	reg, err := New(dialCtx, tr, opts...)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return reg, nil
}

// New builds a registry over an already established transport.
func New(ctx context.Context, tr Transport, opts ...Option) (*Registry, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: transport is required", contractx.ErrValidation)
	}
	r := &Registry{
		transport:    tr,
		requireTools: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh re-enumerates the endpoint and swaps the catalog atomically. On failure the
// previous catalog stays in place.
func (r *Registry) Refresh(ctx context.Context) error {
	tools, err := r.transport.ListTools(ctx)
	if err != nil {
		if errors.Is(err, contractx.ErrConnection) {
			return err
		}
		return fmt.Errorf("%w: list tools: %v", contractx.ErrConnection, err)
	}
	if len(tools) == 0 && r.requireTools {
		return contractx.ErrToolUnavailable
	}

	descriptors := make(map[string]ToolDescriptor, len(tools))
	for _, t := range tools {
		d, err := DescriptorFromMCP(t)
		if err != nil {
			return err
		}
		if _, dup := descriptors[d.Name]; dup {
			return fmt.Errorf("%w: duplicate tool name %q", contractx.ErrSchemaViolation, d.Name)
		}
		descriptors[d.Name] = d
	}

	names := make([]string, 0, len(descriptors))
	for name := range descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, descriptors[name].Info())
	}

	r.mu.Lock()
	r.descriptors = descriptors
	r.infos = infos
	r.mu.Unlock()

	log.Info().Int("tools", len(descriptors)).Strs("names", names).Msg("tool registry populated")
	return nil
}

// Descriptors returns the catalog sorted by name.
func (r *Registry) Descriptors() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Infos() []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*schema.ToolInfo(nil), r.infos...)
}

func (r *Registry) Lookup(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// Invoke validates args and performs exactly one remote call. The returned payload is
// the remote text content, untouched.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	d, ok := r.Lookup(name)
	if !ok {
		metricsx.ToolInvocations.WithLabelValues(name, "unknown").Inc()
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := d.Validate(args); err != nil {
		metricsx.ToolInvocations.WithLabelValues(name, "invalid").Inc()
		return nil, err
	}

	started := time.Now()
	res, err := r.transport.CallTool(ctx, name, args)
	metricsx.ToolLatency.WithLabelValues(name).Observe(time.Since(started).Seconds())
	if err != nil {
		metricsx.ToolInvocations.WithLabelValues(name, "transport_error").Inc()
		if errors.Is(err, contractx.ErrConnection) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: call %s: %v", contractx.ErrConnection, name, err)
	}
	if res == nil {
		metricsx.ToolInvocations.WithLabelValues(name, "tool_error").Inc()
		return nil, fmt.Errorf("%w: tool=%s returned no result", contractx.ErrToolFailed, name)
	}

	text := ContentText(res.Content)
	if res.IsError {
		metricsx.ToolInvocations.WithLabelValues(name, "tool_error").Inc()
		return nil, fmt.Errorf("%w: tool=%s: %s", contractx.ErrToolFailed, name, text)
	}

	metricsx.ToolInvocations.WithLabelValues(name, "ok").Inc()
	return text, nil
}

func (r *Registry) Close() error {
	return r.transport.Close()
}
