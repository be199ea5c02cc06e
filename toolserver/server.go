package toolserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/tanpawarit/Chative-Studio-Agent/toolserver/studio"
)

const (
	ServerName    = "Studio MCP Server"
	ServerVersion = "1.0.0"
)

type Config struct {
	Addr     string `default:":8000"`
	BaseURL  string `envconfig:"BASE_URL" split_words:"true" default:"http://localhost:8000"`
	Timezone string `default:"UTC"`
}

// StudioAPI is the member studio API the tools pass through to.
type StudioAPI interface {
	GetClasses(ctx context.Context, q studio.ClassQuery) (json.RawMessage, error)
	GetBookings(ctx context.Context, q studio.BookingQuery) (json.RawMessage, error)
	GetBooking(ctx context.Context, bookingID string) (json.RawMessage, error)
	BookClass(ctx context.Context, classID string) (json.RawMessage, error)
	CancelBooking(ctx context.Context, bookingID string) (json.RawMessage, error)
	GetStudioDetail(ctx context.Context, studioUUID string) (json.RawMessage, error)
	SearchStudios(ctx context.Context, latitude, longitude float64, distanceMiles int) (json.RawMessage, error)
	GetFavoriteStudios(ctx context.Context) (json.RawMessage, error)
	GetMemberStats(ctx context.Context, selectTime string, inStudio bool) (json.RawMessage, error)
	GetBookingFromClass(ctx context.Context, classID string) (json.RawMessage, error)
	GetStudioServices(ctx context.Context, studioUUID string) (json.RawMessage, error)
	GetMemberServices(ctx context.Context, activeOnly bool) (json.RawMessage, error)
}

var _ StudioAPI = (*studio.Client)(nil)

type Option func(*handlers)

// WithClock overrides the time source of the date tools.
func WithClock(now func() time.Time) Option {
	return func(h *handlers) {
		if now != nil {
			h.now = now
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(h *handlers) {
		if loc != nil {
			h.loc = loc
		}
	}
}

type handlers struct {
	api StudioAPI
	now func() time.Time
	loc *time.Location
}

// New builds the MCP server with every tool registered. A nil api registers only the
// tools that need no studio account.
func New(api StudioAPI, opts ...Option) *server.MCPServer {
	h := &handlers{
		api: api,
		now: time.Now,
		loc: time.UTC,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	s := server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	h.registerDateTools(s)
	if api != nil {
		h.registerStudioTools(s)
	}
	return s
}
