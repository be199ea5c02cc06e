package toolserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Studio-Agent/toolserver/studio"
)

func (h *handlers) registerStudioTools(s *server.MCPServer) {
	s.AddTool(
		mcp.NewTool("get_classes",
			mcp.WithDescription("Get classes for the given parameters."),
			mcp.WithString("start_date", mcp.Description("ISO start date (YYYY-MM-DD)")),
			mcp.WithString("end_date", mcp.Description("ISO end date (YYYY-MM-DD)")),
			mcp.WithArray("studio_uuids", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Studios to search; home studio when omitted")),
			mcp.WithBoolean("include_home_studio", mcp.Description("Also include the member's home studio")),
		),
		h.getClasses,
	)
	s.AddTool(
		mcp.NewTool("get_bookings",
			mcp.WithDescription("Get the bookings for the user. If no dates are provided, it will return all bookings between today and 45 days from now."),
			mcp.WithString("start_date", mcp.Description("ISO start date (YYYY-MM-DD)")),
			mcp.WithString("end_date", mcp.Description("ISO end date (YYYY-MM-DD)")),
			mcp.WithBoolean("exclude_cancelled", mcp.Description("Skip cancelled bookings, default true")),
		),
		h.getBookings,
	)
	s.AddTool(
		mcp.NewTool("get_booking",
			mcp.WithDescription("Get a specific booking by booking_id."),
			mcp.WithString("booking_id", mcp.Required()),
		),
		h.getBooking,
	)
	s.AddTool(
		mcp.NewTool("book_class",
			mcp.WithDescription("Book a class by class ID."),
			mcp.WithString("class_id", mcp.Required()),
		),
		h.bookClass,
	)
	s.AddTool(
		mcp.NewTool("cancel_booking",
			mcp.WithDescription("Cancel a booking by booking ID."),
			mcp.WithString("booking_id", mcp.Required()),
		),
		h.cancelBooking,
	)
	s.AddTool(
		mcp.NewTool("get_studio_detail",
			mcp.WithDescription("Get details for a specific studio by UUID. Returns the home studio when no UUID is given."),
			mcp.WithString("studio_uuid"),
		),
		h.getStudioDetail,
	)
	s.AddTool(
		mcp.NewTool("search_studios_by_geo",
			mcp.WithDescription("Search for studios by geographic coordinates and distance in miles."),
			mcp.WithNumber("latitude", mcp.Required()),
			mcp.WithNumber("longitude", mcp.Required()),
			mcp.WithNumber("distance", mcp.Description("Search radius in miles, default 50")),
		),
		h.searchStudios,
	)
	s.AddTool(
		mcp.NewTool("get_favorite_studios",
			mcp.WithDescription("Get the user's favorite studios."),
		),
		h.getFavoriteStudios,
	)
	s.AddTool(
		mcp.NewTool("get_member_stats",
			mcp.WithDescription("Get the member's lifetime workout stats, in studio or out of studio."),
			mcp.WithString("select_time", mcp.Description("all_time, this_year, this_month or last_month")),
			mcp.WithBoolean("in_studio", mcp.Description("In-studio stats when true (default), out-of-studio otherwise")),
		),
		h.getMemberStats,
	)
	s.AddTool(
		mcp.NewTool("get_booking_from_class",
			mcp.WithDescription("Get the member's booking for a class by class ID."),
			mcp.WithString("class_id", mcp.Required()),
		),
		h.getBookingFromClass,
	)
	s.AddTool(
		mcp.NewTool("get_studio_services",
			mcp.WithDescription("Get services offered by a specific studio. Uses the home studio when no UUID is given."),
			mcp.WithString("studio_uuid"),
		),
		h.getStudioServices,
	)
	s.AddTool(
		mcp.NewTool("get_member_services",
			mcp.WithDescription("Get the user's member services, optionally filtering for active only."),
			mcp.WithBoolean("active_only", mcp.Description("Only active services, default true")),
		),
		h.getMemberServices,
	)
}

func (h *handlers) getClasses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := studio.ClassQuery{
		StartDate:   req.GetString("start_date", ""),
		EndDate:     req.GetString("end_date", ""),
		StudioUUIDs: req.GetStringSlice("studio_uuids", nil),
	}
	if _, ok := req.GetArguments()["include_home_studio"]; ok {
		v := req.GetBool("include_home_studio", false)
		q.IncludeHomeStudio = &v
	}
	return passThrough("get_classes")(h.api.GetClasses(ctx, q))
}

func (h *handlers) getBookings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return passThrough("get_bookings")(h.api.GetBookings(ctx, studio.BookingQuery{
		StartDate:        req.GetString("start_date", ""),
		EndDate:          req.GetString("end_date", ""),
		ExcludeCancelled: req.GetBool("exclude_cancelled", true),
	}))
}

func (h *handlers) getBooking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("booking_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return passThrough("get_booking")(h.api.GetBooking(ctx, id))
}

func (h *handlers) bookClass(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("class_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return passThrough("book_class")(h.api.BookClass(ctx, id))
}

func (h *handlers) cancelBooking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("booking_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return passThrough("cancel_booking")(h.api.CancelBooking(ctx, id))
}

func (h *handlers) getStudioDetail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return passThrough("get_studio_detail")(h.api.GetStudioDetail(ctx, req.GetString("studio_uuid", "")))
}

func (h *handlers) searchStudios(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lat, err := req.RequireFloat("latitude")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lng, err := req.RequireFloat("longitude")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return passThrough("search_studios_by_geo")(h.api.SearchStudios(ctx, lat, lng, req.GetInt("distance", 50)))
}

func (h *handlers) getFavoriteStudios(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return passThrough("get_favorite_studios")(h.api.GetFavoriteStudios(ctx))
}

func (h *handlers) getMemberStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return passThrough("get_member_stats")(h.api.GetMemberStats(ctx,
		req.GetString("select_time", "all_time"),
		req.GetBool("in_studio", true),
	))
}

func (h *handlers) getBookingFromClass(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("class_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return passThrough("get_booking_from_class")(h.api.GetBookingFromClass(ctx, id))
}

func (h *handlers) getStudioServices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return passThrough("get_studio_services")(h.api.GetStudioServices(ctx, req.GetString("studio_uuid", "")))
}

func (h *handlers) getMemberServices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return passThrough("get_member_services")(h.api.GetMemberServices(ctx, req.GetBool("active_only", true)))
}

// passThrough returns the API payload verbatim; API failures become tool errors so the
// agent can explain them instead of treating them as a broken connection.
func passThrough(tool string) func(json.RawMessage, error) (*mcp.CallToolResult, error) {
	return func(raw json.RawMessage, err error) (*mcp.CallToolResult, error) {
		if err != nil {
			var apiErr *studio.APIError
			switch {
			case errors.As(err, &apiErr):
				log.Warn().Str("tool", tool).Int("status", apiErr.StatusCode).Msg("studio api rejected call")
			default:
				log.Error().Err(err).Str("tool", tool).Msg("studio api call failed")
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(raw)), nil
	}
}
