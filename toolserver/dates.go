package toolserver

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const isoDate = "2006-01-02"

func (h *handlers) registerDateTools(s *server.MCPServer) {
	s.AddTool(
		mcp.NewTool("get_today_date",
			mcp.WithDescription("Returns today's date as an ISO string (YYYY-MM-DD)."),
		),
		h.todayDate,
	)
	s.AddTool(
		mcp.NewTool("get_tomorrow_date",
			mcp.WithDescription("Returns tomorrow's date as an ISO string (YYYY-MM-DD)."),
		),
		h.tomorrowDate,
	)
	s.AddTool(
		mcp.NewTool("get_date_offset",
			mcp.WithDescription("Returns the date offset by a given number of days from today as an ISO string (YYYY-MM-DD). Positive for future, negative for past."),
			mcp.WithNumber("days", mcp.Required(), integer(), mcp.Description("Number of days from today")),
		),
		h.dateOffset,
	)
}

func (h *handlers) today() time.Time {
	return h.now().In(h.loc)
}

func (h *handlers) todayDate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(h.today().Format(isoDate)), nil
}

func (h *handlers) tomorrowDate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(h.today().AddDate(0, 0, 1).Format(isoDate)), nil
}

func (h *handlers) dateOffset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days, err := req.RequireFloat("days")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if days != math.Trunc(days) {
		return mcp.NewToolResultError(fmt.Sprintf("days must be a whole number, got %v", days)), nil
	}
	return mcp.NewToolResultText(h.today().AddDate(0, 0, int(days)).Format(isoDate)), nil
}

// integer narrows a number property to JSON Schema "integer".
func integer() mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["type"] = "integer"
	}
}
