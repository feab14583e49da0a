package calendar_tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/meetnotes/internal/instrumentation"
	"github.com/teemow/meetnotes/internal/server"
	"github.com/teemow/meetnotes/internal/store"
	"github.com/teemow/meetnotes/internal/tools/common"
)

// RegisterCalendarTools registers the calendar registry tools with the
// MCP server. Add/remove are write operations and are skipped in
// read-only mode.
func RegisterCalendarTools(s *mcpserver.MCPServer, ac *server.AppContext, readOnly bool) error {
	listTool := mcp.NewTool("calendars_list",
		mcp.WithDescription("List the calendars monitored for meetings, including their auto-join policy and bot mode"),
	)
	s.AddTool(listTool, common.InstrumentedToolHandlerWithService(
		"calendars_list", instrumentation.ServiceCalendar, instrumentation.OperationList, ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCalendarsList(ctx, request, ac)
		}))

	if readOnly {
		return nil
	}

	addTool := mcp.NewTool("calendars_add",
		mcp.WithDescription("Add a calendar to monitor for meetings. The scheduler polls it for upcoming Meet events."),
		mcp.WithString("calendar_id",
			mcp.Required(),
			mcp.Description("Calendar identifier, usually the account email (e.g., 'work@example.com')"),
		),
		mcp.WithString("name",
			mcp.Description("Display name for the calendar (optional)"),
		),
		mcp.WithBoolean("auto_join",
			mcp.Description("Automatically approve meetings from this calendar (default: false)"),
		),
		mcp.WithString("bot_mode",
			mcp.Description("Default bot mode for meetings from this calendar: 'notes' or 'interactive' (default: 'notes')"),
		),
	)
	s.AddTool(addTool, common.InstrumentedToolHandlerWithService(
		"calendars_add", instrumentation.ServiceCalendar, instrumentation.OperationCreate, ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCalendarsAdd(ctx, request, ac)
		}))

	removeTool := mcp.NewTool("calendars_remove",
		mcp.WithDescription("Stop monitoring a calendar. Already-tracked meetings are kept until they expire."),
		mcp.WithString("calendar_id",
			mcp.Required(),
			mcp.Description("Calendar identifier to remove"),
		),
	)
	s.AddTool(removeTool, common.InstrumentedToolHandlerWithService(
		"calendars_remove", instrumentation.ServiceCalendar, instrumentation.OperationDelete, ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCalendarsRemove(ctx, request, ac)
		}))

	return nil
}

func handleCalendarsList(ctx context.Context, _ mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	st := ac.Store()
	if st == nil {
		return mcp.NewToolResultError("notes database is not available"), nil
	}

	cals, err := st.ListCalendars(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list calendars: %v", err)), nil
	}

	if len(cals) == 0 {
		return mcp.NewToolResultText("No calendars are being monitored. Use calendars_add to add one."), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Monitoring %d calendar(s):\n\n", len(cals)))
	for i, cal := range cals {
		result.WriteString(fmt.Sprintf("%d. %s\n", i+1, cal.ID))
		if cal.Name != "" {
			result.WriteString(fmt.Sprintf("   Name: %s\n", cal.Name))
		}
		result.WriteString(fmt.Sprintf("   Auto-Join: %v\n", cal.AutoJoin))
		result.WriteString(fmt.Sprintf("   Bot Mode: %s\n", cal.BotMode))
		result.WriteString(fmt.Sprintf("   Enabled: %v\n", cal.Enabled))
		result.WriteString("\n")
	}

	return mcp.NewToolResultText(result.String()), nil
}

func handleCalendarsAdd(ctx context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	calendarID, ok := args["calendar_id"].(string)
	if !ok || calendarID == "" {
		return mcp.NewToolResultError("calendar_id is required"), nil
	}

	st := ac.Store()
	if st == nil {
		return mcp.NewToolResultError("notes database is not available"), nil
	}

	cal := store.Calendar{
		ID:      calendarID,
		BotMode: "notes",
		Enabled: true,
	}
	if name, ok := args["name"].(string); ok {
		cal.Name = name
	}
	if autoJoin, ok := args["auto_join"].(bool); ok {
		cal.AutoJoin = autoJoin
	}
	if mode, ok := args["bot_mode"].(string); ok && mode != "" {
		if mode != "notes" && mode != "interactive" {
			return mcp.NewToolResultError(fmt.Sprintf("invalid bot_mode %q, must be 'notes' or 'interactive'", mode)), nil
		}
		cal.BotMode = mode
	}

	if err := st.AddCalendar(ctx, cal); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to add calendar: %v", err)), nil
	}

	// Pick up the new calendar's meetings right away.
	if sched := ac.Scheduler(); sched != nil {
		sched.Poll(ctx)
	}

	result := fmt.Sprintf("Now monitoring calendar %s\n", cal.ID)
	result += fmt.Sprintf("Auto-Join: %v\n", cal.AutoJoin)
	result += fmt.Sprintf("Bot Mode: %s\n", cal.BotMode)

	return mcp.NewToolResultText(result), nil
}

func handleCalendarsRemove(ctx context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	calendarID, ok := args["calendar_id"].(string)
	if !ok || calendarID == "" {
		return mcp.NewToolResultError("calendar_id is required"), nil
	}

	st := ac.Store()
	if st == nil {
		return mcp.NewToolResultError("notes database is not available"), nil
	}

	if err := st.RemoveCalendar(ctx, calendarID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to remove calendar: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Stopped monitoring calendar %s", calendarID)), nil
}
