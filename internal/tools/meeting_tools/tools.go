package meeting_tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/meetnotes/internal/calendar"
	"github.com/teemow/meetnotes/internal/manager"
	"github.com/teemow/meetnotes/internal/server"
	"github.com/teemow/meetnotes/internal/store"
	"github.com/teemow/meetnotes/internal/tools/common"
)

// RegisterMeetingTools registers the direct session tools with the MCP
// server. Join and leave mutate sessions and are skipped in read-only
// mode.
func RegisterMeetingTools(s *mcpserver.MCPServer, ac *server.AppContext, readOnly bool) error {
	sessionsTool := mcp.NewTool("sessions_list",
		mcp.WithDescription("List the active meeting sessions with their state and last caption activity"),
	)
	s.AddTool(sessionsTool, common.InstrumentedToolHandler("sessions_list", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSessionsList(ctx, request, ac)
		}))

	if readOnly {
		return nil
	}

	joinTool := mcp.NewTool("meeting_join_url",
		mcp.WithDescription("Join a Google Meet meeting directly by URL, bypassing the scheduler"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Full Meet URL (e.g., 'https://meet.google.com/abc-defg-hij')"),
		),
		mcp.WithString("title",
			mcp.Description("Meeting title for the notes record (optional)"),
		),
		mcp.WithString("mode",
			mcp.Description("Bot mode: 'notes' or 'interactive' (default: 'notes')"),
		),
	)
	s.AddTool(joinTool, common.InstrumentedToolHandler("meeting_join_url", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleJoinURL(ctx, request, ac)
		}))

	leaveTool := mcp.NewTool("meeting_leave",
		mcp.WithDescription("Leave a meeting session and finalize its transcript"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier from sessions_list (e.g., 'session-abc-defg-hij')"),
		),
	)
	s.AddTool(leaveTool, common.InstrumentedToolHandler("meeting_leave", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleLeave(ctx, request, ac)
		}))

	return nil
}

func getManager(ac *server.AppContext) (*manager.Manager, *mcp.CallToolResult) {
	mgr := ac.Manager()
	if mgr == nil {
		return nil, mcp.NewToolResultError("the session manager is not available")
	}
	return mgr, nil
}

func handleSessionsList(_ context.Context, _ mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	mgr, errResult := getManager(ac)
	if errResult != nil {
		return errResult, nil
	}

	sessions := mgr.Sessions()
	if len(sessions) == 0 {
		return mcp.NewToolResultText("No active sessions"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Active sessions (%d):\n\n", len(sessions)))
	for i, s := range sessions {
		result.WriteString(fmt.Sprintf("%d. %s\n", i+1, s.SessionID))
		result.WriteString(fmt.Sprintf("   Meeting: %s\n", s.MeetCode))
		result.WriteString(fmt.Sprintf("   State: %s\n", s.State))
		result.WriteString(fmt.Sprintf("   Joined: %s\n", s.JoinedAt.Format(time.RFC1123)))
		if !s.ScheduledEnd.IsZero() {
			result.WriteString(fmt.Sprintf("   Scheduled End: %s\n", s.ScheduledEnd.Format(time.RFC1123)))
		}
		if !s.LastActivity.IsZero() {
			result.WriteString(fmt.Sprintf("   Last Caption: %s\n", s.LastActivity.Format(time.RFC1123)))
		}
		result.WriteString("\n")
	}

	return mcp.NewToolResultText(result.String()), nil
}

func handleJoinURL(ctx context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	mgr, errResult := getManager(ac)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()
	url, ok := args["url"].(string)
	if !ok || url == "" {
		return mcp.NewToolResultError("url is required"), nil
	}

	code := calendar.MeetCode(url)
	if code == "" {
		return mcp.NewToolResultError(fmt.Sprintf("not a Meet URL: %s", url)), nil
	}

	meeting := store.Meeting{
		EventID:    "manual-" + code,
		CalendarID: "manual",
		Title:      "Manual join " + code,
		MeetURL:    url,
		Mode:       "notes",
	}
	if title, ok := args["title"].(string); ok && title != "" {
		meeting.Title = title
	}
	if mode, ok := args["mode"].(string); ok && mode != "" {
		if mode != "notes" && mode != "interactive" {
			return mcp.NewToolResultError(fmt.Sprintf("invalid mode %q, must be 'notes' or 'interactive'", mode)), nil
		}
		meeting.Mode = mode
	}

	sessionID, err := mgr.JoinMeeting(ctx, meeting)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to join meeting: %v", err)), nil
	}

	result := fmt.Sprintf("Joined meeting %s\n", code)
	result += fmt.Sprintf("Session: %s\n", sessionID)
	result += fmt.Sprintf("Mode: %s\n", meeting.Mode)

	return mcp.NewToolResultText(result), nil
}

func handleLeave(ctx context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	mgr, errResult := getManager(ac)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()
	sessionID, ok := args["session_id"].(string)
	if !ok || sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	summary, err := mgr.LeaveMeeting(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to leave meeting: %v", err)), nil
	}

	result := fmt.Sprintf("Left meeting %s\n", summary.MeetCode)
	result += fmt.Sprintf("Duration: %s\n", summary.Duration.Truncate(time.Second))
	result += fmt.Sprintf("Transcript entries: %d\n", summary.Transcripts)
	if len(summary.Errors) > 0 {
		result += "Errors during the session:\n"
		for _, e := range summary.Errors {
			result += "  - " + e + "\n"
		}
	}

	return mcp.NewToolResultText(result), nil
}
