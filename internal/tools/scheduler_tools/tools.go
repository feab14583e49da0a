package scheduler_tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/meetnotes/internal/scheduler"
	"github.com/teemow/meetnotes/internal/server"
	"github.com/teemow/meetnotes/internal/tools/common"
)

// RegisterSchedulerTools registers the meeting scheduling tools with
// the MCP server. Status is read-only; everything else mutates
// scheduler state and is skipped in read-only mode.
func RegisterSchedulerTools(s *mcpserver.MCPServer, ac *server.AppContext, readOnly bool) error {
	statusTool := mcp.NewTool("meetings_status",
		mcp.WithDescription("Show the scheduler state: the active meeting, upcoming tracked meetings with their approval status, and recent errors"),
	)
	s.AddTool(statusTool, common.InstrumentedToolHandler("meetings_status", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleMeetingsStatus(ctx, request, ac)
		}))

	if readOnly {
		return nil
	}

	approveTool := mcp.NewTool("meeting_approve",
		mcp.WithDescription("Approve a meeting so the bot joins it when its join window opens. Also re-arms a failed meeting with a fresh attempt budget."),
		mcp.WithString("meet_code",
			mcp.Required(),
			mcp.Description("Meeting code from the Meet URL (e.g., 'abc-defg-hij')"),
		),
	)
	s.AddTool(approveTool, common.InstrumentedToolHandler("meeting_approve", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleTransition(ctx, request, ac, "approved", func(sched *scheduler.Scheduler, code string) error {
				return sched.Approve(code)
			})
		}))

	skipTool := mcp.NewTool("meeting_skip",
		mcp.WithDescription("Skip a meeting so the bot never joins it. The decision persists across daemon restarts."),
		mcp.WithString("meet_code",
			mcp.Required(),
			mcp.Description("Meeting code from the Meet URL (e.g., 'abc-defg-hij')"),
		),
	)
	s.AddTool(skipTool, common.InstrumentedToolHandler("meeting_skip", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleTransition(ctx, request, ac, "skipped", func(sched *scheduler.Scheduler, code string) error {
				return sched.Skip(code)
			})
		}))

	unapproveTool := mcp.NewTool("meeting_unapprove",
		mcp.WithDescription("Revert an approved meeting to scheduled and drop the persisted approval"),
		mcp.WithString("meet_code",
			mcp.Required(),
			mcp.Description("Meeting code from the Meet URL (e.g., 'abc-defg-hij')"),
		),
	)
	s.AddTool(unapproveTool, common.InstrumentedToolHandler("meeting_unapprove", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleTransition(ctx, request, ac, "scheduled", func(sched *scheduler.Scheduler, code string) error {
				return sched.Unapprove(code)
			})
		}))

	forceJoinTool := mcp.NewTool("meeting_force_join",
		mcp.WithDescription("Join a tracked meeting immediately, ignoring the join window. Refused while another meeting is active."),
		mcp.WithString("meet_code",
			mcp.Required(),
			mcp.Description("Meeting code from the Meet URL (e.g., 'abc-defg-hij')"),
		),
	)
	s.AddTool(forceJoinTool, common.InstrumentedToolHandler("meeting_force_join", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleForceJoin(ctx, request, ac)
		}))

	setModeTool := mcp.NewTool("meeting_set_mode",
		mcp.WithDescription("Change the bot mode for a meeting that has not started yet"),
		mcp.WithString("meet_code",
			mcp.Required(),
			mcp.Description("Meeting code from the Meet URL (e.g., 'abc-defg-hij')"),
		),
		mcp.WithString("mode",
			mcp.Required(),
			mcp.Description("Bot mode: 'notes' (silent note-taking) or 'interactive' (responds to the wake phrase)"),
		),
	)
	s.AddTool(setModeTool, common.InstrumentedToolHandler("meeting_set_mode", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSetMode(ctx, request, ac)
		}))

	return nil
}

func getScheduler(ac *server.AppContext) (*scheduler.Scheduler, *mcp.CallToolResult) {
	sched := ac.Scheduler()
	if sched == nil {
		return nil, mcp.NewToolResultError("the scheduler is not running (daemon mode only)")
	}
	return sched, nil
}

func getMeetCode(args map[string]interface{}) (string, *mcp.CallToolResult) {
	code, ok := args["meet_code"].(string)
	if !ok || code == "" {
		return "", mcp.NewToolResultError("meet_code is required")
	}
	return code, nil
}

func handleMeetingsStatus(_ context.Context, _ mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	sched, errResult := getScheduler(ac)
	if errResult != nil {
		return errResult, nil
	}

	snap := sched.Status()

	var result strings.Builder
	if snap.Running {
		result.WriteString("Scheduler: running\n\n")
	} else {
		result.WriteString("Scheduler: stopped\n\n")
	}

	if snap.Current != nil {
		result.WriteString("Active meeting:\n")
		writeMeeting(&result, *snap.Current)
		result.WriteString("\n")
	} else {
		result.WriteString("No active meeting.\n\n")
	}

	if len(snap.Upcoming) == 0 {
		result.WriteString("No upcoming meetings tracked.\n")
	} else {
		result.WriteString(fmt.Sprintf("Tracked meetings (%d):\n\n", len(snap.Upcoming)))
		for i, m := range snap.Upcoming {
			result.WriteString(fmt.Sprintf("%d. ", i+1))
			writeMeeting(&result, m)
			result.WriteString("\n")
		}
	}

	if len(snap.Errors) > 0 {
		result.WriteString("\nRecent errors:\n")
		for _, e := range snap.Errors {
			result.WriteString("  - " + e + "\n")
		}
	}

	return mcp.NewToolResultText(result.String()), nil
}

func writeMeeting(b *strings.Builder, m scheduler.ScheduledMeeting) {
	b.WriteString(fmt.Sprintf("%s (%s)\n", m.Title, m.MeetCode))
	b.WriteString(fmt.Sprintf("   Status: %s\n", m.Status))
	b.WriteString(fmt.Sprintf("   Start: %s\n", m.Start.Format(time.RFC1123)))
	b.WriteString(fmt.Sprintf("   End: %s\n", m.End.Format(time.RFC1123)))
	if m.Organizer != "" {
		b.WriteString(fmt.Sprintf("   Organizer: %s\n", m.Organizer))
	}
	b.WriteString(fmt.Sprintf("   Mode: %s\n", m.Mode))
	if m.JoinAttempts > 0 {
		b.WriteString(fmt.Sprintf("   Join Attempts: %d\n", m.JoinAttempts))
	}
	if m.LastError != "" {
		b.WriteString(fmt.Sprintf("   Last Error: %s\n", m.LastError))
	}
}

func handleTransition(_ context.Context, request mcp.CallToolRequest, ac *server.AppContext, to string, op func(*scheduler.Scheduler, string) error) (*mcp.CallToolResult, error) {
	sched, errResult := getScheduler(ac)
	if errResult != nil {
		return errResult, nil
	}

	code, errResult := getMeetCode(request.GetArguments())
	if errResult != nil {
		return errResult, nil
	}

	if err := op(sched, code); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Meeting %s is now %s", code, to)), nil
}

func handleForceJoin(ctx context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	sched, errResult := getScheduler(ac)
	if errResult != nil {
		return errResult, nil
	}

	code, errResult := getMeetCode(request.GetArguments())
	if errResult != nil {
		return errResult, nil
	}

	if err := sched.ForceJoin(ctx, code); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Joined meeting %s", code)), nil
}

func handleSetMode(_ context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	sched, errResult := getScheduler(ac)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()
	code, errResult := getMeetCode(args)
	if errResult != nil {
		return errResult, nil
	}

	mode, ok := args["mode"].(string)
	if !ok || mode == "" {
		return mcp.NewToolResultError("mode is required"), nil
	}
	if mode != "notes" && mode != "interactive" {
		return mcp.NewToolResultError(fmt.Sprintf("invalid mode %q, must be 'notes' or 'interactive'", mode)), nil
	}

	if err := sched.SetMode(code, mode); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Meeting %s mode set to %s", code, mode)), nil
}
