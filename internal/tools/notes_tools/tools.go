package notes_tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/meetnotes/internal/server"
	"github.com/teemow/meetnotes/internal/store"
	"github.com/teemow/meetnotes/internal/tools/common"
)

const defaultSearchLimit = 20

// RegisterNotesTools registers the notes database tools with the MCP
// server. Search and retrieval are read-only; only the summary update
// is skipped in read-only mode.
func RegisterNotesTools(s *mcpserver.MCPServer, ac *server.AppContext, readOnly bool) error {
	searchTool := mcp.NewTool("notes_search",
		mcp.WithDescription("Full-text search over all captured meeting transcripts"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search terms (FTS5 syntax, e.g., 'budget OR forecast')"),
		),
		mcp.WithString("meeting_id",
			mcp.Description("Restrict the search to one meeting (id from notes_list_meetings)"),
		),
		mcp.WithString("limit",
			mcp.Description(fmt.Sprintf("Maximum results to return (default: %d)", defaultSearchLimit)),
		),
	)
	s.AddTool(searchTool, common.InstrumentedToolHandler("notes_search", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleNotesSearch(ctx, request, ac)
		}))

	listTool := mcp.NewTool("notes_list_meetings",
		mcp.WithDescription("List recorded meetings, newest first"),
		mcp.WithString("limit",
			mcp.Description("Maximum meetings to return (default: 20)"),
		),
	)
	s.AddTool(listTool, common.InstrumentedToolHandler("notes_list_meetings", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleNotesListMeetings(ctx, request, ac)
		}))

	getTool := mcp.NewTool("notes_get_meeting",
		mcp.WithDescription("Get one recorded meeting with its full transcript"),
		mcp.WithString("meeting_id",
			mcp.Required(),
			mcp.Description("Meeting id from notes_list_meetings or notes_search"),
		),
	)
	s.AddTool(getTool, common.InstrumentedToolHandler("notes_get_meeting", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleNotesGetMeeting(ctx, request, ac)
		}))

	if readOnly {
		return nil
	}

	summaryTool := mcp.NewTool("notes_set_summary",
		mcp.WithDescription("Attach a summary, action items, and tags to a recorded meeting"),
		mcp.WithString("meeting_id",
			mcp.Required(),
			mcp.Description("Meeting id from notes_list_meetings"),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Summary text for the meeting"),
		),
		mcp.WithString("action_items",
			mcp.Description("Action items, one per line or comma-separated"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags"),
		),
	)
	s.AddTool(summaryTool, common.InstrumentedToolHandler("notes_set_summary", ac,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleNotesSetSummary(ctx, request, ac)
		}))

	return nil
}

func getStore(ac *server.AppContext) (*store.Store, *mcp.CallToolResult) {
	st := ac.Store()
	if st == nil {
		return nil, mcp.NewToolResultError("notes database is not available")
	}
	return st, nil
}

// parseID accepts the id as a string or a JSON number.
func parseID(args map[string]interface{}, key string) (int64, *mcp.CallToolResult) {
	switch v := args[key].(type) {
	case string:
		if v == "" {
			break
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, mcp.NewToolResultError(fmt.Sprintf("invalid %s: %s", key, v))
		}
		return id, nil
	case float64:
		return int64(v), nil
	}
	return 0, mcp.NewToolResultError(key + " is required")
}

func parseLimit(args map[string]interface{}, fallback int) int {
	switch v := args["limit"].(type) {
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

func handleNotesSearch(ctx context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	st, errResult := getStore(ac)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	var meetingID int64
	if _, present := args["meeting_id"]; present {
		id, errResult := parseID(args, "meeting_id")
		if errResult != nil {
			return errResult, nil
		}
		meetingID = id
	}

	hits, err := st.SearchTranscripts(ctx, query, meetingID, parseLimit(args, defaultSearchLimit))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No transcripts match %q", query)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d matching transcript entries:\n\n", len(hits)))
	for i, hit := range hits {
		result.WriteString(fmt.Sprintf("%d. [%s] %s (meeting %d)\n", i+1,
			hit.Timestamp.Format("2006-01-02 15:04"), hit.MeetingTitle, hit.MeetingID))
		result.WriteString(fmt.Sprintf("   %s: %s\n\n", hit.Speaker, hit.Text))
	}

	return mcp.NewToolResultText(result.String()), nil
}

func handleNotesListMeetings(ctx context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	st, errResult := getStore(ac)
	if errResult != nil {
		return errResult, nil
	}

	meetings, err := st.ListMeetings(ctx, parseLimit(request.GetArguments(), 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list meetings: %v", err)), nil
	}
	if len(meetings) == 0 {
		return mcp.NewToolResultText("No meetings recorded"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Recorded meetings (%d):\n\n", len(meetings)))
	for _, m := range meetings {
		result.WriteString(fmt.Sprintf("%d. %s\n", m.ID, m.Title))
		result.WriteString(fmt.Sprintf("   Status: %s\n", m.Status))
		if !m.ActualStart.IsZero() {
			result.WriteString(fmt.Sprintf("   Started: %s\n", m.ActualStart.Format(time.RFC1123)))
		}
		if m.Organizer != "" {
			result.WriteString(fmt.Sprintf("   Organizer: %s\n", m.Organizer))
		}
		if m.Summary != "" {
			result.WriteString(fmt.Sprintf("   Summary: %s\n", m.Summary))
		}
		result.WriteString("\n")
	}

	return mcp.NewToolResultText(result.String()), nil
}

func handleNotesGetMeeting(ctx context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	st, errResult := getStore(ac)
	if errResult != nil {
		return errResult, nil
	}

	id, errResult := parseID(request.GetArguments(), "meeting_id")
	if errResult != nil {
		return errResult, nil
	}

	meeting, err := st.GetMeeting(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get meeting: %v", err)), nil
	}
	transcripts, err := st.TranscriptsForMeeting(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load transcripts: %v", err)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s (meeting %d)\n", meeting.Title, meeting.ID))
	result.WriteString(fmt.Sprintf("Status: %s\n", meeting.Status))
	if !meeting.ActualStart.IsZero() {
		result.WriteString(fmt.Sprintf("Started: %s\n", meeting.ActualStart.Format(time.RFC1123)))
	}
	if !meeting.ActualEnd.IsZero() {
		result.WriteString(fmt.Sprintf("Ended: %s\n", meeting.ActualEnd.Format(time.RFC1123)))
	}
	if meeting.Organizer != "" {
		result.WriteString(fmt.Sprintf("Organizer: %s\n", meeting.Organizer))
	}
	if len(meeting.Attendees) > 0 {
		result.WriteString(fmt.Sprintf("Attendees: %s\n", strings.Join(meeting.Attendees, ", ")))
	}
	if meeting.Summary != "" {
		result.WriteString("\nSummary:\n" + meeting.Summary + "\n")
	}
	if len(meeting.ActionItems) > 0 {
		result.WriteString("\nAction items:\n")
		for _, item := range meeting.ActionItems {
			result.WriteString("  - " + item + "\n")
		}
	}
	if len(meeting.Tags) > 0 {
		result.WriteString("\nTags: " + strings.Join(meeting.Tags, ", ") + "\n")
	}

	if len(transcripts) == 0 {
		result.WriteString("\nNo transcript entries.\n")
	} else {
		result.WriteString(fmt.Sprintf("\nTranscript (%d entries):\n", len(transcripts)))
		for _, row := range transcripts {
			result.WriteString(fmt.Sprintf("[%s] %s: %s\n",
				row.Timestamp.Format("15:04:05"), row.Speaker, row.Text))
		}
	}

	return mcp.NewToolResultText(result.String()), nil
}

func handleNotesSetSummary(ctx context.Context, request mcp.CallToolRequest, ac *server.AppContext) (*mcp.CallToolResult, error) {
	st, errResult := getStore(ac)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()
	id, errResult := parseID(args, "meeting_id")
	if errResult != nil {
		return errResult, nil
	}
	summary, ok := args["summary"].(string)
	if !ok || summary == "" {
		return mcp.NewToolResultError("summary is required"), nil
	}

	var actionItems []string
	if raw, ok := args["action_items"].(string); ok && raw != "" {
		actionItems = splitList(raw)
	}
	var tags []string
	if raw, ok := args["tags"].(string); ok && raw != "" {
		tags = splitList(raw)
	}

	if err := st.UpdateMeetingSummary(ctx, id, summary, actionItems, tags); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update summary: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Summary saved for meeting %d", id)), nil
}

// splitList splits on newlines and commas and trims the pieces.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == ','
	}) {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
