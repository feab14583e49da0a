package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/meetnotes/internal/scheduler"
	"github.com/teemow/meetnotes/internal/server"
)

const recentMeetingsLimit = 10

// RegisterResources registers the read-only application resources.
// Resources complement the tools: clients that only need to observe
// state can read these without invoking anything.
func RegisterResources(s *mcpserver.MCPServer, ac *server.AppContext) error {
	statusResource := mcp.NewResource(
		"meetnotes://status",
		"Scheduler Status",
		mcp.WithResourceDescription("Current scheduler state: active meeting, upcoming tracked meetings, and recent errors"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(statusResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleStatus(ctx, request, ac)
	})

	recentResource := mcp.NewResource(
		"meetnotes://meetings/recent",
		"Recent Meetings",
		mcp.WithResourceDescription("The most recently recorded meetings with their summaries"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(recentResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleRecentMeetings(ctx, request, ac)
	})

	return nil
}

type statusPayload struct {
	Running  bool             `json:"running"`
	Current  *meetingPayload  `json:"current,omitempty"`
	Upcoming []meetingPayload `json:"upcoming"`
	Errors   []string         `json:"errors,omitempty"`
}

type meetingPayload struct {
	MeetCode  string    `json:"meet_code"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Mode      string    `json:"mode"`
	LastError string    `json:"last_error,omitempty"`
}

func handleStatus(_ context.Context, request mcp.ReadResourceRequest, ac *server.AppContext) ([]mcp.ResourceContents, error) {
	sched := ac.Scheduler()
	if sched == nil {
		return nil, fmt.Errorf("the scheduler is not running (daemon mode only)")
	}

	snap := sched.Status()
	payload := statusPayload{
		Running:  snap.Running,
		Upcoming: make([]meetingPayload, 0, len(snap.Upcoming)),
		Errors:   snap.Errors,
	}
	if snap.Current != nil {
		m := toMeetingPayload(*snap.Current)
		payload.Current = &m
	}
	for _, m := range snap.Upcoming {
		payload.Upcoming = append(payload.Upcoming, toMeetingPayload(m))
	}

	return jsonContents(request.Params.URI, payload)
}

func handleRecentMeetings(ctx context.Context, request mcp.ReadResourceRequest, ac *server.AppContext) ([]mcp.ResourceContents, error) {
	st := ac.Store()
	if st == nil {
		return nil, fmt.Errorf("notes database is not available")
	}

	meetings, err := st.ListMeetings(ctx, recentMeetingsLimit)
	if err != nil {
		return nil, fmt.Errorf("listing meetings: %w", err)
	}

	type recorded struct {
		ID       int64     `json:"id"`
		Title    string    `json:"title"`
		Status   string    `json:"status"`
		Started  time.Time `json:"started,omitempty"`
		Ended    time.Time `json:"ended,omitempty"`
		Summary  string    `json:"summary,omitempty"`
		Tags     []string  `json:"tags,omitempty"`
		Calendar string    `json:"calendar"`
	}

	payload := make([]recorded, 0, len(meetings))
	for _, m := range meetings {
		payload = append(payload, recorded{
			ID:       m.ID,
			Title:    m.Title,
			Status:   m.Status,
			Started:  m.ActualStart,
			Ended:    m.ActualEnd,
			Summary:  m.Summary,
			Tags:     m.Tags,
			Calendar: m.CalendarID,
		})
	}

	return jsonContents(request.Params.URI, payload)
}

func toMeetingPayload(m scheduler.ScheduledMeeting) meetingPayload {
	return meetingPayload{
		MeetCode:  m.MeetCode,
		Title:     m.Title,
		Status:    string(m.Status),
		Start:     m.Start,
		End:       m.End,
		Mode:      m.Mode,
		LastError: m.LastError,
	}
}

func jsonContents(uri string, payload any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
