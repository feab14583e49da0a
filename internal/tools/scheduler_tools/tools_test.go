package scheduler_tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/meetnotes/internal/calendar"
	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/notesbot"
	"github.com/teemow/meetnotes/internal/scheduler"
	"github.com/teemow/meetnotes/internal/server"
	"github.com/teemow/meetnotes/internal/store"
)

type fakeSource struct {
	meetings []calendar.Meeting
}

func (f *fakeSource) ListMeetings(_ context.Context, _ string, _, _ time.Time) ([]calendar.Meeting, error) {
	return f.meetings, nil
}

type fakeManager struct {
	joined []string
}

func (f *fakeManager) JoinMeeting(_ context.Context, m store.Meeting) (string, error) {
	code := calendar.MeetCode(m.MeetURL)
	f.joined = append(f.joined, code)
	return "session-" + code, nil
}

func (f *fakeManager) LeaveMeeting(_ context.Context, _ string) (notesbot.Summary, error) {
	return notesbot.Summary{}, nil
}

type fakeRegistry struct {
	cals []store.Calendar
}

func (f *fakeRegistry) ListCalendars(_ context.Context) ([]store.Calendar, error) {
	return f.cals, nil
}

func newTestAppContext(t *testing.T) (*server.AppContext, *fakeManager) {
	t.Helper()

	clk := clock.NewFake(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	overrides, err := scheduler.LoadOverrides(filepath.Join(t.TempDir(), "overrides.json"), clk)
	if err != nil {
		t.Fatalf("loading overrides: %v", err)
	}

	mgr := &fakeManager{}
	sched, err := scheduler.New(scheduler.Config{
		Source: &fakeSource{meetings: []calendar.Meeting{{
			EventID: "ev-1",
			Title:   "Weekly Sync",
			MeetURL: "https://meet.google.com/abc-defg-hij",
			Start:   clk.Now().Add(2 * time.Hour),
			End:     clk.Now().Add(3 * time.Hour),
		}}},
		Manager: mgr,
		Calendars: &fakeRegistry{cals: []store.Calendar{
			{ID: "work@example.com", Enabled: true, BotMode: "notes"},
		}},
		Overrides: overrides,
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("building scheduler: %v", err)
	}
	sched.Poll(context.Background())

	ac := server.NewAppContext(context.Background(), nil, nil, sched)
	t.Cleanup(func() { _ = ac.Shutdown() })
	return ac, mgr
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return text.Text
}

func requestFor(tool, code string) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: map[string]interface{}{"meet_code": code},
		},
	}
}

func TestHandleMeetingsStatus(t *testing.T) {
	ac, _ := newTestAppContext(t)

	result, err := handleMeetingsStatus(context.Background(), mcp.CallToolRequest{}, ac)
	if err != nil {
		t.Fatalf("handleMeetingsStatus() error = %v", err)
	}

	text := resultText(t, result)
	if !strings.Contains(text, "Weekly Sync (abc-defg-hij)") {
		t.Errorf("status missing tracked meeting: %s", text)
	}
	if !strings.Contains(text, "Status: scheduled") {
		t.Errorf("status missing scheduling state: %s", text)
	}
	if !strings.Contains(text, "No active meeting") {
		t.Errorf("status should report no active meeting: %s", text)
	}
}

func TestHandleApproveAndUnapprove(t *testing.T) {
	ac, _ := newTestAppContext(t)
	ctx := context.Background()

	result, err := handleTransition(ctx, requestFor("meeting_approve", "abc-defg-hij"), ac, "approved",
		func(s *scheduler.Scheduler, code string) error { return s.Approve(code) })
	if err != nil {
		t.Fatalf("approve error = %v", err)
	}
	if result.IsError {
		t.Fatalf("approve returned error result: %s", resultText(t, result))
	}

	snap := ac.Scheduler().Status()
	if len(snap.Upcoming) != 1 || snap.Upcoming[0].Status != scheduler.StatusApproved {
		t.Fatalf("meeting not approved: %+v", snap.Upcoming)
	}

	result, err = handleTransition(ctx, requestFor("meeting_unapprove", "abc-defg-hij"), ac, "scheduled",
		func(s *scheduler.Scheduler, code string) error { return s.Unapprove(code) })
	if err != nil {
		t.Fatalf("unapprove error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unapprove returned error result: %s", resultText(t, result))
	}

	snap = ac.Scheduler().Status()
	if snap.Upcoming[0].Status != scheduler.StatusScheduled {
		t.Errorf("meeting status = %s, want scheduled", snap.Upcoming[0].Status)
	}
}

func TestHandleTransition_UnknownMeeting(t *testing.T) {
	ac, _ := newTestAppContext(t)

	result, err := handleTransition(context.Background(), requestFor("meeting_approve", "zzz-zzzz-zzz"), ac, "approved",
		func(s *scheduler.Scheduler, code string) error { return s.Approve(code) })
	if err != nil {
		t.Fatalf("approve error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for unknown meeting")
	}
}

func TestHandleTransition_MissingCode(t *testing.T) {
	ac, _ := newTestAppContext(t)

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: "meeting_approve", Arguments: map[string]interface{}{}},
	}
	result, err := handleTransition(context.Background(), req, ac, "approved",
		func(s *scheduler.Scheduler, code string) error { return s.Approve(code) })
	if err != nil {
		t.Fatalf("approve error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for missing meet_code")
	}
}

func TestHandleForceJoin(t *testing.T) {
	ac, mgr := newTestAppContext(t)

	result, err := handleForceJoin(context.Background(), requestFor("meeting_force_join", "abc-defg-hij"), ac)
	if err != nil {
		t.Fatalf("force join error = %v", err)
	}
	if result.IsError {
		t.Fatalf("force join returned error result: %s", resultText(t, result))
	}
	if len(mgr.joined) != 1 || mgr.joined[0] != "abc-defg-hij" {
		t.Errorf("manager joins = %v, want [abc-defg-hij]", mgr.joined)
	}
}

func TestHandleSetMode(t *testing.T) {
	ac, _ := newTestAppContext(t)

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "meeting_set_mode",
			Arguments: map[string]interface{}{
				"meet_code": "abc-defg-hij",
				"mode":      "interactive",
			},
		},
	}
	result, err := handleSetMode(context.Background(), req, ac)
	if err != nil {
		t.Fatalf("set mode error = %v", err)
	}
	if result.IsError {
		t.Fatalf("set mode returned error result: %s", resultText(t, result))
	}

	snap := ac.Scheduler().Status()
	if snap.Upcoming[0].Mode != "interactive" {
		t.Errorf("mode = %s, want interactive", snap.Upcoming[0].Mode)
	}
}

func TestHandleSetMode_Invalid(t *testing.T) {
	ac, _ := newTestAppContext(t)

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "meeting_set_mode",
			Arguments: map[string]interface{}{
				"meet_code": "abc-defg-hij",
				"mode":      "karaoke",
			},
		},
	}
	result, err := handleSetMode(context.Background(), req, ac)
	if err != nil {
		t.Fatalf("set mode error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for invalid mode")
	}
}

func TestHandlers_NoScheduler(t *testing.T) {
	ac := server.NewAppContext(context.Background(), nil, nil, nil)
	defer func() { _ = ac.Shutdown() }()

	result, err := handleMeetingsStatus(context.Background(), mcp.CallToolRequest{}, ac)
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result without a scheduler")
	}
}
