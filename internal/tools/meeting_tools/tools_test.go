package meeting_tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/meetnotes/internal/browser"
	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/manager"
	"github.com/teemow/meetnotes/internal/notesbot"
	"github.com/teemow/meetnotes/internal/server"
	"github.com/teemow/meetnotes/internal/session"
	"github.com/teemow/meetnotes/internal/store"
)

// nopDriver accepts every interaction; captures nothing.
type nopDriver struct{}

func (nopDriver) Navigate(context.Context, string) error { return nil }
func (nopDriver) WaitVisible(_ context.Context, loc browser.Locator, _ time.Duration) error {
	// No SSO bounce in these tests: the login email field is absent.
	if loc.Expr == `input[type="email"]` {
		return errors.New("not visible")
	}
	return nil
}
func (nopDriver) Click(context.Context, browser.Locator, time.Duration) error { return nil }
func (nopDriver) SendKeys(context.Context, browser.Locator, string, time.Duration) error {
	return nil
}
func (nopDriver) PressEscape(context.Context) error { return nil }
func (nopDriver) Evaluate(ctx context.Context, js string, out any) error {
	if strings.Contains(js, "MutationObserver") {
		if p, ok := out.(*bool); ok {
			*p = true
		}
	}
	return nil
}
func (nopDriver) Text(context.Context, browser.Locator, time.Duration) (string, error) {
	return "", nil
}
func (nopDriver) Handle() *browser.ProcHandle { return nil }
func (nopDriver) Tag() string                 { return "fake" }
func (nopDriver) Close(context.Context) error { return nil }

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	meetings []store.Meeting
}

func (s *memStore) CreateMeeting(_ context.Context, m store.Meeting) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.meetings = append(s.meetings, m)
	return s.nextID, nil
}

func (s *memStore) CompleteMeeting(context.Context, int64, string, time.Time) error {
	return nil
}

func (s *memStore) InsertTranscripts(context.Context, int64, []store.TranscriptRow) error {
	return nil
}

func (s *memStore) created() []store.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Meeting(nil), s.meetings...)
}

func newTestAppContext(t *testing.T) (*server.AppContext, *memStore) {
	t.Helper()
	t.Setenv("DISPLAY", ":0")

	fc := clock.NewFake(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	st := &memStore{}
	mgr, err := manager.New(manager.Config{
		NewBot: func(store.Meeting) (*notesbot.Bot, error) {
			return notesbot.New(notesbot.Config{
				Store: st,
				NewController: func() (*session.Controller, error) {
					return session.NewController(session.Config{
						NewDriver: func(ctx context.Context) (browser.Driver, error) { return nopDriver{}, nil },
						Clock:     fc,
					})
				},
				Clock: fc,
			})
		},
		Clock: fc,
	})
	if err != nil {
		t.Fatalf("building manager: %v", err)
	}
	t.Cleanup(func() { mgr.LeaveAll(context.Background()) })

	ac := server.NewAppContext(context.Background(), nil, mgr, nil)
	t.Cleanup(func() { _ = ac.Shutdown() })
	return ac, st
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

func joinRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: "meeting_join_url", Arguments: args},
	}
}

func TestHandleJoinURLAndLeave(t *testing.T) {
	ctx := context.Background()
	ac, st := newTestAppContext(t)

	result, err := handleJoinURL(ctx, joinRequest(map[string]interface{}{
		"url":   "https://meet.google.com/abc-defg-hij",
		"title": "Ad-hoc sync",
	}), ac)
	if err != nil {
		t.Fatalf("handleJoinURL() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("handleJoinURL() returned error result: %s", resultText(t, result))
	}
	text := resultText(t, result)
	if !strings.Contains(text, "session-abc-defg-hij") {
		t.Errorf("join output missing session id: %s", text)
	}

	created := st.created()
	if len(created) != 1 {
		t.Fatalf("meetings created = %d, want 1", len(created))
	}
	if created[0].CalendarID != "manual" || created[0].Title != "Ad-hoc sync" {
		t.Errorf("unexpected meeting record: %+v", created[0])
	}

	listResult, err := handleSessionsList(ctx, mcp.CallToolRequest{}, ac)
	if err != nil {
		t.Fatalf("handleSessionsList() error = %v", err)
	}
	if text := resultText(t, listResult); !strings.Contains(text, "abc-defg-hij") {
		t.Errorf("sessions list missing meeting: %s", text)
	}

	leaveReq := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "meeting_leave",
			Arguments: map[string]interface{}{"session_id": "session-abc-defg-hij"},
		},
	}
	leaveResult, err := handleLeave(ctx, leaveReq, ac)
	if err != nil {
		t.Fatalf("handleLeave() error = %v", err)
	}
	if leaveResult.IsError {
		t.Fatalf("handleLeave() returned error result: %s", resultText(t, leaveResult))
	}
	if !strings.Contains(resultText(t, leaveResult), "Left meeting abc-defg-hij") {
		t.Errorf("leave output missing meet code: %s", resultText(t, leaveResult))
	}

	listResult, _ = handleSessionsList(ctx, mcp.CallToolRequest{}, ac)
	if text := resultText(t, listResult); !strings.Contains(text, "No active sessions") {
		t.Errorf("expected empty session list, got: %s", text)
	}
}

func TestHandleJoinURL_NotAMeetURL(t *testing.T) {
	ac, _ := newTestAppContext(t)

	result, err := handleJoinURL(context.Background(), joinRequest(map[string]interface{}{
		"url": "https://example.com/whatever",
	}), ac)
	if err != nil {
		t.Fatalf("handleJoinURL() error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for non-Meet URL")
	}
}

func TestHandleJoinURL_InvalidMode(t *testing.T) {
	ac, _ := newTestAppContext(t)

	result, err := handleJoinURL(context.Background(), joinRequest(map[string]interface{}{
		"url":  "https://meet.google.com/abc-defg-hij",
		"mode": "karaoke",
	}), ac)
	if err != nil {
		t.Fatalf("handleJoinURL() error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for invalid mode")
	}
}

func TestHandleLeave_UnknownSession(t *testing.T) {
	ac, _ := newTestAppContext(t)

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "meeting_leave",
			Arguments: map[string]interface{}{"session_id": "session-zzz-zzzz-zzz"},
		},
	}
	result, err := handleLeave(context.Background(), req, ac)
	if err != nil {
		t.Fatalf("handleLeave() error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for unknown session")
	}
}

func TestHandlers_NoManager(t *testing.T) {
	ac := server.NewAppContext(context.Background(), nil, nil, nil)
	defer func() { _ = ac.Shutdown() }()

	result, err := handleSessionsList(context.Background(), mcp.CallToolRequest{}, ac)
	if err != nil {
		t.Fatalf("sessions list error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result without a manager")
	}
}
