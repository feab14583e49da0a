package resources

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/meetnotes/internal/server"
	"github.com/teemow/meetnotes/internal/store"
)

func requestFor(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func TestHandleRecentMeetings(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(store.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer func() { _ = st.Close() }()

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	id, err := st.CreateMeeting(ctx, store.Meeting{
		EventID:     "ev-1",
		CalendarID:  "work@example.com",
		Title:       "Quarterly Planning",
		MeetURL:     "https://meet.google.com/abc-defg-hij",
		ActualStart: start,
		Mode:        "notes",
	})
	if err != nil {
		t.Fatalf("creating meeting: %v", err)
	}
	if err := st.CompleteMeeting(ctx, id, store.MeetingStatusCompleted, start.Add(time.Hour)); err != nil {
		t.Fatalf("completing meeting: %v", err)
	}

	ac := server.NewAppContext(ctx, st, nil, nil)
	defer func() { _ = ac.Shutdown() }()

	contents, err := handleRecentMeetings(ctx, requestFor("meetnotes://meetings/recent"), ac)
	if err != nil {
		t.Fatalf("handleRecentMeetings() error = %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected contents type %T", contents[0])
	}
	if text.MIMEType != "application/json" {
		t.Errorf("mime type = %s, want application/json", text.MIMEType)
	}

	var payload []map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if len(payload) != 1 || payload[0]["title"] != "Quarterly Planning" {
		t.Errorf("unexpected payload: %s", text.Text)
	}
	if payload[0]["status"] != store.MeetingStatusCompleted {
		t.Errorf("status = %v, want completed", payload[0]["status"])
	}
}

func TestHandleStatus_NoScheduler(t *testing.T) {
	ctx := context.Background()
	ac := server.NewAppContext(ctx, nil, nil, nil)
	defer func() { _ = ac.Shutdown() }()

	if _, err := handleStatus(ctx, requestFor("meetnotes://status"), ac); err == nil {
		t.Error("expected error without a scheduler")
	}
}
