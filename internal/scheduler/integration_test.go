package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/meetnotes/internal/browser"
	"github.com/teemow/meetnotes/internal/calendar"
	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/manager"
	"github.com/teemow/meetnotes/internal/notesbot"
	"github.com/teemow/meetnotes/internal/scheduler"
	"github.com/teemow/meetnotes/internal/session"
	"github.com/teemow/meetnotes/internal/store"
)

// acceptAllDriver satisfies every UI interaction so joins always
// succeed.
type acceptAllDriver struct{}

func (acceptAllDriver) Navigate(context.Context, string) error { return nil }
func (acceptAllDriver) WaitVisible(_ context.Context, loc browser.Locator, _ time.Duration) error {
	// No SSO bounce in these tests: the login email field is absent.
	if loc.Expr == `input[type="email"]` {
		return errors.New("not visible")
	}
	return nil
}
func (acceptAllDriver) Click(context.Context, browser.Locator, time.Duration) error { return nil }
func (acceptAllDriver) SendKeys(context.Context, browser.Locator, string, time.Duration) error {
	return nil
}
func (acceptAllDriver) PressEscape(context.Context) error { return nil }
func (acceptAllDriver) Evaluate(ctx context.Context, js string, out any) error {
	if strings.Contains(js, "MutationObserver") {
		if p, ok := out.(*bool); ok {
			*p = true
		}
	}
	return nil
}
func (acceptAllDriver) Text(context.Context, browser.Locator, time.Duration) (string, error) {
	return "", nil
}
func (acceptAllDriver) Handle() *browser.ProcHandle { return nil }
func (acceptAllDriver) Tag() string                 { return "fake" }
func (acceptAllDriver) Close(context.Context) error { return nil }

type staticSource struct {
	meetings []calendar.Meeting
}

func (s *staticSource) ListMeetings(_ context.Context, _ string, _, _ time.Time) ([]calendar.Meeting, error) {
	return s.meetings, nil
}

// TestMeetingLifecycle drives a meeting from calendar sync through
// auto-join to completion, with the real manager, bot, and database
// under a fake clock.
func TestMeetingLifecycle(t *testing.T) {
	t.Setenv("DISPLAY", ":0")
	ctx := context.Background()
	fc := clock.NewFake(time.Date(2025, 6, 1, 8, 59, 30, 0, time.UTC))

	st, err := store.Open(store.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.AddCalendar(ctx, store.Calendar{
		ID:       "work@example.com",
		Name:     "Work",
		AutoJoin: true,
		BotMode:  "notes",
		Enabled:  true,
	}))

	mgr, err := manager.New(manager.Config{
		NewBot: func(store.Meeting) (*notesbot.Bot, error) {
			return notesbot.New(notesbot.Config{
				Store: st,
				NewController: func() (*session.Controller, error) {
					return session.NewController(session.Config{
						NewDriver: func(ctx context.Context) (browser.Driver, error) {
							return acceptAllDriver{}, nil
						},
						Clock: fc,
					})
				},
				Clock: fc,
			})
		},
		Clock: fc,
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.LeaveAll(context.Background()) })

	overrides, err := scheduler.LoadOverrides(filepath.Join(t.TempDir(), "overrides.json"), fc)
	require.NoError(t, err)

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	sched, err := scheduler.New(scheduler.Config{
		Source: &staticSource{meetings: []calendar.Meeting{{
			EventID:   "ev-1",
			Title:     "Morning Standup",
			MeetURL:   "https://meet.google.com/abc-defg-hij",
			Start:     start,
			End:       start.Add(30 * time.Minute),
			Organizer: "alice@example.com",
		}}},
		Manager:   mgr,
		Calendars: st,
		Overrides: overrides,
		Clock:     fc,
	})
	require.NoError(t, err)

	// Calendar sync: the auto-join calendar approves the meeting
	// without an explicit approval.
	sched.Poll(ctx)
	snap := sched.Status()
	require.Len(t, snap.Upcoming, 1)
	assert.Equal(t, scheduler.StatusApproved, snap.Upcoming[0].Status)

	// Inside the join window the fast pass joins.
	sched.FastPass(ctx)
	snap = sched.Status()
	require.NotNil(t, snap.Current, "meeting should be active: %+v", snap)
	assert.Equal(t, scheduler.StatusActive, snap.Current.Status)
	assert.Equal(t, "session-abc-defg-hij", snap.Current.SessionID)
	require.Len(t, mgr.Sessions(), 1)

	// The durable record exists while the meeting runs.
	meeting, err := st.GetMeeting(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Morning Standup", meeting.Title)
	assert.Equal(t, store.MeetingStatusActive, meeting.Status)

	// Past the scheduled end plus the leave buffer the fast pass
	// leaves and the record is completed.
	fc.Advance(33 * time.Minute)
	sched.FastPass(ctx)

	assert.Empty(t, mgr.Sessions())
	snap = sched.Status()
	require.Nil(t, snap.Current)
	require.Len(t, snap.Upcoming, 1)
	assert.Equal(t, scheduler.StatusCompleted, snap.Upcoming[0].Status)

	meeting, err = st.GetMeeting(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.MeetingStatusCompleted, meeting.Status)
}
