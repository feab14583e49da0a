// Package scheduler watches the monitored calendars and decides when
// the notes bot joins and leaves meetings. Manual approvals and skips
// override the per-calendar auto-join policy and persist across
// restarts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/teemow/meetnotes/internal/calendar"
	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/logging"
	"github.com/teemow/meetnotes/internal/notesbot"
	"github.com/teemow/meetnotes/internal/store"
)

// Status is the scheduling state of one upcoming meeting.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusApproved  Status = "approved"
	StatusJoining   Status = "joining"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusMissed    Status = "missed"
)

// ScheduledMeeting is one meeting the scheduler tracks.
type ScheduledMeeting struct {
	EventID      string
	CalendarID   string
	Title        string
	MeetURL      string
	MeetCode     string
	Start        time.Time
	End          time.Time
	Organizer    string
	Attendees    []string
	Mode         string
	Status       Status
	JoinAttempts int
	SessionID    string
	LastError    string
}

// CalendarSource lists upcoming meetings for one calendar. The Google
// Calendar client implements it; tests use a fixture.
type CalendarSource interface {
	ListMeetings(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]calendar.Meeting, error)
}

// SessionManager joins and leaves meetings. *manager.Manager
// implements it.
type SessionManager interface {
	JoinMeeting(ctx context.Context, meeting store.Meeting) (string, error)
	LeaveMeeting(ctx context.Context, sessionID string) (notesbot.Summary, error)
}

// CalendarRegistry lists the monitored calendars. *store.Store
// implements it.
type CalendarRegistry interface {
	ListCalendars(ctx context.Context) ([]store.Calendar, error)
}

// Config configures a Scheduler.
type Config struct {
	Source    CalendarSource
	Manager   SessionManager
	Calendars CalendarRegistry
	Overrides *OverrideStore
	Clock     clock.Clock
	Logger    *slog.Logger

	// PollInterval between calendar syncs. Defaults to 5m.
	PollInterval time.Duration

	// FastInterval between join/leave decision passes. Defaults to
	// 30s.
	FastInterval time.Duration

	// JoinBuffer before the scheduled start when joining becomes
	// allowed. Defaults to 1m.
	JoinBuffer time.Duration

	// LateJoinWindow after the scheduled start during which joining
	// is still worthwhile. Defaults to 10m.
	LateJoinWindow time.Duration

	// LeaveBuffer past the scheduled end before the scheduler leaves.
	// Defaults to 2m.
	LeaveBuffer time.Duration

	// MaxJoinAttempts before a meeting is marked failed. Defaults
	// to 3.
	MaxJoinAttempts int

	// Lookahead is how far ahead the poll syncs. Defaults to 24h.
	Lookahead time.Duration

	// ExpireAfter is how long past its end a tracked meeting is kept.
	// Defaults to 30m.
	ExpireAfter time.Duration
}

// Snapshot is the scheduler state exposed to status tools.
type Snapshot struct {
	Running  bool
	Current  *ScheduledMeeting
	Upcoming []ScheduledMeeting
	Errors   []string
}

// Scheduler runs two loops: a slow poll syncing the calendars and a
// fast pass making join/leave decisions. One meeting is active at a
// time.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	clk    clock.Clock

	mu       sync.Mutex
	meetings map[string]*ScheduledMeeting // keyed by meet code
	current  string                       // meet code of the active meeting
	running  bool
	errs     []string

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and returns an unstarted scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("scheduler: calendar source is required")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("scheduler: session manager is required")
	}
	if cfg.Calendars == nil {
		return nil, fmt.Errorf("scheduler: calendar registry is required")
	}
	if cfg.Overrides == nil {
		return nil, fmt.Errorf("scheduler: override store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = 30 * time.Second
	}
	if cfg.JoinBuffer <= 0 {
		cfg.JoinBuffer = time.Minute
	}
	if cfg.LateJoinWindow <= 0 {
		cfg.LateJoinWindow = 10 * time.Minute
	}
	if cfg.LeaveBuffer <= 0 {
		cfg.LeaveBuffer = 2 * time.Minute
	}
	if cfg.MaxJoinAttempts <= 0 {
		cfg.MaxJoinAttempts = 3
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 24 * time.Hour
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 30 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "scheduler"),
		clk:      cfg.Clock,
		meetings: map[string]*ScheduledMeeting{},
	}, nil
}

// Start launches the poll and fast loops. An immediate poll runs at
// startup so a restart mid-morning sees the day's meetings right away.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.Poll(ctx)
	go s.run(loopCtx, s.done)
	s.logger.Info("scheduler started")
}

// Stop halts the loops. The active meeting, if any, is left to the
// manager's shutdown path.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	// done is passed in because Stop nils s.done before waiting.
	defer close(done)

	poll := s.clk.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	fast := s.clk.NewTicker(s.cfg.FastInterval)
	defer fast.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			s.Poll(ctx)
		case <-fast.C:
			s.FastPass(ctx)
		}
	}
}

// Poll syncs the tracked meetings from the monitored calendars.
// Existing entries keep their status; new entries get their initial
// status from a persisted override, else from the calendar's auto-join
// policy.
func (s *Scheduler) Poll(ctx context.Context) {
	now := s.clk.Now()

	cals, err := s.cfg.Calendars.ListCalendars(ctx)
	if err != nil {
		s.recordError(fmt.Sprintf("listing calendars: %v", err))
		return
	}

	for _, cal := range cals {
		if !cal.Enabled {
			continue
		}
		meetings, err := s.cfg.Source.ListMeetings(ctx, cal.ID, now, now.Add(s.cfg.Lookahead))
		if err != nil {
			s.recordError(fmt.Sprintf("polling %s: %v", cal.ID, err))
			continue
		}
		for _, m := range meetings {
			s.track(cal, m)
		}
	}

	s.expire(now)
}

func (s *Scheduler) track(cal store.Calendar, m calendar.Meeting) {
	code := calendar.MeetCode(m.MeetURL)
	if code == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.meetings[code]; ok {
		existing.Title = m.Title
		existing.Start = m.Start
		existing.End = m.End
		existing.EventID = m.EventID
		return
	}

	sm := &ScheduledMeeting{
		EventID:    m.EventID,
		CalendarID: cal.ID,
		Title:      m.Title,
		MeetURL:    m.MeetURL,
		MeetCode:   code,
		Start:      m.Start,
		End:        m.End,
		Organizer:  m.Organizer,
		Attendees:  m.Attendees,
		Mode:       cal.BotMode,
		Status:     StatusScheduled,
	}
	if o, ok := s.cfg.Overrides.Get(code); ok {
		if o.Status == StatusApproved || o.Status == StatusSkipped {
			sm.Status = o.Status
		}
		if o.Mode != "" {
			sm.Mode = o.Mode
		}
	} else if cal.AutoJoin {
		sm.Status = StatusApproved
	}
	s.meetings[code] = sm
	s.logger.Info("meeting tracked",
		logging.Meeting(code),
		"title", m.Title,
		logging.Status(string(sm.Status)),
	)
}

// expire drops meetings well past their end, keeping the active one.
func (s *Scheduler) expire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, m := range s.meetings {
		if m.Status == StatusActive {
			continue
		}
		if !m.End.IsZero() && now.After(m.End.Add(s.cfg.ExpireAfter)) {
			delete(s.meetings, code)
		}
	}
}

// FastPass makes one join/leave decision: leave the active meeting
// when it is over, otherwise join exactly one approved meeting whose
// window is open.
func (s *Scheduler) FastPass(ctx context.Context) {
	now := s.clk.Now()

	if s.leaveIfOver(ctx, now) {
		return
	}

	s.mu.Lock()
	if s.current != "" {
		s.mu.Unlock()
		return
	}

	var next *ScheduledMeeting
	for _, m := range s.meetings {
		switch m.Status {
		case StatusApproved:
		default:
			continue
		}
		if now.After(m.Start.Add(s.cfg.LateJoinWindow)) {
			m.Status = StatusMissed
			s.logger.Info("join window elapsed", logging.Meeting(m.MeetCode))
			continue
		}
		if now.Before(m.Start.Add(-s.cfg.JoinBuffer)) {
			continue
		}
		if next == nil || m.Start.Before(next.Start) {
			next = m
		}
	}
	if next == nil {
		s.mu.Unlock()
		return
	}
	next.Status = StatusJoining
	s.mu.Unlock()

	s.join(ctx, next)
}

// leaveIfOver leaves the active meeting once past end+leaveBuffer.
// Returns true when a leave happened this pass.
func (s *Scheduler) leaveIfOver(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	code := s.current
	var m *ScheduledMeeting
	if code != "" {
		m = s.meetings[code]
	}
	s.mu.Unlock()
	if m == nil || now.Before(m.End.Add(s.cfg.LeaveBuffer)) {
		return false
	}

	if _, err := s.cfg.Manager.LeaveMeeting(ctx, m.SessionID); err != nil {
		s.logger.Warn("scheduled leave failed", logging.Meeting(code), logging.Err(err))
	}
	s.mu.Lock()
	m.Status = StatusCompleted
	s.current = ""
	s.mu.Unlock()
	s.logger.Info("meeting over, left", logging.Meeting(code))
	return true
}

func (s *Scheduler) join(ctx context.Context, m *ScheduledMeeting) {
	sessionID, err := s.cfg.Manager.JoinMeeting(ctx, store.Meeting{
		EventID:        m.EventID,
		CalendarID:     m.CalendarID,
		Title:          m.Title,
		MeetURL:        m.MeetURL,
		ScheduledStart: m.Start,
		ScheduledEnd:   m.End,
		Organizer:      m.Organizer,
		Attendees:      m.Attendees,
		Mode:           m.Mode,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	m.JoinAttempts++
	if err != nil {
		m.LastError = err.Error()
		if m.JoinAttempts >= s.cfg.MaxJoinAttempts {
			m.Status = StatusFailed
			s.logger.Error("join attempts exhausted",
				logging.Meeting(m.MeetCode), "attempts", m.JoinAttempts, logging.Err(err))
		} else {
			m.Status = StatusApproved
			s.logger.Warn("join failed, will retry",
				logging.Meeting(m.MeetCode), "attempts", m.JoinAttempts, logging.Err(err))
		}
		return
	}

	m.Status = StatusActive
	m.SessionID = sessionID
	s.current = m.MeetCode
	s.logger.Info("meeting joined", logging.Meeting(m.MeetCode), logging.Session(sessionID))
}

// Approve marks a meeting for joining. Accepted from scheduled,
// skipped, and failed (a failed meeting gets a fresh attempt budget).
func (s *Scheduler) Approve(code string) error {
	return s.transition(code, StatusApproved, func(m *ScheduledMeeting) error {
		switch m.Status {
		case StatusScheduled, StatusSkipped, StatusFailed:
			m.JoinAttempts = 0
			m.LastError = ""
			return nil
		default:
			return fmt.Errorf("scheduler: cannot approve meeting in status %s", m.Status)
		}
	})
}

// Skip excludes a meeting from joining.
func (s *Scheduler) Skip(code string) error {
	return s.transition(code, StatusSkipped, func(m *ScheduledMeeting) error {
		switch m.Status {
		case StatusScheduled, StatusApproved:
			return nil
		default:
			return fmt.Errorf("scheduler: cannot skip meeting in status %s", m.Status)
		}
	})
}

// Unapprove reverts an approved meeting to scheduled and removes the
// persisted override.
func (s *Scheduler) Unapprove(code string) error {
	s.mu.Lock()
	m, ok := s.meetings[code]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: unknown meeting %s", code)
	}
	if m.Status != StatusApproved {
		status := m.Status
		s.mu.Unlock()
		return fmt.Errorf("scheduler: cannot unapprove meeting in status %s", status)
	}
	m.Status = StatusScheduled
	s.mu.Unlock()
	return s.cfg.Overrides.Remove(code)
}

// ForceJoin joins a tracked meeting immediately, ignoring the join
// window. Refused while another meeting is active.
func (s *Scheduler) ForceJoin(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.current != "" {
		current := s.current
		s.mu.Unlock()
		return fmt.Errorf("scheduler: meeting %s is active", current)
	}
	m, ok := s.meetings[code]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: unknown meeting %s", code)
	}
	switch m.Status {
	case StatusActive, StatusJoining:
		status := m.Status
		s.mu.Unlock()
		return fmt.Errorf("scheduler: meeting %s is already %s", code, status)
	}
	m.Status = StatusJoining
	s.mu.Unlock()

	s.join(ctx, m)

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Status != StatusActive {
		return fmt.Errorf("scheduler: force join failed: %s", m.LastError)
	}
	return nil
}

// SetMode changes the bot mode for a meeting that has not started.
func (s *Scheduler) SetMode(code, mode string) error {
	s.mu.Lock()
	m, ok := s.meetings[code]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: unknown meeting %s", code)
	}
	if m.Status == StatusActive || m.Status == StatusJoining {
		status := m.Status
		s.mu.Unlock()
		return fmt.Errorf("scheduler: cannot change mode while %s", status)
	}
	m.Mode = mode
	status := m.Status
	s.mu.Unlock()
	return s.cfg.Overrides.Set(code, status, mode)
}

// transition applies check under the lock, then persists the override.
func (s *Scheduler) transition(code string, to Status, check func(*ScheduledMeeting) error) error {
	s.mu.Lock()
	m, ok := s.meetings[code]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: unknown meeting %s", code)
	}
	if err := check(m); err != nil {
		s.mu.Unlock()
		return err
	}
	m.Status = to
	mode := m.Mode
	s.mu.Unlock()

	s.logger.Info("meeting status changed", logging.Meeting(code), logging.Status(string(to)))
	return s.cfg.Overrides.Set(code, to, mode)
}

// Status returns a snapshot for status tools.
func (s *Scheduler) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running: s.running,
		Errors:  append([]string(nil), s.errs...),
	}
	for _, m := range s.meetings {
		cp := *m
		if m.MeetCode == s.current {
			snap.Current = &cp
			continue
		}
		snap.Upcoming = append(snap.Upcoming, cp)
	}
	sort.Slice(snap.Upcoming, func(i, j int) bool {
		return snap.Upcoming[i].Start.Before(snap.Upcoming[j].Start)
	})
	return snap
}

func (s *Scheduler) recordError(msg string) {
	s.logger.Error(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, msg)
	if len(s.errs) > 20 {
		s.errs = s.errs[len(s.errs)-20:]
	}
}
