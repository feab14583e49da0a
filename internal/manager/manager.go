// Package manager tracks the active meeting sessions, one notes bot
// per meeting, and runs the monitor loop that leaves overrunning
// meetings and force-kills hung sessions.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/meetnotes/internal/calendar"
	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/logging"
	"github.com/teemow/meetnotes/internal/notesbot"
	"github.com/teemow/meetnotes/internal/store"
)

// BotFactory builds a fresh bot per session. The meeting is passed so
// the factory can wire mode-dependent behavior, like the wake word for
// interactive meetings.
type BotFactory func(meeting store.Meeting) (*notesbot.Bot, error)

// Config configures a Manager.
type Config struct {
	NewBot BotFactory
	Clock  clock.Clock
	Logger *slog.Logger

	// GracePeriod past the scheduled end before the monitor leaves a
	// meeting. Defaults to 5m.
	GracePeriod time.Duration

	// HangTimeout without caption activity before a capturing session
	// is force-killed. Defaults to 30m.
	HangTimeout time.Duration

	// MonitorInterval between monitor passes. Defaults to 60s.
	MonitorInterval time.Duration
}

// SessionInfo is a snapshot of one active session.
type SessionInfo struct {
	SessionID    string
	MeetCode     string
	State        notesbot.State
	JoinedAt     time.Time
	ScheduledEnd time.Time
	LastActivity time.Time
}

type meetingSession struct {
	id           string
	meetCode     string
	bot          *notesbot.Bot
	joinedAt     time.Time
	scheduledEnd time.Time
}

// Manager owns the session map. The single mutex guards the map only;
// joins and leaves run browser work outside the lock so a slow join
// never blocks status queries or other sessions.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	clk    clock.Clock

	mu       sync.Mutex
	sessions map[string]*meetingSession

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// New validates cfg and returns an empty manager.
func New(cfg Config) (*Manager, error) {
	if cfg.NewBot == nil {
		return nil, fmt.Errorf("manager: bot factory is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Minute
	}
	if cfg.HangTimeout <= 0 {
		cfg.HangTimeout = 30 * time.Minute
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "manager"),
		clk:      cfg.Clock,
		sessions: map[string]*meetingSession{},
	}, nil
}

// GenerateSessionID derives the session id from the meeting URL. The
// id is stable per meeting code, so a second join request for the same
// meeting maps to the existing session instead of a second browser.
func GenerateSessionID(url string) (string, error) {
	code := calendar.MeetCode(url)
	if code == "" {
		return "", fmt.Errorf("manager: not a Meet URL: %s", url)
	}
	return "session-" + code, nil
}

// JoinMeeting starts a new session for the meeting. A second join for
// a meeting with an active session is refused.
func (m *Manager) JoinMeeting(ctx context.Context, meeting store.Meeting) (string, error) {
	id, err := GenerateSessionID(meeting.MeetURL)
	if err != nil {
		return "", err
	}

	bot, err := m.cfg.NewBot(meeting)
	if err != nil {
		return "", fmt.Errorf("manager: building bot: %w", err)
	}

	sess := &meetingSession{
		id:           id,
		meetCode:     calendar.MeetCode(meeting.MeetURL),
		bot:          bot,
		joinedAt:     m.clk.Now(),
		scheduledEnd: meeting.ScheduledEnd,
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("manager: session %s already active", id)
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	if err := bot.JoinMeeting(ctx, meeting); err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return "", err
	}

	m.ensureMonitor()
	m.logger.Info("session started", logging.Session(id), logging.Meeting(sess.meetCode))
	return id, nil
}

// LeaveMeeting ends the session and returns the bot's summary. The
// monitor stops when the last session ends.
func (m *Manager) LeaveMeeting(ctx context.Context, sessionID string) (notesbot.Summary, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	empty := len(m.sessions) == 0
	m.mu.Unlock()
	if !ok {
		return notesbot.Summary{}, fmt.Errorf("manager: no session %s", sessionID)
	}
	if empty {
		m.stopMonitor()
	}

	summary := sess.bot.LeaveMeeting(ctx)
	m.logger.Info("session ended", logging.Session(sessionID), logging.Duration(summary.Duration))
	return summary, nil
}

// LeaveAll stops the monitor first, then leaves every active session.
// Used during daemon shutdown.
func (m *Manager) LeaveAll(ctx context.Context) []notesbot.Summary {
	m.stopMonitor()

	m.mu.Lock()
	sessions := make([]*meetingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = map[string]*meetingSession{}
	m.mu.Unlock()

	summaries := make([]notesbot.Summary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sess.bot.LeaveMeeting(ctx))
	}
	return summaries
}

// Sessions returns a snapshot of the active sessions.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, SessionInfo{
			SessionID:    s.id,
			MeetCode:     s.meetCode,
			State:        s.bot.State(),
			JoinedAt:     s.joinedAt,
			ScheduledEnd: s.scheduledEnd,
			LastActivity: s.bot.LastActivity(),
		})
	}
	return infos
}

// ensureMonitor starts the monitor loop if it is not already running.
func (m *Manager) ensureMonitor() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.monitorCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.monitorCancel = cancel
	m.monitorDone = make(chan struct{})
	go m.monitor(ctx, cancel, m.monitorDone)
}

func (m *Manager) stopMonitor() {
	m.mu.Lock()
	cancel := m.monitorCancel
	done := m.monitorDone
	m.monitorCancel = nil
	m.monitorDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Manager) monitor(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)

	ticker := m.clk.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.monitorPass(ctx)

			// The last session may have ended during the pass; an idle
			// monitor has nothing to watch.
			m.mu.Lock()
			if len(m.sessions) == 0 && m.monitorDone == done {
				m.monitorCancel = nil
				m.monitorDone = nil
				m.mu.Unlock()
				cancel()
				return
			}
			m.mu.Unlock()
		}
	}
}

// monitorPass leaves sessions past their scheduled end plus grace and
// force-kills capturing sessions with no caption activity for the hang
// timeout.
func (m *Manager) monitorPass(ctx context.Context) {
	now := m.clk.Now()

	m.mu.Lock()
	var overdue, hung []*meetingSession
	for _, s := range m.sessions {
		switch {
		case !s.scheduledEnd.IsZero() && now.After(s.scheduledEnd.Add(m.cfg.GracePeriod)):
			overdue = append(overdue, s)
		case s.bot.State() == notesbot.StateCapturing &&
			!s.bot.LastActivity().IsZero() &&
			now.Sub(s.bot.LastActivity()) > m.cfg.HangTimeout:
			hung = append(hung, s)
		}
	}
	for _, s := range overdue {
		delete(m.sessions, s.id)
	}
	for _, s := range hung {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()

	for _, s := range overdue {
		m.logger.Info("scheduled end passed, leaving",
			logging.Session(s.id), logging.Meeting(s.meetCode))
		s.bot.LeaveMeeting(ctx)
	}
	for _, s := range hung {
		m.logger.Warn("session hung, force-killing",
			logging.Session(s.id), logging.Meeting(s.meetCode))
		s.bot.ForceKill(ctx)
	}
}
