// Package notesbot ties one browser session, one transcript processor,
// and the notes database together into a bot that attends a single
// meeting: join, capture captions, flush transcripts, leave with a
// summary.
package notesbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/logging"
	"github.com/teemow/meetnotes/internal/session"
	"github.com/teemow/meetnotes/internal/store"
	"github.com/teemow/meetnotes/internal/transcript"
)

// State is the bot lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateJoining   State = "joining"
	StateCapturing State = "capturing"
	StateLeaving   State = "leaving"
	StateError     State = "error"
)

// Store is the persistence surface the bot needs. *store.Store
// implements it.
type Store interface {
	CreateMeeting(ctx context.Context, m store.Meeting) (int64, error)
	CompleteMeeting(ctx context.Context, id int64, status string, actualEnd time.Time) error
	InsertTranscripts(ctx context.Context, meetingID int64, rows []store.TranscriptRow) error
}

// Summary is returned by LeaveMeeting regardless of how the meeting
// ended.
type Summary struct {
	MeetingID   int64
	MeetCode    string
	Duration    time.Duration
	Transcripts int
	Errors      []string
}

// ControllerFactory builds a fresh session controller per meeting.
type ControllerFactory func() (*session.Controller, error)

// Config configures a Bot.
type Config struct {
	Store         Store
	NewController ControllerFactory
	Clock         clock.Clock
	Logger        *slog.Logger

	// FlushInterval for the transcript processor. Defaults to 30s.
	FlushInterval time.Duration

	// Wake enables in-meeting wake-word commands when Phrase is set.
	Wake transcript.WakeConfig
}

// Bot attends one meeting at a time. All public methods are safe for
// concurrent use; the bot manager calls them from its monitor loop and
// from tool handlers simultaneously.
type Bot struct {
	cfg    Config
	logger *slog.Logger
	clk    clock.Clock

	mu         sync.Mutex
	state      State
	controller *session.Controller
	processor  *transcript.Processor
	meetingID  int64
	meetCode   string
	startedAt  time.Time
	flushed    int
	runCancel  context.CancelFunc
	runDone    chan struct{}
}

// New validates cfg and returns an idle bot.
func New(cfg Config) (*Bot, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("notesbot: store is required")
	}
	if cfg.NewController == nil {
		return nil, fmt.Errorf("notesbot: controller factory is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bot{
		cfg:    cfg,
		logger: logging.WithComponent(logger, "notesbot"),
		clk:    cfg.Clock,
		state:  StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// MeetCode returns the code of the meeting being attended, if any.
func (b *Bot) MeetCode() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meetCode
}

// LastActivity returns the last time a caption arrived, or the join
// time when nothing has arrived yet. Zero when idle.
func (b *Bot) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.processor == nil {
		return time.Time{}
	}
	if last := b.processor.LastActivity(); !last.IsZero() {
		return last
	}
	return b.startedAt
}

// JoinMeeting creates the durable meeting record, joins the meeting in
// the browser, and starts caption capture. Joining while not idle is
// refused; LeaveMeeting first.
func (b *Bot) JoinMeeting(ctx context.Context, meeting store.Meeting) error {
	b.mu.Lock()
	if b.state != StateIdle && b.state != StateError {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("notesbot: already %s", state)
	}
	b.state = StateJoining
	b.mu.Unlock()

	fail := func(err error) error {
		b.mu.Lock()
		b.state = StateError
		b.mu.Unlock()
		return err
	}

	meeting.ActualStart = b.clk.Now()
	meetingID, err := b.cfg.Store.CreateMeeting(ctx, meeting)
	if err != nil {
		return fail(fmt.Errorf("notesbot: recording meeting: %w", err))
	}

	// The record exists now; failures past this point close it as
	// aborted instead of leaving a dangling active row.
	abort := func(err error) error {
		if cerr := b.cfg.Store.CompleteMeeting(ctx, meetingID, store.MeetingStatusAborted, b.clk.Now()); cerr != nil {
			b.logger.Warn("aborting meeting record failed", logging.Err(cerr))
		}
		return fail(err)
	}

	controller, err := b.cfg.NewController()
	if err != nil {
		return abort(fmt.Errorf("notesbot: building controller: %w", err))
	}
	if !controller.Initialize(ctx) {
		controller.Close(ctx)
		return abort(fmt.Errorf("notesbot: session init failed: %s", joinErrors(controller)))
	}
	if !controller.JoinMeeting(ctx, meeting.MeetURL) {
		controller.Close(ctx)
		return abort(fmt.Errorf("notesbot: join failed: %s", joinErrors(controller)))
	}

	processor, err := transcript.NewProcessor(transcript.Config{
		Clock:         b.clk,
		Logger:        b.logger,
		FlushInterval: b.cfg.FlushInterval,
		Wake:          b.cfg.Wake,
		Persist: func(ctx context.Context, entries []transcript.Entry) error {
			rows := make([]store.TranscriptRow, len(entries))
			for i, e := range entries {
				rows[i] = store.TranscriptRow{Speaker: e.Speaker, Text: e.Text, Timestamp: e.Timestamp}
			}
			if err := b.cfg.Store.InsertTranscripts(ctx, meetingID, rows); err != nil {
				return err
			}
			b.mu.Lock()
			b.flushed += len(rows)
			b.mu.Unlock()
			return nil
		},
	})
	if err != nil {
		controller.Close(ctx)
		return abort(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(runCtx)
	}()

	if err := controller.StartCaptions(ctx, func(e transcript.CaptionEntry) {
		processor.Submit(e)
	}); err != nil {
		// Captions failing is degraded, not fatal: the bot still
		// attends and records what it can.
		b.logger.Warn("caption capture unavailable", logging.Err(err))
	}

	code := controller.State().MeetCode
	b.mu.Lock()
	b.state = StateCapturing
	b.controller = controller
	b.processor = processor
	b.meetingID = meetingID
	b.meetCode = code
	b.startedAt = b.clk.Now()
	b.flushed = 0
	b.runCancel = cancel
	b.runDone = done
	b.mu.Unlock()

	b.logger.Info("bot capturing", logging.Meeting(code), "meeting_id", meetingID)
	return nil
}

// LeaveMeeting leaves the meeting, flushes remaining transcripts, and
// completes the durable record. Always returns a summary; when the bot
// is idle the summary is empty.
func (b *Bot) LeaveMeeting(ctx context.Context) Summary {
	b.mu.Lock()
	if b.state != StateCapturing && b.state != StateError {
		b.mu.Unlock()
		return Summary{}
	}
	b.state = StateLeaving
	controller := b.controller
	cancel := b.runCancel
	done := b.runDone
	meetingID := b.meetingID
	code := b.meetCode
	startedAt := b.startedAt
	b.mu.Unlock()

	var errs []string

	if controller != nil {
		controller.LeaveMeeting(ctx)
	}

	// Stop the processor; its shutdown path drains the channel and
	// runs the final flush.
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			errs = append(errs, "transcript processor did not stop in time")
		}
	}

	if controller != nil {
		controller.Close(ctx)
		for _, e := range controller.State().Errors {
			errs = append(errs, e)
		}
	}

	now := b.clk.Now()
	if meetingID != 0 {
		if err := b.cfg.Store.CompleteMeeting(ctx, meetingID, store.MeetingStatusCompleted, now); err != nil {
			errs = append(errs, fmt.Sprintf("completing meeting record: %v", err))
		}
	}

	b.mu.Lock()
	flushed := b.flushed
	b.state = StateIdle
	b.controller = nil
	b.processor = nil
	b.runCancel = nil
	b.runDone = nil
	b.meetingID = 0
	b.meetCode = ""
	b.mu.Unlock()

	summary := Summary{
		MeetingID:   meetingID,
		MeetCode:    code,
		Duration:    now.Sub(startedAt),
		Transcripts: flushed,
		Errors:      errs,
	}
	b.logger.Info("bot left meeting",
		logging.Meeting(code),
		logging.Duration(summary.Duration),
		"transcripts", flushed,
	)
	return summary
}

// ForceKill terminates the browser without a graceful leave and marks
// the meeting aborted. Used by the manager's hang detection.
func (b *Bot) ForceKill(ctx context.Context) {
	b.mu.Lock()
	controller := b.controller
	cancel := b.runCancel
	done := b.runDone
	meetingID := b.meetingID
	code := b.meetCode
	b.state = StateLeaving
	b.mu.Unlock()

	if controller != nil {
		controller.ForceKill()
	}
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
	if meetingID != 0 {
		if err := b.cfg.Store.CompleteMeeting(ctx, meetingID, store.MeetingStatusAborted, b.clk.Now()); err != nil {
			b.logger.Warn("aborting meeting record failed", logging.Err(err))
		}
	}

	b.mu.Lock()
	b.state = StateIdle
	b.controller = nil
	b.processor = nil
	b.runCancel = nil
	b.runDone = nil
	b.meetingID = 0
	b.meetCode = ""
	b.mu.Unlock()

	b.logger.Warn("bot force-killed", logging.Meeting(code))
}

func joinErrors(c *session.Controller) string {
	errs := c.State().Errors
	if len(errs) == 0 {
		return "unknown cause"
	}
	return strings.Join(errs, "; ")
}
