package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/logging"
)

// RouterConfig configures a per-session audio Router.
type RouterConfig struct {
	// Tag is the session's instance tag; the null sink is named
	// "meetnotes-<tag>" so concurrent sessions never collide.
	Tag string

	// BrowserPID identifies the session's browser process. Streams
	// are matched by client pid, not application name, because every
	// session's browser reports the same name.
	BrowserPID int

	Pulse PulseClient
	Clock clock.Clock
	Logger *slog.Logger

	// Interval between routing passes. Defaults to 3s.
	Interval time.Duration
}

// Router keeps one browser's playback streams attached to the
// session's null sink. Meeting audio is then captured from the sink
// monitor while staying silent on the host. Unmute temporarily routes
// the streams to the real default sink so an operator can listen in.
type Router struct {
	cfg      RouterConfig
	sinkName string
	logger   *slog.Logger

	mu       sync.Mutex
	moduleID int
	muted    bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRouter validates the config and returns an unstarted Router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Tag == "" {
		return nil, fmt.Errorf("audio: session tag is required")
	}
	if cfg.Pulse == nil {
		return nil, fmt.Errorf("audio: pulse client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		cfg:      cfg,
		sinkName: "meetnotes-" + cfg.Tag,
		logger:   logging.WithComponent(logger, "audio"),
		muted:    true,
	}, nil
}

// SinkName returns the session's null sink name.
func (r *Router) SinkName() string {
	return r.sinkName
}

// MonitorSource returns the capture source carrying the meeting audio,
// suitable for feeding a speech-to-text recorder.
func (r *Router) MonitorSource() string {
	return r.sinkName + ".monitor"
}

// Start creates the session sink (idempotently) and launches the
// routing loop. The loop runs until Shutdown or ctx cancellation.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return nil
	}

	sinks, err := r.cfg.Pulse.ListSinks(ctx)
	if err != nil {
		return fmt.Errorf("audio: listing sinks: %w", err)
	}
	exists := false
	for _, s := range sinks {
		if s.Name == r.sinkName {
			exists = true
			break
		}
	}
	if !exists {
		id, err := r.cfg.Pulse.LoadNullSink(ctx, r.sinkName)
		if err != nil {
			return fmt.Errorf("audio: creating sink %s: %w", r.sinkName, err)
		}
		r.moduleID = id
		r.logger.Info("session sink created", "sink", r.sinkName, "module", id)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, r.done)
	return nil
}

func (r *Router) loop(ctx context.Context, done chan struct{}) {
	// done is passed in because Shutdown nils r.done before waiting.
	defer close(done)

	ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.route(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.route(ctx)
		}
	}
}

// route moves the browser's playback streams onto the current target
// sink. Errors are logged and retried on the next pass.
func (r *Router) route(ctx context.Context) {
	r.mu.Lock()
	muted := r.muted
	r.mu.Unlock()

	target := r.sinkName
	if !muted {
		def, err := r.cfg.Pulse.DefaultSinkName(ctx)
		if err != nil {
			r.logger.Warn("default sink lookup failed", logging.Err(err))
			return
		}
		target = def
	}

	inputs, err := r.cfg.Pulse.ListSinkInputs(ctx)
	if err != nil {
		r.logger.Warn("sink input listing failed", logging.Err(err))
		return
	}
	for _, input := range inputs {
		if input.PID != r.cfg.BrowserPID {
			continue
		}
		if err := r.cfg.Pulse.MoveSinkInput(ctx, input.Index, target); err != nil {
			r.logger.Warn("stream move failed",
				"input", input.Index, "sink", target, logging.Err(err))
		}
	}
}

// Mute routes meeting audio back to the session sink (silent on the
// host). This is the default state.
func (r *Router) Mute(ctx context.Context) error {
	r.mu.Lock()
	r.muted = true
	r.mu.Unlock()
	r.route(ctx)
	return nil
}

// Unmute routes meeting audio to the host's default sink so an
// operator can listen in.
func (r *Router) Unmute(ctx context.Context) error {
	r.mu.Lock()
	r.muted = false
	r.mu.Unlock()
	r.route(ctx)
	return nil
}

// Shutdown stops the routing loop, releases the session sink, and
// restores a sensible default capture source. Best effort; errors are
// logged, not returned, because shutdown runs during teardown.
func (r *Router) Shutdown(ctx context.Context) {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	moduleID := r.moduleID
	r.cancel = nil
	r.done = nil
	r.moduleID = 0
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			r.logger.Warn("routing loop did not stop in time")
		}
	}

	if moduleID != 0 {
		if err := r.cfg.Pulse.UnloadModule(ctx, moduleID); err != nil {
			r.logger.Warn("sink unload failed", "module", moduleID, logging.Err(err))
		}
	}

	r.restoreDefaultSource(ctx)
	r.logger.Info("audio routing shut down", "sink", r.sinkName)
}

// restoreDefaultSource picks an external microphone (USB or Bluetooth)
// when one is present, so leaving a meeting does not leave the host
// capturing from a leftover monitor source.
func (r *Router) restoreDefaultSource(ctx context.Context) {
	sources, err := r.cfg.Pulse.ListSources(ctx)
	if err != nil {
		r.logger.Warn("source listing failed", logging.Err(err))
		return
	}

	var fallback string
	for _, src := range sources {
		if strings.HasSuffix(src.Name, ".monitor") {
			continue
		}
		desc := strings.ToLower(src.Name + " " + src.Description)
		if strings.Contains(desc, "usb") || strings.Contains(desc, "bluez") || strings.Contains(desc, "bluetooth") {
			if err := r.cfg.Pulse.SetDefaultSource(ctx, src.Name); err == nil {
				r.logger.Info("default source restored", "source", src.Name)
				return
			}
		}
		if fallback == "" {
			fallback = src.Name
		}
	}
	if fallback != "" {
		if err := r.cfg.Pulse.SetDefaultSource(ctx, fallback); err != nil {
			r.logger.Warn("default source restore failed", "source", fallback, logging.Err(err))
		}
	}
}
