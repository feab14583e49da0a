package transcript

import (
	"strings"
	"sync"
	"time"
)

// WakeConfig configures wake-word detection over the caption stream.
type WakeConfig struct {
	// Phrase triggers command collection when it appears in a caption.
	Phrase string

	// SilenceGap ends the command when no new speech arrives for this
	// long. Defaults to 2s.
	SilenceGap time.Duration

	// HardTimeout caps command collection regardless of ongoing
	// speech. Defaults to 10s.
	HardTimeout time.Duration

	// OnCommand receives the collected command text.
	OnCommand func(command string)
}

// wakeDetector watches caption text for the wake phrase and collects
// the words that follow until the speaker pauses. Check is driven by
// the processor's poll ticker so fake-clock tests stay deterministic.
type wakeDetector struct {
	cfg    WakeConfig
	phrase string

	mu        sync.Mutex
	active    bool
	startedAt time.Time
	lastAt    time.Time
	parts     []string
}

func newWakeDetector(cfg WakeConfig) *wakeDetector {
	if cfg.SilenceGap <= 0 {
		cfg.SilenceGap = 2 * time.Second
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = 10 * time.Second
	}
	return &wakeDetector{
		cfg:    cfg,
		phrase: normalizeCaption(cfg.Phrase),
	}
}

// Observe feeds one caption text into the detector.
func (w *wakeDetector) Observe(text string, now time.Time) {
	if w.phrase == "" || w.cfg.OnCommand == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active {
		w.parts = append(w.parts, text)
		w.lastAt = now
		return
	}

	norm := normalizeCaption(text)
	idx := strings.Index(norm, w.phrase)
	if idx < 0 {
		return
	}
	w.active = true
	w.startedAt = now
	w.lastAt = now
	w.parts = w.parts[:0]
	if rest := strings.TrimSpace(norm[idx+len(w.phrase):]); rest != "" {
		w.parts = append(w.parts, rest)
	}
}

// Check fires the command callback when the speaker has paused past
// the silence gap, or when the hard timeout elapsed. Called from the
// processor's 200ms poll.
func (w *wakeDetector) Check(now time.Time) {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	paused := now.Sub(w.lastAt) >= w.cfg.SilenceGap
	expired := now.Sub(w.startedAt) >= w.cfg.HardTimeout
	if !paused && !expired {
		w.mu.Unlock()
		return
	}
	command := strings.TrimSpace(strings.Join(w.parts, " "))
	w.active = false
	w.parts = nil
	w.mu.Unlock()

	if command != "" {
		w.cfg.OnCommand(command)
	}
}

// Active reports whether a command is currently being collected. Used
// to suppress echoing command speech into the transcript.
func (w *wakeDetector) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
