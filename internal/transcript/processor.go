package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/logging"
)

// PersistFunc receives a flushed batch in timestamp order.
type PersistFunc func(ctx context.Context, entries []Entry) error

// Config configures a Processor.
type Config struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// Persist is called with each flushed batch.
	Persist PersistFunc

	// FlushInterval between periodic flushes. Defaults to 30s.
	FlushInterval time.Duration

	// ChannelSize bounds the caption intake channel. Defaults to 256.
	ChannelSize int

	// Wake enables wake-word detection when Phrase is set.
	Wake WakeConfig

	// WakePoll is the wake detector poll interval. Defaults to 200ms.
	WakePoll time.Duration
}

// Processor consumes raw caption observations and maintains a
// deduplicated in-memory buffer that is periodically flushed to
// storage. One processor serves one meeting session.
type Processor struct {
	cfg    Config
	logger *slog.Logger
	in     chan CaptionEntry
	wake   *wakeDetector

	mu           sync.Mutex
	buffer       []Entry
	byID         map[string]int
	lastIdx      int
	lastSpeaker  string
	lastActivity time.Time
	dropped      int64

	ttsPlaying atomic.Bool
}

// NewProcessor validates cfg and returns a ready processor. Run must
// be called to start channel consumption and periodic flushing.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Persist == nil {
		return nil, fmt.Errorf("transcript: persist function is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 256
	}
	if cfg.WakePoll <= 0 {
		cfg.WakePoll = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Processor{
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "transcript"),
		in:      make(chan CaptionEntry, cfg.ChannelSize),
		byID:    map[string]int{},
		lastIdx: -1,
	}
	if cfg.Wake.Phrase != "" {
		p.wake = newWakeDetector(cfg.Wake)
	}
	return p, nil
}

// Submit queues one caption observation without blocking. Returns
// false when the channel is full and the observation was dropped;
// captions arrive faster than they can matter, so dropping under
// pressure beats stalling the capture loop.
func (p *Processor) Submit(e CaptionEntry) bool {
	select {
	case p.in <- e:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		n := p.dropped
		p.mu.Unlock()
		if n%100 == 1 {
			p.logger.Warn("caption channel full, dropping", "dropped_total", n)
		}
		return false
	}
}

// SubmitSTT records a speech-to-text line from the meeting audio
// capture. Lines heard while the bot's own TTS is playing are dropped
// so the bot does not transcribe itself.
func (p *Processor) SubmitSTT(text string, ts time.Time) {
	if p.ttsPlaying.Load() {
		return
	}
	p.Ingest(CaptionEntry{Speaker: SpeakerMeetingAudio, Text: text, Timestamp: ts})
}

// SetTTSPlaying marks whether the bot is currently speaking.
func (p *Processor) SetTTSPlaying(playing bool) {
	p.ttsPlaying.Store(playing)
}

// Ingest applies one observation to the buffer synchronously. Run
// calls this for channel submissions; tests call it directly.
func (p *Processor) Ingest(e CaptionEntry) {
	if e.Text == "" {
		return
	}

	now := p.cfg.Clock.Now()
	if p.wake != nil && e.Speaker != SpeakerMeetingAudio {
		p.wake.Observe(e.Text, now)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActivity = now

	// Known caption id: Meet redrew a node we already hold.
	if e.CaptionID != "" {
		if idx, ok := p.byID[e.CaptionID]; ok {
			p.buffer[idx].Text = e.Text
			if e.Speaker != "" {
				p.buffer[idx].Speaker = e.Speaker
			}
			return
		}
	}

	// Meet sometimes assigns a fresh id to a redraw of the same
	// utterance. Fold it into the previous entry when the speaker
	// matches and the text is a refinement.
	if p.lastIdx >= 0 && e.Speaker == p.lastSpeaker &&
		isRefinement(p.buffer[p.lastIdx].Text, e.Text) {
		p.buffer[p.lastIdx].Text = e.Text
		if e.CaptionID != "" {
			p.byID[e.CaptionID] = p.lastIdx
		}
		return
	}

	p.buffer = append(p.buffer, Entry{
		Speaker:   e.Speaker,
		Text:      e.Text,
		Timestamp: e.Timestamp,
	})
	p.lastIdx = len(p.buffer) - 1
	p.lastSpeaker = e.Speaker
	if e.CaptionID != "" {
		p.byID[e.CaptionID] = p.lastIdx
	}
}

// Run consumes the caption channel, drives the wake detector poll, and
// flushes periodically until ctx is done. A final flush runs on exit.
func (p *Processor) Run(ctx context.Context) {
	flush := p.cfg.Clock.NewTicker(p.cfg.FlushInterval)
	defer flush.Stop()

	var wakeC <-chan time.Time
	if p.wake != nil {
		wakePoll := p.cfg.Clock.NewTicker(p.cfg.WakePoll)
		defer wakePoll.Stop()
		wakeC = wakePoll.C
	}

	for {
		select {
		case <-ctx.Done():
			p.drain()
			if err := p.Flush(context.Background()); err != nil {
				p.logger.Error("final flush failed", logging.Err(err))
			}
			return
		case e := <-p.in:
			p.Ingest(e)
		case <-flush.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Error("periodic flush failed", logging.Err(err))
			}
		case <-wakeC:
			p.wake.Check(p.cfg.Clock.Now())
		}
	}
}

func (p *Processor) drain() {
	for {
		select {
		case e := <-p.in:
			p.Ingest(e)
		default:
			return
		}
	}
}

// Flush persists the buffered entries in timestamp order and clears
// the buffer and the caption-id map. Subsequent redraws of flushed
// captions start new entries; history is append-only. On persistence
// failure the batch is requeued for the next flush.
func (p *Processor) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := p.buffer
	p.buffer = nil
	p.byID = map[string]int{}
	p.lastIdx = -1
	p.lastSpeaker = ""
	p.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	if err := p.cfg.Persist(ctx, batch); err != nil {
		p.mu.Lock()
		// Entries ingested while Persist ran recorded indices into the
		// fresh buffer; prepending the batch shifts them.
		for id, idx := range p.byID {
			p.byID[id] = idx + len(batch)
		}
		if p.lastIdx >= 0 {
			p.lastIdx += len(batch)
		}
		p.buffer = append(batch, p.buffer...)
		p.mu.Unlock()
		return fmt.Errorf("transcript: persisting %d entries: %w", len(batch), err)
	}

	p.logger.Debug("transcript flushed", "entries", len(batch))
	return nil
}

// LastActivity returns when the processor last saw a caption. The bot
// manager uses this for hang detection.
func (p *Processor) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// PendingCount returns the number of unflushed entries.
func (p *Processor) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
