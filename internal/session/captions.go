package session

import (
	"context"
	"fmt"
	"time"

	"github.com/teemow/meetnotes/internal/browser"
	"github.com/teemow/meetnotes/internal/logging"
	"github.com/teemow/meetnotes/internal/transcript"
)

// CaptionConfig tunes the caption capture loop.
type CaptionConfig struct {
	// SettleWindow is how long a caption node must stop changing
	// before the observer queues it. Meet redraws nodes many times a
	// second while someone talks; 600ms balances latency against
	// queue churn. Sensible range is 400-800ms.
	SettleWindow time.Duration

	// PollInterval is how often the host drains the in-page queue.
	PollInterval time.Duration
}

func (c *CaptionConfig) applyDefaults() {
	if c.SettleWindow <= 0 {
		c.SettleWindow = 600 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

// captionObserverJS installs a MutationObserver over the caption
// region. Each caption node gets a settle timer; once the node stops
// changing for the settle window (or its speaker yields to a new one)
// the observation is pushed onto an in-page queue the host drains.
// The %d placeholder is the settle window in milliseconds.
const captionObserverJS = `
(() => {
  if (window.__mnObserver) { return true; }
  const SETTLE_MS = %d;
  window.__mnQueue = [];
  window.__mnSeq = 0;
  const pending = new Map();
  const nodeIds = new WeakMap();

  const idFor = (node) => {
    if (!nodeIds.has(node)) { nodeIds.set(node, 'cap-' + (++window.__mnSeq)); }
    return nodeIds.get(node);
  };

  const flush = (id) => {
    const p = pending.get(id);
    if (!p) { return; }
    clearTimeout(p.timer);
    pending.delete(id);
    window.__mnQueue.push({
      id: id, speaker: p.speaker, text: p.text,
      ts: Date.now(), update: p.seen,
    });
  };

  const observe = (node) => {
    const speakerEl = node.querySelector('[data-self-name], .name, [class*="speaker"]');
    const textEl = node.querySelector('[jsname], .caption-text, span') || node;
    const speaker = speakerEl ? speakerEl.textContent.trim() : '';
    const text = textEl.textContent.trim();
    if (!text) { return; }
    const id = idFor(node);

    // A different speaker starting means earlier captions are final.
    for (const [pid, p] of pending) {
      if (pid !== id && p.speaker !== speaker) { flush(pid); }
    }

    const prev = pending.get(id);
    if (prev) { clearTimeout(prev.timer); }
    pending.set(id, {
      speaker: speaker, text: text,
      seen: prev ? true : false,
      timer: setTimeout(() => flush(id), SETTLE_MS),
    });
  };

  const region = document.querySelector('[aria-label*="aption"], [role="region"][aria-live]');
  if (!region) { return false; }

  window.__mnObserver = new MutationObserver((mutations) => {
    const seen = new Set();
    for (const m of mutations) {
      let node = m.target.nodeType === 1 ? m.target : m.target.parentElement;
      while (node && node !== region && !node.hasAttribute('data-participant-id') &&
             node.parentElement !== region) {
        node = node.parentElement;
      }
      if (node && node !== region && !seen.has(node)) {
        seen.add(node);
        observe(node);
      }
    }
  });
  window.__mnObserver.observe(region, { childList: true, subtree: true, characterData: true });
  return true;
})()
`

// captionDrainJS returns and clears the in-page queue.
const captionDrainJS = `
(() => {
  const q = window.__mnQueue || [];
  window.__mnQueue = [];
  return q;
})()
`

// captionDisconnectJS stops the observer and returns any queued
// leftovers for the final drain.
const captionDisconnectJS = `
(() => {
  if (window.__mnObserver) { window.__mnObserver.disconnect(); window.__mnObserver = null; }
  const q = window.__mnQueue || [];
  window.__mnQueue = [];
  return q;
})()
`

// participantsJS lists the visible roster names from the participant
// tiles.
const participantsJS = `
(() => {
  const names = new Set();
  for (const el of document.querySelectorAll('[data-participant-id]')) {
    const nameEl = el.querySelector('[data-self-name], .name');
    const name = (el.getAttribute('data-participant-name') ||
      (nameEl ? nameEl.textContent : '')).trim();
    if (name) { names.add(name); }
  }
  return Array.from(names).sort();
})()
`

type rawCaption struct {
	ID      string `json:"id"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	TS      int64  `json:"ts"`
	Update  bool   `json:"update"`
}

func (r rawCaption) entry() transcript.CaptionEntry {
	return transcript.CaptionEntry{
		CaptionID: r.ID,
		Speaker:   r.Speaker,
		Text:      r.Text,
		Timestamp: time.UnixMilli(r.TS).UTC(),
		IsUpdate:  r.Update,
	}
}

// StartCaptions injects the observer and launches the capture loop
// feeding submit. The loop runs until StopCaptions, ctx cancellation,
// or the browser tab going away.
func (c *Controller) StartCaptions(ctx context.Context, submit func(transcript.CaptionEntry)) error {
	if c.driver == nil {
		return fmt.Errorf("session: not initialized")
	}
	if c.captionDone != nil {
		return nil
	}

	cfg := c.cfg.Captions
	cfg.applyDefaults()

	js := fmt.Sprintf(captionObserverJS, cfg.SettleWindow.Milliseconds())
	var installed bool
	if err := c.driver.Evaluate(ctx, js, &installed); err != nil {
		return fmt.Errorf("session: installing caption observer: %w", err)
	}
	if !installed {
		return fmt.Errorf("session: caption region not found; are captions enabled?")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.captionCancel = cancel
	c.captionDone = make(chan struct{})
	go c.captionLoop(loopCtx, cfg, submit)
	return nil
}

func (c *Controller) captionLoop(ctx context.Context, cfg CaptionConfig, submit func(transcript.CaptionEntry)) {
	defer close(c.captionDone)

	ticker := c.clk.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finalDrain(submit)
			return
		case <-ticker.C:
			var batch []rawCaption
			if err := c.driver.Evaluate(ctx, captionDrainJS, &batch); err != nil {
				if ctx.Err() != nil {
					// Our own cancellation raced the poll; drain like a
					// normal stop.
					c.finalDrain(submit)
					return
				}
				if browser.IsTargetClosed(err) {
					c.logger.Info("caption target closed, stopping capture")
					c.box.update(func(s *MeetingState) {
						s.Joined = false
						s.CaptionsEnabled = false
					})
					return
				}
				c.logger.Warn("caption drain failed", logging.Err(err))
				continue
			}
			for _, raw := range batch {
				submit(raw.entry())
			}
			c.refreshParticipants(ctx)
		}
	}
}

// refreshParticipants snapshots the roster names into the session
// state. Roster failures are quiet; the tiles disappear in some
// layouts.
func (c *Controller) refreshParticipants(ctx context.Context) {
	var names []string
	if err := c.driver.Evaluate(ctx, participantsJS, &names); err != nil {
		return
	}
	c.box.update(func(s *MeetingState) { s.Participants = names })
}

// finalDrain disconnects the observer and hands over whatever was
// still queued in the page.
func (c *Controller) finalDrain(submit func(transcript.CaptionEntry)) {
	drainCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var batch []rawCaption
	if err := c.driver.Evaluate(drainCtx, captionDisconnectJS, &batch); err != nil {
		if !browser.IsTargetClosed(err) {
			c.logger.Warn("final caption drain failed", logging.Err(err))
		}
		return
	}
	for _, raw := range batch {
		submit(raw.entry())
	}
}

// StopCaptions stops the capture loop and waits for it to drain.
func (c *Controller) StopCaptions() {
	if c.captionCancel == nil {
		return
	}
	c.captionCancel()
	select {
	case <-c.captionDone:
	case <-time.After(5 * time.Second):
		c.logger.Warn("caption loop did not stop in time")
	}
	c.captionCancel = nil
	c.captionDone = nil
}
