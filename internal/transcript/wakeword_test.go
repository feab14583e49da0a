package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWakeDetectorSilenceGap(t *testing.T) {
	var got string
	w := newWakeDetector(WakeConfig{
		Phrase:      "hey notes",
		SilenceGap:  2 * time.Second,
		HardTimeout: 10 * time.Second,
		OnCommand:   func(c string) { got = c },
	})

	base := time.Unix(1000, 0)
	w.Observe("Hey Notes, summarize the meeting", base)
	assert.True(t, w.Active())

	// Still talking; no fire yet.
	w.Check(base.Add(time.Second))
	assert.Empty(t, got)

	w.Observe("so far please", base.Add(time.Second))
	w.Check(base.Add(2 * time.Second))
	assert.Empty(t, got, "gap measured from last speech, not wake")

	w.Check(base.Add(3100 * time.Millisecond))
	assert.Equal(t, "summarize the meeting so far please", got)
	assert.False(t, w.Active())
}

func TestWakeDetectorHardTimeout(t *testing.T) {
	var got string
	w := newWakeDetector(WakeConfig{
		Phrase:      "hey notes",
		SilenceGap:  2 * time.Second,
		HardTimeout: 10 * time.Second,
		OnCommand:   func(c string) { got = c },
	})

	base := time.Unix(1000, 0)
	w.Observe("hey notes take an action item", base)
	// Keep talking so the silence gap never elapses.
	for i := 1; i <= 12; i++ {
		w.Observe("and more", base.Add(time.Duration(i)*time.Second))
		w.Check(base.Add(time.Duration(i) * time.Second))
	}
	assert.NotEmpty(t, got, "hard timeout must end collection")
	assert.False(t, w.Active())
}

func TestWakeDetectorIgnoresNonWakeSpeech(t *testing.T) {
	fired := false
	w := newWakeDetector(WakeConfig{
		Phrase:    "hey notes",
		OnCommand: func(string) { fired = true },
	})

	base := time.Unix(1000, 0)
	w.Observe("let's review the notes from last week", base)
	assert.False(t, w.Active(), "the word notes alone must not trigger")
	w.Check(base.Add(time.Minute))
	assert.False(t, fired)
}

func TestWakeDetectorEmptyCommandNotFired(t *testing.T) {
	fired := false
	w := newWakeDetector(WakeConfig{
		Phrase:     "hey notes",
		SilenceGap: time.Second,
		OnCommand:  func(string) { fired = true },
	})

	base := time.Unix(1000, 0)
	w.Observe("hey notes", base)
	w.Check(base.Add(2 * time.Second))
	assert.False(t, fired, "wake with no command must not fire")
	assert.False(t, w.Active())
}
