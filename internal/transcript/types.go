// Package transcript turns the raw caption stream from the Meet UI
// into clean transcript entries. Meet redraws captions continually
// while a speaker talks, so the processor deduplicates in place by
// caption id and refinement heuristics before anything is persisted.
package transcript

import "time"

// SpeakerMeetingAudio labels entries produced by speech-to-text over
// the meeting audio capture rather than the caption DOM.
const SpeakerMeetingAudio = "Meeting Audio"

// CaptionEntry is one raw observation from the caption DOM. CaptionID
// is the DOM node identity Meet assigns; IsUpdate marks redraws of a
// node already seen.
type CaptionEntry struct {
	CaptionID string
	Speaker   string
	Text      string
	Timestamp time.Time
	IsUpdate  bool
}

// Entry is one deduplicated transcript line ready for persistence.
type Entry struct {
	Speaker   string
	Text      string
	Timestamp time.Time
}
