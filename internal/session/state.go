// Package session drives a single Google Meet browser session: joining
// a meeting, selecting virtual devices, capturing live captions, and
// leaving again. One Controller owns one browser instance for the
// lifetime of one meeting.
package session

import "sync"

// MeetingState is the observable state of one session. A snapshot is
// returned by Controller.State; fields never mutate after snapshot.
type MeetingState struct {
	MeetCode        string
	Joined          bool
	CaptionsEnabled bool
	Muted           bool
	CameraOff       bool
	Participants    []string
	Errors          []string
}

// stateBox guards the mutable state behind a mutex so the caption
// loop, the join flow, and status tools can touch it concurrently.
type stateBox struct {
	mu    sync.Mutex
	state MeetingState
}

func (b *stateBox) snapshot() MeetingState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state
	s.Participants = append([]string(nil), b.state.Participants...)
	s.Errors = append([]string(nil), b.state.Errors...)
	return s
}

func (b *stateBox) update(fn func(*MeetingState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.state)
}

func (b *stateBox) recordError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Errors = append(b.state.Errors, msg)
}
