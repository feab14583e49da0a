package store

import "time"

// Calendar is a monitored calendar registration. Persisted until
// explicitly removed.
type Calendar struct {
	ID       string
	Name     string
	AutoJoin bool
	BotMode  string
	Enabled  bool
}

// Meeting is the durable record of one meeting the bot was (or will
// be) involved in. Created when a join begins; completed on leave.
type Meeting struct {
	ID             int64
	EventID        string
	CalendarID     string
	Title          string
	MeetURL        string
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	ActualStart    time.Time
	ActualEnd      time.Time
	Organizer      string
	Attendees      []string
	Mode           string
	Status         string
	Summary        string
	ActionItems    []string
	Tags           []string
}

// TranscriptRow is one persisted transcript entry. Rows are append
// only; a later correction of the same utterance becomes a new row
// rather than mutating history.
type TranscriptRow struct {
	ID        int64
	MeetingID int64
	Speaker   string
	Text      string
	Timestamp time.Time
}

// SearchHit is one full-text search result over the transcripts.
type SearchHit struct {
	TranscriptRow
	MeetingTitle string
}

// Meeting status values stored in the meetings table.
const (
	MeetingStatusActive    = "active"
	MeetingStatusCompleted = "completed"
	MeetingStatusAborted   = "aborted"
)
