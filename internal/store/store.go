package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/teemow/meetnotes/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS calendars (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	auto_join INTEGER NOT NULL DEFAULT 0,
	bot_mode  TEXT NOT NULL DEFAULT 'notes',
	enabled   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS meetings (
	id              INTEGER PRIMARY KEY,
	event_id        TEXT NOT NULL,
	calendar_id     TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	meet_url        TEXT NOT NULL DEFAULT '',
	scheduled_start INTEGER,
	scheduled_end   INTEGER,
	actual_start    INTEGER,
	actual_end      INTEGER,
	organizer       TEXT NOT NULL DEFAULT '',
	attendees       TEXT NOT NULL DEFAULT '[]',
	mode            TEXT NOT NULL DEFAULT 'notes',
	status          TEXT NOT NULL DEFAULT 'active',
	summary         TEXT NOT NULL DEFAULT '',
	action_items    TEXT NOT NULL DEFAULT '[]',
	tags            TEXT NOT NULL DEFAULT '[]',
	UNIQUE(event_id, calendar_id)
);

CREATE INDEX IF NOT EXISTS idx_meetings_calendar ON meetings(calendar_id);
CREATE INDEX IF NOT EXISTS idx_meetings_status ON meetings(status);
CREATE INDEX IF NOT EXISTS idx_meetings_scheduled ON meetings(scheduled_start);

CREATE TABLE IF NOT EXISTS transcripts (
	id         INTEGER PRIMARY KEY,
	meeting_id INTEGER NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
	speaker    TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_meeting ON transcripts(meeting_id, ts);

CREATE VIRTUAL TABLE IF NOT EXISTS transcripts_fts USING fts5(
	speaker, text,
	content='transcripts',
	content_rowid='id'
);
`

// Store is the durable notes database: calendar registrations, meeting
// records, and full-text-searchable transcripts. Safe for concurrent
// use; the connection pool serializes writers and WAL mode keeps
// readers unblocked.
type Store struct {
	pool   *pool
	logger *slog.Logger
}

// Options configures Open.
type Options struct {
	// Path is the database file path, or ":memory:" for tests.
	Path string

	// PoolSize is the connection pool size. Must be 1 for in-memory
	// databases. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. Defaults to a discard
	// logger.
	Logger *slog.Logger
}

// Open opens (creating if necessary) the notes database and applies
// the schema.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logging.WithComponent(logger, "store")

	poolSize := opts.PoolSize
	path := opts.Path
	if path == ":memory:" {
		poolSize = 1
		// sqlitex.NewPool rejects the bare ":memory:" path and
		// requires this URI form instead.
		path = "file::memory:?mode=memory&cache=shared"
	}

	p, err := openPool(path, poolSize, logger, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		return nil, err
	}

	return &Store{pool: p, logger: logger}, nil
}

// Close releases all database connections.
func (s *Store) Close() error {
	return s.pool.close()
}

// AddCalendar registers (or updates) a monitored calendar.
func (s *Store) AddCalendar(ctx context.Context, cal Calendar) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO calendars (id, name, auto_join, bot_mode, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			auto_join = excluded.auto_join,
			bot_mode = excluded.bot_mode,
			enabled = excluded.enabled`,
		&sqlitex.ExecOptions{
			Args: []any{cal.ID, cal.Name, boolToInt(cal.AutoJoin), cal.BotMode, boolToInt(cal.Enabled)},
		})
}

// RemoveCalendar deletes a monitored calendar registration.
func (s *Store) RemoveCalendar(ctx context.Context, id string) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	return sqlitex.Execute(conn, `DELETE FROM calendars WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
}

// ListCalendars returns all monitored calendars.
func (s *Store) ListCalendars(ctx context.Context) ([]Calendar, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var cals []Calendar
	err = sqlitex.Execute(conn, `
		SELECT id, name, auto_join, bot_mode, enabled FROM calendars ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				cals = append(cals, Calendar{
					ID:       stmt.ColumnText(0),
					Name:     stmt.ColumnText(1),
					AutoJoin: stmt.ColumnInt64(2) != 0,
					BotMode:  stmt.ColumnText(3),
					Enabled:  stmt.ColumnInt64(4) != 0,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing calendars: %w", err)
	}
	return cals, nil
}

// CreateMeeting creates a meeting record, or returns the existing row
// id when a record for the same (event_id, calendar_id) already
// exists. Calling it twice for the same event is safe and returns the
// same id both times.
func (s *Store) CreateMeeting(ctx context.Context, m Meeting) (id int64, err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.put(conn)

	defer sqlitex.Save(conn)(&err)

	err = sqlitex.Execute(conn, `
		SELECT id FROM meetings WHERE event_id = ? AND calendar_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{m.EventID, m.CalendarID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: looking up meeting: %w", err)
	}
	if id != 0 {
		return id, nil
	}

	attendees, err := json.Marshal(emptyIfNil(m.Attendees))
	if err != nil {
		return 0, fmt.Errorf("store: encoding attendees: %w", err)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO meetings (
			event_id, calendar_id, title, meet_url,
			scheduled_start, scheduled_end, actual_start,
			organizer, attendees, mode, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				m.EventID, m.CalendarID, m.Title, m.MeetURL,
				unixOrNil(m.ScheduledStart), unixOrNil(m.ScheduledEnd), unixOrNil(m.ActualStart),
				m.Organizer, string(attendees), m.Mode, MeetingStatusActive,
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: inserting meeting: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

// CompleteMeeting marks a meeting finished, recording the actual end
// time and final status.
func (s *Store) CompleteMeeting(ctx context.Context, id int64, status string, actualEnd time.Time) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE meetings SET status = ?, actual_end = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{status, actualEnd.UnixMilli(), id}})
	if err != nil {
		return fmt.Errorf("store: completing meeting %d: %w", id, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMeetingSummary sets the post-meeting summary, action items,
// and tags.
func (s *Store) UpdateMeetingSummary(ctx context.Context, id int64, summary string, actionItems, tags []string) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	items, err := json.Marshal(emptyIfNil(actionItems))
	if err != nil {
		return fmt.Errorf("store: encoding action items: %w", err)
	}
	tagsJSON, err := json.Marshal(emptyIfNil(tags))
	if err != nil {
		return fmt.Errorf("store: encoding tags: %w", err)
	}

	err = sqlitex.Execute(conn, `
		UPDATE meetings SET summary = ?, action_items = ?, tags = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{summary, string(items), string(tagsJSON), id}})
	if err != nil {
		return fmt.Errorf("store: updating meeting %d summary: %w", id, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMeeting returns one meeting record by id.
func (s *Store) GetMeeting(ctx context.Context, id int64) (Meeting, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return Meeting{}, err
	}
	defer s.pool.put(conn)

	var m Meeting
	found := false
	err = sqlitex.Execute(conn, selectMeeting+` WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				m = scanMeeting(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Meeting{}, fmt.Errorf("store: getting meeting %d: %w", id, err)
	}
	if !found {
		return Meeting{}, ErrNotFound
	}
	return m, nil
}

// ListMeetings returns the most recent meetings, newest scheduled
// first, up to limit.
func (s *Store) ListMeetings(ctx context.Context, limit int) ([]Meeting, error) {
	if limit <= 0 {
		limit = 50
	}
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var meetings []Meeting
	err = sqlitex.Execute(conn, selectMeeting+` ORDER BY scheduled_start DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				meetings = append(meetings, scanMeeting(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing meetings: %w", err)
	}
	return meetings, nil
}

// InsertTranscripts appends a batch of transcript entries for one
// meeting in a single transaction. Entries are written in increasing
// timestamp order regardless of input order.
func (s *Store) InsertTranscripts(ctx context.Context, meetingID int64, rows []TranscriptRow) (err error) {
	if len(rows) == 0 {
		return nil
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	sorted := make([]TranscriptRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	defer sqlitex.Save(conn)(&err)

	for _, row := range sorted {
		err = sqlitex.Execute(conn, `
			INSERT INTO transcripts (meeting_id, speaker, text, ts) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{meetingID, row.Speaker, row.Text, row.Timestamp.UnixMilli()},
			})
		if err != nil {
			return fmt.Errorf("store: inserting transcript: %w", err)
		}
		rowID := conn.LastInsertRowID()
		err = sqlitex.Execute(conn, `
			INSERT INTO transcripts_fts (rowid, speaker, text) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{rowID, row.Speaker, row.Text}})
		if err != nil {
			return fmt.Errorf("store: indexing transcript: %w", err)
		}
	}

	s.logger.Debug("transcript batch persisted",
		"meeting_id", meetingID,
		"rows", len(sorted),
	)
	return nil
}

// TranscriptsForMeeting returns all transcript rows for a meeting in
// timestamp order.
func (s *Store) TranscriptsForMeeting(ctx context.Context, meetingID int64) ([]TranscriptRow, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var rows []TranscriptRow
	err = sqlitex.Execute(conn, `
		SELECT id, meeting_id, speaker, text, ts FROM transcripts
		WHERE meeting_id = ? ORDER BY ts, id`,
		&sqlitex.ExecOptions{
			Args: []any{meetingID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = append(rows, scanTranscript(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: reading transcript for meeting %d: %w", meetingID, err)
	}
	return rows, nil
}

// SearchTranscripts runs a full-text query over transcript speaker and
// text, optionally scoped to one meeting (meetingID > 0). Results are
// ranked by FTS5 relevance.
func (s *Store) SearchTranscripts(ctx context.Context, query string, meetingID int64, limit int) ([]SearchHit, error) {
	if query == "" {
		return nil, fmt.Errorf("store: search query is required")
	}
	if limit <= 0 {
		limit = 20
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	sql := `
		SELECT t.id, t.meeting_id, t.speaker, t.text, t.ts, m.title
		FROM transcripts_fts f
		JOIN transcripts t ON t.id = f.rowid
		JOIN meetings m ON m.id = t.meeting_id
		WHERE transcripts_fts MATCH ?`
	args := []any{query}
	if meetingID > 0 {
		sql += ` AND t.meeting_id = ?`
		args = append(args, meetingID)
	}
	sql += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	var hits []SearchHit
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			hits = append(hits, SearchHit{
				TranscriptRow: scanTranscript(stmt),
				MeetingTitle:  stmt.ColumnText(5),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: searching transcripts: %w", err)
	}
	return hits, nil
}

const selectMeeting = `
	SELECT id, event_id, calendar_id, title, meet_url,
		scheduled_start, scheduled_end, actual_start, actual_end,
		organizer, attendees, mode, status, summary, action_items, tags
	FROM meetings`

func scanMeeting(stmt *sqlite.Stmt) Meeting {
	m := Meeting{
		ID:             stmt.ColumnInt64(0),
		EventID:        stmt.ColumnText(1),
		CalendarID:     stmt.ColumnText(2),
		Title:          stmt.ColumnText(3),
		MeetURL:        stmt.ColumnText(4),
		ScheduledStart: timeFromUnix(stmt.ColumnInt64(5)),
		ScheduledEnd:   timeFromUnix(stmt.ColumnInt64(6)),
		ActualStart:    timeFromUnix(stmt.ColumnInt64(7)),
		ActualEnd:      timeFromUnix(stmt.ColumnInt64(8)),
		Organizer:      stmt.ColumnText(9),
		Mode:           stmt.ColumnText(11),
		Status:         stmt.ColumnText(12),
		Summary:        stmt.ColumnText(13),
	}
	// Decode errors leave the slice nil; rows written by this package
	// always contain valid JSON.
	_ = json.Unmarshal([]byte(stmt.ColumnText(10)), &m.Attendees)
	_ = json.Unmarshal([]byte(stmt.ColumnText(14)), &m.ActionItems)
	_ = json.Unmarshal([]byte(stmt.ColumnText(15)), &m.Tags)
	return m
}

func scanTranscript(stmt *sqlite.Stmt) TranscriptRow {
	return TranscriptRow{
		ID:        stmt.ColumnInt64(0),
		MeetingID: stmt.ColumnInt64(1),
		Speaker:   stmt.ColumnText(2),
		Text:      stmt.ColumnText(3),
		Timestamp: timeFromUnix(stmt.ColumnInt64(4)),
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func unixOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func timeFromUnix(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
