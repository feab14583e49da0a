package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyComponent = "component"
	KeyOperation = "operation"
	KeyMeeting   = "meeting"
	KeySession   = "session"
	KeyCalendar  = "calendar"
	KeySpeaker   = "speaker"
	KeyStatus    = "status"
	KeyDuration  = "duration"
	KeyError     = "error"
	KeyTool      = "tool"
	KeyURL       = "url"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WithComponent returns a logger with the component attribute set.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(KeyComponent, component))
}

// WithMeeting returns a logger with the meeting code attribute set.
func WithMeeting(logger *slog.Logger, code string) *slog.Logger {
	return logger.With(slog.String(KeyMeeting, code))
}

// WithSession returns a logger with the session id attribute set.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String(KeySession, sessionID))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Meeting returns a slog attribute for the meeting code.
func Meeting(code string) slog.Attr {
	return slog.String(KeyMeeting, code)
}

// Session returns a slog attribute for the session id.
func Session(id string) slog.Attr {
	return slog.String(KeySession, id)
}

// Calendar returns a slog attribute for the calendar id.
func Calendar(id string) slog.Attr {
	return slog.String(KeyCalendar, id)
}

// Tool returns a slog attribute for the MCP tool name.
func Tool(tool string) slog.Attr {
	return slog.String(KeyTool, tool)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Duration returns a slog attribute for an elapsed duration.
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted
// from output, so Err(maybeNilErr) is always safe to pass.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a hashed representation of an email for
// logging. Attendee lists and organizers are PII; this keeps log lines
// correlatable without storing addresses in logs.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// Organizer returns a slog attribute with the anonymized organizer email.
func Organizer(email string) slog.Attr {
	return slog.String("organizer_hash", AnonymizeEmail(email))
}
