package calendar

import (
	"regexp"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

// Meeting is a calendar event that carries a video conferencing link.
// This is the shape the scheduler consumes; raw Google event fields
// never leave this package.
type Meeting struct {
	EventID     string
	CalendarID  string
	Title       string
	MeetURL     string
	Start       time.Time
	End         time.Time
	Organizer   string
	Attendees   []string
	Description string
}

// CalendarInfo describes a calendar visible to the account.
type CalendarInfo struct {
	ID       string
	Summary  string
	TimeZone string
	Primary  bool
}

// meetCodePattern matches the three-group code embedded in a Meet URL
// (e.g. https://meet.google.com/abc-defg-hij).
var meetCodePattern = regexp.MustCompile(`meet\.google\.com/([a-z]{3}-[a-z]{4}-[a-z]{3})`)

// MeetCode extracts the meeting code from a Meet URL. Returns "" when
// the URL does not contain one.
func MeetCode(url string) string {
	m := meetCodePattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// toMeeting converts a Google Calendar event into a Meeting. Returns
// false when the event has no video entry point or unparsable times.
func toMeeting(calendarID string, event *gcal.Event) (Meeting, bool) {
	if event == nil {
		return Meeting{}, false
	}

	url := videoEntryPoint(event)
	if url == "" {
		return Meeting{}, false
	}

	start, ok := parseEventTime(event.Start)
	if !ok {
		return Meeting{}, false
	}
	end, ok := parseEventTime(event.End)
	if !ok {
		return Meeting{}, false
	}

	m := Meeting{
		EventID:     event.Id,
		CalendarID:  calendarID,
		Title:       event.Summary,
		MeetURL:     url,
		Start:       start,
		End:         end,
		Description: event.Description,
	}
	if event.Organizer != nil {
		m.Organizer = event.Organizer.Email
	}
	for _, att := range event.Attendees {
		if att.Email != "" {
			m.Attendees = append(m.Attendees, att.Email)
		}
	}
	return m, true
}

// videoEntryPoint returns the event's video conferencing URL, checking
// structured conference data first and falling back to a Meet link in
// the location or description.
func videoEntryPoint(event *gcal.Event) string {
	if event.ConferenceData != nil {
		for _, ep := range event.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.Uri != "" {
				return ep.Uri
			}
		}
	}
	if event.HangoutLink != "" {
		return event.HangoutLink
	}
	for _, field := range []string{event.Location, event.Description} {
		if loc := meetCodePattern.FindString(field); loc != "" {
			return "https://" + loc
		}
	}
	return ""
}

func parseEventTime(edt *gcal.EventDateTime) (time.Time, bool) {
	if edt == nil {
		return time.Time{}, false
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		return t, err == nil
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		return t, err == nil
	}
	return time.Time{}, false
}

func toCalendarInfo(entry *gcal.CalendarListEntry) CalendarInfo {
	if entry == nil {
		return CalendarInfo{}
	}
	return CalendarInfo{
		ID:       entry.Id,
		Summary:  entry.Summary,
		TimeZone: entry.TimeZone,
		Primary:  entry.Primary,
	}
}
