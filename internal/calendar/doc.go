// Package calendar provides the Google Calendar client the scheduler
// polls for upcoming meetings.
//
// Only events carrying a video conferencing entry point are surfaced;
// everything else on the calendar is invisible to the daemon. The
// client authenticates per account through the google package's token
// provider.
package calendar
