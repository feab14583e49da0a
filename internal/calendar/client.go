package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/meetnotes/internal/google"
)

// Client wraps the Google Calendar service for one account.
type Client struct {
	svc           *gcal.Service
	account       string
	tokenProvider google.TokenProvider
}

// Account returns the account name this client is associated with.
func (c *Client) Account() string {
	return c.account
}

// HasTokenForAccount checks if a valid OAuth token exists for the
// specified account.
func HasTokenForAccount(account string) bool {
	return google.NewFileTokenProvider().HasTokenForAccount(account)
}

// GetAuthURLForAccount returns the authorization URL for the account.
func GetAuthURLForAccount(account string) string {
	return google.GetAuthURLForAccount(account)
}

// NewClientForAccountWithProvider creates a Calendar client for a
// specific account, retrieving the OAuth token from the given
// provider.
func NewClientForAccountWithProvider(ctx context.Context, account string, tokenProvider google.TokenProvider) (*Client, error) {
	if tokenProvider == nil {
		return nil, fmt.Errorf("token provider cannot be nil")
	}

	token, err := tokenProvider.GetTokenForAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("getting Google OAuth token for account %s: %w", account, err)
	}

	conf := google.GetOAuthConfig()
	tokenSource := conf.TokenSource(ctx, token)
	client := oauth2.NewClient(ctx, tokenSource)

	// Force HTTP/1.1; the Calendar API intermittently resets HTTP/2
	// streams on long-lived daemon connections.
	transport := client.Transport.(*oauth2.Transport)
	transport.Base = &http.Transport{ForceAttemptHTTP2: false}

	svc, err := gcal.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("creating Calendar service: %w", err)
	}

	return &Client{
		svc:           svc,
		account:       account,
		tokenProvider: tokenProvider,
	}, nil
}

// NewClientForAccount creates a Calendar client using the default
// file-based token provider.
func NewClientForAccount(ctx context.Context, account string) (*Client, error) {
	return NewClientForAccountWithProvider(ctx, account, google.NewFileTokenProvider())
}

// ListMeetings lists events in the calendar within [timeMin, timeMax]
// that carry a video conferencing entry point, ordered by start time.
// Recurring events are expanded to single instances.
func (c *Client) ListMeetings(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]Meeting, error) {
	events, err := c.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("listing events for %s: %w", calendarID, err)
	}

	var meetings []Meeting
	for _, event := range events.Items {
		if m, ok := toMeeting(calendarID, event); ok {
			meetings = append(meetings, m)
		}
	}
	return meetings, nil
}

// ListCalendars lists the calendars visible to the account.
func (c *Client) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	list, err := c.svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("listing calendars: %w", err)
	}

	infos := make([]CalendarInfo, 0, len(list.Items))
	for _, entry := range list.Items {
		infos = append(infos, toCalendarInfo(entry))
	}
	return infos, nil
}
