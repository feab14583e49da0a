package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/meetnotes/internal/calendar"
	"github.com/teemow/meetnotes/internal/store"
)

func newJoinCmd() *cobra.Command {
	var (
		configPath string
		debugMode  bool
		title      string
		mode       string
		duration   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "join <meet-url>",
		Short: "Join a single meeting and capture notes until it ends",
		Long: `Join one Google Meet meeting by URL, capture the live captions into
the notes database, and leave when the duration elapses or on Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(configPath, debugMode, args[0], title, mode, duration)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file path (default: ~/.config/meetnotes/config.yaml)")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&title, "title", "", "Meeting title for the notes record")
	cmd.Flags().StringVar(&mode, "mode", "notes", "Bot mode: notes or interactive")
	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "Leave after this long (0 means stay until interrupted)")

	return cmd
}

func runJoin(configPath string, debugMode bool, url, title, mode string, duration time.Duration) error {
	if mode != "notes" && mode != "interactive" {
		return fmt.Errorf("invalid mode %q, must be 'notes' or 'interactive'", mode)
	}
	code := calendar.MeetCode(url)
	if code == "" {
		return fmt.Errorf("not a Meet URL: %s", url)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(debugMode)
	a, err := newApp(configPath, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	meeting := store.Meeting{
		EventID:    "manual-" + code,
		CalendarID: "manual",
		Title:      title,
		MeetURL:    url,
		Mode:       mode,
	}
	if meeting.Title == "" {
		meeting.Title = "Manual join " + code
	}
	if duration > 0 {
		meeting.ScheduledEnd = time.Now().Add(duration)
	}

	sessionID, err := a.mgr.JoinMeeting(ctx, meeting)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Joined %s as %s. Press Ctrl-C to leave.\n", code, sessionID)

	if duration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(duration):
		}
	} else {
		<-ctx.Done()
	}

	summary, err := a.mgr.LeaveMeeting(context.Background(), sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Left %s after %s with %d transcript entries.\n",
		summary.MeetCode, summary.Duration.Truncate(time.Second), summary.Transcripts)
	return nil
}
