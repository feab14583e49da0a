package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/meetnotes/internal/audio"
	"github.com/teemow/meetnotes/internal/browser"
	"github.com/teemow/meetnotes/internal/calendar"
	"github.com/teemow/meetnotes/internal/config"
	"github.com/teemow/meetnotes/internal/credentials"
	"github.com/teemow/meetnotes/internal/instrumentation"
	"github.com/teemow/meetnotes/internal/logging"
	"github.com/teemow/meetnotes/internal/manager"
	"github.com/teemow/meetnotes/internal/notesbot"
	"github.com/teemow/meetnotes/internal/resources"
	"github.com/teemow/meetnotes/internal/scheduler"
	"github.com/teemow/meetnotes/internal/server"
	"github.com/teemow/meetnotes/internal/session"
	"github.com/teemow/meetnotes/internal/store"
	"github.com/teemow/meetnotes/internal/tools/calendar_tools"
	"github.com/teemow/meetnotes/internal/tools/meeting_tools"
	"github.com/teemow/meetnotes/internal/tools/notes_tools"
	"github.com/teemow/meetnotes/internal/tools/scheduler_tools"
	"github.com/teemow/meetnotes/internal/transcript"
)

func newServeCmd() *cobra.Command {
	var (
		configPath     string
		debugMode      bool
		yolo           bool
		daemon         bool
		metricsEnabled bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server, optionally with the calendar daemon",
		Long: `Start the Model Context Protocol (MCP) server over stdio, providing
meeting control and notes search tools for AI assistants.

Safety Mode:
  By default, the server operates in read-only mode, providing only safe
  operations (status, listing, search). Use --yolo to enable write
  operations (joining meetings, approving, changing calendars).

Daemon Mode:
  With --daemon, the calendar scheduler runs alongside the MCP server:
  monitored calendars are polled, meetings with a Meet link are tracked,
  and approved (or auto-join) meetings are joined automatically. Daemon
  mode requires a Google OAuth token; run 'meetnotes auth' first.

  In daemon mode a dedicated HTTP port serves Prometheus metrics and
  the health endpoints (/metrics, /healthz, /readyz).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, debugMode, yolo, daemon, metricsEnabled, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file path (default: ~/.config/meetnotes/config.yaml)")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "Enable write operations (joining, approving, calendar changes). Default is read-only mode.")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "Run the calendar scheduler alongside the MCP server")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port (daemon mode only). Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// newLogger builds the root logger. Logs go to stderr; stdout carries
// the MCP stdio transport.
func newLogger(debugMode bool) *slog.Logger {
	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app bundles the long-lived subsystems shared by serve and join.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	mgr    *manager.Manager
}

// newApp loads the configuration and builds the store and the session
// manager with the production browser, audio, and credential stack.
func newApp(configPath string, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	st, err := store.Open(store.Options{
		Path:   cfg.DatabasePath,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening notes database: %w", err)
	}

	creds := credentials.Chain{
		credentials.NewKeyringSource(),
		credentials.NewEnvSource(),
	}

	newController := func() (*session.Controller, error) {
		return session.NewController(session.Config{
			NewDriver: func(ctx context.Context) (browser.Driver, error) {
				return browser.NewChromeDriver(ctx, browser.ChromeConfig{
					ExecPath:       cfg.Browser.ExecPath,
					ProfileBaseDir: cfg.Browser.ProfileDir,
					Headless:       cfg.Browser.Headless,
					Logger:         logger,
				})
			},
			Credentials:   creds,
			Account:       cfg.Account,
			BotName:       cfg.BotName,
			VideoFeedFile: cfg.Browser.VideoFeedFile,
			VideoDevice:   cfg.Browser.VideoDevice,
			Devices: session.DevicePrefs{
				CameraLabel:     cfg.Devices.CameraLabel,
				MicrophoneLabel: cfg.Devices.MicrophoneLabel,
				SpeakerLabel:    cfg.Devices.SpeakerLabel,
			},
			Captions: session.CaptionConfig{
				SettleWindow: cfg.Captions.SettleWindow,
				PollInterval: cfg.Captions.PollInterval,
			},
			Pulse:  audio.NewPactlClient(),
			Logger: logger,
		})
	}

	mgr, err := manager.New(manager.Config{
		NewBot: func(meeting store.Meeting) (*notesbot.Bot, error) {
			botCfg := notesbot.Config{
				Store:         st,
				NewController: newController,
				Logger:        logger,
			}
			if meeting.Mode == "interactive" && cfg.WakeWord.Phrase != "" {
				botCfg.Wake = transcript.WakeConfig{
					Phrase:      cfg.WakeWord.Phrase,
					SilenceGap:  cfg.WakeWord.SilenceGap,
					HardTimeout: cfg.WakeWord.HardTimeout,
					OnCommand: func(command string) {
						logger.Info("wake command received",
							logging.Meeting(calendar.MeetCode(meeting.MeetURL)),
							"command", command)
					},
				}
			}
			return notesbot.New(botCfg)
		},
		GracePeriod: cfg.Scheduler.GracePeriod,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: st, mgr: mgr}, nil
}

// newScheduler builds the calendar scheduler on top of the app. It
// needs a valid Google OAuth token for the configured account.
func (a *app) newScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	if !calendar.HasTokenForAccount(a.cfg.Account) {
		return nil, fmt.Errorf("no Google OAuth token for account %q; run 'meetnotes auth' first", a.cfg.Account)
	}
	client, err := calendar.NewClientForAccount(ctx, a.cfg.Account)
	if err != nil {
		return nil, err
	}

	overrides, err := scheduler.LoadOverrides(a.cfg.OverridesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("loading meeting overrides: %w", err)
	}

	return scheduler.New(scheduler.Config{
		Source:          client,
		Manager:         a.mgr,
		Calendars:       a.store,
		Overrides:       overrides,
		Logger:          a.logger,
		PollInterval:    a.cfg.Scheduler.PollInterval,
		FastInterval:    a.cfg.Scheduler.FastInterval,
		JoinBuffer:      a.cfg.Scheduler.JoinBuffer,
		LateJoinWindow:  a.cfg.Scheduler.LateJoinWindow,
		LeaveBuffer:     a.cfg.Scheduler.LeaveBuffer,
		MaxJoinAttempts: a.cfg.Scheduler.MaxJoinAttempts,
	})
}

// Close leaves any remaining sessions and closes the database.
func (a *app) Close(ctx context.Context) {
	a.mgr.LeaveAll(ctx)
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing notes database", logging.Err(err))
	}
}

func runServe(configPath string, debugMode, yolo, daemon, metricsEnabled bool, metricsAddr string) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(debugMode)

	// Load metrics config from environment if not set via flags
	if os.Getenv("METRICS_ENABLED") == "false" {
		metricsEnabled = false
	}
	if addr := os.Getenv("METRICS_ADDR"); addr != "" && metricsAddr == server.DefaultMetricsAddr {
		metricsAddr = addr
	}

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown", logging.Err(err))
		}
	}()

	a, err := newApp(configPath, logger)
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if daemon {
		sched, err = a.newScheduler(shutdownCtx)
		if err != nil {
			a.Close(shutdownCtx)
			return err
		}
	}

	appContext := server.NewAppContext(shutdownCtx, a.store, a.mgr, sched)
	if provider.Enabled() {
		appContext.SetMetrics(provider.Metrics())
		appContext.SetAuditLogger(instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging))
	}

	defer func() {
		if err := appContext.Shutdown(); err != nil {
			logger.Warn("app context shutdown", logging.Err(err))
		}
		if sched != nil {
			sched.Stop()
		}
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		a.Close(closeCtx)
		closeCancel()
	}()

	// Start metrics server in daemon mode
	var metricsServer *server.MetricsServer
	if daemon && metricsEnabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    metricsAddr,
			Enabled:                 true,
			InstrumentationProvider: provider,
			HealthChecker:           server.NewHealthChecker(appContext),
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", logging.Err(err))
			}
		}()
	}

	if sched != nil {
		sched.Start(shutdownCtx)
		logger.Info("scheduler started",
			"poll_interval", a.cfg.Scheduler.PollInterval,
			"account", logging.AnonymizeEmail(a.cfg.Account))
	}

	// Create MCP server
	mcpSrv := mcpserver.NewMCPServer("meetnotes", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)

	// readOnly is the inverse of yolo
	readOnly := !yolo
	if readOnly {
		logger.Info("starting MCP server in read-only mode (use --yolo to enable write operations)")
	} else {
		logger.Info("starting MCP server with write operations enabled")
	}

	if err := registerAllTools(mcpSrv, appContext, readOnly); err != nil {
		return err
	}

	return runStdioServer(shutdownCtx, mcpSrv, logger)
}

// runStdioServer serves MCP over stdio until the transport closes or
// the shutdown context fires.
func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, logger *slog.Logger) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	}
}

// registerAllTools registers all MCP tool groups.
func registerAllTools(mcpSrv *mcpserver.MCPServer, ac *server.AppContext, readOnly bool) error {
	type toolRegistration struct {
		name     string
		register func() error
	}

	registrations := []toolRegistration{
		{
			name: "Calendars",
			register: func() error {
				return calendar_tools.RegisterCalendarTools(mcpSrv, ac, readOnly)
			},
		},
		{
			name: "Scheduler",
			register: func() error {
				return scheduler_tools.RegisterSchedulerTools(mcpSrv, ac, readOnly)
			},
		},
		{
			name: "Meetings",
			register: func() error {
				return meeting_tools.RegisterMeetingTools(mcpSrv, ac, readOnly)
			},
		},
		{
			name: "Notes",
			register: func() error {
				return notes_tools.RegisterNotesTools(mcpSrv, ac, readOnly)
			},
		},
		{
			name: "Resources",
			register: func() error {
				return resources.RegisterResources(mcpSrv, ac)
			},
		},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return fmt.Errorf("failed to register %s tools: %w", reg.name, err)
		}
	}

	return nil
}
