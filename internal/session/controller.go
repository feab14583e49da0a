package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/teemow/meetnotes/internal/audio"
	"github.com/teemow/meetnotes/internal/browser"
	"github.com/teemow/meetnotes/internal/calendar"
	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/credentials"
	"github.com/teemow/meetnotes/internal/logging"
)

// DriverFactory launches a fresh browser instance.
type DriverFactory func(ctx context.Context) (browser.Driver, error)

// Config configures a Controller.
type Config struct {
	// NewDriver launches the browser. Required.
	NewDriver DriverFactory

	// Credentials resolves SSO logins when Meet bounces to the Google
	// login page. Optional; without it an SSO challenge fails the
	// join.
	Credentials credentials.Source

	// Account is the credential lookup key for SSO.
	Account string

	// BotName is typed into the guest name field when Meet asks.
	BotName string

	// VideoFeedFile loops into VideoDevice via ffmpeg when both are
	// set, giving the bot a synthetic camera picture.
	VideoFeedFile string
	VideoDevice   string

	// Devices are the virtual device labels selected on the pre-join
	// screen. Empty labels skip that device type.
	Devices DevicePrefs

	// Captions configures the capture loop.
	Captions CaptionConfig

	// Pulse enables per-session audio routing when set. The browser's
	// playback streams are parked on an isolated null sink, so the
	// host stays silent while the meeting audio remains capturable
	// from the sink monitor.
	Pulse audio.PulseClient

	Clock  clock.Clock
	Logger *slog.Logger
}

// Controller owns one browser session. Methods are not safe for
// concurrent use except State, LeaveMeeting, and ForceKill; the notes
// bot serializes the rest.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	clk    clock.Clock

	driver browser.Driver
	feed   *browser.VideoFeed
	router *audio.Router
	box    stateBox

	captionCancel context.CancelFunc
	captionDone   chan struct{}
}

// NewController validates cfg and returns an uninitialized controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.NewDriver == nil {
		return nil, fmt.Errorf("session: driver factory is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		cfg:    cfg,
		logger: logging.WithComponent(logger, "session"),
		clk:    cfg.Clock,
	}, nil
}

// State returns a snapshot of the session state.
func (c *Controller) State() MeetingState {
	return c.box.snapshot()
}

// Driver exposes the underlying driver. Nil before Initialize.
func (c *Controller) Driver() browser.Driver {
	return c.driver
}

// Initialize checks the display environment, starts the synthetic
// video feed when configured, and launches the browser. No retry:
// initialization failures are environment problems a retry will not
// fix. Returns false with the causes recorded in the session state.
func (c *Controller) Initialize(ctx context.Context) bool {
	if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		c.box.recordError("no display: neither DISPLAY nor WAYLAND_DISPLAY is set")
		return false
	}

	if c.cfg.VideoFeedFile != "" && c.cfg.VideoDevice != "" {
		feed, err := browser.StartVideoFeed(c.logger, c.cfg.VideoFeedFile, c.cfg.VideoDevice)
		if err != nil {
			// A missing camera picture is cosmetic; join anyway.
			c.logger.Warn("video feed unavailable", logging.Err(err))
		} else {
			c.feed = feed
		}
	}

	driver, err := c.cfg.NewDriver(ctx)
	if err != nil {
		c.box.recordError(fmt.Sprintf("browser launch: %v", err))
		if c.feed != nil {
			c.feed.Stop()
			c.feed = nil
		}
		return false
	}
	c.driver = driver

	if c.cfg.Pulse != nil {
		c.startAudioRouting(ctx, driver)
	}

	c.logger.Info("session initialized", "tag", driver.Tag())
	return true
}

// startAudioRouting isolates the browser's audio on a per-session
// sink. Routing failures are cosmetic for note-taking, so they never
// fail the session.
func (c *Controller) startAudioRouting(ctx context.Context, driver browser.Driver) {
	pid := 0
	if h := driver.Handle(); h != nil {
		pid = h.Pid()
	}
	router, err := audio.NewRouter(audio.RouterConfig{
		Tag:        driver.Tag(),
		BrowserPID: pid,
		Pulse:      c.cfg.Pulse,
		Clock:      c.clk,
		Logger:     c.cfg.Logger,
	})
	if err != nil {
		c.logger.Warn("audio routing unavailable", logging.Err(err))
		return
	}
	if err := router.Start(ctx); err != nil {
		c.logger.Warn("audio routing unavailable", logging.Err(err))
		return
	}
	c.router = router
}

// AudioRouter returns the session's audio router, or nil when audio
// routing is disabled or unavailable.
func (c *Controller) AudioRouter() *audio.Router {
	return c.router
}

// Locators for the Meet UI, ordered by preference within each step.
var (
	locContinueWithoutDevices = browser.ByRoleText("button", "Continue without microphone")
	locDismissDialog          = browser.ByAriaLabel("Dismiss")

	locEmailInput    = browser.ByCSS("email input", `input[type="email"]`)
	locEmailNext     = browser.ByRoleText("button", "Next")
	locPasswordInput = browser.ByCSS("password input", `input[type="password"]`)

	locMicOff    = browser.ByAriaLabel("Turn off microphone")
	locCameraOff = browser.ByAriaLabel("Turn off camera")

	locNameInput = browser.ByCSS("guest name input", `input[placeholder="Your name"]`)

	locLeaveCall = browser.ByAriaLabel("Leave call")

	locCaptionsOn = browser.ByAriaLabel("Turn on captions")
)

// joinButtons are tried in order; Meet shows different labels
// depending on whether the bot is a member of the meeting's domain.
var joinButtons = []browser.Locator{
	browser.ByRoleText("button", "Join now"),
	browser.ByRoleText("button", "Ask to join"),
	browser.ByRoleText("button", "Join anyway"),
	browser.ByAriaLabel("Join now"),
}

const (
	dialogTimeout = 4 * time.Second
	uiTimeout     = 8 * time.Second
	joinTimeout   = 25 * time.Second
	joinRetryWait = 3 * time.Second
)

// JoinMeeting navigates to url and walks the pre-join flow: dismiss
// the permission dialog, authenticate if bounced to SSO, mute and turn
// the camera off, then press the join button. Returns false with the
// failure causes recorded in the session state.
func (c *Controller) JoinMeeting(ctx context.Context, url string) bool {
	code := calendar.MeetCode(url)
	if code == "" {
		c.box.recordError(fmt.Sprintf("not a Meet URL: %s", url))
		return false
	}
	if c.driver == nil {
		c.box.recordError("session not initialized")
		return false
	}
	c.box.update(func(s *MeetingState) { s.MeetCode = code })
	logger := c.logger.With(logging.Meeting(code))

	if err := c.driver.Navigate(ctx, url); err != nil {
		c.box.recordError(fmt.Sprintf("navigation: %v", err))
		return false
	}

	c.dismissPermissionDialog(ctx, logger)

	if c.onLoginPage(ctx) {
		if !c.loginSSO(ctx, logger) {
			return false
		}
	}

	c.muteDevices(ctx, logger)

	if c.cfg.Devices != (DevicePrefs{}) {
		if report := c.SelectDevices(ctx, c.cfg.Devices); !report.AllSelected() {
			logger.Warn("device selection incomplete",
				"camera", report.Camera.Err,
				"microphone", report.Microphone.Err,
				"speaker", report.Speaker.Err)
		}
	}

	if c.cfg.BotName != "" {
		if err := c.driver.SendKeys(ctx, locNameInput, c.cfg.BotName, dialogTimeout); err == nil {
			logger.Debug("guest name entered", "name", c.cfg.BotName)
		}
	}

	if !c.pressJoin(ctx, logger) {
		return false
	}

	if err := c.driver.WaitVisible(ctx, locLeaveCall, joinTimeout); err != nil {
		c.box.recordError(fmt.Sprintf("join not confirmed: %v", err))
		return false
	}
	c.box.update(func(s *MeetingState) { s.Joined = true })

	c.enableCaptions(ctx, logger)

	logger.Info("meeting joined", logging.Status("joined"))
	return true
}

// dismissPermissionDialog clears the mic/camera permission prompt.
// Three tiers: the explicit continue button, a generic dismiss
// control, then Escape. Each tier gets a short timeout; the dialog may
// legitimately be absent.
func (c *Controller) dismissPermissionDialog(ctx context.Context, logger *slog.Logger) {
	if err := c.driver.Click(ctx, locContinueWithoutDevices, dialogTimeout); err == nil {
		logger.Debug("permission dialog dismissed", "via", "continue button")
		return
	}
	if err := c.driver.Click(ctx, locDismissDialog, dialogTimeout); err == nil {
		logger.Debug("permission dialog dismissed", "via", "dismiss control")
		return
	}
	if err := c.driver.PressEscape(ctx); err == nil {
		logger.Debug("permission dialog dismissed", "via", "escape")
	}
}

func (c *Controller) onLoginPage(ctx context.Context) bool {
	return c.driver.WaitVisible(ctx, locEmailInput, dialogTimeout) == nil
}

func (c *Controller) loginSSO(ctx context.Context, logger *slog.Logger) bool {
	if c.cfg.Credentials == nil {
		c.box.recordError("login page shown but no credential source configured")
		return false
	}
	cred, err := c.cfg.Credentials.Lookup(c.cfg.Account)
	if err != nil {
		c.box.recordError(fmt.Sprintf("credential lookup for %s: %v", c.cfg.Account, err))
		return false
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"email", func() error { return c.driver.SendKeys(ctx, locEmailInput, cred.Username, uiTimeout) }},
		{"email next", func() error { return c.driver.Click(ctx, locEmailNext, uiTimeout) }},
		{"password", func() error { return c.driver.SendKeys(ctx, locPasswordInput, cred.Password, uiTimeout) }},
		{"password next", func() error { return c.driver.Click(ctx, locEmailNext, uiTimeout) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			c.box.recordError(fmt.Sprintf("sso %s: %v", step.name, err))
			return false
		}
	}
	logger.Info("sso login completed")
	return true
}

// muteDevices turns the mic and camera off on the pre-join screen.
// Failures are recorded but do not abort: a bot that joins unmuted is
// better than one that does not join.
func (c *Controller) muteDevices(ctx context.Context, logger *slog.Logger) {
	if err := c.driver.Click(ctx, locMicOff, dialogTimeout); err != nil {
		c.box.recordError(fmt.Sprintf("mute microphone: %v", err))
	} else {
		c.box.update(func(s *MeetingState) { s.Muted = true })
	}
	if err := c.driver.Click(ctx, locCameraOff, dialogTimeout); err != nil {
		c.box.recordError(fmt.Sprintf("camera off: %v", err))
	} else {
		c.box.update(func(s *MeetingState) { s.CameraOff = true })
	}
}

// pressJoin tries the known join button variants, with one full retry
// after a fixed delay for the case where the pre-join screen is still
// rendering.
func (c *Controller) pressJoin(ctx context.Context, logger *slog.Logger) bool {
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.clk.Sleep(joinRetryWait)
		}
		for _, loc := range joinButtons {
			if err := c.driver.Click(ctx, loc, uiTimeout); err == nil {
				logger.Debug("join pressed", "button", loc.String(), "attempt", attempt+1)
				return true
			}
		}
	}
	c.box.recordError("no join button found")
	return false
}

func (c *Controller) enableCaptions(ctx context.Context, logger *slog.Logger) {
	if err := c.driver.Click(ctx, locCaptionsOn, uiTimeout); err != nil {
		c.box.recordError(fmt.Sprintf("captions: %v", err))
		return
	}
	c.box.update(func(s *MeetingState) { s.CaptionsEnabled = true })
	logger.Debug("captions enabled")
}

// LeaveMeeting leaves the meeting best-effort: the caption loop is
// stopped, the leave button clicked if still reachable, and the state
// marked not-joined. Never fails the caller; by the time leave runs,
// the browser may already be gone.
func (c *Controller) LeaveMeeting(ctx context.Context) {
	c.StopCaptions()

	if c.driver != nil {
		if err := c.driver.Click(ctx, locLeaveCall, dialogTimeout); err != nil {
			c.logger.Debug("leave click failed", logging.Err(err))
		}
	}
	c.box.update(func(s *MeetingState) {
		s.Joined = false
		s.CaptionsEnabled = false
	})
	c.logger.Info("meeting left", logging.Status("left"))
}

// Close releases the browser, the audio routing, and the video feed.
func (c *Controller) Close(ctx context.Context) {
	c.StopCaptions()
	if c.router != nil {
		c.router.Shutdown(ctx)
		c.router = nil
	}
	if c.driver != nil {
		if err := c.driver.Close(ctx); err != nil {
			c.logger.Warn("browser close failed", logging.Err(err))
		}
		c.driver = nil
	}
	if c.feed != nil {
		c.feed.Stop()
		c.feed = nil
	}
}

// ForceKill terminates the browser process without a graceful
// shutdown: the spawn-time handle first, then a tag scan for orphans.
// Used when the session is hung and Close would block.
func (c *Controller) ForceKill() {
	c.StopCaptions()
	if c.router != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.router.Shutdown(ctx)
		cancel()
		c.router = nil
	}
	if c.driver == nil {
		return
	}
	tag := c.driver.Tag()
	if h := c.driver.Handle(); h != nil {
		if err := h.Kill(3 * time.Second); err != nil {
			c.logger.Warn("handle kill failed", "pid", h.Pid(), logging.Err(err))
		}
	}
	if tag != "" {
		if n, err := browser.KillByTag(tag, 3*time.Second); err != nil {
			c.logger.Warn("tag scan kill failed", "tag", tag, logging.Err(err))
		} else if n > 0 {
			c.logger.Info("orphan browser processes killed", "tag", tag, "count", n)
		}
	}
	c.driver = nil
	if c.feed != nil {
		c.feed.Stop()
		c.feed = nil
	}
	c.box.update(func(s *MeetingState) { s.Joined = false })
}
