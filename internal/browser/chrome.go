package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"

	"github.com/teemow/meetnotes/internal/logging"
)

// ChromeConfig configures a ChromeDriver launch.
type ChromeConfig struct {
	// ExecPath is the Chrome/Chromium binary. Empty means chromedp's
	// default lookup.
	ExecPath string

	// ProfileBaseDir is where per-instance user-data-dirs are created.
	// Empty means the OS temp dir.
	ProfileBaseDir string

	// Headless runs the browser without a visible window. Meet joins
	// normally want a real (or virtual X) display.
	Headless bool

	Logger *slog.Logger
}

// ChromeDriver drives a dedicated Chrome instance via the DevTools
// protocol. Each driver owns an isolated user-data-dir named after a
// unique instance tag; the tag also appears on the command line so a
// lost process can still be found and killed by scanning.
type ChromeDriver struct {
	tag        string
	profileDir string
	logger     *slog.Logger

	allocCancel context.CancelFunc
	browserCtx  context.Context
	ctxCancel   context.CancelFunc
	handle      *ProcHandle
}

// NewChromeDriver launches a fresh browser instance.
func NewChromeDriver(ctx context.Context, cfg ChromeConfig) (*ChromeDriver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logging.WithComponent(logger, "browser")

	tag := uuid.NewString()[:8]

	base := cfg.ProfileBaseDir
	if base == "" {
		base = os.TempDir()
	}
	profileDir := filepath.Join(base, "meetnotes-"+tag)
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", cfg.Headless),
		// Auto-grant getUserMedia so the permission prompt never
		// blocks the join flow on hosts where it still appears.
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("disable-notifications", true),
		// Unknown flag; ignored by Chrome but visible in the process
		// command line for tag-based lookup.
		chromedp.Flag("meetnotes-tag", tag),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	// Force the browser process to spawn so the handle is available
	// before any navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		ctxCancel()
		allocCancel()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	d := &ChromeDriver{
		tag:         tag,
		profileDir:  profileDir,
		logger:      logger,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		ctxCancel:   ctxCancel,
	}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		if proc := c.Browser.Process(); proc != nil {
			d.handle = NewProcHandle(proc)
		}
	}

	pid := 0
	if d.handle != nil {
		pid = d.handle.Pid()
	}
	logger.Info("browser launched", "tag", tag, "pid", pid, "profile", profileDir)

	return d, nil
}

// Tag returns the unique instance tag.
func (d *ChromeDriver) Tag() string {
	return d.tag
}

// Handle returns the browser process handle, or nil if spawn did not
// yield one.
func (d *ChromeDriver) Handle() *ProcHandle {
	return d.handle
}

// run executes actions against the browser, bounded by the caller's
// context and an optional per-call timeout.
func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := d.browserCtx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	// Propagate caller cancellation into the browser context.
	stop := context.AfterFunc(ctx, func() {
		if cancel != nil {
			cancel()
		}
	})
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func queryOption(loc Locator) chromedp.QueryOption {
	if loc.Kind == KindXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// Navigate loads url in the active tab.
func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, 30*time.Second, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// WaitVisible blocks until loc is visible or timeout elapses.
func (d *ChromeDriver) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	if err := d.run(ctx, timeout, chromedp.WaitVisible(loc.Expr, queryOption(loc))); err != nil {
		return fmt.Errorf("waiting for %s: %w", loc, err)
	}
	return nil
}

// Click waits for loc and clicks it.
func (d *ChromeDriver) Click(ctx context.Context, loc Locator, timeout time.Duration) error {
	if err := d.run(ctx, timeout, chromedp.Click(loc.Expr, queryOption(loc))); err != nil {
		return fmt.Errorf("clicking %s: %w", loc, err)
	}
	return nil
}

// SendKeys waits for loc and types text into it.
func (d *ChromeDriver) SendKeys(ctx context.Context, loc Locator, text string, timeout time.Duration) error {
	if err := d.run(ctx, timeout, chromedp.SendKeys(loc.Expr, text, queryOption(loc))); err != nil {
		return fmt.Errorf("typing into %s: %w", loc, err)
	}
	return nil
}

// PressEscape sends the Escape key to the page.
func (d *ChromeDriver) PressEscape(ctx context.Context) error {
	if err := d.run(ctx, 5*time.Second, chromedp.KeyEvent(kb.Escape)); err != nil {
		return fmt.Errorf("pressing escape: %w", err)
	}
	return nil
}

// Evaluate runs js in the page, decoding the result into out when out
// is non-nil.
func (d *ChromeDriver) Evaluate(ctx context.Context, js string, out any) error {
	if err := d.run(ctx, 10*time.Second, chromedp.Evaluate(js, out)); err != nil {
		return fmt.Errorf("evaluating script: %w", err)
	}
	return nil
}

// Text waits for loc and returns its visible text.
func (d *ChromeDriver) Text(ctx context.Context, loc Locator, timeout time.Duration) (string, error) {
	var text string
	if err := d.run(ctx, timeout, chromedp.Text(loc.Expr, &text, queryOption(loc))); err != nil {
		return "", fmt.Errorf("reading %s: %w", loc, err)
	}
	return text, nil
}

// Close shuts the browser down and removes the instance profile.
func (d *ChromeDriver) Close(ctx context.Context) error {
	d.ctxCancel()
	d.allocCancel()
	if err := os.RemoveAll(d.profileDir); err != nil {
		d.logger.Warn("removing profile dir", "profile", d.profileDir, logging.Err(err))
	}
	d.logger.Info("browser closed", "tag", d.tag)
	return nil
}
