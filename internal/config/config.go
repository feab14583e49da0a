// Package config loads the meetnotes daemon configuration from a YAML
// file with environment variable overrides for deployment-specific
// values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultConfigDir  = ".config/meetnotes"
	DefaultConfigFile = "config.yaml"
	DefaultBotName    = "Notes Bot"
)

// BrowserConfig holds browser automation settings.
type BrowserConfig struct {
	// ExecPath is the Chrome/Chromium binary path. Empty means
	// chromedp's default lookup.
	ExecPath string `yaml:"exec_path"`

	// ProfileDir is the base directory for per-session isolated
	// browser profiles. Each session creates a unique subdirectory.
	ProfileDir string `yaml:"profile_dir"`

	// Headless runs the browser without a visible window. Joining
	// Meet with virtual devices generally requires headful mode under
	// Xvfb, so this defaults to false.
	Headless bool `yaml:"headless"`

	// VideoFeedFile is an optional video file played into the virtual
	// camera device before joining, so the camera enumerates as live.
	VideoFeedFile string `yaml:"video_feed_file"`

	// VideoDevice is the v4l2 loopback device the feed writes to.
	VideoDevice string `yaml:"video_device"`
}

// DeviceConfig names the virtual media devices the bot selects inside
// the meeting UI.
type DeviceConfig struct {
	CameraLabel     string `yaml:"camera_label"`
	MicrophoneLabel string `yaml:"microphone_label"`
	SpeakerLabel    string `yaml:"speaker_label"`
}

// CaptionConfig tunes the in-page caption observer.
type CaptionConfig struct {
	// SettleWindow is the quiet period after the last caption DOM
	// mutation before the text is treated as final. 400-800ms is the
	// usable range; shorter windows emit partial utterances.
	SettleWindow time.Duration `yaml:"settle_window"`

	// PollInterval is how often the host drains the in-page caption
	// queue.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SchedulerConfig tunes the calendar polling and join timing.
type SchedulerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	FastInterval    time.Duration `yaml:"fast_interval"`
	JoinBuffer      time.Duration `yaml:"join_buffer"`
	LateJoinWindow  time.Duration `yaml:"late_join_window"`
	LeaveBuffer     time.Duration `yaml:"leave_buffer"`
	GracePeriod     time.Duration `yaml:"grace_period"`
	MaxJoinAttempts int           `yaml:"max_join_attempts"`
}

// WakeWordConfig tunes interactive-mode trigger detection.
type WakeWordConfig struct {
	Phrase      string        `yaml:"phrase"`
	SilenceGap  time.Duration `yaml:"silence_gap"`
	HardTimeout time.Duration `yaml:"hard_timeout"`
}

// Config is the root daemon configuration.
type Config struct {
	// DataDir is where the database, override store, and browser
	// profiles live. Defaults to ~/.local/share/meetnotes.
	DataDir string `yaml:"data_dir"`

	// DatabasePath overrides the default notes database location
	// inside DataDir.
	DatabasePath string `yaml:"database_path"`

	// OverridesPath overrides the default meeting override store
	// location inside DataDir.
	OverridesPath string `yaml:"overrides_path"`

	// BotName is the display name the bot identifies itself as.
	BotName string `yaml:"bot_name"`

	// Account is the Google account (token name) used for calendar
	// polling and SSO login.
	Account string `yaml:"account"`

	Browser   BrowserConfig   `yaml:"browser"`
	Devices   DeviceConfig    `yaml:"devices"`
	Captions  CaptionConfig   `yaml:"captions"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	WakeWord  WakeWordConfig  `yaml:"wake_word"`

	// STTMonitorEnabled turns on local speech-to-text capture from
	// each session's audio monitor source.
	STTMonitorEnabled bool `yaml:"stt_monitor_enabled"`
}

// Default returns a Config populated with working defaults. Paths are
// resolved relative to the user's home directory.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:       dataDir,
		DatabasePath:  filepath.Join(dataDir, "notes.db"),
		OverridesPath: filepath.Join(dataDir, "meeting_overrides.json"),
		BotName:       DefaultBotName,
		Account:       "default",
		Browser: BrowserConfig{
			ProfileDir:  filepath.Join(dataDir, "profiles"),
			VideoDevice: "/dev/video10",
		},
		Devices: DeviceConfig{
			CameraLabel:     "Dummy video device",
			MicrophoneLabel: "meetnotes-mic",
			SpeakerLabel:    "meetnotes-sink",
		},
		Captions: CaptionConfig{
			SettleWindow: 600 * time.Millisecond,
			PollInterval: 500 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			PollInterval:    5 * time.Minute,
			FastInterval:    30 * time.Second,
			JoinBuffer:      time.Minute,
			LateJoinWindow:  10 * time.Minute,
			LeaveBuffer:     2 * time.Minute,
			GracePeriod:     5 * time.Minute,
			MaxJoinAttempts: 3,
		},
		WakeWord: WakeWordConfig{
			Phrase:      "hey notes",
			SilenceGap:  2 * time.Second,
			HardTimeout: 10 * time.Second,
		},
	}
}

// Load reads the config file at path, or the default location when
// path is empty. A missing default file is not an error; defaults are
// returned. Environment variables override file values afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; run on defaults.
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for values that would break the daemon at runtime.
func (c *Config) Validate() error {
	if c.Scheduler.MaxJoinAttempts < 1 {
		return fmt.Errorf("scheduler.max_join_attempts must be >= 1, got %d", c.Scheduler.MaxJoinAttempts)
	}
	if c.Captions.SettleWindow <= 0 {
		return fmt.Errorf("captions.settle_window must be positive, got %s", c.Captions.SettleWindow)
	}
	if c.Captions.PollInterval <= 0 {
		return fmt.Errorf("captions.poll_interval must be positive, got %s", c.Captions.PollInterval)
	}
	if c.Scheduler.JoinBuffer < 0 || c.Scheduler.LateJoinWindow <= 0 {
		return fmt.Errorf("scheduler join window misconfigured: join_buffer=%s late_join_window=%s",
			c.Scheduler.JoinBuffer, c.Scheduler.LateJoinWindow)
	}
	return nil
}

// EnsureDirs creates the data and profile directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.Browser.ProfileDir, filepath.Dir(c.DatabasePath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEETNOTES_DATA_DIR"); v != "" {
		cfg.DataDir = expandTilde(v)
	}
	if v := os.Getenv("MEETNOTES_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = expandTilde(v)
	}
	if v := os.Getenv("MEETNOTES_ACCOUNT"); v != "" {
		cfg.Account = v
	}
	if v := os.Getenv("MEETNOTES_BOT_NAME"); v != "" {
		cfg.BotName = v
	}
	if v := os.Getenv("MEETNOTES_CHROME_PATH"); v != "" {
		cfg.Browser.ExecPath = v
	}
}

func defaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "meetnotes", DefaultConfigFile)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfigFile
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "meetnotes")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "meetnotes-data"
	}
	return filepath.Join(home, ".local", "share", "meetnotes")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
