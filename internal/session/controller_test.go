package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/meetnotes/internal/audio"
	"github.com/teemow/meetnotes/internal/browser"
	"github.com/teemow/meetnotes/internal/clock"
	"github.com/teemow/meetnotes/internal/credentials"
	"github.com/teemow/meetnotes/internal/transcript"
)

// fakeDriver scripts the Meet UI: locators in visible are clickable,
// everything else fails like a missing element.
type fakeDriver struct {
	mu        sync.Mutex
	visible   map[string]bool
	clicked   []string
	typed     map[string]string
	escapes   int
	navigated []string
	evalFn    func(js string, out any) error
	closed    bool
}

func newFakeDriver(visible ...browser.Locator) *fakeDriver {
	d := &fakeDriver{visible: map[string]bool{}, typed: map[string]string{}}
	for _, loc := range visible {
		d.visible[loc.Expr] = true
	}
	return d
}

func (d *fakeDriver) show(loc browser.Locator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible[loc.Expr] = true
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *fakeDriver) WaitVisible(ctx context.Context, loc browser.Locator, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.visible[loc.Expr] {
		return nil
	}
	return fmt.Errorf("waiting for %s: not visible", loc)
}

func (d *fakeDriver) Click(ctx context.Context, loc browser.Locator, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.visible[loc.Expr] {
		return fmt.Errorf("clicking %s: not visible", loc)
	}
	d.clicked = append(d.clicked, loc.Expr)
	return nil
}

func (d *fakeDriver) SendKeys(ctx context.Context, loc browser.Locator, text string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.visible[loc.Expr] {
		return fmt.Errorf("typing into %s: not visible", loc)
	}
	d.typed[loc.Expr] = text
	return nil
}

func (d *fakeDriver) PressEscape(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.escapes++
	return nil
}

func (d *fakeDriver) Evaluate(ctx context.Context, js string, out any) error {
	d.mu.Lock()
	fn := d.evalFn
	d.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(js, out)
}

func (d *fakeDriver) Text(ctx context.Context, loc browser.Locator, _ time.Duration) (string, error) {
	return "", nil
}

func (d *fakeDriver) Handle() *browser.ProcHandle { return nil }
func (d *fakeDriver) Tag() string                 { return "fake" }

func (d *fakeDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) clickedExprs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicked...)
}

func newTestController(t *testing.T, driver browser.Driver, mutate func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		NewDriver: func(ctx context.Context) (browser.Driver, error) { return driver, nil },
		Clock:     clock.NewFake(time.Unix(1000, 0)),
		BotName:   "Notes Bot",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewController(cfg)
	require.NoError(t, err)
	t.Setenv("DISPLAY", ":0")
	require.True(t, c.Initialize(context.Background()))
	return c
}

const meetURL = "https://meet.google.com/abc-defg-hij"

func TestJoinMeetingRejectsNonMeetURL(t *testing.T) {
	driver := newFakeDriver()
	c := newTestController(t, driver, nil)

	assert.False(t, c.JoinMeeting(context.Background(), "https://zoom.us/j/123"))
	state := c.State()
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0], "not a Meet URL")
	assert.Empty(t, driver.navigated, "invalid URL must not navigate")
}

func TestJoinMeetingHappyPath(t *testing.T) {
	driver := newFakeDriver(
		locContinueWithoutDevices,
		locMicOff, locCameraOff,
		locNameInput,
		joinButtons[0],
		locLeaveCall,
		locCaptionsOn,
	)
	c := newTestController(t, driver, nil)

	require.True(t, c.JoinMeeting(context.Background(), meetURL))

	state := c.State()
	assert.True(t, state.Joined)
	assert.True(t, state.Muted)
	assert.True(t, state.CameraOff)
	assert.True(t, state.CaptionsEnabled)
	assert.Equal(t, "abc-defg-hij", state.MeetCode)
	assert.Equal(t, "Notes Bot", driver.typed[locNameInput.Expr])
}

func TestPermissionDialogFallbackTiers(t *testing.T) {
	t.Run("dismiss control", func(t *testing.T) {
		driver := newFakeDriver(locDismissDialog, locMicOff, locCameraOff, joinButtons[0], locLeaveCall, locCaptionsOn)
		c := newTestController(t, driver, nil)
		require.True(t, c.JoinMeeting(context.Background(), meetURL))
		assert.Contains(t, driver.clickedExprs(), locDismissDialog.Expr)
		assert.Zero(t, driver.escapes)
	})

	t.Run("escape last resort", func(t *testing.T) {
		driver := newFakeDriver(locMicOff, locCameraOff, joinButtons[0], locLeaveCall, locCaptionsOn)
		c := newTestController(t, driver, nil)
		require.True(t, c.JoinMeeting(context.Background(), meetURL))
		assert.Equal(t, 1, driver.escapes)
	})
}

func TestJoinButtonVariants(t *testing.T) {
	// Only "Ask to join" exists; the flow must fall through to it.
	driver := newFakeDriver(locMicOff, locCameraOff, joinButtons[1], locLeaveCall, locCaptionsOn)
	c := newTestController(t, driver, nil)
	require.True(t, c.JoinMeeting(context.Background(), meetURL))
	assert.Contains(t, driver.clickedExprs(), joinButtons[1].Expr)
}

func TestJoinFailsWithoutJoinButton(t *testing.T) {
	driver := newFakeDriver(locMicOff, locCameraOff)
	fc := clock.NewFake(time.Unix(1000, 0))
	c := newTestController(t, driver, func(cfg *Config) { cfg.Clock = fc })

	done := make(chan bool, 1)
	go func() { done <- c.JoinMeeting(context.Background(), meetURL) }()

	// The retry waits on the clock before the second sweep.
	fc.BlockUntilTimers(1)
	fc.Advance(joinRetryWait)

	assert.False(t, <-done)
	state := c.State()
	assert.Contains(t, strings.Join(state.Errors, "; "), "no join button")
}

func TestSSOLogin(t *testing.T) {
	driver := newFakeDriver(
		locEmailInput, locEmailNext, locPasswordInput,
		locMicOff, locCameraOff, joinButtons[0], locLeaveCall, locCaptionsOn,
	)
	src := credentials.Static(map[string]credentials.Credential{
		"bot@example.com": {Username: "bot@example.com", Password: "hunter2"},
	})
	c := newTestController(t, driver, func(cfg *Config) {
		cfg.Credentials = src
		cfg.Account = "bot@example.com"
	})

	require.True(t, c.JoinMeeting(context.Background(), meetURL))
	assert.Equal(t, "bot@example.com", driver.typed[locEmailInput.Expr])
	assert.Equal(t, "hunter2", driver.typed[locPasswordInput.Expr])
}

func TestSSOWithoutCredentialSourceFails(t *testing.T) {
	driver := newFakeDriver(locEmailInput)
	c := newTestController(t, driver, nil)

	assert.False(t, c.JoinMeeting(context.Background(), meetURL))
	assert.Contains(t, strings.Join(c.State().Errors, "; "), "no credential source")
}

func TestInitializeRequiresDisplay(t *testing.T) {
	c, err := NewController(Config{
		NewDriver: func(ctx context.Context) (browser.Driver, error) { return newFakeDriver(), nil },
	})
	require.NoError(t, err)
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "")
	assert.False(t, c.Initialize(context.Background()))
	assert.Contains(t, c.State().Errors[0], "no display")
}

func TestLeaveMeetingNeverFails(t *testing.T) {
	// Leave button not present; leave must still reset state quietly.
	driver := newFakeDriver(locMicOff, locCameraOff, joinButtons[0], locLeaveCall, locCaptionsOn)
	c := newTestController(t, driver, nil)
	require.True(t, c.JoinMeeting(context.Background(), meetURL))

	driver.mu.Lock()
	delete(driver.visible, locLeaveCall.Expr)
	driver.mu.Unlock()

	c.LeaveMeeting(context.Background())
	state := c.State()
	assert.False(t, state.Joined)
	assert.False(t, state.CaptionsEnabled)
}

func TestSelectDevicesIndependent(t *testing.T) {
	driver := newFakeDriver()
	driver.evalFn = func(js string, out any) error {
		switch {
		case strings.Contains(js, "enumerateDevices"):
			*(out.(*[]mediaDevice)) = []mediaDevice{
				{Kind: "audioinput", Label: "Virtual Microphone (meetnotes)", ID: "mic1"},
				{Kind: "audiooutput", Label: "Built-in Speakers", ID: "spk1"},
			}
		case strings.Contains(js, "getUserMedia"):
			*(out.(*bool)) = true
		case strings.Contains(js, "setSinkId"):
			return errors.New("setSinkId not allowed")
		}
		return nil
	}
	c := newTestController(t, driver, nil)

	report := c.SelectDevices(context.Background(), DevicePrefs{
		CameraLabel:     "Virtual Camera",
		MicrophoneLabel: "virtual microphone",
		SpeakerLabel:    "built-in",
	})

	assert.False(t, report.Camera.Selected)
	assert.NotEmpty(t, report.Camera.Err)
	assert.True(t, report.Microphone.Selected, "camera failure must not block the microphone")
	assert.False(t, report.Speaker.Selected)
	assert.False(t, report.AllSelected())
}

func TestSelectDevicesViaPicker(t *testing.T) {
	driver := newFakeDriver(pickerTriggers["audioinput"], deviceOption("mic1"))
	var evals []string
	driver.evalFn = func(js string, out any) error {
		evals = append(evals, js)
		if strings.Contains(js, "enumerateDevices") {
			*(out.(*[]mediaDevice)) = []mediaDevice{
				{Kind: "audioinput", Label: "Virtual Microphone (meetnotes)", ID: "mic1"},
			}
		}
		return nil
	}
	c := newTestController(t, driver, nil)

	report := c.SelectDevices(context.Background(), DevicePrefs{MicrophoneLabel: "virtual microphone"})

	assert.True(t, report.Microphone.Selected)
	assert.Equal(t, "mic1", report.Microphone.MatchedID)
	clicked := driver.clickedExprs()
	assert.Contains(t, clicked, pickerTriggers["audioinput"].Expr)
	assert.Contains(t, clicked, deviceOption("mic1").Expr)
	for _, js := range evals {
		assert.NotContains(t, js, "getUserMedia", "picker selection must not request a stream")
	}
}

func TestSelectDevicesPickerLabelFallback(t *testing.T) {
	// The option node carries no device id attribute; the visible label
	// still identifies it.
	label := "Virtual Microphone (meetnotes)"
	driver := newFakeDriver(pickerTriggers["audioinput"], browser.ByRoleText("option", label))
	driver.evalFn = func(js string, out any) error {
		if strings.Contains(js, "enumerateDevices") {
			*(out.(*[]mediaDevice)) = []mediaDevice{{Kind: "audioinput", Label: label, ID: "mic1"}}
		}
		return nil
	}
	c := newTestController(t, driver, nil)

	report := c.SelectDevices(context.Background(), DevicePrefs{MicrophoneLabel: "virtual microphone"})
	assert.True(t, report.Microphone.Selected)
	assert.Contains(t, driver.clickedExprs(), browser.ByRoleText("option", label).Expr)
	assert.Zero(t, driver.escapes)
}

func TestSelectDevicesPickerAbandonFallsBack(t *testing.T) {
	// Dropdown opens but no entry matches; it must be closed again
	// before the constrained-stream fallback runs.
	driver := newFakeDriver(pickerTriggers["audioinput"])
	driver.evalFn = func(js string, out any) error {
		switch {
		case strings.Contains(js, "enumerateDevices"):
			*(out.(*[]mediaDevice)) = []mediaDevice{{Kind: "audioinput", Label: "meetnotes-mic", ID: "mic1"}}
		case strings.Contains(js, "getUserMedia"):
			*(out.(*bool)) = true
		}
		return nil
	}
	c := newTestController(t, driver, nil)

	report := c.SelectDevices(context.Background(), DevicePrefs{MicrophoneLabel: "meetnotes-mic"})
	assert.True(t, report.Microphone.Selected)
	assert.Equal(t, 1, driver.escapes)
}

func TestJoinMeetingSelectsConfiguredDevices(t *testing.T) {
	driver := newFakeDriver(
		locMicOff, locCameraOff,
		pickerTriggers["audioinput"], deviceOption("mic1"),
		joinButtons[0], locLeaveCall, locCaptionsOn,
	)
	driver.evalFn = func(js string, out any) error {
		if strings.Contains(js, "enumerateDevices") {
			*(out.(*[]mediaDevice)) = []mediaDevice{{Kind: "audioinput", Label: "meetnotes-mic", ID: "mic1"}}
		}
		return nil
	}
	c := newTestController(t, driver, func(cfg *Config) {
		cfg.Devices = DevicePrefs{MicrophoneLabel: "meetnotes-mic"}
	})

	require.True(t, c.JoinMeeting(context.Background(), meetURL))

	clicked := driver.clickedExprs()
	optionIdx := slices.Index(clicked, deviceOption("mic1").Expr)
	joinIdx := slices.Index(clicked, joinButtons[0].Expr)
	require.GreaterOrEqual(t, optionIdx, 0, "device option must be clicked during the join flow")
	assert.Less(t, optionIdx, joinIdx, "devices are selected before the join press")
}

func TestCaptionLoopSubmitsAndStops(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	driver := newFakeDriver()

	var evalMu sync.Mutex
	pending := []rawCaption{
		{ID: "cap-1", Speaker: "Alice", Text: "hello everyone", TS: 1000_000},
	}
	driver.evalFn = func(js string, out any) error {
		evalMu.Lock()
		defer evalMu.Unlock()
		switch {
		case strings.Contains(js, "MutationObserver"):
			*(out.(*bool)) = true
		case strings.Contains(js, "disconnect"), strings.Contains(js, "__mnQueue"):
			*(out.(*[]rawCaption)) = pending
			pending = nil
		}
		return nil
	}

	c := newTestController(t, driver, func(cfg *Config) { cfg.Clock = fc })

	var mu sync.Mutex
	var got []transcript.CaptionEntry
	require.NoError(t, c.StartCaptions(context.Background(), func(e transcript.CaptionEntry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}))

	fc.BlockUntilTimers(1)
	fc.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "cap-1", got[0].CaptionID)
	assert.Equal(t, "Alice", got[0].Speaker)

	c.StopCaptions()
}

func TestCaptionLoopExitsOnTargetClosed(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	driver := newFakeDriver()
	driver.evalFn = func(js string, out any) error {
		if strings.Contains(js, "MutationObserver") {
			*(out.(*bool)) = true
			return nil
		}
		return errors.New("target closed")
	}

	c := newTestController(t, driver, func(cfg *Config) { cfg.Clock = fc })
	c.box.update(func(s *MeetingState) { s.Joined = true })

	require.NoError(t, c.StartCaptions(context.Background(), func(transcript.CaptionEntry) {}))
	fc.BlockUntilTimers(1)
	fc.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool {
		return !c.State().Joined
	}, time.Second, 5*time.Millisecond)
	c.StopCaptions()
}

func TestCaptionPollCancelRaceStillDrains(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	driver := newFakeDriver()

	inDrain := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	driver.evalFn = func(js string, out any) error {
		switch {
		case strings.Contains(js, "MutationObserver"):
			*(out.(*bool)) = true
		case strings.Contains(js, "disconnect"):
			*(out.(*[]rawCaption)) = []rawCaption{
				{ID: "cap-9", Speaker: "Bob", Text: "closing remark", TS: 2000_000},
			}
		case strings.Contains(js, "__mnQueue"):
			once.Do(func() { close(inDrain) })
			<-release
			return context.Canceled
		}
		return nil
	}

	c := newTestController(t, driver, func(cfg *Config) { cfg.Clock = fc })

	var mu sync.Mutex
	var got []transcript.CaptionEntry
	require.NoError(t, c.StartCaptions(context.Background(), func(e transcript.CaptionEntry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}))

	fc.BlockUntilTimers(1)
	fc.Advance(500 * time.Millisecond)
	<-inDrain

	// Cancellation lands while the poll evaluate is still in flight.
	c.captionCancel()
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "cap-9", got[0].CaptionID)
	mu.Unlock()

	c.StopCaptions()
}

func TestCaptionLoopTracksParticipants(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	driver := newFakeDriver()
	driver.evalFn = func(js string, out any) error {
		switch {
		case strings.Contains(js, "MutationObserver"):
			*(out.(*bool)) = true
		case strings.Contains(js, "data-participant-id"):
			*(out.(*[]string)) = []string{"Alice", "Bob"}
		}
		return nil
	}

	c := newTestController(t, driver, func(cfg *Config) { cfg.Clock = fc })
	require.NoError(t, c.StartCaptions(context.Background(), func(transcript.CaptionEntry) {}))

	fc.BlockUntilTimers(1)
	fc.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool {
		return len(c.State().Participants) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Alice", "Bob"}, c.State().Participants)

	c.StopCaptions()
}

// recordingPulse implements audio.PulseClient and records sink
// lifecycle calls.
type recordingPulse struct {
	mu       sync.Mutex
	loaded   []string
	unloaded []int
}

func (p *recordingPulse) ListSinkInputs(context.Context) ([]audio.SinkInput, error) { return nil, nil }
func (p *recordingPulse) ListSinks(context.Context) ([]audio.Sink, error)           { return nil, nil }
func (p *recordingPulse) ListSources(context.Context) ([]audio.Source, error)       { return nil, nil }

func (p *recordingPulse) LoadNullSink(_ context.Context, name string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = append(p.loaded, name)
	return 42, nil
}

func (p *recordingPulse) UnloadModule(_ context.Context, moduleID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloaded = append(p.unloaded, moduleID)
	return nil
}

func (p *recordingPulse) MoveSinkInput(context.Context, int, string) error { return nil }
func (p *recordingPulse) DefaultSinkName(context.Context) (string, error)  { return "host-sink", nil }
func (p *recordingPulse) SetDefaultSource(context.Context, string) error   { return nil }

func TestInitializeStartsAudioRouting(t *testing.T) {
	pulse := &recordingPulse{}
	driver := newFakeDriver()

	c := newTestController(t, driver, func(cfg *Config) { cfg.Pulse = pulse })
	require.NotNil(t, c.AudioRouter())
	assert.Equal(t, "meetnotes-fake.monitor", c.AudioRouter().MonitorSource())

	pulse.mu.Lock()
	require.Equal(t, []string{"meetnotes-fake"}, pulse.loaded)
	pulse.mu.Unlock()

	c.Close(context.Background())
	assert.Nil(t, c.AudioRouter())

	pulse.mu.Lock()
	assert.Equal(t, []int{42}, pulse.unloaded)
	pulse.mu.Unlock()
}
