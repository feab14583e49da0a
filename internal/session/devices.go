package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/teemow/meetnotes/internal/browser"
	"github.com/teemow/meetnotes/internal/logging"
)

// DevicePrefs names the virtual devices the bot should use, matched
// against the labels the browser reports. Empty fields skip that
// device type.
type DevicePrefs struct {
	CameraLabel     string
	MicrophoneLabel string
	SpeakerLabel    string
}

// DeviceResult records the outcome for one device type.
type DeviceResult struct {
	Requested string
	MatchedID string
	Selected  bool
	Err       string
}

// DeviceReport collects per-type results. Device types are selected
// independently: a missing virtual camera does not block microphone
// selection.
type DeviceReport struct {
	Camera     DeviceResult
	Microphone DeviceResult
	Speaker    DeviceResult
}

// AllSelected reports whether every requested device type succeeded.
func (r DeviceReport) AllSelected() bool {
	for _, res := range []DeviceResult{r.Camera, r.Microphone, r.Speaker} {
		if res.Requested != "" && !res.Selected {
			return false
		}
	}
	return true
}

const enumerateDevicesJS = `
navigator.mediaDevices.enumerateDevices().then(devices =>
  devices.map(d => ({kind: d.kind, label: d.label, id: d.deviceId}))
)
`

type mediaDevice struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
	ID    string `json:"id"`
}

// Pre-join device pickers, one dropdown per device kind on the
// green-room screen.
var pickerTriggers = map[string]browser.Locator{
	"videoinput":  browser.ByAriaLabel("Camera"),
	"audioinput":  browser.ByAriaLabel("Microphone"),
	"audiooutput": browser.ByAriaLabel("Speakers"),
}

// deviceOption locates a picker entry by the device id stamped on the
// option node.
func deviceOption(deviceID string) browser.Locator {
	return browser.ByCSS(
		fmt.Sprintf("device option %s", deviceID),
		fmt.Sprintf(`[role="option"][data-device-id=%q]`, deviceID),
	)
}

// SelectDevices enumerates the page's media devices and selects the
// configured virtual ones through the pre-join picker dropdowns,
// falling back to constrained media-stream requests when the picker is
// not usable. Runs after navigation, before the join button, while
// Meet still applies device changes to the pre-join preview.
func (c *Controller) SelectDevices(ctx context.Context, prefs DevicePrefs) DeviceReport {
	report := DeviceReport{
		Camera:     DeviceResult{Requested: prefs.CameraLabel},
		Microphone: DeviceResult{Requested: prefs.MicrophoneLabel},
		Speaker:    DeviceResult{Requested: prefs.SpeakerLabel},
	}
	if c.driver == nil {
		return report
	}

	var devices []mediaDevice
	if err := c.driver.Evaluate(ctx, enumerateDevicesJS, &devices); err != nil {
		c.logger.Warn("device enumeration failed", logging.Err(err))
		return report
	}

	c.selectOne(ctx, &report.Camera, devices, "videoinput")
	c.selectOne(ctx, &report.Microphone, devices, "audioinput")
	c.selectOne(ctx, &report.Speaker, devices, "audiooutput")

	c.logger.Info("device selection done",
		"camera", report.Camera.Selected,
		"microphone", report.Microphone.Selected,
		"speaker", report.Speaker.Selected,
	)
	return report
}

func (c *Controller) selectOne(ctx context.Context, res *DeviceResult, devices []mediaDevice, kind string) {
	if res.Requested == "" {
		return
	}

	want := strings.ToLower(res.Requested)
	var label string
	for _, d := range devices {
		if d.Kind == kind && strings.Contains(strings.ToLower(d.Label), want) {
			res.MatchedID = d.ID
			label = d.Label
			break
		}
	}
	if res.MatchedID == "" {
		res.Err = fmt.Sprintf("no %s matching %q", kind, res.Requested)
		return
	}

	if c.selectViaPicker(ctx, res.MatchedID, label, kind) {
		res.Selected = true
		return
	}
	c.selectViaConstraints(ctx, res, kind)
}

// selectViaPicker opens the device dropdown and picks the entry, by
// device id first, then by visible label.
func (c *Controller) selectViaPicker(ctx context.Context, deviceID, label, kind string) bool {
	trigger, ok := pickerTriggers[kind]
	if !ok {
		return false
	}
	if err := c.driver.Click(ctx, trigger, dialogTimeout); err != nil {
		return false
	}
	if err := c.driver.Click(ctx, deviceOption(deviceID), dialogTimeout); err == nil {
		return true
	}
	if err := c.driver.Click(ctx, browser.ByRoleText("option", label), dialogTimeout); err == nil {
		return true
	}
	// Close the abandoned dropdown so the join controls stay reachable.
	_ = c.driver.PressEscape(ctx)
	return false
}

// selectViaConstraints requests a media stream pinned to the device
// (setSinkId for outputs), switching the page without the picker UI.
func (c *Controller) selectViaConstraints(ctx context.Context, res *DeviceResult, kind string) {
	var js string
	switch kind {
	case "videoinput":
		js = fmt.Sprintf(`navigator.mediaDevices.getUserMedia({video: {deviceId: {exact: %q}}}).then(() => true)`, res.MatchedID)
	case "audioinput":
		js = fmt.Sprintf(`navigator.mediaDevices.getUserMedia({audio: {deviceId: {exact: %q}}}).then(() => true)`, res.MatchedID)
	case "audiooutput":
		// Output routing has no getUserMedia path; setSinkId on the
		// page's media elements is the programmatic equivalent.
		js = fmt.Sprintf(
			`Promise.all(Array.from(document.querySelectorAll('audio,video')).map(el => el.setSinkId(%q))).then(() => true)`,
			res.MatchedID)
	}

	var ok bool
	if err := c.driver.Evaluate(ctx, js, &ok); err != nil {
		res.Err = err.Error()
		return
	}
	res.Selected = true
}
