// Package audio isolates one browser session's audio through a
// dedicated PulseAudio null sink so meeting audio can be captured from
// the sink monitor without playing through the operator's speakers.
package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SinkInput is one playback stream attached to a sink.
type SinkInput struct {
	Index   int
	Sink    int
	PID     int
	AppName string
}

// Sink is a PulseAudio output device or virtual sink.
type Sink struct {
	Index int
	Name  string
}

// Source is a PulseAudio capture device.
type Source struct {
	Name        string
	Description string
}

// PulseClient is the PulseAudio control surface the Router needs.
// PactlClient talks to the real daemon; tests substitute a fake.
type PulseClient interface {
	ListSinkInputs(ctx context.Context) ([]SinkInput, error)
	ListSinks(ctx context.Context) ([]Sink, error)
	ListSources(ctx context.Context) ([]Source, error)
	LoadNullSink(ctx context.Context, name string) (moduleID int, err error)
	UnloadModule(ctx context.Context, moduleID int) error
	MoveSinkInput(ctx context.Context, inputIndex int, sinkName string) error
	DefaultSinkName(ctx context.Context) (string, error)
	SetDefaultSource(ctx context.Context, name string) error
}

// PactlClient implements PulseClient by shelling out to pactl.
type PactlClient struct {
	// run executes pactl with args and returns stdout. Overridable in
	// tests.
	run func(ctx context.Context, args ...string) (string, error)
}

// NewPactlClient returns a client using the pactl binary on PATH.
func NewPactlClient() *PactlClient {
	return &PactlClient{run: runPactl}
}

func runPactl(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "pactl", args...).Output()
	if err != nil {
		return "", fmt.Errorf("pactl %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// ListSinkInputs parses `pactl list sink-inputs`.
func (c *PactlClient) ListSinkInputs(ctx context.Context) ([]SinkInput, error) {
	out, err := c.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, err
	}
	return parseSinkInputs(out), nil
}

// ListSinks parses `pactl list short sinks`.
func (c *PactlClient) ListSinks(ctx context.Context) ([]Sink, error) {
	out, err := c.run(ctx, "list", "short", "sinks")
	if err != nil {
		return nil, err
	}
	var sinks []Sink
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		sinks = append(sinks, Sink{Index: idx, Name: fields[1]})
	}
	return sinks, nil
}

// ListSources parses `pactl list sources` name and description pairs.
func (c *PactlClient) ListSources(ctx context.Context) ([]Source, error) {
	out, err := c.run(ctx, "list", "sources")
	if err != nil {
		return nil, err
	}
	var sources []Source
	var cur *Source
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Source #"):
			if cur != nil && cur.Name != "" {
				sources = append(sources, *cur)
			}
			cur = &Source{}
		case cur != nil && strings.HasPrefix(trimmed, "Name:"):
			cur.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "Name:"))
		case cur != nil && strings.HasPrefix(trimmed, "Description:"):
			cur.Description = strings.TrimSpace(strings.TrimPrefix(trimmed, "Description:"))
		}
	}
	if cur != nil && cur.Name != "" {
		sources = append(sources, *cur)
	}
	return sources, nil
}

// LoadNullSink loads a module-null-sink with the given name and
// returns its module id.
func (c *PactlClient) LoadNullSink(ctx context.Context, name string) (int, error) {
	out, err := c.run(ctx, "load-module", "module-null-sink",
		"sink_name="+name,
		fmt.Sprintf("sink_properties=device.description=%s", name))
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing module id %q: %w", strings.TrimSpace(out), err)
	}
	return id, nil
}

// UnloadModule unloads a previously loaded module.
func (c *PactlClient) UnloadModule(ctx context.Context, moduleID int) error {
	_, err := c.run(ctx, "unload-module", strconv.Itoa(moduleID))
	return err
}

// MoveSinkInput moves a playback stream to another sink.
func (c *PactlClient) MoveSinkInput(ctx context.Context, inputIndex int, sinkName string) error {
	_, err := c.run(ctx, "move-sink-input", strconv.Itoa(inputIndex), sinkName)
	return err
}

// DefaultSinkName returns the current default sink.
func (c *PactlClient) DefaultSinkName(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "get-default-sink")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SetDefaultSource sets the default capture device.
func (c *PactlClient) SetDefaultSource(ctx context.Context, name string) error {
	_, err := c.run(ctx, "set-default-source", name)
	return err
}

// parseSinkInputs extracts stream index, owning sink, and the client
// process id from `pactl list sink-inputs` output.
func parseSinkInputs(out string) []SinkInput {
	var inputs []SinkInput
	var cur *SinkInput
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Sink Input #"):
			if cur != nil {
				inputs = append(inputs, *cur)
			}
			idx, err := strconv.Atoi(strings.TrimPrefix(trimmed, "Sink Input #"))
			if err != nil {
				cur = nil
				continue
			}
			cur = &SinkInput{Index: idx}
		case cur != nil && strings.HasPrefix(trimmed, "Sink:"):
			if sink, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trimmed, "Sink:"))); err == nil {
				cur.Sink = sink
			}
		case cur != nil && strings.HasPrefix(trimmed, `application.process.id = "`):
			val := strings.TrimSuffix(strings.TrimPrefix(trimmed, `application.process.id = "`), `"`)
			if pid, err := strconv.Atoi(val); err == nil {
				cur.PID = pid
			}
		case cur != nil && strings.HasPrefix(trimmed, `application.name = "`):
			cur.AppName = strings.TrimSuffix(strings.TrimPrefix(trimmed, `application.name = "`), `"`)
		}
	}
	if cur != nil {
		inputs = append(inputs, *cur)
	}
	return inputs
}
