package browser

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/teemow/meetnotes/internal/logging"
)

// VideoFeed loops a video file into a v4l2 virtual camera device via
// ffmpeg, giving the bot a synthetic camera picture instead of a black
// frame.
type VideoFeed struct {
	cmd    *exec.Cmd
	device string
	logger *slog.Logger
}

// StartVideoFeed launches the ffmpeg loop writing sourceFile to
// device. The feed keeps running until Stop.
func StartVideoFeed(logger *slog.Logger, sourceFile, device string) (*VideoFeed, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logging.WithComponent(logger, "videofeed")

	if _, err := os.Stat(sourceFile); err != nil {
		return nil, fmt.Errorf("video feed source: %w", err)
	}
	if _, err := os.Stat(device); err != nil {
		return nil, fmt.Errorf("video feed device: %w", err)
	}

	cmd := exec.Command("ffmpeg",
		"-re",
		"-stream_loop", "-1",
		"-i", sourceFile,
		"-f", "v4l2",
		"-pix_fmt", "yuv420p",
		device,
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	logger.Info("video feed started", "source", sourceFile, "device", device, "pid", cmd.Process.Pid)

	return &VideoFeed{cmd: cmd, device: device, logger: logger}, nil
}

// Device returns the virtual camera device path the feed writes to.
func (f *VideoFeed) Device() string {
	return f.device
}

// Stop terminates the ffmpeg process.
func (f *VideoFeed) Stop() {
	if f.cmd.Process == nil {
		return
	}
	_ = f.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = f.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = f.cmd.Process.Kill()
		<-done
	}
	f.logger.Info("video feed stopped", "device", f.device)
}
