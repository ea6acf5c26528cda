package snapshot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"camrelay/internal/config"
	"camrelay/internal/device"
	"camrelay/internal/fileutil"
	"camrelay/internal/services"
)

// CommandRunner executes an external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Result describes one published capture.
type Result struct {
	Device string
	Path   string
	Size   int64
	At     time.Time
}

// Capturer grabs one still for a device. history selects the layout-based
// archive path instead of the single latest image.
type Capturer interface {
	Capture(ctx context.Context, desc device.Descriptor, history bool) (Result, error)
}

// FFmpegCapturer reads one frame from the relay's RTSP path.
type FFmpegCapturer struct {
	Binary    string
	RelayURL  string
	Dir       string
	ImageType string
	// Layout is a time layout such as "2006-01-02/15-04-05". When set,
	// history captures go to <Dir>/<device>/<layout>.<ImageType>.
	Layout  string
	Timeout time.Duration

	run CommandRunner
	now func() time.Time
}

// NewFFmpegCapturer builds a capturer from configuration.
func NewFFmpegCapturer(cfg *config.Config) *FFmpegCapturer {
	return &FFmpegCapturer{
		Binary:    cfg.Relay.FFmpegBinary,
		RelayURL:  cfg.Relay.PublishURL,
		Dir:       cfg.Paths.SnapshotDir,
		ImageType: cfg.Snapshots.ImageType,
		Layout:    cfg.Snapshots.Format,
		Timeout:   30 * time.Second,
	}
}

// WithRunner swaps the command runner, mainly for tests.
func (c *FFmpegCapturer) WithRunner(run CommandRunner) *FFmpegCapturer {
	c.run = run
	return c
}

// Target returns where a capture taken at at is written.
func (c *FFmpegCapturer) Target(desc device.Descriptor, at time.Time, history bool) string {
	ext := c.ImageType
	if ext == "" {
		ext = "jpg"
	}
	path := desc.PathName()
	if history && c.Layout != "" {
		return filepath.Join(c.Dir, path, filepath.FromSlash(at.Format(c.Layout))+"."+ext)
	}
	return filepath.Join(c.Dir, path+"."+ext)
}

// HistoryDir is the directory holding a device's archived captures.
func (c *FFmpegCapturer) HistoryDir(desc device.Descriptor) string {
	return filepath.Join(c.Dir, desc.PathName())
}

func (c *FFmpegCapturer) args(desc device.Descriptor, output string) []string {
	source := strings.TrimRight(c.RelayURL, "/") + "/" + desc.PathName()
	return []string{
		"-loglevel", "error",
		"-analyzeduration", "0",
		"-probesize", "32",
		"-f", "rtsp",
		"-rtsp_transport", "tcp",
		"-i", source,
		"-map", "0:v:0",
		"-f", "image2",
		"-frames:v", "1",
		"-y", output,
	}
}

// Capture implements Capturer.
func (c *FFmpegCapturer) Capture(ctx context.Context, desc device.Descriptor, history bool) (Result, error) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	run := c.run
	if run == nil {
		run = defaultCommandRunner
	}
	at := now()
	target := c.Target(desc, at, history)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "snapshot", "capture", "create snapshot dir", err)
	}
	staged := fileutil.TempPath(target, uuid.NewString()[:8])

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := run(runCtx, c.Binary, c.args(desc, staged)...); err != nil {
		_ = os.Remove(staged)
		return Result{}, services.Wrap(services.ErrRelayUnavailable, "snapshot", "capture", "ffmpeg "+desc.Name, err)
	}

	info, err := os.Stat(staged)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(staged)
		if err == nil {
			err = fmt.Errorf("empty image")
		}
		return Result{}, services.Wrap(services.ErrProtocol, "snapshot", "capture", "no image written for "+desc.Name, err)
	}
	if err := fileutil.Publish(staged, target); err != nil {
		_ = os.Remove(staged)
		return Result{}, services.Wrap(services.ErrConfiguration, "snapshot", "capture", "publish image", err)
	}
	return Result{Device: desc.Name, Path: target, Size: info.Size(), At: at}, nil
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
