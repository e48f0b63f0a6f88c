package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBinary is the capture tool invoked when none is configured
	DefaultBinary = "fswebcam"
	// DefaultDevice is the video device handed to the capture tool
	DefaultDevice = "/dev/video0"
	// DefaultOutputDir receives the captured frames
	DefaultOutputDir = "captures"
	// DefaultTimeout bounds one capture invocation
	DefaultTimeout = 10 * time.Second

	defaultResolution = "1280x720"
)

// Config holds the capture settings. Zero values fall back to the defaults
// above. ExtraArgs are appended before the output path, which is always the
// final argument.
type Config struct {
	Binary    string
	Device    string
	ExtraArgs []string
	OutputDir string
	Timeout   time.Duration
}

// Camera shells out to an external capture tool for webcam frames. The
// camera is optional equipment: callers check Available before offering
// image features.
type Camera struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// New creates a camera with defaults applied
func New(cfg Config, logger *zap.SugaredLogger) *Camera {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		l, _ := zap.NewDevelopment()
		logger = l.Sugar()
	}
	return &Camera{cfg: cfg, logger: logger}
}

// Available reports whether the capture binary can be found
func (c *Camera) Available() bool {
	_, err := exec.LookPath(c.cfg.Binary)
	return err == nil
}

// Capture grabs one frame into <prefix>_<timestamp>.jpg under the output
// directory and returns its path. The file must exist and be non-empty or
// the capture counts as failed.
func (c *Camera) Capture(prefix string) (string, error) {
	if prefix == "" {
		prefix = "capture"
	}
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", c.cfg.OutputDir, err)
	}

	name := fmt.Sprintf("%s_%s.jpg", prefix, time.Now().Format("20060102_150405"))
	path := filepath.Join(c.cfg.OutputDir, name)

	args := append([]string{"-d", c.cfg.Device, "-r", defaultResolution, "--no-banner"}, c.cfg.ExtraArgs...)
	args = append(args, path)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	c.logger.Debugf("Capturing frame: %s %s", c.cfg.Binary, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)
	// Bounds the pipe wait when a killed tool leaves children holding stdout
	cmd.WaitDelay = time.Second
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%s failed: %w (%s)", c.cfg.Binary, err, strings.TrimSpace(string(out)))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("capture wrote no file: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(path)
		return "", fmt.Errorf("capture wrote empty file %s", path)
	}

	c.logger.Infof("Captured %s (%d bytes)", path, info.Size())
	return path, nil
}
