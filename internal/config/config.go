package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	SnapshotDir string `toml:"snapshot_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Supervisor contains worker lifecycle timings.
type Supervisor struct {
	BackoffInitialSeconds  int  `toml:"backoff_initial_seconds"`
	BackoffMaxSeconds      int  `toml:"backoff_max_seconds"`
	MinUptimeSeconds       int  `toml:"min_uptime_seconds"`
	StaleFrameSeconds      int  `toml:"stale_frame_seconds"`
	ConnectTimeoutSeconds  int  `toml:"connect_timeout_seconds"`
	StopTimeoutSeconds     int  `toml:"stop_timeout_seconds"`
	ShutdownTimeoutSeconds int  `toml:"shutdown_timeout_seconds"`
	AutoStart              bool `toml:"auto_start"`
}

// Relay contains configuration for the local media relay (mediamtx).
type Relay struct {
	APIURL        string `toml:"api_url"`
	PublishURL    string `toml:"publish_url"`
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	Record        bool   `toml:"record"`
	RecordPath    string `toml:"record_path"`
	HealthSeconds int    `toml:"health_interval_seconds"`
}

// Snapshots contains configuration for periodic still capture.
type Snapshots struct {
	Enabled              bool     `toml:"enabled"`
	IntervalSeconds      int      `toml:"interval_seconds"`
	SolarIntervalSeconds int      `toml:"solar_interval_seconds"`
	Latitude             float64  `toml:"latitude"`
	Longitude            float64  `toml:"longitude"`
	ImageType            string   `toml:"image_type"`
	Format               string   `toml:"format"`
	Cameras              []string `toml:"cameras"`
}

// Retention contains configuration for snapshot pruning.
type Retention struct {
	IntervalSeconds int    `toml:"interval_seconds"`
	MaxAge          string `toml:"max_age"`
	MaxCount        int    `toml:"max_count"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Failed         bool   `toml:"failed"`
	Recovered      bool   `toml:"recovered"`
}

// ControlBus contains configuration for the NATS command surface.
type ControlBus struct {
	Enabled       bool   `toml:"enabled"`
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Camera describes one statically configured device.
type Camera struct {
	Name     string   `toml:"name"`
	Model    string   `toml:"model"`
	Host     string   `toml:"host"`
	Source   []string `toml:"source"`
	Disabled bool     `toml:"disabled"`
	// SnapshotIntervalSeconds overrides snapshots.interval_seconds when positive.
	SnapshotIntervalSeconds int    `toml:"snapshot_interval_seconds"`
	RetentionMaxAge         string `toml:"retention_max_age"`
	RetentionMaxCount       int    `toml:"retention_max_count"`
}

// Config encapsulates all configuration values for camrelay.
//
// Configuration sections by subsystem:
//   - Paths: state/log/snapshot directories and API bind address
//   - Supervisor: backoff, staleness and shutdown timings
//   - Relay: mediamtx control API and publisher settings
//   - Snapshots: capture cadence and solar location
//   - Retention: snapshot pruning policy
//   - Notifications: ntfy push notification settings
//   - ControlBus: NATS request/reply command surface
//   - Logging: log format, level, and retention
//   - Cameras: the static device directory
type Config struct {
	Paths         Paths         `toml:"paths"`
	Supervisor    Supervisor    `toml:"supervisor"`
	Relay         Relay         `toml:"relay"`
	Snapshots     Snapshots     `toml:"snapshots"`
	Retention     Retention     `toml:"retention"`
	Notifications Notifications `toml:"notifications"`
	ControlBus    ControlBus    `toml:"control_bus"`
	Logging       Logging       `toml:"logging"`
	Cameras       []Camera      `toml:"cameras"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/camrelay/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("camrelay.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.SnapshotDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the IPC socket location inside the log directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "camrelay.sock")
}

// DatabasePath returns the SQLite journal location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "camrelay.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "camrelayd.lock")
}

// BackoffInitial is the first reconnect delay.
func (s Supervisor) BackoffInitial() time.Duration {
	return seconds(s.BackoffInitialSeconds)
}

// BackoffMax caps the reconnect delay.
func (s Supervisor) BackoffMax() time.Duration {
	return seconds(s.BackoffMaxSeconds)
}

// MinUptime is the streaming period after which backoff resets.
func (s Supervisor) MinUptime() time.Duration {
	return seconds(s.MinUptimeSeconds)
}

// StaleFrame is the longest gap between frames tolerated while streaming.
func (s Supervisor) StaleFrame() time.Duration {
	return seconds(s.StaleFrameSeconds)
}

// ConnectTimeout bounds a single session open.
func (s Supervisor) ConnectTimeout() time.Duration {
	return seconds(s.ConnectTimeoutSeconds)
}

// StopTimeout bounds a single worker's graceful stop.
func (s Supervisor) StopTimeout() time.Duration {
	return seconds(s.StopTimeoutSeconds)
}

// ShutdownTimeout bounds process-wide shutdown.
func (s Supervisor) ShutdownTimeout() time.Duration {
	return seconds(s.ShutdownTimeoutSeconds)
}

// MaxAgeDuration parses retention.max_age; zero means no age limit.
func (r Retention) MaxAgeDuration() time.Duration {
	d, _ := ParseRetention(r.MaxAge)
	return d
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
