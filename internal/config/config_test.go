package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"camrelay/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "camrelay")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7590" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Supervisor.BackoffMax() != time.Minute {
		t.Fatalf("unexpected backoff cap: %s", cfg.Supervisor.BackoffMax())
	}
	if cfg.Snapshots.IntervalSeconds != 180 {
		t.Fatalf("unexpected snapshot interval: %d", cfg.Snapshots.IntervalSeconds)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.SnapshotDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPathWithCameras(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camrelay.toml")
	content := `
[paths]
state_dir = "` + filepath.Join(dir, "state") + `"

[snapshots]
interval_seconds = 5
image_type = ".PNG"

[retention]
max_age = "7d"

[[cameras]]
name = " Front Door "
source = ["ffmpeg", " -i ", "rtsp://cam/live"]
retention_max_count = 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Snapshots.IntervalSeconds != 15 {
		t.Fatalf("expected snapshot interval clamped to 15, got %d", cfg.Snapshots.IntervalSeconds)
	}
	if cfg.Snapshots.ImageType != "png" {
		t.Fatalf("expected image type png, got %q", cfg.Snapshots.ImageType)
	}
	if got := cfg.Retention.MaxAgeDuration(); got != 7*24*time.Hour {
		t.Fatalf("unexpected max age: %s", got)
	}
	if len(cfg.Cameras) == 0 {
		t.Fatal("expected cameras to load")
	}
	cam := cfg.Cameras[0]
	if cam.Name != "Front Door" {
		t.Fatalf("expected trimmed camera name, got %q", cam.Name)
	}
	if len(cam.Source) != 3 || cam.Source[1] != "-i" {
		t.Fatalf("unexpected source args: %#v", cam.Source)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "backoff cap below initial",
			mutate: func(c *config.Config) { c.Supervisor.BackoffMaxSeconds = 0 },
			want:   "supervisor.backoff_max_seconds",
		},
		{
			name:   "bad retention unit",
			mutate: func(c *config.Config) { c.Retention.MaxAge = "7y" },
			want:   "retention.max_age",
		},
		{
			name: "duplicate camera",
			mutate: func(c *config.Config) {
				c.Cameras = []config.Camera{
					{Name: "yard", Source: []string{"cat"}},
					{Name: "Yard", Source: []string{"cat"}},
				}
			},
			want: "duplicated",
		},
		{
			name: "wildcard camera name",
			mutate: func(c *config.Config) {
				c.Cameras = []config.Camera{{Name: "*", Source: []string{"cat"}}}
			},
			want: "fan-out",
		},
		{
			name:   "control bus without url",
			mutate: func(c *config.Config) { c.ControlBus.Enabled = true },
			want:   "control_bus.nats_url",
		},
		{
			name:   "relay url not absolute",
			mutate: func(c *config.Config) { c.Relay.APIURL = "localhost" },
			want:   "relay.api_url",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to mention %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseRetention(t *testing.T) {
	cases := map[string]time.Duration{
		"":    0,
		"90":  90 * time.Second,
		"15m": 15 * time.Minute,
		"12h": 12 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"2W":  14 * 24 * time.Hour,
	}
	for input, want := range cases {
		got, err := config.ParseRetention(input)
		if err != nil {
			t.Fatalf("ParseRetention(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseRetention(%q) = %s, want %s", input, got, want)
		}
	}
	for _, bad := range []string{"0d", "-1h", "d", "3x"} {
		if _, err := config.ParseRetention(bad); err == nil {
			t.Fatalf("expected ParseRetention(%q) to fail", bad)
		}
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}

func TestSampleConfigOnlyAdvertisesKnownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open sample: %v", err)
	}
	defer file.Close()

	var cfg config.Config
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		t.Fatalf("sample config carries a key no setting reads: %v", err)
	}
}
