package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"camrelay/internal/config"
)

// ConfigOption customizes the configuration returned by NewConfig.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t    testing.TB
	base string
	cfg  *config.Config
}

// NewConfig returns the default configuration with every directory moved
// under a per-test temp root and the API bound to an ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SnapshotDir = filepath.Join(base, "snapshots")
	cfg.Paths.APIBind = "127.0.0.1:0"

	b := &configBuilder{t: t, base: base, cfg: &cfg}
	for _, opt := range opts {
		opt(b)
	}
	return b.cfg
}

// WithCamera appends a camera whose source is the given command line.
func WithCamera(name string, source ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cameras = append(b.cfg.Cameras, config.Camera{Name: name, Source: source})
	}
}

// WithSnapshotHistory keeps dated captures under layout in the given image
// format instead of one rolling image per camera.
func WithSnapshotHistory(layout, imageType string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Snapshots.Format = layout
		b.cfg.Snapshots.ImageType = imageType
	}
}

// WithStubbedBinaries puts executables named names first on PATH for the
// rest of the test. Each stub exits 0; ffmpeg is stubbed when names is empty.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg"}
		}
		dir := filepath.Join(b.base, "bin")
		for _, name := range names {
			writeStub(b.t, dir, name, "exit 0")
		}
		b.t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

func writeStub(t testing.TB, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
}

// BaseDir returns the temp root backing a config built by NewConfig.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
