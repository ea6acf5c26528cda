package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"camrelay/internal/config"
	"camrelay/internal/daemon"
	"camrelay/internal/device"
	"camrelay/internal/ipc"
	"camrelay/internal/logging"
	"camrelay/internal/relay"
	"camrelay/internal/session"
	"camrelay/internal/testsupport"
)

type quietSession struct {
	once   sync.Once
	closed chan struct{}
}

func (s *quietSession) ReadFrame(ctx context.Context) (session.Frame, error) {
	select {
	case <-s.closed:
		return session.Frame{}, session.NewError(session.CategoryNetwork, "read", errors.New("closed"))
	case <-ctx.Done():
		return session.Frame{}, ctx.Err()
	}
}

func (s *quietSession) SendControl(_ context.Context, cmd session.Command) (string, error) {
	return "ack " + cmd.Action, nil
}

func (s *quietSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type discardRelay struct{}

func (discardRelay) RegisterPath(context.Context, string, relay.PathConfig) error { return nil }
func (discardRelay) Feed(string, []byte) error                                    { return nil }
func (discardRelay) UnregisterPath(context.Context, string) error                 { return nil }

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	logPath    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t,
		testsupport.WithStubbedBinaries("ffmpeg", "stub-camera"),
		testsupport.WithCamera("Front Door", "stub-camera"),
		testsupport.WithCamera("Garage", "stub-camera"),
	)
	cfg.Paths.APIBind = ""
	cfg.Supervisor.AutoStart = true
	cfg.Supervisor.ShutdownTimeoutSeconds = 2
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	homeDir := filepath.Join(testsupport.BaseDir(cfg), "home")
	t.Setenv("HOME", homeDir)

	logPath := filepath.Join(cfg.Paths.LogDir, "camrelay-test.log")
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		t.Fatalf("create log file: %v", err)
	}
	configPath := filepath.Join(homeDir, ".config", "camrelay", "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	d, err := daemon.New(cfg, store, logger, daemon.Options{
		LogPath: logPath,
		LogHub:  logging.NewStreamHub(128),
		Dialer: session.DialerFunc(func(context.Context, device.Descriptor) (session.Session, error) {
			return &quietSession{closed: make(chan struct{})}, nil
		}),
		Relay: discardRelay{},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		logPath:    logPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "[paths]\nstate_dir = %q\nlog_dir = %q\nsnapshot_dir = %q\napi_bind = %q\n\n",
		cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.SnapshotDir, cfg.Paths.APIBind)
	fmt.Fprintf(&b, "[relay]\napi_url = %q\n\n", "http://127.0.0.1:1")
	for _, cam := range cfg.Cameras {
		fmt.Fprintf(&b, "[[cameras]]\nname = %q\nsource = [%q]\n\n", cam.Name, cam.Source[0])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func waitStreaming(t *testing.T, env *cliTestEnv, names ...string) {
	t.Helper()
	waitFor(t, 5*time.Second, func() bool {
		cams := env.daemon.Cameras(context.Background())
		streaming := map[string]bool{}
		for _, cam := range cams {
			streaming[cam.Name] = cam.State == "streaming"
		}
		for _, name := range names {
			if !streaming[name] {
				return false
			}
		}
		return true
	})
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}
