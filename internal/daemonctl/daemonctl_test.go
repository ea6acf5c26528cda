package daemonctl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"camrelay/internal/api"
	"camrelay/internal/testsupport"
)

func TestBuildDependencySummary(t *testing.T) {
	summary := BuildDependencySummary(nil)
	if summary.Severity != "info" {
		t.Fatalf("empty summary severity = %q", summary.Severity)
	}

	summary = BuildDependencySummary([]api.DependencyStatus{
		{Name: "FFmpeg", Available: true},
		{Name: "Source cam-client", Available: false},
		{Name: "Optional", Available: false, Optional: true},
	})
	if summary.Severity != "error" || summary.MissingRequired != 1 || summary.MissingOptional != 1 || summary.Available != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Detail != "1/3 available (missing: 1 required, 1 optional)" {
		t.Fatalf("unexpected detail: %q", summary.Detail)
	}

	summary = BuildDependencySummary([]api.DependencyStatus{{Name: "FFmpeg", Available: true}})
	if summary.Severity != "ok" || summary.Detail != "1/1 available" {
		t.Fatalf("unexpected all-ok summary: %+v", summary)
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(relay.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithCamera("Front Door", "stub-camera"),
		testsupport.WithCamera("Attic", "stub-camera"),
	)
	cfg.Cameras[1].Disabled = true
	cfg.Relay.APIURL = relay.URL

	snapshot, err := BuildStatusSnapshot(context.Background(), filepath.Join(t.TempDir(), "missing.sock"), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snapshot.Running {
		t.Fatal("expected offline snapshot")
	}
	if len(snapshot.Cameras) != 2 || snapshot.Cameras[0].Name != "FRONT_DOOR" || snapshot.Cameras[0].State != "offline" {
		t.Fatalf("unexpected cameras: %+v", snapshot.Cameras)
	}
	if snapshot.Cameras[1].State != "disabled" {
		t.Fatalf("disabled camera reported %q", snapshot.Cameras[1].State)
	}
	if snapshot.Fleet.Total != 2 || snapshot.Fleet.States["offline"] != 1 {
		t.Fatalf("unexpected fleet: %+v", snapshot.Fleet)
	}
	if snapshot.LockFilePath != cfg.LockPath() {
		t.Fatalf("lock path = %q", snapshot.LockFilePath)
	}

	checks := map[string]api.StatusLine{}
	for _, line := range snapshot.SystemChecks {
		checks[line.Label] = line
	}
	if checks["Camrelay"].Severity != "warn" {
		t.Fatalf("daemon line: %+v", checks["Camrelay"])
	}
	if checks["Relay"].Severity != "ok" {
		t.Fatalf("relay line: %+v", checks["Relay"])
	}
	if checks["Control Bus"].Detail != "Disabled" {
		t.Fatalf("control bus line: %+v", checks["Control Bus"])
	}
	if len(snapshot.Dependencies) == 0 || snapshot.DependencySummary.Total != len(snapshot.Dependencies) {
		t.Fatalf("dependencies not resolved: %+v", snapshot.DependencySummary)
	}
}

func TestStopNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctl := &Controller{SocketPath: filepath.Join(t.TempDir(), "missing.sock"), Config: cfg, StopGrace: 100 * time.Millisecond}
	_, err := ctl.Stop(context.Background())
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestForceKillRefusesSelf(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "camrelay.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := ForceKill(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
	if _, err := ForceKill(filepath.Join(t.TempDir(), "absent.pid"), "", 0); err == nil {
		t.Fatal("expected error without a pid")
	}
}

func TestStartRejectsEmptyExecutable(t *testing.T) {
	ctl := &Controller{SocketPath: filepath.Join(t.TempDir(), "missing.sock")}
	if _, err := ctl.Start(context.Background()); err == nil {
		t.Fatal("expected launch error without an executable")
	}
}

func TestStartFailsWhenDaemonNeverAnswers(t *testing.T) {
	ctl := &Controller{
		SocketPath: filepath.Join(t.TempDir(), "never.sock"),
		Executable: "/bin/true",
		StartWait:  300 * time.Millisecond,
	}
	_, err := ctl.Start(context.Background())
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected start timeout, got %v", err)
	}
}

func TestPollReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	calls := 0
	err := poll(ctx, func() (bool, error) {
		calls++
		return false, errors.New("still booting")
	})
	if err == nil || calls < 2 {
		t.Fatalf("poll err=%v calls=%d", err, calls)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline not wrapped: %v", err)
	}

	if err := poll(context.Background(), func() (bool, error) { return true, nil }); err != nil {
		t.Fatalf("done check returned %v", err)
	}
}

func TestLaunchArgs(t *testing.T) {
	got := LaunchOptions{ConfigPath: " /etc/camrelay.toml ", LogLevel: "debug"}.args()
	want := []string{"daemon", "run", "--config", "/etc/camrelay.toml", "--log-level", "debug"}
	if len(got) != len(want) {
		t.Fatalf("args = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args = %v", got)
		}
	}
}

func TestSocketPathOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if got := SocketPath(cfg, " /tmp/custom.sock "); got != "/tmp/custom.sock" {
		t.Fatalf("override ignored: %q", got)
	}
	if got := SocketPath(cfg, ""); got != cfg.SocketPath() {
		t.Fatalf("config socket = %q", got)
	}
}
