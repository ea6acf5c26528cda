package daemon

import (
	"context"
	"strings"
	"testing"
	"time"

	"camrelay/internal/config"
	"camrelay/internal/logging"
	"camrelay/internal/notifications"
	"camrelay/internal/services"
	"camrelay/internal/store"
	"camrelay/internal/supervisor"
)

func TestDaemonStartSeedsAndStopDrains(t *testing.T) {
	td := newTestDaemon(t, nil)
	ctx := context.Background()

	if err := td.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, td.Daemon, "FRONT_DOOR", supervisor.StateStreaming)
	waitForState(t, td.Daemon, "GARAGE", supervisor.StateStreaming)

	status := td.Status(ctx)
	if !status.Running || status.RunID != "run-test" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Fleet.Total != 2 || status.Fleet.States["streaming"] != 2 {
		t.Fatalf("fleet summary = %+v", status.Fleet)
	}
	if !status.RelayAlive {
		t.Fatal("relay without a health check should report alive")
	}
	if status.Process.PID == 0 {
		t.Fatal("process health missing pid")
	}

	if err := td.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	td.Stop()
	select {
	case <-td.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Stop")
	}
	if td.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := td.Start(ctx); err == nil {
		t.Fatal("a stopped daemon must not restart")
	}

	events, err := td.store.RecentEvents(ctx, "FRONT_DOOR", 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) == 0 || events[0].To != "stopped" {
		t.Fatalf("journal missing shutdown transition: %+v", events)
	}
}

func TestDaemonAutoStartDisabled(t *testing.T) {
	td := newTestDaemon(t, func(cfg *config.Config) { cfg.Supervisor.AutoStart = false })
	ctx := context.Background()
	if err := td.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := len(td.Cameras(ctx)); got != 0 {
		t.Fatalf("expected no cameras before a start command, got %d", got)
	}

	// Configured cameras still resolve for inspection and can be started.
	resp, err := td.Camera(ctx, "garage", 0)
	if err != nil || resp.Camera.State != "idle" {
		t.Fatalf("Camera = %+v, %v", resp, err)
	}
	results, err := td.Command(ctx, "garage", "start", nil, "corr-1")
	if err != nil || len(results) != 1 || !results[0].OK() {
		t.Fatalf("start command = %+v, %v", results, err)
	}
	if results[0].CorrelationID != "corr-1" {
		t.Fatalf("correlation id = %q", results[0].CorrelationID)
	}
	waitForState(t, td.Daemon, "GARAGE", supervisor.StateStreaming)
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	first := newTestDaemon(t, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	st, err := store.Open(first.cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	second, err := New(first.cfg, st, logging.NewNop(), Options{Dialer: blockingDialer(), Relay: &memoryRelay{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer second.Close()
	err = second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}
}

func TestCommandFanOutAndUnknownCamera(t *testing.T) {
	td := newTestDaemon(t, nil)
	ctx := context.Background()
	if err := td.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, td.Daemon, "FRONT_DOOR", supervisor.StateStreaming)
	waitForState(t, td.Daemon, "GARAGE", supervisor.StateStreaming)

	results, err := td.Command(ctx, "all", "state", nil, "")
	if err != nil || len(results) != 2 {
		t.Fatalf("fan-out = %+v, %v", results, err)
	}
	for _, res := range results {
		if !res.OK() || res.Response != "streaming" {
			t.Fatalf("unexpected fan-out result %+v", res)
		}
	}

	if _, err := td.Command(ctx, "porch", "stop", nil, ""); services.KindOf(err) != "unknown_device" {
		t.Fatalf("expected unknown_device, got %v", err)
	}
}

func TestCommandBeforeStartIsCancelled(t *testing.T) {
	td := newTestDaemon(t, nil)
	_, err := td.Command(context.Background(), "garage", "start", nil, "")
	if services.KindOf(err) != "cancelled" {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestFailedNotificationReachesNotifier(t *testing.T) {
	td := newTestDaemon(t, nil)
	if err := td.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	td.observe(supervisor.Transition{Device: "GARAGE", From: supervisor.StateReconnecting, To: supervisor.StateFailed,
		Err: services.Wrap(services.ErrAuth, "session", "open", "401", nil), At: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := td.notifier.sent(); len(sent) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("notifier saw %v", td.notifier.sent())
}

func TestRemovedFailedCameraIsNotReportedRecovered(t *testing.T) {
	td := newTestDaemon(t, nil)
	ctx := context.Background()
	if err := td.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, td.Daemon, "GARAGE", supervisor.StateStreaming)
	td.observe(supervisor.Transition{Device: "GARAGE", From: supervisor.StateReconnecting, To: supervisor.StateFailed,
		Err: services.Wrap(services.ErrAuth, "session", "open", "401", nil), At: time.Now()})

	if results, err := td.Command(ctx, "garage", "remove", nil, ""); err != nil || !results[0].OK() {
		t.Fatalf("remove = %+v, %v", results, err)
	}
	if results, err := td.Command(ctx, "garage", "start", nil, ""); err != nil || !results[0].OK() {
		t.Fatalf("start = %+v, %v", results, err)
	}
	waitForState(t, td.Daemon, "GARAGE", supervisor.StateStreaming)
	td.Stop()

	sent := td.notifier.sent()
	if len(sent) != 1 || sent[0] != notifications.EventDeviceFailed {
		t.Fatalf("notifier saw %v", sent)
	}
}

func TestTestNotificationRequiresTopic(t *testing.T) {
	td := newTestDaemon(t, nil)
	sent, message, err := td.TestNotification(context.Background())
	if sent || err != nil || !strings.Contains(message, "not configured") {
		t.Fatalf("TestNotification = %v, %q, %v", sent, message, err)
	}

	td.cfg.Notifications.NtfyTopic = "camrelay-test"
	sent, _, err = td.TestNotification(context.Background())
	if !sent || err != nil {
		t.Fatalf("TestNotification with topic = %v, %v", sent, err)
	}
}
