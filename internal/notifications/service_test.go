package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"camrelay/internal/config"
	"camrelay/internal/logging"
	"camrelay/internal/notifications"
	"camrelay/internal/services"
	"camrelay/internal/supervisor"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

type ntfyRecorder struct {
	mu       sync.Mutex
	requests []captured
	status   int
}

func (r *ntfyRecorder) handler(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, captured{
		title:    req.Header.Get("Title"),
		tags:     req.Header.Get("Tags"),
		priority: req.Header.Get("Priority"),
		body:     string(body),
	})
	status := r.status
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (r *ntfyRecorder) all() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.requests...)
}

func newService(t *testing.T, rec *ntfyRecorder, mutate func(*config.Config)) notifications.Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.Failed = true
	cfg.Notifications.Recovered = true
	if mutate != nil {
		mutate(&cfg)
	}
	return notifications.NewService(&cfg)
}

func TestDeviceFailedHeaders(t *testing.T) {
	rec := &ntfyRecorder{}
	svc := newService(t, rec, nil)

	err := svc.Publish(context.Background(), notifications.EventDeviceFailed, notifications.Payload{
		"device": "FRONT_DOOR",
		"error":  "401 unauthorized",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	reqs := rec.all()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	got := reqs[0]
	if got.title != "camrelay - Camera Failed" {
		t.Fatalf("unexpected title %q", got.title)
	}
	if got.tags != "camrelay,camera,failed" {
		t.Fatalf("unexpected tags %q", got.tags)
	}
	if got.priority != "high" {
		t.Fatalf("unexpected priority %q", got.priority)
	}
	if !strings.Contains(got.body, "FRONT_DOOR") || !strings.Contains(got.body, "401 unauthorized") {
		t.Fatalf("unexpected body %q", got.body)
	}
}

func TestRecoveredHasDefaultPriority(t *testing.T) {
	rec := &ntfyRecorder{}
	svc := newService(t, rec, nil)
	if err := svc.Publish(context.Background(), notifications.EventDeviceRecovered, notifications.Payload{"device": "GARAGE"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	reqs := rec.all()
	if len(reqs) != 1 || reqs[0].priority != "" || !strings.Contains(reqs[0].body, "GARAGE") {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}

func TestSuppressedEvents(t *testing.T) {
	rec := &ntfyRecorder{}
	svc := newService(t, rec, func(cfg *config.Config) {
		cfg.Notifications.Failed = false
		cfg.Notifications.Recovered = false
	})
	ctx := context.Background()
	for _, event := range []notifications.Event{
		notifications.EventDeviceFailed,
		notifications.EventDeviceRecovered,
		notifications.EventDeviceReconnecting,
	} {
		if err := svc.Publish(ctx, event, notifications.Payload{"device": "CAM"}); err != nil {
			t.Fatalf("Publish %s: %v", event, err)
		}
	}
	if reqs := rec.all(); len(reqs) != 0 {
		t.Fatalf("suppressed events were sent: %+v", reqs)
	}
}

func TestErrorStatusIsReturned(t *testing.T) {
	rec := &ntfyRecorder{status: http.StatusForbidden}
	svc := newService(t, rec, nil)
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestEmptyTopicIsNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = "  "
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("noop Publish: %v", err)
	}
}

type recordingService struct {
	mu     sync.Mutex
	events []notifications.Event
	device []string
	err    error
}

func (r *recordingService) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if name, ok := payload["device"].(string); ok {
		r.device = append(r.device, name)
	}
	return r.err
}

func (r *recordingService) snapshot() []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...)
}

func TestWatcherFailedThenRecovered(t *testing.T) {
	svc := &recordingService{}
	w := notifications.NewWatcher(svc, logging.NewNop(), 8)

	authErr := services.Wrap(services.ErrAuth, "session", "open", "rejected", nil)
	w.Observe(supervisor.Transition{Device: "FRONT", From: supervisor.StateIdle, To: supervisor.StateConnecting})
	w.Observe(supervisor.Transition{Device: "FRONT", From: supervisor.StateConnecting, To: supervisor.StateStreaming})
	w.Observe(supervisor.Transition{Device: "FRONT", From: supervisor.StateConnecting, To: supervisor.StateFailed, Err: authErr})
	w.Observe(supervisor.Transition{Device: "FRONT", From: supervisor.StateStopped, To: supervisor.StateConnecting})
	w.Observe(supervisor.Transition{Device: "FRONT", From: supervisor.StateConnecting, To: supervisor.StateStreaming})
	w.Observe(supervisor.Transition{Device: "FRONT", From: supervisor.StateConnecting, To: supervisor.StateStreaming})
	w.Close()

	got := svc.snapshot()
	want := []notifications.Event{notifications.EventDeviceFailed, notifications.EventDeviceRecovered}
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v", got)
		}
	}
}

func TestWatcherForgetSuppressesRecovery(t *testing.T) {
	svc := &recordingService{}
	w := notifications.NewWatcher(svc, logging.NewNop(), 8)

	w.Observe(supervisor.Transition{Device: "SHED", From: supervisor.StateConnecting, To: supervisor.StateFailed, Err: errors.New("gone")})
	w.Forget("SHED")
	w.Observe(supervisor.Transition{Device: "SHED", From: supervisor.StateConnecting, To: supervisor.StateStreaming})
	w.Close()

	if got := svc.snapshot(); len(got) != 1 || got[0] != notifications.EventDeviceFailed {
		t.Fatalf("events = %v", got)
	}
}

func TestWatcherObserveDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	svc := &blockingService{release: block}
	w := notifications.NewWatcher(svc, logging.NewNop(), 1)

	done := make(chan struct{})
	go func() {
		for range 20 {
			w.Observe(supervisor.Transition{Device: "CAM", To: supervisor.StateFailed, Err: errors.New("boom")})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked on a slow notifier")
	}
	close(block)
	w.Close()
	if w.Dropped() == 0 {
		t.Fatal("expected overflow to be counted")
	}
}

func TestWatcherShutdownForced(t *testing.T) {
	svc := &recordingService{err: errors.New("offline")}
	w := notifications.NewWatcher(svc, logging.NewNop(), 4)
	w.ShutdownForced(nil)
	w.ShutdownForced([]string{"A", "B"})
	w.Close()
	w.Observe(supervisor.Transition{Device: "A", To: supervisor.StateFailed})
	if got := svc.snapshot(); len(got) != 1 || got[0] != notifications.EventShutdownForced {
		t.Fatalf("events = %v", got)
	}
}

type blockingService struct {
	release chan struct{}
}

func (b *blockingService) Publish(ctx context.Context, _ notifications.Event, _ notifications.Payload) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}
