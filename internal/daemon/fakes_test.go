package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"camrelay/internal/config"
	"camrelay/internal/device"
	"camrelay/internal/logging"
	"camrelay/internal/notifications"
	"camrelay/internal/relay"
	"camrelay/internal/session"
	"camrelay/internal/store"
	"camrelay/internal/supervisor"
	"camrelay/internal/testsupport"
)

// blockingSession streams nothing until it is closed.
type blockingSession struct {
	once   sync.Once
	closed chan struct{}
}

func (s *blockingSession) ReadFrame(ctx context.Context) (session.Frame, error) {
	select {
	case <-s.closed:
		return session.Frame{}, session.NewError(session.CategoryNetwork, "read", errors.New("session closed"))
	case <-ctx.Done():
		return session.Frame{}, ctx.Err()
	}
}

func (s *blockingSession) SendControl(_ context.Context, cmd session.Command) (string, error) {
	return "ok:" + cmd.Action, nil
}

func (s *blockingSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func blockingDialer() session.Dialer {
	return session.DialerFunc(func(context.Context, device.Descriptor) (session.Session, error) {
		return &blockingSession{closed: make(chan struct{})}, nil
	})
}

type memoryRelay struct {
	mu    sync.Mutex
	paths map[string]bool
}

func (r *memoryRelay) RegisterPath(_ context.Context, name string, _ relay.PathConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paths == nil {
		r.paths = make(map[string]bool)
	}
	r.paths[name] = true
	return nil
}

func (r *memoryRelay) Feed(string, []byte) error { return nil }

func (r *memoryRelay) UnregisterPath(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, name)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) sent() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

type testDaemon struct {
	*Daemon
	cfg      *config.Config
	notifier *recordingNotifier
	hub      *logging.StreamHub
}

func newTestDaemon(t *testing.T, mutate func(*config.Config)) *testDaemon {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithCamera("Front Door", "stub-camera"),
		testsupport.WithCamera("Garage", "stub-camera"),
	)
	cfg.Supervisor.AutoStart = true
	cfg.Supervisor.ShutdownTimeoutSeconds = 2
	if mutate != nil {
		mutate(cfg)
	}
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	notifier := &recordingNotifier{}
	hub := logging.NewStreamHub(128)
	d, err := New(cfg, st, logging.NewNop(), Options{
		LogHub:   hub,
		RunID:    "run-test",
		Dialer:   blockingDialer(),
		Relay:    &memoryRelay{},
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &testDaemon{Daemon: d, cfg: cfg, notifier: notifier, hub: hub}
}

func waitForState(t *testing.T, d *Daemon, name string, want supervisor.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st, err := d.sup.Get(name); err == nil && st.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	st, err := d.sup.Get(name)
	t.Fatalf("%s never reached %s (last %s, %v)", name, want, st.State, err)
}
