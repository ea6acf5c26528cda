package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"camrelay/internal/device"
	"camrelay/internal/logging"
	"camrelay/internal/relay"
	"camrelay/internal/session"
)

type fakeSession struct {
	name   string
	dialer *fakeDialer
	frames chan session.Frame
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32

	ignoreCtx    bool
	controlDelay time.Duration
	controlErr   error

	mu       sync.Mutex
	inFlight int
	overlap  bool
}

func (s *fakeSession) ReadFrame(ctx context.Context) (session.Frame, error) {
	done := ctx.Done()
	if s.ignoreCtx {
		done = nil
	}
	select {
	case f, ok := <-s.frames:
		if !ok {
			return session.Frame{}, session.ErrEndOfStream
		}
		return f, nil
	case <-s.closed:
		return session.Frame{}, session.NewError(session.CategoryNetwork, "read", errors.New("session closed"))
	case <-done:
		return session.Frame{}, ctx.Err()
	}
}

func (s *fakeSession) SendControl(ctx context.Context, cmd session.Command) (string, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > 1 {
		s.overlap = true
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()
	if s.controlDelay > 0 {
		select {
		case <-time.After(s.controlDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.controlErr != nil {
		return "", s.controlErr
	}
	return "ok:" + cmd.Action, nil
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	s.once.Do(func() {
		close(s.closed)
		s.dialer.closed(s.name)
	})
	return nil
}

func (s *fakeSession) overlapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlap
}

type fakeDialer struct {
	mu        sync.Mutex
	openErr   func(name string, attempt int) error
	configure func(*fakeSession)
	attempts  map[string]int
	live      map[string]int
	maxLive   map[string]int
	sessions  []*fakeSession
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		attempts: make(map[string]int),
		live:     make(map[string]int),
		maxLive:  make(map[string]int),
	}
}

func (d *fakeDialer) Open(ctx context.Context, desc device.Descriptor) (session.Session, error) {
	d.mu.Lock()
	d.attempts[desc.Name]++
	attempt := d.attempts[desc.Name]
	hook := d.openErr
	configure := d.configure
	d.mu.Unlock()

	if hook != nil {
		if err := hook(desc.Name, attempt); err != nil {
			return nil, err
		}
	}
	s := &fakeSession{
		name:   desc.Name,
		dialer: d,
		frames: make(chan session.Frame, 16),
		closed: make(chan struct{}),
	}
	if configure != nil {
		configure(s)
	}
	d.mu.Lock()
	d.live[desc.Name]++
	if d.live[desc.Name] > d.maxLive[desc.Name] {
		d.maxLive[desc.Name] = d.live[desc.Name]
	}
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) closed(name string) {
	d.mu.Lock()
	d.live[name]--
	d.mu.Unlock()
}

func (d *fakeDialer) attemptsFor(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[name]
}

func (d *fakeDialer) maxLiveFor(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive[name]
}

func (d *fakeDialer) liveFor(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[name]
}

func (d *fakeDialer) lastSession(name string) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.sessions) - 1; i >= 0; i-- {
		if d.sessions[i].name == name {
			return d.sessions[i]
		}
	}
	return nil
}

func (d *fakeDialer) allSessions() []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSession(nil), d.sessions...)
}

type fakeRelay struct {
	mu         sync.Mutex
	registered map[string]relay.PathConfig
	fed        map[string]int
	feedErr    error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{registered: make(map[string]relay.PathConfig), fed: make(map[string]int)}
}

func (r *fakeRelay) RegisterPath(_ context.Context, name string, cfg relay.PathConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[name] = cfg
	return nil
}

func (r *fakeRelay) Feed(name string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feedErr != nil {
		return r.feedErr
	}
	r.fed[name] += len(payload)
	return nil
}

func (r *fakeRelay) UnregisterPath(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, name)
	return nil
}

func (r *fakeRelay) isRegistered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.registered[name]
	return ok
}

func (r *fakeRelay) fedBytes(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fed[name]
}

type traceLog struct {
	mu    sync.Mutex
	items []Transition
}

func (l *traceLog) record(tr Transition) {
	l.mu.Lock()
	l.items = append(l.items, tr)
	l.mu.Unlock()
}

func (l *traceLog) forDevice(name string) []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Transition
	for _, tr := range l.items {
		if tr.Device == name {
			out = append(out, tr)
		}
	}
	return out
}

func (l *traceLog) states(name string) []State {
	var out []State
	for _, tr := range l.forDevice(name) {
		out = append(out, tr.To)
	}
	return out
}

type harness struct {
	sup    *Supervisor
	dialer *fakeDialer
	relay  *fakeRelay
	trace  *traceLog
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{dialer: newFakeDialer(), relay: newFakeRelay(), trace: &traceLog{}}
	opts := Options{
		Dialer:         h.dialer,
		Relay:          h.relay,
		Backoff:        Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, MinUptime: time.Hour},
		ConnectTimeout: time.Second,
		StopTimeout:    200 * time.Millisecond,
		OnTransition:   h.trace.record,
		Logger:         logging.NewNop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.sup = New(opts)
	t.Cleanup(func() { h.sup.Shutdown(time.Second) })
	return h
}

func (h *harness) add(t *testing.T, name string) {
	t.Helper()
	if _, err := h.sup.Add(device.Descriptor{Name: name, Enabled: true}); err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
}

func waitForState(t *testing.T, sup *Supervisor, name string, want State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := sup.Get(name)
		if err == nil && st.State == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never reached %s (last %s, err %v)", name, want, st.State, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// assertValidPath checks that every recorded transition is an edge of the
// state machine and that transitions chain from Idle.
func assertValidPath(t *testing.T, trace []Transition) {
	t.Helper()
	prev := StateIdle
	for i, tr := range trace {
		if tr.From != prev {
			t.Fatalf("transition %d starts at %s, previous ended at %s", i, tr.From, prev)
		}
		if !CanTransition(tr.From, tr.To) {
			t.Fatalf("transition %d %s -> %s is not allowed", i, tr.From, tr.To)
		}
		prev = tr.To
	}
}
