package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"camrelay/internal/config"
	"camrelay/internal/device"
	"camrelay/internal/logging"
	"camrelay/internal/relay"
	"camrelay/internal/services"
	"camrelay/internal/session"
)

// Options configures the supervisor and every worker it creates.
type Options struct {
	Dialer     session.Dialer
	Relay      relay.Relay
	PathConfig relay.PathConfig
	Backoff    Backoff

	StaleAfter      time.Duration
	ConnectTimeout  time.Duration
	StopTimeout     time.Duration
	MaxFeedFailures int

	// OnTransition is called for every worker state change, in order per
	// device. It must not block.
	OnTransition func(Transition)
	// OnRemove is called with the device name after its worker is
	// discarded.
	OnRemove     func(name string)
	Logger       *slog.Logger
}

// OptionsFromConfig fills timing and relay settings from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PathConfig: relay.PathConfig{
			Record:     cfg.Relay.Record,
			RecordPath: cfg.Relay.RecordPath,
		},
		Backoff: Backoff{
			Initial:   cfg.Supervisor.BackoffInitial(),
			Max:       cfg.Supervisor.BackoffMax(),
			MinUptime: cfg.Supervisor.MinUptime(),
		},
		StaleAfter:      cfg.Supervisor.StaleFrame(),
		ConnectTimeout:  cfg.Supervisor.ConnectTimeout(),
		StopTimeout:     cfg.Supervisor.StopTimeout(),
		MaxFeedFailures: 250,
	}
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 20 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.Backoff.Initial <= 0 {
		o.Backoff.Initial = time.Second
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = time.Minute
	}
}

// ShutdownReport lists the workers that had to be forced closed.
type ShutdownReport struct {
	Forced  []string
	Elapsed time.Duration
}

type entry struct {
	worker   *Worker
	removing bool
}

// Supervisor owns the device name to Worker map.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	workers  map[string]*entry
	gates    map[string]chan struct{}
	shutdown bool
}

// New constructs a supervisor. Dialer and Relay are required.
func New(opts Options) *Supervisor {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "supervisor"),
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*entry),
		gates:   make(map[string]chan struct{}),
	}
}

// Add creates a worker for desc in Idle and starts it connecting. A worker
// that exists and is not Stopped or Failed yields ErrAlreadyExists; one that
// is Stopped or Failed is replaced.
func (s *Supervisor) Add(desc device.Descriptor) (Status, error) {
	name := device.NormalizeName(desc.Name)
	if name == "" {
		return Status{}, services.Wrap(services.ErrValidation, "supervisor", "add", "device name is empty", nil)
	}
	desc.Name = name

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return Status{}, errShuttingDown("add")
	}
	if existing, ok := s.workers[name]; ok {
		if existing.removing || !existing.worker.State().Terminal() {
			s.mu.Unlock()
			return Status{}, services.Wrap(services.ErrAlreadyExists, "supervisor", "add", name, nil)
		}
	}
	w := newWorker(desc, &s.opts, s.gateLocked(name), s.opts.OnTransition)
	s.workers[name] = &entry{worker: w}
	s.mu.Unlock()

	if err := s.launch(w, "add"); err != nil {
		return Status{}, err
	}
	s.logger.Info("device added", logging.Device(name), logging.String(logging.FieldEventType, "device_added"))
	return w.Status(), nil
}

// launch starts w's run loop unless shutdown has begun. Holding s.mu across
// the start means Shutdown either sees the running loop or the launch is
// refused.
func (s *Supervisor) launch(w *Worker, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return errShuttingDown(op)
	}
	return w.start(s.ctx)
}

func errShuttingDown(op string) error {
	return services.Wrap(services.ErrCancelled, "supervisor", op, "shutdown in progress", nil)
}

func (s *Supervisor) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Supervisor) gateLocked(name string) chan struct{} {
	gate, ok := s.gates[name]
	if !ok {
		gate = make(chan struct{}, 1)
		s.gates[name] = gate
	}
	return gate
}

// Remove stops the named worker gracefully and discards it.
func (s *Supervisor) Remove(name string) error {
	key := device.NormalizeName(name)
	s.mu.Lock()
	e, ok := s.workers[key]
	if !ok || e.removing {
		s.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "supervisor", "remove", key, nil)
	}
	e.removing = true
	s.mu.Unlock()

	forced := e.worker.stop(s.opts.StopTimeout)

	s.mu.Lock()
	if current, ok := s.workers[key]; ok && current == e {
		delete(s.workers, key)
	}
	s.mu.Unlock()
	if s.opts.OnRemove != nil {
		s.opts.OnRemove(key)
	}
	s.logger.Info("device removed",
		logging.Device(key),
		logging.Bool("forced", forced),
		logging.String(logging.FieldEventType, "device_removed"),
	)
	return nil
}

func (s *Supervisor) lookup(name string) (*Worker, error) {
	key := device.NormalizeName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.workers[key]
	if !ok || e.removing {
		return nil, services.Wrap(services.ErrNotFound, "supervisor", "lookup", key, nil)
	}
	return e.worker, nil
}

// Get returns the status of one worker.
func (s *Supervisor) Get(name string) (Status, error) {
	w, err := s.lookup(name)
	if err != nil {
		return Status{}, err
	}
	return w.Status(), nil
}

// Has reports whether a worker exists for name.
func (s *Supervisor) Has(name string) bool {
	_, err := s.lookup(name)
	return err == nil
}

// Descriptor returns the descriptor a worker was added with.
func (s *Supervisor) Descriptor(name string) (device.Descriptor, bool) {
	w, err := s.lookup(name)
	if err != nil {
		return device.Descriptor{}, false
	}
	return w.Descriptor(), true
}

// Names lists known device names in sorted order.
func (s *Supervisor) Names() []string {
	statuses := s.List()
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = st.Name
	}
	return names
}

// List returns every worker's status sorted by name.
func (s *Supervisor) List() []Status {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, e := range s.workers {
		if !e.removing {
			workers = append(workers, e.worker)
		}
	}
	s.mu.Unlock()
	out := make([]Status, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Status())
	}
	sortStatuses(out)
	return out
}

// Start moves a Stopped worker back to Connecting. Failed workers are
// restarted because an explicit start is an operator action. A worker that is
// already connecting or streaming is left alone and its status returned.
func (s *Supervisor) Start(name string) (Status, error) {
	w, err := s.lookup(name)
	if err != nil {
		return Status{}, err
	}
	switch w.State() {
	case StateFailed:
		return s.Restart(name)
	case StateStopping:
		return Status{}, services.Wrap(services.ErrCancelled, "supervisor", "start", w.Name()+" is stopping", nil)
	}
	if err := s.launch(w, "start"); err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadyExists):
			return w.Status(), nil
		case errors.Is(err, services.ErrCancelled) && !s.shuttingDown():
			return s.replace(w)
		}
		return Status{}, err
	}
	return w.Status(), nil
}

// Stop stops a worker and keeps it in the map in Stopped.
func (s *Supervisor) Stop(name string) (Status, error) {
	w, err := s.lookup(name)
	if err != nil {
		return Status{}, err
	}
	w.stop(s.opts.StopTimeout)
	return w.Status(), nil
}

// Restart stops the worker, waits for Stopped, then starts it again.
func (s *Supervisor) Restart(name string) (Status, error) {
	w, err := s.lookup(name)
	if err != nil {
		return Status{}, err
	}
	if s.shuttingDown() {
		return Status{}, errShuttingDown("restart")
	}
	if !w.stop(s.opts.StopTimeout) {
		w.settle(s.opts.StopTimeout)
	}
	if err := s.launch(w, "restart"); err != nil {
		if errors.Is(err, services.ErrCancelled) && !s.shuttingDown() {
			return s.replace(w)
		}
		return Status{}, err
	}
	return w.Status(), nil
}

// replace swaps a forced-stopped worker whose loop is still unwinding for a
// fresh one. The shared device gate keeps the old and new sessions from
// overlapping.
func (s *Supervisor) replace(old *Worker) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return Status{}, errShuttingDown("restart")
	}
	e, ok := s.workers[old.Name()]
	if !ok || e.worker != old || e.removing {
		return Status{}, services.Wrap(services.ErrNotFound, "supervisor", "restart", old.Name(), nil)
	}
	w := newWorker(old.Descriptor(), &s.opts, s.gateLocked(old.Name()), s.opts.OnTransition)
	e.worker = w
	if err := w.start(s.ctx); err != nil {
		return Status{}, err
	}
	return w.Status(), nil
}

// Control forwards a command to the worker's live session.
func (s *Supervisor) Control(ctx context.Context, name string, cmd session.Command) (string, error) {
	w, err := s.lookup(name)
	if err != nil {
		return "", err
	}
	return w.control(ctx, cmd)
}

// Shutdown stops every worker in parallel, waits up to timeout for all of
// them, then forces the rest. Add, Start and Restart are rejected once
// shutdown begins.
func (s *Supervisor) Shutdown(timeout time.Duration) ShutdownReport {
	began := time.Now()
	s.mu.Lock()
	s.shutdown = true
	workers := make([]*Worker, 0, len(s.workers))
	for _, e := range s.workers {
		workers = append(workers, e.worker)
	}
	s.mu.Unlock()

	pending := make([]*Worker, 0, len(workers))
	waits := make([]<-chan struct{}, 0, len(workers))
	for _, w := range workers {
		if done := w.requestStop(); done != nil {
			pending = append(pending, w)
			waits = append(waits, done)
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	expired := false
	report := ShutdownReport{}
	for i, done := range waits {
		if !expired {
			select {
			case <-done:
				continue
			case <-deadline.C:
				expired = true
			}
		}
		select {
		case <-done:
		default:
			if pending[i].force() {
				report.Forced = append(report.Forced, pending[i].Name())
			}
		}
	}
	s.cancel()
	report.Elapsed = time.Since(began)

	attrs := []logging.Attr{
		logging.Int("workers", len(workers)),
		logging.Duration("elapsed", report.Elapsed),
		logging.String(logging.FieldEventType, "supervisor_shutdown"),
	}
	if len(report.Forced) > 0 {
		logging.WarnWithContext(s.logger, "shutdown forced stuck workers", "supervisor_shutdown_forced",
			append(attrs[:2:2], logging.Any("forced", report.Forced),
				logging.String(logging.FieldImpact, "sessions were closed without a clean stop"))...)
	} else {
		s.logger.Info("supervisor shut down", logging.Args(attrs...)...)
	}
	return report
}
