package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"camrelay/internal/device"
	"camrelay/internal/logging"
	"camrelay/internal/services"
	"camrelay/internal/session"
)

const relayCallTimeout = 5 * time.Second

// Transition is reported to the supervisor observer for every state change.
type Transition struct {
	Device   string
	From     State
	To       State
	Err      error
	At       time.Time
	Attempts int
	Backoff  time.Duration
}

// Worker owns one device's session and receive loop. Its state only changes
// through transition, which enforces the state machine.
type Worker struct {
	desc    device.Descriptor
	path    string
	opts    *Options
	gate    chan struct{}
	logger  *slog.Logger
	observe func(Transition)

	mu            sync.Mutex
	state         State
	lastErr       error
	startedAt     time.Time
	connectedAt   time.Time
	lastFrameAt   time.Time
	frames        uint64
	bytes         uint64
	backoff       BackoffState
	stopRequested bool
	forced        bool
	sess          session.Session
	cancel        context.CancelFunc
	done          chan struct{}
}

func newWorker(desc device.Descriptor, opts *Options, gate chan struct{}, observe func(Transition)) *Worker {
	return &Worker{
		desc:    desc,
		path:    desc.PathName(),
		opts:    opts,
		gate:    gate,
		observe: observe,
		logger:  logging.NewComponentLogger(opts.Logger, "worker").With(logging.Device(desc.Name)),
		state:   StateIdle,
	}
}

// Name returns the device name.
func (w *Worker) Name() string { return w.desc.Name }

// Descriptor returns the device descriptor the worker was created with.
func (w *Worker) Descriptor() device.Descriptor { return w.desc }

// State returns the current state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Status snapshots the worker for the status surface.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		Name:        w.desc.Name,
		Path:        w.path,
		State:       w.state,
		StartedAt:   w.startedAt,
		ConnectedAt: w.connectedAt,
		LastFrameAt: w.lastFrameAt,
		Frames:      w.frames,
		Bytes:       w.bytes,
		Attempts:    w.backoff.Failures,
		Backoff:     w.backoff.Delay,
		Forced:      w.forced,
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
		st.ErrorKind = services.KindOf(w.lastErr)
	}
	return st
}

// transition moves the worker to next if the state machine allows it. Callers
// hold w.mu. The observer runs under the lock so it sees transitions in order
// and must not block.
func (w *Worker) transition(next State, cause error) bool {
	prev := w.state
	if !CanTransition(prev, next) {
		return false
	}
	w.state = next
	switch next {
	case StateStreaming:
		w.lastErr = nil
		w.connectedAt = time.Now()
	case StateReconnecting, StateFailed:
		if cause != nil {
			w.lastErr = cause
		}
	}
	if w.observe != nil {
		w.observe(Transition{
			Device:   w.desc.Name,
			From:     prev,
			To:       next,
			Err:      cause,
			At:       time.Now(),
			Attempts: w.backoff.Failures,
			Backoff:  w.backoff.Delay,
		})
	}
	return true
}

func (w *Worker) move(next State, cause error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.transition(next, cause)
}

// start launches the run loop from Idle or Stopped. The move to Connecting
// happens on the loop goroutine.
func (w *Worker) start(parent context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateIdle && w.state != StateStopped {
		return services.Wrap(services.ErrAlreadyExists, "worker", "start", fmt.Sprintf("%s is %s", w.desc.Name, w.state), nil)
	}
	if w.done != nil {
		select {
		case <-w.done:
		default:
			if w.state == StateIdle {
				return services.Wrap(services.ErrAlreadyExists, "worker", "start", w.desc.Name+" is starting", nil)
			}
			return services.Wrap(services.ErrCancelled, "worker", "start", w.desc.Name+" is still shutting down", nil)
		}
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.stopRequested = false
	w.forced = false
	w.startedAt = time.Now()
	go w.run(ctx, w.done)
	return nil
}

// requestStop sets stopRequested, moves to Stopping and cancels the loop. It
// returns the loop's done channel, or nil when there is nothing to wait for.
func (w *Worker) requestStop() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateStopped:
		return nil
	case StateFailed:
		w.transition(StateStopping, nil)
		w.transition(StateStopped, nil)
		return nil
	case StateIdle:
		if w.done == nil {
			w.transition(StateStopping, nil)
			w.transition(StateStopped, nil)
			return nil
		}
	}
	w.stopRequested = true
	w.transition(StateStopping, nil)
	if w.cancel != nil {
		w.cancel()
	}
	return w.done
}

// stop requests a graceful stop and waits up to timeout, forcing the session
// closed if the loop does not exit in time. It reports whether force was
// needed.
func (w *Worker) stop(timeout time.Duration) bool {
	done := w.requestStop()
	if done == nil {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-timer.C:
		return w.force()
	}
}

// settle waits up to timeout for a run loop that has already left its last
// state to return.
func (w *Worker) settle(timeout time.Duration) {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
}

// force releases the session out-of-band and marks the worker Stopped without
// waiting for the loop. Close runs on its own goroutine so a hung peer cannot
// block the caller.
func (w *Worker) force() bool {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return false
	}
	sess := w.sess
	w.sess = nil
	w.forced = true
	w.transition(StateStopping, nil)
	w.transition(StateStopped, nil)
	w.mu.Unlock()

	w.logger.Warn("worker did not stop in time; session released",
		logging.String(logging.FieldEventType, "worker_forced"),
		logging.Bool("forced", true),
	)
	if sess != nil {
		go w.closeSession(sess)
	}
	return true
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	if !w.move(StateConnecting, nil) {
		w.finishStop()
		return
	}
	for {
		sess, err := w.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.finishStop()
				return
			}
			if !w.recover(ctx, err, 0) {
				return
			}
			continue
		}

		w.logger.Info("worker streaming", logging.String(logging.FieldEventType, "worker_streaming"))
		began := time.Now()
		err = w.receive(ctx, sess)
		uptime := time.Since(began)
		w.release(sess)
		if ctx.Err() != nil {
			w.finishStop()
			return
		}
		if !w.recover(ctx, err, uptime) {
			return
		}
	}
}

// connect acquires the device gate, opens a session, registers the relay path
// and moves to Streaming. The session is attached only once it is Streaming,
// so on every failure path the loop still owns it and no session is left open.
func (w *Worker) connect(ctx context.Context) (session.Session, error) {
	select {
	case w.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	openCtx, cancel := context.WithTimeout(ctx, w.opts.ConnectTimeout)
	sess, err := w.opts.Dialer.Open(services.WithDevice(openCtx, w.desc.Name), w.desc)
	cancel()
	if err != nil {
		<-w.gate
		return nil, err
	}

	regCtx, cancel := context.WithTimeout(ctx, relayCallTimeout)
	err = w.opts.Relay.RegisterPath(regCtx, w.path, w.opts.PathConfig)
	cancel()
	if err != nil {
		w.closeSession(sess)
		return nil, err
	}

	w.mu.Lock()
	if w.stopRequested || !w.transition(StateStreaming, nil) {
		w.mu.Unlock()
		w.closeSession(sess)
		return nil, context.Canceled
	}
	w.sess = sess
	w.mu.Unlock()
	return sess, nil
}

// recover routes a failure to Failed or through Reconnecting back to
// Connecting. It returns false when the loop must exit.
func (w *Worker) recover(ctx context.Context, cause error, uptime time.Duration) bool {
	permanent := session.IsPermanent(cause) || session.Classify(cause) == session.CategoryUnsupported

	w.mu.Lock()
	if uptime > 0 {
		w.backoff = w.opts.Backoff.Streamed(w.backoff, uptime)
	}
	if permanent {
		failed := w.transition(StateFailed, cause)
		w.mu.Unlock()
		if !failed {
			w.finishStop()
			return false
		}
		logging.ErrorWithContext(w.logger, "worker failed; restart required", "worker_failed",
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "check the camera credentials then restart it"),
		)
		return false
	}
	w.backoff = w.opts.Backoff.Fail(w.backoff)
	delay := w.backoff.Delay
	attempts := w.backoff.Failures
	moved := w.transition(StateReconnecting, cause)
	w.mu.Unlock()
	if !moved {
		w.finishStop()
		return false
	}

	logging.WarnWithContext(w.logger, "stream lost; reconnecting", "worker_reconnecting",
		logging.Error(cause),
		logging.Int("attempt", attempts),
		logging.Duration("backoff", delay),
		logging.String(logging.FieldImpact, "relay path is offline until the camera reconnects"),
	)
	if !sleepContext(ctx, delay) || !w.move(StateConnecting, nil) {
		w.finishStop()
		return false
	}
	return true
}

// receive forwards frames until the session fails, goes stale, or ctx ends.
func (w *Worker) receive(ctx context.Context, sess session.Session) error {
	feedFailures := 0
	for {
		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if w.opts.StaleAfter > 0 {
			readCtx, cancel = context.WithTimeout(ctx, w.opts.StaleAfter)
		}
		frame, err := sess.ReadFrame(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return session.NewError(session.CategoryNetwork, "read", fmt.Errorf("no frame within %s", w.opts.StaleAfter))
			}
			if errors.Is(err, session.ErrEndOfStream) {
				return session.NewError(session.CategoryNetwork, "read", err)
			}
			return err
		}

		w.mu.Lock()
		w.lastFrameAt = frame.Meta.ReceivedAt
		if w.lastFrameAt.IsZero() {
			w.lastFrameAt = time.Now()
		}
		w.frames++
		w.bytes += uint64(len(frame.Payload))
		w.mu.Unlock()

		if err := w.opts.Relay.Feed(w.path, frame.Payload); err != nil {
			feedFailures++
			if feedFailures == 1 {
				logging.WarnWithContext(w.logger, "relay feed failed; retrying with next frame", "relay_feed_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "viewers may see a gap"),
				)
			}
			if w.opts.MaxFeedFailures > 0 && feedFailures >= w.opts.MaxFeedFailures {
				return err
			}
			continue
		}
		feedFailures = 0
	}
}

// release closes sess if the worker still owns it. A session detached by
// force or a broken control call is closed by whoever detached it.
func (w *Worker) release(sess session.Session) {
	w.mu.Lock()
	owned := w.sess == sess && sess != nil
	if owned {
		w.sess = nil
	}
	w.mu.Unlock()
	if owned {
		w.closeSession(sess)
	}
}

// closeSession closes sess, unregisters the relay path and then releases the
// device gate, so the next session for this device always registers after
// the previous one is gone.
func (w *Worker) closeSession(sess session.Session) {
	if err := sess.Close(); err != nil {
		w.logger.Debug("session close failed", logging.Error(err))
	}
	w.unregister()
	<-w.gate
}

func (w *Worker) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), relayCallTimeout)
	defer cancel()
	if err := w.opts.Relay.UnregisterPath(ctx, w.path); err != nil {
		w.logger.Debug("relay unregister failed", logging.Error(err), logging.String("relay_path", w.path))
	}
}

// finishStop walks the worker to Stopped from wherever the loop left it.
func (w *Worker) finishStop() {
	w.mu.Lock()
	sess := w.sess
	w.sess = nil
	if w.state != StateStopped {
		w.transition(StateStopping, nil)
		w.transition(StateStopped, nil)
	}
	w.mu.Unlock()
	if sess != nil {
		w.closeSession(sess)
	}
	w.logger.Info("worker stopped", logging.String(logging.FieldEventType, "worker_stopped"))
}

// control sends cmd through the live session. Workers that are not Streaming
// reject it with ErrCancelled rather than queueing it.
func (w *Worker) control(ctx context.Context, cmd session.Command) (string, error) {
	w.mu.Lock()
	state := w.state
	sess := w.sess
	w.mu.Unlock()
	if state != StateStreaming || sess == nil {
		return "", services.Wrap(services.ErrCancelled, "worker", "control", fmt.Sprintf("%s is %s", w.desc.Name, state), nil)
	}
	resp, err := sess.SendControl(ctx, cmd)
	if err != nil && session.BrokenConnection(err) {
		w.logger.Info("control reported a broken connection; forcing reconnect", logging.String("action", cmd.Action))
		w.mu.Lock()
		owned := w.sess == sess
		if owned {
			w.sess = nil
		}
		w.mu.Unlock()
		if owned {
			w.closeSession(sess)
		}
	}
	return resp, err
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
