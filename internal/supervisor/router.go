package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"camrelay/internal/device"
	"camrelay/internal/logging"
	"camrelay/internal/services"
	"camrelay/internal/session"
)

// Action is a command verb.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionRemove  Action = "remove"
	ActionControl Action = "control"
)

// AllDevices is the fan-out target.
const AllDevices = "*"

// Built-in control actions handled without touching the session.
const (
	ControlState          = "state"
	ControlUpdateSnapshot = "update_snapshot"
)

// ParseAction maps start/stop/restart/remove to lifecycle actions and
// anything else to a control action.
func ParseAction(value string) (Action, string) {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case string(ActionStart), string(ActionStop), string(ActionRestart), string(ActionRemove):
		return Action(v), ""
	default:
		return ActionControl, v
	}
}

// Command is a request against one device or all of them.
type Command struct {
	ID      string
	Target  string
	Action  Action
	Control session.Command
}

// Result is the outcome of a command for one device.
type Result struct {
	Device        string `json:"device"`
	CorrelationID string `json:"correlation_id"`
	Action        string `json:"action"`
	Status        string `json:"status"`
	Response      string `json:"response,omitempty"`
	Kind          string `json:"kind,omitempty"`
	State         State  `json:"state"`
	Err           error  `json:"-"`
}

// OK reports whether the command succeeded.
func (r Result) OK() bool { return r.Err == nil }

// DescriptorSource resolves devices that are not yet supervised.
type DescriptorSource interface {
	Lookup(name string) (device.Descriptor, bool)
}

// SnapshotTrigger captures a still on demand.
type SnapshotTrigger interface {
	CaptureNow(ctx context.Context, name string) (string, error)
}

// Router serializes commands per device. Each device has its own FIFO
// drained by at most one goroutine, so a slow command on one device never
// delays another.
type Router struct {
	sup       *Supervisor
	directory DescriptorSource
	logger    *slog.Logger

	mu       sync.Mutex
	queues   map[string]*deviceQueue
	snapshot SnapshotTrigger
}

type job struct {
	ctx  context.Context
	run  func(ctx context.Context) Result
	done chan Result
}

type deviceQueue struct {
	jobs    []job
	running bool
}

// NewRouter builds a router over sup. directory may be nil, in which case
// Start only applies to supervised devices.
func NewRouter(sup *Supervisor, directory DescriptorSource, logger *slog.Logger) *Router {
	return &Router{
		sup:       sup,
		directory: directory,
		logger:    logging.NewComponentLogger(logger, "router"),
		queues:    make(map[string]*deviceQueue),
	}
}

// SetSnapshotTrigger wires the on-demand capture used by update_snapshot.
func (r *Router) SetSnapshotTrigger(trigger SnapshotTrigger) {
	r.mu.Lock()
	r.snapshot = trigger
	r.mu.Unlock()
}

// Start, Stop and Restart are shorthands for Dispatch.
func (r *Router) Start(ctx context.Context, name string) ([]Result, error) {
	return r.Dispatch(ctx, Command{Target: name, Action: ActionStart})
}

func (r *Router) Stop(ctx context.Context, name string) ([]Result, error) {
	return r.Dispatch(ctx, Command{Target: name, Action: ActionStop})
}

func (r *Router) Restart(ctx context.Context, name string) ([]Result, error) {
	return r.Dispatch(ctx, Command{Target: name, Action: ActionRestart})
}

// Control sends a device action such as power or state.
func (r *Router) Control(ctx context.Context, name, action string, args map[string]string) ([]Result, error) {
	return r.Dispatch(ctx, Command{Target: name, Action: ActionControl, Control: session.Command{Action: action, Args: args}})
}

// Dispatch validates cmd and runs it on the target's queue, fanning out to
// every supervised device for "*". The returned error covers validation and
// context cancellation; per-device failures are reported in the results.
func (r *Router) Dispatch(ctx context.Context, cmd Command) ([]Result, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	switch cmd.Action {
	case ActionStart, ActionStop, ActionRestart, ActionRemove:
	case ActionControl:
		if strings.TrimSpace(cmd.Control.Action) == "" {
			return nil, services.Wrap(services.ErrValidation, "router", "dispatch", "control action is empty", nil)
		}
	default:
		return nil, services.Wrap(services.ErrValidation, "router", "dispatch", fmt.Sprintf("unknown action %q", cmd.Action), nil)
	}

	target := strings.TrimSpace(cmd.Target)
	var targets []string
	if target == AllDevices {
		targets = r.sup.Names()
	} else {
		name := device.NormalizeName(target)
		if name == "" || (!r.sup.Has(name) && !r.canStartNew(cmd.Action, name)) {
			return nil, services.Wrap(services.ErrUnknownDevice, "router", string(cmd.Action), target, nil)
		}
		targets = []string{name}
	}

	pending := make([]chan Result, len(targets))
	for i, name := range targets {
		pending[i] = r.enqueue(ctx, name, cmd)
	}
	results := make([]Result, 0, len(targets))
	for _, ch := range pending {
		select {
		case res := <-ch:
			results = append(results, res)
		case <-ctx.Done():
			return results, ctx.Err()
		}
	}
	return results, nil
}

func (r *Router) canStartNew(action Action, name string) bool {
	if action != ActionStart || r.directory == nil {
		return false
	}
	_, ok := r.directory.Lookup(name)
	return ok
}

func (r *Router) enqueue(ctx context.Context, name string, cmd Command) chan Result {
	ctx = services.WithRequestID(services.WithDevice(ctx, name), cmd.ID)
	j := job{
		ctx:  ctx,
		done: make(chan Result, 1),
		run: func(ctx context.Context) Result {
			return r.execute(ctx, name, cmd)
		},
	}

	r.mu.Lock()
	q, ok := r.queues[name]
	if !ok {
		q = &deviceQueue{}
		r.queues[name] = q
	}
	q.jobs = append(q.jobs, j)
	startDrain := !q.running
	q.running = true
	r.mu.Unlock()

	if startDrain {
		go r.drain(name, q)
	}
	return j.done
}

// drain runs queued jobs for one device in arrival order and exits when the
// queue is empty.
func (r *Router) drain(name string, q *deviceQueue) {
	for {
		r.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			if r.queues[name] == q {
				delete(r.queues, name)
			}
			r.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		r.mu.Unlock()

		if err := j.ctx.Err(); err != nil {
			j.done <- Result{Device: name, Status: "error", Err: err, Kind: services.KindOf(err)}
			continue
		}
		j.done <- j.run(j.ctx)
	}
}

func (r *Router) execute(ctx context.Context, name string, cmd Command) Result {
	logger := logging.WithContext(ctx, r.logger)
	res := Result{Device: name, CorrelationID: cmd.ID, Action: string(cmd.Action)}
	var (
		st  Status
		err error
	)
	switch cmd.Action {
	case ActionStart:
		st, err = r.start(name)
	case ActionStop:
		st, err = r.sup.Stop(name)
	case ActionRestart:
		st, err = r.sup.Restart(name)
	case ActionRemove:
		st, err = r.remove(name)
	case ActionControl:
		res.Action = cmd.Control.Action
		res.Response, err = r.control(ctx, name, cmd.Control)
		st, _ = r.sup.Get(name)
	}
	res.State = st.State
	if err != nil {
		res.Status = "error"
		res.Err = err
		res.Kind = services.KindOf(err)
		res.Response = err.Error()
		logger.Info("command failed",
			logging.String("action", res.Action),
			logging.String(logging.FieldErrorKind, res.Kind),
			logging.Error(err),
		)
		return res
	}
	res.Status = "success"
	logger.Debug("command applied", logging.String("action", res.Action), logging.State(res.State.String()))
	return res
}

func (r *Router) start(name string) (Status, error) {
	if r.sup.Has(name) {
		return r.sup.Start(name)
	}
	if r.directory != nil {
		if desc, ok := r.directory.Lookup(name); ok {
			return r.sup.Add(desc)
		}
	}
	return Status{}, services.Wrap(services.ErrUnknownDevice, "router", "start", name, nil)
}

// remove reports the worker as Stopped once it has been discarded.
func (r *Router) remove(name string) (Status, error) {
	if err := r.sup.Remove(name); err != nil {
		return Status{}, err
	}
	return Status{Name: name, Path: device.PathName(name), State: StateStopped}, nil
}

func (r *Router) control(ctx context.Context, name string, cmd session.Command) (string, error) {
	switch strings.ToLower(cmd.Action) {
	case ControlState:
		st, err := r.sup.Get(name)
		if err != nil {
			return "", err
		}
		return st.State.String(), nil
	case ControlUpdateSnapshot:
		r.mu.Lock()
		trigger := r.snapshot
		r.mu.Unlock()
		if trigger == nil {
			return "", services.Wrap(services.ErrUnsupported, "router", "update_snapshot", "snapshots are disabled", nil)
		}
		return trigger.CaptureNow(ctx, name)
	default:
		return r.sup.Control(ctx, name, cmd)
	}
}
