package controlbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"camrelay/internal/config"
	"camrelay/internal/logging"
	"camrelay/internal/services"
	"camrelay/internal/supervisor"
)

// AllCameras is the subject token that targets every camera.
const AllCameras = "all"

const (
	defaultPrefix  = "camrelay"
	requestTimeout = 30 * time.Second
	stateBuffer    = 256
)

// Dispatcher runs routed commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd supervisor.Command) ([]supervisor.Result, error)
}

// Request is the optional JSON body of a command message.
type Request struct {
	Args map[string]string `json:"args,omitempty"`
}

// Reply answers a command message.
type Reply struct {
	Status        string              `json:"status"`
	Response      string              `json:"response,omitempty"`
	Kind          string              `json:"kind,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	Results       []supervisor.Result `json:"results,omitempty"`
}

// StateMessage is published for every worker transition.
type StateMessage struct {
	Device    string    `json:"device"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

// Bus is a NATS command surface bound to a Dispatcher.
type Bus struct {
	nc         *nats.Conn
	ownsConn   bool
	dispatcher Dispatcher
	prefix     string
	logger     *slog.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	states chan StateMessage
	closed bool

	// ctx bounds in-flight dispatches and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	dropped atomic.Int64
	wg      sync.WaitGroup
}

// Connect dials the configured NATS server and returns a bus that owns the
// connection.
func Connect(cfg *config.Config, dispatcher Dispatcher, logger *slog.Logger) (*Bus, error) {
	url := strings.TrimSpace(cfg.ControlBus.NATSURL)
	if url == "" {
		url = nats.DefaultURL
	}
	logger = logging.NewComponentLogger(logger, "controlbus")
	nc, err := nats.Connect(url,
		nats.Name("camrelay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.WarnWithContext(logger, "control bus disconnected", "controlbus_disconnected",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check that the NATS server is reachable"),
					logging.String(logging.FieldImpact, "bus commands are unavailable until reconnect"),
				)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("control bus reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Debug("control bus async error", logging.Error(err))
		}),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "controlbus", "connect", url, err)
	}
	bus := New(nc, cfg.ControlBus.SubjectPrefix, dispatcher, logger)
	bus.ownsConn = true
	return bus, nil
}

// New wraps an existing connection. The caller keeps ownership of nc.
func New(nc *nats.Conn, prefix string, dispatcher Dispatcher, logger *slog.Logger) *Bus {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultPrefix
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		ctx:        ctx,
		cancel:     cancel,
		nc:         nc,
		dispatcher: dispatcher,
		prefix:     prefix,
		logger:     logging.NewComponentLogger(logger, "controlbus"),
		states:     make(chan StateMessage, stateBuffer),
	}
}

// Prefix returns the subject prefix in use.
func (b *Bus) Prefix() string { return b.prefix }

// CommandSubject returns the subject for action on camera.
func (b *Bus) CommandSubject(camera, action string) string {
	return b.prefix + "." + camera + "." + action
}

// StateSubject returns the subject state changes for camera are published on.
func (b *Bus) StateSubject(camera string) string {
	return b.CommandSubject(camera, supervisor.ControlState)
}

// Start subscribes to command subjects and begins publishing state changes.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	sub, err := b.nc.Subscribe(b.prefix+".*.*", b.handle)
	if err != nil {
		return services.Wrap(services.ErrNetwork, "controlbus", "subscribe", b.prefix, err)
	}
	b.sub = sub
	b.wg.Add(1)
	go b.publishStates()
	b.logger.Info("control bus listening",
		logging.String("subject", b.prefix+".<camera>.<action>"),
		logging.String(logging.FieldEventType, "controlbus_started"),
	)
	return nil
}

// Observe queues a state change for publication. It never blocks.
func (b *Bus) Observe(tr supervisor.Transition) {
	msg := StateMessage{
		Device:   tr.Device,
		From:     tr.From.String(),
		To:       tr.To.String(),
		Attempts: tr.Attempts,
		At:       tr.At,
	}
	if tr.Err != nil {
		msg.Error = tr.Err.Error()
		msg.ErrorKind = services.KindOf(tr.Err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.states <- msg:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many state changes were discarded on overflow.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close unsubscribes, cancels and waits for in-flight commands, flushes
// queued state changes and closes an owned connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sub := b.sub
	close(b.states)
	b.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Drain()
	}
	b.cancel()
	b.wg.Wait()
	if b.ownsConn {
		if drainErr := b.nc.Drain(); drainErr != nil && err == nil {
			err = drainErr
		}
	} else {
		_ = b.nc.Flush()
	}
	return err
}

func (b *Bus) publishStates() {
	defer b.wg.Done()
	for msg := range b.states {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := b.nc.Publish(b.StateSubject(msg.Device), data); err != nil {
			b.logger.Debug("state publish failed", logging.Device(msg.Device), logging.Error(err))
		}
	}
}

// handle runs on the subscription's delivery goroutine, so each request is
// served on its own goroutine and a slow camera never holds up the others.
func (b *Bus) handle(msg *nats.Msg) {
	if msg.Reply == "" {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.respond(msg, errorReply(services.Wrap(services.ErrCancelled, "controlbus", "dispatch", "control bus is closing", nil), ""))
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.wg.Done()
		b.serve(msg)
	}()
}

func (b *Bus) serve(msg *nats.Msg) {
	camera, action, ok := b.parseSubject(msg.Subject)
	if !ok {
		b.respond(msg, errorReply(services.Wrap(services.ErrValidation, "controlbus", "parse", msg.Subject, nil), ""))
		return
	}

	var req Request
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			b.respond(msg, errorReply(services.Wrap(services.ErrValidation, "controlbus", "decode", "request body is not JSON", err), ""))
			return
		}
	}

	cmd := supervisor.Command{Target: camera}
	var control string
	cmd.Action, control = supervisor.ParseAction(action)
	if cmd.Action == supervisor.ActionControl {
		cmd.Control.Action = control
		cmd.Control.Args = req.Args
	}
	if camera == AllCameras {
		cmd.Target = supervisor.AllDevices
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()
	results, err := b.dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		b.respond(msg, errorReply(err, cmd.ID))
		return
	}
	b.respond(msg, resultsReply(results, camera == AllCameras))
}

func (b *Bus) parseSubject(subject string) (string, string, bool) {
	rest, ok := strings.CutPrefix(subject, b.prefix+".")
	if !ok {
		return "", "", false
	}
	camera, action, ok := strings.Cut(rest, ".")
	if !ok || camera == "" || action == "" || strings.Contains(action, ".") {
		return "", "", false
	}
	return camera, action, true
}

func (b *Bus) respond(msg *nats.Msg, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"status":"error","response":%q}`, err.Error()))
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Debug("control bus reply failed", logging.String("subject", msg.Subject), logging.Error(err))
	}
}

func errorReply(err error, correlationID string) Reply {
	return Reply{
		Status:        "error",
		Response:      err.Error(),
		Kind:          services.KindOf(err),
		CorrelationID: correlationID,
	}
}

func resultsReply(results []supervisor.Result, fanOut bool) Reply {
	if !fanOut && len(results) == 1 {
		res := results[0]
		return Reply{
			Status:        res.Status,
			Response:      res.Response,
			Kind:          res.Kind,
			CorrelationID: res.CorrelationID,
		}
	}
	reply := Reply{Status: "success", Results: results}
	for _, res := range results {
		if reply.CorrelationID == "" {
			reply.CorrelationID = res.CorrelationID
		}
		if !res.OK() {
			reply.Status = "error"
		}
	}
	return reply
}
