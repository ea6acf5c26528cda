package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"camrelay/internal/api"
	"camrelay/internal/config"
	"camrelay/internal/controlbus"
	"camrelay/internal/device"
	"camrelay/internal/logging"
	"camrelay/internal/notifications"
	"camrelay/internal/preflight"
	"camrelay/internal/pruner"
	"camrelay/internal/relay"
	"camrelay/internal/services"
	"camrelay/internal/session"
	"camrelay/internal/snapshot"
	"camrelay/internal/store"
	"camrelay/internal/supervisor"
)

const (
	journalBuffer   = 256
	notifyBuffer    = 64
	eventRetention  = 30 * 24 * time.Hour
	journalTrimTick = time.Hour
)

// Options overrides the collaborators New would otherwise build from config.
type Options struct {
	LogPath string
	LogHub  *logging.StreamHub
	RunID   string

	// Dialer defaults to the exec session dialer.
	Dialer session.Dialer
	// Relay defaults to the mediamtx adapter. It is health checked when it
	// implements relay.HealthChecker and closed when it implements io.Closer.
	Relay    relay.Relay
	Notifier notifications.Service
	Capturer snapshot.Capturer
}

// Daemon owns the supervisor and everything wired around it.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	logPath  string
	logHub   *logging.StreamHub
	runID    string
	lockPath string
	lock     *flock.Flock

	directory device.Directory
	sup       *supervisor.Supervisor
	router    *supervisor.Router
	relay     relay.Relay
	health    relay.HealthChecker
	notifier  notifications.Service
	scheduler *snapshot.Scheduler
	pruner    *pruner.Pruner
	events    *eventHub
	api       *apiServer

	// Set by Start before any worker exists.
	journal *store.Journal
	watcher *notifications.Watcher
	bus     *controlbus.Bus

	relayAlive   atomic.Bool
	relayProbed  atomic.Bool
	relayChecked atomic.Int64

	mu        sync.Mutex
	running   atomic.Bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}
	directory, err := device.NewStaticDirectory(cfg)
	if err != nil {
		return nil, fmt.Errorf("load camera directory: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		logPath:   opts.LogPath,
		logHub:    opts.LogHub,
		runID:     opts.RunID,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
		directory: directory,
		relay:     opts.Relay,
		notifier:  opts.Notifier,
		events:    newEventHub(),
		done:      make(chan struct{}),
	}
	if d.runID == "" {
		d.runID = uuid.NewString()
	}
	if d.relay == nil {
		d.relay = relay.NewMediaMTX(cfg.Relay, &http.Client{Timeout: 10 * time.Second}, logger)
	}
	if hc, ok := d.relay.(relay.HealthChecker); ok {
		d.health = hc
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = session.NewExecDialer(logger)
	}

	supOpts := supervisor.OptionsFromConfig(cfg)
	supOpts.Dialer = dialer
	supOpts.Relay = d.relay
	supOpts.Logger = logger
	supOpts.OnTransition = d.observe
	supOpts.OnRemove = d.forget
	d.sup = supervisor.New(supOpts)
	d.router = supervisor.NewRouter(d.sup, directory, logger)

	if cfg.Snapshots.Enabled {
		capturer := opts.Capturer
		if capturer == nil {
			capturer = snapshot.NewFFmpegCapturer(cfg)
		}
		var calc snapshot.SolarCalculator
		if cfg.Snapshots.Latitude != 0 || cfg.Snapshots.Longitude != 0 {
			calc = snapshot.GeoCalculator{Latitude: cfg.Snapshots.Latitude, Longitude: cfg.Snapshots.Longitude}
		}
		d.scheduler = snapshot.NewScheduler(d.sup, snapshot.Options{
			Schedule: snapshot.NewSchedule(
				time.Duration(cfg.Snapshots.IntervalSeconds)*time.Second,
				time.Duration(cfg.Snapshots.SolarIntervalSeconds)*time.Second,
				calc,
			),
			Capturer: capturer,
			Recorder: st,
			Cameras:  cfg.Snapshots.Cameras,
			Logger:   logger,
		})
		d.router.SetSnapshotTrigger(d.scheduler)
		d.pruner = pruner.New(pruner.DeviceTargets(d.sup, cfg.Paths.SnapshotDir), pruner.Options{
			Interval: time.Duration(cfg.Retention.IntervalSeconds) * time.Second,
			Index:    st,
			Logger:   logger,
		})
	}

	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, launches background loops and seeds the
// supervisor from the camera directory.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.stopped {
		return errors.New("daemon already stopped")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another camrelay daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.journal = store.NewJournal(d.store, d.logger, journalBuffer)
	d.watcher = notifications.NewWatcher(d.notifier, d.logger, notifyBuffer)

	if d.cfg.ControlBus.Enabled {
		bus, err := controlbus.Connect(d.cfg, d.router, d.logger)
		if err == nil {
			err = bus.Start()
			if err != nil {
				_ = bus.Close()
			}
		}
		if err != nil {
			logging.WarnWithContext(d.logger, "control bus unavailable", "control_bus_unavailable",
				logging.Error(err),
				logging.String("nats_url", d.cfg.ControlBus.NATSURL),
				logging.String(logging.FieldErrorHint, "check control_bus.nats_url and that the NATS server is running"),
				logging.String(logging.FieldImpact, "cameras cannot be commanded over NATS"),
			)
		} else {
			d.bus = bus
		}
	}

	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.closeSinks()
		_ = d.lock.Unlock()
		return err
	}

	d.spawn(func() { d.relayHealthLoop(runCtx) })
	d.spawn(func() { d.journalTrimLoop(runCtx) })
	if d.scheduler != nil {
		d.spawn(func() { _ = d.scheduler.Run(runCtx) })
	}
	if d.pruner != nil {
		d.spawn(func() { _ = d.pruner.Run(runCtx) })
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("camrelay daemon started",
		logging.String("lock", d.lockPath),
		logging.String("run_id", d.runID),
		logging.Bool("control_bus", d.bus != nil),
		logging.Bool("snapshots", d.scheduler != nil),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	d.seed(runCtx)
	return nil
}

func (d *Daemon) spawn(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// seed adds every enabled camera when auto start is configured.
func (d *Daemon) seed(ctx context.Context) {
	if !d.cfg.Supervisor.AutoStart {
		d.logger.Info("auto start disabled; cameras wait for a start command")
		return
	}
	if _, err := d.directory.RefreshCredentials(ctx); err != nil {
		logging.WarnWithContext(d.logger, "camera credentials not refreshed", "directory_refresh_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "cameras start with their previous credentials"),
		)
	}
	descriptors, err := d.directory.ListDevices(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "camera directory unavailable", "directory_list_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no cameras were started"),
		)
		return
	}
	started := 0
	for _, desc := range descriptors {
		if !desc.Enabled {
			continue
		}
		if _, err := d.sup.Add(desc); err != nil {
			logging.WarnWithContext(d.logger.With(logging.Device(desc.Name)), "camera could not be added", "device_add_failed",
				logging.Error(err),
			)
			continue
		}
		started++
	}
	d.logger.Info("cameras seeded",
		logging.Int("configured", len(descriptors)),
		logging.Int("started", started),
		logging.String(logging.FieldEventType, "devices_seeded"),
	)
}

// observe fans a worker transition out to every sink. It runs on the worker's
// goroutine, so every sink is a non-blocking enqueue.
func (d *Daemon) observe(tr supervisor.Transition) {
	ev := store.StateEvent{
		Device:   tr.Device,
		From:     tr.From.String(),
		To:       tr.To.String(),
		Attempts: tr.Attempts,
		Backoff:  tr.Backoff,
		At:       tr.At,
	}
	attrs := append(logging.StateChange(ev.From, ev.To),
		logging.Device(tr.Device),
		logging.String(logging.FieldEventType, "state_changed"),
	)
	if tr.Err != nil {
		ev.Error = tr.Err.Error()
		ev.ErrorKind = services.KindOf(tr.Err)
		attrs = append(attrs, logging.String(logging.FieldErrorKind, ev.ErrorKind))
	}
	d.logger.Info("camera state changed", logging.Args(attrs...)...)
	if d.journal != nil {
		d.journal.Record(ev)
	}
	if d.watcher != nil {
		d.watcher.Observe(tr)
	}
	if d.bus != nil {
		d.bus.Observe(tr)
	}
	d.events.publish(api.FromTransition(tr))
}

// forget drops per-device notification state for a removed camera so that
// re-adding it is not reported as a recovery.
func (d *Daemon) forget(name string) {
	if d.watcher != nil {
		d.watcher.Forget(name)
	}
}

// Stop shuts every worker down, drains the sinks and releases the lock. A
// stopped daemon cannot be started again.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	report := d.sup.Shutdown(d.cfg.Supervisor.ShutdownTimeout())
	if len(report.Forced) > 0 {
		d.watcher.ShutdownForced(report.Forced)
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.closeSinks()
	if closer, ok := d.relay.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			d.logger.Debug("relay adapter close failed", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a stale lock file may block the next start"),
		)
	}

	d.running.Store(false)
	d.stopped = true
	close(d.done)
	d.logger.Info("camrelay daemon stopped",
		logging.Duration("shutdown_elapsed", report.Elapsed),
		logging.Int("forced", len(report.Forced)),
		logging.String(logging.FieldEventType, "daemon_stop"),
	)
}

func (d *Daemon) closeSinks() {
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			d.logger.Debug("control bus close failed", logging.Error(err))
		}
	}
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.journal != nil {
		d.journal.Close()
	}
	d.events.close()
}

// Done is closed once Stop completes.
func (d *Daemon) Done() <-chan struct{} { return d.done }

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string { return d.logPath }

// LogStream returns the in-memory log hub, which may be nil.
func (d *Daemon) LogStream() *logging.StreamHub { return d.logHub }

// Cameras returns every camera known to the supervisor.
func (d *Daemon) Cameras(ctx context.Context) []api.CameraStatus {
	return d.decorate(ctx, api.FromStatuses(d.sup.List(), time.Now()))
}

// Camera returns one camera and its recent journal entries. Configured
// cameras that were never started report Idle.
func (d *Daemon) Camera(ctx context.Context, name string, events int) (api.CameraResponse, error) {
	st, err := d.sup.Get(name)
	if err != nil {
		desc, ok := d.directory.Lookup(name)
		if !ok {
			return api.CameraResponse{}, err
		}
		st = supervisor.Status{Name: desc.Name, Path: desc.PathName(), State: supervisor.StateIdle}
	}
	resp := api.CameraResponse{Camera: d.decorate(ctx, []api.CameraStatus{api.FromStatus(st, time.Now())})[0]}
	if events > 0 {
		stored, err := d.store.RecentEvents(ctx, st.Name, events)
		if err != nil {
			d.logger.Debug("journal read failed", logging.Device(st.Name), logging.Error(err))
		}
		resp.Events = api.FromStoredEvents(stored)
	}
	return resp, nil
}

func (d *Daemon) decorate(ctx context.Context, cameras []api.CameraStatus) []api.CameraStatus {
	if d.scheduler == nil {
		return cameras
	}
	for i := range cameras {
		capture, err := d.store.LatestCapture(ctx, cameras[i].Name)
		if err != nil || capture == nil {
			continue
		}
		cameras[i].LastSnapshot = capture.Path
		cameras[i].LastSnapshotAt = capture.CapturedAt.Format(time.RFC3339)
	}
	return cameras
}

// Command routes an action to one camera or, with "*" or "all", to every
// known camera. A blank correlation id is generated by the router.
func (d *Daemon) Command(ctx context.Context, target, action string, args map[string]string, correlationID string) ([]supervisor.Result, error) {
	if !d.running.Load() {
		return nil, services.Wrap(services.ErrCancelled, "daemon", "command", "daemon is not running", nil)
	}
	if strings.EqualFold(strings.TrimSpace(target), controlbus.AllCameras) {
		target = supervisor.AllDevices
	}
	parsed, control := supervisor.ParseAction(action)
	return d.router.Dispatch(ctx, supervisor.Command{
		ID:      correlationID,
		Target:  target,
		Action:  parsed,
		Control: session.Command{Action: control, Args: args},
	})
}

// Status returns the daemon and fleet status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	statuses := d.sup.List()
	status := api.DaemonStatus{
		Running:       d.running.Load(),
		RunID:         d.runID,
		LockFilePath:  d.lockPath,
		DatabasePath:  d.store.Path(),
		LogPath:       d.logPath,
		RelayAlive:    d.relayAlive.Load(),
		ControlBus:    d.bus != nil && d.running.Load(),
		Snapshots:     d.scheduler != nil,
		Process:       d.processHealth(),
		Fleet:         api.Summarize(statuses),
		Cameras:       d.decorate(ctx, api.FromStatuses(statuses, time.Now())),
		Dependencies:  api.FromDependencies(preflight.CheckSystemDeps(d.cfg)),
		DroppedEvents: d.droppedEvents(),
	}
	if checked := d.relayChecked.Load(); checked > 0 {
		status.RelayCheckedAt = time.Unix(0, checked).Format(time.RFC3339)
	}
	return status
}

func (d *Daemon) droppedEvents() int64 {
	var total int64
	if d.journal != nil {
		total += d.journal.Dropped()
	}
	if d.watcher != nil {
		total += d.watcher.Dropped()
	}
	if d.bus != nil {
		total += d.bus.Dropped()
	}
	return total + d.events.Dropped()
}

// TestNotification sends a test message using the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	err := d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{
		"message": "camrelay test notification",
	})
	if err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

func (d *Daemon) journalTrimLoop(ctx context.Context) {
	ticker := time.NewTicker(journalTrimTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := d.store.TrimEvents(ctx, now.Add(-eventRetention))
			if err != nil {
				d.logger.Debug("journal trim failed", logging.Error(err))
				continue
			}
			if removed > 0 {
				d.logger.Debug("journal trimmed", logging.Int64("removed", removed))
			}
		}
	}
}

func pid() int { return os.Getpid() }
