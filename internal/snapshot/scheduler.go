package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"camrelay/internal/device"
	"camrelay/internal/logging"
	"camrelay/internal/services"
	"camrelay/internal/store"
	"camrelay/internal/supervisor"
)

// DeviceSource exposes the supervisor's view of devices.
type DeviceSource interface {
	List() []supervisor.Status
	Get(name string) (supervisor.Status, error)
	Descriptor(name string) (device.Descriptor, bool)
}

// Recorder indexes published captures.
type Recorder interface {
	RecordCapture(ctx context.Context, c store.Capture) error
}

// Options configures a Scheduler.
type Options struct {
	Schedule *Schedule
	Capturer Capturer
	// Recorder may be nil.
	Recorder Recorder
	// Cameras limits scheduling to these device names. Empty allows all.
	Cameras []string
	// Tick is how often due times are evaluated.
	Tick   time.Duration
	Logger *slog.Logger
}

// Scheduler triggers periodic captures for Streaming devices.
type Scheduler struct {
	devices  DeviceSource
	schedule *Schedule
	capturer Capturer
	recorder Recorder
	allow    map[string]struct{}
	tick     time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
	busy map[string]bool
	wg   sync.WaitGroup
}

// NewScheduler builds a scheduler over devices.
func NewScheduler(devices DeviceSource, opts Options) *Scheduler {
	s := &Scheduler{
		devices:  devices,
		schedule: opts.Schedule,
		capturer: opts.Capturer,
		recorder: opts.Recorder,
		tick:     opts.Tick,
		logger:   logging.NewComponentLogger(opts.Logger, "snapshots"),
		last:     make(map[string]time.Time),
		busy:     make(map[string]bool),
	}
	if s.tick <= 0 {
		s.tick = 5 * time.Second
	}
	if s.schedule == nil {
		s.schedule = NewSchedule(180*time.Second, 0, nil)
	}
	if len(opts.Cameras) > 0 {
		s.allow = make(map[string]struct{}, len(opts.Cameras))
		for _, name := range opts.Cameras {
			s.allow[device.NormalizeName(name)] = struct{}{}
		}
	}
	return s
}

// Run evaluates due captures every tick until ctx ends, then waits for
// captures in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.logger.Info("snapshot scheduler started",
		logging.Duration("interval", s.schedule.Interval),
		logging.Duration("solar_interval", s.schedule.SolarInterval),
	)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick starts a capture for every allowed Streaming device that is due and
// returns their names. Due devices that are not Streaming are skipped and
// rescheduled a full interval later.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	statuses := s.devices.List()

	s.mu.Lock()
	known := make(map[string]struct{}, len(statuses))
	for _, st := range statuses {
		known[st.Name] = struct{}{}
	}
	for name := range s.last {
		if _, ok := known[name]; !ok {
			delete(s.last, name)
		}
	}
	s.mu.Unlock()

	var triggered []string
	for _, st := range statuses {
		if !s.allowed(st.Name) {
			continue
		}
		desc, ok := s.devices.Descriptor(st.Name)
		if !ok {
			continue
		}
		s.mu.Lock()
		if s.busy[st.Name] || !s.schedule.Due(now, s.last[st.Name], desc.SnapshotInterval) {
			s.mu.Unlock()
			continue
		}
		s.last[st.Name] = now
		if st.State != supervisor.StateStreaming {
			s.mu.Unlock()
			s.logger.Debug("snapshot skipped; device not streaming",
				logging.Device(st.Name),
				logging.State(st.State.String()),
			)
			continue
		}
		s.busy[st.Name] = true
		s.mu.Unlock()

		triggered = append(triggered, st.Name)
		s.wg.Add(1)
		go func(desc device.Descriptor) {
			defer s.wg.Done()
			defer s.release(desc.Name)
			_, _ = s.capture(ctx, desc, true)
		}(desc)
	}
	return triggered
}

// Wait blocks until captures started by Tick finish.
func (s *Scheduler) Wait() { s.wg.Wait() }

// LastCapture returns when the device was last captured or skipped.
func (s *Scheduler) LastCapture(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[device.NormalizeName(name)]
}

// CaptureNow takes an immediate snapshot for a Streaming device and returns
// the image path. It restarts the device's interval.
func (s *Scheduler) CaptureNow(ctx context.Context, name string) (string, error) {
	st, err := s.devices.Get(name)
	if err != nil {
		return "", err
	}
	if st.State != supervisor.StateStreaming {
		return "", services.Wrap(services.ErrCancelled, "snapshot", "capture", st.Name+" is "+st.State.String(), nil)
	}
	desc, ok := s.devices.Descriptor(st.Name)
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "snapshot", "capture", st.Name, nil)
	}
	s.mu.Lock()
	if s.busy[st.Name] {
		s.mu.Unlock()
		return "", services.Wrap(services.ErrAlreadyExists, "snapshot", "capture", "capture already running for "+st.Name, nil)
	}
	s.busy[st.Name] = true
	s.last[st.Name] = time.Now()
	s.mu.Unlock()
	defer s.release(st.Name)

	res, err := s.capture(ctx, desc, false)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	delete(s.busy, name)
	s.mu.Unlock()
}

func (s *Scheduler) allowed(name string) bool {
	if s.allow == nil {
		return true
	}
	_, ok := s.allow[name]
	return ok
}

func (s *Scheduler) capture(ctx context.Context, desc device.Descriptor, history bool) (Result, error) {
	logger := s.logger.With(logging.Device(desc.Name))
	res, err := s.capturer.Capture(ctx, desc, history)
	if err != nil {
		logging.WarnWithContext(logger, "snapshot capture failed", "snapshot_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the relay path is readable with ffmpeg"),
			logging.String(logging.FieldImpact, "the latest still for this camera is stale"),
		)
		return Result{}, err
	}
	if s.recorder != nil {
		if err := s.recorder.RecordCapture(ctx, store.Capture{
			Device:     desc.Name,
			Path:       res.Path,
			SizeBytes:  res.Size,
			CapturedAt: res.At,
		}); err != nil {
			logger.Debug("capture index write failed", logging.Error(err))
		}
	}
	logger.Info("snapshot captured",
		logging.String("snapshot", res.Path),
		logging.Int64("size_bytes", res.Size),
		logging.String(logging.FieldEventType, "snapshot_captured"),
	)
	return res, nil
}
