package daemon

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"camrelay/internal/api"
	"camrelay/internal/logging"
)

// relayHealthLoop probes the relay API until ctx ends. Only changes in
// reachability are logged.
func (d *Daemon) relayHealthLoop(ctx context.Context) {
	if d.health == nil {
		d.relayAlive.Store(true)
		return
	}
	interval := time.Duration(d.cfg.Relay.HealthSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	d.checkRelay(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkRelay(ctx)
		}
	}
}

func (d *Daemon) checkRelay(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := d.health.Healthy(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	alive := err == nil
	d.relayChecked.Store(time.Now().UnixNano())
	first := !d.relayProbed.Swap(true)
	was := d.relayAlive.Swap(alive)
	switch {
	case alive && (!was || first):
		d.logger.Info("relay reachable",
			logging.String("relay_api", d.cfg.Relay.APIURL),
			logging.String(logging.FieldEventType, "relay_up"),
		)
	case !alive && (was || first):
		logging.WarnWithContext(d.logger, "relay unreachable", "relay_down",
			logging.Error(err),
			logging.String("relay_api", d.cfg.Relay.APIURL),
			logging.String(logging.FieldErrorHint, "check that mediamtx is running and relay.api_url is correct"),
			logging.String(logging.FieldImpact, "camera streams cannot be published until the relay returns"),
		)
	}
}

// processHealth samples this process with gopsutil. Sampling errors leave the
// affected fields zero.
func (d *Daemon) processHealth() api.ProcessHealth {
	health := api.ProcessHealth{
		PID:        pid(),
		Goroutines: runtime.NumGoroutine(),
	}
	if !d.startedAt.IsZero() {
		health.UptimeSecs = int64(time.Since(d.startedAt) / time.Second)
	}
	proc, err := process.NewProcess(int32(health.PID))
	if err != nil {
		return health
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		health.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		health.RSSBytes = mem.RSS
	}
	return health
}
