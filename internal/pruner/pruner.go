package pruner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"camrelay/internal/device"
	"camrelay/internal/fileutil"
	"camrelay/internal/logging"
)

// Target is one device's history directory and its policy.
type Target struct {
	Device string
	Dir    string
	Policy device.RetentionPolicy
}

// TargetSource lists the targets for a pass.
type TargetSource func() []Target

// DeviceSource is the subset of the supervisor the pruner reads.
type DeviceSource interface {
	Names() []string
	Descriptor(name string) (device.Descriptor, bool)
}

// DeviceTargets builds targets for every known device with a policy, with
// history under root/<device path>.
func DeviceTargets(devices DeviceSource, root string) TargetSource {
	return func() []Target {
		var targets []Target
		for _, name := range devices.Names() {
			desc, ok := devices.Descriptor(name)
			if !ok || !desc.Retention.Enabled() {
				continue
			}
			targets = append(targets, Target{
				Device: desc.Name,
				Dir:    filepath.Join(root, desc.PathName()),
				Policy: desc.Retention,
			})
		}
		return targets
	}
}

// Index is notified of deleted files.
type Index interface {
	DeleteCaptures(ctx context.Context, paths []string) (int64, error)
}

// Options configures a Pruner.
type Options struct {
	Interval time.Duration
	// Index may be nil.
	Index  Index
	Logger *slog.Logger
	// Remove deletes one file. Defaults to os.Remove.
	Remove func(path string) error
	Now    func() time.Time
}

// Report summarizes one pass.
type Report struct {
	Removed     []string
	RemovedDirs []string
	Failed      map[string]error
	Skipped     []string
}

// Pruner runs retention passes.
type Pruner struct {
	targets  TargetSource
	interval time.Duration
	index    Index
	logger   *slog.Logger
	remove   func(string) error
	now      func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// New builds a pruner over targets.
func New(targets TargetSource, opts Options) *Pruner {
	p := &Pruner{
		targets:  targets,
		interval: opts.Interval,
		index:    opts.Index,
		logger:   logging.NewComponentLogger(opts.Logger, "pruner"),
		remove:   opts.Remove,
		now:      opts.Now,
		running:  make(map[string]bool),
	}
	if p.interval <= 0 {
		p.interval = 5 * time.Minute
	}
	if p.remove == nil {
		p.remove = os.Remove
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Run executes a pass every interval until ctx ends.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Pass(ctx)
		}
	}
}

// Pass prunes every target once. A target whose directory is already being
// pruned by another pass is skipped.
func (p *Pruner) Pass(ctx context.Context) Report {
	report := Report{Failed: map[string]error{}}
	now := p.now()
	touched := map[string][]string{}

	for _, target := range p.targets() {
		if ctx.Err() != nil {
			break
		}
		if !p.acquire(target.Dir) {
			report.Skipped = append(report.Skipped, target.Device)
			continue
		}
		removed, err := p.pruneTarget(target, now)
		p.release(target.Dir)

		report.Removed = append(report.Removed, removed...)
		for _, path := range removed {
			touched[target.Dir] = append(touched[target.Dir], filepath.Dir(path))
		}
		if err != nil {
			report.Failed[target.Device] = err
			logging.WarnWithContext(p.logger.With(logging.Device(target.Device)), "retention pass incomplete for device", "retention_failed",
				logging.Error(err),
				logging.Int("removed", len(removed)),
				logging.String(logging.FieldErrorHint, "check permissions on the snapshot directory"),
				logging.String(logging.FieldImpact, "expired snapshots remain until the next pass"),
			)
		}
	}

	roots := make([]string, 0, len(touched))
	for root := range touched {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	for _, root := range roots {
		report.RemovedDirs = append(report.RemovedDirs, fileutil.RemoveEmptyDirs(root, touched[root])...)
	}

	if p.index != nil && len(report.Removed) > 0 {
		if _, err := p.index.DeleteCaptures(ctx, report.Removed); err != nil {
			p.logger.Debug("capture index cleanup failed", logging.Error(err))
		}
	}
	if len(report.Removed) > 0 || len(report.Failed) > 0 {
		p.logger.Info("retention pass complete",
			logging.Int("removed", len(report.Removed)),
			logging.Int("removed_dirs", len(report.RemovedDirs)),
			logging.Int("failed_devices", len(report.Failed)),
			logging.String(logging.FieldEventType, "retention_pass"),
		)
	}
	return report
}

func (p *Pruner) acquire(dir string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[dir] {
		return false
	}
	p.running[dir] = true
	return true
}

func (p *Pruner) release(dir string) {
	p.mu.Lock()
	delete(p.running, dir)
	p.mu.Unlock()
}

// pruneTarget deletes expired files for one device. Individual delete
// failures do not stop the rest of the device's files; the first error is
// returned.
func (p *Pruner) pruneTarget(target Target, now time.Time) ([]string, error) {
	artifacts, err := listArtifacts(target.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var (
		removed  []string
		firstErr error
	)
	for _, a := range Select(artifacts, target.Policy, now) {
		if err := p.remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed = append(removed, a.Path)
	}
	return removed, firstErr
}

func listArtifacts(dir string) ([]Artifact, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	var artifacts []Artifact
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		artifacts = append(artifacts, Artifact{Path: path, ModTime: info.ModTime(), Size: info.Size()})
		return nil
	})
	return artifacts, err
}
