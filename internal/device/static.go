package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"camrelay/internal/config"
)

var _ Directory = (*StaticDirectory)(nil)

// StaticDirectory serves the [[cameras]] list from configuration.
type StaticDirectory struct {
	mu      sync.RWMutex
	devices []Descriptor
}

// NewStaticDirectory converts configured cameras into descriptors.
func NewStaticDirectory(cfg *config.Config) (*StaticDirectory, error) {
	dir := &StaticDirectory{}
	if cfg == nil {
		return dir, nil
	}
	seen := make(map[string]struct{}, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		desc, err := FromConfig(cfg, cam)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[desc.Name]; dup {
			return nil, fmt.Errorf("camera %q normalizes to duplicate name %s", cam.Name, desc.Name)
		}
		seen[desc.Name] = struct{}{}
		dir.devices = append(dir.devices, desc)
	}
	return dir, nil
}

// FromConfig builds the descriptor for one configured camera, applying the
// global retention policy where the camera has no override.
func FromConfig(cfg *config.Config, cam config.Camera) (Descriptor, error) {
	name := NormalizeName(cam.Name)
	if name == "" {
		return Descriptor{}, fmt.Errorf("camera %q has no usable characters in its name", cam.Name)
	}
	desc := Descriptor{
		Name:             name,
		Model:            cam.Model,
		Host:             cam.Host,
		Source:           append([]string(nil), cam.Source...),
		Enabled:          !cam.Disabled,
		SnapshotInterval: time.Duration(cam.SnapshotIntervalSeconds) * time.Second,
		Retention: RetentionPolicy{
			MaxAge:   cfg.Retention.MaxAgeDuration(),
			MaxCount: cfg.Retention.MaxCount,
		},
	}
	if cam.RetentionMaxAge != "" {
		age, err := config.ParseRetention(cam.RetentionMaxAge)
		if err != nil {
			return Descriptor{}, fmt.Errorf("camera %s: %w", name, err)
		}
		desc.Retention.MaxAge = age
	}
	if cam.RetentionMaxCount > 0 {
		desc.Retention.MaxCount = cam.RetentionMaxCount
	}
	return desc, nil
}

// ListDevices returns a copy of the configured descriptors.
func (d *StaticDirectory) ListDevices(context.Context) ([]Descriptor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Descriptor, len(d.devices))
	copy(out, d.devices)
	return out, nil
}

// Lookup finds a descriptor by name after normalization.
func (d *StaticDirectory) Lookup(name string) (Descriptor, bool) {
	key := NormalizeName(name)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, desc := range d.devices {
		if desc.Name == key {
			return desc, true
		}
	}
	return Descriptor{}, false
}

// RefreshCredentials is a no-op for statically configured cameras.
func (d *StaticDirectory) RefreshCredentials(context.Context) (string, error) {
	return "", nil
}
