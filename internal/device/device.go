// Package device describes cameras and the directory that lists them.
package device

import (
	"context"
	"time"
)

// RetentionPolicy bounds how many captured artifacts a device keeps. Zero
// fields are unbounded.
type RetentionPolicy struct {
	MaxAge   time.Duration
	MaxCount int
}

// Enabled reports whether any limit is set.
func (p RetentionPolicy) Enabled() bool {
	return p.MaxAge > 0 || p.MaxCount > 0
}

// Descriptor is the identity and static capability info for one camera.
// Descriptors are immutable once listed.
type Descriptor struct {
	Name    string
	Model   string
	Host    string
	Source  []string
	Enabled bool

	// SnapshotInterval overrides the scheduler default when non-zero.
	SnapshotInterval time.Duration
	Retention        RetentionPolicy
}

// PathName returns the relay path for the descriptor.
func (d Descriptor) PathName() string {
	return PathName(d.Name)
}

// Directory lists known devices. Listing a device does not start it.
type Directory interface {
	ListDevices(ctx context.Context) ([]Descriptor, error)
	RefreshCredentials(ctx context.Context) (string, error)
	// Lookup resolves one device by any spelling of its name.
	Lookup(name string) (Descriptor, bool)
}
