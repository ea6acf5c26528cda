// Package relay talks to the local media relay that republishes each camera
// stream.
//
// Each path is managed by exactly one worker. The relay itself is shared, so
// MediaMTX guards its publisher registry with a single mutex and keeps no
// per-device state outside it.
package relay

import "context"

// PathConfig is the per-path configuration sent on registration.
type PathConfig struct {
	Record     bool
	RecordPath string
}

// Relay is the capability the supervisor requires from the media relay.
type Relay interface {
	RegisterPath(ctx context.Context, name string, cfg PathConfig) error
	Feed(name string, payload []byte) error
	UnregisterPath(ctx context.Context, name string) error
}

// HealthChecker probes whether the relay is answering.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}
