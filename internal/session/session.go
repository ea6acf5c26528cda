// Package session defines the Camera Session capability the supervisor
// consumes and ships an exec-backed implementation of it.
//
// A Session is one open connection to one device. Sessions are owned by
// exactly one worker and are never shared; Close must be safe to call from
// another goroutine while ReadFrame is blocked so a stuck peer can be
// released out-of-band.
package session

import (
	"context"
	"errors"
	"time"

	"camrelay/internal/device"
)

// ErrEndOfStream is returned by ReadFrame when the device closed the stream
// cleanly.
var ErrEndOfStream = errors.New("end of stream")

// FrameMeta carries receive-side details for one frame.
type FrameMeta struct {
	Sequence   uint64
	ReceivedAt time.Time
}

// Frame is one chunk of the device's elementary stream.
type Frame struct {
	Payload []byte
	Meta    FrameMeta
}

// Command is a control request forwarded to the device.
type Command struct {
	Action string
	Args   map[string]string
}

// Session is an open connection to one device.
type Session interface {
	ReadFrame(ctx context.Context) (Frame, error)
	SendControl(ctx context.Context, cmd Command) (string, error)
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Open(ctx context.Context, desc device.Descriptor) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, desc device.Descriptor) (Session, error)

func (f DialerFunc) Open(ctx context.Context, desc device.Descriptor) (Session, error) {
	return f(ctx, desc)
}
