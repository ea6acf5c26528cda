package session

import (
	"context"
	"errors"
	"fmt"

	"camrelay/internal/services"
)

// Category is the distinguished failure class a session reports.
type Category int

const (
	CategoryNetwork Category = iota
	CategoryAuth
	CategoryProtocol
	CategoryUnsupported
)

func (c Category) String() string {
	switch c {
	case CategoryAuth:
		return "auth"
	case CategoryProtocol:
		return "protocol"
	case CategoryUnsupported:
		return "unsupported"
	default:
		return "network"
	}
}

func (c Category) marker() error {
	switch c {
	case CategoryAuth:
		return services.ErrAuth
	case CategoryProtocol:
		return services.ErrProtocol
	case CategoryUnsupported:
		return services.ErrUnsupported
	default:
		return services.ErrNetwork
	}
}

// Error is a categorized session failure. Permanent auth errors stop
// automatic retries; everything else is retried with backoff.
type Error struct {
	Category  Category
	Permanent bool
	Op        string
	Err       error
}

func (e *Error) Error() string {
	kind := e.Category.String()
	if e.Permanent {
		kind = "permanent " + kind
	}
	if e.Err == nil {
		return fmt.Sprintf("session %s: %s", e.Op, kind)
	}
	return fmt.Sprintf("session %s: %s: %v", e.Op, kind, e.Err)
}

// Unwrap exposes both the taxonomy marker and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Category.marker()}
	}
	return []error{e.Category.marker(), e.Err}
}

// NewError builds a transient session error.
func NewError(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}

// PermanentAuth builds an auth error that must not be retried.
func PermanentAuth(op string, err error) *Error {
	return &Error{Category: CategoryAuth, Permanent: true, Op: op, Err: err}
}

// IsPermanent reports whether err must move the worker to Failed.
func IsPermanent(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Permanent
}

// Classify returns the category of err. Unknown errors count as network
// failures so they are retried.
func Classify(err error) Category {
	var se *Error
	if errors.As(err, &se) {
		return se.Category
	}
	switch {
	case errors.Is(err, services.ErrAuth):
		return CategoryAuth
	case errors.Is(err, services.ErrProtocol):
		return CategoryProtocol
	case errors.Is(err, services.ErrUnsupported):
		return CategoryUnsupported
	default:
		return CategoryNetwork
	}
}

// BrokenConnection reports whether a control failure means the session
// itself is gone.
func BrokenConnection(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrEndOfStream) {
		return true
	}
	var se *Error
	return errors.As(err, &se) && se.Category == CategoryNetwork
}
