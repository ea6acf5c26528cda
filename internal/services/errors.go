package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Command-layer markers are returned synchronously and never retried.
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrUnknownDevice = errors.New("unknown device")
)

// Session-layer markers classify Camera Session failures.
var (
	ErrAuth        = errors.New("authentication failed")
	ErrNetwork     = errors.New("network error")
	ErrProtocol    = errors.New("protocol error")
	ErrUnsupported = errors.New("unsupported")
)

var (
	// ErrRelayUnavailable marks relay failures that are retried by re-feeding.
	ErrRelayUnavailable = errors.New("relay unavailable")
	// ErrCancelled reports a cooperative stop in progress.
	ErrCancelled     = errors.New("cancelled")
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker. The marker should be one of the exported
// sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrNetwork
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

var kinds = []struct {
	marker error
	kind   string
}{
	{ErrAlreadyExists, "already_exists"},
	{ErrNotFound, "not_found"},
	{ErrUnknownDevice, "unknown_device"},
	{ErrAuth, "auth"},
	{ErrNetwork, "network"},
	{ErrProtocol, "protocol"},
	{ErrUnsupported, "unsupported"},
	{ErrRelayUnavailable, "relay_unavailable"},
	{ErrCancelled, "cancelled"},
	{ErrConfiguration, "configuration"},
	{ErrValidation, "validation"},
}

// KindOf returns the stable taxonomy label for err, "" for nil and
// "internal" for errors carrying no marker.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.marker) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "network"
	}
	return "internal"
}

// FromKind maps a label produced by KindOf back to its marker, so clients on
// the far side of IPC can use errors.Is.
func FromKind(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.marker
		}
	}
	return nil
}

// Retryable reports whether a worker recovers from err locally through the
// Reconnecting state.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrProtocol), errors.Is(err, ErrRelayUnavailable):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
