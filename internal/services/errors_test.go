package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"camrelay/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("connection reset")
	err := services.Wrap(services.ErrNetwork, "session", "read", "frame read failed", base)
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"session", "read", "frame read failed", "connection reset"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := services.Wrap(services.ErrNotFound, "", "", "", nil)
	if err.Error() != "not found: service failure" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	cases := map[string]error{
		"":                  nil,
		"already_exists":    services.Wrap(services.ErrAlreadyExists, "supervisor", "add", "CAM", nil),
		"unknown_device":    fmt.Errorf("route: %w", services.ErrUnknownDevice),
		"auth":              services.ErrAuth,
		"relay_unavailable": services.ErrRelayUnavailable,
		"cancelled":         context.Canceled,
		"internal":          errors.New("plain"),
	}
	for want, err := range cases {
		if got := services.KindOf(err); got != want {
			t.Fatalf("KindOf(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestFromKindRoundTrip(t *testing.T) {
	err := services.Wrap(services.ErrUnsupported, "session", "control", "", nil)
	if marker := services.FromKind(services.KindOf(err)); marker != services.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", marker)
	}
	if services.FromKind("bogus") != nil {
		t.Fatal("expected nil for unknown kind")
	}
}

func TestRetryable(t *testing.T) {
	if !services.Retryable(services.Wrap(services.ErrProtocol, "session", "read", "bad header", nil)) {
		t.Fatal("protocol errors should be retryable")
	}
	if services.Retryable(services.ErrAuth) {
		t.Fatal("auth errors are classified by the session, not retried blindly")
	}
	if services.Retryable(services.ErrUnknownDevice) {
		t.Fatal("command-layer errors are never retried")
	}
}
