package supervisor

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 30 * time.Second}
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.failures); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.failures, got, tc.want)
		}
	}
}

func TestBackoffMonotonicUntilReset(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 5 * time.Second, MinUptime: 10 * time.Second}
	var s BackoffState
	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		s = b.Fail(s)
		if s.Delay < prev {
			t.Fatalf("delay decreased at failure %d: %s < %s", s.Failures, s.Delay, prev)
		}
		if s.Delay > b.Max {
			t.Fatalf("delay %s exceeds max", s.Delay)
		}
		prev = s.Delay
	}

	short := b.Streamed(s, 2*time.Second)
	if short != s {
		t.Fatalf("short streaming period reset backoff: %+v", short)
	}
	reset := b.Streamed(s, 11*time.Second)
	if reset.Failures != 0 || reset.Delay != 0 {
		t.Fatalf("long streaming period did not reset: %+v", reset)
	}
	if next := b.Fail(reset); next.Delay != b.Initial {
		t.Fatalf("first delay after reset = %s", next.Delay)
	}
}

func TestBackoffZeroInitialFallsBack(t *testing.T) {
	if got := (Backoff{}).Delay(1); got != time.Second {
		t.Fatalf("Delay with zero initial = %s", got)
	}
}
