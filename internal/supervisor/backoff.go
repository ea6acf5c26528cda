package supervisor

import "time"

// Backoff computes reconnect delays. The zero value is not useful; build one
// from configuration.
type Backoff struct {
	Initial   time.Duration
	Max       time.Duration
	MinUptime time.Duration
}

// BackoffState is the per-worker input to Backoff.
type BackoffState struct {
	Failures int
	Delay    time.Duration
}

// Delay returns the wait before retry number failures (1-based): Initial,
// doubling per failure, capped at Max.
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	delay := b.Initial
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < failures; i++ {
		if b.Max > 0 && delay >= b.Max {
			break
		}
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Fail records one more consecutive failure.
func (b Backoff) Fail(s BackoffState) BackoffState {
	failures := s.Failures + 1
	return BackoffState{Failures: failures, Delay: b.Delay(failures)}
}

// Streamed accounts for a Streaming period that just ended. Periods longer
// than MinUptime clear the failure count.
func (b Backoff) Streamed(s BackoffState, uptime time.Duration) BackoffState {
	if uptime > b.MinUptime {
		return BackoffState{}
	}
	return s
}
