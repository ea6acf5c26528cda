package supervisor

import (
	"sort"
	"time"
)

// Status is the per-device view exposed to status consumers.
type Status struct {
	Name        string        `json:"name"`
	Path        string        `json:"path"`
	State       State         `json:"state"`
	LastError   string        `json:"last_error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	ConnectedAt time.Time     `json:"connected_at,omitzero"`
	LastFrameAt time.Time     `json:"last_frame_at,omitzero"`
	Frames      uint64        `json:"frames"`
	Bytes       uint64        `json:"bytes"`
	Attempts    int           `json:"attempts"`
	Backoff     time.Duration `json:"backoff"`
	Forced      bool          `json:"forced,omitempty"`
}

// ConnectedFor returns how long the current Streaming period has lasted.
func (s Status) ConnectedFor(now time.Time) time.Duration {
	if s.State != StateStreaming || s.ConnectedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ConnectedAt)
}

// Summary counts devices per state.
type Summary struct {
	Total  int            `json:"total"`
	States map[string]int `json:"states"`
}

// Summarize builds the fleet summary for statuses.
func Summarize(statuses []Status) Summary {
	sum := Summary{Total: len(statuses), States: make(map[string]int, len(stateNames))}
	for _, st := range statuses {
		sum.States[st.State.String()]++
	}
	return sum
}

func sortStatuses(statuses []Status) {
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
}
