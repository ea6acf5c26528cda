package api

import (
	"time"

	"camrelay/internal/deps"
	"camrelay/internal/logging"
	"camrelay/internal/services"
	"camrelay/internal/store"
	"camrelay/internal/supervisor"
)

// FromStatus converts a worker status. now anchors connectedForSeconds.
func FromStatus(st supervisor.Status, now time.Time) CameraStatus {
	out := CameraStatus{
		Name:           st.Name,
		Path:           st.Path,
		State:          st.State.String(),
		LastError:      st.LastError,
		ErrorKind:      st.ErrorKind,
		Attempts:       st.Attempts,
		BackoffSeconds: int64(st.Backoff / time.Second),
		StartedAt:      formatTime(st.StartedAt),
		ConnectedAt:    formatTime(st.ConnectedAt),
		LastFrameAt:    formatTime(st.LastFrameAt),
		Frames:         st.Frames,
		Bytes:          st.Bytes,
		Forced:         st.Forced,
	}
	if st.State == supervisor.StateStreaming && !st.ConnectedAt.IsZero() && now.After(st.ConnectedAt) {
		out.ConnectedForSeconds = int64(now.Sub(st.ConnectedAt) / time.Second)
	}
	return out
}

// FromStatuses converts a status list in order.
func FromStatuses(statuses []supervisor.Status, now time.Time) []CameraStatus {
	out := make([]CameraStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, FromStatus(st, now))
	}
	return out
}

// Summarize counts cameras per state. Every state is present, zero or not.
func Summarize(statuses []supervisor.Status) FleetSummary {
	summary := FleetSummary{Total: len(statuses), States: make(map[string]int)}
	for _, state := range supervisor.AllStates() {
		summary.States[state.String()] = 0
	}
	for _, st := range statuses {
		summary.States[st.State.String()]++
	}
	return summary
}

// FromResult converts a router result.
func FromResult(res supervisor.Result) CommandResult {
	return CommandResult{
		Camera:        res.Device,
		Action:        res.Action,
		Status:        res.Status,
		Response:      res.Response,
		Kind:          res.Kind,
		State:         res.State.String(),
		CorrelationID: res.CorrelationID,
	}
}

// FromResults converts router results in order.
func FromResults(results []supervisor.Result) []CommandResult {
	out := make([]CommandResult, 0, len(results))
	for _, res := range results {
		out = append(out, FromResult(res))
	}
	return out
}

// FromTransition converts a live worker transition.
func FromTransition(tr supervisor.Transition) StateEvent {
	ev := StateEvent{
		Camera:   tr.Device,
		From:     tr.From.String(),
		To:       tr.To.String(),
		Attempts: tr.Attempts,
		At:       formatTime(tr.At),
	}
	if tr.Err != nil {
		ev.Error = tr.Err.Error()
		ev.ErrorKind = services.KindOf(tr.Err)
	}
	return ev
}

// FromStoredEvents converts journaled transitions.
func FromStoredEvents(events []store.StateEvent) []StateEvent {
	out := make([]StateEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, StateEvent{
			Camera:    ev.Device,
			From:      ev.From,
			To:        ev.To,
			Error:     ev.Error,
			ErrorKind: ev.ErrorKind,
			Attempts:  ev.Attempts,
			At:        formatTime(ev.At),
		})
	}
	return out
}

// FromLogEvents converts stream hub events.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:      evt.Sequence,
			Timestamp:     formatTime(evt.Timestamp),
			Level:         evt.Level,
			Message:       evt.Message,
			Component:     evt.Component,
			Camera:        evt.Device,
			CorrelationID: evt.CorrelationID,
			Fields:        evt.Fields,
		})
	}
	return out
}

// FromDependencies converts dependency checks and fills severity.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, DependencyStatus{
			Name:        st.Name,
			Command:     st.Command,
			Description: st.Description,
			Optional:    st.Optional,
			Available:   st.Available,
			Detail:      st.Detail,
			Severity:    st.Severity(),
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
