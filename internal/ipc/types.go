package ipc

import "camrelay/internal/api"

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the combined daemon and fleet status.
type StatusResponse = api.DaemonStatus

// CamerasRequest lists cameras known to the supervisor.
type CamerasRequest struct{}

// CamerasResponse contains every known camera.
type CamerasResponse = api.CameraListResponse

// CameraRequest fetches one camera and up to Events journal entries.
type CameraRequest struct {
	Name   string `json:"name"`
	Events int    `json:"events"`
}

// CameraResponse contains a single camera.
type CameraResponse = api.CameraResponse

// CommandRequest routes an action to a camera, or every camera with "all".
type CommandRequest struct {
	Camera        string            `json:"camera"`
	Action        string            `json:"action"`
	Args          map[string]string `json:"args,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// CommandResponse carries per-camera results. Error and Kind are set when the
// command was rejected before reaching any camera.
type CommandResponse struct {
	Results []api.CommandResult `json:"results"`
	Error   string              `json:"error,omitempty"`
	Kind    string              `json:"kind,omitempty"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
