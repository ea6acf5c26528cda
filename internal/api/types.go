package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CameraStatus describes one supervised camera.
type CameraStatus struct {
	Name                string `json:"name"`
	Path                string `json:"path"`
	State               string `json:"state"`
	LastError           string `json:"lastError,omitempty"`
	ErrorKind           string `json:"errorKind,omitempty"`
	Attempts            int    `json:"attempts"`
	BackoffSeconds      int64  `json:"backoffSeconds"`
	StartedAt           string `json:"startedAt,omitempty"`
	ConnectedAt         string `json:"connectedAt,omitempty"`
	ConnectedForSeconds int64  `json:"connectedForSeconds"`
	LastFrameAt         string `json:"lastFrameAt,omitempty"`
	Frames              uint64 `json:"frames"`
	Bytes               uint64 `json:"bytes"`
	Forced              bool   `json:"forced,omitempty"`
	LastSnapshot        string `json:"lastSnapshot,omitempty"`
	LastSnapshotAt      string `json:"lastSnapshotAt,omitempty"`
}

// FleetSummary counts cameras per state.
type FleetSummary struct {
	Total  int            `json:"total"`
	States map[string]int `json:"states"`
}

// ProcessHealth reports the daemon process footprint.
type ProcessHealth struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
	Goroutines int     `json:"goroutines"`
	UptimeSecs int64   `json:"uptimeSeconds"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// StatusLine is one labelled line of the CLI system check block.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DependencySummary aggregates dependency availability.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool               `json:"running"`
	RunID          string             `json:"runId,omitempty"`
	LockFilePath   string             `json:"lockFilePath"`
	DatabasePath   string             `json:"databasePath"`
	LogPath        string             `json:"logPath,omitempty"`
	RelayAlive     bool               `json:"relayAlive"`
	RelayCheckedAt string             `json:"relayCheckedAt,omitempty"`
	ControlBus     bool               `json:"controlBus"`
	Snapshots      bool               `json:"snapshots"`
	Process        ProcessHealth      `json:"process"`
	Fleet          FleetSummary       `json:"fleet"`
	Cameras        []CameraStatus     `json:"cameras"`
	Dependencies   []DependencyStatus `json:"dependencies"`
	DroppedEvents  int64              `json:"droppedEvents"`
}

// CameraListResponse wraps a collection of cameras.
type CameraListResponse struct {
	Cameras []CameraStatus `json:"cameras"`
}

// CameraResponse wraps a single camera with its recent transitions.
type CameraResponse struct {
	Camera CameraStatus `json:"camera"`
	Events []StateEvent `json:"events,omitempty"`
}

// CommandRequest is the body of a camera command.
type CommandRequest struct {
	Args map[string]string `json:"args,omitempty"`
}

// CommandResult is the outcome of a command for one camera.
type CommandResult struct {
	Camera        string `json:"camera"`
	Action        string `json:"action"`
	Status        string `json:"status"`
	Response      string `json:"response,omitempty"`
	Kind          string `json:"kind,omitempty"`
	State         string `json:"state"`
	CorrelationID string `json:"correlationId"`
}

// CommandResponse wraps the results of one command.
type CommandResponse struct {
	Results []CommandResult `json:"results"`
}

// StateEvent is a worker transition delivered to live subscribers.
type StateEvent struct {
	Camera    string `json:"camera"`
	From      string `json:"from"`
	To        string `json:"to"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	Attempts  int    `json:"attempts"`
	At        string `json:"at"`
}

// LogEvent is a structured log line.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     string            `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Camera        string            `json:"camera,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse is one page of log events plus the cursor for the next.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ErrorResponse is returned with non-2xx HTTP statuses.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
