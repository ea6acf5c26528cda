package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"camrelay/internal/api"
	"camrelay/internal/config"
	"camrelay/internal/device"
	"camrelay/internal/ipc"
	"camrelay/internal/preflight"
)

// StatusSnapshot is the daemon status plus the CLI-only check lines.
type StatusSnapshot struct {
	api.DaemonStatus
	SystemChecks      []api.StatusLine      `json:"systemChecks"`
	DependencySummary api.DependencySummary `json:"dependencySummary"`
}

// BuildStatusSnapshot collects daemon status and falls back to the
// configured camera list and local dependency checks when the daemon is not
// reachable.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &StatusSnapshot{}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil {
			snapshot.DaemonStatus = *resp
		}
	}

	if !snapshot.Running {
		snapshot.LockFilePath = cfg.LockPath()
		snapshot.DatabasePath = cfg.DatabasePath()
		snapshot.Cameras = configuredCameras(cfg)
		snapshot.Fleet = api.FleetSummary{Total: len(snapshot.Cameras), States: map[string]int{}}
		for _, cam := range snapshot.Cameras {
			snapshot.Fleet.States[cam.State]++
		}
	}
	if len(snapshot.Dependencies) == 0 {
		snapshot.Dependencies = api.FromDependencies(preflight.CheckSystemDeps(cfg))
	}

	snapshot.SystemChecks = BuildSystemChecks(ctx, cfg, snapshot.DaemonStatus)
	snapshot.DependencySummary = BuildDependencySummary(snapshot.Dependencies)
	return snapshot, nil
}

func configuredCameras(cfg *config.Config) []api.CameraStatus {
	cameras := make([]api.CameraStatus, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		name := device.NormalizeName(cam.Name)
		state := "offline"
		if cam.Disabled {
			state = "disabled"
		}
		cameras = append(cameras, api.CameraStatus{
			Name:  name,
			Path:  device.PathName(name),
			State: state,
		})
	}
	return cameras
}

// BuildSystemChecks resolves status lines that combine runtime state and
// config checks.
func BuildSystemChecks(ctx context.Context, cfg *config.Config, status api.DaemonStatus) []api.StatusLine {
	lines := make([]api.StatusLine, 0, 6)
	if status.Running {
		lines = append(lines, api.StatusLine{Label: "Camrelay", Severity: "ok", Detail: fmt.Sprintf("Running (pid %d)", status.Process.PID)})
		if status.RelayAlive {
			lines = append(lines, api.StatusLine{Label: "Relay", Severity: "ok", Detail: "Reachable"})
		} else {
			lines = append(lines, api.StatusLine{Label: "Relay", Severity: "error", Detail: "Unreachable (checked by daemon)"})
		}
	} else {
		lines = append(lines, api.StatusLine{Label: "Camrelay", Severity: "warn", Detail: "Not running (run `camrelay daemon start`)"})
		relay := preflight.CheckRelay(ctx, cfg.Relay.APIURL)
		severity := "ok"
		if !relay.Passed {
			severity = "error"
		}
		lines = append(lines, api.StatusLine{Label: "Relay", Severity: severity, Detail: relay.Detail})
	}

	switch {
	case !cfg.ControlBus.Enabled:
		lines = append(lines, api.StatusLine{Label: "Control Bus", Severity: "info", Detail: "Disabled"})
	case status.ControlBus:
		lines = append(lines, api.StatusLine{Label: "Control Bus", Severity: "ok", Detail: "Connected to " + cfg.ControlBus.NATSURL})
	case status.Running:
		lines = append(lines, api.StatusLine{Label: "Control Bus", Severity: "warn", Detail: "Enabled but not connected"})
	default:
		lines = append(lines, api.StatusLine{Label: "Control Bus", Severity: "info", Detail: "Inactive (daemon not running)"})
	}

	if cfg.Snapshots.Enabled {
		dir := preflight.CheckDirectoryAccess("Snapshots", cfg.Paths.SnapshotDir)
		severity := "ok"
		if !dir.Passed {
			severity = "error"
		}
		lines = append(lines, api.StatusLine{Label: "Snapshots", Severity: severity, Detail: dir.Detail})
	} else {
		lines = append(lines, api.StatusLine{Label: "Snapshots", Severity: "info", Detail: "Disabled"})
	}

	notify := preflight.CheckNotificationsFromConfig(cfg)
	if notify.Passed {
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: "ok", Detail: notify.Detail})
	} else {
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: "warn", Detail: notify.Detail})
	}

	if status.DroppedEvents > 0 {
		lines = append(lines, api.StatusLine{Label: "Event Sinks", Severity: "warn", Detail: fmt.Sprintf("%d events dropped", status.DroppedEvents)})
	}
	return lines
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(deps []api.DependencyStatus) api.DependencySummary {
	if len(deps) == 0 {
		return api.DependencySummary{
			Severity: "info",
			Detail:   "No dependency checks configured",
		}
	}

	missingRequired := 0
	missingOptional := 0
	for _, dep := range deps {
		if dep.Available {
			continue
		}
		if dep.Optional {
			missingOptional++
		} else {
			missingRequired++
		}
	}

	missingCount := missingRequired + missingOptional
	available := len(deps) - missingCount
	severity := "ok"
	if missingRequired > 0 {
		severity = "error"
	} else if missingOptional > 0 {
		severity = "warn"
	}
	detail := fmt.Sprintf("%d/%d available (missing: %d required, %d optional)", available, len(deps), missingRequired, missingOptional)
	if missingCount == 0 {
		detail = fmt.Sprintf("%d/%d available", available, len(deps))
	}

	return api.DependencySummary{
		Total:           len(deps),
		Available:       available,
		MissingRequired: missingRequired,
		MissingOptional: missingOptional,
		Severity:        severity,
		Detail:          detail,
	}
}

// SocketPath returns the configured socket path, honoring an override.
func SocketPath(cfg *config.Config, override string) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}
	if cfg == nil {
		return filepath.Join(os.TempDir(), "camrelay.sock")
	}
	return cfg.SocketPath()
}
