package preflight

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"camrelay/internal/config"
	"camrelay/internal/deps"
)

// CheckRelay verifies that the relay control API answers.
func CheckRelay(ctx context.Context, apiURL string) Result {
	const name = "Relay API"

	base := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/v3/paths/list", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("probe failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (check relay API permissions)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unexpected status (%d)", resp.StatusCode)}
	}
}

// CheckNATS verifies that the NATS server accepts TCP connections.
func CheckNATS(ctx context.Context, natsURL string) Result {
	const name = "Control bus"

	raw := strings.TrimSpace(natsURL)
	if raw == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	// Only the first server of a comma separated list is probed.
	raw, _, _ = strings.Cut(raw, ",")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url %q", raw)}
	}
	host := parsed.Host
	if parsed.Port() == "" {
		host = net.JoinHostPort(parsed.Hostname(), "4222")
	}

	dialer := net.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: host}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the binaries camrelay executes: ffmpeg, plus the
// first word of every enabled camera's source command. Both the daemon and
// the CLI status command use this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{{
		Name:        "FFmpeg",
		Command:     deps.ResolveFFmpegPath(cfg.Relay.FFmpegBinary),
		Description: "Publishes camera streams into the relay and captures snapshots",
	}}
	seen := map[string]bool{requirements[0].Command: true}
	for _, cam := range cfg.Cameras {
		if cam.Disabled || len(cam.Source) == 0 {
			continue
		}
		bin := strings.TrimSpace(cam.Source[0])
		if bin == "" || seen[bin] {
			continue
		}
		seen[bin] = true
		requirements = append(requirements, deps.Requirement{
			Name:        "Source " + bin,
			Command:     bin,
			Description: "Camera session command for " + cam.Name,
		})
	}
	return deps.CheckBinaries(requirements)
}

// CheckNotificationsFromConfig reports whether ntfy delivery is configured.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"
	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Result{Name: name, Detail: "Not configured"}
	}
	return Result{Name: name, Passed: true, Detail: "Configured"}
}
