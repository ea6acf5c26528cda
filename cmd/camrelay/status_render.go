package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"camrelay/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func statusKindFromSeverity(severity string) statusKind {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "ok":
		return statusOK
	case "warn", "warning":
		return statusWarn
	case "error":
		return statusError
	default:
		return statusInfo
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func dependencyLines(deps []api.DependencyStatus, summary api.DependencySummary, colorize bool) []string {
	lines := make([]string, 0, len(deps)+2)
	lines = append(lines, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize))
	var missing []string
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		lines = append(lines, renderStatusLine(dep.Name, statusKindFromSeverity(dep.Severity), detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

// fleetLine renders per-state counts in lifecycle order, omitting zeros.
func fleetLine(fleet api.FleetSummary) string {
	order := []string{"streaming", "connecting", "reconnecting", "stopping", "idle", "stopped", "failed", "offline", "disabled"}
	seen := make(map[string]bool, len(order))
	var parts []string
	for _, state := range order {
		seen[state] = true
		if n := fleet.States[state]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, state))
		}
	}
	var extra []string
	for state, n := range fleet.States {
		if !seen[state] && n > 0 {
			extra = append(extra, fmt.Sprintf("%d %s", n, state))
		}
	}
	sort.Strings(extra)
	parts = append(parts, extra...)
	if len(parts) == 0 {
		return fmt.Sprintf("%d cameras", fleet.Total)
	}
	return fmt.Sprintf("%d cameras (%s)", fleet.Total, strings.Join(parts, ", "))
}

func cameraRows(cameras []api.CameraStatus) [][]string {
	rows := make([][]string, 0, len(cameras))
	for _, cam := range cameras {
		uptime := "-"
		if cam.ConnectedForSeconds > 0 {
			uptime = humanDuration(secondsDuration(cam.ConnectedForSeconds))
		}
		lastErr := cam.LastError
		if cam.ErrorKind != "" && lastErr != "" {
			lastErr = fmt.Sprintf("%s (%s)", lastErr, cam.ErrorKind)
		}
		if lastErr == "" {
			lastErr = "-"
		}
		rows = append(rows, []string{
			cam.Name,
			cam.State,
			uptime,
			fmt.Sprintf("%d", cam.Attempts),
			fmt.Sprintf("%d", cam.Frames),
			lastErr,
		})
	}
	return rows
}

func cameraTable(cameras []api.CameraStatus, colorize bool) string {
	return renderTable(tableSpec{
		headers:     []string{"Camera", "State", "Uptime", "Attempts", "Frames", "Last Error"},
		aligns:      []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
		stateColumn: 1,
		colorize:    colorize,
	}, cameraRows(cameras))
}

func humanDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func secondsDuration(secs int64) time.Duration {
	return time.Duration(secs) * time.Second
}
