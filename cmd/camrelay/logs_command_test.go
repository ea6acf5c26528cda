package main

import (
	"strings"
	"testing"

	"camrelay/internal/api"
)

func TestLogsCommandFallsBackToIPC(t *testing.T) {
	env := setupCLITestEnv(t)
	for _, line := range []string{"alpha", "beta", "gamma"} {
		if err := appendLine(env.logPath, line); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "alpha") || !strings.Contains(out, "beta") || !strings.Contains(out, "gamma") {
		t.Fatalf("unexpected tail output %q", out)
	}

	_, _, err = runCLI(t, []string{"logs", "--camera", "garage"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "api_bind") {
		t.Fatalf("expected filters to require the API, got %v", err)
	}
}

func TestFormatLogEvent(t *testing.T) {
	got := formatLogEvent(api.LogEvent{
		Timestamp:     "2026-05-01T10:00:00Z",
		Level:         "WARN",
		Message:       "session lost",
		Component:     "supervisor",
		Camera:        "GARAGE",
		CorrelationID: "c-1",
		Fields:        map[string]string{"b": "2", "a": "1"},
	})
	want := "2026-05-01T10:00:00Z WARN  [supervisor] GARAGE: session lost correlation_id=c-1 a=1 b=2"
	if got != want {
		t.Fatalf("formatLogEvent\n got: %q\nwant: %q", got, want)
	}
}
