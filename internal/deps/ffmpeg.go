package deps

import (
	"os"
	"strings"
)

// FFmpegEnv overrides the configured ffmpeg binary.
const FFmpegEnv = "CAMRELAY_FFMPEG"

// ResolveFFmpegPath returns the ffmpeg binary used for relay publishing and
// snapshots: CAMRELAY_FFMPEG when set, else configured, else "ffmpeg".
func ResolveFFmpegPath(configured string) string {
	if env := strings.TrimSpace(os.Getenv(FFmpegEnv)); env != "" {
		return env
	}
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	return "ffmpeg"
}

// CheckFFmpeg reports whether the resolved ffmpeg binary can be executed.
func CheckFFmpeg(configured string) Status {
	return CheckBinaries([]Requirement{{
		Name:        "FFmpeg",
		Command:     ResolveFFmpegPath(configured),
		Description: "Publishes camera streams into the relay and captures snapshots",
	}})[0]
}
