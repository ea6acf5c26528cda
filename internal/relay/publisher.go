package relay

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// PublisherFactory starts the process that pushes one path's bytes into the
// relay.
type PublisherFactory func(name string) (io.WriteCloser, error)

// FFmpegPublisher returns a factory that spawns ffmpeg copying an h264
// elementary stream from stdin to <publishURL>/<name> over RTSP.
func FFmpegPublisher(binary, publishURL string) PublisherFactory {
	publishURL = strings.TrimRight(publishURL, "/")
	return func(name string) (io.WriteCloser, error) {
		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "h264", "-i", "pipe:0",
			"-c", "copy",
			"-f", "rtsp", "-rtsp_transport", "tcp",
			publishURL + "/" + name,
		}
		cmd := exec.Command(binary, args...) //nolint:gosec
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		cmd.WaitDelay = 2 * time.Second
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start publisher: %w", err)
		}
		return &processWriter{cmd: cmd, stdin: stdin}, nil
	}
}

type processWriter struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	once  sync.Once
	err   error
}

func (p *processWriter) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

func (p *processWriter) Close() error {
	p.once.Do(func() {
		_ = p.stdin.Close()
		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		select {
		case p.err = <-done:
		case <-time.After(3 * time.Second):
			_ = p.cmd.Process.Kill()
			p.err = <-done
		}
	})
	return p.err
}
