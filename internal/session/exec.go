package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"camrelay/internal/device"
	"camrelay/internal/logging"
)

const (
	defaultChunkSize = 64 * 1024
	stderrTailBytes  = 4096
	frameBuffer      = 32
)

var errSessionClosed = errors.New("session closed")

// authRejection matches the credential failures ffmpeg and RTSP/HTTP sources
// print. A bare "401" is not enough: stats lines such as "frame= 1401" or
// "bitrate= 401.2kbits/s" carry it too.
var authRejection = regexp.MustCompile(`(?i)\bunauthori[sz]ed\b|\bauth(?:entication|ori[sz]ation) failed\b|\b(?:http|rtsp)/\d(?:\.\d)?\s+401\b|\b(?:returned|status(?:\s+code)?[:=]?)\s*401\b`)

// ExecDialer opens sessions by running each device's configured source
// command and treating its stdout as the elementary stream.
type ExecDialer struct {
	ChunkSize int
	logger    *slog.Logger
}

// NewExecDialer constructs a dialer.
func NewExecDialer(logger *slog.Logger) *ExecDialer {
	return &ExecDialer{ChunkSize: defaultChunkSize, logger: logging.NewComponentLogger(logger, "session")}
}

// Open starts the source command for desc.
func (d *ExecDialer) Open(ctx context.Context, desc device.Descriptor) (Session, error) {
	if len(desc.Source) == 0 {
		return nil, NewError(CategoryUnsupported, "open", fmt.Errorf("device %s has no source command", desc.Name))
	}
	if err := ctx.Err(); err != nil {
		return nil, NewError(CategoryNetwork, "open", err)
	}

	cmd := exec.Command(desc.Source[0], desc.Source[1:]...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewError(CategoryNetwork, "open", fmt.Errorf("stdout pipe: %w", err))
	}
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, NewError(CategoryUnsupported, "open", err)
		}
		return nil, NewError(CategoryNetwork, "open", fmt.Errorf("start source: %w", err))
	}

	chunk := d.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	s := &execSession{
		name:   desc.Name,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		chunk:  chunk,
		frames: make(chan Frame, frameBuffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.pump()
	d.logger.Debug("source started",
		logging.Device(desc.Name),
		logging.Int("pid", cmd.Process.Pid),
		logging.String("argv", strings.Join(desc.Source, " ")),
	)
	return s, nil
}

type execSession struct {
	name   string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	chunk  int

	frames chan Frame
	done   chan struct{}
	closed chan struct{}
	once   sync.Once
	err    error
}

func (s *execSession) pump() {
	defer close(s.done)
	var seq uint64
	for {
		buf := make([]byte, s.chunk)
		n, readErr := s.stdout.Read(buf)
		if n > 0 {
			seq++
			frame := Frame{Payload: buf[:n], Meta: FrameMeta{Sequence: seq, ReceivedAt: time.Now()}}
			select {
			case s.frames <- frame:
			case <-s.closed:
				s.err = errSessionClosed
				_ = s.cmd.Wait()
				return
			}
		}
		if readErr != nil {
			s.err = s.exitError(s.cmd.Wait())
			return
		}
	}
}

func (s *execSession) exitError(waitErr error) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	if waitErr == nil {
		return ErrEndOfStream
	}
	tail := strings.TrimSpace(s.stderr.String())
	if authRejection.MatchString(tail) {
		return PermanentAuth("read", fmt.Errorf("source rejected credentials: %s", tail))
	}
	if tail != "" {
		return NewError(CategoryNetwork, "read", fmt.Errorf("%w: %s", waitErr, tail))
	}
	return NewError(CategoryNetwork, "read", waitErr)
}

// ReadFrame returns the next chunk in order, or the terminal error once the
// source has exited and all buffered frames are drained.
func (s *execSession) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.closed:
		return Frame{}, errSessionClosed
	case <-s.done:
		select {
		case frame := <-s.frames:
			return frame, nil
		default:
			return Frame{}, s.err
		}
	}
}

func (s *execSession) SendControl(_ context.Context, cmd Command) (string, error) {
	return "", NewError(CategoryUnsupported, "control", fmt.Errorf("action %q is not supported by exec sources", cmd.Action))
}

// Close kills the source process and waits for the reader to finish. It is
// safe to call more than once and concurrently with ReadFrame.
func (s *execSession) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.cmd.Process != nil {
			// Kill the whole group so helpers spawned by the source
			// cannot keep stdout open.
			_ = unix.Kill(-s.cmd.Process.Pid, unix.SIGKILL)
			_ = s.cmd.Process.Kill()
		}
	})
	<-s.done
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
