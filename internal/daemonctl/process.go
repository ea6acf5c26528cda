package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"camrelay/internal/config"
	"camrelay/internal/daemonrun"
	"camrelay/internal/ipc"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

const (
	defaultStopGrace = 15 * time.Second
	defaultStartWait = 10 * time.Second
	pollInterval     = 200 * time.Millisecond
)

// LaunchOptions are forwarded to the detached "daemon run" process.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

func (o LaunchOptions) args() []string {
	args := []string{"daemon", "run"}
	if path := strings.TrimSpace(o.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	return args
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

type StartResult struct {
	State    StartState
	Launched bool
}

type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Controller starts and stops the background daemon reachable at SocketPath.
type Controller struct {
	SocketPath string
	// Config locates the pid and lock files when a stop has to escalate.
	Config *config.Config
	// Executable is the camrelay binary relaunched with "daemon run".
	Executable string
	Launch     LaunchOptions
	StopGrace  time.Duration
	StartWait  time.Duration
}

func (c *Controller) stopGrace() time.Duration {
	if c.StopGrace > 0 {
		return c.StopGrace
	}
	return defaultStopGrace
}

func (c *Controller) startWait() time.Duration {
	if c.StartWait > 0 {
		return c.StartWait
	}
	return defaultStartWait
}

// Start launches the daemon unless its socket already answers, then waits
// for it to report running.
func (c *Controller) Start(ctx context.Context) (StartResult, error) {
	if client, err := ipc.Dial(c.SocketPath); err == nil {
		_ = client.Close()
		return StartResult{State: StartStateAlreadyRunning}, nil
	}
	if err := launch(c.Executable, c.Launch); err != nil {
		return StartResult{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.startWait())
	defer cancel()
	var running bool
	err := poll(waitCtx, func() (bool, error) {
		client, err := ipc.Dial(c.SocketPath)
		if err != nil {
			return false, err
		}
		defer client.Close()
		status, err := client.Status()
		if err != nil {
			return false, err
		}
		running = status.Running
		return true, nil
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("daemon failed to start: %w", err)
	}
	if !running {
		return StartResult{}, errors.New("daemon launched but is not running; check camrelay logs")
	}
	return StartResult{State: StartStateStarted, Launched: true}, nil
}

// Stop asks the daemon to stop every camera and exit. A daemon whose socket
// still answers after the grace period is killed through its pid file.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	client, err := ipc.Dial(c.SocketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	var lockPath string
	pid := 0
	if status, statusErr := client.Status(); statusErr == nil {
		lockPath = status.LockFilePath
		pid = status.Process.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid, StopAcknowledged: resp.Stopped}

	graceCtx, cancel := context.WithTimeout(ctx, c.stopGrace())
	defer cancel()
	if c.waitGone(graceCtx) == nil {
		return result, nil
	}

	alive, livePID, aliveErr := c.processInfo()
	if aliveErr != nil || !alive {
		return result, nil
	}
	if livePID > 0 {
		pid = livePID
	}
	if c.Config == nil {
		return result, errors.New("daemon still running and configuration unavailable to locate its pid file")
	}
	if lockPath == "" {
		lockPath = c.Config.LockPath()
	}
	killed, err := ForceKill(daemonrun.PIDPath(c.Config.Paths.LogDir), lockPath, pid)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(c.SocketPath)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// Restart stops the daemon when it is running and starts it again.
func (c *Controller) Restart(ctx context.Context) (RestartResult, error) {
	stopped, stopErr := c.Stop(ctx)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}
	started, err := c.Start(ctx)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{WasRunning: stopErr == nil, Stop: stopped, Start: started}, nil
}

// waitGone returns nil once the socket stops answering or the daemon
// reports it is no longer running.
func (c *Controller) waitGone(ctx context.Context) error {
	err := poll(ctx, func() (bool, error) {
		client, err := ipc.Dial(c.SocketPath)
		if err != nil {
			return isDaemonUnavailable(err), err
		}
		status, statusErr := client.Status()
		_ = client.Close()
		switch {
		case statusErr != nil:
			return false, statusErr
		case !status.Running:
			return true, nil
		default:
			return false, errors.New("daemon still running")
		}
	})
	if err != nil {
		return fmt.Errorf("daemon did not stop: %w", err)
	}
	return nil
}

// processInfo reports whether the socket answers and the daemon pid.
func (c *Controller) processInfo() (bool, int, error) {
	client, err := ipc.Dial(c.SocketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return true, 0, err
	}
	return true, status.Process.PID, nil
}

// poll calls check every pollInterval until it reports done or ctx ends.
// The last check error is wrapped into the timeout.
func poll(ctx context.Context, check func() (bool, error)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		done, err := check()
		if done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr == nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

// launch starts a detached daemon in its own session.
func launch(executable string, opts LaunchOptions) error {
	if strings.TrimSpace(executable) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	proc := exec.Command(executable, opts.args()...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// ForceKill sends SIGKILL to the pid recorded in pidPath, or fallbackPID
// when the file is missing, then removes the pid and lock files.
func ForceKill(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	switch {
	case err == nil:
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(data))); parseErr == nil && parsed > 0 {
			pid = parsed
		}
	case !errors.Is(err, os.ErrNotExist):
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
