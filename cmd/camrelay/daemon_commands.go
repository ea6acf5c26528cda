package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"camrelay/internal/daemonctl"
	"camrelay/internal/daemonrun"
)

const (
	stopGracePeriod  = 15 * time.Second
	startWaitTimeout = 10 * time.Second
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the camrelay daemon process",
	}

	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the camrelay daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl, err := newController(ctx, startLogLevel)
			if err != nil {
				return err
			}
			result, err := ctl.Start(cmd.Context())
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop every camera and terminate the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl := &daemonctl.Controller{
				SocketPath: ctx.socketPath(),
				Config:     ctx.configValue(),
				StopGrace:  stopGracePeriod,
			}
			result, err := ctl.Stop(cmd.Context())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the camrelay daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl, err := newController(ctx, restartLogLevel)
			if err != nil {
				return err
			}
			result, err := ctl.Restart(cmd.Context())
			if err != nil {
				return err
			}
			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Killed daemon process (pid %d)\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override the configured log level")

	daemonCmd.AddCommand(startCmd, stopCmd, restartCmd, newDaemonRunCommand(ctx))
	return daemonCmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:    "run",
		Short:  "Run the camrelay daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}

// newController resolves this binary so the daemon is relaunched from the
// same build the operator is running.
func newController(ctx *commandContext, logLevel string) (*daemonctl.Controller, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &daemonctl.Controller{
		SocketPath: ctx.socketPath(),
		Config:     ctx.configValue(),
		Executable: exe,
		Launch: daemonctl.LaunchOptions{
			ConfigPath: ctx.configPath(),
			LogLevel:   strings.TrimSpace(logLevel),
		},
		StopGrace: stopGracePeriod,
		StartWait: startWaitTimeout,
	}, nil
}
