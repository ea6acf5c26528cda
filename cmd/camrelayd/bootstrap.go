package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"camrelay/internal/config"
	"camrelay/internal/daemonrun"
)

type bootstrapOptions struct {
	configPath  string
	logLevel    string
	development bool
}

func newRootCommand() *cobra.Command {
	var opts bootstrapOptions
	cmd := &cobra.Command{
		Use:           "camrelayd",
		Short:         "Run the camrelay daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    opts.logLevel,
				Development: opts.development,
			})
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&opts.development, "development", false, "Include source locations in log output")
	return cmd
}

// loadConfig loads and validates the configuration and creates its
// directories.
func loadConfig(path string) (*config.Config, error) {
	cfg, _, _, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}
