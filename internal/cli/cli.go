// Package cli implements farmctl, a command-line client for the browser farm.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/browserfarm/internal/config"
	"github.com/shehryarbajwa/browserfarm/internal/farm"
	"github.com/shehryarbajwa/browserfarm/internal/logging"
)

// Execute runs the farmctl entry point.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "farmctl",
		Short:        "Browser farm command-line interface",
		Long:         "farmctl manages farm environments and runs playbooks against them.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringSlice("env-file", nil, ".env files to load (default .env when present)")
	cmd.PersistentFlags().String("log-level", "", "override LOG_LEVEL")

	cmd.AddCommand(newEnvCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}

// setup loads configuration and builds the logger for cmd. Logs go to
// stderr so stdout stays machine readable.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	files, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	log, err := logging.NewWithOutput(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func farmFromCmd(cmd *cobra.Command) (*farm.Client, *config.Config, *logrus.Logger, error) {
	cfg, log, err := setup(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := farm.New(cfg.Farm())
	if err != nil {
		return nil, nil, nil, err
	}
	return client, cfg, log, nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
