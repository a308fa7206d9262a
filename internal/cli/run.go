package cli

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/browserfarm/internal/driver/driverset"
	"github.com/shehryarbajwa/browserfarm/internal/playbook"
	"github.com/shehryarbajwa/browserfarm/internal/run"
)

func newRunCmd() *cobra.Command {
	var driverName, host, driverPath string

	cmd := &cobra.Command{
		Use:   "run <playbook>",
		Short: "Run a playbook and print the run report",
		Long: "run launches the playbook's environment, attaches a driver, performs the " +
			"actions and always stops the environment before printing the report.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, log, err := farmFromCmd(cmd)
			if err != nil {
				return err
			}
			pb, err := playbook.Load(args[0])
			if err != nil {
				return err
			}

			name := driverName
			if name == "" {
				name = pb.Driver
			}
			if name == "" {
				name = cfg.Driver
			}
			d, err := driverset.New(name, driverset.Options{
				ActionTimeout:       cfg.ActionTimeout,
				PlaywrightDriverDir: cfg.PlaywrightDriverDir,
			})
			if err != nil {
				return err
			}
			if host == "" {
				host = cfg.DebugHost
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
			defer cancel()

			runLog := log.WithField("driver", name)
			if pb.Name != "" {
				runLog = runLog.WithField("playbook", pb.Name)
			}
			runner := run.NewRunner(client, d, runLog)
			report, runErr := runner.Run(ctx, pb.RunSpec(host, driverPath), pb.Interaction(runLog, cfg.ActionTimeout))
			if report != nil {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&driverName, "driver", "", "driver to attach with ("+strings.Join(driverset.Names(), "|")+")")
	cmd.Flags().StringVar(&host, "host", "", "host exposing the debugging port (default DEBUG_HOST)")
	cmd.Flags().StringVar(&driverPath, "driver-path", "", "override the driver path reported by the farm")
	return cmd
}
