package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

func newEnvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "env",
		Aliases: []string{"environments"},
		Short:   "Manage farm environments",
	}

	cmd.AddCommand(newEnvCreateCmd())
	cmd.AddCommand(newEnvLaunchCmd())
	cmd.AddCommand(newEnvIDCmd("stop", "Stop an environment's browser"))
	cmd.AddCommand(newEnvIDCmd("delete", "Delete an environment"))
	cmd.AddCommand(newEnvListCmd())
	return cmd
}

func newEnvCreateCmd() *cobra.Command {
	var req models.CreateEnvironmentRequest
	var width, height int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := farmFromCmd(cmd)
			if err != nil {
				return err
			}
			if width > 0 && height > 0 {
				req.Screen = &models.Screen{
					Mode:   1,
					Width:  width,
					Height: height,
					Label:  fmt.Sprintf("%d x %d", width, height),
				}
			}
			env, err := client.CreateEnvironment(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), env)
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "environment name")
	cmd.Flags().StringVar(&req.Group, "group", "", "environment group")
	cmd.Flags().IntVar(&width, "width", 0, "screen width")
	cmd.Flags().IntVar(&height, "height", 0, "screen height")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newEnvLaunchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch <id>",
		Short: "Launch an environment and print its debugging port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := farmFromCmd(cmd)
			if err != nil {
				return err
			}
			info, err := client.Launch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

// newEnvIDCmd builds the commands that take only an environment ID.
func newEnvIDCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, log, err := farmFromCmd(cmd)
			if err != nil {
				return err
			}
			call := client.Stop
			if action == "delete" {
				call = client.Delete
			}
			if err := call(cmd.Context(), args[0]); err != nil {
				return err
			}
			log.WithField("environment_id", args[0]).Infof("environment %s", action)
			return nil
		},
	}
}

func newEnvListCmd() *cobra.Command {
	var filter models.ListFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := farmFromCmd(cmd)
			if err != nil {
				return err
			}
			envs, err := client.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), envs)
		},
	}

	cmd.Flags().StringVar(&filter.Group, "group", "", "filter by group")
	cmd.Flags().StringVar(&filter.Name, "name", "", "filter by name")
	cmd.Flags().StringVar(&filter.Remark, "remark", "", "filter by remark")
	return cmd
}
