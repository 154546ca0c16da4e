package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/pcsc-agent/internal/service"
)

func newAutostartCmd(newService func() service.Service) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Manage starting the API server at login",
		// Errors are reported by whoever runs the command.
		SilenceUsage:  true,
		SilenceErrors: true,
		// Needs no configuration.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Start \"pcsc-agent serve\" at login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newService().Install(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Autostart installed")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Stop starting the API server at login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newService().Uninstall(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Autostart removed")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether autostart is installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := newService().Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	})

	return cmd
}
