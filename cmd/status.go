package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/wlrt/internal/control"
	"github.com/bnema/wlrt/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of the running compositor",
	Long:  `Show the globals, clients and toplevels of the running compositor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveControlPath()
		if err != nil {
			return err
		}

		client := control.NewClient(path)
		if !client.IsRunning() {
			fmt.Fprintln(cmd.OutOrStdout(), ui.FormatStatus(false, "wlrt is not running"))
			return nil
		}

		status, err := client.Status()
		if err != nil {
			return fmt.Errorf("failed to get server status: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderStatus(status))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
