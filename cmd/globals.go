package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/wlrt/client"
)

var globalsDisplay string

var globalsCmd = &cobra.Command{
	Use:   "globals",
	Short: "List the globals advertised by a Wayland display",
	Long: `Connect to a Wayland display as a client and list its globals. Works
against any compositor, not only wlrt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		d, err := client.Connect(globalsDisplay)
		if err != nil {
			return fmt.Errorf("failed to connect to Wayland display: %w", err)
		}
		defer d.Close()

		registry, err := d.GetRegistry()
		if err != nil {
			return fmt.Errorf("failed to get registry: %w", err)
		}
		if err := d.Roundtrip(ctx); err != nil {
			return fmt.Errorf("registry roundtrip failed: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Name\tInterface\tVersion")
		fmt.Fprintln(w, "----\t---------\t-------")
		for _, g := range registry.Globals() {
			fmt.Fprintf(w, "%d\t%s\t%d\n", g.Name, g.Interface, g.Version)
		}
		return w.Flush()
	},
}

func init() {
	globalsCmd.Flags().StringVarP(&globalsDisplay, "display", "d", "", "Wayland display name (default: $WAYLAND_DISPLAY)")
	rootCmd.AddCommand(globalsCmd)
}
