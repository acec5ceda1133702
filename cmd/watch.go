package cmd

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/bnema/wlrt/internal/control"
	"github.com/bnema/wlrt/internal/ui"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of clients and toplevels",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveControlPath()
		if err != nil {
			return err
		}
		client := control.NewClient(path)

		model := ui.NewWatchModel(client.Status, client.Disconnect, watchInterval)
		_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", time.Second, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}
