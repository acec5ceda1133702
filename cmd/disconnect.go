package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/bnema/wlrt/internal/control"
	"github.com/bnema/wlrt/internal/logger"
)

var disconnectCmd = &cobra.Command{
	Use:   "disconnect [client-id]",
	Short: "Disconnect a Wayland client",
	Long: `Disconnect a Wayland client from the running compositor. Without an id,
an interactive list of connected clients is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveControlPath()
		if err != nil {
			return err
		}
		client := control.NewClient(path)

		var id uint32
		if len(args) == 1 {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid client id %q: %w", args[0], err)
			}
			id = uint32(v)
		} else {
			if id, err = selectClient(client); err != nil {
				return err
			}
		}

		if err := client.Disconnect(id); err != nil {
			return fmt.Errorf("failed to disconnect client %d: %w", id, err)
		}
		logger.Infof("Disconnected client %d", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(disconnectCmd)
}

// selectClient presents an interactive selection of connected clients
func selectClient(client *control.Client) (uint32, error) {
	status, err := client.Status()
	if err != nil {
		return 0, fmt.Errorf("failed to get server status: %w", err)
	}
	if len(status.Clients) == 0 {
		return 0, fmt.Errorf("no clients connected")
	}

	options := make([]huh.Option[uint32], len(status.Clients))
	for i, c := range status.Clients {
		label := fmt.Sprintf("client %d (pid %d, %d objects)", c.ID, c.PID, c.Objects)
		options[i] = huh.NewOption(label, c.ID)
	}

	var selected uint32
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[uint32]().
				Title("Select Client").
				Description("Choose the Wayland client to disconnect").
				Options(options...).
				Value(&selected),
		),
	)

	if err := form.Run(); err != nil {
		return 0, fmt.Errorf("client selection cancelled: %w", err)
	}
	return selected, nil
}
