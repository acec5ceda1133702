package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/wlrt/internal/config"
	"github.com/bnema/wlrt/internal/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage wlrt configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Config file: %s\n\n", config.GetConfigPath())

		fmt.Fprintln(out, "[server]")
		fmt.Fprintf(out, "  socket: %s\n", orDefault(cfg.Server.Socket, "auto"))
		fmt.Fprintf(out, "  control_socket: %s\n", orDefault(cfg.Server.ControlSocket, "auto"))
		fmt.Fprintf(out, "  max_clients: %d\n", cfg.Server.MaxClients)
		fmt.Fprintf(out, "  trace: %v\n", cfg.Server.Trace)

		fmt.Fprintln(out, "\n[shell]")
		fmt.Fprintf(out, "  ping_timeout: %s\n", cfg.Shell.PingTimeout)
		fmt.Fprintf(out, "  seat_name: %s\n", cfg.Shell.SeatName)

		fmt.Fprintln(out, "\n[globals]")
		fmt.Fprintf(out, "  xdg_shell: %v\n", cfg.Globals.XDGShell)
		fmt.Fprintf(out, "  wl_shell: %v\n", cfg.Globals.WlShell)
		fmt.Fprintf(out, "  viewporter: %v\n", cfg.Globals.Viewporter)
		fmt.Fprintf(out, "  foreign: %v\n", cfg.Globals.Foreign)
		fmt.Fprintf(out, "  seat: %v\n", cfg.Globals.Seat)

		fmt.Fprintln(out, "\n[logging]")
		fmt.Fprintf(out, "  log_level: %s\n", orDefault(cfg.Logging.LogLevel, "$LOG_LEVEL"))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				logger.Infof("Configuration file already exists at: %s", configPath)
				logger.Info("Use --force to overwrite")
				return nil
			}
		}

		if err := config.Save(); err != nil {
			return err
		}
		logger.Infof("Configuration initialized at: %s", configPath)
		return nil
	},
}

var configGlobalsCmd = &cobra.Command{
	Use:   "globals",
	Short: "Enable or disable optional globals",
	Long: `Enable or disable optional globals. Accepted names: xdg_shell, wl_shell,
viewporter, foreign, seat.`,
	Example: "  wlrt config globals --disable wl_shell --enable foreign",
	RunE: func(cmd *cobra.Command, args []string) error {
		enable, _ := cmd.Flags().GetStringSlice("enable")
		disable, _ := cmd.Flags().GetStringSlice("disable")

		globals := config.Get().Globals
		for _, name := range enable {
			if err := setGlobal(&globals, name, true); err != nil {
				return err
			}
		}
		for _, name := range disable {
			if err := setGlobal(&globals, name, false); err != nil {
				return err
			}
		}

		if err := config.UpdateGlobals(globals); err != nil {
			return err
		}
		logger.Infof("Configuration saved to: %s", config.GetConfigPath())
		return nil
	},
}

func setGlobal(g *config.GlobalsConfig, name string, on bool) error {
	switch name {
	case "xdg_shell":
		g.XDGShell = on
	case "wl_shell":
		g.WlShell = on
	case "viewporter":
		g.Viewporter = on
	case "foreign":
		g.Foreign = on
	case "seat":
		g.Seat = on
	default:
		return fmt.Errorf("unknown global %q", name)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite existing configuration")
	configGlobalsCmd.Flags().StringSlice("enable", nil, "Globals to enable")
	configGlobalsCmd.Flags().StringSlice("disable", nil, "Globals to disable")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGlobalsCmd)
	rootCmd.AddCommand(configCmd)
}
