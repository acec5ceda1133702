package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/wlrt/internal/config"
	"github.com/bnema/wlrt/internal/control"
	"github.com/bnema/wlrt/internal/logger"
)

var (
	configFile  string
	controlPath string

	rootCmd = &cobra.Command{
		Use:   "wlrt",
		Short: "wlrt - headless Wayland protocol runtime",
		Long: `wlrt is a headless Wayland compositor runtime. It speaks the Wayland
wire protocol on a Unix socket and implements the core, shell, viewporter
and xdg-foreign protocols without rendering anything.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigPath(configFile)
			if err := config.Init(); err != nil {
				return err
			}
			if level := config.Get().Logging.LogLevel; level != "" {
				logger.SetLevel(level)
			}
			return nil
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default is ~/.config/wlrt/wlrt.toml)")
	rootCmd.PersistentFlags().StringVar(&controlPath, "control", "", "Control socket path")
}

// resolveControlPath picks the control socket from the flag, the config,
// then the runtime directory default.
func resolveControlPath() (string, error) {
	if controlPath != "" {
		return controlPath, nil
	}
	if p := config.Get().Server.ControlSocket; p != "" {
		return p, nil
	}
	return control.DefaultSocketPath()
}

