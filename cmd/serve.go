package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/wlrt/internal/config"
	"github.com/bnema/wlrt/internal/daemon"
	"github.com/bnema/wlrt/internal/logger"
)

var (
	serveSocket     string
	serveMaxClients int
	serveTrace      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the headless compositor",
	Long: `Run the headless compositor. Clients connect through the Wayland socket
in $XDG_RUNTIME_DIR; the control socket answers status and disconnect
requests from the other wlrt commands.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveSocket, "socket", "s", "", "Wayland socket name (default: first free wayland-N)")
	serveCmd.Flags().IntVar(&serveMaxClients, "max-clients", 0, "Maximum simultaneous clients (0 = unlimited)")
	serveCmd.Flags().BoolVar(&serveTrace, "trace", false, "Log every request and event")

	// Bind flags to viper
	viper.BindPFlag("server.socket", serveCmd.Flags().Lookup("socket"))
	viper.BindPFlag("server.max_clients", serveCmd.Flags().Lookup("max-clients"))
	viper.BindPFlag("server.trace", serveCmd.Flags().Lookup("trace"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if controlPath != "" {
		cfg.Server.ControlSocket = controlPath
	}

	srv, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create compositor: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start compositor: %w", err)
	}
	defer srv.Stop()

	logger.Infof("Clients can connect with WAYLAND_DISPLAY=%s", srv.SocketName())

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}
