// Package daemon assembles a headless wlrt compositor from configuration:
// the display, its globals, the Wayland socket and the control socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/foreign"
	"github.com/bnema/wlrt/internal/config"
	"github.com/bnema/wlrt/internal/control"
	"github.com/bnema/wlrt/internal/logger"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/shell"
	"github.com/bnema/wlrt/viewporter"
	"github.com/bnema/wlrt/wire"
)

// frameInterval paces frame callbacks, since nothing is ever presented.
const frameInterval = 16 * time.Millisecond

// Server is a running headless compositor.
type Server struct {
	config *config.Config

	display    *server.Display
	comp       *compositor.Compositor
	shell      *shell.Shell
	viewporter *viewporter.Viewporter
	foreign    *foreign.Foreign
	seat       *compositor.Seat

	listener *wire.Listener
	control  *control.Server

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	start   time.Time
}

// New creates the display and advertises the globals enabled in cfg.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{config: cfg}
	s.display = server.NewDisplay(
		server.WithMaxClients(cfg.Server.MaxClients),
		server.WithTrace(cfg.Server.Trace),
	)

	var err error
	if s.comp, err = compositor.New(s.display); err != nil {
		return nil, fmt.Errorf("failed to create compositor: %w", err)
	}

	if cfg.Globals.Seat {
		if s.seat, err = compositor.NewSeat(s.display, cfg.Shell.SeatName); err != nil {
			return nil, fmt.Errorf("failed to create seat: %w", err)
		}
	}

	s.shell = shell.New(s.display, s.comp,
		shell.WithPingTimeout(cfg.Shell.PingTimeout),
		shell.WithHandlers(s.shellHandlers()))
	if cfg.Globals.XDGShell {
		if _, err := s.shell.AdvertiseXDG(); err != nil {
			return nil, fmt.Errorf("failed to advertise xdg_wm_base: %w", err)
		}
	}
	if cfg.Globals.WlShell {
		if _, err := s.shell.AdvertiseWlShell(); err != nil {
			return nil, fmt.Errorf("failed to advertise wl_shell: %w", err)
		}
	}

	if cfg.Globals.Viewporter {
		if s.viewporter, err = viewporter.New(s.display); err != nil {
			return nil, fmt.Errorf("failed to advertise wp_viewporter: %w", err)
		}
	}

	if cfg.Globals.Foreign {
		if s.foreign, err = foreign.New(s.display); err != nil {
			return nil, fmt.Errorf("failed to advertise xdg-foreign: %w", err)
		}
		s.foreign.OnParentChanged(func(pc foreign.ParentChange) {
			switch {
			case pc.Parent != nil && pc.Child != nil:
				logger.Info("Foreign parent set", "parent", pc.Parent.String(), "child", pc.Child.String())
			case pc.Parent != nil:
				logger.Info("Foreign parent lost its child", "parent", pc.Parent.String())
			default:
				logger.Info("Foreign child lost its parent", "child", pc.Child.String())
			}
		})
	}

	s.display.OnClientCreated(func(c *server.Client) {
		cred, _ := c.Credentials()
		logger.Info("Client connected", "client", c.ID(), "pid", cred.PID)
		c.OnDestroy(func(c *server.Client) {
			logger.Info("Client disconnected", "client", c.ID())
		})
	})

	return s, nil
}

func (s *Server) shellHandlers() shell.Handlers {
	return shell.Handlers{
		Mapped: func(ss *shell.ShellSurface) {
			logger.Debug("Surface mapped", "surface", ss.String(), "title", ss.Title())
		},
		Unmapped: func(ss *shell.ShellSurface) {
			logger.Debug("Surface unmapped", "surface", ss.String())
		},
		TitleChanged: func(ss *shell.ShellSurface) {
			logger.Debug("Title changed", "surface", ss.String(), "title", ss.Title(), "app_id", ss.AppID())
		},
		PingTimeout: func(c *server.Client, serial uint32) {
			logger.Warn("Client is not responding", "client", c.ID(), "serial", serial)
		},
	}
}

func (s *Server) Display() *server.Display {
	return s.display
}

func (s *Server) Shell() *shell.Shell {
	return s.shell
}

// Foreign is nil when xdg-foreign is disabled.
func (s *Server) Foreign() *foreign.Foreign {
	return s.foreign
}

// SocketName is the WAYLAND_DISPLAY value clients should use. It is empty
// before Start.
func (s *Server) SocketName() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Name()
}

// ControlPath is the admin socket path. It is empty before Start.
func (s *Server) ControlPath() string {
	if s.control == nil {
		return ""
	}
	return s.control.Path()
}

// Start binds the sockets and runs the display loop until ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	var err error
	if s.config.Server.Socket != "" {
		s.listener, err = wire.Listen(s.config.Server.Socket)
	} else {
		s.listener, err = wire.ListenAuto()
	}
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	controlPath := s.config.Server.ControlSocket
	if controlPath == "" {
		if controlPath, err = control.DefaultSocketPath(); err != nil {
			s.listener.Close()
			return err
		}
	}
	handler := control.NewDisplayHandler(s.display, s.listener.Name(),
		control.WithShell(s.shell), control.WithForeign(s.foreign))
	s.control = control.NewServer(controlPath, handler)
	if err := s.control.Start(); err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.start = time.Now()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.display.Run(ctx); err != nil {
			logger.Errorf("Display loop error: %v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.display.Serve(ctx, s.listener); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Socket error: %v", err)
		}
	}()
	<-s.display.Started()
	s.display.Post(func() { s.scheduleFrame(ctx) })

	logger.Info("Compositor running", "socket", s.listener.Name(), "control", controlPath)
	return nil
}

// scheduleFrame fires frame callbacks every frameInterval while running.
func (s *Server) scheduleFrame(ctx context.Context) {
	s.display.AfterFunc(frameInterval, func() {
		if ctx.Err() != nil {
			return
		}
		s.comp.FrameDone(uint32(time.Since(s.start).Milliseconds()))
		s.scheduleFrame(ctx)
	})
}

// Stop shuts down the sockets and destroys every client.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.control != nil {
		s.control.Stop()
	}
	logger.Info("Compositor stopped")
}
