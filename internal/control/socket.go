package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bnema/wlrt/internal/logger"
)

// Handler answers control requests.
type Handler interface {
	Status(ctx context.Context) (*Status, error)
	Disconnect(ctx context.Context, id uint32) error
}

// requestTimeout bounds how long a request may wait on the display loop.
const requestTimeout = 5 * time.Second

// Server serves the control socket.
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	path     string
	handler  Handler
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	running  bool
}

func NewServer(path string, handler Handler) *Server {
	return &Server{path: path, handler: handler}
}

func (s *Server) Path() string {
	return s.path
}

// Start listens on the socket path and serves connections in the
// background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to create socket listener: %w", err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptConnections(ctx)

	logger.Infof("Control socket listening at %s", s.path)
	return nil
}

// Stop closes the listener, waits for open connections and removes the
// socket file.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.listener.Close()
	s.wg.Wait()

	os.RemoveAll(s.path)
	logger.Debug("Control socket stopped")
}

func (s *Server) acceptConnections(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Errorf("Failed to accept control connection: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the read below on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		msg, err := readFrame(conn)
		if err != nil {
			logger.Debugf("Control connection closed: %v", err)
			return
		}
		if err := writeFrame(conn, s.handleMessage(ctx, msg)); err != nil {
			logger.Errorf("Failed to send control response: %v", err)
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, msg *structpb.Struct) *structpb.Struct {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch typ := messageType(msg); typ {
	case TypeStatus:
		st, err := s.handler.Status(ctx)
		if err != nil {
			return newErrorMessage(err)
		}
		resp, err := encodeStatus(st)
		if err != nil {
			return newErrorMessage(err)
		}
		return resp

	case TypeDisconnect:
		id := uint32(num(msg.AsMap()["client"]))
		if err := s.handler.Disconnect(ctx, id); err != nil {
			return newErrorMessage(err)
		}
		resp, _ := newMessage(TypeOK, nil)
		return resp

	default:
		return newErrorMessage(fmt.Errorf("%w: %q", ErrUnknownType, typ))
	}
}

// DefaultSocketPath is $XDG_RUNTIME_DIR/wlrt-control.sock, or a per-user
// socket in /tmp without a runtime dir.
func DefaultSocketPath() (string, error) {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "wlrt-control.sock"), nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return filepath.Join("/tmp", fmt.Sprintf("wlrt-%s.sock", u.Username)), nil
}
