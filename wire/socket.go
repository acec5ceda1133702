package wire

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

var (
	ErrNoRuntimeDir = errors.New("XDG_RUNTIME_DIR not set")
	ErrSocketInUse  = errors.New("socket in use by another server")
)

// DefaultDisplay is the socket name used when WAYLAND_DISPLAY is unset.
const DefaultDisplay = "wayland-0"

// SocketPath resolves a display name to a socket path. An empty name
// falls back to $WAYLAND_DISPLAY, then to DefaultDisplay. Relative names
// are resolved against $XDG_RUNTIME_DIR.
func SocketPath(name string) (string, error) {
	if name == "" {
		name = os.Getenv("WAYLAND_DISPLAY")
	}
	if name == "" {
		name = DefaultDisplay
	}
	if filepath.IsAbs(name) {
		return name, nil
	}

	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(dir, name), nil
}

// Listener accepts Wayland client connections on a named socket guarded
// by a lock file, the way libwayland does it.
type Listener struct {
	ln       *net.UnixListener
	path     string
	lockPath string
	lock     *os.File
}

// Listen binds the socket for name. A live server already holding the
// lock makes it fail with ErrSocketInUse; a stale socket file left by a
// dead server is removed.
func Listen(name string) (*Listener, error) {
	path, err := SocketPath(name)
	if err != nil {
		return nil, err
	}

	lockPath := path + ".lock"
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0660)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return nil, fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		lock.Close()
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("failed to create socket listener: %w", err)
	}

	return &Listener{ln: ln, path: path, lockPath: lockPath, lock: lock}, nil
}

// ListenAuto binds the first free wayland-N socket, N in 1..32.
func ListenAuto() (*Listener, error) {
	for i := 1; i <= 32; i++ {
		l, err := Listen("wayland-" + strconv.Itoa(i))
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrSocketInUse) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no free wayland-N socket", ErrSocketInUse)
}

// Accept waits for the next client.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

// Path is the filesystem path of the socket.
func (l *Listener) Path() string {
	return l.path
}

// Name is the value clients should put in WAYLAND_DISPLAY.
func (l *Listener) Name() string {
	return filepath.Base(l.path)
}

// Close stops listening and releases the socket and lock file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	os.Remove(l.lockPath)
	l.lock.Close()
	return err
}

// Dial connects to a display. WAYLAND_SOCKET, when set, names an already
// connected descriptor and takes precedence.
func Dial(name string) (*Conn, error) {
	if v, ok := os.LookupEnv("WAYLAND_SOCKET"); ok && name == "" {
		fd, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse WAYLAND_SOCKET: %w", err)
		}
		os.Unsetenv("WAYLAND_SOCKET")
		f := os.NewFile(uintptr(fd), "WAYLAND_SOCKET")
		defer f.Close()

		c, err := net.FileConn(f)
		if err != nil {
			return nil, fmt.Errorf("open WAYLAND_SOCKET connection: %w", err)
		}
		uc, ok := c.(*net.UnixConn)
		if !ok {
			c.Close()
			return nil, fmt.Errorf("WAYLAND_SOCKET is not a unix socket")
		}
		return NewConn(uc), nil
	}

	path, err := SocketPath(name)
	if err != nil {
		return nil, err
	}
	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wayland: %w", err)
	}
	return NewConn(c), nil
}
