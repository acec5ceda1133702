package wire

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	wrap := func(fd int, name string) *Conn {
		f := os.NewFile(uintptr(fd), name)
		defer f.Close()
		c, err := net.FileConn(f)
		require.NoError(t, err)
		return NewConn(c.(*net.UnixConn))
	}

	a, b := wrap(fds[0], "a"), wrap(fds[1], "b")
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestEncodeDecodeArguments(t *testing.T) {
	msg, err := Encode(7, 3, uint32(42), int32(-5), FixedFromFloat(1.5), "xdg_wm_base", []byte{1, 2, 3}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint32(7), msg.Object)
	assert.Equal(t, uint16(3), msg.Opcode)
	assert.Zero(t, len(msg.Body)%4, "body must stay 32-bit aligned")

	args := msg.Args()
	assert.Equal(t, uint32(42), args.Uint())
	assert.Equal(t, int32(-5), args.Int())
	assert.Equal(t, 1.5, args.Fixed().Float())
	assert.Equal(t, "xdg_wm_base", args.String())
	assert.Equal(t, []byte{1, 2, 3}, args.Array())
	assert.Equal(t, uint32(0), args.Object())
	require.NoError(t, args.Err())
	assert.Zero(t, args.Remaining())

	// Reading past the end is sticky.
	assert.Zero(t, args.Uint())
	assert.ErrorIs(t, args.Err(), ErrMalformed)
}

func TestEncodeRejectsUnknownTypes(t *testing.T) {
	_, err := Encode(1, 0, 3.14)
	assert.ErrorIs(t, err, ErrBadArgType)
}

func TestFixed(t *testing.T) {
	assert.Equal(t, 10, FixedFromInt(10).Int())
	assert.True(t, FixedFromInt(-3).IsInt())
	assert.False(t, FixedFromFloat(0.5).IsInt())
	assert.Equal(t, -1, FixedFromFloat(-0.5).Int())
}

func TestValidate(t *testing.T) {
	body := func(args ...any) []byte {
		m, err := Encode(1, 0, args...)
		require.NoError(t, err)
		return m.Body
	}

	tests := []struct {
		name      string
		signature string
		body      []byte
		fds       int
		wantErr   error
	}{
		{"registry bind", "usun", body(uint32(1), "wl_compositor", uint32(4), uint32(3)), 0, nil},
		{"short body", "uu", body(uint32(1)), 0, ErrMalformed},
		{"trailing bytes", "u", body(uint32(1), uint32(2)), 0, ErrMalformed},
		{"null new_id", "n", body(uint32(0)), 0, ErrMalformed},
		{"null object", "o", body(nil), 0, ErrMalformed},
		{"nullable object", "?o", body(nil), 0, nil},
		{"fd present", "hi", body(int32(4096)), 1, nil},
		{"fd missing", "hi", body(int32(4096)), 0, ErrMissingFD},
		{"since prefix", "2u", body(uint32(9)), 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.signature, tt.body, tt.fds)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConnRoundTripWithDescriptor(t *testing.T) {
	server, client := socketPair(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	msg, err := NewBuilder(3, 0).FD(int(w.Fd())).Int(4096).Build()
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(msg))

	second, err := Encode(1, 1, uint32(2))
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(second))

	got, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.Object)
	assert.Equal(t, 1, got.AvailableFDs())
	require.NoError(t, Validate("hi", got.Body, got.AvailableFDs()))

	args := got.Args()
	fd := args.FD()
	assert.Equal(t, int32(4096), args.Int())
	require.NoError(t, args.Err())

	// The received descriptor is a duplicate of the pipe's write end.
	dup := os.NewFile(uintptr(fd), "dup")
	_, err = dup.Write([]byte("ok"))
	require.NoError(t, err)
	dup.Close()
	buf := make([]byte, 2)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf))

	got, err = server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), got.Opcode)
	assert.Equal(t, uint32(2), got.Args().Uint())
}

func TestReadAfterPeerClose(t *testing.T) {
	server, client := socketPair(t)
	require.NoError(t, client.Close())

	_, err := server.ReadMessage()
	assert.Error(t, err)
}

func TestSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	t.Setenv("WAYLAND_DISPLAY", "")
	path, err := SocketPath("")
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/wayland-0", path)

	t.Setenv("WAYLAND_DISPLAY", "wayland-3")
	path, err = SocketPath("")
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/wayland-3", path)

	path, err = SocketPath("/tmp/custom")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom", path)

	t.Setenv("XDG_RUNTIME_DIR", "")
	_, err = SocketPath("wayland-1")
	assert.ErrorIs(t, err, ErrNoRuntimeDir)
}

func TestListenLocksSocket(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	l, err := Listen("wayland-test")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "wayland-test"), l.Path())
	assert.Equal(t, "wayland-test", l.Name())

	_, err = Listen("wayland-test")
	assert.ErrorIs(t, err, ErrSocketInUse)

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	c, err := Dial("wayland-test")
	require.NoError(t, err)
	defer c.Close()

	srv := <-accepted
	require.NotNil(t, srv)
	defer srv.Close()

	cred, err := srv.Credentials()
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), cred.PID)

	require.NoError(t, l.Close())

	l, err = Listen("wayland-test")
	require.NoError(t, err)
	require.NoError(t, l.Close())
}
