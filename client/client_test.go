package client_test

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/wlrt/client"
	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

var testInterface = &server.Interface{
	Name:    "wlrt_test",
	Version: 1,
	Requests: []server.Method{
		{Name: "ping", Signature: "u"},
	},
	Events: []server.Method{
		{Name: "fd", Signature: "h"},
		{Name: "value", Signature: "u"},
	},
}

// connPair returns a client Display and the raw server end of its socket.
func connPair(t *testing.T) (*client.Display, *wire.Conn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	wrap := func(fd int, name string) *wire.Conn {
		f := os.NewFile(uintptr(fd), name)
		defer f.Close()
		c, err := net.FileConn(f)
		require.NoError(t, err)
		return wire.NewConn(c.(*net.UnixConn))
	}

	d := client.NewDisplay(wrap(fds[0], "client"))
	peer := wrap(fds[1], "server")
	t.Cleanup(func() {
		d.Close()
		peer.Close()
	})
	return d, peer
}

func send(t *testing.T, peer *wire.Conn, object uint32, opcode uint16, args ...any) {
	t.Helper()
	msg, err := wire.Encode(object, opcode, args...)
	require.NoError(t, err)
	require.NoError(t, peer.WriteMessage(msg))
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRequestEncoding(t *testing.T) {
	d, peer := connPair(t)
	p, err := d.NewProxy(testInterface, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), p.ID(), "ids start after wl_display")

	require.NoError(t, p.Request(0, uint32(42)))
	msg, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, p.ID(), msg.Object)
	assert.Equal(t, uint32(42), msg.Args().Uint())

	assert.ErrorIs(t, p.Request(5), client.ErrInvalidRequest)

	p.Destroy()
	assert.ErrorIs(t, p.Request(0, uint32(1)), client.ErrProxyDestroyed)
}

func TestEventsDispatchInWireOrder(t *testing.T) {
	d, peer := connPair(t)
	var got []uint32
	p, err := d.NewProxy(testInterface, 1, func(ev *client.Event) error {
		assert.Equal(t, "value", ev.Name())
		got = append(got, ev.Args().Uint())
		return nil
	})
	require.NoError(t, err)

	for _, v := range []uint32{3, 1, 2} {
		send(t, peer, p.ID(), 1, v)
	}
	ctx := testContext(t)
	for range 3 {
		require.NoError(t, d.Dispatch(ctx))
	}
	assert.Equal(t, []uint32{3, 1, 2}, got)
}

func TestDeleteIDReusesIDs(t *testing.T) {
	d, peer := connPair(t)
	first, err := d.NewProxy(testInterface, 1, nil)
	require.NoError(t, err)
	seen := 0
	second, err := d.NewProxy(testInterface, 1, func(*client.Event) error {
		seen++
		return nil
	})
	require.NoError(t, err)

	first.Destroy()
	third, err := d.NewProxy(testInterface, 1, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), third.ID(), "id is reserved until delete_id")

	send(t, peer, 1, 1, first.ID())
	// The reader handles delete_id before any later event.
	send(t, peer, second.ID(), 1, uint32(0))
	require.NoError(t, d.Dispatch(testContext(t)))
	require.Equal(t, 1, seen)

	reused, err := d.NewProxy(testInterface, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), reused.ID())
}

func TestZombieConsumesDescriptors(t *testing.T) {
	d, peer := connPair(t)
	zombie, err := d.NewProxy(testInterface, 1, nil)
	require.NoError(t, err)

	var got int
	live, err := d.NewProxy(testInterface, 1, func(ev *client.Event) error {
		got = ev.Args().FD()
		return nil
	})
	require.NoError(t, err)
	zombie.Destroy()

	r1, w1, err := os.Pipe()
	require.NoError(t, err)
	defer r1.Close()
	defer w1.Close()
	r2, w2, err := os.Pipe()
	require.NoError(t, err)
	defer r2.Close()
	defer w2.Close()

	send(t, peer, zombie.ID(), 0, wire.FD(w1.Fd()))
	send(t, peer, live.ID(), 0, wire.FD(w2.Fd()))
	require.NoError(t, d.Dispatch(testContext(t)))

	// The live proxy received the second pipe, not the zombie's.
	f := os.NewFile(uintptr(got), "received")
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	f.Close()
	buf := make([]byte, 1)
	_, err = r2.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf))
}

func TestProtocolErrorIsFatal(t *testing.T) {
	d, peer := connPair(t)
	p, err := d.NewProxy(testInterface, 1, nil)
	require.NoError(t, err)

	send(t, peer, 1, 0, p, uint32(3), "bad value")
	err = d.Dispatch(testContext(t))

	var perr *server.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, p.ID(), perr.Object)
	assert.Equal(t, "wlrt_test", perr.Interface)
	assert.Equal(t, uint32(3), perr.Code)
	assert.Equal(t, "bad value", perr.Message)

	<-d.Done()
	assert.ErrorAs(t, p.Request(0, uint32(1)), &perr)
}

func TestDisplayErrorKind(t *testing.T) {
	d, peer := connPair(t)
	send(t, peer, 1, 0, d.Proxy(), server.DisplayErrorInvalidMethod, "invalid method 9")

	err := d.Dispatch(testContext(t))
	assert.ErrorIs(t, err, server.ErrInvalidMethod)
}

func TestPeerHangup(t *testing.T) {
	d, peer := connPair(t)
	require.NoError(t, peer.Close())

	err := d.Dispatch(testContext(t))
	assert.ErrorIs(t, err, client.ErrDisconnected)
	_, err = d.DispatchPending()
	assert.ErrorIs(t, err, client.ErrDisconnected)
}

func TestUnknownEventOpcode(t *testing.T) {
	d, peer := connPair(t)
	p, err := d.NewProxy(testInterface, 1, nil)
	require.NoError(t, err)

	send(t, peer, p.ID(), 9)
	assert.ErrorIs(t, d.Dispatch(testContext(t)), client.ErrInvalidEvent)
}

// startServer runs a display with wl_compositor on a socket in a private
// runtime dir.
func startServer(t *testing.T) (*server.Display, string) {
	t.Helper()
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("WAYLAND_DISPLAY", "")

	ln, err := wire.Listen("wayland-test")
	require.NoError(t, err)

	d := server.NewDisplay()
	_, err = compositor.New(d)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() {
		d.Run(ctx)
		done <- struct{}{}
	}()
	<-d.Started()
	go func() {
		d.Serve(ctx, ln)
		done <- struct{}{}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})
	return d, "wayland-test"
}

func TestRegistryAndBindOverSocket(t *testing.T) {
	srv, name := startServer(t)
	ctx := testContext(t)

	d, err := client.Connect(name)
	require.NoError(t, err)
	defer d.Close()

	reg, err := d.GetRegistry()
	require.NoError(t, err)
	var announced []string
	reg.OnGlobal = func(g client.Global) { announced = append(announced, g.Interface) }
	require.NoError(t, d.Roundtrip(ctx))

	assert.Contains(t, announced, "wl_compositor")
	g, ok := reg.Find("wl_compositor")
	require.True(t, ok)
	assert.Equal(t, uint32(6), g.Version)

	comp, err := reg.Bind(g, compositor.CompositorInterface, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), comp.Version())

	surface, err := comp.NewChild(compositor.SurfaceInterface, nil)
	require.NoError(t, err)
	require.NoError(t, comp.Request(0, surface))
	require.NoError(t, d.Roundtrip(ctx))

	var (
		nclients int
		exists   bool
	)
	require.NoError(t, srv.Invoke(ctx, func() {
		clients := srv.Clients()
		nclients = len(clients)
		if nclients == 1 {
			r, ok := clients[0].Resource(surface.ID())
			exists = ok && r.Interface() == compositor.SurfaceInterface
		}
	}))
	assert.Equal(t, 1, nclients)
	assert.True(t, exists)

	// delete_id arrives before the sync completes, so the id is free again.
	old := surface.ID()
	require.NoError(t, surface.RequestDestroy(0))
	require.NoError(t, d.Roundtrip(ctx))
	next, err := comp.NewChild(compositor.SurfaceInterface, nil)
	require.NoError(t, err)
	assert.Equal(t, old, next.ID())
}

func TestBindErrorOverSocket(t *testing.T) {
	_, name := startServer(t)
	ctx := testContext(t)

	d, err := client.Connect(name)
	require.NoError(t, err)
	defer d.Close()

	reg, err := d.GetRegistry()
	require.NoError(t, err)
	require.NoError(t, d.Roundtrip(ctx))

	g, ok := reg.Find("wl_compositor")
	require.True(t, ok)
	p, err := d.NewProxy(compositor.CompositorInterface, 99, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Proxy().Request(0, g.Name, g.Interface, uint32(99), p))

	err = d.Roundtrip(ctx)
	var perr *server.ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "wl_registry", perr.Interface)
	assert.Equal(t, reg.Proxy().ID(), perr.Object)
}

func TestBindInterfaceMissing(t *testing.T) {
	_, name := startServer(t)
	d, err := client.Connect(name)
	require.NoError(t, err)
	defer d.Close()

	reg, err := d.GetRegistry()
	require.NoError(t, err)
	require.NoError(t, d.Roundtrip(testContext(t)))

	_, err = reg.BindInterface(compositor.SeatInterface, 1, nil)
	assert.ErrorIs(t, err, client.ErrGlobalNotFound)
}
