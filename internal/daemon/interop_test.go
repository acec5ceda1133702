package daemon

import (
	"testing"
	"time"

	wl "github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wlRoundtrip blocks until the server has answered a wl_display.sync.
func wlRoundtrip(t *testing.T, display *wl.Display) {
	t.Helper()
	cb, err := display.Sync()
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		done := false
		cb.SetDoneHandler(func(wl.CallbackDoneEvent) { done = true })
		for !done {
			if err := display.Context().Dispatch(); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("roundtrip timed out")
	}
}

// An independent client implementation must see the same globals and be
// able to create objects on them.
func TestThirdPartyClient(t *testing.T) {
	s := start(t, testConfig(t))

	t.Setenv("WAYLAND_DISPLAY", s.SocketName())
	display, err := wl.Connect("")
	require.NoError(t, err)
	defer display.Context().Close()

	registry, err := display.GetRegistry()
	require.NoError(t, err)

	globals := map[string]wl.RegistryGlobalEvent{}
	registry.SetGlobalHandler(func(e wl.RegistryGlobalEvent) {
		globals[e.Interface] = e
	})
	wlRoundtrip(t, display)

	require.Contains(t, globals, wl.CompositorInterfaceName)
	assert.Contains(t, globals, wl.ShmInterfaceName)
	assert.Contains(t, globals, wl.SeatInterfaceName)

	g := globals[wl.CompositorInterfaceName]
	comp := wl.NewCompositor(display.Context())
	require.NoError(t, registry.Bind(g.Name, g.Interface, g.Version, comp))
	surface, err := comp.CreateSurface()
	require.NoError(t, err)
	require.NoError(t, surface.Commit())
	wlRoundtrip(t, display)

	var objects int
	require.NoError(t, s.Display().Invoke(t.Context(), func() {
		for _, c := range s.Display().Clients() {
			objects += len(c.Resources())
		}
	}))
	assert.GreaterOrEqual(t, objects, 4, "display, registry, compositor and surface")
}
