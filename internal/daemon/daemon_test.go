package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wlrt/client"
	"github.com/bnema/wlrt/internal/config"
	"github.com/bnema/wlrt/internal/control"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	t.Setenv("WAYLAND_DISPLAY", "")

	cfg := config.DefaultConfig
	cfg.Server.Socket = "wayland-test"
	cfg.Server.ControlSocket = filepath.Join(dir, "control.sock")
	return &cfg
}

func start(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func globals(t *testing.T, name string) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := client.Connect(name)
	require.NoError(t, err)
	defer d.Close()

	reg, err := d.GetRegistry()
	require.NoError(t, err)
	require.NoError(t, d.Roundtrip(ctx))

	var out []string
	for _, g := range reg.Globals() {
		out = append(out, g.Interface)
	}
	return out
}

func TestAdvertisesConfiguredGlobals(t *testing.T) {
	s := start(t, testConfig(t))
	assert.Equal(t, "wayland-test", s.SocketName())

	got := globals(t, s.SocketName())
	for _, want := range []string{
		"wl_compositor", "wl_shm", "wl_seat", "xdg_wm_base", "wl_shell",
		"wp_viewporter", "zxdg_exporter_v2", "zxdg_importer_v2",
	} {
		assert.Contains(t, got, want)
	}
}

func TestDisabledGlobalsAreNotAdvertised(t *testing.T) {
	cfg := testConfig(t)
	cfg.Globals.WlShell = false
	cfg.Globals.Foreign = false
	s := start(t, cfg)
	assert.Nil(t, s.Foreign())

	got := globals(t, s.SocketName())
	assert.Contains(t, got, "xdg_wm_base")
	assert.NotContains(t, got, "wl_shell")
	assert.NotContains(t, got, "zxdg_exporter_v2")
}

func TestControlSocketReportsClients(t *testing.T) {
	cfg := testConfig(t)
	s := start(t, cfg)
	assert.Equal(t, cfg.Server.ControlSocket, s.ControlPath())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := client.Connect(s.SocketName())
	require.NoError(t, err)
	defer d.Close()
	_, err = d.GetRegistry()
	require.NoError(t, err)
	require.NoError(t, d.Roundtrip(ctx))

	st, err := control.NewClient(s.ControlPath()).Status()
	require.NoError(t, err)
	assert.Equal(t, "wayland-test", st.Socket)
	require.Len(t, st.Clients, 1)
	assert.Positive(t, st.Clients[0].PID, "credentials come from the socket")
}

func TestStopIsIdempotent(t *testing.T) {
	s, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}
