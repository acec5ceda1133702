package shell_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/internal/clock"
	"github.com/bnema/wlrt/internal/wltest"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/shell"
	"github.com/bnema/wlrt/wire"
)

type fixture struct {
	d     *server.Display
	clk   *clock.FakeClock
	sh    *shell.Shell
	c     *wltest.Client
	wlc   uint32
	shm   uint32
	base  uint32
	wlsh  uint32
	seat  uint32
	calls calls
}

type calls struct {
	mapped, unmapped, destroyed []*shell.ShellSurface
	timeouts                    []uint32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clk: clock.Fake(time.Unix(0, 0))}
	f.d = server.NewDisplay(server.WithClock(f.clk))
	comp, err := compositor.New(f.d)
	require.NoError(t, err)
	_, err = compositor.NewSeat(f.d, "seat0")
	require.NoError(t, err)

	f.sh = shell.New(f.d, comp, shell.WithHandlers(shell.Handlers{
		Mapped:      func(ss *shell.ShellSurface) { f.calls.mapped = append(f.calls.mapped, ss) },
		Unmapped:    func(ss *shell.ShellSurface) { f.calls.unmapped = append(f.calls.unmapped, ss) },
		Destroyed:   func(ss *shell.ShellSurface) { f.calls.destroyed = append(f.calls.destroyed, ss) },
		PingTimeout: func(_ *server.Client, serial uint32) { f.calls.timeouts = append(f.calls.timeouts, serial) },
	}))
	_, err = f.sh.AdvertiseXDG()
	require.NoError(t, err)
	_, err = f.sh.AdvertiseWlShell()
	require.NoError(t, err)

	f.c = wltest.NewClient(t, f.d)
	f.wlc = f.c.Bind("wl_compositor", 6)
	f.shm = f.c.Bind("wl_shm", 2)
	f.base = f.c.Bind("xdg_wm_base", 5)
	f.wlsh = f.c.Bind("wl_shell", 1)
	f.seat = f.c.Bind("wl_seat", 7)
	return f
}

func (f *fixture) surface(t *testing.T) (uint32, *compositor.Surface) {
	t.Helper()
	id := f.c.NewID()
	f.c.MustRequest(f.wlc, 0, id)
	s, ok := compositor.SurfaceFromResource(f.c.Object(id))
	require.True(t, ok)
	return id, s
}

func (f *fixture) buffer(t *testing.T, w, h int32) uint32 {
	t.Helper()
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	pool := f.c.NewID()
	f.c.MustRequest(f.shm, 0, pool, wire.FD(fd), w*h*4)
	buf := f.c.NewID()
	f.c.MustRequest(pool, 0, buf, int32(0), w, h, w*4, compositor.FormatARGB8888)
	return buf
}

type xdgWindow struct {
	surface uint32
	xdg     uint32
	role    uint32
	ss      *shell.ShellSurface
}

func (f *fixture) xdgSurface(t *testing.T) xdgWindow {
	t.Helper()
	surface, s := f.surface(t)
	xdg := f.c.NewID()
	f.c.MustRequest(f.base, 2, xdg, surface)
	ss, ok := f.sh.ForSurface(s)
	require.True(t, ok)
	return xdgWindow{surface: surface, xdg: xdg, ss: ss}
}

func (f *fixture) toplevel(t *testing.T) xdgWindow {
	t.Helper()
	w := f.xdgSurface(t)
	w.role = f.c.NewID()
	f.c.MustRequest(w.xdg, 1, w.role)
	return w
}

// mapped creates a toplevel and takes it through the initial configure.
func (f *fixture) mapped(t *testing.T) xdgWindow {
	t.Helper()
	w := f.toplevel(t)
	f.c.MustRequest(w.surface, 6)
	cfg := f.c.T.Last(w.xdg, 0)
	require.NotNil(t, cfg, "initial configure")
	f.c.MustRequest(w.xdg, 4, cfg.Args().Uint())
	f.c.MustRequest(w.surface, 1, f.buffer(t, 200, 100), int32(0), int32(0))
	f.c.MustRequest(w.surface, 6)
	require.True(t, w.ss.Mapped())
	return w
}

func (f *fixture) positioner(t *testing.T, w, h int32, anchor shell.Positioner) uint32 {
	t.Helper()
	id := f.c.NewID()
	f.c.MustRequest(f.base, 1, id)
	f.c.MustRequest(id, 1, w, h)
	r := anchor.AnchorRect
	f.c.MustRequest(id, 2, r.X, r.Y, r.W, r.H)
	f.c.MustRequest(id, 3, anchor.Anchor)
	f.c.MustRequest(id, 4, anchor.Gravity)
	return id
}

func (f *fixture) popup(t *testing.T, parent xdgWindow) xdgWindow {
	t.Helper()
	w := f.xdgSurface(t)
	pos := f.positioner(t, 50, 20, shell.Positioner{AnchorRect: compositor.Rect{W: 1, H: 1}})
	w.role = f.c.NewID()
	f.c.MustRequest(w.xdg, 2, w.role, parent.xdg, pos)
	return w
}

func TestInitialConfigureAndMap(t *testing.T) {
	f := newFixture(t)
	w := f.toplevel(t)
	assert.Equal(t, shell.RoleToplevel, w.ss.Role())
	assert.Equal(t, "xdg_toplevel", w.ss.Surface().Role())

	caps := f.c.T.Last(w.role, 3)
	require.NotNil(t, caps, "wm_capabilities")

	f.c.MustRequest(w.surface, 6)
	cfg := f.c.T.Last(w.role, 0)
	require.NotNil(t, cfg)
	a := cfg.Args()
	assert.Equal(t, int32(0), a.Int())
	assert.Equal(t, int32(0), a.Int())
	assert.Empty(t, a.Array())

	serial := f.c.T.Last(w.xdg, 0).Args().Uint()
	require.Len(t, w.ss.PendingConfigures(), 1)
	assert.False(t, w.ss.Mapped())

	f.c.MustRequest(w.xdg, 4, serial)
	f.c.MustRequest(w.surface, 1, f.buffer(t, 200, 100), int32(0), int32(0))
	f.c.MustRequest(w.surface, 6)

	assert.True(t, w.ss.Mapped())
	assert.Equal(t, []*shell.ShellSurface{w.ss}, f.calls.mapped)
	assert.Empty(t, w.ss.PendingConfigures())
	assert.Equal(t, serial, w.ss.Current().Serial)
}

func TestBufferBeforeConfigureIsAnError(t *testing.T) {
	f := newFixture(t)
	w := f.toplevel(t)

	f.c.MustRequest(w.surface, 1, f.buffer(t, 20, 20), int32(0), int32(0))
	err := f.c.Request(w.surface, 6)
	assert.ErrorIs(t, err, shell.ErrUnconfiguredBuffer)

	errs := f.c.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, w.xdg, errs[0].Object)
	assert.Equal(t, shell.XdgSurfaceErrorUnconfiguredBuffer, errs[0].Code)
}

func TestCommitWithoutRole(t *testing.T) {
	f := newFixture(t)
	w := f.xdgSurface(t)

	err := f.c.Request(w.surface, 6)
	assert.ErrorIs(t, err, shell.ErrNotConstructed)
}

func TestGetXdgSurfaceWithBuffer(t *testing.T) {
	f := newFixture(t)
	surface, _ := f.surface(t)
	f.c.MustRequest(surface, 1, f.buffer(t, 10, 10), int32(0), int32(0))

	err := f.c.Request(f.base, 2, f.c.NewID(), surface)
	assert.ErrorIs(t, err, shell.ErrInvalidSurfaceState)
}

func TestAckSkipsEarlierConfigures(t *testing.T) {
	f := newFixture(t)
	w := f.mapped(t)
	ss := w.ss

	s1, err := ss.Configure(shell.NewStates(shell.StateActivated), compositor.Size{W: 640, H: 480})
	require.NoError(t, err)
	s2, err := ss.Configure(shell.NewStates(shell.StateMaximized, shell.StateActivated), compositor.Size{W: 800, H: 600})
	require.NoError(t, err)
	s3, err := ss.Configure(shell.NewStates(), compositor.Size{W: 320, H: 240})
	require.NoError(t, err)
	require.Len(t, ss.PendingConfigures(), 3)
	assert.Less(t, s1, s2)

	f.c.MustRequest(w.xdg, 4, s2)
	pending := ss.PendingConfigures()
	require.Len(t, pending, 1)
	assert.Equal(t, s3, pending[0].Serial)

	assert.Equal(t, compositor.Size{}, ss.Current().Size, "acked state waits for commit")
	f.c.MustRequest(w.surface, 6)
	assert.Equal(t, compositor.Size{W: 800, H: 600}, ss.Current().Size)
	assert.True(t, ss.States().Has(shell.StateMaximized))

	f.c.MustRequest(w.xdg, 4, s2)

	err = f.c.Request(w.xdg, 4, s3+1)
	assert.ErrorIs(t, err, shell.ErrInvalidSerial)
	assert.Equal(t, shell.XdgSurfaceErrorInvalidSerial, f.c.Errors()[0].Code)
}

func TestToplevelThenPopupKeepsRole(t *testing.T) {
	f := newFixture(t)
	parent := f.mapped(t)
	w := f.toplevel(t)

	pos := f.positioner(t, 10, 10, shell.Positioner{AnchorRect: compositor.Rect{W: 1, H: 1}})
	err := f.c.Request(w.xdg, 2, f.c.NewID(), parent.xdg, pos)
	assert.ErrorIs(t, err, shell.ErrRoleAlreadyAssigned)
	assert.Equal(t, shell.XdgSurfaceErrorAlreadyConstructed, f.c.Errors()[0].Code)
	assert.Equal(t, shell.RoleToplevel, w.ss.Role())
}

func TestDestroyXdgSurfaceBeforeRoleObject(t *testing.T) {
	f := newFixture(t)
	w := f.toplevel(t)

	err := f.c.Request(w.xdg, 0)
	assert.ErrorIs(t, err, shell.ErrDefunctRoleObject)
}

func TestGetToplevelAfterSurfaceDestroyed(t *testing.T) {
	f := newFixture(t)
	w := f.xdgSurface(t)
	surf := w.ss.Surface()

	f.c.MustRequest(w.surface, 0)
	assert.Nil(t, w.ss.Surface())
	_, tracked := f.sh.ForSurface(surf)
	assert.False(t, tracked)

	err := f.c.Request(w.xdg, 1, f.c.NewID())
	assert.ErrorIs(t, err, shell.ErrInvalidSurfaceState)
	errs := f.c.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, f.base, errs[0].Object)
	assert.Equal(t, shell.WmBaseErrorInvalidSurfaceState, errs[0].Code)
	assert.Equal(t, shell.RoleUnassigned, w.ss.Role())
}

func TestRoleObjectDestroyedInOrder(t *testing.T) {
	f := newFixture(t)
	w := f.mapped(t)

	f.c.MustRequest(w.role, 0)
	assert.Equal(t, shell.RoleDestroyed, w.ss.Role())
	assert.False(t, w.ss.Mapped())
	assert.Equal(t, []*shell.ShellSurface{w.ss}, f.calls.unmapped)
	assert.Equal(t, []*shell.ShellSurface{w.ss}, f.calls.destroyed)

	f.c.MustRequest(w.xdg, 0)
	f.c.MustRequest(w.surface, 0)
	assert.False(t, f.c.Closed())
	assert.Empty(t, f.sh.Surfaces())
}

func TestWmBaseDestroyWithSurfaces(t *testing.T) {
	f := newFixture(t)
	f.xdgSurface(t)

	err := f.c.Request(f.base, 0)
	assert.ErrorIs(t, err, shell.ErrDefunctRoleObject)
	assert.Equal(t, shell.WmBaseErrorDefunctSurfaces, f.c.Errors()[0].Code)
}

func TestUnmapOnNullBuffer(t *testing.T) {
	f := newFixture(t)
	w := f.mapped(t)
	f.c.T.Reset()

	f.c.MustRequest(w.surface, 1, nil, int32(0), int32(0))
	f.c.MustRequest(w.surface, 6)
	assert.False(t, w.ss.Mapped())
	assert.Len(t, f.calls.unmapped, 1)
	assert.Nil(t, f.c.T.Last(w.xdg, 0), "unmapping sends nothing")

	// The next commit starts over with a fresh initial configure.
	f.c.MustRequest(w.surface, 6)
	assert.NotNil(t, f.c.T.Last(w.xdg, 0))
}

func TestMaximizeWithoutHandlerConfigures(t *testing.T) {
	f := newFixture(t)
	w := f.mapped(t)

	f.c.MustRequest(w.role, 9)
	pending := w.ss.PendingConfigures()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].States.Has(shell.StateMaximized))

	states := f.c.T.Last(w.role, 0).Args()
	states.Int()
	states.Int()
	assert.Equal(t, shell.NewStates(shell.StateMaximized).Array(), states.Array())

	f.c.MustRequest(w.role, 10)
	pending = w.ss.PendingConfigures()
	require.Len(t, pending, 2)
	assert.False(t, pending[1].States.Has(shell.StateMaximized))
}

func TestSetParentLoop(t *testing.T) {
	f := newFixture(t)
	a := f.toplevel(t)
	b := f.toplevel(t)

	f.c.MustRequest(a.role, 1, b.role)
	assert.Equal(t, b.ss, a.ss.Parent())

	err := f.c.Request(b.role, 1, a.role)
	assert.ErrorIs(t, err, shell.ErrInvalidParent)
}

func TestInvalidResizeEdge(t *testing.T) {
	f := newFixture(t)
	w := f.toplevel(t)

	err := f.c.Request(w.role, 6, f.seat, uint32(1), uint32(3))
	assert.ErrorIs(t, err, shell.ErrInvalidInput)
	assert.Equal(t, shell.ToplevelErrorInvalidResizeEdge, f.c.Errors()[0].Code)
}

func TestMinSizeAboveMaxSize(t *testing.T) {
	f := newFixture(t)
	w := f.toplevel(t)

	f.c.MustRequest(w.role, 7, int32(100), int32(100))
	f.c.MustRequest(w.role, 8, int32(200), int32(50))
	err := f.c.Request(w.surface, 6)
	assert.ErrorIs(t, err, shell.ErrInvalidSize)
}

func TestCloseSendsEvent(t *testing.T) {
	f := newFixture(t)
	w := f.mapped(t)

	require.NoError(t, w.ss.Close())
	assert.NotNil(t, f.c.T.Last(w.role, 1))
}

func TestPopupConfigureFollowsPositioner(t *testing.T) {
	f := newFixture(t)
	parent := f.mapped(t)
	w := f.xdgSurface(t)

	pos := f.positioner(t, 100, 50, shell.Positioner{
		AnchorRect: compositor.Rect{X: 10, Y: 10, W: 20, H: 20},
		Anchor:     shell.EdgeBottomLeft,
		Gravity:    shell.EdgeBottomRight,
	})
	w.role = f.c.NewID()
	f.c.MustRequest(w.xdg, 2, w.role, parent.xdg, pos)
	assert.Equal(t, parent.ss, w.ss.Parent())
	assert.Equal(t, []*shell.ShellSurface{w.ss}, parent.ss.Popups())

	f.c.MustRequest(w.surface, 6)
	cfg := f.c.T.Last(w.role, 0)
	require.NotNil(t, cfg)
	a := cfg.Args()
	got := compositor.Rect{X: a.Int(), Y: a.Int(), W: a.Int(), H: a.Int()}
	assert.Equal(t, compositor.Rect{X: 10, Y: 30, W: 100, H: 50}, got)
}

func TestIncompletePositioner(t *testing.T) {
	f := newFixture(t)
	parent := f.mapped(t)
	w := f.xdgSurface(t)

	pos := f.c.NewID()
	f.c.MustRequest(f.base, 1, pos)
	f.c.MustRequest(pos, 1, int32(10), int32(10))

	err := f.c.Request(w.xdg, 2, f.c.NewID(), parent.xdg, pos)
	assert.ErrorIs(t, err, shell.ErrInvalidPositioner)
	assert.Equal(t, shell.WmBaseErrorInvalidPositioner, f.c.Errors()[0].Code)
}

func TestPopupRepositioned(t *testing.T) {
	f := newFixture(t)
	parent := f.mapped(t)
	w := f.popup(t, parent)
	f.c.MustRequest(w.surface, 6)

	pos := f.positioner(t, 30, 30, shell.Positioner{AnchorRect: compositor.Rect{X: 5, Y: 5, W: 1, H: 1}})
	f.c.MustRequest(w.role, 2, pos, uint32(42))

	repositioned := f.c.T.Last(w.role, 2)
	require.NotNil(t, repositioned)
	assert.Equal(t, uint32(42), repositioned.Args().Uint())
	assert.Len(t, w.ss.PendingConfigures(), 2)
}

func TestPopupDoneWhenParentDestroyed(t *testing.T) {
	f := newFixture(t)
	parent := f.mapped(t)
	p := f.popup(t, parent)
	child := f.popup(t, p)

	f.c.MustRequest(parent.role, 0)
	assert.NotNil(t, f.c.T.Last(p.role, 1), "popup_done")
	assert.NotNil(t, f.c.T.Last(child.role, 1), "popup_done")
	assert.Nil(t, p.ss.Parent())
	assert.Equal(t, p.ss, child.ss.Parent(), "links below the destroyed parent stay")
}

func TestDismissClosesChildrenFirst(t *testing.T) {
	f := newFixture(t)
	parent := f.mapped(t)
	p := f.popup(t, parent)
	child := f.popup(t, p)
	f.c.T.Reset()

	require.NoError(t, p.ss.Dismiss())
	require.Len(t, f.c.T.Messages, 2)
	assert.Equal(t, child.role, f.c.T.Messages[0].Object)
	assert.Equal(t, p.role, f.c.T.Messages[1].Object)
}

func TestNotTopmostPopup(t *testing.T) {
	f := newFixture(t)
	parent := f.mapped(t)
	p := f.popup(t, parent)
	f.popup(t, p)

	err := f.c.Request(p.role, 0)
	assert.ErrorIs(t, err, shell.ErrNotTopmostPopup)
	assert.Equal(t, shell.WmBaseErrorNotTheTopmostPopup, f.c.Errors()[0].Code)
}

func TestPopupGrabAfterCommit(t *testing.T) {
	f := newFixture(t)
	parent := f.mapped(t)
	p := f.popup(t, parent)
	f.c.MustRequest(p.surface, 6)

	err := f.c.Request(p.role, 1, f.seat, uint32(1))
	assert.ErrorIs(t, err, shell.ErrInvalidGrab)
}

func TestKeyboardFocusPolicy(t *testing.T) {
	f := newFixture(t)
	top := f.mapped(t)
	assert.True(t, top.ss.AcceptsKeyboardFocus())

	plain := f.popup(t, top)
	assert.False(t, plain.ss.AcceptsKeyboardFocus())

	grabbed := f.popup(t, top)
	f.c.MustRequest(grabbed.role, 1, f.seat, uint32(7))
	assert.True(t, grabbed.ss.AcceptsKeyboardFocus())
	g, ok := grabbed.ss.Grab()
	require.True(t, ok)
	assert.Equal(t, uint32(7), g.Serial)

	parentSurface, parentS := f.surface(t)
	f.c.MustRequest(f.wlsh, 0, f.c.NewID(), parentSurface)

	transient, ts := f.surface(t)
	tss := f.c.NewID()
	f.c.MustRequest(f.wlsh, 0, tss, transient)
	f.c.MustRequest(tss, 4, parentSurface, int32(0), int32(0), shell.TransientInactive)
	tshell, _ := f.sh.ForSurface(ts)
	assert.Equal(t, shell.RoleToplevel, tshell.Role())
	assert.False(t, tshell.AcceptsKeyboardFocus())

	popup, ps := f.surface(t)
	pss := f.c.NewID()
	f.c.MustRequest(f.wlsh, 0, pss, popup)
	f.c.MustRequest(pss, 6, f.seat, uint32(3), parentSurface, int32(5), int32(5), uint32(0))
	pshell, _ := f.sh.ForSurface(ps)
	assert.Equal(t, shell.RolePopup, pshell.Role())
	assert.True(t, pshell.AcceptsKeyboardFocus())

	parentShell, _ := f.sh.ForSurface(parentS)
	assert.Equal(t, parentShell, pshell.Parent())
}

func TestWlShellSecondShellSurfaceFails(t *testing.T) {
	f := newFixture(t)
	surface, _ := f.surface(t)
	first := f.c.NewID()
	f.c.MustRequest(f.wlsh, 0, first, surface)

	err := f.c.Request(f.wlsh, 0, f.c.NewID(), surface)
	assert.ErrorIs(t, err, shell.ErrRoleAlreadyAssigned)
	assert.True(t, f.c.Closed())

	errs := f.c.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, f.wlsh, errs[0].Object)
	assert.Equal(t, shell.WlShellErrorRole, errs[0].Code)
}

func TestWlShellSurfaceOnXdgSurfaceFails(t *testing.T) {
	f := newFixture(t)
	w := f.xdgSurface(t)
	surf := w.ss.Surface()

	err := f.c.Request(f.wlsh, 0, f.c.NewID(), w.surface)
	assert.ErrorIs(t, err, shell.ErrRoleAlreadyAssigned)
	errs := f.c.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, f.wlsh, errs[0].Object)
	assert.Equal(t, shell.WlShellErrorRole, errs[0].Code)

	ss, ok := f.sh.ForSurface(surf)
	require.True(t, ok)
	assert.Same(t, w.ss, ss)
	assert.Equal(t, "xdg_shell", ss.Protocol())
}

func TestWlShellRoleSwitch(t *testing.T) {
	f := newFixture(t)
	surface, s := f.surface(t)
	id := f.c.NewID()
	f.c.MustRequest(f.wlsh, 0, id, surface)
	f.c.MustRequest(id, 3)
	f.c.MustRequest(id, 3)
	f.c.MustRequest(id, 7, nil)

	ss, _ := f.sh.ForSurface(s)
	require.Equal(t, shell.RoleToplevel, ss.Role())

	parent, _ := f.surface(t)
	err := f.c.Request(id, 6, f.seat, uint32(1), parent, int32(0), int32(0), uint32(0))
	assert.ErrorIs(t, err, shell.ErrRoleAlreadyAssigned)
	assert.Equal(t, shell.RoleToplevel, ss.Role())
}

func TestWlShellMapsWithoutAck(t *testing.T) {
	f := newFixture(t)
	surface, s := f.surface(t)
	id := f.c.NewID()
	f.c.MustRequest(f.wlsh, 0, id, surface)
	f.c.MustRequest(id, 3)
	f.c.MustRequest(id, 8, "terminal")
	f.c.MustRequest(surface, 1, f.buffer(t, 64, 64), int32(0), int32(0))
	f.c.MustRequest(surface, 6)

	ss, _ := f.sh.ForSurface(s)
	assert.True(t, ss.Mapped())
	assert.Equal(t, "terminal", ss.Title())
	assert.Equal(t, "wl_shell", ss.Protocol())

	_, err := ss.Configure(shell.NewStates(), compositor.Size{W: 300, H: 200})
	require.NoError(t, err)
	assert.Empty(t, ss.PendingConfigures(), "wl_shell configures need no ack")
	cfg := f.c.T.Last(id, 1).Args()
	assert.Equal(t, uint32(0), cfg.Uint())
	assert.Equal(t, int32(300), cfg.Int())

	f.c.MustRequest(surface, 6)
	assert.Equal(t, compositor.Size{W: 300, H: 200}, ss.Current().Size)

	assert.Error(t, ss.Close())
}

func TestWlShellSurfaceDiesWithSurface(t *testing.T) {
	f := newFixture(t)
	surface, _ := f.surface(t)
	id := f.c.NewID()
	f.c.MustRequest(f.wlsh, 0, id, surface)
	f.c.MustRequest(id, 3)

	f.c.MustRequest(surface, 0)
	assert.False(t, f.c.Closed())
	_, live := f.c.Resource(id)
	assert.False(t, live)
	assert.Empty(t, f.sh.Surfaces())
	assert.Len(t, f.calls.destroyed, 1)
}

func TestPingTimeout(t *testing.T) {
	f := newFixture(t)

	serial, err := f.sh.Ping(f.c.Client)
	require.NoError(t, err)
	ping := f.c.T.Last(f.base, 0)
	require.NotNil(t, ping)
	assert.Equal(t, serial, ping.Args().Uint())

	f.clk.Advance(4 * time.Second)
	assert.Empty(t, f.calls.timeouts)

	f.clk.Advance(time.Second)
	assert.Equal(t, []uint32{serial}, f.calls.timeouts)
	assert.True(t, f.sh.Unresponsive(f.c.Client))
	assert.False(t, f.c.Closed(), "an unresponsive client stays connected")
}

func TestPongCancelsTimeout(t *testing.T) {
	f := newFixture(t)

	serial, err := f.sh.Ping(f.c.Client)
	require.NoError(t, err)
	f.c.MustRequest(f.base, 3, serial)
	assert.Zero(t, f.clk.Pending())

	f.clk.Advance(time.Minute)
	assert.Empty(t, f.calls.timeouts)
	assert.False(t, f.sh.Unresponsive(f.c.Client))
}

func TestRepeatedPingKeepsDeadline(t *testing.T) {
	f := newFixture(t)

	_, err := f.sh.Ping(f.c.Client)
	require.NoError(t, err)
	f.clk.Advance(3 * time.Second)
	second, err := f.sh.Ping(f.c.Client)
	require.NoError(t, err)

	f.clk.Advance(2 * time.Second)
	assert.Equal(t, []uint32{second}, f.calls.timeouts)
}

func TestWlShellPing(t *testing.T) {
	f := newFixture(t)
	surface, s := f.surface(t)
	id := f.c.NewID()
	f.c.MustRequest(f.wlsh, 0, id, surface)
	ss, _ := f.sh.ForSurface(s)

	serial, err := ss.Ping()
	require.NoError(t, err)
	assert.Equal(t, serial, f.c.T.Last(id, 0).Args().Uint())

	f.c.MustRequest(id, 0, serial)
	f.clk.Advance(time.Minute)
	assert.Empty(t, f.calls.timeouts)
}

func TestPingWithoutWmBase(t *testing.T) {
	f := newFixture(t)
	other := wltest.NewClient(t, f.d)

	_, err := f.sh.Ping(other.Client)
	assert.ErrorIs(t, err, shell.ErrWrongRole)
}
