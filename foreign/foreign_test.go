package foreign_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/foreign"
	"github.com/bnema/wlrt/internal/wltest"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/shell"
	"github.com/bnema/wlrt/wire"
)

type fixture struct {
	d       *server.Display
	foreign *foreign.Foreign
	changes []foreign.ParentChange
}

func newFixture(t *testing.T, opts ...foreign.Option) *fixture {
	t.Helper()
	d := server.NewDisplay()
	comp, err := compositor.New(d)
	require.NoError(t, err)
	_, err = shell.New(d, comp).AdvertiseXDG()
	require.NoError(t, err)
	fr, err := foreign.New(d, opts...)
	require.NoError(t, err)

	f := &fixture{d: d, foreign: fr}
	fr.OnParentChanged(func(pc foreign.ParentChange) { f.changes = append(f.changes, pc) })
	return f
}

type app struct {
	c        *wltest.Client
	wlc      uint32
	base     uint32
	exporter uint32
	importer uint32
}

func (f *fixture) app(t *testing.T) *app {
	t.Helper()
	c := wltest.NewClient(t, f.d)
	return &app{
		c:        c,
		wlc:      c.Bind("wl_compositor", 6),
		base:     c.Bind("xdg_wm_base", 5),
		exporter: c.Bind("zxdg_exporter_v2", 1),
		importer: c.Bind("zxdg_importer_v2", 1),
	}
}

type window struct {
	surface, xdg, toplevel uint32
	s                      *compositor.Surface
}

func (a *app) toplevel(t *testing.T) window {
	t.Helper()
	var w window
	w.surface = a.c.NewID()
	a.c.MustRequest(a.wlc, 0, w.surface)
	w.xdg = a.c.NewID()
	a.c.MustRequest(a.base, 2, w.xdg, w.surface)
	w.toplevel = a.c.NewID()
	a.c.MustRequest(w.xdg, 1, w.toplevel)

	s, ok := compositor.SurfaceFromResource(a.c.Object(w.surface))
	require.True(t, ok)
	w.s = s
	return w
}

// destroy tears the window down in the order xdg-shell requires.
func (a *app) destroy(t *testing.T, w window) {
	t.Helper()
	a.c.MustRequest(w.toplevel, 0)
	a.c.MustRequest(w.xdg, 0)
	a.c.MustRequest(w.surface, 0)
}

func (a *app) export(t *testing.T, w window) (uint32, string) {
	t.Helper()
	id := a.c.NewID()
	a.c.MustRequest(a.exporter, 1, id, w.surface)
	handle := a.c.T.Last(id, 0)
	require.NotNil(t, handle, "handle event")
	return id, handle.Args().String()
}

func (a *app) importHandle(t *testing.T, token string) uint32 {
	t.Helper()
	id := a.c.NewID()
	a.c.MustRequest(a.importer, 1, id, token)
	return id
}

func TestExportImportRoundTrip(t *testing.T) {
	f := newFixture(t)
	a, b := f.app(t), f.app(t)
	parent := a.toplevel(t)
	child := b.toplevel(t)

	_, token := a.export(t, parent)
	_, err := uuid.Parse(token)
	assert.NoError(t, err, "tokens are UUIDs")

	got, err := f.foreign.Lookup(token)
	require.NoError(t, err)
	assert.Same(t, parent.s, got)

	imp := b.importHandle(t, token)
	assert.Nil(t, b.c.T.Last(imp, 0), "a valid import is not destroyed")

	b.c.MustRequest(imp, 1, child.surface)
	require.Len(t, f.changes, 1)
	assert.Equal(t, foreign.ParentChange{Parent: parent.s, Child: child.s}, f.changes[0])
	assert.Equal(t, []foreign.Relation{{Token: token, Parent: parent.s, Child: child.s}}, f.foreign.Relations())
}

func TestTokensAreNotSequential(t *testing.T) {
	f := newFixture(t)
	a := f.app(t)
	w := a.toplevel(t)

	_, first := a.export(t, w)
	_, second := a.export(t, w)
	assert.NotEqual(t, first, second)
	assert.Len(t, f.foreign.Tokens(), 2)
}

func TestImportUnknownHandle(t *testing.T) {
	f := newFixture(t)
	b := f.app(t)
	child := b.toplevel(t)

	imp := b.importHandle(t, "no-such-handle")
	assert.NotNil(t, b.c.T.Last(imp, 0), "destroyed is sent at once")

	b.c.MustRequest(imp, 1, child.surface)
	assert.Empty(t, f.changes)
	b.c.MustRequest(imp, 0)
	assert.False(t, b.c.Closed())

	_, err := f.foreign.Lookup("no-such-handle")
	assert.ErrorIs(t, err, foreign.ErrNotFound)
}

func TestUndeliveredEventsAreLogged(t *testing.T) {
	var logs bytes.Buffer
	l := log.New(&logs)
	l.SetLevel(log.DebugLevel)
	f := newFixture(t, foreign.WithLogger(l))
	broken := errors.New("broken pipe")

	a := f.app(t)
	w := a.toplevel(t)
	exported := a.c.NewID()
	a.c.T.Fail = func(m *wire.Message) error {
		if m.Object == exported {
			return broken
		}
		return nil
	}
	a.c.MustRequest(a.exporter, 1, exported, w.surface)
	assert.Contains(t, logs.String(), "Failed to send handle")
	assert.True(t, a.c.Closed())

	b := f.app(t)
	imported := b.c.NewID()
	b.c.T.Fail = func(m *wire.Message) error {
		if m.Object == imported {
			return broken
		}
		return nil
	}
	b.c.MustRequest(b.importer, 1, imported, "no-such-handle")
	assert.Contains(t, logs.String(), "Failed to send destroyed")
	assert.True(t, b.c.Closed())
}

func TestExportNeedsToplevel(t *testing.T) {
	f := newFixture(t)
	a := f.app(t)
	surface := a.c.NewID()
	a.c.MustRequest(a.wlc, 0, surface)

	err := a.c.Request(a.exporter, 1, a.c.NewID(), surface)
	assert.ErrorIs(t, err, foreign.ErrInvalidSurface)
}

func TestSetParentOfNeedsToplevel(t *testing.T) {
	f := newFixture(t)
	a, b := f.app(t), f.app(t)
	_, token := a.export(t, a.toplevel(t))
	imp := b.importHandle(t, token)

	surface := b.c.NewID()
	b.c.MustRequest(b.wlc, 0, surface)
	err := b.c.Request(imp, 1, surface)
	assert.ErrorIs(t, err, foreign.ErrInvalidSurface)
	assert.Equal(t, foreign.ImportedErrorInvalidSurface, b.c.Errors()[0].Code)
}

func TestMultipleImportsPerToken(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.app(t), f.app(t), f.app(t)
	parent := a.toplevel(t)
	_, token := a.export(t, parent)

	bc, cc := b.toplevel(t), c.toplevel(t)
	bi, ci := b.importHandle(t, token), c.importHandle(t, token)
	b.c.MustRequest(bi, 1, bc.surface)
	c.c.MustRequest(ci, 1, cc.surface)
	require.Len(t, f.foreign.Relations(), 2)

	// One importer leaving does not disturb the other.
	b.c.MustRequest(bi, 0)
	assert.Equal(t, foreign.ParentChange{Parent: parent.s}, f.changes[len(f.changes)-1])
	assert.Equal(t, []foreign.Relation{{Token: token, Parent: parent.s, Child: cc.s}}, f.foreign.Relations())
	assert.Len(t, f.foreign.Tokens(), 1)
}

func TestSecondTokenSurvivesFirst(t *testing.T) {
	f := newFixture(t)
	a, b := f.app(t), f.app(t)
	parent := a.toplevel(t)
	first, t1 := a.export(t, parent)
	_, t2 := a.export(t, parent)

	child := b.toplevel(t)
	imp := b.importHandle(t, t2)
	b.c.MustRequest(imp, 1, child.surface)

	a.c.MustRequest(first, 0)
	assert.Equal(t, []string{t2}, f.foreign.Tokens())
	_, err := f.foreign.Lookup(t1)
	assert.ErrorIs(t, err, foreign.ErrNotFound)
	assert.Len(t, f.foreign.Relations(), 1)
}

func TestReparentingMovesChild(t *testing.T) {
	f := newFixture(t)
	a, b := f.app(t), f.app(t)
	p1, p2 := a.toplevel(t), a.toplevel(t)
	_, t1 := a.export(t, p1)
	_, t2 := a.export(t, p2)

	child := b.toplevel(t)
	i1, i2 := b.importHandle(t, t1), b.importHandle(t, t2)
	b.c.MustRequest(i1, 1, child.surface)
	b.c.MustRequest(i2, 1, child.surface)

	assert.Equal(t, []foreign.Relation{{Token: t2, Parent: p2.s, Child: child.s}}, f.foreign.Relations())

	// The stale import no longer owns the child.
	b.c.MustRequest(i1, 0)
	assert.Equal(t, foreign.ParentChange{Parent: p2.s, Child: child.s}, f.changes[len(f.changes)-1])
}

func TestExporterGoneInvalidatesImports(t *testing.T) {
	f := newFixture(t)
	a, b := f.app(t), f.app(t)
	parent := a.toplevel(t)
	exported, token := a.export(t, parent)
	imp := b.importHandle(t, token)

	a.c.MustRequest(exported, 0)
	assert.NotNil(t, b.c.T.Last(imp, 0), "importer is told the export is gone")

	// Linking through a dead import is a no-op, not an error.
	child := b.toplevel(t)
	b.c.MustRequest(imp, 1, child.surface)
	assert.Empty(t, f.changes)
}

func TestExporterDisconnect(t *testing.T) {
	f := newFixture(t)
	a, b := f.app(t), f.app(t)
	parent := a.toplevel(t)
	_, token := a.export(t, parent)
	child := b.toplevel(t)
	imp := b.importHandle(t, token)
	b.c.MustRequest(imp, 1, child.surface)

	a.c.Disconnect()
	assert.Empty(t, f.foreign.Tokens())
	assert.Empty(t, f.foreign.Relations())
	assert.Equal(t, foreign.ParentChange{Child: child.s}, f.changes[len(f.changes)-1])
}

// TestDestructionOrder runs every ordering of the four teardown steps.
// The first step decides the single transition reported; later steps
// report nothing and no relation outlives its ends.
func TestDestructionOrder(t *testing.T) {
	steps := []string{"exported", "parent", "imported", "child"}
	for _, order := range permutations(steps) {
		t.Run(strings.Join(order, ","), func(t *testing.T) {
			f := newFixture(t)
			a, b := f.app(t), f.app(t)
			parent := a.toplevel(t)
			exported, token := a.export(t, parent)
			child := b.toplevel(t)
			imp := b.importHandle(t, token)
			b.c.MustRequest(imp, 1, child.surface)
			f.changes = nil

			for _, step := range order {
				switch step {
				case "exported":
					a.c.MustRequest(exported, 0)
				case "parent":
					a.destroy(t, parent)
				case "imported":
					b.c.MustRequest(imp, 0)
				case "child":
					b.destroy(t, child)
				}
			}

			var want foreign.ParentChange
			switch order[0] {
			case "exported", "parent":
				want = foreign.ParentChange{Child: child.s}
			case "imported", "child":
				want = foreign.ParentChange{Parent: parent.s}
			}
			require.Len(t, f.changes, 1)
			assert.Equal(t, want, f.changes[0])
			assert.Empty(t, f.foreign.Relations())
			assert.Empty(t, f.foreign.Tokens())
			assert.False(t, a.c.Closed())
			assert.False(t, b.c.Closed())
		})
	}
}

func permutations(in []string) [][]string {
	if len(in) <= 1 {
		return [][]string{append([]string(nil), in...)}
	}
	var out [][]string
	for i := range in {
		rest := make([]string, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]string{in[i]}, p...))
		}
	}
	return out
}
