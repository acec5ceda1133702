// Package foreign implements xdg-foreign (unstable v2): a client exports
// one of its toplevels as an opaque token, another client imports the
// token and parents its own toplevel to it.
//
// Exports and imports refer to each other only through the token, so
// either side can go away in any order. Every change to a parent/child
// link is reported through OnParentChanged.
package foreign

import (
	"errors"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/internal/logger"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

var (
	ErrInvalidSurface = errors.New("surface is not an xdg_toplevel")
	ErrNotFound       = errors.New("no export with this handle")
)

// Error codes, shared by zxdg_exporter_v2 and zxdg_imported_v2.
const (
	ExporterErrorInvalidSurface uint32 = 0
	ImportedErrorInvalidSurface uint32 = 0
)

const (
	exporterRequestDestroy        uint16 = 0
	exporterRequestExportToplevel uint16 = 1

	exportedRequestDestroy uint16 = 0
	exportedEventHandle    uint16 = 0

	importerRequestDestroy        uint16 = 0
	importerRequestImportToplevel uint16 = 1

	importedRequestDestroy     uint16 = 0
	importedRequestSetParentOf uint16 = 1
	importedEventDestroyed     uint16 = 0
)

const toplevelRole = "xdg_toplevel"

var ExporterInterface = &server.Interface{
	Name:    "zxdg_exporter_v2",
	Version: 1,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "export_toplevel", Signature: "no"},
	},
}

var ExportedInterface = &server.Interface{
	Name:    "zxdg_exported_v2",
	Version: 1,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
	},
	Events: []server.Method{
		{Name: "handle", Signature: "s"},
	},
}

var ImporterInterface = &server.Interface{
	Name:    "zxdg_importer_v2",
	Version: 1,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "import_toplevel", Signature: "ns"},
	},
}

var ImportedInterface = &server.Interface{
	Name:    "zxdg_imported_v2",
	Version: 1,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "set_parent_of", Signature: "o"},
	},
	Events: []server.Method{
		{Name: "destroyed", Signature: ""},
	},
}

// ParentChange reports a link between an exported parent and an imported
// child. A nil Child means the parent lost its child; a nil Parent means
// the child lost its parent.
type ParentChange struct {
	Parent *compositor.Surface
	Child  *compositor.Surface
}

// Relation is a live parent/child link.
type Relation struct {
	Token  string
	Parent *compositor.Surface
	Child  *compositor.Surface
}

type Foreign struct {
	display *server.Display
	log     *log.Logger

	exports map[string]*export
	imports []*imported

	exporter *server.Global
	importer *server.Global

	parentChanged server.Signal[ParentChange]
}

// Option configures Foreign.
type Option func(*Foreign)

// WithLogger replaces the default "foreign" logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Foreign) { f.log = l }
}

// New advertises zxdg_exporter_v2 and zxdg_importer_v2.
func New(d *server.Display, opts ...Option) (*Foreign, error) {
	f := &Foreign{
		display: d,
		log:     logger.WithPrefix("foreign"),
		exports: make(map[string]*export),
	}
	for _, opt := range opts {
		opt(f)
	}

	g, err := d.Advertise(ExporterInterface, ExporterInterface.Version, func(r *server.Resource) error {
		r.SetHandler(server.DispatchFunc(f.dispatchExporter))
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.exporter = g

	g, err = d.Advertise(ImporterInterface, ImporterInterface.Version, func(r *server.Resource) error {
		r.SetHandler(server.DispatchFunc(f.dispatchImporter))
		return nil
	})
	if err != nil {
		d.Retract(f.exporter)
		return nil, err
	}
	f.importer = g
	return f, nil
}

// OnParentChanged registers fn for every parent/child transition.
func (f *Foreign) OnParentChanged(fn func(ParentChange)) (cancel func()) {
	return f.parentChanged.Subscribe(fn)
}

// Tokens returns the live export tokens.
func (f *Foreign) Tokens() []string {
	out := make([]string, 0, len(f.exports))
	for token := range f.exports {
		out = append(out, token)
	}
	slices.Sort(out)
	return out
}

// Lookup returns the surface exported under token.
func (f *Foreign) Lookup(token string) (*compositor.Surface, error) {
	e, ok := f.exports[token]
	if !ok {
		return nil, ErrNotFound
	}
	return e.surface, nil
}

// Relations returns the live parent/child links.
func (f *Foreign) Relations() []Relation {
	var out []Relation
	for _, imp := range f.imports {
		if imp.child == nil {
			continue
		}
		if e, ok := f.exports[imp.token]; ok {
			out = append(out, Relation{Token: imp.token, Parent: e.surface, Child: imp.child})
		}
	}
	return out
}

type export struct {
	f       *Foreign
	token   string
	res     *server.Resource
	surface *compositor.Surface
	cancel  func()
	removed bool
}

func (f *Foreign) dispatchExporter(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	switch opcode {
	case exporterRequestDestroy:
		r.Destroy()

	case exporterRequestExportToplevel:
		id, surfaceID := args.NewID(), args.Object()
		sr, err := r.Client().Lookup(surfaceID, compositor.SurfaceInterface)
		if err != nil {
			return err
		}
		surf, _ := compositor.SurfaceFromResource(sr)
		if surf.Role() != toplevelRole {
			return server.Errorf(r, ExporterErrorInvalidSurface, ErrInvalidSurface,
				"%s has role %q", surf, surf.Role())
		}
		return f.export(r, id, surf)
	}
	return nil
}

func (f *Foreign) export(r *server.Resource, id uint32, surf *compositor.Surface) error {
	e := &export{f: f, token: uuid.NewString(), surface: surf}
	res, err := r.Client().NewResource(ExportedInterface, r.Version(), id, e)
	if err != nil {
		return err
	}
	e.res = res
	e.cancel = surf.OnDestroy(func(*compositor.Surface) { e.remove("surface destroyed") })
	f.exports[e.token] = e

	// The handle is sent from the display loop, after the export is visible.
	f.display.Post(func() {
		if !e.removed && !res.Destroyed() {
			if err := res.Post(exportedEventHandle, e.token); err != nil {
				f.log.Debug("Failed to send handle", "token", e.token, "error", err)
			}
		}
	})
	f.log.Debug("Toplevel exported", "surface", surf.String(), "token", e.token)
	return nil
}

func (e *export) Dispatch(r *server.Resource, opcode uint16, _ *wire.Decoder) error {
	if opcode == exportedRequestDestroy {
		r.Destroy()
	}
	return nil
}

func (e *export) Destroy(*server.Resource) {
	e.remove("export destroyed")
}

// remove withdraws the token. Every import of it loses its child and is
// told the parent is gone.
func (e *export) remove(reason string) {
	if e.removed {
		return
	}
	e.removed = true
	e.cancel()

	f := e.f
	delete(f.exports, e.token)
	for _, imp := range slices.Clone(f.imports) {
		if imp.token != e.token {
			continue
		}
		if child := imp.unlink(); child != nil {
			f.parentChanged.Emit(ParentChange{Child: child})
		}
		imp.invalidate()
	}
	f.log.Debug("Export removed", "token", e.token, "reason", reason)
}

type imported struct {
	f      *Foreign
	res    *server.Resource
	token  string
	dead   bool
	child  *compositor.Surface
	cancel func()
}

func (f *Foreign) dispatchImporter(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	switch opcode {
	case importerRequestDestroy:
		r.Destroy()

	case importerRequestImportToplevel:
		id, token := args.NewID(), args.String()
		imp := &imported{f: f, token: token}
		res, err := r.Client().NewResource(ImportedInterface, r.Version(), id, imp)
		if err != nil {
			return err
		}
		imp.res = res
		if _, ok := f.exports[token]; !ok {
			f.log.Debug("Import of unknown handle", "token", token)
			imp.invalidate()
			return nil
		}
		f.imports = append(f.imports, imp)
	}
	return nil
}

// invalidate tells the client the import is unusable. The object stays
// until the client destroys it.
func (imp *imported) invalidate() {
	if imp.dead {
		return
	}
	imp.dead = true
	if err := imp.res.Post(importedEventDestroyed); err != nil {
		imp.f.log.Debug("Failed to send destroyed", "token", imp.token, "error", err)
	}
}

// unlink drops the child link and returns the former child.
func (imp *imported) unlink() *compositor.Surface {
	child := imp.child
	if child == nil {
		return nil
	}
	imp.cancel()
	imp.child, imp.cancel = nil, nil
	return child
}

func (imp *imported) parent() (*compositor.Surface, bool) {
	if imp.dead {
		return nil, false
	}
	e, ok := imp.f.exports[imp.token]
	if !ok {
		return nil, false
	}
	return e.surface, true
}

func (imp *imported) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	switch opcode {
	case importedRequestDestroy:
		r.Destroy()

	case importedRequestSetParentOf:
		sr, err := r.Client().Lookup(args.Object(), compositor.SurfaceInterface)
		if err != nil {
			return err
		}
		child, _ := compositor.SurfaceFromResource(sr)
		if child.Role() != toplevelRole {
			return server.Errorf(r, ImportedErrorInvalidSurface, ErrInvalidSurface,
				"%s has role %q", child, child.Role())
		}
		imp.setChild(child)
	}
	return nil
}

func (imp *imported) setChild(child *compositor.Surface) {
	parent, ok := imp.parent()
	if !ok {
		// The export went away first; nothing to link to.
		return
	}
	f := imp.f

	// A toplevel has one foreign parent.
	for _, other := range f.imports {
		if other != imp && other.child == child {
			other.unlink()
		}
	}
	if imp.child != child {
		imp.unlink()
		imp.child = child
		imp.cancel = child.OnDestroy(func(*compositor.Surface) {
			if gone := imp.unlink(); gone != nil {
				if p, ok := imp.parent(); ok {
					f.parentChanged.Emit(ParentChange{Parent: p})
				}
			}
		})
	}
	f.parentChanged.Emit(ParentChange{Parent: parent, Child: child})
}

func (imp *imported) Destroy(*server.Resource) {
	f := imp.f
	f.imports = slices.DeleteFunc(f.imports, func(o *imported) bool { return o == imp })
	if child := imp.unlink(); child != nil {
		if p, ok := imp.parent(); ok {
			f.parentChanged.Emit(ParentChange{Parent: p})
		}
	}
}
