// Package viewporter implements wp_viewporter: per-surface crop and scale
// state that overrides the surface size derived from its buffer.
package viewporter

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/internal/logger"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/state"
	"github.com/bnema/wlrt/wire"
)

var (
	ErrViewportExists = errors.New("surface already has a viewport")
	ErrBadValue       = errors.New("invalid viewport value")
	ErrBadSize        = errors.New("viewport size is not an integer")
	ErrOutOfBuffer    = errors.New("viewport source outside buffer")
	ErrNoSurface      = errors.New("viewport surface destroyed")
)

// wp_viewporter error codes.
const (
	ViewporterErrorViewportExists uint32 = 0
)

// wp_viewport error codes.
const (
	ViewportErrorBadValue    uint32 = 0
	ViewportErrorBadSize     uint32 = 1
	ViewportErrorOutOfBuffer uint32 = 2
	ViewportErrorNoSurface   uint32 = 3
)

const (
	viewporterRequestDestroy     uint16 = 0
	viewporterRequestGetViewport uint16 = 1

	viewportRequestDestroy        uint16 = 0
	viewportRequestSetSource      uint16 = 1
	viewportRequestSetDestination uint16 = 2
)

var ViewporterInterface = &server.Interface{
	Name:    "wp_viewporter",
	Version: 1,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "get_viewport", Signature: "no"},
	},
}

var ViewportInterface = &server.Interface{
	Name:    "wp_viewport",
	Version: 1,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "set_source", Signature: "ffff"},
		{Name: "set_destination", Signature: "ii"},
	},
}

// Source is a crop rectangle in buffer coordinates.
type Source struct {
	X, Y, W, H wire.Fixed
}

var (
	unsetSource      = Source{X: wire.FixedFromInt(-1), Y: wire.FixedFromInt(-1), W: wire.FixedFromInt(-1), H: wire.FixedFromInt(-1)}
	unsetDestination = compositor.Size{W: -1, H: -1}
)

// IsSet reports whether the source differs from the unset sentinel.
func (s Source) IsSet() bool {
	return s != unsetSource
}

type Viewporter struct {
	log       *log.Logger
	global    *server.Global
	viewports map[*compositor.Surface]*Viewport
}

// New advertises wp_viewporter on d.
func New(d *server.Display) (*Viewporter, error) {
	v := &Viewporter{
		log:       logger.WithPrefix("viewporter"),
		viewports: make(map[*compositor.Surface]*Viewport),
	}
	g, err := d.Advertise(ViewporterInterface, ViewporterInterface.Version, func(r *server.Resource) error {
		r.SetHandler(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.global = g
	return v, nil
}

func (v *Viewporter) Global() *server.Global {
	return v.global
}

// Viewport returns the viewport attached to s, if any.
func (v *Viewporter) Viewport(s *compositor.Surface) (*Viewport, bool) {
	vp, ok := v.viewports[s]
	return vp, ok
}

func (v *Viewporter) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	switch opcode {
	case viewporterRequestDestroy:
		r.Destroy()

	case viewporterRequestGetViewport:
		id := args.NewID()
		sr, err := r.Client().Lookup(args.Object(), compositor.SurfaceInterface)
		if err != nil {
			return err
		}
		surface, _ := compositor.SurfaceFromResource(sr)
		if _, exists := v.viewports[surface]; exists {
			return server.Errorf(r, ViewporterErrorViewportExists, ErrViewportExists,
				"%s already has a viewport", surface)
		}

		res, err := r.Client().NewResource(ViewportInterface, r.Version(), id, nil)
		if err != nil {
			return err
		}
		vp := newViewport(v, res, surface)
		res.SetHandler(vp)
		v.viewports[surface] = vp
		v.log.Debug("Viewport created", "surface", surface.String(), "id", id)
	}
	return nil
}

// Viewport is a wp_viewport. Source and destination are double-buffered
// with the surface and stay in effect until explicitly unset.
type Viewport struct {
	v       *Viewporter
	res     *server.Resource
	surface *compositor.Surface

	state       *state.Buffer
	source      *state.Field[Source]
	destination *state.Field[compositor.Size]

	cancel []func()
}

func newViewport(v *Viewporter, res *server.Resource, surface *compositor.Surface) *Viewport {
	vp := &Viewport{v: v, res: res, surface: surface, state: state.New()}
	vp.source = state.NewField(vp.state, "source", unsetSource, state.Sticky[Source]())
	vp.destination = state.NewField(vp.state, "destination", unsetDestination, state.Sticky[compositor.Size]())

	vp.source.OnChange(func(_, _ Source) { vp.applyOverride() })
	vp.destination.OnChange(func(_, _ compositor.Size) { vp.applyOverride() })

	vp.cancel = append(vp.cancel,
		surface.OnPreCommit(vp.commit),
		surface.OnDestroy(vp.surfaceDestroyed),
	)
	return vp
}

// Source returns the committed crop rectangle.
func (vp *Viewport) Source() Source {
	return vp.source.Current()
}

// Destination returns the committed destination size; (-1, -1) when
// unset.
func (vp *Viewport) Destination() compositor.Size {
	return vp.destination.Current()
}

// Surface returns the surface, or nil once it has been destroyed.
func (vp *Viewport) Surface() *compositor.Surface {
	return vp.surface
}

func (vp *Viewport) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	if opcode == viewportRequestDestroy {
		r.Destroy()
		return nil
	}
	if vp.surface == nil {
		return server.Errorf(r, ViewportErrorNoSurface, ErrNoSurface, "wl_surface was destroyed")
	}

	switch opcode {
	case viewportRequestSetSource:
		src := Source{X: args.Fixed(), Y: args.Fixed(), W: args.Fixed(), H: args.Fixed()}
		if src.IsSet() && (src.X < 0 || src.Y < 0 || src.W <= 0 || src.H <= 0) {
			return server.Errorf(r, ViewportErrorBadValue, ErrBadValue,
				"invalid source %.2f,%.2f %.2fx%.2f", src.X.Float(), src.Y.Float(), src.W.Float(), src.H.Float())
		}
		vp.source.Set(src)

	case viewportRequestSetDestination:
		dst := compositor.Size{W: args.Int(), H: args.Int()}
		if dst != unsetDestination && (dst.W <= 0 || dst.H <= 0) {
			return server.Errorf(r, ViewportErrorBadValue, ErrBadValue, "invalid destination %dx%d", dst.W, dst.H)
		}
		vp.destination.Set(dst)
	}
	return nil
}

// commit runs before the surface applies its own state.
func (vp *Viewport) commit(s *compositor.Surface) error {
	src := vp.source.Pending()
	dst := vp.destination.Pending()

	if dst == unsetDestination && src.IsSet() && (!src.W.IsInt() || !src.H.IsInt()) {
		return server.Errorf(vp.res, ViewportErrorBadSize, ErrBadSize,
			"source size %.2fx%.2f is not an integer and no destination is set", src.W.Float(), src.H.Float())
	}

	if src.IsSet() {
		b, attached := s.PendingBuffer()
		if !attached {
			b = s.Buffer()
		}
		if b != nil {
			bounds := bufferBounds(s, b)
			if src.X.Float()+src.W.Float() > float64(bounds.W) || src.Y.Float()+src.H.Float() > float64(bounds.H) {
				return server.Errorf(vp.res, ViewportErrorOutOfBuffer, ErrOutOfBuffer,
					"source %.2f,%.2f %.2fx%.2f exceeds buffer %dx%d",
					src.X.Float(), src.Y.Float(), src.W.Float(), src.H.Float(), bounds.W, bounds.H)
			}
		}
	}

	vp.state.Commit()
	return nil
}

// bufferBounds is the buffer size in surface coordinates. Pending scale
// and transform are not visible here, so the committed ones are used.
func bufferBounds(s *compositor.Surface, b *compositor.Buffer) compositor.Size {
	w, h := b.Width, b.Height
	if s.Transform()%2 == 1 {
		w, h = h, w
	}
	return compositor.Size{W: w / s.Scale(), H: h / s.Scale()}
}

func (vp *Viewport) applyOverride() {
	if vp.surface == nil {
		return
	}
	if dst := vp.destination.Current(); dst != unsetDestination {
		vp.surface.SetSizeOverride(dst, true)
		return
	}
	if src := vp.source.Current(); src.IsSet() {
		vp.surface.SetSizeOverride(compositor.Size{W: int32(src.W.Int()), H: int32(src.H.Int())}, true)
		return
	}
	vp.surface.SetSizeOverride(compositor.Size{}, false)
}

func (vp *Viewport) surfaceDestroyed(s *compositor.Surface) {
	for _, cancel := range vp.cancel {
		cancel()
	}
	vp.cancel = nil
	delete(vp.v.viewports, s)
	vp.surface = nil
}

// Destroy runs when the wp_viewport goes away: the surface drops back to
// its buffer size immediately.
func (vp *Viewport) Destroy(r *server.Resource) {
	for _, cancel := range vp.cancel {
		cancel()
	}
	vp.cancel = nil
	vp.state.Detach()
	if vp.surface != nil {
		delete(vp.v.viewports, vp.surface)
		vp.surface = nil
	}
}
