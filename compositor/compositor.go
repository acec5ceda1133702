// Package compositor implements the core surface protocol: wl_compositor,
// wl_surface, wl_region, wl_shm buffers and a device-less wl_seat.
// Nothing is rendered; surfaces only carry state for roles and
// extensions built on top of them.
package compositor

import (
	"slices"

	"github.com/charmbracelet/log"

	"github.com/bnema/wlrt/internal/logger"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

type Compositor struct {
	display *server.Display
	log     *log.Logger
	global  *server.Global
	shm     *server.Global

	surfaces       []*Surface
	surfaceCreated server.Signal[*Surface]
}

// New advertises wl_compositor and wl_shm on d.
func New(d *server.Display) (*Compositor, error) {
	c := &Compositor{
		display: d,
		log:     logger.WithPrefix("compositor"),
	}

	g, err := d.Advertise(CompositorInterface, CompositorInterface.Version, func(r *server.Resource) error {
		r.SetHandler(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.global = g

	shm, err := d.Advertise(ShmInterface, ShmInterface.Version, bindShm)
	if err != nil {
		d.Retract(g)
		return nil, err
	}
	c.shm = shm
	return c, nil
}

func (c *Compositor) Display() *server.Display {
	return c.display
}

func (c *Compositor) Global() *server.Global {
	return c.global
}

// Surfaces returns the live surfaces in creation order.
func (c *Compositor) Surfaces() []*Surface {
	return slices.Clone(c.surfaces)
}

// Surface resolves a handle to a live surface.
func (c *Compositor) Surface(h server.Handle) (*Surface, bool) {
	r, ok := c.display.Lookup(h)
	if !ok {
		return nil, false
	}
	return SurfaceFromResource(r)
}

// OnSurfaceCreated registers fn to run for every new surface.
func (c *Compositor) OnSurfaceCreated(fn func(*Surface)) (cancel func()) {
	return c.surfaceCreated.Subscribe(fn)
}

// FrameDone fires pending frame callbacks on every surface.
func (c *Compositor) FrameDone(timeMs uint32) int {
	n := 0
	for _, s := range c.Surfaces() {
		n += s.FrameDone(timeMs)
	}
	return n
}

func (c *Compositor) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	switch opcode {
	case compositorRequestCreateSurface:
		res, err := r.Client().NewResource(SurfaceInterface, r.Version(), args.NewID(), nil)
		if err != nil {
			return err
		}
		s := newSurface(c, res)
		res.SetHandler(s)
		c.surfaces = append(c.surfaces, s)
		c.log.Debug("Surface created", "client", r.Client().ID(), "id", res.ID())
		c.surfaceCreated.Emit(s)

	case compositorRequestCreateRegion:
		_, err := r.Client().NewResource(RegionInterface, 1, args.NewID(), &region{})
		return err
	}
	return nil
}

func (c *Compositor) removeSurface(s *Surface) {
	c.surfaces = slices.DeleteFunc(c.surfaces, func(o *Surface) bool { return o == s })
}
