package server

import "fmt"

// BindFunc sets up a freshly bound resource, usually by installing its
// handler. Returning an error destroys the resource.
type BindFunc func(r *Resource) error

// Global is an advertised, bindable interface. The display owns it; each
// bind resource refers back to it weakly, see Resource.Global.
type Global struct {
	display *Display
	name    uint32
	iface   *Interface
	version uint32
	bind    BindFunc

	binds     []*Resource
	retracted bool
}

// Name is the registry name clients bind by. Names are never reused.
func (g *Global) Name() uint32 {
	return g.name
}

func (g *Global) Interface() *Interface {
	return g.iface
}

// Version is the highest version clients may bind.
func (g *Global) Version() uint32 {
	return g.version
}

// Retracted reports whether the global has been withdrawn.
func (g *Global) Retracted() bool {
	return g.retracted
}

// Binds returns the live bind resources in bind order.
func (g *Global) Binds() []*Resource {
	out := make([]*Resource, len(g.binds))
	copy(out, g.binds)
	return out
}

// Bind creates a resource for this global in c with the given id. The
// version must be between 1 and the advertised version.
func (g *Global) Bind(c *Client, version, id uint32) (*Resource, error) {
	if g.retracted {
		return nil, fmt.Errorf("%w: %s (name %d)", ErrGoneAway, g.iface.Name, g.name)
	}
	if version == 0 || version > g.version {
		return nil, fmt.Errorf("%w: %s v%d, have v%d", ErrVersionNotSupported, g.iface.Name, version, g.version)
	}

	r, err := c.NewResource(g.iface, version, id, nil)
	if err != nil {
		return nil, err
	}
	r.global = g
	g.binds = append(g.binds, r)

	if g.bind != nil {
		if err := g.bind(r); err != nil {
			r.Destroy()
			return nil, err
		}
	}
	g.display.log.Debug("Global bound", "interface", g.iface.Name, "version", version, "client", c.id, "id", id)
	return r, nil
}

// Broadcast sends event opcode to every bind whose version is at least
// minVersion and returns how many received it.
func (g *Global) Broadcast(opcode uint16, minVersion uint32, args ...any) int {
	sent := 0
	for _, r := range g.Binds() {
		if r.version < minVersion || r.destroyed {
			continue
		}
		if err := r.Post(opcode, args...); err != nil {
			g.display.log.Debug("Broadcast failed", "resource", r.String(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

func (g *Global) removeBind(r *Resource) {
	for i, b := range g.binds {
		if b == r {
			g.binds = append(g.binds[:i:i], g.binds[i+1:]...)
			return
		}
	}
}
