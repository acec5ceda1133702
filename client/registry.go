package client

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bnema/wlrt/server"
)

var ErrGlobalNotFound = errors.New("global not found")

const (
	registryRequestBind uint16 = 0

	registryEventGlobal       uint16 = 0
	registryEventGlobalRemove uint16 = 1
)

// Global is a global as announced by wl_registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry tracks the server's globals. It is updated as registry events
// are dispatched.
type Registry struct {
	proxy *Proxy

	mu      sync.Mutex
	globals map[uint32]Global

	// OnGlobal and OnGlobalRemove run on the dispatching goroutine after
	// the registry has been updated.
	OnGlobal       func(Global)
	OnGlobalRemove func(Global)
}

// GetRegistry creates a wl_registry. Its globals are known after the
// next Roundtrip.
func (d *Display) GetRegistry() (*Registry, error) {
	r := &Registry{globals: make(map[uint32]Global)}
	p, err := d.NewProxy(server.RegistryInterface, 1, r.handle)
	if err != nil {
		return nil, err
	}
	if err := d.proxy.Request(displayRequestGetRegistry, p); err != nil {
		p.Destroy()
		return nil, err
	}
	r.proxy = p
	return r, nil
}

func (r *Registry) Proxy() *Proxy {
	return r.proxy
}

func (r *Registry) handle(ev *Event) error {
	args := ev.Args()
	switch ev.Opcode {
	case registryEventGlobal:
		g := Global{Name: args.Uint(), Interface: args.String(), Version: args.Uint()}
		if err := args.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		r.globals[g.Name] = g
		r.mu.Unlock()
		if r.OnGlobal != nil {
			r.OnGlobal(g)
		}

	case registryEventGlobalRemove:
		name := args.Uint()
		r.mu.Lock()
		g, ok := r.globals[name]
		delete(r.globals, name)
		r.mu.Unlock()
		if ok && r.OnGlobalRemove != nil {
			r.OnGlobalRemove(g)
		}
	}
	return nil
}

// Globals returns the known globals ordered by name.
func (r *Registry) Globals() []Global {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Global, 0, len(r.globals))
	for _, g := range r.globals {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b Global) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Find returns the first global implementing iface.
func (r *Registry) Find(iface string) (Global, bool) {
	for _, g := range r.Globals() {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// Bind binds g at version, capped to what the server offers.
func (r *Registry) Bind(g Global, iface *server.Interface, version uint32, h Handler) (*Proxy, error) {
	if g.Interface != iface.Name {
		return nil, fmt.Errorf("%w: global %d is %s, not %s", ErrInvalidRequest, g.Name, g.Interface, iface.Name)
	}
	version = min(version, g.Version, iface.Version)
	p, err := r.proxy.display.NewProxy(iface, version, h)
	if err != nil {
		return nil, err
	}
	if err := r.proxy.Request(registryRequestBind, g.Name, iface.Name, version, p); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

// BindInterface binds the first global implementing iface.
func (r *Registry) BindInterface(iface *server.Interface, version uint32, h Handler) (*Proxy, error) {
	g, ok := r.Find(iface.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGlobalNotFound, iface.Name)
	}
	return r.Bind(g, iface, version, h)
}
