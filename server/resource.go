package server

import (
	"fmt"

	"github.com/bnema/wlrt/wire"
)

// ServerIDStart is the first id of the server-allocated range.
const ServerIDStart uint32 = 0xff000000

// Handle is a generational reference to a resource. It stays valid only
// while the exact resource it was taken from is alive; a later resource
// reusing the same id does not match.
type Handle struct {
	Client ClientID
	ID     uint32
	Gen    uint32
}

// IsZero reports whether h refers to nothing.
func (h Handle) IsZero() bool {
	return h.ID == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("client %d object %d gen %d", h.Client, h.ID, h.Gen)
}

// Resource is the server half of a protocol object owned by one client.
type Resource struct {
	client  *Client
	id      uint32
	gen     uint32
	iface   *Interface
	version uint32
	handler Dispatcher

	global *Global

	parent   *Resource
	children []*Resource

	destroyed bool
	onDestroy Signal[*Resource]
}

func (r *Resource) ID() uint32 {
	return r.id
}

func (r *Resource) Client() *Client {
	return r.client
}

func (r *Resource) Interface() *Interface {
	return r.iface
}

func (r *Resource) Version() uint32 {
	return r.version
}

// Handle returns a generational reference to r.
func (r *Resource) Handle() Handle {
	return Handle{Client: r.client.id, ID: r.id, Gen: r.gen}
}

func (r *Resource) Handler() Dispatcher {
	return r.handler
}

// SetHandler installs the request handler. A nil handler rejects every
// request as an invalid method.
func (r *Resource) SetHandler(h Dispatcher) {
	r.handler = h
}

// Destroyed reports whether Destroy has run.
func (r *Resource) Destroyed() bool {
	return r.destroyed
}

// Global returns the global r was bound from, or nil if r was not
// created by a bind or the global has since been retracted.
func (r *Resource) Global() *Global {
	if r.global == nil || r.global.retracted {
		return nil
	}
	return r.global
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s@%d", r.iface.Name, r.id)
}

// Parent returns the resource r was declared a child of, if any.
func (r *Resource) Parent() *Resource {
	return r.parent
}

// SetParent makes r a child of parent: destroying parent destroys r
// first.
func (r *Resource) SetParent(parent *Resource) {
	if r.parent != nil {
		r.parent.removeChild(r)
	}
	r.parent = parent
	if parent != nil {
		parent.children = append(parent.children, r)
	}
}

func (r *Resource) removeChild(child *Resource) {
	for i, c := range r.children {
		if c == child {
			r.children = append(r.children[:i:i], r.children[i+1:]...)
			return
		}
	}
}

// OnDestroy registers fn to run when r is destroyed, after its handler's
// unbind hook.
func (r *Resource) OnDestroy(fn func(*Resource)) (cancel func()) {
	return r.onDestroy.Subscribe(fn)
}

// Post sends event opcode to the owning client. Events newer than the
// bound version are silently dropped.
func (r *Resource) Post(opcode uint16, args ...any) error {
	if r.destroyed {
		return fmt.Errorf("%w: %s", ErrDestroyed, r)
	}
	ev, ok := r.iface.event(opcode)
	if !ok {
		return fmt.Errorf("%w: %s has no event %d", ErrImplementation, r.iface.Name, opcode)
	}
	if r.version < since(ev) {
		return nil
	}

	msg, err := wire.Encode(r.id, opcode, args...)
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", r, ev.Name, err)
	}
	r.client.trace("->", r, ev.Name)
	return r.client.send(msg)
}

// PostError raises a protocol error on r and disconnects its client.
func (r *Resource) PostError(code uint32, kind error, format string, args ...any) {
	r.client.Fail(Errorf(r, code, kind, format, args...))
}

// Destroy tears r down: children first, then the unbind hook, the
// destroy observers, and finally the table entry. It is idempotent.
func (r *Resource) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true

	for len(r.children) > 0 {
		child := r.children[len(r.children)-1]
		child.Destroy()
		r.removeChild(child)
	}
	if r.parent != nil {
		r.parent.removeChild(r)
		r.parent = nil
	}

	if d, ok := r.handler.(Destroyer); ok {
		d.Destroy(r)
	}
	r.onDestroy.Emit(r)

	if r.global != nil {
		r.global.removeBind(r)
	}

	c := r.client
	if c.objects[r.id] == r {
		delete(c.objects, r.id)
		if r.id < ServerIDStart && !c.closing {
			c.sendDeleteID(r.id)
		}
	}
}
