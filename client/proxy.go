package client

import (
	"fmt"
	"sync/atomic"

	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

// Handler receives the events of one proxy on the dispatching goroutine.
type Handler func(ev *Event) error

// Event is one event read from the socket, resolved to its proxy at read
// time. Descriptors it carries are owned by the event.
type Event struct {
	Proxy  *Proxy
	Opcode uint16
	msg    *wire.Message
}

// Name is the event name from the proxy's interface.
func (e *Event) Name() string {
	return e.Proxy.iface.Events[e.Opcode].Name
}

func (e *Event) Args() *wire.Decoder {
	return e.msg.Args()
}

func (e *Event) discard() {
	e.msg.CloseFDs()
}

// Proxy is the client-side handle of a protocol object.
type Proxy struct {
	display *Display
	id      uint32
	iface   *server.Interface
	version uint32
	handler Handler

	// destroyed is set on the application goroutine and read by the
	// reader, which drops events for zombie proxies.
	destroyed atomic.Bool
}

// ID is nil-safe so a nil *Proxy encodes as the null object.
func (p *Proxy) ID() uint32 {
	if p == nil {
		return 0
	}
	return p.id
}

func (p *Proxy) Interface() *server.Interface {
	return p.iface
}

func (p *Proxy) Version() uint32 {
	return p.version
}

func (p *Proxy) Display() *Display {
	return p.display
}

func (p *Proxy) String() string {
	return fmt.Sprintf("%s@%d", p.iface.Name, p.id)
}

// SetHandler replaces the event handler. Call it before the first event
// can arrive, or from the dispatching goroutine.
func (p *Proxy) SetHandler(h Handler) {
	p.handler = h
}

func (p *Proxy) Destroyed() bool {
	return p.destroyed.Load()
}

// Request sends a request. Proxies passed as arguments encode as their
// ids.
func (p *Proxy) Request(opcode uint16, args ...any) error {
	if p.Destroyed() {
		return fmt.Errorf("%w: %s", ErrProxyDestroyed, p)
	}
	if int(opcode) >= len(p.iface.Requests) {
		return fmt.Errorf("%w: %s has no request %d", ErrInvalidRequest, p, opcode)
	}
	req := p.iface.Requests[opcode]
	if p.version < sinceVersion(req) {
		return fmt.Errorf("%w: %s.%s needs version %d", ErrInvalidRequest, p, req.Name, req.Since)
	}

	msg, err := wire.Encode(p.id, opcode, args...)
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", p, req.Name, err)
	}
	p.display.trace("->", p, req.Name)
	return p.display.send(msg)
}

// RequestDestroy sends a destructor request and destroys the proxy.
func (p *Proxy) RequestDestroy(opcode uint16, args ...any) error {
	err := p.Request(opcode, args...)
	p.Destroy()
	return err
}

// Destroy drops the proxy on the client side. The id stays reserved until
// the server confirms with delete_id; events that arrive meanwhile are
// discarded.
func (p *Proxy) Destroy() {
	if p.destroyed.Swap(true) {
		return
	}
	p.display.trace("x", p, "destroy")
}

func sinceVersion(m server.Method) uint32 {
	if m.Since == 0 {
		return 1
	}
	return m.Since
}
