package server

import (
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/bnema/wlrt/wire"
)

// ClientID identifies a connection for the lifetime of the display. IDs
// are never reused.
type ClientID uint32

// Transport carries encoded events to one client.
type Transport interface {
	WriteMessage(m *wire.Message) error
	Close() error
}

type credentialer interface {
	Credentials() (wire.Credentials, error)
}

// Client is one connection and the objects it owns.
type Client struct {
	display   *Display
	id        ClientID
	transport Transport
	log       *log.Logger

	creds    wire.Credentials
	hasCreds bool

	objects map[uint32]*Resource
	gens    map[uint32]uint32

	registries []*Resource

	closing bool
	failed  bool

	onDestroy Signal[*Client]
}

func (c *Client) ID() ClientID {
	return c.id
}

func (c *Client) Display() *Display {
	return c.display
}

// Credentials returns the peer credentials, if the transport exposes
// them.
func (c *Client) Credentials() (wire.Credentials, bool) {
	return c.creds, c.hasCreds
}

// Closed reports whether the client has been disconnected.
func (c *Client) Closed() bool {
	return c.closing
}

// Resource looks up a live object by id.
func (c *Client) Resource(id uint32) (*Resource, bool) {
	r, ok := c.objects[id]
	return r, ok
}

// Resources returns the live objects ordered by id.
func (c *Client) Resources() []*Resource {
	ids := make([]uint32, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.objects[id])
	}
	return out
}

// NewResource registers a client-created object. The id must be in the
// client range and free.
func (c *Client) NewResource(iface *Interface, version, id uint32, handler Dispatcher) (*Resource, error) {
	if c.closing {
		return nil, ErrClientGone
	}
	if id == 0 || id >= ServerIDStart {
		return nil, Errorf(c.displayResource(), DisplayErrorInvalidObject, ErrInvalidID,
			"invalid new id %d for %s", id, iface.Name)
	}
	if _, taken := c.objects[id]; taken {
		return nil, Errorf(c.displayResource(), DisplayErrorInvalidObject, ErrIDInUse,
			"object id %d already in use", id)
	}
	return c.insert(iface, version, id, handler), nil
}

func (c *Client) insert(iface *Interface, version, id uint32, handler Dispatcher) *Resource {
	c.gens[id]++
	r := &Resource{
		client:  c,
		id:      id,
		gen:     c.gens[id],
		iface:   iface,
		version: version,
		handler: handler,
	}
	c.objects[id] = r
	return r
}

func (c *Client) displayResource() *Resource {
	return c.objects[1]
}

// Lookup resolves a request argument naming an object of iface. A null
// id resolves to nil without error.
func (c *Client) Lookup(id uint32, iface *Interface) (*Resource, error) {
	if id == 0 {
		return nil, nil
	}
	r, ok := c.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}
	if iface != nil && r.iface != iface {
		return nil, Errorf(c.displayResource(), DisplayErrorInvalidObject, ErrInterfaceMismatch,
			"object %d is %s, expected %s", id, r.iface.Name, iface.Name)
	}
	return r, nil
}

// Dispatch routes one request to its resource. Requests for unknown ids
// are dropped and reported as ErrUnknownObject without ending the
// connection; the id may have been destroyed while the request was in
// flight. Protocol errors disconnect the client.
func (c *Client) Dispatch(msg *wire.Message) error {
	if c.closing {
		return ErrClientGone
	}

	r, ok := c.objects[msg.Object]
	if !ok {
		c.log.Debug("Dropping request for unknown object", "object", msg.Object, "opcode", msg.Opcode)
		return fmt.Errorf("%w: %d", ErrUnknownObject, msg.Object)
	}

	req, ok := r.iface.request(msg.Opcode)
	if !ok || r.version < since(req) || r.handler == nil {
		return c.Fail(Errorf(c.displayResource(), DisplayErrorInvalidMethod, ErrInvalidMethod,
			"invalid method %d, object %s", msg.Opcode, r))
	}
	if err := wire.Validate(req.Signature, msg.Body, msg.AvailableFDs()); err != nil {
		return c.Fail(Errorf(c.displayResource(), DisplayErrorInvalidMethod, ErrInvalidMethod,
			"invalid arguments for %s.%s: %v", r, req.Name, err))
	}

	c.trace("<-", r, req.Name)
	err := r.handler.Dispatch(r, msg.Opcode, msg.Args())
	if err == nil {
		return nil
	}

	var perr *ProtocolError
	switch {
	case errors.As(err, &perr):
		return c.Fail(perr)
	case errors.Is(err, ErrNoMemory):
		return c.Fail(Errorf(c.displayResource(), DisplayErrorNoMemory, ErrNoMemory, "no memory"))
	case errors.Is(err, ErrUnknownObject):
		return c.Fail(Errorf(c.displayResource(), DisplayErrorInvalidObject, ErrUnknownObject,
			"%s.%s: %v", r, req.Name, err))
	default:
		c.log.Error("Request handler failed", "object", r.String(), "request", req.Name, "error", err)
		return c.Fail(Errorf(c.displayResource(), DisplayErrorImplementation, ErrImplementation,
			"%s.%s: %v", r, req.Name, err))
	}
}

// Fail delivers perr as wl_display.error and disconnects the client. Only
// the first error is sent. It returns perr.
func (c *Client) Fail(perr *ProtocolError) error {
	if c.failed || c.closing {
		return perr
	}
	c.failed = true

	c.log.Warn("Protocol error", "object", perr.Object, "interface", perr.Interface,
		"code", perr.Code, "message", perr.Message)
	if d := c.displayResource(); d != nil {
		if err := d.Post(displayEventError, objectID(perr.Object), perr.Code, perr.Message); err != nil {
			c.log.Debug("Failed to deliver protocol error", "error", err)
		}
	}
	c.Disconnect()
	return perr
}

// PostNoMemory reports an allocation failure and disconnects the client.
func (c *Client) PostNoMemory() {
	c.Fail(Errorf(c.displayResource(), DisplayErrorNoMemory, ErrNoMemory, "no memory"))
}

// OnDestroy registers fn to run after the client's resources are gone.
func (c *Client) OnDestroy(fn func(*Client)) (cancel func()) {
	return c.onDestroy.Subscribe(fn)
}

// Disconnect destroys every resource, highest id first, closes the
// transport and removes the client from the display. Calling it again,
// including from inside a destroy hook, does nothing.
func (c *Client) Disconnect() {
	if c.closing {
		return
	}
	c.closing = true

	ids := make([]uint32, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	slices.Reverse(ids)
	for _, id := range ids {
		if r, ok := c.objects[id]; ok {
			r.Destroy()
		}
	}

	if err := c.transport.Close(); err != nil {
		c.log.Debug("Closing transport", "error", err)
	}
	c.display.removeClient(c)
	c.onDestroy.Emit(c)
	c.log.Info("Client disconnected")
}

// connectionLost handles a read or write failure on the transport.
func (c *Client) connectionLost(err error) {
	if c.closing {
		return
	}
	c.log.Debug("Connection lost", "error", err)
	c.Disconnect()
}

func (c *Client) send(msg *wire.Message) error {
	if c.closing {
		return ErrClientGone
	}
	if err := c.transport.WriteMessage(msg); err != nil {
		c.display.Post(func() { c.connectionLost(err) })
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	return nil
}

func (c *Client) sendDeleteID(id uint32) {
	d := c.displayResource()
	if d == nil {
		return
	}
	if err := d.Post(displayEventDeleteID, id); err != nil {
		c.log.Debug("Failed to send delete_id", "id", id, "error", err)
	}
}

func (c *Client) trace(dir string, r *Resource, name string) {
	if c.display.trace {
		c.log.Debug(dir, "object", r.String(), "method", name)
	}
}

// objectID adapts a raw id to wire.Object for encoding.
type objectID uint32

func (o objectID) ID() uint32 {
	return uint32(o)
}
