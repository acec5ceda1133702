// Package wltest drives a server.Display in-process: a recording
// transport stands in for the socket and requests are dispatched
// directly, so tests see exactly the events a real client would.
package wltest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

// Transport records every event written to it.
type Transport struct {
	Messages []*wire.Message
	Closed   bool

	// Fail, when set, may reject an event instead of recording it.
	Fail func(m *wire.Message) error
}

func (t *Transport) WriteMessage(m *wire.Message) error {
	if t.Fail != nil {
		if err := t.Fail(m); err != nil {
			return err
		}
	}
	cp := *m
	cp.Body = append([]byte(nil), m.Body...)
	t.Messages = append(t.Messages, &cp)
	return nil
}

func (t *Transport) Close() error {
	t.Closed = true
	return nil
}

// Events returns the recorded events for object with the given opcode.
func (t *Transport) Events(object uint32, opcode uint16) []*wire.Message {
	var out []*wire.Message
	for _, m := range t.Messages {
		if m.Object == object && m.Opcode == opcode {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent matching event, or nil.
func (t *Transport) Last(object uint32, opcode uint16) *wire.Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		m := t.Messages[i]
		if m.Object == object && m.Opcode == opcode {
			return m
		}
	}
	return nil
}

// Reset forgets recorded events.
func (t *Transport) Reset() {
	t.Messages = nil
}

// Client is a scripted client connected to a display.
type Client struct {
	*server.Client
	T *Transport

	t        testing.TB
	display  *server.Display
	nextID   uint32
	registry uint32
}

// NewClient connects a scripted client to d.
func NewClient(t testing.TB, d *server.Display) *Client {
	t.Helper()
	tr := &Transport{}
	return &Client{
		Client:  d.CreateClient(tr),
		T:       tr,
		t:       t,
		display: d,
		nextID:  2,
	}
}

// NewID allocates the next client-side object id.
func (c *Client) NewID() uint32 {
	id := c.nextID
	c.nextID++
	return id
}

// Request encodes and dispatches one request.
func (c *Client) Request(object uint32, opcode uint16, args ...any) error {
	c.t.Helper()
	msg, err := wire.Encode(object, opcode, args...)
	require.NoError(c.t, err)
	return c.Dispatch(msg)
}

// MustRequest dispatches a request that must succeed.
func (c *Client) MustRequest(object uint32, opcode uint16, args ...any) {
	c.t.Helper()
	require.NoError(c.t, c.Request(object, opcode, args...))
}

// Registry returns the client's wl_registry id, creating it on first use.
func (c *Client) Registry() uint32 {
	c.t.Helper()
	if c.registry == 0 {
		c.registry = c.NewID()
		c.MustRequest(1, 1, c.registry)
	}
	return c.registry
}

// Bind binds the first live global named iface and returns the new id.
func (c *Client) Bind(iface string, version uint32) uint32 {
	c.t.Helper()
	for _, g := range c.display.Globals() {
		if g.Interface().Name == iface {
			id := c.NewID()
			c.MustRequest(c.Registry(), 0, g.Name(), iface, version, id)
			return id
		}
	}
	c.t.Fatalf("no global %s", iface)
	return 0
}

// Object looks up a live resource by id.
func (c *Client) Object(id uint32) *server.Resource {
	c.t.Helper()
	r, ok := c.Resource(id)
	require.True(c.t, ok, "object %d is not live", id)
	return r
}

// DisplayError is a decoded wl_display.error event.
type DisplayError struct {
	Object  uint32
	Code    uint32
	Message string
}

// Errors returns the protocol errors sent to the client.
func (c *Client) Errors() []DisplayError {
	var out []DisplayError
	for _, m := range c.T.Events(1, 0) {
		a := m.Args()
		out = append(out, DisplayError{Object: a.Object(), Code: a.Uint(), Message: a.String()})
	}
	return out
}

// DeletedIDs returns the ids acknowledged with wl_display.delete_id.
func (c *Client) DeletedIDs() []uint32 {
	var out []uint32
	for _, m := range c.T.Events(1, 1) {
		out = append(out, m.Args().Uint())
	}
	return out
}
