// Package client implements the client role of the Wayland protocol.
//
// A Display owns the connection. A reader goroutine decodes events as they
// arrive and queues them in wire order; the application drains the queue
// with Dispatch, DispatchPending or Roundtrip, so every handler runs on the
// application's goroutine.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/bnema/wlrt/internal/logger"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

var (
	ErrProxyDestroyed = errors.New("proxy destroyed")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrDisconnected   = errors.New("display disconnected")
	ErrClosed         = errors.New("display closed")
	ErrNoIDs          = errors.New("object ids exhausted")
)

const (
	displayID = 1

	// Ids from 0xff000000 up belong to the server.
	maxClientID = 0xfeffffff
)

const (
	displayRequestSync        uint16 = 0
	displayRequestGetRegistry uint16 = 1

	displayEventError    uint16 = 0
	displayEventDeleteID uint16 = 1

	callbackEventDone uint16 = 0
)

type Option func(*Display)

// WithLogger replaces the default "client" logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Display) { d.log = l }
}

// WithTrace logs every request and event at debug level.
func WithTrace(enabled bool) Option {
	return func(d *Display) { d.traceOn = enabled }
}

type Display struct {
	conn    *wire.Conn
	log     *log.Logger
	traceOn bool
	queue   *EventQueue
	proxy   *Proxy

	mu      sync.Mutex
	objects map[uint32]*Proxy
	nextID  uint32
	free    []uint32
	err     error
	done    chan struct{}
}

// Connect dials the named display (see wire.Dial) and starts reading
// events.
func Connect(name string, opts ...Option) (*Display, error) {
	conn, err := wire.Dial(name)
	if err != nil {
		return nil, err
	}
	return NewDisplay(conn, opts...), nil
}

// NewDisplay takes ownership of conn and starts the reader goroutine.
func NewDisplay(conn *wire.Conn, opts ...Option) *Display {
	d := &Display{
		conn:    conn,
		log:     logger.WithPrefix("client"),
		queue:   NewEventQueue(),
		objects: make(map[uint32]*Proxy),
		nextID:  displayID + 1,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.proxy = &Proxy{display: d, id: displayID, iface: server.DisplayInterface, version: 1}
	d.objects[displayID] = d.proxy

	go d.readLoop()
	return d
}

// Proxy returns the wl_display object.
func (d *Display) Proxy() *Proxy {
	return d.proxy
}

func (d *Display) Queue() *EventQueue {
	return d.queue
}

// Err returns the error that ended the connection: a *server.ProtocolError
// for wl_display.error, ErrDisconnected or ErrClosed.
func (d *Display) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Done is closed once the connection has ended.
func (d *Display) Done() <-chan struct{} {
	return d.done
}

// Close shuts the connection. Queued events can still be dispatched.
func (d *Display) Close() error {
	d.fail(ErrClosed)
	return d.conn.Close()
}

// Object returns the live proxy for id.
func (d *Display) Object(id uint32) (*Proxy, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.objects[id]
	if !ok || p.Destroyed() {
		return nil, false
	}
	return p, true
}

// NewProxy allocates an id for a new object. The caller passes the proxy
// as the new_id argument of the request that creates it.
func (d *Display) NewProxy(iface *server.Interface, version uint32, h Handler) (*Proxy, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var id uint32
	if n := len(d.free); n > 0 {
		id = d.free[n-1]
		d.free = d.free[:n-1]
	} else {
		if d.nextID > maxClientID {
			return nil, ErrNoIDs
		}
		id = d.nextID
		d.nextID++
	}

	p := &Proxy{display: d, id: id, iface: iface, version: version, handler: h}
	d.objects[id] = p
	return p, nil
}

// NewChild allocates a proxy at p's version, for requests of p that
// create objects.
func (p *Proxy) NewChild(iface *server.Interface, h Handler) (*Proxy, error) {
	return p.display.NewProxy(iface, p.version, h)
}

// Sync sends wl_display.sync. done runs when the server has processed
// every request sent before it.
func (d *Display) Sync(done func(serial uint32)) (*Proxy, error) {
	cb, err := d.NewProxy(server.CallbackInterface, 1, nil)
	if err != nil {
		return nil, err
	}
	cb.SetHandler(func(ev *Event) error {
		if ev.Opcode != callbackEventDone {
			return nil
		}
		serial := ev.Args().Uint()
		cb.Destroy()
		if done != nil {
			done(serial)
		}
		return nil
	})
	if err := d.proxy.Request(displayRequestSync, cb); err != nil {
		cb.Destroy()
		return nil, err
	}
	return cb, nil
}

// Roundtrip blocks until the server has processed every request sent so
// far, dispatching events meanwhile.
func (d *Display) Roundtrip(ctx context.Context) error {
	done := false
	if _, err := d.Sync(func(uint32) { done = true }); err != nil {
		return err
	}
	for !done {
		if err := d.Dispatch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch waits for one event and runs its handler.
func (d *Display) Dispatch(ctx context.Context) error {
	ev, err := d.queue.Pop(ctx)
	if errors.Is(err, ErrQueueClosed) {
		return d.Err()
	}
	if err != nil {
		return err
	}
	return d.dispatch(ev)
}

// DispatchPending runs the handlers of all queued events without
// blocking and returns how many ran. Once the queue is drained after the
// connection ended, the connection error is returned.
func (d *Display) DispatchPending() (int, error) {
	n := 0
	for {
		ev, ok := d.queue.TryPop()
		if !ok {
			break
		}
		if err := d.dispatch(ev); err != nil {
			return n, err
		}
		n++
	}
	select {
	case <-d.done:
		return n, d.Err()
	default:
		return n, nil
	}
}

// dispatch hands ev to its handler, which owns any descriptors it
// carries.
func (d *Display) dispatch(ev *Event) error {
	p := ev.Proxy
	if p.Destroyed() || p.handler == nil {
		ev.discard()
		return nil
	}
	d.trace("<-", p, ev.Name())
	if err := p.handler(ev); err != nil {
		return fmt.Errorf("%s.%s: %w", p, ev.Name(), err)
	}
	return nil
}

func (d *Display) send(msg *wire.Message) error {
	if err := d.Err(); err != nil {
		return err
	}
	if err := d.conn.WriteMessage(msg); err != nil {
		d.fail(fmt.Errorf("%w: %v", ErrDisconnected, err))
		return err
	}
	return nil
}

func (d *Display) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return
	}
	d.err = err
	close(d.done)
}

func (d *Display) readLoop() {
	defer d.queue.Close()

	for {
		msg, err := d.conn.ReadMessage()
		if err != nil {
			d.fail(fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}
		if msg.Object == displayID {
			if err := d.handleDisplayEvent(msg); err != nil {
				d.fail(err)
				d.conn.Close()
				return
			}
			continue
		}

		d.mu.Lock()
		p := d.objects[msg.Object]
		d.mu.Unlock()
		if p == nil {
			d.log.Debug("Event for unknown object dropped", "object", msg.Object, "opcode", msg.Opcode)
			continue
		}
		if int(msg.Opcode) >= len(p.iface.Events) {
			d.fail(fmt.Errorf("%w: %s has no event %d", ErrInvalidEvent, p, msg.Opcode))
			d.conn.Close()
			return
		}
		ev := p.iface.Events[msg.Opcode]
		err = msg.TakeFDs(wire.CountFDs(ev.Signature))
		if err == nil {
			err = wire.Validate(ev.Signature, msg.Body, len(msg.FDs))
		}
		if err != nil {
			msg.CloseFDs()
			d.fail(fmt.Errorf("%w: %s.%s: %v", ErrInvalidEvent, p, ev.Name, err))
			d.conn.Close()
			return
		}

		// A zombie still consumes its descriptors so later events line up.
		if p.Destroyed() {
			d.log.Debug("Event for destroyed proxy dropped", "object", p.String(), "event", ev.Name)
			msg.CloseFDs()
			continue
		}
		d.queue.Push(&Event{Proxy: p, Opcode: msg.Opcode, msg: msg})
	}
}

// handleDisplayEvent processes wl_display events on the reader goroutine.
// A non-nil return ends the connection.
func (d *Display) handleDisplayEvent(msg *wire.Message) error {
	args := msg.Args()
	switch msg.Opcode {
	case displayEventError:
		object, code, message := args.Object(), args.Uint(), args.String()
		if err := args.Err(); err != nil {
			return fmt.Errorf("%w: wl_display.error: %v", ErrInvalidEvent, err)
		}
		perr := &server.ProtocolError{Object: object, Code: code, Message: message}
		d.mu.Lock()
		if p, ok := d.objects[object]; ok {
			perr.Interface = p.iface.Name
		}
		d.mu.Unlock()
		if object == displayID {
			perr.Kind = displayErrorKind(code)
		}
		d.log.Warn("Protocol error from server", "object", object, "interface", perr.Interface,
			"code", code, "message", message)
		return perr

	case displayEventDeleteID:
		id := args.Uint()
		if err := args.Err(); err != nil {
			return fmt.Errorf("%w: wl_display.delete_id: %v", ErrInvalidEvent, err)
		}
		d.mu.Lock()
		if _, ok := d.objects[id]; ok && id != displayID {
			delete(d.objects, id)
			if id <= maxClientID {
				d.free = append(d.free, id)
			}
		}
		d.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: wl_display has no event %d", ErrInvalidEvent, msg.Opcode)
}

func displayErrorKind(code uint32) error {
	switch code {
	case server.DisplayErrorInvalidObject:
		return server.ErrUnknownObject
	case server.DisplayErrorInvalidMethod:
		return server.ErrInvalidMethod
	case server.DisplayErrorNoMemory:
		return server.ErrNoMemory
	case server.DisplayErrorImplementation:
		return server.ErrImplementation
	}
	return nil
}

func (d *Display) trace(dir string, p *Proxy, name string) {
	if d.traceOn {
		d.log.Debug(dir, "object", p.String(), "method", name)
	}
}
