// Package server implements the server side of the Wayland object model:
// clients, their object tables, globals and the registry, serials and the
// single-threaded event loop every handler runs on.
package server

import (
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/bnema/wlrt/internal/clock"
	"github.com/bnema/wlrt/internal/logger"
)

// Display is the root of a server: it owns clients, globals and the
// serial counter. Everything except Post and Invoke must be called from
// the loop goroutine, or before Run starts.
type Display struct {
	log   *log.Logger
	clock clock.Clock
	trace bool

	maxClients int
	maxBuffer  int

	serial uint32

	nextClient ClientID
	clients    map[ClientID]*Client

	nextGlobal uint32
	globals    map[uint32]*Global
	retired    map[uint32]bool

	clientCreated Signal[*Client]
	destroyed     bool

	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	started chan struct{}
	state   loopState
}

// Option configures a Display.
type Option func(*Display)

// WithLogger replaces the default "server" logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Display) { d.log = l }
}

// WithClock sets the clock used for timers such as ping timeouts.
func WithClock(c clock.Clock) Option {
	return func(d *Display) { d.clock = c }
}

// WithTrace logs every request and event at debug level.
func WithTrace(enabled bool) Option {
	return func(d *Display) { d.trace = enabled }
}

// WithMaxBufferSize bounds the bytes of events queued for one client
// accepted by Serve. A client that lets its queue grow past the limit is
// disconnected.
func WithMaxBufferSize(n int) Option {
	return func(d *Display) { d.maxBuffer = n }
}

// WithMaxClients bounds concurrent connections accepted by Serve. Zero
// means unlimited.
func WithMaxClients(n int) Option {
	return func(d *Display) { d.maxClients = n }
}

func NewDisplay(opts ...Option) *Display {
	d := &Display{
		log:     logger.WithPrefix("server"),
		clock:   clock.Real(),
		clients: make(map[ClientID]*Client),
		globals: make(map[uint32]*Global),
		retired: make(map[uint32]bool),
		wake:    make(chan struct{}, 1),
		started: make(chan struct{}),

		maxBuffer: defaultMaxBuffer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Display) Logger() *log.Logger {
	return d.log
}

func (d *Display) Clock() clock.Clock {
	return d.clock
}

// NextSerial advances and returns the serial counter. It wraps around
// but never returns zero.
func (d *Display) NextSerial() uint32 {
	d.serial++
	if d.serial == 0 {
		d.serial = 1
	}
	return d.serial
}

// Serial returns the most recently issued serial.
func (d *Display) Serial() uint32 {
	return d.serial
}

// SetSerial positions the counter; the next serial issued is s+1 (or 1
// after wrapping).
func (d *Display) SetSerial(s uint32) {
	d.serial = s
}

// CreateClient registers a connection. The client starts with only
// wl_display at id 1.
func (d *Display) CreateClient(t Transport) *Client {
	d.nextClient++
	c := &Client{
		display:   d,
		id:        d.nextClient,
		transport: t,
		objects:   make(map[uint32]*Resource),
		gens:      make(map[uint32]uint32),
	}
	c.log = d.log.With("client", c.id)
	if cr, ok := t.(credentialer); ok {
		if creds, err := cr.Credentials(); err == nil {
			c.creds, c.hasCreds = creds, true
			c.log = c.log.With("pid", creds.PID)
		}
	}
	c.insert(DisplayInterface, 1, 1, displayHandler{})

	d.clients[c.id] = c
	c.log.Info("Client connected")
	d.clientCreated.Emit(c)
	return c
}

// OnClientCreated registers fn to run for every new client.
func (d *Display) OnClientCreated(fn func(*Client)) (cancel func()) {
	return d.clientCreated.Subscribe(fn)
}

func (d *Display) removeClient(c *Client) {
	delete(d.clients, c.id)
}

// Client returns a connected client by id.
func (d *Display) Client(id ClientID) (*Client, bool) {
	c, ok := d.clients[id]
	return c, ok
}

// Clients returns the connected clients ordered by id.
func (d *Display) Clients() []*Client {
	out := make([]*Client, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Client) int { return int(a.id) - int(b.id) })
	return out
}

// Lookup resolves a handle. It fails once the resource is destroyed, even
// if its id has been reused.
func (d *Display) Lookup(h Handle) (*Resource, bool) {
	c, ok := d.clients[h.Client]
	if !ok {
		return nil, false
	}
	r, ok := c.objects[h.ID]
	if !ok || r.gen != h.Gen {
		return nil, false
	}
	return r, true
}

// Advertise creates a global and announces it to every registry. The
// version must not exceed what iface describes.
func (d *Display) Advertise(iface *Interface, version uint32, bind BindFunc) (*Global, error) {
	if version == 0 || version > iface.Version {
		return nil, fmt.Errorf("%w: cannot advertise %s v%d, interface has v%d",
			ErrVersionNotSupported, iface.Name, version, iface.Version)
	}

	d.nextGlobal++
	g := &Global{
		display: d,
		name:    d.nextGlobal,
		iface:   iface,
		version: version,
		bind:    bind,
	}
	d.globals[g.name] = g

	for _, c := range d.Clients() {
		for _, reg := range c.registries {
			d.announce(reg, g)
		}
	}
	d.log.Debug("Global advertised", "interface", iface.Name, "name", g.name, "version", version)
	return g, nil
}

// Retract withdraws g: registries receive global_remove and new binds
// fail with ErrGoneAway. Existing binds keep working but their Global
// reference resolves to nil.
func (d *Display) Retract(g *Global) {
	if g.retracted {
		return
	}
	g.retracted = true
	delete(d.globals, g.name)
	d.retired[g.name] = true

	for _, c := range d.Clients() {
		for _, reg := range c.registries {
			if err := reg.Post(registryEventGlobalRemove, g.name); err != nil {
				c.log.Debug("Failed to send global_remove", "error", err)
			}
		}
	}
	d.log.Debug("Global retracted", "interface", g.iface.Name, "name", g.name)
}

// Global returns a live global by name.
func (d *Display) Global(name uint32) (*Global, bool) {
	g, ok := d.globals[name]
	return g, ok
}

// Globals returns the live globals ordered by name.
func (d *Display) Globals() []*Global {
	out := make([]*Global, 0, len(d.globals))
	for _, g := range d.globals {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b *Global) int { return int(a.name) - int(b.name) })
	return out
}

// Bind resolves a registry name and binds it for c.
func (d *Display) Bind(c *Client, name uint32, iface string, version, id uint32) (*Resource, error) {
	g, ok := d.globals[name]
	if !ok {
		if d.retired[name] {
			return nil, fmt.Errorf("%w: name %d", ErrGoneAway, name)
		}
		return nil, fmt.Errorf("%w: invalid global %s (%d)", ErrUnknownObject, iface, name)
	}
	if g.iface.Name != iface {
		return nil, fmt.Errorf("%w: global %d is %s, not %s", ErrInterfaceMismatch, name, g.iface.Name, iface)
	}
	return g.Bind(c, version, id)
}

func (d *Display) announce(reg *Resource, g *Global) {
	if err := reg.Post(registryEventGlobal, g.name, g.iface.Name, g.version); err != nil {
		reg.client.log.Debug("Failed to announce global", "interface", g.iface.Name, "error", err)
	}
}

// Destroy disconnects every client and retracts every global.
func (d *Display) Destroy() {
	if d.destroyed {
		return
	}
	d.destroyed = true
	for _, c := range d.Clients() {
		c.Disconnect()
	}
	for _, g := range d.Globals() {
		d.Retract(g)
	}
}
