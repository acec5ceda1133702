// Package shell implements the shell-surface protocols: xdg-shell and the
// legacy wl_shell. Both share one model: a shell surface takes exactly one
// role, toplevel or popup, and its size follows a configure/ack handshake
// that takes effect on the next surface commit.
package shell

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/internal/logger"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/state"
)

// Handlers lets the embedding compositor react to shell requests. Every
// field is optional. When Maximize or Fullscreen is nil the request is
// answered with a configure toggling the state and keeping the size.
type Handlers struct {
	Mapped       func(ss *ShellSurface)
	Unmapped     func(ss *ShellSurface)
	Destroyed    func(ss *ShellSurface)
	Configured   func(ss *ShellSurface, c Configure)
	TitleChanged func(ss *ShellSurface)

	Move       func(ss *ShellSurface, seat *compositor.Seat, serial uint32)
	Resize     func(ss *ShellSurface, seat *compositor.Seat, serial, edges uint32)
	Maximize   func(ss *ShellSurface, on bool)
	Fullscreen func(ss *ShellSurface, on bool)
	Minimize   func(ss *ShellSurface)

	PingTimeout func(c *server.Client, serial uint32)
}

type Shell struct {
	display *server.Display
	comp    *compositor.Compositor
	log     *log.Logger

	handlers    Handlers
	pingTimeout time.Duration

	xdg     *server.Global
	wlShell *server.Global

	surfaces []*ShellSurface
	bySurf   map[*compositor.Surface]*ShellSurface
}

type Option func(*Shell)

// WithHandlers installs compositor callbacks.
func WithHandlers(h Handlers) Option {
	return func(s *Shell) { s.handlers = h }
}

// WithPingTimeout sets how long clients have to answer pings.
func WithPingTimeout(d time.Duration) Option {
	return func(s *Shell) { s.pingTimeout = d }
}

// New creates a shell on top of comp. Protocols are advertised
// separately with AdvertiseXDG and AdvertiseWlShell.
func New(d *server.Display, comp *compositor.Compositor, opts ...Option) *Shell {
	s := &Shell{
		display:     d,
		comp:        comp,
		log:         logger.WithPrefix("shell"),
		pingTimeout: DefaultPingTimeout,
		bySurf:      make(map[*compositor.Surface]*ShellSurface),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHandlers replaces the compositor callbacks.
func (s *Shell) SetHandlers(h Handlers) {
	s.handlers = h
}

// Surfaces returns the live shell surfaces in creation order.
func (s *Shell) Surfaces() []*ShellSurface {
	return slices.Clone(s.surfaces)
}

// Toplevels returns the live shell surfaces with the toplevel role.
func (s *Shell) Toplevels() []*ShellSurface {
	var out []*ShellSurface
	for _, ss := range s.surfaces {
		if ss.role == RoleToplevel {
			out = append(out, ss)
		}
	}
	return out
}

// ForSurface returns the shell surface wrapping surf.
func (s *Shell) ForSurface(surf *compositor.Surface) (*ShellSurface, bool) {
	ss, ok := s.bySurf[surf]
	return ss, ok
}

// protocol is the wire side of a shell surface.
type protocol interface {
	name() string
	sendConfigure(ss *ShellSurface, c Configure) error
	sendClose(ss *ShellSurface) error
	sendPopupDone(ss *ShellSurface) error
	ping(ss *ShellSurface) (uint32, error)

	// checkCommit validates a commit before any state is applied.
	checkCommit(ss *ShellSurface, s *compositor.Surface) error
	// initialConfigure answers the first commit after the role is set.
	initialConfigure(ss *ShellSurface)
}

// ShellSurface is a surface managed by a shell protocol.
type ShellSurface struct {
	shell   *Shell
	surface *compositor.Surface
	proto   protocol

	role    Role
	roleRes *server.Resource

	title string
	appID string

	parent *ShellSurface
	popups []*ShellSurface

	queue         ConfigureQueue
	acked         *Configure
	current       Configure
	requested     States
	configured    bool
	initialCommit bool
	mapped        bool
	unmapping     bool

	state    *state.Buffer
	geometry *state.Field[compositor.Rect]
	minSize  *state.Field[compositor.Size]
	maxSize  *state.Field[compositor.Size]

	positioner Positioner
	grab       *Grab
	inactive   bool

	cancel []func()
}

// Grab is an explicit popup grab.
type Grab struct {
	Seat   *compositor.Seat
	Serial uint32
}

func (s *Shell) newShellSurface(surf *compositor.Surface, proto protocol) *ShellSurface {
	ss := &ShellSurface{
		shell:   s,
		surface: surf,
		proto:   proto,
		state:   state.New(),
	}
	ss.geometry = state.NewField(ss.state, "window_geometry", compositor.Rect{})
	ss.minSize = state.NewField(ss.state, "min_size", compositor.Size{})
	ss.maxSize = state.NewField(ss.state, "max_size", compositor.Size{})

	ss.cancel = append(ss.cancel,
		surf.OnPreCommit(ss.preCommit),
		surf.OnCommit(ss.postCommit),
		surf.OnDestroy(ss.surfaceGone),
	)

	s.surfaces = append(s.surfaces, ss)
	s.bySurf[surf] = ss
	return ss
}

func (ss *ShellSurface) String() string {
	if ss.surface == nil {
		return fmt.Sprintf("%s %s (defunct)", ss.proto.name(), ss.role)
	}
	return fmt.Sprintf("%s %s on %s", ss.proto.name(), ss.role, ss.surface)
}

func (ss *ShellSurface) Role() Role {
	return ss.role
}

// Protocol names the shell protocol, "xdg_shell" or "wl_shell".
func (ss *ShellSurface) Protocol() string {
	return ss.proto.name()
}

// Surface returns the backing surface, or nil once it is gone.
func (ss *ShellSurface) Surface() *compositor.Surface {
	return ss.surface
}

func (ss *ShellSurface) Title() string {
	return ss.title
}

func (ss *ShellSurface) AppID() string {
	return ss.appID
}

// Parent returns the live parent, if any.
func (ss *ShellSurface) Parent() *ShellSurface {
	if ss.parent == nil || ss.parent.role == RoleDestroyed {
		return nil
	}
	return ss.parent
}

// Popups returns the live child popups.
func (ss *ShellSurface) Popups() []*ShellSurface {
	return slices.Clone(ss.popups)
}

// Mapped reports whether the surface has been configured and has a
// buffer.
func (ss *ShellSurface) Mapped() bool {
	return ss.mapped
}

// Current returns the configure applied by the latest commit.
func (ss *ShellSurface) Current() Configure {
	return ss.current
}

// States returns the states of the configure in effect.
func (ss *ShellSurface) States() States {
	return ss.current.States
}

// PendingConfigures returns the configures not yet acked.
func (ss *ShellSurface) PendingConfigures() []Configure {
	return ss.queue.Pending()
}

func (ss *ShellSurface) WindowGeometry() compositor.Rect {
	return ss.geometry.Current()
}

func (ss *ShellSurface) MinSize() compositor.Size {
	return ss.minSize.Current()
}

func (ss *ShellSurface) MaxSize() compositor.Size {
	return ss.maxSize.Current()
}

// Positioner returns the popup placement rules.
func (ss *ShellSurface) Positioner() Positioner {
	return ss.positioner
}

// Grab returns the explicit grab of a popup, if any.
func (ss *ShellSurface) Grab() (Grab, bool) {
	if ss.grab == nil {
		return Grab{}, false
	}
	return *ss.grab, true
}

// AcceptsKeyboardFocus applies one policy to both protocols: toplevels
// take focus unless marked inactive, popups only with an explicit grab.
func (ss *ShellSurface) AcceptsKeyboardFocus() bool {
	switch ss.role {
	case RoleToplevel:
		return !ss.inactive
	case RolePopup:
		return ss.grab != nil
	}
	return false
}

// Configure sends a toplevel configure and returns its serial.
func (ss *ShellSurface) Configure(states States, size compositor.Size) (uint32, error) {
	if ss.role != RoleToplevel {
		return 0, fmt.Errorf("%w: configure on %s", ErrWrongRole, ss)
	}
	return ss.sendConfigure(Configure{States: states, Size: size})
}

// ConfigurePopup sends the popup its position from the positioner.
func (ss *ShellSurface) ConfigurePopup() (uint32, error) {
	if ss.role != RolePopup {
		return 0, fmt.Errorf("%w: popup configure on %s", ErrWrongRole, ss)
	}
	geom := ss.positioner.Geometry()
	return ss.sendConfigure(Configure{Geometry: geom, Size: compositor.Size{W: geom.W, H: geom.H}})
}

func (ss *ShellSurface) sendConfigure(c Configure) (uint32, error) {
	c.Serial = ss.shell.display.NextSerial()
	ss.queue.Push(c)
	ss.requested = c.States
	if err := ss.proto.sendConfigure(ss, c); err != nil {
		return 0, err
	}
	return c.Serial, nil
}

// Ack acknowledges a configure. The acked state applies on the next
// commit.
func (ss *ShellSurface) Ack(serial uint32) error {
	c, err := ss.queue.Ack(serial)
	if err != nil {
		return err
	}
	ss.acked = &c
	ss.configured = true
	return nil
}

// Close asks the client to close a toplevel.
func (ss *ShellSurface) Close() error {
	if ss.role != RoleToplevel {
		return fmt.Errorf("%w: close on %s", ErrWrongRole, ss)
	}
	return ss.proto.sendClose(ss)
}

// Dismiss sends popup_done to a popup and its children, innermost first.
func (ss *ShellSurface) Dismiss() error {
	if ss.role != RolePopup {
		return fmt.Errorf("%w: dismiss on %s", ErrWrongRole, ss)
	}
	for _, child := range slices.Backward(ss.Popups()) {
		child.Dismiss()
	}
	return ss.proto.sendPopupDone(ss)
}

// Ping sends a liveness ping for this surface's client.
func (ss *ShellSurface) Ping() (uint32, error) {
	return ss.proto.ping(ss)
}

// assignRole moves Unassigned to role and claims the surface's role slot.
func (ss *ShellSurface) assignRole(role Role, roleName string, obj *server.Resource) error {
	if ss.role != RoleUnassigned {
		return fmt.Errorf("%w: %s cannot become %s", ErrRoleAlreadyAssigned, ss, role)
	}
	if ss.surface == nil {
		return fmt.Errorf("%w: surface destroyed", ErrInvalidSurfaceState)
	}
	if err := ss.surface.SetRole(roleName, obj); err != nil {
		return err
	}
	ss.role = role
	ss.roleRes = obj
	return nil
}

func (ss *ShellSurface) setParent(parent *ShellSurface) {
	if old := ss.parent; old != nil {
		old.popups = slices.DeleteFunc(old.popups, func(p *ShellSurface) bool { return p == ss })
	}
	ss.parent = parent
	if parent != nil && ss.role == RolePopup {
		parent.popups = append(parent.popups, ss)
	}
}

// preCommit runs the checks shared by both protocols and applies the
// shell's own double-buffered state.
func (ss *ShellSurface) preCommit(s *compositor.Surface) error {
	if err := ss.proto.checkCommit(ss, s); err != nil {
		return err
	}

	b, attached := s.PendingBuffer()
	ss.unmapping = attached && b == nil && ss.mapped
	ss.state.Commit()
	return nil
}

func (ss *ShellSurface) postCommit(s *compositor.Surface) {
	if ss.role == RoleUnassigned || ss.role == RoleDestroyed {
		return
	}
	h := ss.shell.handlers

	if ss.unmapping {
		ss.unmapping = false
		ss.unmap()
		return
	}

	if ss.acked != nil {
		ss.current = *ss.acked
		ss.acked = nil
		if h.Configured != nil {
			h.Configured(ss, ss.current)
		}
	}

	if !ss.initialCommit {
		ss.initialCommit = true
		ss.proto.initialConfigure(ss)
	}
	ss.maybeMap()
}

// maybeMap maps the surface once it is configured and has a buffer.
func (ss *ShellSurface) maybeMap() {
	if ss.mapped || !ss.configured || ss.surface == nil || ss.surface.Buffer() == nil {
		return
	}
	ss.mapped = true
	ss.shell.log.Debug("Surface mapped", "surface", ss.String())
	if h := ss.shell.handlers; h.Mapped != nil {
		h.Mapped(ss)
	}
}

func (ss *ShellSurface) unmap() {
	wasMapped := ss.mapped
	ss.mapped = false
	ss.configured = false
	ss.initialCommit = false
	ss.acked = nil
	ss.queue.Reset()
	if wasMapped {
		ss.shell.log.Debug("Surface unmapped", "surface", ss.String())
		if h := ss.shell.handlers; h.Unmapped != nil {
			h.Unmapped(ss)
		}
	}
}

// requestMaximize routes a maximize request to the handler or answers
// it directly.
func (ss *ShellSurface) requestMaximize(on bool) error {
	if h := ss.shell.handlers.Maximize; h != nil {
		h(ss, on)
		return nil
	}
	return ss.toggleState(StateMaximized, on)
}

func (ss *ShellSurface) requestFullscreen(on bool) error {
	if h := ss.shell.handlers.Fullscreen; h != nil {
		h(ss, on)
		return nil
	}
	return ss.toggleState(StateFullscreen, on)
}

func (ss *ShellSurface) toggleState(st State, on bool) error {
	if !ss.initialCommit {
		// The initial configure will carry the state.
		ss.requested = ss.requested.Set(st, on)
		return nil
	}
	last, ok := ss.queue.Last()
	size := ss.current.Size
	if ok {
		size = last.Size
	}
	_, err := ss.Configure(ss.requested.Set(st, on), size)
	return err
}

// destroyRole ends the role: the surface keeps its role name but loses
// the role object, child popups are dismissed and handlers are told.
func (ss *ShellSurface) destroyRole() {
	if ss.role == RoleDestroyed {
		return
	}
	hadRole := ss.role != RoleUnassigned
	wasMapped := ss.mapped
	ss.role = RoleDestroyed
	ss.mapped = false

	for _, child := range slices.Backward(ss.Popups()) {
		if child.role == RolePopup {
			child.Dismiss()
		}
		child.parent = nil
	}
	ss.popups = nil
	ss.setParent(nil)

	if ss.surface != nil {
		ss.surface.ClearRoleObject()
	}

	h := ss.shell.handlers
	if wasMapped && h.Unmapped != nil {
		h.Unmapped(ss)
	}
	if hadRole {
		ss.shell.log.Debug("Shell surface destroyed", "surface", ss.String())
		if h.Destroyed != nil {
			h.Destroyed(ss)
		}
	}
}

// surfaceGone runs when the wl_surface is destroyed before the shell
// surface. A role object still alive ends with it.
func (ss *ShellSurface) surfaceGone(surf *compositor.Surface) {
	if ss.role == RoleToplevel || ss.role == RolePopup {
		ss.destroyRole()
	}
	for _, cancel := range ss.cancel {
		cancel()
	}
	ss.cancel = nil

	if s := ss.shell; s.bySurf[surf] == ss {
		delete(s.bySurf, surf)
	}
	ss.surface = nil
}

// release detaches the shell surface from its backing surface for good.
func (ss *ShellSurface) release() {
	ss.destroyRole()
	for _, cancel := range ss.cancel {
		cancel()
	}
	ss.cancel = nil

	s := ss.shell
	s.surfaces = slices.DeleteFunc(s.surfaces, func(o *ShellSurface) bool { return o == ss })
	if ss.surface != nil && s.bySurf[ss.surface] == ss {
		delete(s.bySurf, ss.surface)
	}
	ss.surface = nil
}
