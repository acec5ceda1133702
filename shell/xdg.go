package shell

import (
	"slices"

	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/state"
	"github.com/bnema/wlrt/wire"
)

// xdg_wm_base error codes.
const (
	WmBaseErrorRole                uint32 = 0
	WmBaseErrorDefunctSurfaces     uint32 = 1
	WmBaseErrorNotTheTopmostPopup  uint32 = 2
	WmBaseErrorInvalidPopupParent  uint32 = 3
	WmBaseErrorInvalidSurfaceState uint32 = 4
	WmBaseErrorInvalidPositioner   uint32 = 5
	WmBaseErrorUnresponsive        uint32 = 6
)

// xdg_surface error codes.
const (
	XdgSurfaceErrorNotConstructed     uint32 = 1
	XdgSurfaceErrorAlreadyConstructed uint32 = 2
	XdgSurfaceErrorUnconfiguredBuffer uint32 = 3
	XdgSurfaceErrorInvalidSerial      uint32 = 4
	XdgSurfaceErrorInvalidSize        uint32 = 5
	XdgSurfaceErrorDefunctRoleObject  uint32 = 6
)

// xdg_toplevel error codes.
const (
	ToplevelErrorInvalidResizeEdge uint32 = 0
	ToplevelErrorInvalidParent     uint32 = 1
	ToplevelErrorInvalidSize       uint32 = 2
)

const PopupErrorInvalidGrab uint32 = 0

// Resize edges, shared with wl_shell_surface.
const (
	ResizeNone        uint32 = 0
	ResizeTop         uint32 = 1
	ResizeBottom      uint32 = 2
	ResizeLeft        uint32 = 4
	ResizeTopLeft     uint32 = 5
	ResizeBottomLeft  uint32 = 6
	ResizeRight       uint32 = 8
	ResizeTopRight    uint32 = 9
	ResizeBottomRight uint32 = 10
)

// xdg_toplevel.wm_capabilities values.
const (
	CapabilityWindowMenu uint32 = 1
	CapabilityMaximize   uint32 = 2
	CapabilityFullscreen uint32 = 3
	CapabilityMinimize   uint32 = 4
)

const (
	wmBaseRequestDestroy          uint16 = 0
	wmBaseRequestCreatePositioner uint16 = 1
	wmBaseRequestGetXdgSurface    uint16 = 2
	wmBaseRequestPong             uint16 = 3

	wmBaseEventPing uint16 = 0

	xdgSurfaceRequestDestroy           uint16 = 0
	xdgSurfaceRequestGetToplevel       uint16 = 1
	xdgSurfaceRequestGetPopup          uint16 = 2
	xdgSurfaceRequestSetWindowGeometry uint16 = 3
	xdgSurfaceRequestAckConfigure      uint16 = 4

	xdgSurfaceEventConfigure uint16 = 0

	toplevelRequestDestroy         uint16 = 0
	toplevelRequestSetParent       uint16 = 1
	toplevelRequestSetTitle        uint16 = 2
	toplevelRequestSetAppID        uint16 = 3
	toplevelRequestShowWindowMenu  uint16 = 4
	toplevelRequestMove            uint16 = 5
	toplevelRequestResize          uint16 = 6
	toplevelRequestSetMaxSize      uint16 = 7
	toplevelRequestSetMinSize      uint16 = 8
	toplevelRequestSetMaximized    uint16 = 9
	toplevelRequestUnsetMaximized  uint16 = 10
	toplevelRequestSetFullscreen   uint16 = 11
	toplevelRequestUnsetFullscreen uint16 = 12
	toplevelRequestSetMinimized    uint16 = 13

	toplevelEventConfigure      uint16 = 0
	toplevelEventClose          uint16 = 1
	toplevelEventWmCapabilities uint16 = 3

	popupRequestDestroy    uint16 = 0
	popupRequestGrab       uint16 = 1
	popupRequestReposition uint16 = 2

	popupEventConfigure    uint16 = 0
	popupEventPopupDone    uint16 = 1
	popupEventRepositioned uint16 = 2
)

var WmBaseInterface = &server.Interface{
	Name:    "xdg_wm_base",
	Version: 5,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "create_positioner", Signature: "n"},
		{Name: "get_xdg_surface", Signature: "no"},
		{Name: "pong", Signature: "u"},
	},
	Events: []server.Method{
		{Name: "ping", Signature: "u"},
	},
}

var XdgSurfaceInterface = &server.Interface{
	Name:    "xdg_surface",
	Version: 5,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "get_toplevel", Signature: "n"},
		{Name: "get_popup", Signature: "n?oo"},
		{Name: "set_window_geometry", Signature: "iiii"},
		{Name: "ack_configure", Signature: "u"},
	},
	Events: []server.Method{
		{Name: "configure", Signature: "u"},
	},
}

var ToplevelInterface = &server.Interface{
	Name:    "xdg_toplevel",
	Version: 5,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "set_parent", Signature: "?o"},
		{Name: "set_title", Signature: "s"},
		{Name: "set_app_id", Signature: "s"},
		{Name: "show_window_menu", Signature: "ouii"},
		{Name: "move", Signature: "ou"},
		{Name: "resize", Signature: "ouu"},
		{Name: "set_max_size", Signature: "ii"},
		{Name: "set_min_size", Signature: "ii"},
		{Name: "set_maximized", Signature: ""},
		{Name: "unset_maximized", Signature: ""},
		{Name: "set_fullscreen", Signature: "?o"},
		{Name: "unset_fullscreen", Signature: ""},
		{Name: "set_minimized", Signature: ""},
	},
	Events: []server.Method{
		{Name: "configure", Signature: "iia"},
		{Name: "close", Signature: ""},
		{Name: "configure_bounds", Signature: "ii", Since: 4},
		{Name: "wm_capabilities", Signature: "a", Since: 5},
	},
}

var PopupInterface = &server.Interface{
	Name:    "xdg_popup",
	Version: 5,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "grab", Signature: "ou"},
		{Name: "reposition", Signature: "ou", Since: 3},
	},
	Events: []server.Method{
		{Name: "configure", Signature: "iiii"},
		{Name: "popup_done", Signature: ""},
		{Name: "repositioned", Signature: "u", Since: 3},
	},
}

// AdvertiseXDG advertises xdg_wm_base.
func (s *Shell) AdvertiseXDG() (*server.Global, error) {
	g, err := s.display.Advertise(WmBaseInterface, WmBaseInterface.Version, func(r *server.Resource) error {
		b := &wmBase{shell: s, res: r}
		b.pinger = NewPinger(s.display, s.pingTimeout,
			func(serial uint32) error { return r.Post(wmBaseEventPing, serial) },
			b.pingTimeout)
		r.SetHandler(b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.xdg = g
	return g, nil
}

// Ping pings c through its xdg_wm_base. It fails with ErrWrongRole when
// the client never bound one.
func (s *Shell) Ping(c *server.Client) (uint32, error) {
	if b := s.wmBaseFor(c); b != nil {
		return b.pinger.Ping()
	}
	return 0, ErrWrongRole
}

// Unresponsive reports whether c let its last ping time out.
func (s *Shell) Unresponsive(c *server.Client) bool {
	if b := s.wmBaseFor(c); b != nil {
		return b.pinger.Unresponsive()
	}
	return false
}

func (s *Shell) wmBaseFor(c *server.Client) *wmBase {
	if s.xdg == nil {
		return nil
	}
	for _, r := range s.xdg.Binds() {
		if r.Client() == c {
			if b, ok := r.Handler().(*wmBase); ok {
				return b
			}
		}
	}
	return nil
}

type wmBase struct {
	shell    *Shell
	res      *server.Resource
	pinger   *Pinger
	surfaces []*xdgSurface
}

func (b *wmBase) pingTimeout(serial uint32) {
	c := b.res.Client()
	b.shell.log.Warn("Client did not answer ping", "client", c.ID(), "serial", serial)
	if h := b.shell.handlers.PingTimeout; h != nil {
		h(c, serial)
	}
}

func (b *wmBase) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	c := r.Client()
	switch opcode {
	case wmBaseRequestDestroy:
		if len(b.surfaces) > 0 {
			return server.Errorf(r, WmBaseErrorDefunctSurfaces, ErrDefunctRoleObject,
				"xdg_wm_base destroyed with %d xdg_surfaces alive", len(b.surfaces))
		}
		r.Destroy()

	case wmBaseRequestCreatePositioner:
		_, err := c.NewResource(PositionerInterface, r.Version(), args.NewID(), &positioner{})
		return err

	case wmBaseRequestGetXdgSurface:
		return b.getXdgSurface(r, args.NewID(), args.Object())

	case wmBaseRequestPong:
		b.pinger.Pong(args.Uint())
	}
	return nil
}

func (b *wmBase) Destroy(*server.Resource) {
	b.pinger.Stop()
}

func (b *wmBase) getXdgSurface(r *server.Resource, id, surfaceID uint32) error {
	c := r.Client()
	sr, err := c.Lookup(surfaceID, compositor.SurfaceInterface)
	if err != nil {
		return err
	}
	surf, _ := compositor.SurfaceFromResource(sr)

	if _, exists := b.shell.bySurf[surf]; exists {
		return server.Errorf(r, WmBaseErrorRole, ErrRoleAlreadyAssigned, "%s already has a shell surface", surf)
	}
	switch surf.Role() {
	case "", "xdg_toplevel", "xdg_popup":
	default:
		return server.Errorf(r, WmBaseErrorRole, ErrRoleAlreadyAssigned, "%s has role %s", surf, surf.Role())
	}
	if pending, attached := surf.PendingBuffer(); surf.Buffer() != nil || (attached && pending != nil) {
		return server.Errorf(r, WmBaseErrorInvalidSurfaceState, ErrInvalidSurfaceState,
			"%s has a buffer attached", surf)
	}

	xs := &xdgSurface{base: b}
	res, err := c.NewResource(XdgSurfaceInterface, r.Version(), id, xs)
	if err != nil {
		return err
	}
	xs.res = res
	xs.ss = b.shell.newShellSurface(surf, xs)
	b.surfaces = append(b.surfaces, xs)
	b.shell.log.Debug("xdg_surface created", "surface", surf.String())
	return nil
}

// xdgSurface is the xdg_surface object; it is also the xdg-shell side of
// its ShellSurface.
type xdgSurface struct {
	base *wmBase
	res  *server.Resource
	ss   *ShellSurface

	toplevel *server.Resource
	popup    *server.Resource
}

func xdgSurfaceFromResource(c *server.Client, id uint32) (*xdgSurface, error) {
	r, err := c.Lookup(id, XdgSurfaceInterface)
	if err != nil {
		return nil, err
	}
	return r.Handler().(*xdgSurface), nil
}

func (xs *xdgSurface) name() string {
	return "xdg_shell"
}

func (xs *xdgSurface) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	ss := xs.ss
	switch opcode {
	case xdgSurfaceRequestDestroy:
		if obj := ss.roleRes; obj != nil && !obj.Destroyed() {
			return server.Errorf(r, XdgSurfaceErrorDefunctRoleObject, ErrDefunctRoleObject,
				"xdg_surface destroyed before its %s", obj)
		}
		r.Destroy()

	case xdgSurfaceRequestGetToplevel:
		return xs.getToplevel(r, args.NewID())

	case xdgSurfaceRequestGetPopup:
		return xs.getPopup(r, args.NewID(), args.Object(), args.Object())

	case xdgSurfaceRequestSetWindowGeometry:
		rect := compositor.Rect{X: args.Int(), Y: args.Int(), W: args.Int(), H: args.Int()}
		if ss.role == RoleUnassigned {
			return server.Errorf(r, XdgSurfaceErrorNotConstructed, ErrNotConstructed, "window geometry set before a role")
		}
		if rect.W <= 0 || rect.H <= 0 {
			return server.Errorf(r, XdgSurfaceErrorInvalidSize, ErrInvalidSize, "window geometry %dx%d", rect.W, rect.H)
		}
		ss.geometry.Set(rect)

	case xdgSurfaceRequestAckConfigure:
		serial := args.Uint()
		if ss.role == RoleUnassigned {
			return server.Errorf(r, XdgSurfaceErrorNotConstructed, ErrNotConstructed, "ack_configure before a role")
		}
		if err := ss.Ack(serial); err != nil {
			return server.WrapError(r, XdgSurfaceErrorInvalidSerial, err)
		}
	}
	return nil
}

func (xs *xdgSurface) Destroy(*server.Resource) {
	xs.ss.release()
	b := xs.base
	b.surfaces = slices.DeleteFunc(b.surfaces, func(o *xdgSurface) bool { return o == xs })
}

func (xs *xdgSurface) construct(r *server.Resource, iface *server.Interface, id uint32, role Role, h server.Dispatcher) (*server.Resource, error) {
	ss := xs.ss
	if ss.surface == nil {
		return nil, server.Errorf(xs.base.res, WmBaseErrorInvalidSurfaceState, ErrInvalidSurfaceState,
			"wl_surface of xdg_surface %d is gone", r.ID())
	}
	if ss.role != RoleUnassigned {
		return nil, server.Errorf(r, XdgSurfaceErrorAlreadyConstructed, ErrRoleAlreadyAssigned,
			"xdg_surface is already a %s", ss.role)
	}

	res, err := r.Client().NewResource(iface, r.Version(), id, nil)
	if err != nil {
		return nil, err
	}
	if err := ss.assignRole(role, iface.Name, res); err != nil {
		res.Destroy()
		return nil, server.WrapError(xs.base.res, WmBaseErrorRole, err)
	}
	res.SetHandler(h)
	return res, nil
}

func (xs *xdgSurface) getToplevel(r *server.Resource, id uint32) error {
	res, err := xs.construct(r, ToplevelInterface, id, RoleToplevel, &xdgToplevel{xs: xs})
	if err != nil {
		return err
	}
	xs.toplevel = res

	caps := uint32Array(CapabilityMaximize, CapabilityFullscreen, CapabilityMinimize)
	return res.Post(toplevelEventWmCapabilities, caps)
}

func (xs *xdgSurface) getPopup(r *server.Resource, id, parentID, positionerID uint32) error {
	c := r.Client()
	pos, err := positionerFromResource(c, positionerID)
	if err != nil {
		return err
	}
	if !pos.Complete() {
		return server.Errorf(xs.base.res, WmBaseErrorInvalidPositioner, ErrInvalidPositioner,
			"positioner needs a size and an anchor rectangle")
	}

	var parent *ShellSurface
	if parentID != 0 {
		px, err := xdgSurfaceFromResource(c, parentID)
		if err != nil {
			return err
		}
		if px.ss.role != RoleToplevel && px.ss.role != RolePopup {
			return server.Errorf(xs.base.res, WmBaseErrorInvalidPopupParent, ErrInvalidParent,
				"popup parent is %s", px.ss.role)
		}
		parent = px.ss
	}

	res, err := xs.construct(r, PopupInterface, id, RolePopup, &xdgPopup{xs: xs})
	if err != nil {
		return err
	}
	xs.popup = res
	xs.ss.positioner = pos
	xs.ss.setParent(parent)
	return nil
}

func (xs *xdgSurface) checkCommit(ss *ShellSurface, s *compositor.Surface) error {
	switch ss.role {
	case RoleUnassigned:
		return server.Errorf(xs.res, XdgSurfaceErrorNotConstructed, ErrNotConstructed,
			"%s committed before a role was assigned", s)
	case RoleDestroyed:
		return nil
	}
	if b, attached := s.PendingBuffer(); attached && b != nil && !ss.configured {
		return server.Errorf(xs.res, XdgSurfaceErrorUnconfiguredBuffer, ErrUnconfiguredBuffer,
			"%s attached a buffer before acking a configure", s)
	}
	if ss.role == RoleToplevel {
		lo, hi := pendingOr(ss.minSize), pendingOr(ss.maxSize)
		if (hi.W > 0 && lo.W > hi.W) || (hi.H > 0 && lo.H > hi.H) {
			return server.Errorf(xs.toplevel, ToplevelErrorInvalidSize, ErrInvalidSize,
				"min size %dx%d exceeds max size %dx%d", lo.W, lo.H, hi.W, hi.H)
		}
	}
	return nil
}

func (xs *xdgSurface) initialConfigure(ss *ShellSurface) {
	var err error
	switch ss.role {
	case RoleToplevel:
		_, err = ss.Configure(ss.requested, compositor.Size{})
	case RolePopup:
		_, err = ss.ConfigurePopup()
	}
	if err != nil {
		ss.shell.log.Warn("Initial configure failed", "surface", ss.String(), "err", err)
	}
}

func (xs *xdgSurface) sendConfigure(ss *ShellSurface, c Configure) error {
	var err error
	switch ss.role {
	case RoleToplevel:
		err = xs.toplevel.Post(toplevelEventConfigure, c.Size.W, c.Size.H, c.States.Array())
	case RolePopup:
		g := c.Geometry
		err = xs.popup.Post(popupEventConfigure, g.X, g.Y, g.W, g.H)
	}
	if err != nil {
		return err
	}
	return xs.res.Post(xdgSurfaceEventConfigure, c.Serial)
}

func (xs *xdgSurface) sendClose(*ShellSurface) error {
	return xs.toplevel.Post(toplevelEventClose)
}

func (xs *xdgSurface) sendPopupDone(*ShellSurface) error {
	return xs.popup.Post(popupEventPopupDone)
}

func (xs *xdgSurface) ping(*ShellSurface) (uint32, error) {
	return xs.base.pinger.Ping()
}

type xdgToplevel struct {
	xs *xdgSurface
}

func (t *xdgToplevel) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	ss := t.xs.ss
	h := ss.shell.handlers
	c := r.Client()

	switch opcode {
	case toplevelRequestDestroy:
		r.Destroy()

	case toplevelRequestSetParent:
		return t.setParent(r, args.Object())

	case toplevelRequestSetTitle:
		ss.title = args.String()
		if h.TitleChanged != nil {
			h.TitleChanged(ss)
		}

	case toplevelRequestSetAppID:
		ss.appID = args.String()
		if h.TitleChanged != nil {
			h.TitleChanged(ss)
		}

	case toplevelRequestShowWindowMenu:
		// No window menu is offered; see wm_capabilities.

	case toplevelRequestMove:
		seat, err := lookupSeat(c, args.Object())
		if err != nil {
			return err
		}
		serial := args.Uint()
		if h.Move != nil {
			h.Move(ss, seat, serial)
		}

	case toplevelRequestResize:
		seat, err := lookupSeat(c, args.Object())
		if err != nil {
			return err
		}
		serial, edges := args.Uint(), args.Uint()
		if !validResizeEdge(edges) {
			return server.Errorf(r, ToplevelErrorInvalidResizeEdge, ErrInvalidInput, "invalid resize edge %d", edges)
		}
		if h.Resize != nil {
			h.Resize(ss, seat, serial, edges)
		}

	case toplevelRequestSetMaxSize, toplevelRequestSetMinSize:
		size := compositor.Size{W: args.Int(), H: args.Int()}
		if size.W < 0 || size.H < 0 {
			return server.Errorf(r, ToplevelErrorInvalidSize, ErrInvalidSize, "negative size %dx%d", size.W, size.H)
		}
		if opcode == toplevelRequestSetMaxSize {
			ss.maxSize.Set(size)
		} else {
			ss.minSize.Set(size)
		}

	case toplevelRequestSetMaximized, toplevelRequestUnsetMaximized:
		return ss.requestMaximize(opcode == toplevelRequestSetMaximized)

	case toplevelRequestSetFullscreen, toplevelRequestUnsetFullscreen:
		return ss.requestFullscreen(opcode == toplevelRequestSetFullscreen)

	case toplevelRequestSetMinimized:
		if h.Minimize != nil {
			h.Minimize(ss)
		}
	}
	return nil
}

func (t *xdgToplevel) Destroy(*server.Resource) {
	t.xs.ss.destroyRole()
}

func (t *xdgToplevel) setParent(r *server.Resource, parentID uint32) error {
	ss := t.xs.ss
	if parentID == 0 {
		ss.setParent(nil)
		return nil
	}
	pr, err := r.Client().Lookup(parentID, ToplevelInterface)
	if err != nil {
		return err
	}
	parent := pr.Handler().(*xdgToplevel).xs.ss
	for p := parent; p != nil; p = p.Parent() {
		if p == ss {
			return server.Errorf(r, ToplevelErrorInvalidParent, ErrInvalidParent, "parent would form a loop")
		}
	}
	ss.setParent(parent)
	return nil
}

type xdgPopup struct {
	xs *xdgSurface
}

func (p *xdgPopup) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	ss := p.xs.ss
	c := r.Client()

	switch opcode {
	case popupRequestDestroy:
		if len(ss.popups) > 0 {
			return server.Errorf(p.xs.base.res, WmBaseErrorNotTheTopmostPopup, ErrNotTopmostPopup,
				"popup destroyed while it has %d child popups", len(ss.popups))
		}
		r.Destroy()

	case popupRequestGrab:
		seat, err := lookupSeat(c, args.Object())
		if err != nil {
			return err
		}
		serial := args.Uint()
		if ss.initialCommit {
			return server.Errorf(r, PopupErrorInvalidGrab, ErrInvalidGrab, "grab after the popup was mapped")
		}
		ss.grab = &Grab{Seat: seat, Serial: serial}

	case popupRequestReposition:
		pos, err := positionerFromResource(c, args.Object())
		if err != nil {
			return err
		}
		token := args.Uint()
		if !pos.Complete() {
			return server.Errorf(p.xs.base.res, WmBaseErrorInvalidPositioner, ErrInvalidPositioner,
				"positioner needs a size and an anchor rectangle")
		}
		ss.positioner = pos
		if err := r.Post(popupEventRepositioned, token); err != nil {
			return err
		}
		_, err = ss.ConfigurePopup()
		return err
	}
	return nil
}

func (p *xdgPopup) Destroy(*server.Resource) {
	p.xs.ss.destroyRole()
}

func lookupSeat(c *server.Client, id uint32) (*compositor.Seat, error) {
	r, err := c.Lookup(id, compositor.SeatInterface)
	if err != nil {
		return nil, err
	}
	seat, _ := compositor.SeatFromResource(r)
	return seat, nil
}

func validResizeEdge(e uint32) bool {
	return e <= ResizeBottomRight && e != 3 && e != 7
}

func pendingOr[T any](f *state.Field[T]) T {
	if f.Dirty() {
		return f.Pending()
	}
	return f.Current()
}
