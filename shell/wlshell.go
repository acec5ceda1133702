package shell

import (
	"fmt"

	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

const WlShellErrorRole uint32 = 0

// TransientInactive is the wl_shell_surface transient flag for surfaces
// that should not take keyboard focus.
const TransientInactive uint32 = 0x1

const (
	wlShellRequestGetShellSurface uint16 = 0

	shellSurfaceRequestPong          uint16 = 0
	shellSurfaceRequestMove          uint16 = 1
	shellSurfaceRequestResize        uint16 = 2
	shellSurfaceRequestSetToplevel   uint16 = 3
	shellSurfaceRequestSetTransient  uint16 = 4
	shellSurfaceRequestSetFullscreen uint16 = 5
	shellSurfaceRequestSetPopup      uint16 = 6
	shellSurfaceRequestSetMaximized  uint16 = 7
	shellSurfaceRequestSetTitle      uint16 = 8
	shellSurfaceRequestSetClass      uint16 = 9

	shellSurfaceEventPing      uint16 = 0
	shellSurfaceEventConfigure uint16 = 1
	shellSurfaceEventPopupDone uint16 = 2
)

var WlShellInterface = &server.Interface{
	Name:    "wl_shell",
	Version: 1,
	Requests: []server.Method{
		{Name: "get_shell_surface", Signature: "no"},
	},
}

var ShellSurfaceInterface = &server.Interface{
	Name:    "wl_shell_surface",
	Version: 1,
	Requests: []server.Method{
		{Name: "pong", Signature: "u"},
		{Name: "move", Signature: "ou"},
		{Name: "resize", Signature: "ouu"},
		{Name: "set_toplevel", Signature: ""},
		{Name: "set_transient", Signature: "oiiu"},
		{Name: "set_fullscreen", Signature: "uu?o"},
		{Name: "set_popup", Signature: "ouoiiu"},
		{Name: "set_maximized", Signature: "?o"},
		{Name: "set_title", Signature: "s"},
		{Name: "set_class", Signature: "s"},
	},
	Events: []server.Method{
		{Name: "ping", Signature: "u"},
		{Name: "configure", Signature: "uii"},
		{Name: "popup_done", Signature: ""},
	},
}

// AdvertiseWlShell advertises the legacy wl_shell.
func (s *Shell) AdvertiseWlShell() (*server.Global, error) {
	g, err := s.display.Advertise(WlShellInterface, WlShellInterface.Version, func(r *server.Resource) error {
		r.SetHandler(&wlShell{shell: s})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.wlShell = g
	return g, nil
}

type wlShell struct {
	shell *Shell
}

func (w *wlShell) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	if opcode != wlShellRequestGetShellSurface {
		return nil
	}
	c := r.Client()
	id, surfaceID := args.NewID(), args.Object()

	sr, err := c.Lookup(surfaceID, compositor.SurfaceInterface)
	if err != nil {
		return err
	}
	surf, _ := compositor.SurfaceFromResource(sr)
	if _, exists := w.shell.bySurf[surf]; exists {
		return server.Errorf(r, WlShellErrorRole, ErrRoleAlreadyAssigned, "%s already has a shell surface", surf)
	}

	res, err := c.NewResource(ShellSurfaceInterface, r.Version(), id, nil)
	if err != nil {
		return err
	}
	if err := surf.SetRole(ShellSurfaceInterface.Name, res); err != nil {
		res.Destroy()
		return server.WrapError(r, WlShellErrorRole, err)
	}
	// The shell surface has no destroy request and dies with its surface.
	res.SetParent(sr)

	ws := &wlShellSurface{shellRes: r, res: res}
	res.SetHandler(ws)
	ws.ss = w.shell.newShellSurface(surf, ws)
	ws.pinger = NewPinger(w.shell.display, w.shell.pingTimeout,
		func(serial uint32) error { return res.Post(shellSurfaceEventPing, serial) },
		func(serial uint32) {
			w.shell.log.Warn("Client did not answer ping", "client", c.ID(), "serial", serial)
			if h := w.shell.handlers.PingTimeout; h != nil {
				h(c, serial)
			}
		})
	w.shell.log.Debug("wl_shell_surface created", "surface", surf.String())
	return nil
}

// wlShellSurface is the wl_shell side of a ShellSurface. Configures are
// hints with no ack, so each one counts as acked once sent.
type wlShellSurface struct {
	shellRes *server.Resource
	res      *server.Resource
	ss       *ShellSurface
	pinger   *Pinger
}

func (ws *wlShellSurface) name() string {
	return "wl_shell"
}

// setRole claims role. Repeating the current role is allowed; switching
// between toplevel and popup is not.
func (ws *wlShellSurface) setRole(role Role) error {
	ss := ws.ss
	switch ss.role {
	case role:
		return nil
	case RoleUnassigned:
		ss.role = role
		ss.roleRes = ws.res
		return nil
	}
	return server.Errorf(ws.shellRes, WlShellErrorRole, ErrRoleAlreadyAssigned,
		"%s cannot become %s", ss, role)
}

func (ws *wlShellSurface) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	ss := ws.ss
	h := ss.shell.handlers
	c := r.Client()

	switch opcode {
	case shellSurfaceRequestPong:
		ws.pinger.Pong(args.Uint())

	case shellSurfaceRequestMove:
		seat, err := lookupSeat(c, args.Object())
		if err != nil {
			return err
		}
		serial := args.Uint()
		if h.Move != nil {
			h.Move(ss, seat, serial)
		}

	case shellSurfaceRequestResize:
		seat, err := lookupSeat(c, args.Object())
		if err != nil {
			return err
		}
		serial, edges := args.Uint(), args.Uint()
		if h.Resize != nil {
			h.Resize(ss, seat, serial, edges)
		}

	case shellSurfaceRequestSetToplevel:
		if err := ws.setRole(RoleToplevel); err != nil {
			return err
		}
		ss.inactive = false
		ss.setParent(nil)

	case shellSurfaceRequestSetTransient:
		parent, err := ws.parentSurface(c, args.Object())
		if err != nil {
			return err
		}
		offset := compositor.Point{X: args.Int(), Y: args.Int()}
		flags := args.Uint()
		if err := ws.setRole(RoleToplevel); err != nil {
			return err
		}
		ss.inactive = flags&TransientInactive != 0
		ss.positioner = Positioner{Offset: offset}
		ss.setParent(parent)

	case shellSurfaceRequestSetFullscreen:
		args.Uint() // method
		args.Uint() // framerate
		args.Object()
		if err := ws.setRole(RoleToplevel); err != nil {
			return err
		}
		return ss.requestFullscreen(true)

	case shellSurfaceRequestSetPopup:
		seat, err := lookupSeat(c, args.Object())
		if err != nil {
			return err
		}
		serial := args.Uint()
		parent, err := ws.parentSurface(c, args.Object())
		if err != nil {
			return err
		}
		offset := compositor.Point{X: args.Int(), Y: args.Int()}
		args.Uint() // flags
		if err := ws.setRole(RolePopup); err != nil {
			return err
		}
		ss.grab = &Grab{Seat: seat, Serial: serial}
		ss.positioner = Positioner{Offset: offset}
		ss.setParent(parent)

	case shellSurfaceRequestSetMaximized:
		args.Object()
		if err := ws.setRole(RoleToplevel); err != nil {
			return err
		}
		return ss.requestMaximize(true)

	case shellSurfaceRequestSetTitle:
		ss.title = args.String()
		if h.TitleChanged != nil {
			h.TitleChanged(ss)
		}

	case shellSurfaceRequestSetClass:
		ss.appID = args.String()
		if h.TitleChanged != nil {
			h.TitleChanged(ss)
		}
	}
	return nil
}

func (ws *wlShellSurface) Destroy(*server.Resource) {
	ws.pinger.Stop()
	ws.ss.release()
}

// parentSurface resolves a wl_surface argument to its shell surface. A
// parent without a shell surface is allowed and yields nil.
func (ws *wlShellSurface) parentSurface(c *server.Client, id uint32) (*ShellSurface, error) {
	r, err := c.Lookup(id, compositor.SurfaceInterface)
	if err != nil {
		return nil, err
	}
	surf, _ := compositor.SurfaceFromResource(r)
	if parent, ok := ws.ss.shell.bySurf[surf]; ok && parent != ws.ss {
		return parent, nil
	}
	return nil, nil
}

func (ws *wlShellSurface) checkCommit(*ShellSurface, *compositor.Surface) error {
	return nil
}

func (ws *wlShellSurface) initialConfigure(ss *ShellSurface) {
	ss.configured = true
	if ss.role == RoleToplevel && ss.requested != 0 {
		if _, err := ss.Configure(ss.requested, compositor.Size{}); err != nil {
			ss.shell.log.Warn("Initial configure failed", "surface", ss.String(), "err", err)
		}
	}
}

func (ws *wlShellSurface) sendConfigure(ss *ShellSurface, c Configure) error {
	if err := ws.res.Post(shellSurfaceEventConfigure, c.Edges, c.Size.W, c.Size.H); err != nil {
		return err
	}
	return ss.Ack(c.Serial)
}

func (ws *wlShellSurface) sendClose(ss *ShellSurface) error {
	return fmt.Errorf("%w: wl_shell has no close event", ErrWrongRole)
}

func (ws *wlShellSurface) sendPopupDone(*ShellSurface) error {
	return ws.res.Post(shellSurfaceEventPopupDone)
}

func (ws *wlShellSurface) ping(*ShellSurface) (uint32, error) {
	return ws.pinger.Ping()
}
