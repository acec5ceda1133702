package control

import (
	"context"
	"fmt"

	"github.com/bnema/wlrt/foreign"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/shell"
)

// DisplayHandler answers control requests from a live display. State is
// read and changed on the display loop.
type DisplayHandler struct {
	display *server.Display
	socket  string
	shell   *shell.Shell
	foreign *foreign.Foreign
}

type HandlerOption func(*DisplayHandler)

// WithShell adds shell toplevels to status replies.
func WithShell(sh *shell.Shell) HandlerOption {
	return func(h *DisplayHandler) { h.shell = sh }
}

// WithForeign adds export and relation counts to status replies.
func WithForeign(f *foreign.Foreign) HandlerOption {
	return func(h *DisplayHandler) { h.foreign = f }
}

func NewDisplayHandler(d *server.Display, socket string, opts ...HandlerOption) *DisplayHandler {
	h := &DisplayHandler{display: d, socket: socket}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *DisplayHandler) Status(ctx context.Context) (*Status, error) {
	st := &Status{Socket: h.socket}
	err := h.display.Invoke(ctx, func() {
		d := h.display
		st.Serial = d.Serial()

		for _, c := range d.Clients() {
			info := ClientInfo{ID: uint32(c.ID()), Objects: len(c.Resources())}
			if cred, ok := c.Credentials(); ok {
				info.PID, info.UID = cred.PID, cred.UID
			}
			st.Clients = append(st.Clients, info)
		}
		for _, g := range d.Globals() {
			st.Globals = append(st.Globals, GlobalInfo{
				Name:      g.Name(),
				Interface: g.Interface().Name,
				Version:   g.Version(),
				Binds:     len(g.Binds()),
			})
		}

		if h.shell != nil {
			for _, ss := range h.shell.Toplevels() {
				surf := ss.Surface()
				if surf == nil {
					continue
				}
				st.Toplevels = append(st.Toplevels, ToplevelInfo{
					Client:   uint32(surf.Client().ID()),
					Protocol: ss.Protocol(),
					Title:    ss.Title(),
					AppID:    ss.AppID(),
					Mapped:   ss.Mapped(),
				})
			}
		}
		if h.foreign != nil {
			st.Exports = len(h.foreign.Tokens())
			st.Relations = len(h.foreign.Relations())
		}
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (h *DisplayHandler) Disconnect(ctx context.Context, id uint32) error {
	found := false
	err := h.display.Invoke(ctx, func() {
		c, ok := h.display.Client(server.ClientID(id))
		if !ok {
			return
		}
		found = true
		c.Disconnect()
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrNoSuchClient, id)
	}
	return nil
}
