package server

import (
	"github.com/bnema/wlrt/wire"
)

const (
	displayRequestSync        uint16 = 0
	displayRequestGetRegistry uint16 = 1

	displayEventError    uint16 = 0
	displayEventDeleteID uint16 = 1

	registryRequestBind uint16 = 0

	registryEventGlobal       uint16 = 0
	registryEventGlobalRemove uint16 = 1

	callbackEventDone uint16 = 0
)

var DisplayInterface = &Interface{
	Name:    "wl_display",
	Version: 1,
	Requests: []Method{
		{Name: "sync", Signature: "n"},
		{Name: "get_registry", Signature: "n"},
	},
	Events: []Method{
		{Name: "error", Signature: "ous"},
		{Name: "delete_id", Signature: "u"},
	},
}

var RegistryInterface = &Interface{
	Name:    "wl_registry",
	Version: 1,
	Requests: []Method{
		{Name: "bind", Signature: "usun"},
	},
	Events: []Method{
		{Name: "global", Signature: "usu"},
		{Name: "global_remove", Signature: "u"},
	},
}

var CallbackInterface = &Interface{
	Name:    "wl_callback",
	Version: 1,
	Events: []Method{
		{Name: "done", Signature: "u"},
	},
}

type displayHandler struct{}

func (displayHandler) Dispatch(r *Resource, opcode uint16, args *wire.Decoder) error {
	c := r.client
	switch opcode {
	case displayRequestSync:
		cb, err := c.NewResource(CallbackInterface, 1, args.NewID(), nil)
		if err != nil {
			return err
		}
		if err := cb.Post(callbackEventDone, c.display.NextSerial()); err != nil {
			return err
		}
		cb.Destroy()
		return nil

	case displayRequestGetRegistry:
		reg, err := c.NewResource(RegistryInterface, 1, args.NewID(), registryHandler{})
		if err != nil {
			return err
		}
		c.registries = append(c.registries, reg)
		for _, g := range c.display.Globals() {
			c.display.announce(reg, g)
		}
		return nil
	}
	return nil
}

type registryHandler struct{}

func (registryHandler) Dispatch(r *Resource, opcode uint16, args *wire.Decoder) error {
	if opcode != registryRequestBind {
		return nil
	}
	name := args.Uint()
	iface := args.String()
	version := args.Uint()
	id := args.NewID()

	if _, err := r.client.display.Bind(r.client, name, iface, version, id); err != nil {
		return WrapError(r, DisplayErrorInvalidObject, err)
	}
	return nil
}

func (registryHandler) Destroy(r *Resource) {
	c := r.client
	for i, reg := range c.registries {
		if reg == r {
			c.registries = append(c.registries[:i:i], c.registries[i+1:]...)
			return
		}
	}
}

// NewCallback creates a wl_callback for id. Handlers of requests such as
// wl_surface.frame use it and later call Done.
func NewCallback(c *Client, id uint32) (*Resource, error) {
	return c.NewResource(CallbackInterface, 1, id, nil)
}

// Done fires a callback with data and destroys it.
func Done(cb *Resource, data uint32) error {
	if cb.destroyed {
		return nil
	}
	err := cb.Post(callbackEventDone, data)
	cb.Destroy()
	return err
}
