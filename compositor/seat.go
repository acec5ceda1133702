package compositor

import (
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

const (
	seatEventCapabilities uint16 = 0
	seatEventName         uint16 = 1

	seatRequestRelease uint16 = 3

	SeatErrorMissingCapability uint32 = 0
)

var SeatInterface = &server.Interface{
	Name:    "wl_seat",
	Version: 7,
	Requests: []server.Method{
		{Name: "get_pointer", Signature: "n"},
		{Name: "get_keyboard", Signature: "n"},
		{Name: "get_touch", Signature: "n"},
		{Name: "release", Signature: "", Since: 5},
	},
	Events: []server.Method{
		{Name: "capabilities", Signature: "u"},
		{Name: "name", Signature: "s", Since: 2},
	},
}

// Seat is a wl_seat with no input devices. It exists so that requests
// taking a seat, such as popup grabs, have something to name.
type Seat struct {
	Name   string
	global *server.Global
}

// NewSeat advertises a seat called name.
func NewSeat(d *server.Display, name string) (*Seat, error) {
	s := &Seat{Name: name}
	g, err := d.Advertise(SeatInterface, SeatInterface.Version, func(r *server.Resource) error {
		r.SetHandler(s)
		if err := r.Post(seatEventCapabilities, uint32(0)); err != nil {
			return err
		}
		return r.Post(seatEventName, s.Name)
	})
	if err != nil {
		return nil, err
	}
	s.global = g
	return s, nil
}

func (s *Seat) Global() *server.Global {
	return s.global
}

func (s *Seat) Dispatch(r *server.Resource, opcode uint16, _ *wire.Decoder) error {
	if opcode == seatRequestRelease {
		r.Destroy()
		return nil
	}
	return server.Errorf(r, SeatErrorMissingCapability, ErrMissingCapability,
		"seat %q has no input devices", s.Name)
}

// SeatFromResource returns the seat behind a wl_seat resource.
func SeatFromResource(r *server.Resource) (*Seat, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.Handler().(*Seat)
	return s, ok
}
