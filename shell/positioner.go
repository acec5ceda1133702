package shell

import (
	"github.com/bnema/wlrt/compositor"
	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

// Anchor and gravity values share one enumeration.
const (
	EdgeNone        uint32 = 0
	EdgeTop         uint32 = 1
	EdgeBottom      uint32 = 2
	EdgeLeft        uint32 = 3
	EdgeRight       uint32 = 4
	EdgeTopLeft     uint32 = 5
	EdgeBottomLeft  uint32 = 6
	EdgeTopRight    uint32 = 7
	EdgeBottomRight uint32 = 8
)

// Constraint adjustment flags.
const (
	ConstraintSlideX  uint32 = 1
	ConstraintSlideY  uint32 = 2
	ConstraintFlipX   uint32 = 4
	ConstraintFlipY   uint32 = 8
	ConstraintResizeX uint32 = 16
	ConstraintResizeY uint32 = 32
)

const (
	positionerRequestDestroy                 uint16 = 0
	positionerRequestSetSize                 uint16 = 1
	positionerRequestSetAnchorRect           uint16 = 2
	positionerRequestSetAnchor               uint16 = 3
	positionerRequestSetGravity              uint16 = 4
	positionerRequestSetConstraintAdjustment uint16 = 5
	positionerRequestSetOffset               uint16 = 6
	positionerRequestSetReactive             uint16 = 7
	positionerRequestSetParentSize           uint16 = 8
	positionerRequestSetParentConfigure      uint16 = 9

	PositionerErrorInvalidInput uint32 = 0
)

var PositionerInterface = &server.Interface{
	Name:    "xdg_positioner",
	Version: 5,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "set_size", Signature: "ii"},
		{Name: "set_anchor_rect", Signature: "iiii"},
		{Name: "set_anchor", Signature: "u"},
		{Name: "set_gravity", Signature: "u"},
		{Name: "set_constraint_adjustment", Signature: "u"},
		{Name: "set_offset", Signature: "ii"},
		{Name: "set_reactive", Signature: "", Since: 3},
		{Name: "set_parent_size", Signature: "ii", Since: 3},
		{Name: "set_parent_configure", Signature: "u", Since: 3},
	},
}

// Positioner describes where a popup goes relative to its parent.
type Positioner struct {
	Size                 compositor.Size
	AnchorRect           compositor.Rect
	Anchor               uint32
	Gravity              uint32
	ConstraintAdjustment uint32
	Offset               compositor.Point
	Reactive             bool
	ParentSize           compositor.Size
	ParentConfigure      uint32

	hasSize       bool
	hasAnchorRect bool
}

// Complete reports whether size and anchor rectangle have been set, the
// minimum needed to place a popup.
func (p Positioner) Complete() bool {
	return p.hasSize && p.hasAnchorRect
}

// Geometry places the popup relative to the parent's window geometry.
// Constraint adjustments need output bounds and are not applied.
func (p Positioner) Geometry() compositor.Rect {
	r := p.AnchorRect
	ax, ay := r.X+r.W/2, r.Y+r.H/2
	switch p.Anchor {
	case EdgeTop:
		ay = r.Y
	case EdgeBottom:
		ay = r.Y + r.H
	case EdgeLeft:
		ax = r.X
	case EdgeRight:
		ax = r.X + r.W
	case EdgeTopLeft:
		ax, ay = r.X, r.Y
	case EdgeBottomLeft:
		ax, ay = r.X, r.Y+r.H
	case EdgeTopRight:
		ax, ay = r.X+r.W, r.Y
	case EdgeBottomRight:
		ax, ay = r.X+r.W, r.Y+r.H
	}

	w, h := p.Size.W, p.Size.H
	x, y := ax-w/2, ay-h/2
	switch p.Gravity {
	case EdgeTop:
		y = ay - h
	case EdgeBottom:
		y = ay
	case EdgeLeft:
		x = ax - w
	case EdgeRight:
		x = ax
	case EdgeTopLeft:
		x, y = ax-w, ay-h
	case EdgeBottomLeft:
		x, y = ax-w, ay
	case EdgeTopRight:
		x, y = ax, ay-h
	case EdgeBottomRight:
		x, y = ax, ay
	}

	return compositor.Rect{X: x + p.Offset.X, Y: y + p.Offset.Y, W: w, H: h}
}

type positioner struct {
	p Positioner
}

func positionerFromResource(c *server.Client, id uint32) (Positioner, error) {
	r, err := c.Lookup(id, PositionerInterface)
	if err != nil {
		return Positioner{}, err
	}
	return r.Handler().(*positioner).p, nil
}

func (pos *positioner) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	p := &pos.p
	switch opcode {
	case positionerRequestDestroy:
		r.Destroy()

	case positionerRequestSetSize:
		size := compositor.Size{W: args.Int(), H: args.Int()}
		if size.W <= 0 || size.H <= 0 {
			return server.Errorf(r, PositionerErrorInvalidInput, ErrInvalidInput, "invalid size %dx%d", size.W, size.H)
		}
		p.Size, p.hasSize = size, true

	case positionerRequestSetAnchorRect:
		rect := compositor.Rect{X: args.Int(), Y: args.Int(), W: args.Int(), H: args.Int()}
		if rect.W < 0 || rect.H < 0 {
			return server.Errorf(r, PositionerErrorInvalidInput, ErrInvalidInput, "invalid anchor rect %dx%d", rect.W, rect.H)
		}
		p.AnchorRect, p.hasAnchorRect = rect, true

	case positionerRequestSetAnchor, positionerRequestSetGravity:
		v := args.Uint()
		if v > EdgeBottomRight {
			return server.Errorf(r, PositionerErrorInvalidInput, ErrInvalidInput, "invalid anchor or gravity %d", v)
		}
		if opcode == positionerRequestSetAnchor {
			p.Anchor = v
		} else {
			p.Gravity = v
		}

	case positionerRequestSetConstraintAdjustment:
		p.ConstraintAdjustment = args.Uint()

	case positionerRequestSetOffset:
		p.Offset = compositor.Point{X: args.Int(), Y: args.Int()}

	case positionerRequestSetReactive:
		p.Reactive = true

	case positionerRequestSetParentSize:
		p.ParentSize = compositor.Size{W: args.Int(), H: args.Int()}

	case positionerRequestSetParentConfigure:
		p.ParentConfigure = args.Uint()
	}
	return nil
}
