package compositor

import (
	"slices"

	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

type Point struct {
	X, Y int32
}

type Size struct {
	W, H int32
}

// Empty reports whether either dimension is zero or negative.
func (s Size) Empty() bool {
	return s.W <= 0 || s.H <= 0
}

type Rect struct {
	X, Y, W, H int32
}

func (r Rect) Contains(x, y int32) bool {
	return x >= r.X && y >= r.Y && x < r.X+r.W && y < r.Y+r.H
}

// RegionOp is one add or subtract applied to a region.
type RegionOp struct {
	Rect
	Subtract bool
}

// Region is a set of points built from ordered add and subtract
// operations. A nil Region means "unset"; what that implies depends on
// the field holding it.
type Region []RegionOp

// Contains replays the operations for one point.
func (r Region) Contains(x, y int32) bool {
	in := false
	for _, op := range r {
		if op.Rect.Contains(x, y) {
			in = !op.Subtract
		}
	}
	return in
}

func regionEqual(a, b Region) bool {
	return (a == nil) == (b == nil) && slices.Equal(a, b)
}

type region struct {
	ops Region
}

func (rg *region) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	switch opcode {
	case regionRequestDestroy:
		r.Destroy()
	case regionRequestAdd, regionRequestSubtract:
		rect := Rect{X: args.Int(), Y: args.Int(), W: args.Int(), H: args.Int()}
		rg.ops = append(rg.ops, RegionOp{Rect: rect, Subtract: opcode == regionRequestSubtract})
	}
	return nil
}

// regionFromResource returns a copy of the region r names. A null id
// yields nil.
func regionFromResource(c *server.Client, id uint32) (Region, error) {
	res, err := c.Lookup(id, RegionInterface)
	if err != nil || res == nil {
		return nil, err
	}
	rg := res.Handler().(*region)
	return append(Region{}, rg.ops...), nil
}
