package compositor

import "github.com/bnema/wlrt/server"

const (
	compositorRequestCreateSurface uint16 = 0
	compositorRequestCreateRegion  uint16 = 1
)

const (
	surfaceRequestDestroy            uint16 = 0
	surfaceRequestAttach             uint16 = 1
	surfaceRequestDamage             uint16 = 2
	surfaceRequestFrame              uint16 = 3
	surfaceRequestSetOpaqueRegion    uint16 = 4
	surfaceRequestSetInputRegion     uint16 = 5
	surfaceRequestCommit             uint16 = 6
	surfaceRequestSetBufferTransform uint16 = 7
	surfaceRequestSetBufferScale     uint16 = 8
	surfaceRequestDamageBuffer       uint16 = 9
	surfaceRequestOffset             uint16 = 10

	surfaceEventPreferredBufferScale uint16 = 2
)

// wl_surface error codes.
const (
	SurfaceErrorInvalidScale      uint32 = 0
	SurfaceErrorInvalidTransform  uint32 = 1
	SurfaceErrorInvalidSize       uint32 = 2
	SurfaceErrorInvalidOffset     uint32 = 3
	SurfaceErrorDefunctRoleObject uint32 = 4
)

const (
	regionRequestDestroy  uint16 = 0
	regionRequestAdd      uint16 = 1
	regionRequestSubtract uint16 = 2
)

var CompositorInterface = &server.Interface{
	Name:    "wl_compositor",
	Version: 6,
	Requests: []server.Method{
		{Name: "create_surface", Signature: "n"},
		{Name: "create_region", Signature: "n"},
	},
}

var SurfaceInterface = &server.Interface{
	Name:    "wl_surface",
	Version: 6,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "attach", Signature: "?oii"},
		{Name: "damage", Signature: "iiii"},
		{Name: "frame", Signature: "n"},
		{Name: "set_opaque_region", Signature: "?o"},
		{Name: "set_input_region", Signature: "?o"},
		{Name: "commit", Signature: ""},
		{Name: "set_buffer_transform", Signature: "i", Since: 2},
		{Name: "set_buffer_scale", Signature: "i", Since: 3},
		{Name: "damage_buffer", Signature: "iiii", Since: 4},
		{Name: "offset", Signature: "ii", Since: 5},
	},
	Events: []server.Method{
		{Name: "enter", Signature: "o"},
		{Name: "leave", Signature: "o"},
		{Name: "preferred_buffer_scale", Signature: "i", Since: 6},
		{Name: "preferred_buffer_transform", Signature: "u", Since: 6},
	},
}

var RegionInterface = &server.Interface{
	Name:    "wl_region",
	Version: 1,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
		{Name: "add", Signature: "iiii"},
		{Name: "subtract", Signature: "iiii"},
	},
}
