package server

import "github.com/bnema/wlrt/wire"

// Method describes one request or event of an interface.
type Method struct {
	Name string

	// Signature uses the wire.Validate alphabet.
	Signature string

	// Since is the first interface version carrying the method. Zero
	// means version 1.
	Since uint32
}

// Interface is a protocol interface descriptor. Opcodes are indexes into
// Requests and Events.
type Interface struct {
	Name     string
	Version  uint32
	Requests []Method
	Events   []Method
}

func (i *Interface) String() string {
	return i.Name
}

func (i *Interface) request(opcode uint16) (Method, bool) {
	if int(opcode) >= len(i.Requests) {
		return Method{}, false
	}
	return i.Requests[opcode], true
}

func (i *Interface) event(opcode uint16) (Method, bool) {
	if int(opcode) >= len(i.Events) {
		return Method{}, false
	}
	return i.Events[opcode], true
}

func since(m Method) uint32 {
	if m.Since == 0 {
		return 1
	}
	return m.Since
}

// Dispatcher handles requests for one resource. Implementations switch on
// opcode, one case per request.
type Dispatcher interface {
	Dispatch(r *Resource, opcode uint16, args *wire.Decoder) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(r *Resource, opcode uint16, args *wire.Decoder) error

func (f DispatchFunc) Dispatch(r *Resource, opcode uint16, args *wire.Decoder) error {
	return f(r, opcode, args)
}

// Destroyer is implemented by handlers that need an unbind hook. Destroy
// runs exactly once, after children are gone and before the resource
// leaves its client's table.
type Destroyer interface {
	Destroy(r *Resource)
}
