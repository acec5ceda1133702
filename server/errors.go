package server

import (
	"errors"
	"fmt"
)

var (
	ErrIDInUse             = errors.New("object id already in use")
	ErrInvalidID           = errors.New("invalid object id")
	ErrUnknownObject       = errors.New("unknown object")
	ErrInvalidMethod       = errors.New("invalid method")
	ErrVersionNotSupported = errors.New("version not supported")
	ErrInterfaceMismatch   = errors.New("interface mismatch")
	ErrGoneAway            = errors.New("global gone away")
	ErrNoMemory            = errors.New("no memory")
	ErrImplementation      = errors.New("implementation error")
	ErrClientGone          = errors.New("client disconnected")
	ErrDestroyed           = errors.New("resource destroyed")
	ErrLoopStopped         = errors.New("display loop stopped")
	ErrBufferFull          = errors.New("client event buffer full")
)

// wl_display error codes.
const (
	DisplayErrorInvalidObject  uint32 = 0
	DisplayErrorInvalidMethod  uint32 = 1
	DisplayErrorNoMemory       uint32 = 2
	DisplayErrorImplementation uint32 = 3
)

// ProtocolError is a violation by the client of an interface invariant.
// It is delivered as wl_display.error and ends the connection.
type ProtocolError struct {
	Object    uint32
	Interface string
	Code      uint32
	Message   string

	// Kind is the sentinel the violation maps to, so callers can match
	// with errors.Is regardless of the interface-specific code.
	Kind error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s@%d: error %d: %s", e.Interface, e.Object, e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Kind
}

// Errorf builds a protocol error raised on r.
func Errorf(r *Resource, code uint32, kind error, format string, args ...any) *ProtocolError {
	perr := &ProtocolError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
	}
	if r != nil {
		perr.Object = r.id
		perr.Interface = r.iface.Name
	}
	return perr
}

// WrapError turns err into a protocol error raised on r, keeping err as
// the Kind.
func WrapError(r *Resource, code uint32, err error) *ProtocolError {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	return Errorf(r, code, err, "%s", err.Error())
}
