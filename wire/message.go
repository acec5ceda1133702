// Package wire implements the Wayland wire format: message framing,
// argument marshalling and descriptor passing over Unix-domain sockets.
//
// It knows nothing about interfaces. Callers hand it an object id, an
// opcode and typed arguments, and get the same triple back on the other
// side.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

const (
	headerSize = 8

	// MaxMessageSize matches the libwayland connection buffer limit.
	MaxMessageSize = 4096
)

var (
	ErrMalformed  = errors.New("malformed message")
	ErrTooLarge   = errors.New("message too large")
	ErrMissingFD  = errors.New("missing file descriptor")
	ErrBadArgType = errors.New("unsupported argument type")
)

// byteOrder is the host byte order. The wire protocol is host-endian.
var byteOrder = binary.NativeEndian

// Fixed is a signed 24.8 fixed-point number.
type Fixed int32

// FixedFromFloat converts f, rounding to the nearest 1/256.
func FixedFromFloat(f float64) Fixed {
	return Fixed(int32(math.Round(f * 256)))
}

// FixedFromInt converts an integer.
func FixedFromInt(i int) Fixed {
	return Fixed(int32(i) << 8)
}

func (f Fixed) Float() float64 {
	return float64(f) / 256
}

// Int returns the integer part, rounding toward negative infinity.
func (f Fixed) Int() int {
	return int(f >> 8)
}

// IsInt reports whether f has no fractional part.
func (f Fixed) IsInt() bool {
	return f&0xff == 0
}

// FD marks an argument as a file descriptor to pass out of band.
type FD int

// Object is anything with a protocol id. A nil Object encodes as the null
// object.
type Object interface {
	ID() uint32
}

// Message is one request or event.
type Message struct {
	Object uint32
	Opcode uint16
	Body   []byte

	// FDs holds descriptors sent with this message. On the receive side
	// descriptors are not tied to a message; they are read through the
	// connection queue by Decoder.FD.
	FDs []int

	queue *fdQueue
}

func (m *Message) String() string {
	return fmt.Sprintf("object %d opcode %d (%d bytes, %d fds)", m.Object, m.Opcode, len(m.Body), len(m.FDs))
}

// Size is the encoded size including the header.
func (m *Message) Size() int {
	return headerSize + len(m.Body)
}

// Marshal encodes the header and body.
func (m *Message) Marshal() ([]byte, error) {
	size := m.Size()
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	buf := make([]byte, size)
	byteOrder.PutUint32(buf[0:4], m.Object)
	byteOrder.PutUint32(buf[4:8], uint32(size)<<16|uint32(m.Opcode))
	copy(buf[headerSize:], m.Body)
	return buf, nil
}

// AvailableFDs counts descriptors attached to the message plus those
// pending on the connection it was read from.
func (m *Message) AvailableFDs() int {
	n := len(m.FDs)
	if m.queue != nil {
		n += m.queue.len()
	}
	return n
}

// TakeFDs moves n descriptors from the connection queue onto the
// message, so it can be handled later on another goroutine.
func (m *Message) TakeFDs(n int) error {
	for range n {
		if m.queue == nil {
			return ErrMissingFD
		}
		fd, ok := m.queue.pop()
		if !ok {
			return fmt.Errorf("%w: need %d, have %d", ErrMissingFD, n, len(m.FDs))
		}
		m.FDs = append(m.FDs, fd)
	}
	return nil
}

// CloseFDs closes the descriptors attached to the message.
func (m *Message) CloseFDs() {
	for _, fd := range m.FDs {
		unix.Close(fd)
	}
	m.FDs = nil
}

// Args returns a decoder positioned at the start of the body.
func (m *Message) Args() *Decoder {
	return &Decoder{body: m.Body, fds: m.FDs, queue: m.queue}
}

// parseHeader returns object, opcode and total size.
func parseHeader(b []byte) (uint32, uint16, int) {
	object := byteOrder.Uint32(b[0:4])
	word := byteOrder.Uint32(b[4:8])
	return object, uint16(word & 0xffff), int(word >> 16)
}

// Builder appends typed arguments to a message body.
type Builder struct {
	msg Message
	err error
}

// NewBuilder starts a message for object and opcode.
func NewBuilder(object uint32, opcode uint16) *Builder {
	return &Builder{msg: Message{Object: object, Opcode: opcode}}
}

func (b *Builder) Uint(v uint32) *Builder {
	b.msg.Body = byteOrder.AppendUint32(b.msg.Body, v)
	return b
}

func (b *Builder) Int(v int32) *Builder {
	return b.Uint(uint32(v))
}

func (b *Builder) Fixed(v Fixed) *Builder {
	return b.Uint(uint32(v))
}

// String appends a non-null string with its terminating NUL and padding.
func (b *Builder) String(s string) *Builder {
	b.Uint(uint32(len(s) + 1))
	b.msg.Body = append(b.msg.Body, s...)
	b.msg.Body = append(b.msg.Body, 0)
	b.pad()
	return b
}

func (b *Builder) Array(a []byte) *Builder {
	b.Uint(uint32(len(a)))
	b.msg.Body = append(b.msg.Body, a...)
	b.pad()
	return b
}

func (b *Builder) Object(id uint32) *Builder {
	return b.Uint(id)
}

func (b *Builder) NewID(id uint32) *Builder {
	return b.Uint(id)
}

func (b *Builder) FD(fd int) *Builder {
	b.msg.FDs = append(b.msg.FDs, fd)
	return b
}

func (b *Builder) pad() {
	for len(b.msg.Body)%4 != 0 {
		b.msg.Body = append(b.msg.Body, 0)
	}
}

// Add appends one argument, choosing the encoding from its Go type.
func (b *Builder) Add(arg any) *Builder {
	switch v := arg.(type) {
	case nil:
		b.Uint(0)
	case uint32:
		b.Uint(v)
	case int32:
		b.Int(v)
	case Fixed:
		b.Fixed(v)
	case string:
		b.String(v)
	case []byte:
		b.Array(v)
	case FD:
		b.FD(int(v))
	case Object:
		b.Uint(v.ID())
	default:
		if b.err == nil {
			b.err = fmt.Errorf("%w: %T", ErrBadArgType, arg)
		}
	}
	return b
}

// Build returns the finished message.
func (b *Builder) Build() (*Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.msg.Size() > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, b.msg.Size())
	}
	msg := b.msg
	return &msg, nil
}

// Encode builds a message from loosely typed arguments. See Builder.Add
// for the accepted types.
func Encode(object uint32, opcode uint16, args ...any) (*Message, error) {
	b := NewBuilder(object, opcode)
	for _, arg := range args {
		b.Add(arg)
	}
	return b.Build()
}

// Decoder reads arguments in order. Errors are sticky: after the first
// failure every read returns a zero value and Err reports the cause.
type Decoder struct {
	body  []byte
	off   int
	fds   []int
	fdIdx int
	queue *fdQueue
	err   error
}

// Err returns the first decoding error.
func (d *Decoder) Err() error {
	return d.err
}

// Remaining is the number of unread body bytes.
func (d *Decoder) Remaining() int {
	return len(d.body) - d.off
}

func (d *Decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
	}
}

func (d *Decoder) Uint() uint32 {
	if d.err != nil {
		return 0
	}
	if d.off+4 > len(d.body) {
		d.fail("short read at offset %d", d.off)
		return 0
	}
	v := byteOrder.Uint32(d.body[d.off:])
	d.off += 4
	return v
}

func (d *Decoder) Int() int32 {
	return int32(d.Uint())
}

func (d *Decoder) Fixed() Fixed {
	return Fixed(d.Uint())
}

func (d *Decoder) Object() uint32 {
	return d.Uint()
}

func (d *Decoder) NewID() uint32 {
	return d.Uint()
}

// String reads a string. The null string decodes as "".
func (d *Decoder) String() string {
	n := int(d.Uint())
	if d.err != nil || n == 0 {
		return ""
	}
	padded := (n + 3) &^ 3
	if d.off+padded > len(d.body) {
		d.fail("string of %d bytes overruns body", n)
		return ""
	}
	raw := d.body[d.off : d.off+n]
	if raw[n-1] != 0 {
		d.fail("string not NUL terminated")
		return ""
	}
	d.off += padded
	return string(raw[:n-1])
}

func (d *Decoder) Array() []byte {
	n := int(d.Uint())
	if d.err != nil {
		return nil
	}
	padded := (n + 3) &^ 3
	if d.off+padded > len(d.body) {
		d.fail("array of %d bytes overruns body", n)
		return nil
	}
	out := make([]byte, n)
	copy(out, d.body[d.off:d.off+n])
	d.off += padded
	return out
}

// FD returns the next descriptor, either attached to the message or
// pending on the connection.
func (d *Decoder) FD() int {
	if d.err != nil {
		return -1
	}
	if d.fdIdx < len(d.fds) {
		fd := d.fds[d.fdIdx]
		d.fdIdx++
		return fd
	}
	if d.queue != nil {
		if fd, ok := d.queue.pop(); ok {
			return fd
		}
	}
	if d.err == nil {
		d.err = ErrMissingFD
	}
	return -1
}
