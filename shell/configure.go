package shell

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/bnema/wlrt/compositor"
)

var (
	ErrRoleAlreadyAssigned = compositor.ErrRoleAlreadyAssigned
	ErrInvalidSerial       = errors.New("configure serial was never sent")
	ErrNotConstructed      = errors.New("shell surface has no role")
	ErrUnconfiguredBuffer  = errors.New("buffer committed before first configure was acked")
	ErrInvalidSize         = errors.New("invalid size")
	ErrDefunctRoleObject   = errors.New("role object still alive")
	ErrInvalidParent       = errors.New("invalid parent")
	ErrInvalidPositioner   = errors.New("incomplete positioner")
	ErrInvalidGrab         = errors.New("invalid popup grab")
	ErrNotTopmostPopup     = errors.New("popup is not the topmost popup")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidSurfaceState = errors.New("invalid surface state")
	ErrWrongRole           = errors.New("operation does not apply to this role")
)

// Role is the state of a shell surface. Unassigned moves to Toplevel or
// Popup once; both end in Destroyed.
type Role int

const (
	RoleUnassigned Role = iota
	RoleToplevel
	RolePopup
	RoleDestroyed
)

func (r Role) String() string {
	switch r {
	case RoleUnassigned:
		return "unassigned"
	case RoleToplevel:
		return "toplevel"
	case RolePopup:
		return "popup"
	case RoleDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// State is one xdg_toplevel state value.
type State uint32

const (
	StateMaximized   State = 1
	StateFullscreen  State = 2
	StateResizing    State = 3
	StateActivated   State = 4
	StateTiledLeft   State = 5
	StateTiledRight  State = 6
	StateTiledTop    State = 7
	StateTiledBottom State = 8
	StateSuspended   State = 9
)

// States is a set of toplevel states.
type States uint32

func NewStates(states ...State) States {
	var s States
	for _, st := range states {
		s = s.With(st)
	}
	return s
}

func (s States) Has(st State) bool {
	return s&(1<<st) != 0
}

func (s States) With(st State) States {
	return s | 1<<st
}

func (s States) Without(st State) States {
	return s &^ (1 << st)
}

// Set toggles st on or off.
func (s States) Set(st State, on bool) States {
	if on {
		return s.With(st)
	}
	return s.Without(st)
}

// List returns the states in ascending order.
func (s States) List() []State {
	out := make([]State, 0, bits.OnesCount32(uint32(s)))
	for st := State(0); st < 32; st++ {
		if s.Has(st) {
			out = append(out, st)
		}
	}
	return out
}

// Array encodes the set as an xdg_toplevel.configure states array.
func (s States) Array() []byte {
	vals := make([]uint32, 0, bits.OnesCount32(uint32(s)))
	for _, st := range s.List() {
		vals = append(vals, uint32(st))
	}
	return uint32Array(vals...)
}

// uint32Array encodes vals as a wire array of native-endian words.
func uint32Array(vals ...uint32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.NativeEndian.AppendUint32(out, v)
	}
	return out
}

// Configure is one configure sent to a shell surface.
type Configure struct {
	Serial uint32
	States States
	Size   compositor.Size

	// Geometry is the popup position relative to its parent.
	Geometry compositor.Rect

	// Edges is the wl_shell resize edge hint.
	Edges uint32
}

// ConfigureQueue holds the configures a client has not acked yet, oldest
// first.
type ConfigureQueue struct {
	pending  []Configure
	acked    Configure
	hasAcked bool
}

// Push records a configure that has been sent.
func (q *ConfigureQueue) Push(c Configure) {
	q.pending = append(q.pending, c)
}

// Ack acknowledges serial and every earlier configure. The returned
// configure is the one named by serial. Acking the most recently acked
// serial again is allowed and changes nothing; any other serial that is
// not outstanding fails with ErrInvalidSerial.
func (q *ConfigureQueue) Ack(serial uint32) (Configure, error) {
	for i, c := range q.pending {
		if c.Serial == serial {
			q.pending = append(q.pending[:0:0], q.pending[i+1:]...)
			q.acked, q.hasAcked = c, true
			return c, nil
		}
	}
	if q.hasAcked && q.acked.Serial == serial {
		return q.acked, nil
	}
	return Configure{}, fmt.Errorf("%w: %d", ErrInvalidSerial, serial)
}

// Pending returns the outstanding configures, oldest first.
func (q *ConfigureQueue) Pending() []Configure {
	return append([]Configure(nil), q.pending...)
}

// LastAcked returns the most recently acked configure.
func (q *ConfigureQueue) LastAcked() (Configure, bool) {
	return q.acked, q.hasAcked
}

// Last returns the newest configure sent, acked or not.
func (q *ConfigureQueue) Last() (Configure, bool) {
	if n := len(q.pending); n > 0 {
		return q.pending[n-1], true
	}
	return q.acked, q.hasAcked
}

// Reset forgets everything, as when a surface is unmapped.
func (q *ConfigureQueue) Reset() {
	*q = ConfigureQueue{}
}
