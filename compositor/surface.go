package compositor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/state"
	"github.com/bnema/wlrt/wire"
)

var (
	ErrRoleAlreadyAssigned = errors.New("surface already has a role")
	ErrInvalidBuffer       = errors.New("invalid buffer")
	ErrInvalidSurface      = errors.New("invalid surface state")
	ErrMissingCapability   = errors.New("missing seat capability")
)

// Buffer transforms, as in wl_output.transform.
const (
	TransformNormal     int32 = 0
	Transform90         int32 = 1
	Transform180        int32 = 2
	Transform270        int32 = 3
	TransformFlipped    int32 = 4
	TransformFlipped90  int32 = 5
	TransformFlipped180 int32 = 6
	TransformFlipped270 int32 = 7
)

// Surface is a wl_surface. Its double-buffered state is applied by
// commit; roles and extensions attach through the role slot and the
// commit hooks.
type Surface struct {
	res  *server.Resource
	comp *Compositor

	state        *state.Buffer
	buffer       *state.Field[*Buffer]
	offset       *state.Field[Point]
	scale        *state.Field[int32]
	transform    *state.Field[int32]
	opaque       *state.Field[Region]
	input        *state.Field[Region]
	damage       *state.Field[[]Rect]
	bufferDamage *state.Field[[]Rect]
	frames       *state.Field[[]*server.Resource]

	frameQueue []*server.Resource

	role       string
	roleObject server.Handle

	override        Size
	overrideEngaged bool
	size            Size

	commits int

	preCommit   []*preCommitHook
	onCommit    server.Signal[*Surface]
	onResize    server.Signal[*Surface]
	onDestroy   server.Signal[*Surface]
	isDestroyed bool
}

type preCommitHook struct {
	fn     func(*Surface) error
	active bool
}

func newSurface(comp *Compositor, res *server.Resource) *Surface {
	s := &Surface{res: res, comp: comp, state: state.New()}

	s.buffer = state.NewField[*Buffer](s.state, "buffer", nil)
	s.offset = state.NewField(s.state, "offset", Point{}, state.MergeWith(func(cur, delta Point) Point {
		return Point{X: cur.X + delta.X, Y: cur.Y + delta.Y}
	}))
	s.scale = state.NewField(s.state, "scale", int32(1))
	s.transform = state.NewField(s.state, "transform", TransformNormal)
	s.opaque = state.NewFieldFunc(s.state, "opaque_region", Region(nil), regionEqual)
	s.input = state.NewFieldFunc(s.state, "input_region", Region(nil), regionEqual)
	s.damage = state.NewFieldFunc(s.state, "damage", []Rect(nil), slices.Equal[[]Rect])
	s.bufferDamage = state.NewFieldFunc(s.state, "buffer_damage", []Rect(nil), slices.Equal[[]Rect])
	s.frames = state.NewFieldFunc(s.state, "frame", []*server.Resource(nil), slices.Equal[[]*server.Resource])

	s.buffer.OnChange(func(old, _ *Buffer) {
		if old != nil {
			old.Release()
		}
	})
	s.frames.OnChange(func(_, cbs []*server.Resource) {
		s.frameQueue = append(s.frameQueue, cbs...)
	})
	return s
}

// SurfaceFromResource returns the surface behind a wl_surface resource.
func SurfaceFromResource(r *server.Resource) (*Surface, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.Handler().(*Surface)
	return s, ok
}

func (s *Surface) Resource() *server.Resource {
	return s.res
}

func (s *Surface) Handle() server.Handle {
	return s.res.Handle()
}

func (s *Surface) Client() *server.Client {
	return s.res.Client()
}

func (s *Surface) String() string {
	return fmt.Sprintf("wl_surface@%d (client %d)", s.res.ID(), s.res.Client().ID())
}

// Destroyed reports whether the wl_surface is gone.
func (s *Surface) Destroyed() bool {
	return s.isDestroyed
}

// Buffer returns the committed buffer, or nil.
func (s *Surface) Buffer() *Buffer {
	return s.buffer.Current()
}

// PendingBuffer returns the buffer staged for the next commit and whether
// one was attached since the last commit.
func (s *Surface) PendingBuffer() (*Buffer, bool) {
	return s.buffer.Pending(), s.buffer.Dirty()
}

func (s *Surface) Scale() int32 {
	return s.scale.Current()
}

func (s *Surface) Transform() int32 {
	return s.transform.Current()
}

// Offset is the sum of the offsets committed so far.
func (s *Surface) Offset() Point {
	return s.offset.Current()
}

func (s *Surface) OpaqueRegion() Region {
	return s.opaque.Current()
}

// InputRegion returns the input region; nil means the whole surface.
func (s *Surface) InputRegion() Region {
	return s.input.Current()
}

// Damage returns the surface and buffer damage of the last commit. Both
// are empty when that commit carried no damage requests.
func (s *Surface) Damage() (surface, buffer []Rect) {
	return s.damage.Current(), s.bufferDamage.Current()
}

// Commits counts successful commits.
func (s *Surface) Commits() int {
	return s.commits
}

// Role returns the role name, or "" if none was ever assigned. The name
// outlives the role object.
func (s *Surface) Role() string {
	return s.role
}

// RoleObject returns the live role object, if any.
func (s *Surface) RoleObject() (*server.Resource, bool) {
	if s.roleObject.IsZero() {
		return nil, false
	}
	return s.res.Client().Display().Lookup(s.roleObject)
}

// SetRole assigns role to the surface with obj as its role object. A
// surface keeps its first role forever and holds one role object at a
// time; anything else fails with ErrRoleAlreadyAssigned and changes
// nothing.
func (s *Surface) SetRole(role string, obj *server.Resource) error {
	if s.role != "" && s.role != role {
		return fmt.Errorf("%w: %s has role %s, cannot become %s", ErrRoleAlreadyAssigned, s, s.role, role)
	}
	if cur, live := s.RoleObject(); live {
		return fmt.Errorf("%w: %s already has role object %s", ErrRoleAlreadyAssigned, s, cur)
	}
	s.role = role
	if obj != nil {
		s.roleObject = obj.Handle()
	}
	return nil
}

// ClearRoleObject forgets the role object. The role name stays.
func (s *Surface) ClearRoleObject() {
	s.roleObject = server.Handle{}
}

// Size is the effective size in surface coordinates: the override when
// engaged, otherwise the buffer size divided by scale and rotated by the
// buffer transform.
func (s *Surface) Size() Size {
	return s.size
}

// BufferSize returns the committed buffer size in surface coordinates,
// ignoring any override.
func (s *Surface) BufferSize() Size {
	b := s.buffer.Current()
	if b == nil {
		return Size{}
	}
	w, h := b.Width, b.Height
	if s.transform.Current()%2 == 1 {
		w, h = h, w
	}
	scale := s.scale.Current()
	return Size{W: w / scale, H: h / scale}
}

// SetSizeOverride engages or clears an externally imposed size, such as
// a viewport destination.
func (s *Surface) SetSizeOverride(size Size, engaged bool) {
	s.override = size
	s.overrideEngaged = engaged
	s.updateSize()
}

func (s *Surface) updateSize() {
	next := s.BufferSize()
	if s.overrideEngaged {
		next = s.override
	}
	if next == s.size {
		return
	}
	s.size = next
	s.onResize.Emit(s)
}

// OnPreCommit registers fn to run before pending state is applied. An
// error aborts the commit and is raised as a protocol error.
func (s *Surface) OnPreCommit(fn func(*Surface) error) (cancel func()) {
	h := &preCommitHook{fn: fn, active: true}
	s.preCommit = append(s.preCommit, h)
	return func() {
		if !h.active {
			return
		}
		h.active = false
		s.preCommit = slices.DeleteFunc(s.preCommit, func(o *preCommitHook) bool { return o == h })
	}
}

// OnCommit registers fn to run after each successful commit.
func (s *Surface) OnCommit(fn func(*Surface)) (cancel func()) {
	return s.onCommit.Subscribe(fn)
}

// OnResize registers fn to run when the effective size changes.
func (s *Surface) OnResize(fn func(*Surface)) (cancel func()) {
	return s.onResize.Subscribe(fn)
}

// OnDestroy registers fn to run when the wl_surface is destroyed.
func (s *Surface) OnDestroy(fn func(*Surface)) (cancel func()) {
	return s.onDestroy.Subscribe(fn)
}

// FrameDone fires the frame callbacks of committed frames and returns how
// many were sent.
func (s *Surface) FrameDone(timeMs uint32) int {
	queue := s.frameQueue
	s.frameQueue = nil
	sent := 0
	for _, cb := range queue {
		if cb.Destroyed() {
			continue
		}
		if err := server.Done(cb, timeMs); err == nil {
			sent++
		}
	}
	return sent
}

// SendPreferredScale advertises the scale the client should render at.
func (s *Surface) SendPreferredScale(scale int32) error {
	return s.res.Post(surfaceEventPreferredBufferScale, scale)
}

// Commit applies pending state as if the client had sent wl_surface.commit.
func (s *Surface) Commit() error {
	hooks := slices.Clone(s.preCommit)
	for _, h := range hooks {
		if !h.active {
			continue
		}
		if err := h.fn(s); err != nil {
			return err
		}
	}

	scale := s.scale.Current()
	if s.scale.Dirty() {
		scale = s.scale.Pending()
	}
	b := s.buffer.Current()
	if s.buffer.Dirty() {
		b = s.buffer.Pending()
	}
	if b != nil && (b.Width%scale != 0 || b.Height%scale != 0) {
		return server.Errorf(s.res, SurfaceErrorInvalidSize, ErrInvalidBuffer,
			"buffer size %dx%d is not divisible by scale %d", b.Width, b.Height, scale)
	}

	// Damage belongs to a single commit.
	for _, f := range []*state.Field[[]Rect]{s.damage, s.bufferDamage} {
		if !f.Dirty() {
			f.Set(nil)
		}
	}
	s.state.Commit()
	s.commits++
	s.updateSize()
	s.onCommit.Emit(s)
	return nil
}

func (s *Surface) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	c := r.Client()
	switch opcode {
	case surfaceRequestDestroy:
		if obj, live := s.RoleObject(); live && obj.Parent() != r {
			return server.Errorf(r, SurfaceErrorDefunctRoleObject, ErrInvalidSurface,
				"%s destroyed before its role object %s", s, obj)
		}
		r.Destroy()

	case surfaceRequestAttach:
		res, err := c.Lookup(args.Object(), BufferInterface)
		if err != nil {
			return err
		}
		x, y := args.Int(), args.Int()
		if r.Version() >= 5 && (x != 0 || y != 0) {
			return server.Errorf(r, SurfaceErrorInvalidOffset, ErrInvalidSurface,
				"attach offset must be zero since version 5, use offset")
		}
		var b *Buffer
		if res != nil {
			b, _ = BufferFromResource(res)
		}
		s.buffer.Set(b)
		if x != 0 || y != 0 {
			s.offset.Set(Point{X: x, Y: y})
		}

	case surfaceRequestDamage, surfaceRequestDamageBuffer:
		rect := Rect{X: args.Int(), Y: args.Int(), W: args.Int(), H: args.Int()}
		field := s.damage
		if opcode == surfaceRequestDamageBuffer {
			field = s.bufferDamage
		}
		field.Update(func(p []Rect) []Rect { return append(slices.Clone(p), rect) })

	case surfaceRequestFrame:
		cb, err := server.NewCallback(c, args.NewID())
		if err != nil {
			return err
		}
		s.frames.Update(func(p []*server.Resource) []*server.Resource {
			return append(slices.Clone(p), cb)
		})

	case surfaceRequestSetOpaqueRegion, surfaceRequestSetInputRegion:
		region, err := regionFromResource(c, args.Object())
		if err != nil {
			return err
		}
		if opcode == surfaceRequestSetOpaqueRegion {
			s.opaque.Set(region)
		} else {
			s.input.Set(region)
		}

	case surfaceRequestCommit:
		return s.Commit()

	case surfaceRequestSetBufferTransform:
		t := args.Int()
		if t < TransformNormal || t > TransformFlipped270 {
			return server.Errorf(r, SurfaceErrorInvalidTransform, ErrInvalidSurface, "invalid transform %d", t)
		}
		s.transform.Set(t)

	case surfaceRequestSetBufferScale:
		scale := args.Int()
		if scale < 1 {
			return server.Errorf(r, SurfaceErrorInvalidScale, ErrInvalidSurface, "invalid scale %d", scale)
		}
		s.scale.Set(scale)

	case surfaceRequestOffset:
		s.offset.Set(Point{X: args.Int(), Y: args.Int()})
	}
	return nil
}

func (s *Surface) Destroy(r *server.Resource) {
	s.isDestroyed = true
	s.onDestroy.Emit(s)
	s.comp.removeSurface(s)
}
