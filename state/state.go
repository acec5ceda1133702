// Package state implements double-buffered protocol state: requests write
// pending values, and a commit promotes them to current in one step.
//
// A Buffer groups the fields of one object. Fields are applied in the
// order they were declared and observers run only after every field of
// the commit has been applied, so a handler never sees half of a commit.
package state

// Policy decides how a pending value is applied on commit.
type Policy int

const (
	// Replace makes the pending value current.
	Replace Policy = iota
	// Merge combines current and pending with the field's merge function.
	Merge
)

type field interface {
	apply() bool
	revert() bool
	discard()
	notify()
	Dirty() bool
}

// Buffer is a set of double-buffered fields committed together. It is not
// safe for concurrent use; all access happens on the display loop.
type Buffer struct {
	fields []field
}

func New() *Buffer {
	return &Buffer{}
}

// Dirty reports whether any field has a pending value.
func (b *Buffer) Dirty() bool {
	for _, f := range b.fields {
		if f.Dirty() {
			return true
		}
	}
	return false
}

// Commit applies every dirty field, then notifies observers of fields
// whose current value changed, in declaration order. It returns the
// number of changed fields.
func (b *Buffer) Commit() int {
	var changed []field
	for _, f := range b.fields {
		if f.apply() {
			changed = append(changed, f)
		}
	}
	for _, f := range changed {
		f.notify()
	}
	return len(changed)
}

// Discard drops all pending values without touching current state.
func (b *Buffer) Discard() {
	for _, f := range b.fields {
		f.discard()
	}
}

// Detach returns every field to its baseline, pending and current, and
// notifies observers of the fields that changed. It is used when the
// object owning the state goes away.
func (b *Buffer) Detach() {
	var changed []field
	for _, f := range b.fields {
		if f.revert() {
			changed = append(changed, f)
		}
	}
	for _, f := range changed {
		f.notify()
	}
}

// Field is one double-buffered value.
type Field[T any] struct {
	name     string
	eq       func(a, b T) bool
	policy   Policy
	merge    func(current, pending T) T
	sticky   bool
	baseline T

	current T
	pending T
	dirty   bool

	previous  T
	observers []*observer[T]
}

type observer[T any] struct {
	fn     func(old, new T)
	active bool
}

// Option configures a field at declaration.
type Option[T any] func(*Field[T])

// Sticky keeps the pending value after a commit instead of resetting it
// to the baseline. Use it for values that stay in effect until the client
// explicitly unsets them.
func Sticky[T any]() Option[T] {
	return func(f *Field[T]) { f.sticky = true }
}

// MergeWith applies pending values with fn instead of replacing.
func MergeWith[T any](fn func(current, pending T) T) Option[T] {
	return func(f *Field[T]) {
		f.policy = Merge
		f.merge = fn
	}
}

// NewField declares a field on b compared with ==.
func NewField[T comparable](b *Buffer, name string, baseline T, opts ...Option[T]) *Field[T] {
	return NewFieldFunc(b, name, baseline, func(a, b T) bool { return a == b }, opts...)
}

// NewFieldFunc declares a field on b using eq for change detection.
func NewFieldFunc[T any](b *Buffer, name string, baseline T, eq func(a, b T) bool, opts ...Option[T]) *Field[T] {
	f := &Field[T]{
		name:     name,
		eq:       eq,
		baseline: baseline,
		current:  baseline,
		pending:  baseline,
	}
	for _, opt := range opts {
		opt(f)
	}
	b.fields = append(b.fields, f)
	return f
}

func (f *Field[T]) Name() string {
	return f.name
}

// Set stages v for the next commit.
func (f *Field[T]) Set(v T) {
	f.pending = v
	f.dirty = true
}

// Update stages fn(pending) for the next commit.
func (f *Field[T]) Update(fn func(pending T) T) {
	f.Set(fn(f.pending))
}

func (f *Field[T]) Pending() T {
	return f.pending
}

func (f *Field[T]) Current() T {
	return f.current
}

func (f *Field[T]) Baseline() T {
	return f.baseline
}

func (f *Field[T]) Dirty() bool {
	return f.dirty
}

// OnChange registers fn to run after a commit or detach changes the
// current value.
func (f *Field[T]) OnChange(fn func(old, new T)) (cancel func()) {
	o := &observer[T]{fn: fn, active: true}
	f.observers = append(f.observers, o)
	return func() {
		if !o.active {
			return
		}
		o.active = false
		for i, other := range f.observers {
			if other == o {
				f.observers = append(f.observers[:i:i], f.observers[i+1:]...)
				return
			}
		}
	}
}

func (f *Field[T]) apply() bool {
	if !f.dirty {
		return false
	}
	old := f.current
	next := f.pending
	if f.policy == Merge {
		next = f.merge(f.current, f.pending)
	}
	f.current = next
	f.dirty = false
	if !f.sticky {
		f.pending = f.baseline
	}
	if f.eq(old, next) {
		return false
	}
	f.previous = old
	return true
}

func (f *Field[T]) revert() bool {
	old := f.current
	f.current = f.baseline
	f.pending = f.baseline
	f.dirty = false
	if f.eq(old, f.baseline) {
		return false
	}
	f.previous = old
	return true
}

func (f *Field[T]) discard() {
	f.dirty = false
	if !f.sticky {
		f.pending = f.baseline
	} else {
		f.pending = f.current
	}
}

func (f *Field[T]) notify() {
	snapshot := make([]*observer[T], len(f.observers))
	copy(snapshot, f.observers)
	for _, o := range snapshot {
		if o.active {
			o.fn(f.previous, f.current)
		}
	}
}
