package server

// Signal is a list of observers. All emission happens on the display
// loop, so it needs no locking.
type Signal[T any] struct {
	subs []*subscription[T]
}

type subscription[T any] struct {
	fn     func(T)
	active bool
}

// Subscribe registers fn and returns a function that cancels it. Cancel
// is safe to call more than once and from inside an emission.
func (s *Signal[T]) Subscribe(fn func(T)) (cancel func()) {
	sub := &subscription[T]{fn: fn, active: true}
	s.subs = append(s.subs, sub)
	return func() {
		if !sub.active {
			return
		}
		sub.active = false
		for i, other := range s.subs {
			if other == sub {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every observer registered at the time of the call, in
// registration order. Observers cancelled during the emission are
// skipped.
func (s *Signal[T]) Emit(v T) {
	snapshot := make([]*subscription[T], len(s.subs))
	copy(snapshot, s.subs)
	for _, sub := range snapshot {
		if sub.active {
			sub.fn(v)
		}
	}
}

// Len returns the number of live observers.
func (s *Signal[T]) Len() int {
	return len(s.subs)
}
