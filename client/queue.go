package client

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained.
var ErrQueueClosed = errors.New("event queue closed")

// EventQueue is an unbounded FIFO of events. The reader goroutine pushes,
// the application goroutine pops.
type EventQueue struct {
	mu     sync.Mutex
	events []*Event
	notify chan struct{}
	closed bool
}

func NewEventQueue() *EventQueue {
	return &EventQueue{notify: make(chan struct{}, 1)}
}

// Push appends ev. Events pushed after Close are dropped and their
// descriptors closed.
func (q *EventQueue) Push(ev *Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		ev.discard()
		return
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.wake()
}

func (q *EventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop returns the oldest event without blocking.
func (q *EventQueue) TryPop() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil, false
	}
	ev := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	return ev, true
}

// Pop blocks until an event is available, the queue is closed and empty,
// or ctx is done.
func (q *EventQueue) Pop(ctx context.Context) (*Event, error) {
	for {
		if ev, ok := q.TryPop(); ok {
			return ev, nil
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events. Events already queued can still be
// popped.
func (q *EventQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}
