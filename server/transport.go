package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bnema/wlrt/wire"
)

const (
	defaultMaxBuffer = 1 << 20

	// closeFlushTimeout bounds how long a disconnected client gets to read
	// what is still queued for it, such as the final protocol error.
	closeFlushTimeout = time.Second
)

// queuedTransport buffers events for one socket and writes them from its
// own goroutine, so a client that stops reading never blocks the loop.
type queuedTransport struct {
	conn  *wire.Conn
	limit int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*wire.Message
	size    int
	closing bool
	err     error
}

func newQueuedTransport(conn *wire.Conn, limit int) *queuedTransport {
	t := &queuedTransport{conn: conn, limit: limit}
	t.cond = sync.NewCond(&t.mu)
	go t.writeLoop()
	return t
}

// WriteMessage queues m. Descriptors are duplicated, so the caller keeps
// ownership of its own. Once the queue would exceed the limit the
// transport fails with ErrBufferFull and stays failed.
func (t *queuedTransport) WriteMessage(m *wire.Message) error {
	size := messageSize(m)

	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.err != nil:
		return t.err
	case t.closing:
		return net.ErrClosed
	case t.limit > 0 && t.size+size > t.limit:
		t.err = fmt.Errorf("%w: %d bytes pending", ErrBufferFull, t.size)
		t.cond.Signal()
		return t.err
	}

	cp := *m
	cp.FDs = nil
	for _, fd := range m.FDs {
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			cp.CloseFDs()
			return fmt.Errorf("duplicate descriptor %d: %w", fd, err)
		}
		cp.FDs = append(cp.FDs, dup)
	}

	t.queue = append(t.queue, &cp)
	t.size += size
	t.cond.Signal()
	return nil
}

// Close stops accepting events. What is already queued is still flushed,
// within closeFlushTimeout, before the socket closes.
func (t *queuedTransport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	deadline := time.Now().Add(closeFlushTimeout)
	if t.err != nil {
		deadline = time.Now()
	}
	t.cond.Signal()
	t.mu.Unlock()

	return t.conn.SetWriteDeadline(deadline)
}

func (t *queuedTransport) Credentials() (wire.Credentials, error) {
	return t.conn.Credentials()
}

func (t *queuedTransport) writeLoop() {
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.closing && t.err == nil {
			t.cond.Wait()
		}
		if t.err != nil || len(t.queue) == 0 {
			rest := t.queue
			t.queue = nil
			t.size = 0
			t.mu.Unlock()

			for _, m := range rest {
				m.CloseFDs()
			}
			t.conn.Close()
			return
		}
		m := t.queue[0]
		t.queue = t.queue[1:]
		t.size -= messageSize(m)
		t.mu.Unlock()

		err := t.conn.WriteMessage(m)
		m.CloseFDs()
		if err != nil {
			t.mu.Lock()
			if t.err == nil {
				t.err = err
			}
			t.mu.Unlock()
		}
	}
}

func messageSize(m *wire.Message) int {
	return 8 + len(m.Body)
}
