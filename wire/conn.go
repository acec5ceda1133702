package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// maxFDsPerMessage matches libwayland's per-sendmsg descriptor limit.
const maxFDsPerMessage = 28

// Credentials identify the peer process of a connection.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// Conn is one end of a Wayland connection. Reads and writes may run on
// different goroutines; concurrent reads (or writes) are serialized.
type Conn struct {
	conn *net.UnixConn

	rmu sync.Mutex
	in  []byte
	fds fdQueue

	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established Unix socket connection.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{conn: c}
}

// ReadMessage blocks until one complete message has arrived. Descriptors
// received along the way are queued and read through Decoder.FD.
func (c *Conn) ReadMessage() (*Message, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for {
		if len(c.in) >= headerSize {
			object, opcode, size := parseHeader(c.in)
			if size < headerSize || size > MaxMessageSize || size%4 != 0 {
				return nil, fmt.Errorf("%w: bad size %d for object %d", ErrMalformed, size, object)
			}
			if len(c.in) >= size {
				body := make([]byte, size-headerSize)
				copy(body, c.in[headerSize:size])
				c.in = c.in[size:]
				return &Message{Object: object, Opcode: opcode, Body: body, queue: &c.fds}, nil
			}
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
}

func (c *Conn) fill() error {
	buf := make([]byte, MaxMessageSize)
	oob := make([]byte, unix.CmsgSpace(maxFDsPerMessage*4))

	n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
	if oobn > 0 {
		if ferr := c.collectFDs(oob[:oobn]); ferr != nil && err == nil {
			err = ferr
		}
	}
	c.in = append(c.in, buf[:n]...)
	if err != nil {
		return err
	}
	if n == 0 {
		return io.EOF
	}
	return nil
}

func (c *Conn) collectFDs(oob []byte) error {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("parse control message: %w", err)
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		c.fds.push(fds...)
	}
	return nil
}

// WriteMessage sends m and any descriptors attached to it.
func (c *Conn) WriteMessage(m *Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if len(m.FDs) > maxFDsPerMessage {
		return fmt.Errorf("%w: %d descriptors", ErrTooLarge, len(m.FDs))
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	var oob []byte
	if len(m.FDs) > 0 {
		oob = unix.UnixRights(m.FDs...)
	}
	n, _, err := c.conn.WriteMsgUnix(data, oob, nil)
	if err != nil {
		return err
	}
	// Descriptors went with the first chunk; the rest is plain data.
	for n < len(data) {
		w, err := c.conn.Write(data[n:])
		if err != nil {
			return err
		}
		n += w
	}
	return nil
}

// SetWriteDeadline bounds pending and future writes.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Credentials returns the peer's pid, uid and gid.
func (c *Conn) Credentials() (Credentials, error) {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return Credentials{}, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Credentials{}, err
	}
	if credErr != nil {
		return Credentials{}, credErr
	}
	return Credentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}

// Close closes the socket and any received descriptors nobody consumed.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		c.fds.closeAll()
	})
	if errors.Is(c.closeErr, net.ErrClosed) {
		return nil
	}
	return c.closeErr
}

// fdQueue holds descriptors received out of band, in arrival order.
type fdQueue struct {
	mu  sync.Mutex
	fds []int
}

func (q *fdQueue) push(fds ...int) {
	q.mu.Lock()
	q.fds = append(q.fds, fds...)
	q.mu.Unlock()
}

func (q *fdQueue) pop() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fds) == 0 {
		return -1, false
	}
	fd := q.fds[0]
	q.fds = q.fds[1:]
	return fd, true
}

func (q *fdQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fds)
}

func (q *fdQueue) closeAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, fd := range q.fds {
		unix.Close(fd)
	}
	q.fds = nil
}
