package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/bnema/wlrt/internal/clock"
	"github.com/bnema/wlrt/wire"
)

type loopState int

const (
	loopIdle loopState = iota
	loopRunning
	loopStopped
)

// Post schedules fn on the loop goroutine. Before Run starts, fn runs
// inline on the caller; this is only safe while nothing else touches the
// display. Once Run has returned, fn is dropped.
func (d *Display) Post(fn func()) {
	d.post(fn)
}

func (d *Display) post(fn func()) bool {
	d.mu.Lock()
	switch d.state {
	case loopIdle:
		d.mu.Unlock()
		fn()
		return true
	case loopStopped:
		d.mu.Unlock()
		return false
	}
	d.pending = append(d.pending, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Invoke runs fn on the loop goroutine and waits for it to finish. It
// fails with ErrLoopStopped once Run has returned.
func (d *Display) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !d.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc runs fn on the loop goroutine once dur has elapsed on the
// display clock.
func (d *Display) AfterFunc(dur time.Duration, fn func()) clock.Timer {
	return d.clock.AfterFunc(dur, func() { d.Post(fn) })
}

// Started is closed once Run owns the display. Work posted after that
// point is queued for the loop goroutine.
func (d *Display) Started() <-chan struct{} {
	return d.started
}

// Run processes posted work until ctx is cancelled, then destroys the
// display. Work posted while the display is torn down still runs on this
// goroutine; anything posted after Run returns is dropped.
func (d *Display) Run(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case loopRunning:
		d.mu.Unlock()
		return errors.New("display loop already running")
	case loopStopped:
		d.mu.Unlock()
		return ErrLoopStopped
	}
	d.state = loopRunning
	close(d.started)
	d.mu.Unlock()

	defer func() {
		d.drain()
		d.Destroy()
		d.drain()

		d.mu.Lock()
		d.state = loopStopped
		d.pending = nil
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
			d.drain()
		}
	}
}

func (d *Display) drain() {
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// Serve accepts connections from ln until ctx is cancelled. It waits for
// Run to start before accepting. Each client gets a reader goroutine that
// feeds its requests to the loop in order, and a writer goroutine that
// flushes its events.
func (d *Display) Serve(ctx context.Context, ln *wire.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	select {
	case <-d.started:
	case <-ctx.Done():
		return nil
	}

	d.log.Info("Listening for clients", "socket", ln.Path())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		accepted := d.post(func() {
			if d.destroyed {
				conn.Close()
				return
			}
			if d.maxClients > 0 && len(d.clients) >= d.maxClients {
				d.log.Warn("Rejecting client, limit reached", "max_clients", d.maxClients)
				conn.Close()
				return
			}
			c := d.CreateClient(newQueuedTransport(conn, d.maxBuffer))
			go d.readLoop(c, conn)
		})
		if !accepted {
			conn.Close()
		}
	}
}

func (d *Display) readLoop(c *Client, conn *wire.Conn) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			d.Post(func() { c.connectionLost(err) })
			return
		}
		d.Post(func() {
			if err := c.Dispatch(msg); err != nil && errors.Is(err, ErrUnknownObject) {
				c.log.Debug("Request dropped", "error", err)
			}
		})
	}
}
