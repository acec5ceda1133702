package shell

import (
	"time"

	"github.com/bnema/wlrt/internal/clock"
	"github.com/bnema/wlrt/server"
)

// DefaultPingTimeout is how long a client has to answer a ping.
const DefaultPingTimeout = 5 * time.Second

// Pinger tracks one ping/pong exchange. Only the most recent ping counts;
// a timeout is reported once and destroys nothing.
type Pinger struct {
	display   *server.Display
	timeout   time.Duration
	send      func(serial uint32) error
	onTimeout func(serial uint32)

	serial       uint32
	timer        clock.Timer
	gen          uint64
	unresponsive bool
}

// NewPinger returns a pinger that sends with send and calls onTimeout
// from the display loop when a ping goes unanswered for timeout.
func NewPinger(d *server.Display, timeout time.Duration, send func(uint32) error, onTimeout func(uint32)) *Pinger {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	return &Pinger{display: d, timeout: timeout, send: send, onTimeout: onTimeout}
}

// Ping sends a new ping. A timer already running for an earlier ping
// keeps running: repeated pings do not extend the deadline.
func (p *Pinger) Ping() (uint32, error) {
	serial := p.display.NextSerial()
	if err := p.send(serial); err != nil {
		return 0, err
	}
	p.serial = serial
	if p.timer == nil {
		p.gen++
		gen := p.gen
		p.timer = p.display.AfterFunc(p.timeout, func() { p.expire(gen) })
	}
	return serial, nil
}

// Pong answers the outstanding ping. It reports whether serial matched.
func (p *Pinger) Pong(serial uint32) bool {
	if p.serial == 0 || serial != p.serial {
		return false
	}
	p.serial = 0
	p.unresponsive = false
	p.stopTimer()
	return true
}

// Outstanding returns the serial of the unanswered ping, if any.
func (p *Pinger) Outstanding() (uint32, bool) {
	return p.serial, p.serial != 0
}

// Unresponsive reports whether the last ping timed out without a pong.
func (p *Pinger) Unresponsive() bool {
	return p.unresponsive
}

// Stop cancels any pending timeout.
func (p *Pinger) Stop() {
	p.serial = 0
	p.stopTimer()
}

func (p *Pinger) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
}

func (p *Pinger) expire(gen uint64) {
	if gen != p.gen {
		return
	}
	p.timer = nil
	if p.serial == 0 {
		return
	}
	p.unresponsive = true
	if p.onTimeout != nil {
		p.onTimeout(p.serial)
	}
}
