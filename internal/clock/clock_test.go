package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClockAfterFunc(t *testing.T) {
	c := Fake(time.Unix(0, 0))

	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "second") })
	c.AfterFunc(time.Second, func() { order = append(order, "first") })
	stopped := c.AfterFunc(time.Second, func() { order = append(order, "stopped") })

	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())
	assert.Equal(t, 2, c.Pending())

	c.Advance(500 * time.Millisecond)
	assert.Empty(t, order)

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, time.Unix(0, 0).Add(2500*time.Millisecond), c.Now())
}

func TestFakeTimerStopAfterFire(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := 0
	timer := c.AfterFunc(time.Millisecond, func() { fired++ })

	c.Advance(time.Millisecond)
	c.Advance(time.Millisecond)

	assert.Equal(t, 1, fired)
	assert.False(t, timer.Stop())
}
