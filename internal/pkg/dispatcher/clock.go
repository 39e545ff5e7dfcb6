package dispatcher

import (
	"sync"
	"time"
)

// wireClock tracks time as seen on the wire: the newest capture timestamp
// plus the local time elapsed since it arrived. Timers driven by it behave
// the same for live capture and for a fast offline replay.
type wireClock struct {
	mu       sync.Mutex
	wire     time.Time
	received time.Time
	wall     func() time.Time
}

func newWireClock(wall func() time.Time) *wireClock {
	if wall == nil {
		wall = time.Now
	}
	return &wireClock{wall: wall}
}

func (c *wireClock) observe(wire time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wire.After(c.wire) {
		c.wire = wire
		c.received = c.wall()
	}
}

func (c *wireClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wire.IsZero() {
		return c.wall()
	}
	return c.wire.Add(c.wall().Sub(c.received))
}
