package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ClockTimers is a lightweight timer host built on clockwork AfterFunc timers.
// With a fake clock every timer fires deterministically on Advance.
type ClockTimers struct {
	clock clockwork.Clock

	mu     sync.Mutex
	timers map[uuid.UUID]clockwork.Timer
}

func NewClockTimers(clock clockwork.Clock) *ClockTimers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClockTimers{clock: clock, timers: make(map[uuid.UUID]clockwork.Timer)}
}

// Schedule runs task in its own goroutine once the clock reaches at.
func (c *ClockTimers) Schedule(at time.Time, task func()) (uuid.UUID, error) {
	id := uuid.New()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers[id] = c.clock.AfterFunc(at.Sub(c.clock.Now()), func() {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()
		task()
	})
	return id, nil
}

func (c *ClockTimers) Cancel(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	return nil
}

// Pending is the number of timers that have not fired or been cancelled.
func (c *ClockTimers) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
