// Package clock abstracts the source of current time so scheduling can be
// driven deterministically in tests.
package clock

import (
	"errors"
	"sync"
	"time"
)

// ErrClock reports an unusable time reading. The scheduler treats it as a
// tick-level failure.
var ErrClock = errors.New("clock unavailable")

type Clock interface {
	Now() time.Time
}

// System reads the wall clock, truncated to whole seconds because schedule
// times are persisted as unix seconds.
type System struct{}

func (System) Now() time.Time { return time.Now().Truncate(time.Second) }

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Read returns c.Now(), rejecting a nil clock or a zero reading.
func Read(c Clock) (time.Time, error) {
	if c == nil {
		return time.Time{}, ErrClock
	}
	now := c.Now()
	if now.IsZero() {
		return time.Time{}, ErrClock
	}
	return now, nil
}

// Fake is a manually driven clock.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{t: start}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *Fake) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}
