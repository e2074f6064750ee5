// Package clock produces the second-precision UTC timestamps stamped onto
// event records and session history.
//
// Production code uses System(); tests inject a Fake so that timestamps are
// deterministic.
package clock

import (
	"sync"
	"time"
)

// Layout is the fixed textual form of every timestamp written by pxh.
const Layout = "2006-01-02T15:04:05Z"

// Clock abstracts the wall clock.
type Clock interface {
	// Now returns the current UTC time truncated to whole seconds.
	Now() time.Time
}

// Format renders t in Layout after converting to UTC and dropping fractional seconds.
func Format(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(Layout)
}

// Timestamp is shorthand for Format(c.Now()).
func Timestamp(c Clock) string {
	return Format(c.Now())
}

// systemClock reads time.Now and never hands out a value earlier than one
// it already returned, so a backwards wall-clock step inside one process
// cannot reorder history entries.
type systemClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

var system = &systemClock{now: time.Now}

// System returns the process-wide wall clock.
func System() Clock {
	return system
}

func (c *systemClock) Now() time.Time {
	t := c.now().UTC().Truncate(time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}

// Now returns the system clock's current timestamp string.
func Now() string {
	return Timestamp(system)
}
