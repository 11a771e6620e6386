package ts

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock wraps clockwork.Clock so that the Now method is a little more
// convenient.
type Clock struct {
	realClock clockwork.Clock
}

func NewRealClock() *Clock {
	return NewClock(clockwork.NewRealClock())
}

// NewClock wraps any clockwork clock; tests pass a fake one.
func NewClock(c clockwork.Clock) *Clock {
	return &Clock{realClock: c}
}

// Now provides a UTC timestamp truncated to the millisecond, which is what
// clients see and what survives a round trip through Postgres.
func (c *Clock) Now() time.Time {
	return c.realClock.Now().UTC().Truncate(time.Millisecond)
}

func (c *Clock) RealClock() clockwork.Clock {
	return c.realClock
}
