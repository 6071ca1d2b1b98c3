package presence

import (
	"time"

	"github.com/genricoloni/presenced/internal/domain"
)

// SessionClock decides the presence start time for the current session.
// Under TimestampCurrent the first resolved instant is kept until the
// mode changes or Reset is called, so the elapsed counter keeps running
// across republishes.
type SessionClock struct {
	mode  domain.TimestampMode
	start *time.Time
}

// Resolve returns the start time to publish for mode. now is only
// consulted when a new "Current Time" start must be fixed.
func (c *SessionClock) Resolve(mode domain.TimestampMode, custom time.Time, now time.Time) *time.Time {
	if mode != c.mode {
		c.start = nil
		c.mode = mode
	}

	switch mode {
	case domain.TimestampCurrent:
		if c.start == nil {
			t := now.Truncate(time.Second)
			c.start = &t
		}
	case domain.TimestampCustom:
		// an unset custom time behaves like "Current Time"
		if !custom.IsZero() {
			t := custom.Truncate(time.Second)
			c.start = &t
		} else if c.start == nil {
			t := now.Truncate(time.Second)
			c.start = &t
		}
	default:
		c.start = nil
	}

	if c.start == nil {
		return nil
	}
	t := *c.start
	return &t
}

// Reset forgets the fixed start, e.g. on disconnect
func (c *SessionClock) Reset() {
	c.mode = ""
	c.start = nil
}
