// Package fps estimates frame rates over a fixed window of recent frame timestamps.
package fps

import (
	"time"
)

// DefaultWindow is the number of samples the capture pipeline keeps.
const DefaultWindow = 20

// minSpan is the smallest window duration that yields a non-zero rate.
const minSpan = time.Microsecond

// Counter is a ring of the last N tick times. Not safe for concurrent use.
type Counter struct {
	samples []time.Time
	current int
	filled  int
	now     func() time.Time
}

// New creates a counter over n samples.
func New(n int) *Counter {
	return newWithClock(n, time.Now)
}

func newWithClock(n int, now func() time.Time) *Counter {
	if n < 2 {
		n = 2
	}
	return &Counter{
		samples: make([]time.Time, n),
		now:     now,
	}
}

// Tick records a frame at the current monotonic time.
func (c *Counter) Tick() {
	c.samples[c.current] = c.now()
	c.current = (c.current + 1) % len(c.samples)
	if c.filled < len(c.samples) {
		c.filled++
	}
}

// FPS returns (k-1)/(newest-oldest) over the k recorded samples (k <= N), or 0 with fewer
// than two samples or when the window spans less than minSpan.
func (c *Counter) FPS() float64 {
	if c.filled < 2 {
		return 0
	}
	n := len(c.samples)
	oldest := c.samples[(c.current-c.filled+n)%n]
	newest := c.samples[(c.current-1+n)%n]

	span := newest.Sub(oldest)
	if span < minSpan {
		return 0
	}
	return float64(c.filled-1) / span.Seconds()
}
