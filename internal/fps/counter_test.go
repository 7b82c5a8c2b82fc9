package fps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCounterZeroBeforeTicks(t *testing.T) {
	clk := &fakeClock{t: time.Unix(100, 0)}
	c := newWithClock(DefaultWindow, clk.now)
	assert.Zero(t, c.FPS())
}

func TestCounterSteadyRate(t *testing.T) {
	clk := &fakeClock{t: time.Unix(100, 0)}
	c := newWithClock(5, clk.now)

	for i := 0; i < 20; i++ {
		clk.advance(10 * time.Millisecond)
		c.Tick()
	}
	assert.InDelta(t, 100.0, c.FPS(), 0.001)
}

func TestCounterPartialWindow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(100, 0)}
	c := newWithClock(DefaultWindow, clk.now)

	clk.advance(time.Second)
	c.Tick()
	assert.Zero(t, c.FPS(), "one sample has no interval")

	// warm-up only measures the recorded samples, not the idle time before them
	for i := 0; i < 3; i++ {
		clk.advance(25 * time.Millisecond)
		c.Tick()
	}
	assert.InDelta(t, 40.0, c.FPS(), 0.001)
}

func TestCounterIdenticalTimestamps(t *testing.T) {
	clk := &fakeClock{t: time.Unix(100, 0)}
	c := newWithClock(3, clk.now)
	for i := 0; i < 5; i++ {
		c.Tick()
	}
	assert.Zero(t, c.FPS())
}

func TestCounterMinimumWindow(t *testing.T) {
	c := New(0)
	assert.Len(t, c.samples, 2)
}
