package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	c.AfterFunc(2*time.Minute, func() { order = append(order, "second") })
	c.AfterFunc(time.Minute, func() { order = append(order, "first") })
	c.AfterFunc(10*time.Minute, func() { order = append(order, "late") })

	c.Advance(3 * time.Minute)

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, start.Add(3*time.Minute), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFake_CallbackSeesDeadlineTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var seen time.Time
	c.AfterFunc(time.Minute, func() { seen = c.Now() })
	c.Advance(5 * time.Minute)

	assert.Equal(t, start.Add(time.Minute), seen)
}

func TestFake_RescheduledTimersFireWithinAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(time.Minute, tick)
	}
	c.AfterFunc(time.Minute, tick)

	c.Advance(3 * time.Minute)

	assert.Equal(t, 3, ticks)
	assert.Equal(t, 1, c.Pending())
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Minute, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Hour)
	assert.False(t, fired)
	assert.Zero(t, c.Pending())
}
