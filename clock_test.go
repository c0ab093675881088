package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_Tick_Monotonic(t *testing.T) {
	c := NewClock()
	prev := c.Tick()
	for i := 0; i < 100; i++ {
		next := c.Tick()
		assert.True(t, prev.Less(next), "tick %d did not advance: %+v -> %+v", i, prev, next)
		prev = next
	}
}

func TestClock_Tick_SamePhysicalMillisecond_IncrementsLogical(t *testing.T) {
	fixed := time.UnixMilli(1000)
	c := newClockWithSource(func() time.Time { return fixed })

	first := c.Tick()
	second := c.Tick()
	assert.Equal(t, first.PhysicalMS, second.PhysicalMS)
	assert.Equal(t, first.Logical+1, second.Logical)
}

func TestClock_Tick_BackwardWallClockJump_StillMonotonic(t *testing.T) {
	physical := int64(5000)
	c := newClockWithSource(func() time.Time { return time.UnixMilli(physical) })

	high := c.Tick()
	physical = 1000 // wall clock jumps backward
	low := c.Tick()

	assert.True(t, high.Less(low))
	assert.Equal(t, high.PhysicalMS, low.PhysicalMS)
	assert.Equal(t, high.Logical+1, low.Logical)
}

func TestClock_Observe_AdvancesPastFutureRemote(t *testing.T) {
	c := newClockWithSource(func() time.Time { return time.UnixMilli(1000) })
	c.Tick()

	remote := HybridTimestamp{PhysicalMS: 5000, Logical: 3}
	c.Observe(remote)

	next := c.Tick()
	assert.True(t, remote.Less(next))
}

func TestClock_Observe_SamePhysical_BumpsLogical(t *testing.T) {
	fixed := time.UnixMilli(1000)
	c := newClockWithSource(func() time.Time { return fixed })
	first := c.Tick()

	c.Observe(HybridTimestamp{PhysicalMS: first.PhysicalMS, Logical: first.Logical + 10})

	next := c.Tick()
	assert.Equal(t, first.PhysicalMS, next.PhysicalMS)
	assert.Equal(t, first.Logical+12, next.Logical)
}

func TestHybridTimestamp_Compare(t *testing.T) {
	a := HybridTimestamp{PhysicalMS: 100, Logical: 0}
	b := HybridTimestamp{PhysicalMS: 100, Logical: 1}
	c := HybridTimestamp{PhysicalMS: 200, Logical: 0}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(b))
}
