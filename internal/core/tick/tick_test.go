package tick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/sched/internal/core/timer"
)

func TestFrameClockCountsFromZero(t *testing.T) {
	var c FrameClock
	assert.False(t, c.DidTick(0))
	assert.Zero(t, c.FramesRun())

	f := c.Advance(10 * time.Millisecond)
	assert.Equal(t, uint64(0), f)
	assert.True(t, c.DidTick(0))
	assert.Equal(t, uint64(0), c.TickCount())

	f = c.Advance(10 * time.Millisecond)
	assert.Equal(t, uint64(1), f)
	assert.False(t, c.DidTick(0))
	assert.Equal(t, 20*time.Millisecond, c.WorldTime())
	assert.Equal(t, uint64(2), c.FramesRun())
}

func TestRateGateOnMasterClock(t *testing.T) {
	var c FrameClock
	g, err := NewRateGate(&c, 3)
	require.NoError(t, err)

	var fired []uint64
	for i := 0; i < 10; i++ {
		f := c.Advance(time.Millisecond)
		if g.Fires(f) {
			fired = append(fired, c.TickCount())
		}
	}
	assert.Equal(t, []uint64{0, 3, 6, 9}, fired)
}

func TestRateGateRejectsRateBelowOne(t *testing.T) {
	_, err := NewRateGate(&FrameClock{}, 0)
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = NewRateSource(&FrameClock{}, -2)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestRateGateIgnoresFramesWithoutSourceTick(t *testing.T) {
	var src Counter
	g, err := NewRateGate(&src, 1)
	require.NoError(t, err)

	assert.False(t, g.Fires(0), "source never ticked")
	src.Record(1)
	assert.False(t, g.Fires(0))
	assert.True(t, g.Fires(1))
	assert.False(t, g.Fires(2))
}

func TestCounterRecordsFrameOnce(t *testing.T) {
	var c Counter
	c.Record(4)
	c.Record(4)
	assert.Equal(t, uint64(1), c.Ticks())
	assert.Equal(t, uint64(0), c.TickCount())
	c.Record(5)
	assert.Equal(t, uint64(1), c.TickCount())
}

func TestTimerAndRateSourcesChain(t *testing.T) {
	var clock FrameClock
	second := NewTimerSource(timer.New(time.Second))
	every2, err := NewRateSource(second, 2)
	require.NoError(t, err)

	var secondTicks, rateTicks []uint64
	for i := 0; i < 8; i++ {
		f := clock.Advance(500 * time.Millisecond)
		second.Evaluate(f, 500*time.Millisecond)
		every2.Evaluate(f, 500*time.Millisecond)
		if second.DidTick(f) {
			secondTicks = append(secondTicks, f)
		}
		if every2.DidTick(f) {
			rateTicks = append(rateTicks, f)
		}
	}
	assert.Equal(t, []uint64{1, 3, 5, 7}, secondTicks)
	// Ticks 0 and 2 of the one-second source.
	assert.Equal(t, []uint64{1, 5}, rateTicks)
}
