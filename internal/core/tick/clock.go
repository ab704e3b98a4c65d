package tick

import "time"

// FrameClock is the master clock. It ticks on every frame, so its tick count
// is the zero-based frame index.
type FrameClock struct {
	frame     uint64
	started   bool
	worldTime time.Duration
	delta     time.Duration
}

// Advance starts the next frame and returns its index.
func (c *FrameClock) Advance(dt time.Duration) uint64 {
	if c.started {
		c.frame++
	} else {
		c.started = true
	}
	c.delta = dt
	c.worldTime += dt
	return c.frame
}

func (c *FrameClock) DidTick(frame uint64) bool { return c.started && frame == c.frame }
func (c *FrameClock) TickCount() uint64         { return c.frame }

func (c *FrameClock) Frame() uint64            { return c.frame }
func (c *FrameClock) Started() bool            { return c.started }
func (c *FrameClock) Delta() time.Duration     { return c.delta }
func (c *FrameClock) WorldTime() time.Duration { return c.worldTime }

// FramesRun is the number of frames processed so far.
func (c *FrameClock) FramesRun() uint64 {
	if !c.started {
		return 0
	}
	return c.frame + 1
}
