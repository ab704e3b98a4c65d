// Package tick defines tick sources: anything that can report whether it
// advanced during the current frame, and how many times it has advanced.
package tick

import (
	"errors"
	"time"

	"github.com/l1jgo/sched/internal/core/timer"
)

// ErrInvalidRate is returned for rates below one.
var ErrInvalidRate = errors.New("rate must be at least 1")

// Source reports per-frame ticks. Answers are only meaningful for the frame
// currently being processed; before the first tick TickCount is zero.
type Source interface {
	DidTick(frame uint64) bool
	// TickCount is the zero-based index of the most recent tick.
	TickCount() uint64
}

// Counter records ticks for a source. The zero value has never ticked.
type Counter struct {
	lastFrame uint64 // frame+1 of the latest tick, 0 if never ticked
	ticks     uint64
}

// Record marks frame as a tick. Recording the same frame twice counts once.
func (c *Counter) Record(frame uint64) {
	if c.lastFrame == frame+1 {
		return
	}
	c.lastFrame = frame + 1
	c.ticks++
}

func (c *Counter) DidTick(frame uint64) bool { return c.lastFrame == frame+1 }

func (c *Counter) TickCount() uint64 {
	if c.ticks == 0 {
		return 0
	}
	return c.ticks - 1
}

// Ticks returns the total number of recorded ticks.
func (c *Counter) Ticks() uint64 { return c.ticks }

// Standalone is a tick source that is not a system. The scheduler evaluates
// standalone sources at the start of every frame, in creation order.
type Standalone interface {
	Source
	Evaluate(frame uint64, dt time.Duration)
}

// TimerSource ticks whenever its interval timer fires.
type TimerSource struct {
	Counter
	Timer *timer.Timer
}

func NewTimerSource(t *timer.Timer) *TimerSource {
	return &TimerSource{Timer: t}
}

func (s *TimerSource) Evaluate(frame uint64, dt time.Duration) {
	s.Timer.Advance(dt)
	if s.Timer.Consume() {
		s.Record(frame)
	}
}

// RateSource ticks every Nth tick of another source.
type RateSource struct {
	Counter
	Gate RateGate
}

func NewRateSource(src Source, rate int) (*RateSource, error) {
	g, err := NewRateGate(src, rate)
	if err != nil {
		return nil, err
	}
	return &RateSource{Gate: g}, nil
}

func (s *RateSource) Evaluate(frame uint64, _ time.Duration) {
	if s.Gate.Fires(frame) {
		s.Record(frame)
	}
}
