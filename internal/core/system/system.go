// Package system schedules systems: per-frame callbacks bucketed by phase and
// gated by an interval timer or a rate against a tick source.
package system

import (
	"time"

	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/tick"
	"github.com/l1jgo/sched/internal/core/timer"
)

// Query supplies the match set a system iterates over. It is called once per
// invocation with the system's handle.
type Query interface {
	Match(system ecs.EntityID) ecs.MatchSet
}

// QueryFunc adapts a function to Query.
type QueryFunc func(system ecs.EntityID) ecs.MatchSet

func (f QueryFunc) Match(system ecs.EntityID) ecs.MatchSet { return f(system) }

// Iter is what a callback receives.
type Iter struct {
	System ecs.EntityID
	Name   string
	Self   ecs.EntityID
	// Ctx is the caller-owned context from the system's Desc, passed through untouched.
	Ctx   any
	Frame uint64
	// DeltaTime is the frame delta after time scaling.
	DeltaTime time.Duration
	// DeltaSystemTime is the world time since this system last ran.
	DeltaSystemTime time.Duration
	WorldTime       time.Duration
	Matches         ecs.MatchSet
}

// Callback is the system body. A returned error fails only this invocation.
type Callback func(it *Iter) error

// Updater is implemented by struct-style systems.
type Updater interface {
	Update(it *Iter) error
}

// Gating selects how a system decides to run on a frame.
type Gating int

const (
	Always Gating = iota
	Interval
	Rate
)

func (g Gating) String() string {
	switch g {
	case Always:
		return "always"
	case Interval:
		return "interval"
	case Rate:
		return "rate"
	default:
		return "unknown"
	}
}

// System is a scheduled system. It is owned by the Scheduler; use the
// scheduler's mutators to change it.
type System struct {
	id    ecs.EntityID
	name  string
	phase ecs.EntityID

	gating Gating
	timer  *timer.Timer
	gate   tick.RateGate
	source ecs.EntityID // zero means the master clock

	self     ecs.EntityID
	ctx      any
	query    Query
	callback Callback
	enabled  bool

	// A system is itself a tick source: it ticks on frames where it ran.
	ticks tick.Counter

	ranAt    time.Duration // world time of the last run, or of registration
	runs     uint64
	failures uint64
}

func (s *System) ID() ecs.EntityID         { return s.id }
func (s *System) Name() string             { return s.name }
func (s *System) Phase() ecs.EntityID      { return s.phase }
func (s *System) Gating() Gating           { return s.gating }
func (s *System) Self() ecs.EntityID       { return s.self }
func (s *System) Ctx() any                 { return s.ctx }
func (s *System) Enabled() bool            { return s.enabled }
func (s *System) Runs() uint64             { return s.runs }
func (s *System) Failures() uint64         { return s.failures }
func (s *System) TickSource() ecs.EntityID { return s.source }

// Interval returns the timer interval, or zero when not interval gated.
func (s *System) Interval() time.Duration {
	if s.gating != Interval {
		return 0
	}
	return s.timer.Interval()
}

// Elapsed returns the timer accumulator, or zero when not interval gated.
func (s *System) Elapsed() time.Duration {
	if s.gating != Interval {
		return 0
	}
	return s.timer.Elapsed()
}

// Rate returns the rate multiplier, or zero when not rate gated.
func (s *System) Rate() int {
	if s.gating != Rate {
		return 0
	}
	return s.gate.Rate
}

func (s *System) DidTick(frame uint64) bool { return s.ticks.DidTick(frame) }
func (s *System) TickCount() uint64         { return s.ticks.TickCount() }

func (s *System) label() string {
	if s.name != "" {
		return s.name
	}
	return s.id.String()
}

// fires evaluates the gating policy for frame. Interval timers are advanced
// here, so this must only be called for enabled systems.
func (s *System) fires(frame uint64, dt time.Duration) bool {
	switch s.gating {
	case Interval:
		s.timer.Advance(dt)
		return s.timer.Consume()
	case Rate:
		return s.gate.Fires(frame)
	default:
		return true
	}
}
