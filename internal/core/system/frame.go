package system

import (
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/core/ecs"
)

// FrameResult summarizes one Progress call.
type FrameResult struct {
	Frame      uint64
	DeltaTime  time.Duration
	SystemsRun int
	Errors     []SystemError
}

// Failed reports whether any callback failed during the frame.
func (r FrameResult) Failed() bool { return len(r.Errors) > 0 }

// Err combines every callback error of the frame, or nil.
func (r FrameResult) Err() error {
	var err error
	for _, e := range r.Errors {
		err = multierr.Append(err, e)
	}
	return err
}

// Progress runs one frame: it advances the clock by dt (scaled), evaluates
// standalone tick sources, then walks every phase in order and every enabled
// system in registration order, invoking those whose gating fires.
//
// A failing callback does not stop the frame; its error is collected in the
// result. A negative dt counts as zero.
func (s *Scheduler) Progress(dt time.Duration) FrameResult {
	if !s.inFlight.CompareAndSwap(false, true) {
		panic(&ConsistencyError{Op: "progress"})
	}
	defer s.endFrame()

	start := time.Now()
	if dt < 0 {
		dt = 0 // the clock never runs backwards
	}
	if s.timeScale != 1 {
		dt = time.Duration(float64(dt) * s.timeScale)
	}
	frame := s.clock.Advance(dt)
	for _, id := range s.sourceOrder {
		s.sources[id].Evaluate(frame, dt)
	}

	res := FrameResult{Frame: frame, DeltaTime: dt}
	for _, ph := range s.phases.Order() {
		for _, sys := range s.buckets[ph] {
			if !sys.enabled {
				continue
			}
			if !sys.fires(frame, dt) {
				continue
			}
			res.SystemsRun++
			if err := s.invoke(sys, frame, dt); err != nil {
				res.Errors = append(res.Errors, SystemError{System: sys.id, Name: sys.name, Err: err})
			}
		}
	}

	if s.observer != nil {
		s.observer.FrameDone(res, time.Since(start))
	}
	return res
}

// Run invokes one system immediately, ignoring its gating and enabled state.
// Timers are not advanced and the system does not count as having ticked.
func (s *Scheduler) Run(id ecs.EntityID, dt time.Duration) error {
	s.mustBeIdle("run")
	sys, ok := s.systems[id]
	if !ok {
		return configErr("run", id.String(), ErrSystemNotFound)
	}
	s.inFlight.Store(true)
	defer s.endFrame()
	err := s.call(sys, s.iter(sys, s.clock.Frame(), dt))
	if err != nil {
		return SystemError{System: sys.id, Name: sys.name, Err: err}
	}
	return nil
}

func (s *Scheduler) endFrame() {
	s.inFlight.Store(false)
	pending := s.pending
	s.pending = nil
	for _, t := range pending {
		if sys, ok := s.systems[t.id]; ok {
			sys.enabled = t.enable
		}
	}
}

func (s *Scheduler) invoke(sys *System, frame uint64, dt time.Duration) error {
	it := s.iter(sys, frame, dt)
	sys.ticks.Record(frame)
	sys.runs++
	sys.ranAt = s.clock.WorldTime()

	err := s.call(sys, it)
	if err != nil {
		sys.failures++
		s.log.Error("system failed",
			zap.String("system", sys.label()),
			zap.Uint64("frame", frame),
			zap.Error(err),
		)
	}
	return err
}

func (s *Scheduler) iter(sys *System, frame uint64, dt time.Duration) *Iter {
	it := &Iter{
		System:          sys.id,
		Name:            sys.name,
		Self:            sys.self,
		Ctx:             sys.ctx,
		Frame:           frame,
		DeltaTime:       dt,
		DeltaSystemTime: s.clock.WorldTime() - sys.ranAt,
		WorldTime:       s.clock.WorldTime(),
	}
	if sys.query != nil {
		it.Matches = sys.query.Match(sys.id)
	}
	return it
}

// call runs the callback, turning a panic into an error. Consistency
// violations are re-raised.
func (s *Scheduler) call(sys *System, it *Iter) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			if ce, ok := rec.(*ConsistencyError); ok {
				panic(ce)
			}
			s.log.Error("system panic recovered",
				zap.String("system", sys.label()),
				zap.Any("panic", rec),
			)
			err = &PanicError{Value: rec}
		}
		if s.observer != nil {
			s.observer.SystemRan(sys.label(), time.Since(start), err)
		}
	}()
	return sys.callback(it)
}
