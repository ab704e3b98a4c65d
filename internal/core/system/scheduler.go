package system

import (
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/phase"
	"github.com/l1jgo/sched/internal/core/tick"
	"github.com/l1jgo/sched/internal/core/timer"
)

// Observer receives timing for every invocation and every frame.
type Observer interface {
	SystemRan(name string, took time.Duration, err error)
	FrameDone(res FrameResult, took time.Duration)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) SystemRan(name string, took time.Duration, err error) {
	for _, ob := range o {
		ob.SystemRan(name, took, err)
	}
}

func (o Observers) FrameDone(res FrameResult, took time.Duration) {
	for _, ob := range o {
		ob.FrameDone(res, took)
	}
}

type Option func(*Scheduler)

func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// WithTimeScale multiplies every frame delta by scale.
func WithTimeScale(scale float64) Option {
	return func(s *Scheduler) { s.timeScale = scale }
}

type toggle struct {
	id     ecs.EntityID
	enable bool
}

// Scheduler runs systems phase by phase, once per Progress call.
//
// It is single-writer: structural mutators must not be called while Progress
// is running. Doing so panics with *ConsistencyError. Enable and Disable are
// the exception; during a frame they are deferred until the frame ends.
type Scheduler struct {
	world  *ecs.World
	phases *phase.Graph
	clock  tick.FrameClock

	buckets map[ecs.EntityID][]*System
	systems map[ecs.EntityID]*System

	sources     map[ecs.EntityID]tick.Standalone
	sourceOrder []ecs.EntityID
	timers      map[ecs.EntityID]*timer.Timer
	upstream    map[ecs.EntityID]ecs.EntityID // rate source -> the source it counts

	timeScale float64
	inFlight  atomic.Bool
	pending   []toggle

	log      *zap.Logger
	observer Observer
}

// NewScheduler creates a scheduler that allocates handles from world.
func NewScheduler(world *ecs.World, opts ...Option) *Scheduler {
	s := &Scheduler{
		world:     world,
		phases:    phase.NewGraph(world.Pool()),
		buckets:   make(map[ecs.EntityID][]*System),
		systems:   make(map[ecs.EntityID]*System),
		sources:   make(map[ecs.EntityID]tick.Standalone),
		timers:    make(map[ecs.EntityID]*timer.Timer),
		upstream:  make(map[ecs.EntityID]ecs.EntityID),
		timeScale: 1,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Phases ────────────────────────────────────────────────────────

func (s *Scheduler) Phases() *phase.Graph { return s.phases }

// Phase looks up a phase handle by name.
func (s *Scheduler) Phase(name string) (ecs.EntityID, bool) {
	return s.phases.Lookup(name)
}

func (s *Scheduler) InsertPhaseBefore(anchor ecs.EntityID, name string) (ecs.EntityID, error) {
	s.mustBeIdle("insert phase")
	id, err := s.phases.InsertBefore(anchor, name)
	if err != nil {
		return 0, configErr("insert phase", name, err)
	}
	return id, nil
}

func (s *Scheduler) InsertPhaseAfter(anchor ecs.EntityID, name string) (ecs.EntityID, error) {
	s.mustBeIdle("insert phase")
	id, err := s.phases.InsertAfter(anchor, name)
	if err != nil {
		return 0, configErr("insert phase", name, err)
	}
	return id, nil
}

// ── Standalone tick sources ───────────────────────────────────────

// AddTimerSource creates a tick source that ticks every interval.
func (s *Scheduler) AddTimerSource(name string, interval time.Duration) (ecs.EntityID, error) {
	return s.addTimer("add timer", name, timer.New(interval), interval)
}

// AddTimeout creates a tick source that ticks once, d after creation.
func (s *Scheduler) AddTimeout(name string, d time.Duration) (ecs.EntityID, error) {
	return s.addTimer("add timeout", name, timer.NewTimeout(d), d)
}

func (s *Scheduler) addTimer(op, name string, t *timer.Timer, d time.Duration) (ecs.EntityID, error) {
	s.mustBeIdle(op)
	if d < 0 {
		return 0, configErr(op, name, ErrInvalidInterval)
	}
	id, err := s.createEntity(op, name)
	if err != nil {
		return 0, err
	}
	s.timers[id] = t
	s.addSource(id, tick.NewTimerSource(t))
	return id, nil
}

// AddRateSource creates a tick source that ticks on every rate-th tick of src.
// src must be another standalone source, or zero for the frame clock.
func (s *Scheduler) AddRateSource(name string, src ecs.EntityID, rate int) (ecs.EntityID, error) {
	const op = "add rate source"
	s.mustBeIdle(op)
	var from tick.Source = &s.clock
	if !src.IsZero() {
		if _, isSystem := s.systems[src]; isSystem {
			return 0, configErr(op, name, ErrForwardTickSource)
		}
		standalone, ok := s.sources[src]
		if !ok {
			return 0, configErr(op, name, ErrTickSourceNotFound)
		}
		from = standalone
	}
	rs, err := tick.NewRateSource(from, rate)
	if err != nil {
		return 0, configErr(op, name, err)
	}
	id, err := s.createEntity(op, name)
	if err != nil {
		return 0, err
	}
	s.addSource(id, rs)
	if !src.IsZero() {
		s.upstream[id] = src
	}
	return id, nil
}

func (s *Scheduler) addSource(id ecs.EntityID, src tick.Standalone) {
	s.sources[id] = src
	s.sourceOrder = append(s.sourceOrder, id)
}

// StartTimer re-arms a timer source with an empty accumulator.
func (s *Scheduler) StartTimer(id ecs.EntityID) error {
	s.mustBeIdle("start timer")
	t, ok := s.timers[id]
	if !ok {
		return configErr("start timer", s.world.Name(id), ErrTickSourceNotFound)
	}
	t.Start()
	return nil
}

// StopTimer freezes a timer source.
func (s *Scheduler) StopTimer(id ecs.EntityID) error {
	s.mustBeIdle("stop timer")
	t, ok := s.timers[id]
	if !ok {
		return configErr("stop timer", s.world.Name(id), ErrTickSourceNotFound)
	}
	t.Stop()
	return nil
}

// RemoveSource deletes a standalone tick source nothing depends on.
func (s *Scheduler) RemoveSource(id ecs.EntityID) error {
	const op = "remove source"
	s.mustBeIdle(op)
	if _, ok := s.sources[id]; !ok {
		return configErr(op, s.world.Name(id), ErrTickSourceNotFound)
	}
	if s.hasDependents(id) {
		return configErr(op, s.world.Name(id), ErrTickSourceInUse)
	}
	delete(s.sources, id)
	delete(s.timers, id)
	delete(s.upstream, id)
	s.sourceOrder = slices.DeleteFunc(s.sourceOrder, func(e ecs.EntityID) bool { return e == id })
	s.world.Destroy(id)
	return nil
}

// ── Systems ───────────────────────────────────────────────────────

// Register validates d and appends the system to its phase bucket.
func (s *Scheduler) Register(d Desc) (ecs.EntityID, error) {
	const op = "register"
	s.mustBeIdle(op)

	if err := d.validate(); err != nil {
		return 0, configErr(op, d.Name, err)
	}
	ph := d.Phase
	if ph.IsZero() {
		ph = s.phases.Default()
	}
	if !s.phases.Has(ph) {
		return 0, configErr(op, d.Name, ErrPhaseNotFound)
	}

	sys := &System{
		phase:    ph,
		self:     d.Self,
		ctx:      d.Ctx,
		query:    d.Query,
		callback: d.Callback,
		enabled:  !d.Disabled,
		ranAt:    s.clock.WorldTime(),
	}
	switch {
	case d.Interval > 0:
		sys.gating = Interval
		sys.timer = timer.New(d.Interval)
	case d.Rate > 0 || !d.TickSource.IsZero():
		rate := d.Rate
		if rate == 0 {
			rate = 1
		}
		gate, err := s.resolveGate(sys, ph, d.TickSource, rate)
		if err != nil {
			return 0, configErr(op, d.Name, err)
		}
		sys.gating = Rate
		sys.gate = gate
		sys.source = d.TickSource
	}

	id, err := s.createEntity(op, d.Name)
	if err != nil {
		return 0, err
	}
	sys.id = id
	sys.name = s.world.Name(id)

	s.systems[id] = sys
	s.buckets[ph] = append(s.buckets[ph], sys)
	s.log.Debug("system registered",
		zap.String("system", sys.label()),
		zap.String("phase", s.phases.Name(ph)),
		zap.Stringer("gating", sys.gating),
	)
	return id, nil
}

// Remove unschedules a system and releases its handle.
func (s *Scheduler) Remove(id ecs.EntityID) error {
	const op = "remove"
	s.mustBeIdle(op)
	sys, ok := s.systems[id]
	if !ok {
		return configErr(op, id.String(), ErrSystemNotFound)
	}
	if s.hasDependents(id) {
		return configErr(op, sys.label(), ErrTickSourceInUse)
	}
	s.unbucket(sys)
	delete(s.systems, id)
	s.world.Destroy(id)
	return nil
}

// Enable schedules a disabled system again. Missed fires are not replayed.
func (s *Scheduler) Enable(id ecs.EntityID) error { return s.setEnabled("enable", id, true) }

// Disable stops a system; its timer does not advance while disabled.
func (s *Scheduler) Disable(id ecs.EntityID) error { return s.setEnabled("disable", id, false) }

func (s *Scheduler) setEnabled(op string, id ecs.EntityID, enabled bool) error {
	sys, ok := s.systems[id]
	if !ok {
		return configErr(op, id.String(), ErrSystemNotFound)
	}
	if s.inFlight.Load() {
		s.pending = append(s.pending, toggle{id: id, enable: enabled})
		return nil
	}
	sys.enabled = enabled
	return nil
}

// SetInterval switches the system to interval gating. Zero means always run.
// An existing timer keeps its accumulated time.
func (s *Scheduler) SetInterval(id ecs.EntityID, d time.Duration) error {
	const op = "set interval"
	s.mustBeIdle(op)
	sys, ok := s.systems[id]
	if !ok {
		return configErr(op, id.String(), ErrSystemNotFound)
	}
	if d < 0 {
		return configErr(op, sys.label(), ErrInvalidInterval)
	}
	if d == 0 {
		sys.gating, sys.timer, sys.gate, sys.source = Always, nil, tick.RateGate{}, 0
		return nil
	}
	if sys.gating == Interval {
		sys.timer.SetInterval(d)
	} else {
		sys.timer = timer.New(d)
	}
	sys.gating, sys.gate, sys.source = Interval, tick.RateGate{}, 0
	return nil
}

// SetRate switches the system to rate gating against src (zero: frame clock).
func (s *Scheduler) SetRate(id ecs.EntityID, src ecs.EntityID, rate int) error {
	const op = "set rate"
	s.mustBeIdle(op)
	sys, ok := s.systems[id]
	if !ok {
		return configErr(op, id.String(), ErrSystemNotFound)
	}
	gate, err := s.resolveGate(sys, sys.phase, src, rate)
	if err != nil {
		return configErr(op, sys.label(), err)
	}
	sys.gating, sys.timer, sys.gate, sys.source = Rate, nil, gate, src
	return nil
}

// SetPhase moves the system to the end of another phase's bucket.
func (s *Scheduler) SetPhase(id ecs.EntityID, ph ecs.EntityID) error {
	const op = "set phase"
	s.mustBeIdle(op)
	sys, ok := s.systems[id]
	if !ok {
		return configErr(op, id.String(), ErrSystemNotFound)
	}
	to, ok := s.phases.Index(ph)
	if !ok {
		return configErr(op, sys.label(), ErrPhaseNotFound)
	}
	if ph == sys.phase {
		return nil
	}
	// Its own source must still run first.
	if src, isSystem := s.systems[sys.source]; isSystem {
		if from, _ := s.phases.Index(src.phase); from > to {
			return configErr(op, sys.label(), ErrForwardTickSource)
		}
	}
	// Every dependent must still run after it. Appending to a dependent's
	// phase would place it last, so the new phase must be strictly earlier.
	for _, dep := range s.systems {
		if dep.gating != Rate || dep.source != id {
			continue
		}
		if at, _ := s.phases.Index(dep.phase); to >= at {
			return configErr(op, sys.label(), ErrForwardTickSource)
		}
	}
	s.unbucket(sys)
	sys.phase = ph
	s.buckets[ph] = append(s.buckets[ph], sys)
	return nil
}

// ResetTimer zeroes the interval accumulator of a system. Systems that are not
// interval gated are left alone.
func (s *Scheduler) ResetTimer(id ecs.EntityID) error {
	const op = "reset timer"
	s.mustBeIdle(op)
	sys, ok := s.systems[id]
	if !ok {
		return configErr(op, id.String(), ErrSystemNotFound)
	}
	if sys.gating == Interval {
		sys.timer.Reset()
	}
	return nil
}

// SetTimeScale multiplies frame deltas from the next Progress on.
func (s *Scheduler) SetTimeScale(scale float64) error {
	s.mustBeIdle("set time scale")
	if scale < 0 {
		return configErr("set time scale", "", ErrInvalidTimeScale)
	}
	s.timeScale = scale
	return nil
}

// ── Lookups ───────────────────────────────────────────────────────

func (s *Scheduler) System(id ecs.EntityID) (*System, bool) {
	sys, ok := s.systems[id]
	return sys, ok
}

// Lookup finds a system by name.
func (s *Scheduler) Lookup(name string) (*System, bool) {
	id, ok := s.world.Lookup(phase.Normalize(name))
	if !ok {
		return nil, false
	}
	return s.System(id)
}

// Source looks up any tick source (system or standalone) by name.
func (s *Scheduler) Source(name string) (ecs.EntityID, bool) {
	id, ok := s.world.Lookup(phase.Normalize(name))
	if !ok {
		return 0, false
	}
	if _, isSystem := s.systems[id]; isSystem {
		return id, true
	}
	_, isSource := s.sources[id]
	return id, isSource
}

// Systems returns every system in execution order.
func (s *Scheduler) Systems() []*System {
	out := make([]*System, 0, len(s.systems))
	for _, ph := range s.phases.Order() {
		out = append(out, s.buckets[ph]...)
	}
	return out
}

func (s *Scheduler) Len() int                 { return len(s.systems) }
func (s *Scheduler) Frame() uint64            { return s.clock.Frame() }
func (s *Scheduler) FramesRun() uint64        { return s.clock.FramesRun() }
func (s *Scheduler) WorldTime() time.Duration { return s.clock.WorldTime() }
func (s *Scheduler) TimeScale() float64       { return s.timeScale }
func (s *Scheduler) World() *ecs.World        { return s.world }

// ── Helpers ───────────────────────────────────────────────────────

func (s *Scheduler) mustBeIdle(op string) {
	if s.inFlight.Load() {
		panic(&ConsistencyError{Op: op})
	}
}

func (s *Scheduler) createEntity(op, name string) (ecs.EntityID, error) {
	name = phase.Normalize(name)
	id, ok := s.world.CreateNamed(name)
	if !ok {
		return 0, configErr(op, name, ErrDuplicateName)
	}
	return id, nil
}

// resolveGate checks that src can gate sys when sys runs in phase ph.
func (s *Scheduler) resolveGate(sys *System, ph ecs.EntityID, src ecs.EntityID, rate int) (tick.RateGate, error) {
	if src.IsZero() {
		return tick.NewRateGate(&s.clock, rate)
	}
	if standalone, ok := s.sources[src]; ok {
		return tick.NewRateGate(standalone, rate)
	}
	srcSys, ok := s.systems[src]
	if !ok {
		return tick.RateGate{}, ErrTickSourceNotFound
	}
	if srcSys == sys || s.chainReaches(srcSys, sys) {
		return tick.RateGate{}, ErrTickSourceCycle
	}
	from, _ := s.phases.Index(srcSys.phase)
	to, _ := s.phases.Index(ph)
	if from > to {
		return tick.RateGate{}, ErrForwardTickSource
	}
	if from == to && sys.id != 0 && s.bucketPos(sys) < s.bucketPos(srcSys) {
		return tick.RateGate{}, ErrForwardTickSource
	}
	return tick.NewRateGate(srcSys, rate)
}

// chainReaches reports whether following tick sources from start hits target.
func (s *Scheduler) chainReaches(start, target *System) bool {
	seen := make(map[*System]bool)
	for cur := start; cur != nil && !seen[cur]; {
		if cur == target {
			return true
		}
		seen[cur] = true
		if cur.gating != Rate {
			return false
		}
		cur = s.systems[cur.source]
	}
	return false
}

func (s *Scheduler) hasDependents(id ecs.EntityID) bool {
	for _, up := range s.upstream {
		if up == id {
			return true
		}
	}
	for _, sys := range s.systems {
		if sys.gating == Rate && sys.source == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) bucketPos(sys *System) int {
	return slices.Index(s.buckets[sys.phase], sys)
}

func (s *Scheduler) unbucket(sys *System) {
	bucket := s.buckets[sys.phase]
	if i := slices.Index(bucket, sys); i >= 0 {
		s.buckets[sys.phase] = slices.Delete(bucket, i, i+1)
	}
}
