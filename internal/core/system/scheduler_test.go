package system

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/phase"
)

type recorder struct {
	calls []string
}

func (r *recorder) cb(name string) Callback {
	return func(*Iter) error {
		r.calls = append(r.calls, name)
		return nil
	}
}

func (r *recorder) reset() { r.calls = nil }

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return NewScheduler(ecs.NewWorld(), WithLogger(zaptest.NewLogger(t)))
}

func mustRegister(t *testing.T, s *Scheduler, d Desc) ecs.EntityID {
	t.Helper()
	id, err := s.Register(d)
	require.NoError(t, err)
	return id
}

func mustPhase(t *testing.T, s *Scheduler, name string) ecs.EntityID {
	t.Helper()
	id, ok := s.Phase(name)
	require.True(t, ok, name)
	return id
}

func TestIntervalSystemFiresEveryOtherSecond(t *testing.T) {
	s := newTestScheduler(t)
	var fires []bool
	ran := false
	mustRegister(t, s, Desc{Name: "slow", Interval: 2 * time.Second, Callback: func(*Iter) error {
		ran = true
		return nil
	}})

	for i := 0; i < 4; i++ {
		ran = false
		s.Progress(time.Second)
		fires = append(fires, ran)
	}
	assert.Equal(t, []bool{false, true, false, true}, fires)
}

func TestSimpleRateFiresOnMultiplesOfFrame(t *testing.T) {
	s := newTestScheduler(t)
	var frames []uint64
	mustRegister(t, s, Desc{Name: "every3", Rate: 3, Callback: func(it *Iter) error {
		frames = append(frames, it.Frame)
		return nil
	}})

	for i := 0; i < 10; i++ {
		s.Progress(time.Millisecond)
	}
	assert.Equal(t, []uint64{0, 3, 6, 9}, frames)
}

func TestRateAgainstSystemTickSource(t *testing.T) {
	s := newTestScheduler(t)
	src := mustRegister(t, s, Desc{Name: "t", Phase: mustPhase(t, s, phase.PreUpdate), Callback: func(*Iter) error { return nil }})

	var at []uint64
	mustRegister(t, s, Desc{Name: "gated", TickSource: src, Rate: 3, Callback: func(*Iter) error {
		tsys, _ := s.System(src)
		at = append(at, tsys.TickCount())
		return nil
	}})

	for i := 0; i < 7; i++ {
		s.Progress(time.Millisecond)
	}
	assert.Equal(t, []uint64{0, 3, 6}, at)
}

func TestRateSourceInSamePhaseMustComeFirst(t *testing.T) {
	s := newTestScheduler(t)
	rec := &recorder{}
	src := mustRegister(t, s, Desc{Name: "src", Callback: rec.cb("src")})
	mustRegister(t, s, Desc{Name: "dep", TickSource: src, Rate: 2, Callback: rec.cb("dep")})

	for i := 0; i < 4; i++ {
		s.Progress(time.Millisecond)
	}
	assert.Equal(t, []string{"src", "dep", "src", "src", "dep", "src"}, rec.calls)
}

func TestDisabledSourceStopsDependents(t *testing.T) {
	s := newTestScheduler(t)
	rec := &recorder{}
	src := mustRegister(t, s, Desc{Name: "src", Callback: rec.cb("src")})
	mustRegister(t, s, Desc{Name: "dep", TickSource: src, Callback: rec.cb("dep")})

	require.NoError(t, s.Disable(src))
	s.Progress(time.Millisecond)
	assert.Empty(t, rec.calls)
}

func TestRegistrationOrderIsStableUnderToggling(t *testing.T) {
	s := newTestScheduler(t)
	rec := &recorder{}
	a := mustRegister(t, s, Desc{Name: "a", Callback: rec.cb("a")})
	b := mustRegister(t, s, Desc{Name: "b", Callback: rec.cb("b")})
	mustRegister(t, s, Desc{Name: "c", Callback: rec.cb("c")})

	require.NoError(t, s.Disable(b))
	require.NoError(t, s.Disable(a))
	require.NoError(t, s.Enable(b))
	require.NoError(t, s.Enable(a))

	s.Progress(time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, rec.calls)

	rec.reset()
	require.NoError(t, s.Disable(b))
	s.Progress(time.Millisecond)
	assert.Equal(t, []string{"a", "c"}, rec.calls)
}

func TestPhasesRunInOrder(t *testing.T) {
	s := newTestScheduler(t)
	rec := &recorder{}
	mustRegister(t, s, Desc{Name: "store", Phase: mustPhase(t, s, phase.OnStore), Callback: rec.cb("store")})
	mustRegister(t, s, Desc{Name: "update", Callback: rec.cb("update")})
	mustRegister(t, s, Desc{Name: "load", Phase: mustPhase(t, s, phase.OnLoad), Callback: rec.cb("load")})

	physics, err := s.InsertPhaseAfter(mustPhase(t, s, phase.OnUpdate), "physics")
	require.NoError(t, err)
	mustRegister(t, s, Desc{Name: "integrate", Phase: physics, Callback: rec.cb("integrate")})

	s.Progress(time.Millisecond)
	assert.Equal(t, []string{"load", "update", "integrate", "store"}, rec.calls)
}

func TestDisableStopsTimerAndDoesNotReplay(t *testing.T) {
	s := newTestScheduler(t)
	runs := 0
	id := mustRegister(t, s, Desc{Name: "tick", Interval: 2 * time.Second, Callback: func(*Iter) error {
		runs++
		return nil
	}})

	s.Progress(time.Second)
	require.NoError(t, s.Disable(id))
	for i := 0; i < 5; i++ {
		s.Progress(time.Second)
	}
	sys, _ := s.System(id)
	assert.Equal(t, time.Second, sys.Elapsed(), "no advancement while disabled")
	assert.Zero(t, runs)

	require.NoError(t, s.Enable(id))
	s.Progress(time.Second)
	assert.Equal(t, 1, runs)
	s.Progress(time.Second)
	assert.Equal(t, 1, runs, "missed fires are not replayed")
}

func TestCallbackErrorDoesNotStopFrame(t *testing.T) {
	s := newTestScheduler(t)
	boom := errors.New("boom")
	rec := &recorder{}
	a := mustRegister(t, s, Desc{Name: "a", Callback: func(*Iter) error { return boom }})
	mustRegister(t, s, Desc{Name: "b", Callback: rec.cb("b")})

	res := s.Progress(time.Millisecond)
	assert.Equal(t, []string{"b"}, rec.calls)
	assert.Equal(t, 2, res.SystemsRun)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, a, res.Errors[0].System)
	assert.Equal(t, "a", res.Errors[0].Name)
	assert.True(t, res.Failed())
	assert.ErrorIs(t, res.Err(), boom)

	sys, _ := s.System(a)
	assert.Equal(t, uint64(1), sys.Failures())
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	s := newTestScheduler(t)
	rec := &recorder{}
	mustRegister(t, s, Desc{Name: "bad", Callback: func(*Iter) error { panic("nil map") }})
	mustRegister(t, s, Desc{Name: "good", Callback: rec.cb("good")})

	res := s.Progress(time.Millisecond)
	require.Len(t, res.Errors, 1)
	var pe *PanicError
	require.ErrorAs(t, res.Errors[0], &pe)
	assert.Equal(t, "nil map", pe.Value)
	assert.Equal(t, []string{"good"}, rec.calls)
}

func TestIterCarriesContextSelfAndMatches(t *testing.T) {
	w := ecs.NewWorld()
	s := NewScheduler(w)
	owner := w.CreateEntity()
	type payload struct{ n int }
	ctx := &payload{n: 7}

	var got *Iter
	q := QueryFunc(func(ecs.EntityID) ecs.MatchSet { return ecs.NewMatchSet(owner) })
	mustRegister(t, s, Desc{Name: "ctx", Self: owner, Ctx: ctx, Query: q, Callback: func(it *Iter) error {
		got = it
		return nil
	}})

	s.Progress(16 * time.Millisecond)
	require.NotNil(t, got)
	assert.Same(t, ctx, got.Ctx)
	assert.Equal(t, owner, got.Self)
	assert.Equal(t, []ecs.EntityID{owner}, got.Matches.IDs())
	assert.Equal(t, 16*time.Millisecond, got.DeltaTime)
	assert.Equal(t, "ctx", got.Name)
}

func TestDeltaSystemTimeCoversSkippedFrames(t *testing.T) {
	s := newTestScheduler(t)
	var deltas []time.Duration
	mustRegister(t, s, Desc{Name: "slow", Interval: 2 * time.Second, Callback: func(it *Iter) error {
		deltas = append(deltas, it.DeltaSystemTime)
		return nil
	}})
	for i := 0; i < 4; i++ {
		s.Progress(time.Second)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, deltas)
}

func TestNegativeDeltaCountsAsZero(t *testing.T) {
	s := newTestScheduler(t)
	var got []time.Duration
	mustRegister(t, s, Desc{Name: "watch", Callback: func(it *Iter) error {
		got = append(got, it.DeltaTime, it.DeltaSystemTime)
		return nil
	}})

	s.Progress(time.Second)
	res := s.Progress(-5 * time.Second)
	assert.Zero(t, res.DeltaTime)
	assert.Equal(t, time.Second, s.WorldTime())
	assert.Equal(t, []time.Duration{time.Second, time.Second, 0, 0}, got)
}

func TestConfigurationErrors(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(*Iter) error { return nil }
	late := mustRegister(t, s, Desc{Name: "late", Phase: mustPhase(t, s, phase.OnStore), Callback: noop})

	tests := []struct {
		name string
		desc Desc
		want error
	}{
		{"negative rate", Desc{Rate: -1, Callback: noop}, ErrInvalidRate},
		{"negative interval", Desc{Interval: -time.Second, Callback: noop}, ErrInvalidInterval},
		{"both gates", Desc{Interval: time.Second, Rate: 2, Callback: noop}, ErrConflictingGating},
		{"no callback", Desc{}, ErrMissingCallback},
		{"unknown phase", Desc{Phase: ecs.EntityID(4242), Callback: noop}, ErrPhaseNotFound},
		{"unknown source", Desc{TickSource: ecs.EntityID(4242), Rate: 1, Callback: noop}, ErrTickSourceNotFound},
		{"forward source", Desc{TickSource: late, Rate: 1, Callback: noop}, ErrForwardTickSource},
		{"duplicate name", Desc{Name: "Late", Callback: noop}, ErrDuplicateName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.Len()
			_, err := s.Register(tt.desc)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var ce *ConfigurationError
			assert.ErrorAs(t, err, &ce)
			assert.Equal(t, before, s.Len(), "rejected system must not be added")
		})
	}
}

func TestSetRateRejectsCycles(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(*Iter) error { return nil }
	a := mustRegister(t, s, Desc{Name: "a", Callback: noop})
	b := mustRegister(t, s, Desc{Name: "b", TickSource: a, Callback: noop})

	err := s.SetRate(a, b, 1)
	assert.ErrorIs(t, err, ErrTickSourceCycle)
	err = s.SetRate(a, a, 1)
	assert.ErrorIs(t, err, ErrTickSourceCycle)
	err = s.SetRate(a, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestRemove(t *testing.T) {
	s := newTestScheduler(t)
	rec := &recorder{}
	a := mustRegister(t, s, Desc{Name: "a", Callback: rec.cb("a")})
	b := mustRegister(t, s, Desc{Name: "b", TickSource: a, Callback: rec.cb("b")})
	mustRegister(t, s, Desc{Name: "c", Callback: rec.cb("c")})

	assert.ErrorIs(t, s.Remove(a), ErrTickSourceInUse)
	require.NoError(t, s.Remove(b))
	require.NoError(t, s.Remove(a))
	assert.ErrorIs(t, s.Remove(a), ErrSystemNotFound)

	s.Progress(time.Millisecond)
	assert.Equal(t, []string{"c"}, rec.calls)
	_, ok := s.Lookup("a")
	assert.False(t, ok)

	// The name is free again.
	mustRegister(t, s, Desc{Name: "a", Callback: rec.cb("a2")})
}

func TestSetPhaseMovesToEndOfBucket(t *testing.T) {
	s := newTestScheduler(t)
	rec := &recorder{}
	a := mustRegister(t, s, Desc{Name: "a", Callback: rec.cb("a")})
	mustRegister(t, s, Desc{Name: "b", Callback: rec.cb("b")})
	post := mustPhase(t, s, phase.PostUpdate)
	mustRegister(t, s, Desc{Name: "c", Phase: post, Callback: rec.cb("c")})

	require.NoError(t, s.SetPhase(a, post))
	s.Progress(time.Millisecond)
	assert.Equal(t, []string{"b", "c", "a"}, rec.calls)
}

func TestSetPhaseKeepsTickSourcesOrdered(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(*Iter) error { return nil }
	src := mustRegister(t, s, Desc{Name: "src", Callback: noop})
	dep := mustRegister(t, s, Desc{Name: "dep", TickSource: src, Callback: noop})

	assert.ErrorIs(t, s.SetPhase(src, mustPhase(t, s, phase.OnStore)), ErrForwardTickSource)
	assert.ErrorIs(t, s.SetPhase(dep, mustPhase(t, s, phase.OnLoad)), ErrForwardTickSource)
	assert.NoError(t, s.SetPhase(src, mustPhase(t, s, phase.OnLoad)))
	assert.NoError(t, s.SetPhase(dep, mustPhase(t, s, phase.OnStore)))
}

func TestSetIntervalAndReset(t *testing.T) {
	s := newTestScheduler(t)
	runs := 0
	id := mustRegister(t, s, Desc{Name: "x", Callback: func(*Iter) error {
		runs++
		return nil
	}})

	require.NoError(t, s.SetInterval(id, 3*time.Second))
	s.Progress(2 * time.Second)
	require.NoError(t, s.ResetTimer(id))
	s.Progress(2 * time.Second)
	assert.Zero(t, runs)
	s.Progress(time.Second)
	assert.Equal(t, 1, runs)

	require.NoError(t, s.SetInterval(id, 0))
	sys, _ := s.System(id)
	assert.Equal(t, Always, sys.Gating())
	assert.ErrorIs(t, s.SetInterval(id, -1), ErrInvalidInterval)
}

func TestTimerSourceDrivesRate(t *testing.T) {
	s := newTestScheduler(t)
	second, err := s.AddTimerSource("second", time.Second)
	require.NoError(t, err)
	var frames []uint64
	mustRegister(t, s, Desc{Name: "dep", TickSource: second, Rate: 2, Callback: func(it *Iter) error {
		frames = append(frames, it.Frame)
		return nil
	}})

	for i := 0; i < 8; i++ {
		s.Progress(500 * time.Millisecond)
	}
	assert.Equal(t, []uint64{1, 5}, frames)

	require.NoError(t, s.StopTimer(second))
	for i := 0; i < 8; i++ {
		s.Progress(500 * time.Millisecond)
	}
	assert.Len(t, frames, 2)
	assert.ErrorIs(t, s.RemoveSource(second), ErrTickSourceInUse)
}

func TestRemoveSourceWithRateSourceDependent(t *testing.T) {
	s := newTestScheduler(t)
	second, err := s.AddTimerSource("second", time.Second)
	require.NoError(t, err)
	five, err := s.AddRateSource("five", second, 5)
	require.NoError(t, err)

	assert.ErrorIs(t, s.RemoveSource(second), ErrTickSourceInUse)
	require.NoError(t, s.RemoveSource(five))
	require.NoError(t, s.RemoveSource(second))
	_, ok := s.Source("second")
	assert.False(t, ok)
}

func TestTimeoutSourceTicksOnce(t *testing.T) {
	s := newTestScheduler(t)
	once, err := s.AddTimeout("boot", 2*time.Second)
	require.NoError(t, err)
	runs := 0
	mustRegister(t, s, Desc{Name: "after_boot", TickSource: once, Callback: func(*Iter) error {
		runs++
		return nil
	}})
	for i := 0; i < 6; i++ {
		s.Progress(time.Second)
	}
	assert.Equal(t, 1, runs)
}

func TestRateSourceRejectsSystems(t *testing.T) {
	s := newTestScheduler(t)
	sys := mustRegister(t, s, Desc{Name: "sys", Callback: func(*Iter) error { return nil }})
	_, err := s.AddRateSource("r", sys, 2)
	assert.ErrorIs(t, err, ErrForwardTickSource)
	_, err = s.AddRateSource("r", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = s.AddRateSource("r", 0, 2)
	assert.NoError(t, err)
}

func TestMutatingDuringFramePanics(t *testing.T) {
	s := newTestScheduler(t)
	mustRegister(t, s, Desc{Name: "mutator", Callback: func(*Iter) error {
		_, err := s.Register(Desc{Callback: func(*Iter) error { return nil }})
		return err
	}})

	var ce *ConsistencyError
	func() {
		defer func() { ce, _ = recover().(*ConsistencyError) }()
		s.Progress(time.Millisecond)
	}()
	require.NotNil(t, ce)
	assert.Equal(t, "register", ce.Op)
	assert.Equal(t, 1, s.Len())
}

func TestDisableDuringFrameIsDeferred(t *testing.T) {
	s := newTestScheduler(t)
	rec := &recorder{}
	var b ecs.EntityID
	mustRegister(t, s, Desc{Name: "a", Callback: func(*Iter) error {
		rec.calls = append(rec.calls, "a")
		return s.Disable(b)
	}})
	b = mustRegister(t, s, Desc{Name: "b", Callback: rec.cb("b")})

	s.Progress(time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, rec.calls)
	rec.reset()
	s.Progress(time.Millisecond)
	assert.Equal(t, []string{"a"}, rec.calls)
}

func TestRunBypassesGating(t *testing.T) {
	s := newTestScheduler(t)
	runs := 0
	id := mustRegister(t, s, Desc{Name: "manual", Interval: time.Hour, Disabled: true, Callback: func(*Iter) error {
		runs++
		return nil
	}})
	require.NoError(t, s.Run(id, time.Millisecond))
	assert.Equal(t, 1, runs)

	boom := errors.New("boom")
	failing := mustRegister(t, s, Desc{Callback: func(*Iter) error { return boom }})
	assert.ErrorIs(t, s.Run(failing, 0), boom)
}

func TestTimeScale(t *testing.T) {
	s := newTestScheduler(t)
	var dt time.Duration
	mustRegister(t, s, Desc{Callback: func(it *Iter) error {
		dt = it.DeltaTime
		return nil
	}})
	require.NoError(t, s.SetTimeScale(0.5))
	s.Progress(time.Second)
	assert.Equal(t, 500*time.Millisecond, dt)
	assert.Equal(t, 500*time.Millisecond, s.WorldTime())
	assert.ErrorIs(t, s.SetTimeScale(-1), ErrInvalidTimeScale)
}

func TestSnapshotRestore(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(*Iter) error { return nil }
	mustRegister(t, s, Desc{Name: "regen", Interval: 5 * time.Second, Callback: noop})
	mustRegister(t, s, Desc{Name: "off", Callback: noop, Disabled: true})
	mustRegister(t, s, Desc{Callback: noop})
	s.Progress(3 * time.Second)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, SystemState{Name: "regen", Enabled: true, Elapsed: 3 * time.Second}, snap[0])
	assert.Equal(t, "off", snap[1].Name)
	assert.False(t, snap[1].Enabled)

	s2 := newTestScheduler(t)
	id2 := mustRegister(t, s2, Desc{Name: "regen", Interval: 5 * time.Second, Callback: noop})
	assert.Equal(t, 1, s2.Restore(snap))
	sys, _ := s2.System(id2)
	assert.Equal(t, 3*time.Second, sys.Elapsed())
}
