package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/event"
	coresys "github.com/l1jgo/sched/internal/core/system"
	"github.com/l1jgo/sched/internal/persist"
)

type fakeFrameWriter struct {
	frames  []persist.FrameRecord
	errs    []persist.ErrorRecord
	batches int
	fail    error
}

func (w *fakeFrameWriter) WriteBatch(_ context.Context, frames []persist.FrameRecord, errs []persist.ErrorRecord) error {
	if w.fail != nil {
		return w.fail
	}
	w.batches++
	w.frames = append(w.frames, frames...)
	w.errs = append(w.errs, errs...)
	return nil
}

type fakeStateSaver struct {
	saved [][]coresys.SystemState
}

func (s *fakeStateSaver) Save(_ context.Context, states []coresys.SystemState) error {
	s.saved = append(s.saved, states)
	return nil
}

type harness struct {
	sched  *coresys.Scheduler
	rt     *Runtime
	frames *fakeFrameWriter
	states *fakeStateSaver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := event.NewBus()
	s := coresys.NewScheduler(ecs.NewWorld(), coresys.WithObserver(NewFrameEmitter(bus)))
	h := &harness{sched: s, frames: &fakeFrameWriter{}, states: &fakeStateSaver{}}

	rt, err := Install(s, bus, Options{
		StatsInterval: time.Second,
		StatsRate:     2,
		Frames:        h.frames,
		States:        h.states,
		FlushInterval: 2 * time.Second,
		MaxPending:    100,
	}, zap.NewNop())
	require.NoError(t, err)
	h.rt = rt

	_, err = s.Register(coresys.Desc{Name: "flaky", Callback: func(*coresys.Iter) error {
		return errors.New("flaky failed")
	}})
	require.NoError(t, err)
	return h
}

func TestRuntimeOrder(t *testing.T) {
	h := newHarness(t)
	var names []string
	for _, sys := range h.sched.Systems() {
		names = append(names, sys.Name())
	}
	assert.Equal(t, []string{DispatchName, "flaky", StatsName, PersistenceName, CleanupName}, names)
}

func TestRuntimeFlow(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 4; i++ {
		res := h.sched.Progress(time.Second)
		require.Len(t, res.Errors, 1, "frame %d", i)
	}

	// Events of frame N reach subscribers in frame N+1, so frame 3's events
	// are still queued.
	assert.Equal(t, 2, h.frames.batches)
	require.Len(t, h.frames.frames, 3)
	assert.Equal(t, []uint64{0, 1, 2}, []uint64{h.frames.frames[0].Frame, h.frames.frames[1].Frame, h.frames.frames[2].Frame})
	assert.Equal(t, 3*time.Second, h.frames.frames[2].WorldTime)
	require.Len(t, h.frames.errs, 3)
	assert.Equal(t, "flaky", h.frames.errs[0].System)
	assert.Equal(t, "flaky failed", h.frames.errs[0].Message)

	require.Len(t, h.states.saved, 2)
	assert.Len(t, h.states.saved[0], 5)

	// stats ran on stats_clock ticks 0 and 2; the second run saw frames 0 and 1.
	last := h.rt.Stats.Last()
	assert.Equal(t, 2, last.Frames)
	assert.Equal(t, 2, last.Failures)
	assert.Equal(t, uint64(1), last.LastFrame)
}

func TestPersistenceKeepsBufferOnFailure(t *testing.T) {
	h := newHarness(t)
	h.frames.fail = errors.New("db down")

	var failures int
	for i := 0; i < 4; i++ {
		res := h.sched.Progress(time.Second)
		for _, e := range res.Errors {
			if e.Name == PersistenceName {
				failures++
			}
		}
	}
	assert.Equal(t, 2, failures)
	assert.Equal(t, 3, h.rt.Persistence.Pending())
	assert.Empty(t, h.states.saved)

	h.frames.fail = nil
	require.NoError(t, h.rt.Persistence.Flush(context.Background()))
	assert.Zero(t, h.rt.Persistence.Pending())
	assert.Len(t, h.frames.frames, 3)
}

func TestPersistenceDropsOldestOverCapacity(t *testing.T) {
	bus := event.NewBus()
	w := &fakeFrameWriter{}
	p := NewPersistenceSystem(bus, w, &fakeStateSaver{}, func() []coresys.SystemState { return nil }, 2, zap.NewNop())
	for i := uint64(0); i < 5; i++ {
		event.Emit(bus, event.FrameCompleted{Frame: i})
	}
	bus.SwapBuffers()
	bus.DispatchAll()

	assert.Equal(t, 2, p.Pending())
	require.NoError(t, p.Flush(context.Background()))
	require.Len(t, w.frames, 2)
	assert.Equal(t, uint64(3), w.frames[0].Frame)
	assert.Equal(t, uint64(4), w.frames[1].Frame)
}

func TestPersistenceBoundsErrorsWhileDatabaseDown(t *testing.T) {
	bus := event.NewBus()
	w := &fakeFrameWriter{fail: errors.New("db down")}
	p := NewPersistenceSystem(bus, w, &fakeStateSaver{}, func() []coresys.SystemState { return nil }, 8, zap.NewNop())

	for i := uint64(0); i < 1000; i++ {
		event.Emit(bus, event.SystemFailed{Frame: i, Name: "flaky", Message: "boom"})
		event.Emit(bus, event.FrameCompleted{Frame: i, Failures: 1})
		bus.SwapBuffers()
		bus.DispatchAll()
		if i%50 == 0 {
			require.Error(t, p.Flush(context.Background()))
		}
	}
	assert.Equal(t, 8, p.Pending())
	assert.LessOrEqual(t, p.PendingErrors(), 8)

	w.fail = nil
	require.NoError(t, p.Flush(context.Background()))
	require.Len(t, w.frames, 8)
	oldest := w.frames[0].Frame
	assert.Equal(t, uint64(992), oldest)
	for _, e := range w.errs {
		assert.GreaterOrEqual(t, e.Frame, oldest, "errors of dropped frames are dropped too")
	}
	assert.Zero(t, p.PendingErrors())
}

func TestCleanupFlushesDestroyQueue(t *testing.T) {
	h := newHarness(t)
	world := h.sched.World()
	e := world.CreateEntity()
	world.MarkForDestruction(e)
	require.True(t, world.Alive(e))

	h.sched.Progress(time.Second)
	assert.False(t, world.Alive(e))
	assert.Zero(t, world.PendingDestruction())
}

func TestInstallWithoutPersistence(t *testing.T) {
	bus := event.NewBus()
	s := coresys.NewScheduler(ecs.NewWorld())
	rt, err := Install(s, bus, Options{StatsInterval: time.Second, StatsRate: 1}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, rt.Persistence)
	_, ok := s.Lookup(PersistenceName)
	assert.False(t, ok)
}
