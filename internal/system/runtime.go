package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/core/event"
	"github.com/l1jgo/sched/internal/core/phase"
	coresys "github.com/l1jgo/sched/internal/core/system"
)

// Names the runtime registers under. They share the scheduler's namespace
// with manifest systems.
const (
	DispatchName    = "event_dispatch"
	StatsClockName  = "stats_clock"
	StatsName       = "stats"
	PersistenceName = "persistence"
	CleanupName     = "cleanup"
	CleanupPhase    = "cleanup"
)

type Options struct {
	StatsInterval time.Duration
	StatsRate     int

	// Frames and States enable PersistenceSystem when both are set.
	Frames        FrameWriter
	States        StateSaver
	FlushInterval time.Duration
	MaxPending    int
}

// Runtime holds the built-in systems.
type Runtime struct {
	Bus         *event.Bus
	Dispatch    *EventDispatchSystem
	Stats       *StatsSystem
	Persistence *PersistenceSystem // nil when persistence is off
	Cleanup     *CleanupSystem
}

// Install registers the built-in systems. Call it before installing the
// manifest so event dispatch is the first PreUpdate system. Cleanup gets its
// own phase after OnStore and therefore always runs last.
func Install(s *coresys.Scheduler, bus *event.Bus, opts Options, log *zap.Logger) (*Runtime, error) {
	rt := &Runtime{Bus: bus}
	preUpdate, _ := s.Phase(phase.PreUpdate)
	postUpdate, _ := s.Phase(phase.PostUpdate)
	onStore, _ := s.Phase(phase.OnStore)

	rt.Dispatch = NewEventDispatchSystem(bus)
	if err := register(s, coresys.NewBuilder(DispatchName).Kind(preUpdate).Updater(rt.Dispatch)); err != nil {
		return nil, err
	}

	clock, err := s.AddTimerSource(StatsClockName, opts.StatsInterval)
	if err != nil {
		return nil, err
	}
	rt.Stats = NewStatsSystem(bus, log)
	if err := register(s, coresys.NewBuilder(StatsName).Kind(postUpdate).RateFrom(clock, opts.StatsRate).Updater(rt.Stats)); err != nil {
		return nil, err
	}

	if opts.Frames != nil && opts.States != nil {
		rt.Persistence = NewPersistenceSystem(bus, opts.Frames, opts.States, s.Snapshot, opts.MaxPending, log)
		if err := register(s, coresys.NewBuilder(PersistenceName).Kind(onStore).Interval(opts.FlushInterval).Updater(rt.Persistence)); err != nil {
			return nil, err
		}
	}

	cleanupPhase, err := s.InsertPhaseAfter(onStore, CleanupPhase)
	if err != nil {
		return nil, err
	}
	rt.Cleanup = NewCleanupSystem(s.World(), log)
	if err := register(s, coresys.NewBuilder(CleanupName).Kind(cleanupPhase).Updater(rt.Cleanup)); err != nil {
		return nil, err
	}
	return rt, nil
}

func register(s *coresys.Scheduler, b *coresys.Builder) error {
	d, err := b.Build()
	if err != nil {
		return err
	}
	_, err = s.Register(d)
	return err
}
