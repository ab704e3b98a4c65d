package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/core/event"
	coresys "github.com/l1jgo/sched/internal/core/system"
)

// Stats is the rolling window StatsSystem reports on.
type Stats struct {
	Frames     int
	SystemsRun int
	Failures   int
	Busy       time.Duration
	Slowest    time.Duration
	LastFrame  uint64
}

// StatsSystem aggregates FrameCompleted events and logs a summary each time
// it runs. Gated by rate against a timer source, so it reports every
// N timer periods.
type StatsSystem struct {
	window Stats
	last   Stats
	log    *zap.Logger
}

func NewStatsSystem(bus *event.Bus, log *zap.Logger) *StatsSystem {
	s := &StatsSystem{log: log}
	event.Subscribe(bus, s.onFrame)
	return s
}

func (s *StatsSystem) onFrame(ev event.FrameCompleted) {
	w := &s.window
	w.Frames++
	w.SystemsRun += ev.SystemsRun
	w.Failures += ev.Failures
	w.Busy += ev.Took
	if ev.Took > w.Slowest {
		w.Slowest = ev.Took
	}
	w.LastFrame = ev.Frame
}

func (s *StatsSystem) Update(it *coresys.Iter) error {
	w := s.window
	s.last, s.window = w, Stats{}
	if w.Frames == 0 {
		return nil
	}
	s.log.Info("scheduler stats",
		zap.Uint64("frame", w.LastFrame),
		zap.Int("frames", w.Frames),
		zap.Int("systems_run", w.SystemsRun),
		zap.Int("failures", w.Failures),
		zap.Duration("avg_frame", w.Busy/time.Duration(w.Frames)),
		zap.Duration("slowest_frame", w.Slowest),
		zap.Duration("window", it.DeltaSystemTime),
	)
	return nil
}

// Last returns the window reported by the most recent Update.
func (s *StatsSystem) Last() Stats { return s.last }
