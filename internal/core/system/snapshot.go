package system

import (
	"time"

	"github.com/l1jgo/sched/internal/core/phase"
)

// SystemState is the persisted part of a named system.
type SystemState struct {
	Name    string
	Enabled bool
	Elapsed time.Duration
	Runs    uint64
}

// Snapshot captures the state of every named system in execution order.
// Anonymous systems have no stable identity across restarts and are skipped.
func (s *Scheduler) Snapshot() []SystemState {
	out := make([]SystemState, 0, len(s.systems))
	for _, sys := range s.Systems() {
		if sys.name == "" {
			continue
		}
		out = append(out, SystemState{
			Name:    sys.name,
			Enabled: sys.enabled,
			Elapsed: sys.Elapsed(),
			Runs:    sys.runs,
		})
	}
	return out
}

// Restore applies saved states by name and returns how many matched.
// Unknown names are ignored; timer accumulators only apply to systems that
// are still interval gated.
func (s *Scheduler) Restore(states []SystemState) int {
	s.mustBeIdle("restore")
	n := 0
	for _, st := range states {
		sys, ok := s.Lookup(phase.Normalize(st.Name))
		if !ok {
			continue
		}
		sys.enabled = st.Enabled
		sys.runs = st.Runs
		if sys.gating == Interval && st.Elapsed >= 0 {
			sys.timer.Restore(st.Elapsed, true)
		}
		n++
	}
	return n
}
