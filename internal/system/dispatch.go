package system

import (
	"github.com/l1jgo/sched/internal/core/event"
	coresys "github.com/l1jgo/sched/internal/core/system"
)

// EventDispatchSystem delivers last frame's events. Runs in PreUpdate so
// gameplay systems see them before OnUpdate.
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Update(_ *coresys.Iter) error {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
	return nil
}
