package system

import (
	"time"

	"github.com/l1jgo/sched/internal/core/event"
	coresys "github.com/l1jgo/sched/internal/core/system"
)

// FrameEmitter turns scheduler results into bus events. It only appends to
// the back buffer, so it is safe to call while a frame is in flight.
type FrameEmitter struct {
	bus   *event.Bus
	world time.Duration // mirrors the frame clock, deltas are already scaled
}

var _ coresys.Observer = (*FrameEmitter)(nil)

func NewFrameEmitter(bus *event.Bus) *FrameEmitter {
	return &FrameEmitter{bus: bus}
}

func (e *FrameEmitter) SystemRan(string, time.Duration, error) {}

func (e *FrameEmitter) FrameDone(res coresys.FrameResult, took time.Duration) {
	e.world += res.DeltaTime
	for _, se := range res.Errors {
		event.Emit(e.bus, event.SystemFailed{
			Frame:   res.Frame,
			System:  se.System,
			Name:    se.Name,
			Message: se.Err.Error(),
		})
	}
	event.Emit(e.bus, event.FrameCompleted{
		Frame:      res.Frame,
		WorldTime:  e.world,
		DeltaTime:  res.DeltaTime,
		SystemsRun: res.SystemsRun,
		Failures:   len(res.Errors),
		Took:       took,
	})
}
