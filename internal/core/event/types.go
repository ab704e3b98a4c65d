package event

import (
	"time"

	"github.com/l1jgo/sched/internal/core/ecs"
)

// FrameCompleted is emitted by the driver after every Progress call.
type FrameCompleted struct {
	Frame      uint64
	WorldTime  time.Duration
	DeltaTime  time.Duration
	SystemsRun int
	Failures   int
	Took       time.Duration
}

// SystemFailed is emitted once per failed callback.
type SystemFailed struct {
	Frame   uint64
	System  ecs.EntityID
	Name    string
	Message string
}

// SystemToggled is emitted when a control command enables or disables a system.
type SystemToggled struct {
	Name    string
	Enabled bool
	By      uint64 // control session
}
