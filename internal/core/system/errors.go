package system

import (
	"errors"
	"fmt"

	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/phase"
	"github.com/l1jgo/sched/internal/core/tick"
)

// Configuration failures. They are always returned wrapped in a
// *ConfigurationError; match them with errors.Is.
var (
	ErrInvalidRate        = tick.ErrInvalidRate
	ErrInvalidInterval    = errors.New("interval must not be negative")
	ErrInvalidTimeScale   = errors.New("time scale must not be negative")
	ErrConflictingGating  = errors.New("interval and rate are mutually exclusive")
	ErrConflictingRate    = errors.New("rate already configured with a different tick source mode")
	ErrMissingCallback    = errors.New("system has no callback")
	ErrDuplicateName      = errors.New("name already in use")
	ErrSystemNotFound     = errors.New("system not found")
	ErrPhaseNotFound      = phase.ErrPhaseNotFound
	ErrTickSourceNotFound = errors.New("tick source not found")
	ErrTickSourceCycle    = errors.New("tick source chain is cyclic")
	ErrForwardTickSource  = errors.New("tick source runs later in the frame than its dependent")
	ErrTickSourceInUse    = errors.New("tick source still gates other systems")
)

// ConfigurationError is returned when a registration or reconfiguration is
// rejected. The scheduler is left unchanged.
type ConfigurationError struct {
	Op     string
	System string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.System == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.System, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(op, system string, err error) error {
	return &ConfigurationError{Op: op, System: system, Err: err}
}

// ConsistencyError is the panic value raised when the schedule is mutated
// while a frame is in flight.
type ConsistencyError struct {
	Op string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s called while a frame is in progress", e.Op)
}

// SystemError records one failed callback invocation.
type SystemError struct {
	System ecs.EntityID
	Name   string
	Err    error
}

func (e SystemError) Error() string {
	return fmt.Sprintf("system %s: %v", e.label(), e.Err)
}

func (e SystemError) Unwrap() error { return e.Err }

func (e SystemError) label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.System.String()
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("callback panic: %v", e.Value) }
