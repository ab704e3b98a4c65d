package system

import (
	"time"

	"github.com/l1jgo/sched/internal/core/ecs"
)

// Desc is the registration record for a system. It is copied on Register;
// later changes go through the Scheduler's mutators.
type Desc struct {
	Name string
	// Phase defaults to phase.DefaultName when zero.
	Phase ecs.EntityID
	// Interval > 0 gates the system on a timer. Zero means no timer.
	Interval time.Duration
	// Rate > 0 gates the system on every Rate-th tick of TickSource.
	Rate int
	// TickSource is a system or standalone source handle. Zero selects the
	// master frame clock. A TickSource without a Rate implies rate 1.
	TickSource ecs.EntityID
	Self       ecs.EntityID
	Ctx        any
	Query      Query
	Callback   Callback
	Disabled   bool
}

func (d *Desc) validate() error {
	if d.Callback == nil {
		return ErrMissingCallback
	}
	if d.Interval < 0 {
		return ErrInvalidInterval
	}
	if d.Rate < 0 {
		return ErrInvalidRate
	}
	if d.Interval > 0 && (d.Rate > 0 || !d.TickSource.IsZero()) {
		return ErrConflictingGating
	}
	return nil
}

type rateMode int

const (
	rateNone rateMode = iota
	rateSimple
	rateSourced
)

// Builder assembles a Desc fluently. Interval and rate settings replace each
// other; mixing Rate and RateFrom on one builder is rejected by Build.
type Builder struct {
	desc Desc
	mode rateMode
	err  error
}

func NewBuilder(name string) *Builder {
	return &Builder{desc: Desc{Name: name}}
}

// Kind sets the phase the system runs in.
func (b *Builder) Kind(phase ecs.EntityID) *Builder {
	b.desc.Phase = phase
	return b
}

// Interval runs the system every d of frame time.
func (b *Builder) Interval(d time.Duration) *Builder {
	b.desc.Interval = d
	b.desc.Rate = 0
	b.desc.TickSource = 0
	b.mode = rateNone
	return b
}

// Rate runs the system on every n-th frame.
func (b *Builder) Rate(n int) *Builder {
	if b.mode == rateSourced {
		b.fail(ErrConflictingRate)
	}
	b.desc.Interval = 0
	b.desc.Rate = n
	b.mode = rateSimple
	return b
}

// RateFrom runs the system on every n-th tick of src.
func (b *Builder) RateFrom(src ecs.EntityID, n int) *Builder {
	if b.mode == rateSimple {
		b.fail(ErrConflictingRate)
	}
	b.desc.Interval = 0
	b.desc.Rate = n
	b.desc.TickSource = src
	b.mode = rateSourced
	return b
}

// Self binds the system to an entity. It has no scheduling effect.
func (b *Builder) Self(e ecs.EntityID) *Builder {
	b.desc.Self = e
	return b
}

// Ctx sets the opaque context passed to every invocation.
func (b *Builder) Ctx(ctx any) *Builder {
	b.desc.Ctx = ctx
	return b
}

func (b *Builder) Query(q Query) *Builder {
	b.desc.Query = q
	return b
}

func (b *Builder) Callback(fn Callback) *Builder {
	b.desc.Callback = fn
	return b
}

func (b *Builder) Updater(u Updater) *Builder {
	b.desc.Callback = u.Update
	return b
}

// Disabled registers the system in the disabled state.
func (b *Builder) Disabled() *Builder {
	b.desc.Disabled = true
	return b
}

// Build validates and returns the Desc.
func (b *Builder) Build() (Desc, error) {
	if b.err != nil {
		return Desc{}, configErr("build", b.desc.Name, b.err)
	}
	if b.desc.Rate == 0 && b.mode != rateNone {
		return Desc{}, configErr("build", b.desc.Name, ErrInvalidRate)
	}
	if err := b.desc.validate(); err != nil {
		return Desc{}, configErr("build", b.desc.Name, err)
	}
	return b.desc, nil
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
