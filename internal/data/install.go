package data

import (
	"errors"
	"fmt"

	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/phase"
	"github.com/l1jgo/sched/internal/core/system"
)

// Resolver turns a manifest script name into a callback. *scripting.Engine
// satisfies it.
type Resolver interface {
	Callback(name string) (system.Callback, error)
}

// Funcs resolves callbacks from a fixed Go map.
type Funcs map[string]system.Callback

var ErrUnknownCallback = errors.New("unknown callback")

func (f Funcs) Callback(name string) (system.Callback, error) {
	cb, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownCallback)
	}
	return cb, nil
}

// Chain tries each resolver in order and returns the first callback found.
type Chain []Resolver

func (c Chain) Callback(name string) (system.Callback, error) {
	var errs []error
	for _, r := range c {
		cb, err := r.Callback(name)
		if err == nil {
			return cb, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownCallback)
	}
	return nil, errors.Join(errs...)
}

var ErrUnknownReference = errors.New("unknown reference")

// Installed lists the handles created by Install, keyed by manifest name.
type Installed struct {
	Phases   map[string]ecs.EntityID
	Sources  map[string]ecs.EntityID
	Systems  map[string]ecs.EntityID
	Entities map[string]ecs.EntityID
}

// Install applies the manifest to s in declaration order: phases, named
// entities, timers, rate sources, then systems. It stops at the first error;
// anything installed before it stays registered.
func Install(s *system.Scheduler, m *Manifest, r Resolver) (*Installed, error) {
	out := &Installed{
		Phases:   make(map[string]ecs.EntityID),
		Sources:  make(map[string]ecs.EntityID),
		Systems:  make(map[string]ecs.EntityID),
		Entities: make(map[string]ecs.EntityID),
	}

	for _, p := range m.Phases {
		id, err := installPhase(s, p)
		if err != nil {
			return out, fmt.Errorf("phase %q: %w", p.Name, err)
		}
		out.Phases[p.Name] = id
	}

	world := s.World()
	for _, name := range m.Entities {
		id, ok := world.CreateNamed(phase.Normalize(name))
		if !ok {
			return out, fmt.Errorf("entity %q: %w", name, system.ErrDuplicateName)
		}
		out.Entities[name] = id
	}

	for _, t := range m.Timers {
		var (
			id  ecs.EntityID
			err error
		)
		if t.Timeout > 0 {
			id, err = s.AddTimeout(t.Name, t.Timeout)
		} else {
			id, err = s.AddTimerSource(t.Name, t.Interval)
		}
		if err == nil && t.Stopped {
			err = s.StopTimer(id)
		}
		if err != nil {
			return out, fmt.Errorf("timer %q: %w", t.Name, err)
		}
		out.Sources[t.Name] = id
	}

	for _, rs := range m.Rates {
		var src ecs.EntityID
		if rs.Source != "" {
			var ok bool
			if src, ok = s.Source(rs.Source); !ok {
				return out, fmt.Errorf("rate %q: source %q: %w", rs.Name, rs.Source, ErrUnknownReference)
			}
		}
		id, err := s.AddRateSource(rs.Name, src, rs.Rate)
		if err != nil {
			return out, fmt.Errorf("rate %q: %w", rs.Name, err)
		}
		out.Sources[rs.Name] = id
	}

	for _, e := range m.Systems {
		d, err := describe(s, e, r)
		if err != nil {
			return out, fmt.Errorf("system %q: %w", e.Name, err)
		}
		id, err := s.Register(d)
		if err != nil {
			return out, fmt.Errorf("system %q: %w", e.Name, err)
		}
		out.Systems[e.Name] = id
	}
	return out, nil
}

func installPhase(s *system.Scheduler, p PhaseEntry) (ecs.EntityID, error) {
	anchorName, before := p.After, false
	if p.Before != "" {
		anchorName, before = p.Before, true
	}
	anchor, ok := s.Phase(anchorName)
	if !ok {
		return 0, fmt.Errorf("anchor %q: %w", anchorName, phase.ErrPhaseNotFound)
	}
	if before {
		return s.InsertPhaseBefore(anchor, p.Name)
	}
	return s.InsertPhaseAfter(anchor, p.Name)
}

// describe builds a Desc through the Builder so manifest systems go through
// the same validation as code-registered ones.
func describe(s *system.Scheduler, e SystemEntry, r Resolver) (system.Desc, error) {
	b := system.NewBuilder(e.Name)
	if e.Phase != "" {
		ph, ok := s.Phase(e.Phase)
		if !ok {
			return system.Desc{}, fmt.Errorf("phase %q: %w", e.Phase, phase.ErrPhaseNotFound)
		}
		b.Kind(ph)
	}
	switch {
	case e.Interval != 0:
		b.Interval(e.Interval)
	case e.TickSource != "":
		src, ok := s.Source(e.TickSource)
		if !ok {
			return system.Desc{}, fmt.Errorf("tick source %q: %w", e.TickSource, ErrUnknownReference)
		}
		rate := e.Rate
		if rate == 0 {
			rate = 1
		}
		b.RateFrom(src, rate)
	case e.Rate != 0:
		b.Rate(e.Rate)
	}
	if e.Self != "" {
		self, ok := s.World().Lookup(phase.Normalize(e.Self))
		if !ok {
			return system.Desc{}, fmt.Errorf("self %q: %w", e.Self, ErrUnknownReference)
		}
		b.Self(self)
	}
	if e.Ctx != nil {
		b.Ctx(e.Ctx)
	}
	if e.Disabled {
		b.Disabled()
	}
	cb, err := r.Callback(e.Callback())
	if err != nil {
		return system.Desc{}, err
	}
	b.Callback(cb)
	return b.Build()
}
