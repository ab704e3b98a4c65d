package data

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/l1jgo/sched/internal/core/phase"
)

// Manifest describes a schedule: custom phases, standalone tick sources and
// systems, loaded from systems.yaml.
type Manifest struct {
	Phases   []PhaseEntry  `yaml:"phases"`
	Timers   []TimerEntry  `yaml:"timers"`
	Rates    []RateEntry   `yaml:"rates"`
	Systems  []SystemEntry `yaml:"systems"`
	Entities []string      `yaml:"entities"` // named entities systems may use as self
}

// PhaseEntry inserts a custom phase immediately before or after an existing one.
type PhaseEntry struct {
	Name   string `yaml:"name"`
	Before string `yaml:"before"`
	After  string `yaml:"after"`
}

// TimerEntry is a standalone interval timer, or a one-shot when Timeout is set.
type TimerEntry struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Stopped  bool          `yaml:"stopped"`
}

// RateEntry divides another standalone source (or the frame clock when
// Source is empty).
type RateEntry struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Rate   int    `yaml:"rate"`
}

// SystemEntry maps onto system.Desc. Script names the callback.
type SystemEntry struct {
	Name       string         `yaml:"name"`
	Phase      string         `yaml:"phase"`
	Interval   time.Duration  `yaml:"interval"`
	Rate       int            `yaml:"rate"`
	TickSource string         `yaml:"tick_source"`
	Self       string         `yaml:"self"`
	Ctx        map[string]any `yaml:"ctx"`
	Script     string         `yaml:"script"`
	Disabled   bool           `yaml:"disabled"`
}

// Callback returns the script function name, defaulting to the system name.
func (e *SystemEntry) Callback() string {
	if e.Script != "" {
		return e.Script
	}
	return e.Name
}

var ErrInvalidManifest = errors.New("invalid manifest")

// LoadManifest loads and validates a systems.yaml file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes YAML and checks the manifest's shape. Cross-references
// (phase anchors, tick sources) are resolved by Install.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every entry in isolation plus name uniqueness across
// timers, rates, systems and entities (they share one namespace).
func (m *Manifest) Validate() error {
	seen := make(map[string]string)
	claim := func(kind, name string) error {
		if name == "" {
			return fmt.Errorf("%w: %s without name", ErrInvalidManifest, kind)
		}
		key := phase.Normalize(name)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s %q clashes with %s of the same name", ErrInvalidManifest, kind, name, prev)
		}
		seen[key] = kind
		return nil
	}

	phases := make(map[string]bool)
	for _, p := range m.Phases {
		if p.Name == "" {
			return fmt.Errorf("%w: phase without name", ErrInvalidManifest)
		}
		if (p.Before == "") == (p.After == "") {
			return fmt.Errorf("%w: phase %q needs exactly one of before/after", ErrInvalidManifest, p.Name)
		}
		key := phase.Normalize(p.Name)
		if phases[key] {
			return fmt.Errorf("%w: phase %q declared twice", ErrInvalidManifest, p.Name)
		}
		phases[key] = true
	}
	for _, t := range m.Timers {
		if err := claim("timer", t.Name); err != nil {
			return err
		}
		if (t.Interval > 0) == (t.Timeout > 0) {
			return fmt.Errorf("%w: timer %q needs exactly one positive interval or timeout", ErrInvalidManifest, t.Name)
		}
	}
	for _, r := range m.Rates {
		if err := claim("rate", r.Name); err != nil {
			return err
		}
		if r.Rate < 1 {
			return fmt.Errorf("%w: rate %q must be at least 1", ErrInvalidManifest, r.Name)
		}
	}
	for _, e := range m.Entities {
		if err := claim("entity", e); err != nil {
			return err
		}
	}
	for _, s := range m.Systems {
		if err := claim("system", s.Name); err != nil {
			return err
		}
		if s.Interval > 0 && (s.Rate > 0 || s.TickSource != "") {
			return fmt.Errorf("%w: system %q sets both interval and rate", ErrInvalidManifest, s.Name)
		}
	}
	return nil
}
