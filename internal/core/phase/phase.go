// Package phase keeps the ordered set of phases a frame walks through.
// Phases are entity handles; the order is a built-in sequence that can be
// extended by inserting custom phases before or after an existing one.
package phase

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/l1jgo/sched/internal/core/ecs"
)

// Built-in phase names, in execution order.
const (
	OnLoad     = "on_load"     // drain inputs
	PostLoad   = "post_load"   // process inputs
	PreUpdate  = "pre_update"  // dispatch last frame's events
	OnUpdate   = "on_update"   // game logic
	OnValidate = "on_validate" // constraint checks
	PostUpdate = "post_update" // regen, spawn, derived state
	PreStore   = "pre_store"   // build outputs
	OnStore    = "on_store"    // persist, flush, cleanup
)

// DefaultName is the phase a system lands in when none is given.
const DefaultName = OnUpdate

var builtins = []string{OnLoad, PostLoad, PreUpdate, OnUpdate, OnValidate, PostUpdate, PreStore, OnStore}

var (
	ErrPhaseNotFound  = errors.New("phase not found")
	ErrDuplicatePhase = errors.New("phase already exists")
	ErrEmptyName      = errors.New("phase name is empty")
)

var folder = cases.Fold()

// Normalize canonicalizes a phase or system name: NFC, case folded, with
// dashes and spaces turned into underscores.
func Normalize(name string) string {
	s := norm.NFC.String(strings.TrimSpace(name))
	s = folder.String(s)
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// Graph is a total order over phase handles.
type Graph struct {
	pool   *ecs.EntityPool
	order  []ecs.EntityID
	index  map[ecs.EntityID]int
	names  map[ecs.EntityID]string
	byName map[string]ecs.EntityID
	def    ecs.EntityID
}

// NewGraph allocates the built-in phases from pool.
func NewGraph(pool *ecs.EntityPool) *Graph {
	g := &Graph{
		pool:   pool,
		order:  make([]ecs.EntityID, 0, len(builtins)+4),
		index:  make(map[ecs.EntityID]int, len(builtins)+4),
		names:  make(map[ecs.EntityID]string, len(builtins)+4),
		byName: make(map[string]ecs.EntityID, len(builtins)+4),
	}
	for _, name := range builtins {
		id := pool.Create()
		g.names[id] = name
		g.byName[name] = id
		g.order = append(g.order, id)
	}
	g.reindex()
	g.def = g.byName[DefaultName]
	return g
}

// Default returns the handle of DefaultName.
func (g *Graph) Default() ecs.EntityID { return g.def }

func (g *Graph) Lookup(name string) (ecs.EntityID, bool) {
	id, ok := g.byName[Normalize(name)]
	return id, ok
}

func (g *Graph) Name(id ecs.EntityID) string { return g.names[id] }

func (g *Graph) Has(id ecs.EntityID) bool {
	_, ok := g.index[id]
	return ok
}

// Index returns the execution position of a phase.
func (g *Graph) Index(id ecs.EntityID) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Order returns the phases in execution order.
func (g *Graph) Order() []ecs.EntityID { return slices.Clone(g.order) }

func (g *Graph) Len() int { return len(g.order) }

// InsertBefore adds a new phase that runs immediately before anchor.
func (g *Graph) InsertBefore(anchor ecs.EntityID, name string) (ecs.EntityID, error) {
	return g.insert(anchor, name, 0)
}

// InsertAfter adds a new phase that runs immediately after anchor.
func (g *Graph) InsertAfter(anchor ecs.EntityID, name string) (ecs.EntityID, error) {
	return g.insert(anchor, name, 1)
}

func (g *Graph) insert(anchor ecs.EntityID, name string, offset int) (ecs.EntityID, error) {
	name = Normalize(name)
	if name == "" {
		return 0, ErrEmptyName
	}
	if _, ok := g.byName[name]; ok {
		return 0, fmt.Errorf("%q: %w", name, ErrDuplicatePhase)
	}
	at, ok := g.index[anchor]
	if !ok {
		return 0, fmt.Errorf("anchor %s: %w", anchor, ErrPhaseNotFound)
	}

	id := g.pool.Create()
	g.names[id] = name
	g.byName[name] = id
	g.order = slices.Insert(g.order, at+offset, id)
	g.reindex()
	return id, nil
}

func (g *Graph) reindex() {
	for i, id := range g.order {
		g.index[id] = i
	}
}
