package ecs

import "slices"

// MatchSet is the frame-local set of entities a system's query selected.
// It is a snapshot: mutating stores after it was built does not change it.
type MatchSet struct {
	ids []EntityID
}

// NewMatchSet copies ids into a new match set.
func NewMatchSet(ids ...EntityID) MatchSet {
	return MatchSet{ids: slices.Clone(ids)}
}

func (m MatchSet) Len() int { return len(m.ids) }

// Each visits the matched entities in ascending ID order until fn returns false.
func (m MatchSet) Each(fn func(EntityID) bool) {
	for _, id := range m.ids {
		if !fn(id) {
			return
		}
	}
}

// IDs returns a copy of the matched entity IDs.
func (m MatchSet) IDs() []EntityID { return slices.Clone(m.ids) }

// Query1 matches every entity that has component A.
type Query1[A any] struct {
	a *PtrComponentStore[A]
}

func NewQuery1[A any](a *PtrComponentStore[A]) *Query1[A] { return &Query1[A]{a: a} }

// Match ignores the requesting system; all systems sharing the query see the same set.
func (q *Query1[A]) Match(EntityID) MatchSet { return MatchSet{ids: q.a.IDs()} }

// Query2 matches entities that have both component A and B.
type Query2[A, B any] struct {
	a *PtrComponentStore[A]
	b *PtrComponentStore[B]
}

func NewQuery2[A, B any](a *PtrComponentStore[A], b *PtrComponentStore[B]) *Query2[A, B] {
	return &Query2[A, B]{a: a, b: b}
}

func (q *Query2[A, B]) Match(EntityID) MatchSet {
	var ids []EntityID
	// Iterate the smaller store and probe the larger one.
	if q.a.Len() <= q.b.Len() {
		for id := range q.a.data {
			if q.b.Has(id) {
				ids = append(ids, id)
			}
		}
	} else {
		for id := range q.b.data {
			if q.a.Has(id) {
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return MatchSet{ids: ids}
}

// Query3 matches entities that have components A, B and C.
type Query3[A, B, C any] struct {
	a *PtrComponentStore[A]
	b *PtrComponentStore[B]
	c *PtrComponentStore[C]
}

func NewQuery3[A, B, C any](a *PtrComponentStore[A], b *PtrComponentStore[B], c *PtrComponentStore[C]) *Query3[A, B, C] {
	return &Query3[A, B, C]{a: a, b: b, c: c}
}

func (q *Query3[A, B, C]) Match(EntityID) MatchSet {
	has := []func(EntityID) bool{q.a.Has, q.b.Has, q.c.Has}
	lens := []int{q.a.Len(), q.b.Len(), q.c.Len()}
	which := 0
	for i := 1; i < len(lens); i++ {
		if lens[i] < lens[which] {
			which = i
		}
	}

	var candidates []EntityID
	switch which {
	case 0:
		candidates = q.a.IDs()
	case 1:
		candidates = q.b.IDs()
	case 2:
		candidates = q.c.IDs()
	}

	ids := candidates[:0]
	for _, id := range candidates {
		ok := true
		for i, h := range has {
			if i != which && !h(id) {
				ok = false
				break
			}
		}
		if ok {
			ids = append(ids, id)
		}
	}
	return MatchSet{ids: ids}
}
