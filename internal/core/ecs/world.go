package ecs

// World is the handle layer the scheduler allocates from. It owns the entity
// pool, the component stores, an optional name for every entity, and a
// deferred destruction queue flushed by CleanupSystem each frame.
type World struct {
	pool         *EntityPool
	stores       []Removable
	names        map[EntityID]string
	byName       map[string]EntityID
	destroyQueue []EntityID
}

func NewWorld() *World {
	return &World{
		pool:         NewEntityPool(),
		stores:       make([]Removable, 0, 16),
		names:        make(map[EntityID]string, 64),
		byName:       make(map[string]EntityID, 64),
		destroyQueue: make([]EntityID, 0, 64),
	}
}

func (w *World) Pool() *EntityPool { return w.pool }

// RegisterStore adds a component store so its data is dropped on destroy.
func (w *World) RegisterStore(store Removable) {
	w.stores = append(w.stores, store)
}

func (w *World) CreateEntity() EntityID {
	return w.pool.Create()
}

// CreateNamed creates an entity and binds name to it. An empty name is allowed
// and leaves the entity anonymous. It returns false if the name is taken.
func (w *World) CreateNamed(name string) (EntityID, bool) {
	if name != "" {
		if _, taken := w.byName[name]; taken {
			return 0, false
		}
	}
	id := w.pool.Create()
	if name != "" {
		w.names[id] = name
		w.byName[name] = id
	}
	return id, true
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// Name returns the entity name, or "" for anonymous or dead entities.
func (w *World) Name(id EntityID) string {
	return w.names[id]
}

// Lookup finds a live entity by name.
func (w *World) Lookup(name string) (EntityID, bool) {
	id, ok := w.byName[name]
	return id, ok
}

// Destroy releases the entity immediately, dropping its name and components.
func (w *World) Destroy(id EntityID) {
	if !w.pool.Alive(id) {
		return
	}
	for _, s := range w.stores {
		s.Remove(id)
	}
	if name, ok := w.names[id]; ok {
		delete(w.byName, name)
		delete(w.names, id)
	}
	w.pool.Destroy(id)
}

// MarkForDestruction queues an entity for end-of-frame cleanup.
func (w *World) MarkForDestruction(id EntityID) {
	w.destroyQueue = append(w.destroyQueue, id)
}

// PendingDestruction reports how many entities are queued.
func (w *World) PendingDestruction() int { return len(w.destroyQueue) }

// FlushDestroyQueue destroys all queued entities and clears their components.
// Returns how many live entities were destroyed.
func (w *World) FlushDestroyQueue() int {
	n := 0
	for _, id := range w.destroyQueue {
		if w.pool.Alive(id) {
			w.Destroy(id)
			n++
		}
	}
	w.destroyQueue = w.destroyQueue[:0]
	return n
}
