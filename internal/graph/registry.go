package graph

import (
	"sort"
	"sync"
)

// Registry owns the stores of one session, keyed by canvas id.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
}

func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*Store)}
}

// Get returns the store for canvasID, creating an empty one on first use.
func (r *Registry) Get(canvasID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[canvasID]; ok {
		return s
	}
	s := New(canvasID)
	r.stores[canvasID] = s
	return s
}

func (r *Registry) Lookup(canvasID string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[canvasID]
	return s, ok
}

func (r *Registry) Remove(canvasID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, canvasID)
}

// IDs returns the open canvas ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
