// Package agents tracks which agent ids are live in this process.
package agents

import (
	"sort"
	"strings"
	"sync"
)

type Registry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewRegistry(seed ...string) *Registry {
	r := &Registry{ids: make(map[string]struct{}, len(seed))}
	for _, id := range seed {
		r.Register(id)
	}
	return r
}

func (r *Registry) Register(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	r.mu.Lock()
	r.ids[id] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.ids, id)
	r.mu.Unlock()
}

// Active reports whether id is a registered agent.
func (r *Registry) Active(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// IDs returns the registered ids sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Filter keeps the participants that are live agents.
func (r *Registry) Filter(participants []string) []string {
	out := []string{}
	for _, p := range participants {
		if r.Active(p) {
			out = append(out, p)
		}
	}
	return out
}
