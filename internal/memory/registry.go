package memory

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a persisted set of nicknames compared case-insensitively.
// The same type backs the ignore list and the opt-out list.
type Registry struct {
	mu      sync.RWMutex
	p       Persister
	name    string
	members map[string]string
}

func NewRegistry(p Persister, name string) (*Registry, error) {
	r := &Registry{p: p, name: name}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Name() string {
	return r.name
}

// Reload replaces the in-memory set with the persisted one.
func (r *Registry) Reload() error {
	var list []string
	if _, err := r.p.Load(r.name, &list); err != nil {
		return fmt.Errorf("load %s registry: %w", r.name, err)
	}
	members := make(map[string]string, len(list))
	for _, u := range list {
		if key := userKey(u); key != "" {
			members[key] = u
		}
	}
	r.mu.Lock()
	r.members = members
	r.mu.Unlock()
	return nil
}

// Add reports whether user was newly added.
func (r *Registry) Add(user string) (bool, error) {
	key := userKey(user)
	if key == "" {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[key]; ok {
		return false, nil
	}
	r.members[key] = user
	if err := r.save(); err != nil {
		delete(r.members, key)
		return false, err
	}
	return true, nil
}

// Remove reports whether user was present.
func (r *Registry) Remove(user string) (bool, error) {
	key := userKey(user)
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.members[key]
	if !ok {
		return false, nil
	}
	delete(r.members, key)
	if err := r.save(); err != nil {
		r.members[key] = prev
		return false, err
	}
	return true, nil
}

func (r *Registry) Contains(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[userKey(user)]
	return ok
}

// Members lists the registry as originally spelled, sorted.
func (r *Registry) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Registry) sorted() []string {
	out := make([]string, 0, len(r.members))
	for _, u := range r.members {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) save() error {
	if err := r.p.Save(r.name, r.sorted()); err != nil {
		return fmt.Errorf("save %s registry: %w", r.name, err)
	}
	return nil
}
