package metadata

import (
	"sync"
	"time"
)

// Registry holds the ordered webhook endpoint list. Order is registration
// order and drives delivery order.
type Registry struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	byID      map[string]*Endpoint
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Endpoint)}
}

// Load replaces all endpoints in the registry.
func (r *Registry) Load(endpoints []*Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endpoints = make([]*Endpoint, 0, len(endpoints))
	r.byID = make(map[string]*Endpoint, len(endpoints))
	for _, e := range endpoints {
		if e == nil {
			continue
		}
		r.endpoints = append(r.endpoints, e)
		r.byID[e.ID] = e
	}
}

// GetEndpoint returns the endpoint with the given ID, or nil.
func (r *Registry) GetEndpoint(id string) *Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// AllEndpoints returns the live endpoint pointers in registration order.
func (r *Registry) AllEndpoints() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// Snapshot returns value copies, safe to serialize while deliveries run.
func (r *Registry) Snapshot() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		c := *e
		c.CompiledCondition = nil
		out = append(out, c)
	}
	return out
}

// GetEndpointsForEvent returns enabled endpoints subscribed to event, in
// registration order.
func (r *Registry) GetEndpointsForEvent(event string) []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Endpoint
	for _, e := range r.endpoints {
		if e.Receives(event) {
			out = append(out, e)
		}
	}
	return out
}

// AddEndpoint appends e, replacing any endpoint with the same ID in place.
func (r *Registry) AddEndpoint(e *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[e.ID]; ok {
		for i, existing := range r.endpoints {
			if existing.ID == e.ID {
				r.endpoints[i] = e
			}
		}
	} else {
		r.endpoints = append(r.endpoints, e)
	}
	r.byID[e.ID] = e
}

// RemoveEndpoint deletes the endpoint and reports whether it existed.
func (r *Registry) RemoveEndpoint(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, e := range r.endpoints {
		if e.ID == id {
			r.endpoints = append(r.endpoints[:i], r.endpoints[i+1:]...)
			break
		}
	}
	return true
}

// RecordAttempt updates e's counters under the registry lock.
func (r *Registry) RecordAttempt(e *Endpoint, success bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.RecordAttempt(success, at)
}

// ProviderRegistry holds AI providers keyed by ID, remembering insertion
// order so that "first usable provider" is deterministic.
type ProviderRegistry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]*Provider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]*Provider)}
}

// Load replaces all providers, keeping the given order.
func (r *ProviderRegistry) Load(providers []*Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = make([]string, 0, len(providers))
	r.providers = make(map[string]*Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := r.providers[p.ID]; !dup {
			r.order = append(r.order, p.ID)
		}
		r.providers[p.ID] = p
	}
}

// Get returns a copy of the provider, or nil.
func (r *ProviderRegistry) Get(id string) *Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil
	}
	return p.Clone()
}

// All returns copies of every provider in insertion order.
func (r *ProviderRegistry) All() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id].Clone())
	}
	return out
}

// Update applies fn to the stored provider under the write lock and
// returns a copy of the result. It returns nil when id is unknown.
func (r *ProviderRegistry) Update(id string, fn func(p *Provider)) *Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return nil
	}
	fn(p)
	return p.Clone()
}

// FirstUsable returns the ID of the first enabled and connected provider
// in insertion order, or "".
func (r *ProviderRegistry) FirstUsable() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if r.providers[id].Usable() {
			return id
		}
	}
	return ""
}
