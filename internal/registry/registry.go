// Package registry holds the process-wide set of active push subscriptions.
//
// Nothing here is persisted. A restart empties the registry and browsers
// subscribe again on their next visit.
package registry

import (
	"sync"

	"sensorpush/internal/push"
)

// Registry is keyed by endpoint; there is at most one record per endpoint.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	subs  map[string]push.Subscription
}

func New() *Registry {
	return &Registry{subs: map[string]push.Subscription{}}
}

// Add inserts sub unless its endpoint is already present.
// It reports whether sub was newly added.
func (r *Registry) Add(sub push.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.Endpoint]; ok {
		return false
	}
	r.subs[sub.Endpoint] = sub
	r.order = append(r.order, sub.Endpoint)
	return true
}

// Remove deletes the record for endpoint. Absent endpoints are a no-op.
// It reports whether anything was removed.
func (r *Registry) Remove(endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[endpoint]; !ok {
		return false
	}
	delete(r.subs, endpoint)
	for i, ep := range r.order {
		if ep == endpoint {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns a copy of the current records in subscription order.
// The caller owns the slice; later mutations do not affect it.
func (r *Registry) Snapshot() []push.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]push.Subscription, 0, len(r.order))
	for _, ep := range r.order {
		out = append(out, r.subs[ep])
	}
	return out
}

func (r *Registry) Contains(endpoint string) bool {
	r.mu.RLock()
	_, ok := r.subs[endpoint]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.subs)
	r.mu.RUnlock()
	return n
}
