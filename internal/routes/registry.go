// Package routes holds the routable endpoint table and its matcher.
// The registry exclusively owns the Route set; the pipeline only ever
// reads immutable snapshots out of it.
package routes

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axisgate/axis/internal/domain"
)

var (
	// ErrDuplicateRoute is returned when adding a route whose ID is taken.
	ErrDuplicateRoute = errors.New("route id already registered")
	// ErrInvalidRoute is returned for routes missing method, path or target.
	ErrInvalidRoute = errors.New("route requires method, path and target")
)

// Registry is the thread-safe route table. Lookup order is deterministic:
// exact path matches win over wildcard matches, and among wildcard routes
// the first registered match wins. Overlapping wildcard registrations are a
// configuration concern, not checked at runtime.
type Registry struct {
	mu     sync.RWMutex
	routes []*domain.Route
	byID   map[string]*domain.Route
}

// NewRegistry creates an empty route registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*domain.Route)}
}

// Add registers a route. A missing ID is filled with a fresh uuid. The
// registry stores its own clone so later caller mutations are invisible.
func (r *Registry) Add(route *domain.Route) error {
	if route == nil || route.Method == "" || route.Path == "" || route.Target == "" {
		return ErrInvalidRoute
	}

	cp := route.Clone()
	cp.Method = strings.ToUpper(cp.Method)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[cp.ID]; exists {
		return ErrDuplicateRoute
	}
	r.routes = append(r.routes, cp)
	r.byID[cp.ID] = cp

	// Callers read the generated ID back.
	route.ID = cp.ID
	return nil
}

// Remove deletes a route by ID. Calling it twice for the same ID returns
// true then false.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, rt := range r.routes {
		if rt.ID == id {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			break
		}
	}
	return true
}

// Update applies fn to a clone of the route and swaps the clone in, so
// requests holding the previous snapshot are unaffected. Returns false if
// the ID is unknown.
func (r *Registry) Update(id string, fn func(*domain.Route)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[id]
	if !ok {
		return false
	}

	cp := cur.Clone()
	fn(cp)
	cp.ID = id // ID is immutable
	cp.Method = strings.ToUpper(cp.Method)
	cp.UpdatedAt = time.Now()

	r.byID[id] = cp
	for i, rt := range r.routes {
		if rt.ID == id {
			r.routes[i] = cp
			break
		}
	}
	return true
}

// Get returns a clone of the route with the given ID, or nil. Mutating
// the result does not touch the registry; changes go through Update.
func (r *Registry) Get(id string) *domain.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.byID[id]
	if !ok {
		return nil
	}
	return rt.Clone()
}

// List returns clones of all registered routes in registration order.
func (r *Registry) List() []*domain.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Route, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.Clone()
	}
	return out
}

// Find resolves an incoming method+path to a route snapshot. Disabled
// routes never match. Returns nil when nothing matches. The result is a
// shared snapshot that Update never mutates in place; callers must treat
// it as read-only.
func (r *Registry) Find(method, path string) *domain.Route {
	method = strings.ToUpper(method)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var wildcard *domain.Route
	for _, rt := range r.routes {
		if !rt.Enabled || rt.Method != method {
			continue
		}
		if rt.Path == path {
			return rt
		}
		if wildcard == nil && rt.Wildcard() && strings.HasPrefix(path, rt.Prefix()) {
			wildcard = rt
		}
	}
	return wildcard
}

// FindPath returns clones of every enabled route registered for the
// given path, regardless of method. Used by the HTTP front for CORS
// preflight.
func (r *Registry) FindPath(path string) []*domain.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Route
	for _, rt := range r.routes {
		if !rt.Enabled {
			continue
		}
		if rt.Path == path || (rt.Wildcard() && strings.HasPrefix(path, rt.Prefix())) {
			out = append(out, rt.Clone())
		}
	}
	return out
}
