// Package registry tracks CI identity, network address and liveness.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cifabric/cifabric/internal/fault"
)

// Kind classifies a CI endpoint.
type Kind string

const (
	KindWorker   Kind = "worker"
	KindTerminal Kind = "terminal"
	KindProject  Kind = "project"
)

// Status is the liveness state of a CI endpoint.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusActive      Status = "active"
	StatusUnreachable Status = "unreachable"
)

// CIEndpoint describes a reachable CI.
type CIEndpoint struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"` // host:port or unix socket path
	Kind     Kind      `json:"kind"`
	Purposes []string  `json:"purposes,omitempty"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// HasPurpose reports whether the endpoint carries the given purpose tag.
func (e *CIEndpoint) HasPurpose(tag string) bool {
	for _, p := range e.Purposes {
		if p == tag {
			return true
		}
	}
	return false
}

// ProbeFunc checks liveness of an address. It must honour the context
// deadline and never panic; a false return degrades status only.
type ProbeFunc func(ctx context.Context, address string) bool

// Registry maps CI names to endpoints. Endpoints are never deleted, only
// marked unreachable, so callers can still address historical recipients.
type Registry struct {
	mu        sync.RWMutex
	source    Source
	endpoints map[string]*CIEndpoint
	order     []string // insertion order, for deterministic listings
	probe     ProbeFunc
	probeTO   time.Duration
}

// New creates a Registry backed by the given source.
func New(source Source) *Registry {
	return &Registry{
		source:    source,
		endpoints: make(map[string]*CIEndpoint),
		probeTO:   time.Second,
	}
}

// SetProbe installs a liveness probe used during Refresh.
func (r *Registry) SetProbe(probe ProbeFunc, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probe = probe
	if timeout > 0 {
		r.probeTO = timeout
	}
}

// Refresh re-reads the source of truth and rebuilds the name mapping.
// Endpoints still present keep their status and last-seen time; endpoints
// that disappeared are marked unreachable. A source error leaves the
// registry unchanged and is not surfaced to the caller.
func (r *Registry) Refresh(ctx context.Context) {
	entries, err := r.source.Load(ctx)
	if err != nil {
		slog.Warn("Registry refresh: source unavailable, keeping current view", "error", err)
		return
	}

	present := make(map[string]bool, len(entries))
	r.mu.Lock()
	for _, entry := range entries {
		present[entry.Name] = true
		if existing, ok := r.endpoints[entry.Name]; ok {
			existing.Address = entry.Address
			existing.Kind = entry.Kind
			existing.Purposes = entry.Purposes
			continue
		}
		ep := entry
		if ep.Status == "" {
			ep.Status = StatusUnknown
		}
		r.endpoints[ep.Name] = &ep
		r.order = append(r.order, ep.Name)
	}
	for name, ep := range r.endpoints {
		if !present[name] {
			ep.Status = StatusUnreachable
		}
	}
	probe := r.probe
	probeTO := r.probeTO
	r.mu.Unlock()

	if probe == nil {
		return
	}
	for _, name := range r.Names() {
		if !present[name] {
			continue
		}
		ep, err := r.Lookup(name)
		if err != nil {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, probeTO)
		alive := probe(pctx, ep.Address)
		cancel()
		if alive {
			r.MarkActive(name)
		} else {
			r.MarkUnreachable(name)
		}
	}
}

// Lookup returns the endpoint for a CI name.
func (r *Registry) Lookup(name string) (CIEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	if !ok {
		return CIEndpoint{}, &fault.NotFoundError{Name: name}
	}
	return *ep, nil
}

// Filter selects endpoints in List. Zero-value matches everything.
type Filter struct {
	Kind    Kind
	Purpose string
}

// List returns endpoints in insertion order, optionally filtered.
func (r *Registry) List(f Filter) []CIEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CIEndpoint, 0, len(r.order))
	for _, name := range r.order {
		ep := r.endpoints[name]
		if f.Kind != "" && ep.Kind != f.Kind {
			continue
		}
		if f.Purpose != "" && !ep.HasPurpose(f.Purpose) {
			continue
		}
		out = append(out, *ep)
	}
	return out
}

// Names returns all known CI names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// MarkActive records a successful contact with a CI.
func (r *Registry) MarkActive(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.endpoints[name]; ok {
		ep.Status = StatusActive
		ep.LastSeen = time.Now()
	}
}

// MarkUnreachable records a failed contact with a CI.
func (r *Registry) MarkUnreachable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.endpoints[name]; ok {
		ep.Status = StatusUnreachable
	}
}

// Count returns the number of known endpoints.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
