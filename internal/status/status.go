// Package status holds the closed set of order-lifecycle states and the
// registry used to resolve them. The set is assembled once at boot; nothing
// mutates it afterwards, so lookups are safe from any goroutine.
package status

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Status describes one order-lifecycle state.
type Status struct {
	// Slug is the public identifier, e.g. "completed".
	Slug string
	// StoreKey is the internal storage key used when persisting transitions
	// and keying gateway payload history, e.g. "tec-tc-completed".
	StoreKey string
	// Label is the human-readable name.
	Label string
	// Final marks states that end the order lifecycle.
	Final bool
}

// Zero reports whether the status carries no identity.
func (s Status) Zero() bool { return s.Slug == "" }

// Canonical slugs registered by DefaultRegistry.
const (
	SlugCreated        = "created"
	SlugPending        = "pending"
	SlugActionRequired = "action-required"
	SlugCompleted      = "completed"
	SlugNotCompleted   = "not-completed"
	SlugDenied         = "denied"
	SlugRefunded       = "refunded"
	SlugReversed       = "reversed"
	SlugVoided         = "voided"
)

// ErrUnknownStatus is returned when an identifier resolves to nothing.
var ErrUnknownStatus = errors.New("status: unknown status")

// Registry maps slugs and store keys to registered statuses.
type Registry struct {
	mu       sync.RWMutex
	frozen   bool
	bySlug   map[string]Status
	byStore  map[string]Status
	ordering []string
}

// NewRegistry returns an empty registry accepting registrations.
func NewRegistry() *Registry {
	return &Registry{
		bySlug:  make(map[string]Status),
		byStore: make(map[string]Status),
	}
}

// Register adds a status. Duplicate slugs or store keys are rejected, as is
// registration after Freeze.
func (r *Registry) Register(s Status) error {
	slug := strings.TrimSpace(s.Slug)
	storeKey := strings.TrimSpace(s.StoreKey)
	if slug == "" || storeKey == "" {
		return errors.New("status: slug and store key are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.New("status: registry is frozen")
	}
	if _, ok := r.bySlug[slug]; ok {
		return fmt.Errorf("status: slug %q already registered", slug)
	}
	if _, ok := r.byStore[storeKey]; ok {
		return fmt.Errorf("status: store key %q already registered", storeKey)
	}
	s.Slug = slug
	s.StoreKey = storeKey
	r.bySlug[slug] = s
	r.byStore[storeKey] = s
	r.ordering = append(r.ordering, slug)
	return nil
}

// Freeze rejects further registrations. Called once boot wiring completes.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// BySlug resolves a status by its public slug.
func (r *Registry) BySlug(slug string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.bySlug[strings.TrimSpace(slug)]; ok {
		return s, nil
	}
	return Status{}, fmt.Errorf("%w: %q", ErrUnknownStatus, slug)
}

// ByStoreKey resolves a status by its internal storage key.
func (r *Registry) ByStoreKey(key string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byStore[strings.TrimSpace(key)]; ok {
		return s, nil
	}
	return Status{}, fmt.Errorf("%w: %q", ErrUnknownStatus, key)
}

// Resolve accepts either a slug or a store key.
func (r *Registry) Resolve(identifier string) (Status, error) {
	if s, err := r.BySlug(identifier); err == nil {
		return s, nil
	}
	return r.ByStoreKey(identifier)
}

// All returns every registered status sorted by slug.
func (r *Registry) All() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.bySlug))
	for _, s := range r.bySlug {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// DefaultRegistry builds the canonical status set. The registry is left
// unfrozen so deployments can register additional states during boot wiring.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range []Status{
		{Slug: SlugCreated, StoreKey: "tec-tc-created", Label: "Created"},
		{Slug: SlugPending, StoreKey: "tec-tc-pending", Label: "Pending"},
		{Slug: SlugActionRequired, StoreKey: "tec-tc-action-required", Label: "Action Required"},
		{Slug: SlugCompleted, StoreKey: "tec-tc-completed", Label: "Completed", Final: true},
		{Slug: SlugNotCompleted, StoreKey: "tec-tc-not-completed", Label: "Not Completed"},
		{Slug: SlugDenied, StoreKey: "tec-tc-denied", Label: "Denied", Final: true},
		{Slug: SlugRefunded, StoreKey: "tec-tc-refunded", Label: "Refunded", Final: true},
		{Slug: SlugReversed, StoreKey: "tec-tc-reversed", Label: "Reversed", Final: true},
		{Slug: SlugVoided, StoreKey: "tec-tc-voided", Label: "Voided", Final: true},
	} {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}
