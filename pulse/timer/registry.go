package timer

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler runs timers of one kind.
//
// Handle must be idempotent: a timer can be delivered more than once after a
// crash, and its target may have changed since it was scheduled. Returning an
// error marks the timer failed; it is never retried automatically.
type Handler interface {
	Kind() Kind
	Handle(ctx context.Context, t *Timer) error
}

// HandlerFunc adapts a function to Handler for a fixed kind
type HandlerFunc struct {
	K  Kind
	Fn func(ctx context.Context, t *Timer) error
}

func (h HandlerFunc) Kind() Kind { return h.K }

func (h HandlerFunc) Handle(ctx context.Context, t *Timer) error { return h.Fn(ctx, t) }

// Registry maps timer kinds to handlers.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	handlers map[Kind]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register adds a handler under its kind.
// Panics if a handler is already registered for that kind.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := h.Kind()
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("timer handler already registered for kind: %s", kind))
	}
	r.handlers[kind] = h
}

// Get returns the handler for kind, or nil
func (r *Registry) Get(kind Kind) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[kind]
}

// Has checks if a handler is registered for kind
func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds returns the registered kinds, sorted
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
