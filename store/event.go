package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jacentio/lattice/schema"
)

// EventKind distinguishes object and edge mutations.
type EventKind string

const (
	KindObject EventKind = "object"
	KindEdge   EventKind = "edge"
)

// ChangeEvent is emitted after every successful mutation. Downstream
// consumers (index sync, business rules, cascading deletion) key their
// dispatch off "<METHOD> <path>".
type ChangeEvent struct {
	// Method is POST, PATCH, or DELETE.
	Method schema.Method

	// Kind is object or edge.
	Kind EventKind

	// Path is the object type, or "objectType/edgeName" for edges.
	Path string

	// Previous is the pre-mutation snapshot (nil on create).
	Previous Object

	// Current is the post-mutation snapshot (nil on edge delete).
	Current Object
}

// Key returns the dispatch key, "<METHOD> <path>".
func (e ChangeEvent) Key() string {
	return string(e.Method) + " " + e.Path
}

// EventHandler consumes a change event. Handlers must be idempotent;
// the dispatcher may be fed replayed events by stream adapters.
type EventHandler func(ctx context.Context, ev ChangeEvent) error

// Dispatcher routes change events through a lookup table built at
// startup. Subscribe registrations are expected to finish before the
// first Dispatch.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	wildcard []EventHandler
	logger   *slog.Logger
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler for one (method, path) pair.
func (d *Dispatcher) Subscribe(method schema.Method, path string, h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(method) + " " + path
	d.handlers[key] = append(d.handlers[key], h)
}

// SubscribeAll registers a handler for every event.
func (d *Dispatcher) SubscribeAll(h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wildcard = append(d.wildcard, h)
}

// Dispatch delivers ev to its subscribers. Handler failures are logged
// and do not block sibling handlers; the mutation already happened.
func (d *Dispatcher) Dispatch(ctx context.Context, ev ChangeEvent) {
	d.mu.RLock()
	keyed := d.handlers[ev.Key()]
	wild := d.wildcard
	d.mu.RUnlock()

	for _, h := range keyed {
		if err := h(ctx, ev); err != nil {
			d.logger.Error("event handler failed",
				"key", ev.Key(),
				"error", err,
			)
		}
	}
	for _, h := range wild {
		if err := h(ctx, ev); err != nil {
			d.logger.Error("event handler failed",
				"key", ev.Key(),
				"error", err,
			)
		}
	}
}
