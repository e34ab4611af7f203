// Package cascade consumes delete events and removes dependent objects
// per schema cascade directives: direct references, edge destinations,
// and search-index matches, walked on a bounded-concurrency work queue.
package cascade

import (
	"context"
	"log/slog"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/metrics"
	"github.com/jacentio/lattice/schema"
	"github.com/jacentio/lattice/store"
)

// SearchIndex looks up dependents by property value, one page per call.
// An empty id page ends the scan.
type SearchIndex interface {
	Search(ctx context.Context, index, property, value, cursor string) (ids []string, nextCursor string, err error)
}

// Store is the subset of the orchestrator the traversal uses.
type Store interface {
	DeleteObject(ctx context.Context, id string) (store.Object, error)
	GetEdges(ctx context.Context, src, edge string) ([]string, error)
}

// Config holds traversal tuning.
type Config struct {
	// Workers is the fixed worker count of the deletion queue.
	// Default: 4
	Workers int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

func (c *Config) validate() {
	if c.Workers < 1 {
		c.Workers = 4
	}
}

// Traversal walks cascade directives for deleted objects. Every
// scheduled delete is best-effort: a failure is logged and never blocks
// sibling or parent tasks. The walk is complete when the queue fully
// drains, including work discovered while processing children.
type Traversal struct {
	store    Store
	registry *schema.Registry
	search   SearchIndex
	pool     *pool
	logger   *slog.Logger
}

// New creates a Traversal and starts its workers.
func New(s Store, registry *schema.Registry, search SearchIndex, config Config, logger *slog.Logger) *Traversal {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Traversal{
		store:    s,
		registry: registry,
		search:   search,
		pool:     newPool(config.Workers),
		logger:   logger,
	}
}

// Bind subscribes the traversal to the dispatcher's delete events.
func (t *Traversal) Bind(d *store.Dispatcher) {
	d.SubscribeAll(t.HandleEvent)
}

// HandleEvent schedules cascade work for object DELETE events and
// ignores everything else. It returns once the work is queued; use
// Drain to wait for completion.
func (t *Traversal) HandleEvent(ctx context.Context, ev store.ChangeEvent) error {
	if ev.Method != schema.MethodDelete || ev.Kind != store.KindObject {
		return nil
	}
	typ, ok := t.registry.Type(ev.Path)
	if !ok {
		return errs.New(errs.CodeUnknownType, "delete event for unknown type %q", ev.Path)
	}
	parent := ev.Previous
	if parent == nil {
		parent = ev.Current
	}
	id, _ := parent[schema.FieldID].(string)
	if id == "" {
		return nil
	}

	for _, field := range typ.DeepDeletedFields {
		field := field
		t.pool.schedule(func(ctx context.Context) {
			t.deleteField(ctx, parent, field)
		})
	}
	for _, edge := range typ.DeepDeletedEdges {
		edge := edge
		t.pool.schedule(func(ctx context.Context) {
			t.deleteEdgeDestinations(ctx, id, edge)
		})
	}
	for _, rule := range typ.DeepDeletion {
		rule := rule
		t.pool.schedule(func(ctx context.Context) {
			t.deleteSearchMatches(ctx, id, rule)
		})
	}
	return nil
}

// Drain waits until all scheduled cascade work, including dynamically
// discovered tasks, has finished.
func (t *Traversal) Drain() {
	t.pool.drain()
}

// Close stops the workers. Call after Drain during shutdown.
func (t *Traversal) Close() {
	t.pool.close()
}

// deleteField deletes the object(s) referenced by a direct objectid
// field of the deleted parent.
func (t *Traversal) deleteField(ctx context.Context, parent store.Object, field string) {
	switch v := parent[field].(type) {
	case string:
		t.deleteOne(ctx, v)
	case []any:
		for _, item := range v {
			if id, ok := item.(string); ok {
				id := id
				t.pool.schedule(func(ctx context.Context) {
					t.deleteOne(ctx, id)
				})
			}
		}
	}
}

// deleteEdgeDestinations fetches all destinations of an edge and
// schedules a delete per destination.
func (t *Traversal) deleteEdgeDestinations(ctx context.Context, src, edge string) {
	dsts, err := t.store.GetEdges(ctx, src, edge)
	if err != nil {
		t.logger.Warn("cascade: failed to list edge destinations",
			"src", src,
			"edge", edge,
			"error", err,
		)
		metrics.CascadeTasks.WithLabelValues("error").Inc()
		return
	}
	for _, dst := range dsts {
		dst := dst
		t.pool.schedule(func(ctx context.Context) {
			t.deleteOne(ctx, dst)
		})
	}
}

// deleteSearchMatches pages a search index for objects whose property
// equals the deleted parent's id, scheduling a delete per hit until a
// page comes back empty.
func (t *Traversal) deleteSearchMatches(ctx context.Context, parentID string, rule schema.DeepDeletion) {
	cursor := ""
	for {
		ids, next, err := t.search.Search(ctx, rule.Index, rule.Property, parentID, cursor)
		if err != nil {
			t.logger.Warn("cascade: search index query failed",
				"index", rule.Index,
				"property", rule.Property,
				"error", err,
			)
			metrics.CascadeTasks.WithLabelValues("error").Inc()
			return
		}
		if len(ids) == 0 {
			return
		}
		for _, id := range ids {
			id := id
			t.pool.schedule(func(ctx context.Context) {
				t.deleteOne(ctx, id)
			})
		}
		if next == "" {
			return
		}
		cursor = next
	}
}

// deleteOne deletes a single dependent object. Failures leave an orphan
// rather than aborting the traversal.
func (t *Traversal) deleteOne(ctx context.Context, id string) {
	if _, err := t.store.DeleteObject(ctx, id); err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			metrics.CascadeTasks.WithLabelValues("skipped").Inc()
			return
		}
		t.logger.Warn("cascade: failed to delete dependent object",
			"id", id,
			"error", err,
		)
		metrics.CascadeTasks.WithLabelValues("error").Inc()
		return
	}
	metrics.CascadeTasks.WithLabelValues("ok").Inc()
}
