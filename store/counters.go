package store

import (
	"context"
	"strings"
	"time"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/schema"
)

// ApplyCounterDeltas mutates counter fields by signed deltas, addressed
// by dot-path (e.g. "stats.views"). The read-modify-write runs under the
// object's distributed lock so concurrent deltas never lose updates.
func (s *Store) ApplyCounterDeltas(ctx context.Context, id string, deltas map[string]int64) (Object, error) {
	return s.mutateCounters(ctx, id, deltas, nil)
}

// SetCounter sets a counter field to an absolute value.
func (s *Store) SetCounter(ctx context.Context, id, path string, value int64) (Object, error) {
	return s.mutateCounters(ctx, id, nil, map[string]int64{path: value})
}

func (s *Store) mutateCounters(ctx context.Context, id string, deltas, sets map[string]int64) (Object, error) {
	t, err := s.typeOf(id)
	if err != nil {
		return nil, err
	}
	for path := range deltas {
		if !t.IsCounterPath(path) {
			return nil, errs.New(errs.CodeUnknownField, "%q is not a counter field of type %q", path, t.Name)
		}
	}
	for path := range sets {
		if !t.IsCounterPath(path) {
			return nil, errs.New(errs.CodeUnknownField, "%q is not a counter field of type %q", path, t.Name)
		}
	}

	var updated Object
	err = s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		prev, gerr := s.fetch(ctx, id)
		if gerr != nil {
			return gerr
		}

		// Counters nested in structs are rewritten through their
		// top-level field so the driver merge stays shallow.
		merge := make(Object)
		for path, delta := range deltas {
			current := counterAt(prev, merge, path)
			writeCounter(prev, merge, path, current+delta)
		}
		for path, value := range sets {
			writeCounter(prev, merge, path, value)
		}
		merge[schema.FieldUpdatedAt] = time.Now().UTC().Format(time.RFC3339)

		werr := s.withRetry(ctx, "update_counters", func(ctx context.Context) error {
			var uerr error
			updated, uerr = s.driver.UpdateObject(ctx, id, merge)
			return uerr
		})
		if werr != nil {
			if code := errs.Code(werr); code != errs.CodeInternal && code != errs.CodeStorageFailed {
				return werr
			}
			return errs.Wrap(werr, errs.CodeUpdateFailed, "failed to update counters on %q", id)
		}

		s.events.Dispatch(ctx, ChangeEvent{
			Method:   schema.MethodPatch,
			Kind:     KindObject,
			Path:     t.Name,
			Previous: prev,
			Current:  updated,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// counterAt reads the current counter value for path, preferring a value
// already staged in merge over the previous snapshot.
func counterAt(prev, merge Object, path string) int64 {
	if v, ok := valueAt(merge, path); ok {
		return toInt64(v)
	}
	if v, ok := valueAt(prev, path); ok {
		return toInt64(v)
	}
	return 0
}

// writeCounter stages value at path inside merge, deep-copying the
// enclosing top-level struct from prev the first time it is touched.
func writeCounter(prev, merge Object, path string, value int64) {
	i := strings.IndexByte(path, '.')
	if i < 0 {
		merge[path] = value
		return
	}
	top := path[:i]
	rest := path[i:]

	sub, ok := merge[top].(map[string]any)
	if !ok {
		sub = copyTree(prev[top])
		merge[top] = sub
	}
	setNested(sub, rest[1:], value)
}

func setNested(m map[string]any, path string, value int64) {
	i := strings.IndexByte(path, '.')
	if i < 0 {
		m[path] = value
		return
	}
	sub, ok := m[path[:i]].(map[string]any)
	if !ok {
		sub = make(map[string]any)
		m[path[:i]] = sub
	}
	setNested(sub, path[i+1:], value)
}

func valueAt(obj Object, path string) (any, bool) {
	var cur any = map[string]any(obj)
	for path != "" {
		name := path
		if i := strings.IndexByte(path, '.'); i >= 0 {
			name, path = path[:i], path[i+1:]
		} else {
			path = ""
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[name]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func copyTree(v any) map[string]any {
	out := make(map[string]any)
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, val := range m {
		if sub, ok := val.(map[string]any); ok {
			out[k] = copyTree(sub)
		} else {
			out[k] = val
		}
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
