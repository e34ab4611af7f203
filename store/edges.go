package store

import (
	"context"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/schema"
)

// edgeObject is the event snapshot for an edge mutation.
func edgeObject(src, edge, dst string) Object {
	return Object{"src": src, "edge": edge, "dst": dst}
}

func edgeCacheKey(src, edge string) string {
	return "edges_" + src + "_" + edge
}

// resolveEdge validates both ids and the edge definition, returning the
// source type.
func (s *Store) resolveEdge(src, edge, dst string) (*schema.Type, error) {
	srcType, err := s.typeOf(src)
	if err != nil {
		return nil, err
	}
	def, ok := srcType.Edges[edge]
	if !ok {
		return nil, errs.New(errs.CodeUnknownEdge, "type %q has no edge %q", srcType.Name, edge)
	}
	dstType, err := s.typeOf(dst)
	if err != nil {
		return nil, err
	}
	if len(def.Targets) > 0 && !contains(def.Targets, dstType.Name) {
		return nil, errs.New(errs.CodeRefNotAllowed, "edge %q may not target type %q", edge, dstType.Name)
	}
	return srcType, nil
}

// CreateEdge appends a directed named edge and emits a POST edge event.
// Edge mutation for one (src, edge) pair is serialized through the
// distributed lock.
func (s *Store) CreateEdge(ctx context.Context, src, edge, dst string) error {
	srcType, err := s.resolveEdge(src, edge, dst)
	if err != nil {
		return err
	}
	if _, err := s.fetch(ctx, dst); err != nil {
		return err
	}

	err = s.locks.WithLock(ctx, edgeCacheKey(src, edge), func(ctx context.Context) error {
		return s.withRetry(ctx, "create_edge", func(ctx context.Context) error {
			return s.driver.CreateEdge(ctx, src, edge, dst)
		})
	})
	if err != nil {
		return err
	}
	s.invalidateEdgeCache(ctx, src, edge)

	s.events.Dispatch(ctx, ChangeEvent{
		Method:  schema.MethodPost,
		Kind:    KindEdge,
		Path:    srcType.Name + "/" + edge,
		Current: edgeObject(src, edge, dst),
	})
	return nil
}

// DeleteEdge removes a directed named edge and emits a DELETE edge
// event.
func (s *Store) DeleteEdge(ctx context.Context, src, edge, dst string) error {
	srcType, err := s.resolveEdge(src, edge, dst)
	if err != nil {
		return err
	}

	err = s.locks.WithLock(ctx, edgeCacheKey(src, edge), func(ctx context.Context) error {
		return s.withRetry(ctx, "delete_edge", func(ctx context.Context) error {
			return s.driver.DeleteEdge(ctx, src, edge, dst)
		})
	})
	if err != nil {
		return err
	}
	s.invalidateEdgeCache(ctx, src, edge)

	s.events.Dispatch(ctx, ChangeEvent{
		Method:   schema.MethodDelete,
		Kind:     KindEdge,
		Path:     srcType.Name + "/" + edge,
		Previous: edgeObject(src, edge, dst),
	})
	return nil
}

// GetEdges returns destination ids for (src, edge) in insertion order,
// reading through the shared cache's list index when enabled.
func (s *Store) GetEdges(ctx context.Context, src, edge string) ([]string, error) {
	srcType, err := s.typeOf(src)
	if err != nil {
		return nil, err
	}
	if _, ok := srcType.Edges[edge]; !ok {
		return nil, errs.New(errs.CodeUnknownEdge, "type %q has no edge %q", srcType.Name, edge)
	}

	if s.cache != nil && s.config.EdgeCacheTTL > 0 {
		if cached, err := s.cache.LRange(ctx, edgeCacheKey(src, edge), 0, -1); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	var dsts []string
	err = s.withRetry(ctx, "get_edges", func(ctx context.Context) error {
		var gerr error
		dsts, gerr = s.driver.GetEdges(ctx, src, edge)
		return gerr
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.config.EdgeCacheTTL > 0 && len(dsts) > 0 {
		key := edgeCacheKey(src, edge)
		var pushed bool
		// Populate under the same lock that serializes edge mutation,
		// rechecking first so two cold readers cannot both push and
		// double the cached list.
		perr := s.locks.WithLock(ctx, key, func(ctx context.Context) error {
			if n, cerr := s.cache.LLen(ctx, key); cerr != nil || n > 0 {
				return cerr
			}
			pushed = true
			// LPush prepends, so push in reverse to preserve order.
			for i := len(dsts) - 1; i >= 0; i-- {
				if cerr := s.cache.LPush(ctx, key, dsts[i]); cerr != nil {
					return cerr
				}
			}
			return s.cache.Expire(ctx, key, s.config.EdgeCacheTTL)
		})
		if perr != nil && pushed {
			s.invalidateEdgeCache(ctx, src, edge)
		}
	}
	return dsts, nil
}

// GetReverseEdges returns source ids for (dst, edge) in insertion order.
func (s *Store) GetReverseEdges(ctx context.Context, dst, edge string) ([]string, error) {
	if _, err := s.typeOf(dst); err != nil {
		return nil, err
	}
	var srcs []string
	err := s.withRetry(ctx, "get_reverse_edges", func(ctx context.Context) error {
		var gerr error
		srcs, gerr = s.driver.GetReverseEdges(ctx, dst, edge)
		return gerr
	})
	return srcs, err
}

func (s *Store) invalidateEdgeCache(ctx context.Context, src, edge string) {
	if s.cache == nil || s.config.EdgeCacheTTL <= 0 {
		return
	}
	if err := s.cache.Del(ctx, edgeCacheKey(src, edge)); err != nil {
		s.logger.Warn("failed to invalidate edge cache",
			"src", src,
			"edge", edge,
			"error", err,
		)
	}
}
