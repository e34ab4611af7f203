package acl

import (
	"context"
	"fmt"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/ident"
	"github.com/jacentio/lattice/schema"
)

// Source fetches objects and edge destinations for expansion. The
// persistence orchestrator satisfies it.
type Source interface {
	GetObject(ctx context.Context, id string) (map[string]any, error)
	GetEdges(ctx context.Context, src, edge string) ([]string, error)
}

// DefaultMaxDepth bounds expand recursion when no explicit cap is set.
const DefaultMaxDepth = 5

// Resolver resolves expand strings against fetched objects, enforcing
// field and edge ACLs at every hop. Recursion is bounded by a depth cap
// and a visited-id set, so cyclic object graphs terminate.
type Resolver struct {
	engine   *Engine
	source   Source
	maxDepth int
}

// NewResolver creates a Resolver. maxDepth <= 0 selects DefaultMaxDepth.
func NewResolver(engine *Engine, source Source, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{engine: engine, source: source, maxDepth: maxDepth}
}

// ParseExpand parses the compact expand grammar: comma-separated field
// names, each optionally followed by a brace-delimited nested
// expression. "author,comments{text,author}" yields
// {"author": "", "comments": "text,author"}.
func ParseExpand(s string) (map[string]string, error) {
	out := make(map[string]string)
	i := 0
	for i < len(s) {
		start := i
		for i < len(s) && s[i] != ',' && s[i] != '{' && s[i] != '}' {
			i++
		}
		name := s[start:i]
		if i < len(s) && s[i] == '}' {
			return nil, fmt.Errorf("acl: unbalanced '}' at offset %d", i)
		}

		nested := ""
		if i < len(s) && s[i] == '{' {
			depth := 1
			j := i + 1
			for j < len(s) && depth > 0 {
				switch s[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
				j++
			}
			if depth != 0 {
				return nil, fmt.Errorf("acl: unbalanced '{' at offset %d", i)
			}
			nested = s[i+1 : j-1]
			i = j
		}

		if name == "" {
			if nested != "" || (i < len(s) && s[i] != ',') {
				return nil, fmt.Errorf("acl: empty expand key at offset %d", start)
			}
		} else {
			out[name] = nested
		}

		if i < len(s) {
			if s[i] != ',' {
				return nil, fmt.Errorf("acl: expected ',' at offset %d", i)
			}
			i++
		}
	}
	return out, nil
}

// Expand resolves an expand string against obj, returning a copy with
// referenced objects and edge destinations spliced in. Every referenced
// object is soft-checked before its fetch and hard-checked/stripped
// after.
func (r *Resolver) Expand(ctx context.Context, obj Object, objectType, expand string, author *schema.Author, roles []string, cache Cache) (Object, error) {
	if cache == nil {
		cache = Cache{}
	}
	visited := map[string]bool{}
	if id, _ := obj[schema.FieldID].(string); id != "" {
		visited[id] = true
	}
	return r.expand(ctx, obj, objectType, expand, author, roles, cache, visited, 0)
}

func (r *Resolver) expand(ctx context.Context, obj Object, objectType, expand string, author *schema.Author, roles []string, cache Cache, visited map[string]bool, depth int) (Object, error) {
	if expand == "" {
		return obj, nil
	}
	if depth >= r.maxDepth {
		return nil, errs.New(errs.CodeExpandDepth, "expand exceeds maximum depth %d", r.maxDepth)
	}
	t, ok := r.engine.registry.Type(objectType)
	if !ok {
		return nil, errs.New(errs.CodeUnknownType, "unknown object type %q", objectType)
	}

	keys, err := ParseExpand(expand)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeBadDataType, "malformed expand string")
	}

	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}

	for key, nested := range keys {
		if f, ok := t.Fields[key]; ok {
			if _, err := r.engine.VerifyObject(ctx, Request{
				Object:   obj,
				Type:     objectType,
				Author:   author,
				Roles:    roles,
				Method:   schema.MethodGet,
				Mode:     ModeHard,
				Strategy: StrategyError,
				Keys:     []string{key},
				Cache:    cache,
			}); err != nil {
				return nil, err
			}

			// Non-reference fields pass through as-is. Naming them in
			// an expand string selects them, it does not expand them.
			if f.Type != schema.TypeObjectID {
				continue
			}

			switch v := obj[key].(type) {
			case string:
				expanded, err := r.expandRef(ctx, v, nested, author, roles, cache, visited, depth)
				if err != nil {
					return nil, err
				}
				if expanded != nil {
					out[key] = expanded
				}
			case []any:
				arr := make([]any, 0, len(v))
				for _, item := range v {
					id, ok := item.(string)
					if !ok {
						arr = append(arr, item)
						continue
					}
					expanded, err := r.expandRef(ctx, id, nested, author, roles, cache, visited, depth)
					if err != nil {
						return nil, err
					}
					if expanded != nil {
						arr = append(arr, expanded)
					} else {
						arr = append(arr, item)
					}
				}
				out[key] = arr
			}
			continue
		}

		if _, ok := t.Edges[key]; ok {
			if err := r.engine.VerifyEdge(ctx, Request{
				Object: obj,
				Type:   objectType,
				Author: author,
				Roles:  roles,
				Method: schema.MethodGet,
				Mode:   ModeHard,
				Cache:  cache,
			}, key); err != nil {
				return nil, err
			}

			src, _ := obj[schema.FieldID].(string)
			dsts, err := r.source.GetEdges(ctx, src, key)
			if err != nil {
				return nil, err
			}

			results := make([]any, 0, len(dsts))
			for _, dst := range dsts {
				expanded, err := r.expandRef(ctx, dst, nested, author, roles, cache, visited, depth)
				if err != nil {
					return nil, err
				}
				if expanded != nil {
					results = append(results, expanded)
				}
			}
			out[key] = results
			continue
		}

		return nil, errs.New(errs.CodeUnknownField, "expand key %q is neither a field nor an edge of %q", key, objectType)
	}

	return out, nil
}

// expandRef resolves one referenced id: soft-check its type, fetch it,
// recurse with the nested expand string, then hard-check and strip. A
// missing or cyclic reference returns nil so the caller keeps the raw
// id.
func (r *Resolver) expandRef(ctx context.Context, id, nested string, author *schema.Author, roles []string, cache Cache, visited map[string]bool, depth int) (Object, error) {
	code, err := ident.Code(id)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInvalidID, "invalid reference id %q", id)
	}
	refType, ok := r.engine.registry.TypeByCode(code)
	if !ok {
		return nil, errs.New(errs.CodeUnknownType, "no object type for id code %q", code)
	}
	if visited[id] {
		return nil, nil
	}

	if _, err := r.engine.VerifyObject(ctx, Request{
		Type:     refType.Name,
		Author:   author,
		Roles:    roles,
		Method:   schema.MethodGet,
		Mode:     ModeSoft,
		Strategy: StrategyStrip,
		Cache:    cache,
	}); err != nil {
		return nil, err
	}

	fetched, err := r.source.GetObject(ctx, id)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	visited[id] = true
	expanded, err := r.expand(ctx, fetched, refType.Name, nested, author, roles, cache, visited, depth+1)
	delete(visited, id)
	if err != nil {
		return nil, err
	}

	return r.engine.VerifyObject(ctx, Request{
		Object:   expanded,
		Type:     refType.Name,
		Author:   author,
		Roles:    roles,
		Method:   schema.MethodGet,
		Mode:     ModeHard,
		Strategy: StrategyStrip,
		Cache:    cache,
	})
}
