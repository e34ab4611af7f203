// Package acl evaluates field- and method-level visibility for objects
// and edges: named views bundle per-method role lists, and virtual
// predicates grant access from runtime object/author relationships.
package acl

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/schema"
)

// Object is a materialized object: field name to value.
type Object = map[string]any

// Mode selects the evaluation mode.
type Mode string

const (
	// ModeSoft authorizes before data is available: eligible virtuals
	// pass optimistically without executing.
	ModeSoft Mode = "soft"

	// ModeHard authorizes against the fetched object and is
	// authoritative.
	ModeHard Mode = "hard"
)

// FieldStrategy selects what happens when a field fails its check.
type FieldStrategy string

const (
	// StrategyError aborts the whole call on the first denied field.
	StrategyError FieldStrategy = "error"

	// StrategyStrip omits denied fields from the result and continues.
	StrategyStrip FieldStrategy = "strip"
)

// Cache memoizes virtual predicate results by name. One Cache is
// threaded through the soft and hard passes of a request so each
// virtual executes at most once.
type Cache map[string]bool

// Request carries one verification call.
type Request struct {
	// Object is the materialized object, when available. Required for
	// executing virtuals in hard mode.
	Object Object

	// Type is the object type name.
	Type string

	// Author is the caller. A nil author is always denied.
	Author *schema.Author

	// Roles is the caller's role set.
	Roles []string

	// Method is the access method under check.
	Method schema.Method

	// Mode is soft or hard.
	Mode Mode

	// Strategy is error or strip.
	Strategy FieldStrategy

	// Keys restricts the checked field set. Empty means the object's own
	// keys (minus fixed fields) when an object is supplied, else the
	// full schema field list.
	Keys []string

	// Cache is the shared virtual result cache. Optional; without it
	// virtual results are not reused across calls.
	Cache Cache
}

// Engine evaluates ACLs against a schema registry.
type Engine struct {
	registry *schema.Registry
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(registry *schema.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, logger: logger}
}

// VerifyObject checks the request's field set against the object type's
// views. With the strip strategy and a supplied object it returns the
// caller-visible projection; otherwise it returns nil and a verdict.
func (e *Engine) VerifyObject(ctx context.Context, req Request) (Object, error) {
	if req.Author == nil {
		return nil, errs.New(errs.CodeACLDenied, "no author supplied")
	}
	t, ok := e.registry.Type(req.Type)
	if !ok {
		return nil, errs.New(errs.CodeUnknownType, "unknown object type %q", req.Type)
	}

	if !methodAllowed(t, req.Method, req.Roles) {
		return nil, errs.New(errs.CodeNoMethodPermission, "no permissions for method %s on type %q", req.Method, req.Type)
	}

	// The soft strip pass is a pre-fetch gate: there is no object to
	// strip yet, field work happens on the later hard pass.
	if req.Mode == ModeSoft && req.Strategy == StrategyStrip {
		return nil, nil
	}

	keys := req.Keys
	if len(keys) == 0 {
		if req.Object != nil {
			for k := range req.Object {
				if !schema.IsFixedField(k) {
					keys = append(keys, k)
				}
			}
		} else {
			for k := range t.Fields {
				keys = append(keys, k)
			}
		}
	}

	if req.Method == schema.MethodPatch {
		for _, k := range keys {
			if schema.IsFixedField(k) {
				return nil, errs.New(errs.CodeFieldUneditable, "field %q is not editable", k)
			}
		}
	}

	var stripped []string
	for _, key := range keys {
		allowed, err := e.checkRoles(ctx, t.FieldView(key)[req.Method], req)
		if err != nil {
			return nil, err
		}
		if allowed {
			continue
		}
		if req.Strategy == StrategyError {
			return nil, errs.New(errs.CodeACLDenied, "no access to field %q", key)
		}
		stripped = append(stripped, key)
	}

	if req.Strategy == StrategyStrip && req.Object != nil {
		out := make(Object, len(req.Object))
		for k, v := range req.Object {
			out[k] = v
		}
		for _, k := range stripped {
			delete(out, k)
		}
		return out, nil
	}
	return nil, nil
}

// VerifyEdge checks access to a named edge of the request's type. Edge
// ACLs are structurally identical to field ACLs: the edge's view is
// resolved and its role list for the method evaluated.
func (e *Engine) VerifyEdge(ctx context.Context, req Request, edge string) error {
	if req.Author == nil {
		return errs.New(errs.CodeACLDenied, "no author supplied")
	}
	t, ok := e.registry.Type(req.Type)
	if !ok {
		return errs.New(errs.CodeUnknownType, "unknown object type %q", req.Type)
	}
	def, ok := t.Edges[edge]
	if !ok {
		return errs.New(errs.CodeUnknownEdge, "type %q has no edge %q", req.Type, edge)
	}
	allowed, err := e.checkRoles(ctx, t.View(def.View)[req.Method], req)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.New(errs.CodeACLDenied, "no access to edge %q", edge)
	}
	return nil
}

// checkRoles scans a role list in order, short-circuiting on the first
// pass, honoring virtual eligibility, mode, and the shared cache.
func (e *Engine) checkRoles(ctx context.Context, roles []string, req Request) (bool, error) {
	t, _ := e.registry.Type(req.Type)
	pass := false

	for _, role := range roles {
		switch {
		case role == schema.RolePublic || role == schema.RoleAll:
			return true, nil

		case strings.HasPrefix(role, schema.VirtualPrefix):
			name := role[len(schema.VirtualPrefix):]

			if req.Cache != nil {
				if cached, ok := req.Cache[name]; ok {
					if cached {
						return true, nil
					}
					continue
				}
			}

			v, ok := t.Virtuals[name]
			if !ok {
				e.logger.Warn("role names unknown virtual",
					"type", req.Type,
					"virtual", name,
				)
				continue
			}
			if !eligible(v.Pre, req.Roles) {
				continue
			}

			if req.Mode == ModeSoft {
				// Optimistic pass without execution; the scan continues
				// rather than short-circuiting in this branch.
				pass = true
				continue
			}

			if req.Object == nil {
				return false, errs.New(errs.CodeACLDenied, "no supplied object for hard acl")
			}

			result, err := v.Check(ctx, req.Object, req.Author)
			if err != nil {
				return false, errs.Wrap(err, errs.CodeACLDenied, "virtual %q failed", name)
			}
			if req.Cache != nil {
				req.Cache[name] = result
			}
			if result {
				return true, nil
			}

		default:
			for _, r := range req.Roles {
				if r == role {
					return true, nil
				}
			}
		}
	}
	return pass, nil
}

// eligible reports whether the caller's roles intersect a virtual's pre
// list, or the pre list admits everyone.
func eligible(pre, roles []string) bool {
	for _, p := range pre {
		if p == schema.RoleAll || p == schema.RolePublic {
			return true
		}
		for _, r := range roles {
			if r == p {
				return true
			}
		}
	}
	return false
}

// methodAllowed is the method-level gate: across all views of the type,
// at least one view must grant the method to an intersecting role,
// public/all, or a virtual role.
func methodAllowed(t *schema.Type, method schema.Method, roles []string) bool {
	for _, view := range t.Views {
		for _, role := range view[method] {
			if role == schema.RolePublic || role == schema.RoleAll {
				return true
			}
			if strings.HasPrefix(role, schema.VirtualPrefix) {
				return true
			}
			for _, r := range roles {
				if r == role {
					return true
				}
			}
		}
	}
	return false
}
