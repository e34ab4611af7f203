package schema

import (
	"fmt"
	"sort"
)

// Registry holds all known object types. Types are registered during
// startup and the registry is frozen by Init; it is never mutated after
// that and is safe for concurrent reads.
type Registry struct {
	types  map[string]*Type
	byCode map[string]*Type
	inited bool
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types:  make(map[string]*Type),
		byCode: make(map[string]*Type),
	}
}

// Register adds an object type to the registry.
// This should be called during init() for each object type.
func (r *Registry) Register(t *Type) {
	if r.inited {
		panic("schema: Register after Init")
	}
	r.types[t.Name] = t
}

// Init validates the catalog and back-fills derived data: flattened
// counter field paths and default DELETE role lists. Must be called once
// after all Register calls and before any lookup.
func (r *Registry) Init() error {
	for name, t := range r.types {
		if len(t.Code) != 2 {
			return fmt.Errorf("schema: type %q code %q must be 2 characters", name, t.Code)
		}
		if prev, ok := r.byCode[t.Code]; ok {
			return fmt.Errorf("schema: type %q reuses code %q of type %q", name, t.Code, prev.Name)
		}
		r.byCode[t.Code] = t

		if t.Views == nil {
			t.Views = map[string]View{}
		}
		if _, ok := t.Views[DefaultView]; !ok {
			return fmt.Errorf("schema: type %q has no %s view", name, DefaultView)
		}

		// Unspecified DELETE role lists default to the type's deletedBy.
		for vn, v := range t.Views {
			if _, ok := v[MethodDelete]; !ok && len(t.DeletedBy) > 0 {
				roles := make([]string, len(t.DeletedBy))
				copy(roles, t.DeletedBy)
				t.Views[vn][MethodDelete] = roles
			}
		}

		for fn, f := range t.Fields {
			if f.View != "" {
				if _, ok := t.Views[f.View]; !ok {
					return fmt.Errorf("schema: type %q field %q names unknown view %q", name, fn, f.View)
				}
			}
		}

		t.counterPaths = flattenCounters("", t.Fields)
		sort.Strings(t.counterPaths)
	}
	r.inited = true
	return nil
}

// flattenCounters collects counter field dot-paths, descending into
// struct fields at any nesting depth.
func flattenCounters(prefix string, fields map[string]*Field) []string {
	var paths []string
	for name, f := range fields {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		switch f.Type {
		case TypeCounter:
			paths = append(paths, path)
		case TypeStruct:
			paths = append(paths, flattenCounters(path, f.Fields)...)
		}
	}
	return paths
}

// Type returns the definition for a type name.
func (r *Registry) Type(name string) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// TypeByCode returns the definition whose 2-character id code matches.
func (r *Registry) TypeByCode(code string) (*Type, bool) {
	t, ok := r.byCode[code]
	return t, ok
}

// All returns every registered type, sorted by name.
func (r *Registry) All() []*Type {
	out := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasType reports whether a type name is registered.
func (r *Registry) HasType(name string) bool {
	_, ok := r.types[name]
	return ok
}
