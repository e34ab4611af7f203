// Package schema provides the static object-type catalog: field definitions,
// views, virtual predicates, edges, and cascade directives.
package schema

import (
	"context"
	"strings"
)

// Method identifies the access method a view role list applies to.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Methods lists all access methods in evaluation order.
var Methods = []Method{MethodGet, MethodPost, MethodPatch, MethodDelete}

// Role list entries that grant access unconditionally.
const (
	RolePublic = "public"
	RoleAll    = "all"
)

// VirtualPrefix marks a role entry that names a virtual predicate.
const VirtualPrefix = "virtual:"

// DefaultView is the view every object type must define.
const DefaultView = "_default"

// Fixed fields are managed by the store and present on every object.
const (
	FieldID         = "id"
	FieldObjectType = "object_type"
	FieldCreatedAt  = "created_at"
	FieldUpdatedAt  = "updated_at"
	FieldDeletedAt  = "deleted_at"
)

// FixedFields maps the store-managed field names.
var FixedFields = map[string]bool{
	FieldID:         true,
	FieldObjectType: true,
	FieldCreatedAt:  true,
	FieldUpdatedAt:  true,
	FieldDeletedAt:  true,
}

// IsFixedField reports whether name is a store-managed field.
func IsFixedField(name string) bool {
	return FixedFields[name]
}

// FieldType is the type tag of a field definition.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeObjectID FieldType = "objectid"
	TypeStruct   FieldType = "struct"
	TypeValueSet FieldType = "valueset"
	TypeCounter  FieldType = "counter"
	TypeJSON     FieldType = "json"
)

// Author identifies the caller an operation runs on behalf of.
type Author struct {
	// ID is the author's object id.
	ID string

	// Object is the author's materialized object, when available.
	// Virtual predicates may consult it.
	Object map[string]any
}

// DefaultFunc computes a field default from the partially-built object
// and the author.
type DefaultFunc func(object map[string]any, author *Author) any

// CheckFunc is a virtual predicate evaluated against a materialized
// object and the author.
type CheckFunc func(ctx context.Context, object map[string]any, author *Author) (bool, error)

// Field defines a single object field.
type Field struct {
	// Type is the field's type tag.
	Type FieldType

	// Array marks the field as an array of Type.
	Array bool

	// Default, when set, fills the field on create if absent.
	Default DefaultFunc

	// RefTypes lists the object types an objectid field may reference.
	// Empty means any type.
	RefTypes []string

	// Required fields must be present and non-nil on create.
	Required bool

	// Unique fields are reserved per (type, field, value).
	Unique bool

	// View names the view governing this field. Empty means _default.
	View string

	// Values enumerates valueset membership.
	Values []any

	// Fields holds struct sub-field definitions.
	Fields map[string]*Field
}

// View bundles role lists per access method.
type View map[Method][]string

// Virtual is a named predicate gated by a pre role list.
type Virtual struct {
	// Pre lists roles eligible to attempt the predicate. "all"/"public"
	// makes every caller eligible.
	Pre []string

	// Check is the predicate.
	Check CheckFunc
}

// Edge defines a named directed relation from this object type.
type Edge struct {
	// View names the view governing this edge. Empty means _default.
	View string

	// Targets lists allowed destination object types. Empty means any.
	Targets []string
}

// DeepDeletion directs the cascade traversal to a search index: delete
// every object in Index whose Property equals the deleted object's id.
type DeepDeletion struct {
	Index    string
	Property string
}

// Type is the full definition of one object type.
type Type struct {
	// Name is the object type name (e.g. "space").
	Name string

	// Code is the 2-character id suffix for this type.
	Code string

	Fields   map[string]*Field
	Views    map[string]View
	Virtuals map[string]*Virtual
	Edges    map[string]*Edge

	// DeletedBy lists roles allowed to delete; back-filled into every
	// view's DELETE list that leaves it unspecified.
	DeletedBy []string

	// DeepDeletedFields lists objectid fields whose referents are
	// deleted when this object is deleted.
	DeepDeletedFields []string

	// DeepDeletedEdges lists edges whose destinations are deleted when
	// this object is deleted.
	DeepDeletedEdges []string

	// DeepDeletion lists search-index cascade rules.
	DeepDeletion []DeepDeletion

	// counterPaths is the flattened list of counter field dot-paths,
	// back-filled by Registry.Init.
	counterPaths []string
}

// View resolves a view by name, falling back to _default.
func (t *Type) View(name string) View {
	if name != "" {
		if v, ok := t.Views[name]; ok {
			return v
		}
	}
	return t.Views[DefaultView]
}

// FieldView resolves the view governing the named field.
func (t *Type) FieldView(field string) View {
	if f, ok := t.Fields[field]; ok && f.View != "" {
		return t.View(f.View)
	}
	return t.Views[DefaultView]
}

// CounterPaths returns the flattened counter field dot-paths. Only valid
// after Registry.Init.
func (t *Type) CounterPaths() []string {
	return t.counterPaths
}

// IsCounterPath reports whether path addresses a counter field.
func (t *Type) IsCounterPath(path string) bool {
	for _, p := range t.counterPaths {
		if p == path {
			return true
		}
	}
	return false
}

// FieldAt resolves a dot-path to its field definition, descending into
// struct sub-fields. Returns nil if the path does not exist.
func (t *Type) FieldAt(path string) *Field {
	fields := t.Fields
	var f *Field
	for path != "" {
		name := path
		if i := strings.IndexByte(path, '.'); i >= 0 {
			name, path = path[:i], path[i+1:]
		} else {
			path = ""
		}
		if fields == nil {
			return nil
		}
		f = fields[name]
		if f == nil {
			return nil
		}
		fields = f.Fields
	}
	return f
}
