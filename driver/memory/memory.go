// Package memory implements the storage driver contract with in-process
// maps. It backs tests and local development; a single mutex serializes
// every operation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/ident"
	"github.com/jacentio/lattice/schema"
	"github.com/jacentio/lattice/store"
)

// Driver is an in-memory store.Driver.
type Driver struct {
	mu       sync.Mutex
	registry *schema.Registry
	objects  map[string]store.Object
	uniques  map[string]bool
	edges    map[string][]string
	reverse  map[string][]string
	pageSize int
}

// New creates an empty Driver.
func New(registry *schema.Registry) *Driver {
	return &Driver{
		registry: registry,
		objects:  map[string]store.Object{},
		uniques:  map[string]bool{},
		edges:    map[string][]string{},
		reverse:  map[string][]string{},
		pageSize: 100,
	}
}

// Init is a no-op.
func (d *Driver) Init(ctx context.Context) error { return nil }

func (d *Driver) CreateObject(ctx context.Context, objectType string, obj store.Object) (store.Object, error) {
	t, ok := d.registry.Type(objectType)
	if !ok {
		return nil, errs.New(errs.CodeUnknownType, "unknown object type %q", objectType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stored := copyObject(obj)
	stored[schema.FieldID] = ident.New(t.Code)
	d.objects[stored[schema.FieldID].(string)] = stored
	return copyObject(stored), nil
}

func (d *Driver) GetObject(ctx context.Context, id string) (store.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(id)
}

func (d *Driver) get(id string) (store.Object, error) {
	obj, ok := d.objects[id]
	if !ok || obj[schema.FieldDeletedAt] != nil {
		return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
	}
	return copyObject(obj), nil
}

func (d *Driver) UpdateObject(ctx context.Context, id string, partial store.Object) (store.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[id]
	if !ok {
		return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
	}
	for k, v := range partial {
		if k == schema.FieldID || k == schema.FieldObjectType || k == schema.FieldCreatedAt {
			continue
		}
		obj[k] = v
	}
	return copyObject(obj), nil
}

func (d *Driver) ReplaceObject(ctx context.Context, id string, obj store.Object) (store.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[id]; !ok {
		return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
	}
	d.objects[id] = copyObject(obj)
	return copyObject(obj), nil
}

func (d *Driver) DeleteObject(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.objects, id)
	return nil
}

func (d *Driver) QueryObjects(ctx context.Context, objectType string, projection []string, afterCursor string) (*store.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []string
	for id, obj := range d.objects {
		if obj[schema.FieldObjectType] == objectType && obj[schema.FieldDeletedAt] == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if afterCursor != "" {
		n, err := strconv.Atoi(afterCursor)
		if err != nil {
			return nil, errs.New(errs.CodeStorageFailed, "bad cursor %q", afterCursor)
		}
		start = n
	}

	page := &store.Page{}
	end := start + d.pageSize
	if end > len(ids) {
		end = len(ids)
	}
	for _, id := range ids[start:end] {
		obj := d.objects[id]
		if len(projection) > 0 {
			projected := store.Object{}
			for _, field := range projection {
				if v, ok := obj[field]; ok {
					projected[field] = v
				}
			}
			obj = projected
		}
		page.Results = append(page.Results, copyObject(obj))
	}
	if end < len(ids) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func uniqueKey(objectType, field, value string) string {
	return fmt.Sprintf("%s#%s#%s", objectType, field, value)
}

func (d *Driver) AddUnique(ctx context.Context, objectType, field, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := uniqueKey(objectType, field, value)
	if d.uniques[key] {
		return errs.New(errs.CodeUniqueField, "value for %q.%q is already reserved", objectType, field)
	}
	d.uniques[key] = true
	return nil
}

func (d *Driver) RemoveUnique(ctx context.Context, objectType, field, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.uniques, uniqueKey(objectType, field, value))
	return nil
}

func (d *Driver) CheckUnique(ctx context.Context, objectType, field, value string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.uniques[uniqueKey(objectType, field, value)], nil
}

func edgeKey(id, name string) string {
	return id + "#" + name
}

func (d *Driver) CreateEdge(ctx context.Context, src, name, dst string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edges[edgeKey(src, name)] = append(d.edges[edgeKey(src, name)], dst)
	d.reverse[edgeKey(dst, name)] = append(d.reverse[edgeKey(dst, name)], src)
	return nil
}

func (d *Driver) DeleteEdge(ctx context.Context, src, name, dst string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	forward, removed := remove(d.edges[edgeKey(src, name)], dst)
	if !removed {
		return errs.New(errs.CodeEdgeNotFound, "edge %s/%s/%s not found", src, name, dst)
	}
	d.edges[edgeKey(src, name)] = forward
	d.reverse[edgeKey(dst, name)], _ = remove(d.reverse[edgeKey(dst, name)], src)
	return nil
}

func (d *Driver) GetEdges(ctx context.Context, src, name string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.edges[edgeKey(src, name)]...), nil
}

func (d *Driver) GetReverseEdges(ctx context.Context, dst, name string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.reverse[edgeKey(dst, name)]...), nil
}

func remove(ids []string, id string) ([]string, bool) {
	removed := false
	out := ids[:0]
	for _, v := range ids {
		if v == id {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out, removed
}

func copyObject(obj store.Object) store.Object {
	out := make(store.Object, len(obj))
	for k, v := range obj {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyObject(t)
	case []any:
		arr := make([]any, len(t))
		for i, item := range t {
			arr[i] = copyValue(item)
		}
		return arr
	}
	return v
}

var _ store.Driver = (*Driver)(nil)
