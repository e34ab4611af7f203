package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/driver/memory"
	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/ident"
	"github.com/jacentio/lattice/schema"
	"github.com/jacentio/lattice/store"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry()
	r.Register(&schema.Type{
		Name: "post",
		Code: "po",
		Fields: map[string]*schema.Field{
			"title": {Type: schema.TypeString, Required: true},
			"slug":  {Type: schema.TypeString, Unique: true},
			"status": {
				Type:   schema.TypeValueSet,
				Values: []any{"draft", "live"},
				Default: func(object map[string]any, author *schema.Author) any {
					return "draft"
				},
			},
			"author": {
				Type:     schema.TypeObjectID,
				RefTypes: []string{"user"},
				Default: func(object map[string]any, author *schema.Author) any {
					if author == nil {
						return nil
					}
					return author.ID
				},
			},
			"tags":  {Type: schema.TypeString, Array: true},
			"score": {Type: schema.TypeCounter},
			"stats": {
				Type: schema.TypeStruct,
				Fields: map[string]*schema.Field{
					"views": {Type: schema.TypeCounter},
					"likes": {Type: schema.TypeCounter},
				},
			},
		},
		Views: map[string]schema.View{
			schema.DefaultView: {schema.MethodGet: {schema.RolePublic}},
		},
		Edges: map[string]*schema.Edge{
			"comments": {Targets: []string{"comment"}},
		},
	})
	r.Register(&schema.Type{
		Name:   "user",
		Code:   "us",
		Fields: map[string]*schema.Field{"name": {Type: schema.TypeString}},
		Views: map[string]schema.View{
			schema.DefaultView: {schema.MethodGet: {schema.RolePublic}},
		},
	})
	r.Register(&schema.Type{
		Name:   "comment",
		Code:   "cm",
		Fields: map[string]*schema.Field{"text": {Type: schema.TypeString}},
		Views: map[string]schema.View{
			schema.DefaultView: {schema.MethodGet: {schema.RolePublic}},
		},
	})
	if err := r.Init(); err != nil {
		t.Fatalf("registry init: %v", err)
	}
	return r
}

type world struct {
	store  *store.Store
	driver *memory.Driver
	cache  *cache.Memory
	events []store.ChangeEvent
}

func newWorld(t *testing.T) *world {
	t.Helper()
	registry := testRegistry(t)
	w := &world{
		driver: memory.New(registry),
		cache:  cache.NewMemory(),
	}
	w.store = store.New(store.Options{
		Driver:   w.driver,
		Registry: registry,
		Cache:    w.cache,
		Config:   store.DefaultConfig(),
	})
	w.store.Events().SubscribeAll(func(ctx context.Context, ev store.ChangeEvent) error {
		w.events = append(w.events, ev)
		return nil
	})
	return w
}

var author = &schema.Author{ID: "00000000000000000000000000000042-us"}

func (w *world) mustCreate(t *testing.T, payload store.Object) store.Object {
	t.Helper()
	obj, err := w.store.CreateObject(context.Background(), "post", payload, author)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return obj
}

func TestCreateObject(t *testing.T) {
	w := newWorld(t)
	obj := w.mustCreate(t, store.Object{"title": "hello", "slug": "hello"})

	id, _ := obj["id"].(string)
	if err := ident.Validate(id); err != nil {
		t.Fatalf("expected valid id, got %q", id)
	}
	if !strings.HasSuffix(id, "-po") {
		t.Errorf("expected id with '-po' code, got %q", id)
	}
	if obj["object_type"] != "post" {
		t.Errorf("expected object_type 'post', got %v", obj["object_type"])
	}
	if obj["created_at"] == nil || obj["updated_at"] == nil {
		t.Error("expected timestamps to be set")
	}

	// Defaults fill absent fields only.
	if obj["status"] != "draft" {
		t.Errorf("expected default status 'draft', got %v", obj["status"])
	}
	if obj["author"] != author.ID {
		t.Errorf("expected author default %q, got %v", author.ID, obj["author"])
	}

	if len(w.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(w.events))
	}
	ev := w.events[0]
	if ev.Method != schema.MethodPost || ev.Kind != store.KindObject || ev.Path != "post" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Previous != nil {
		t.Error("expected nil previous on create")
	}
}

func TestCreateObject_SuppliedValueBeatsDefault(t *testing.T) {
	w := newWorld(t)
	obj := w.mustCreate(t, store.Object{"title": "t", "status": "live"})
	if obj["status"] != "live" {
		t.Errorf("expected supplied status to survive, got %v", obj["status"])
	}
}

func TestCreateObject_DefaultFillOrder(t *testing.T) {
	r := schema.NewRegistry()
	r.Register(&schema.Type{
		Name: "doc",
		Code: "dc",
		Fields: map[string]*schema.Field{
			"alpha": {Type: schema.TypeString, Default: func(object map[string]any, author *schema.Author) any {
				return "a"
			}},
			"omega": {Type: schema.TypeString, Default: func(object map[string]any, author *schema.Author) any {
				v, _ := object["alpha"].(string)
				return v + "z"
			}},
		},
		Views: map[string]schema.View{
			schema.DefaultView: {schema.MethodGet: {schema.RolePublic}},
		},
	})
	if err := r.Init(); err != nil {
		t.Fatalf("registry init: %v", err)
	}
	s := store.New(store.Options{Driver: memory.New(r), Registry: r, Cache: cache.NewMemory()})

	// Defaults fill in field-name order, so omega sees alpha's value.
	obj, err := s.CreateObject(context.Background(), "doc", store.Object{}, author)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if obj["omega"] != "az" {
		t.Errorf("expected omega 'az', got %v", obj["omega"])
	}
}

func TestCreateObject_Validation(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload store.Object
		code    string
	}{
		{"missing required", store.Object{"slug": "x"}, errs.CodeRequiredField},
		{"unknown field", store.Object{"title": "t", "color": "red"}, errs.CodeUnknownField},
		{"bad type", store.Object{"title": 7}, errs.CodeBadDataType},
		{"bad valueset", store.Object{"title": "t", "status": "archived"}, errs.CodeBadDataType},
		{"bad ref type", store.Object{"title": "t", "author": "00000000000000000000000000000001-po"}, errs.CodeRefNotAllowed},
		{"bad array elem", store.Object{"title": "t", "tags": []any{"ok", 3}}, errs.CodeBadDataType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.store.CreateObject(ctx, "post", tt.payload, author)
			if !errs.Is(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}

	if _, err := w.store.CreateObject(ctx, "widget", store.Object{}, author); !errs.Is(err, errs.CodeUnknownType) {
		t.Errorf("expected unknown_object_type, got %v", err)
	}
}

func TestCreateObject_UniqueConflict(t *testing.T) {
	w := newWorld(t)
	w.mustCreate(t, store.Object{"title": "a", "slug": "taken"})

	_, err := w.store.CreateObject(context.Background(), "post", store.Object{"title": "b", "slug": "taken"}, author)
	if !errors.Is(err, store.ErrUniqueConflict) {
		t.Fatalf("expected ErrUniqueConflict, got %v", err)
	}
	if len(w.events) != 1 {
		t.Errorf("expected no event for the failed create, got %d events", len(w.events))
	}
}

func TestUpdateObject(t *testing.T) {
	w := newWorld(t)
	obj := w.mustCreate(t, store.Object{"title": "before", "slug": "s"})
	id := obj["id"].(string)

	updated, err := w.store.UpdateObject(context.Background(), id, store.Object{"title": "after"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["title"] != "after" {
		t.Errorf("expected 'after', got %v", updated["title"])
	}
	if updated["slug"] != "s" {
		t.Errorf("expected untouched fields to survive the merge, got %v", updated["slug"])
	}

	if len(w.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(w.events))
	}
	ev := w.events[1]
	if ev.Method != schema.MethodPatch {
		t.Errorf("expected PATCH event, got %q", ev.Method)
	}
	if ev.Previous["title"] != "before" || ev.Current["title"] != "after" {
		t.Errorf("expected both snapshots, got prev=%v curr=%v", ev.Previous["title"], ev.Current["title"])
	}
}

func TestUpdateObject_FixedField(t *testing.T) {
	w := newWorld(t)
	obj := w.mustCreate(t, store.Object{"title": "t"})

	_, err := w.store.UpdateObject(context.Background(), obj["id"].(string), store.Object{"created_at": "2020-01-01T00:00:00Z"})
	if !errs.Is(err, errs.CodeFieldUneditable) {
		t.Errorf("expected field_uneditable, got %v", err)
	}
}

func TestUpdateObject_PartialSkipsRequired(t *testing.T) {
	w := newWorld(t)
	obj := w.mustCreate(t, store.Object{"title": "t"})

	// A PATCH without the required title is fine.
	if _, err := w.store.UpdateObject(context.Background(), obj["id"].(string), store.Object{"status": "live"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUpdateObject_UniqueTransition(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	obj := w.mustCreate(t, store.Object{"title": "t", "slug": "old"})
	id := obj["id"].(string)

	if _, err := w.store.UpdateObject(ctx, id, store.Object{"slug": "new"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// The old value is released and reusable.
	if _, err := w.store.CreateObject(ctx, "post", store.Object{"title": "x", "slug": "old"}, author); err != nil {
		t.Errorf("expected released slug to be reusable, got %v", err)
	}
	// The new value is reserved.
	if _, err := w.store.CreateObject(ctx, "post", store.Object{"title": "y", "slug": "new"}, author); !errs.Is(err, errs.CodeUniqueField) {
		t.Errorf("expected new slug to be reserved, got %v", err)
	}
}

func TestUpdateObject_NullReleasesUnique(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	obj := w.mustCreate(t, store.Object{"title": "t", "slug": "taken"})

	if _, err := w.store.UpdateObject(ctx, obj["id"].(string), store.Object{"slug": nil}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Clearing the field releases its reservation.
	if _, err := w.store.CreateObject(ctx, "post", store.Object{"title": "x", "slug": "taken"}, author); err != nil {
		t.Errorf("expected cleared slug to be reusable, got %v", err)
	}
}

func TestReplaceObject(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	obj := w.mustCreate(t, store.Object{"title": "t", "slug": "keep", "status": "live"})
	id := obj["id"].(string)

	replaced, err := w.store.ReplaceObject(ctx, id, store.Object{"title": "replaced"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if replaced["title"] != "replaced" {
		t.Errorf("expected 'replaced', got %v", replaced["title"])
	}
	if _, kept := replaced["status"]; kept {
		t.Error("expected full-document semantics to drop absent fields")
	}
	if replaced["id"] != id || replaced["object_type"] != "post" {
		t.Error("expected id and type to be preserved")
	}
	if replaced["created_at"] != obj["created_at"] {
		t.Error("expected creation time to be preserved")
	}

	// The dropped unique slug is released.
	if _, err := w.store.CreateObject(ctx, "post", store.Object{"title": "x", "slug": "keep"}, author); err != nil {
		t.Errorf("expected dropped slug to be reusable, got %v", err)
	}
}

func TestDeleteObject(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	obj := w.mustCreate(t, store.Object{"title": "t", "slug": "gone"})
	id := obj["id"].(string)

	deleted, err := w.store.DeleteObject(ctx, id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted["deleted_at"] == nil {
		t.Error("expected deleted_at to be set")
	}

	// Soft delete: reads miss, uniques release.
	if _, err := w.store.GetObject(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := w.store.CreateObject(ctx, "post", store.Object{"title": "x", "slug": "gone"}, author); err != nil {
		t.Errorf("expected released slug to be reusable, got %v", err)
	}

	ev := w.events[1]
	if ev.Method != schema.MethodDelete || ev.Kind != store.KindObject {
		t.Errorf("expected object DELETE event, got %+v", ev)
	}
	if ev.Previous == nil || ev.Current["deleted_at"] == nil {
		t.Error("expected both snapshots on the DELETE event")
	}
}

func TestGetObject_InvalidID(t *testing.T) {
	w := newWorld(t)
	if _, err := w.store.GetObject(context.Background(), "nope"); !errs.Is(err, errs.CodeInvalidID) {
		t.Errorf("expected invalid_object_id, got %v", err)
	}
	if _, err := w.store.GetObject(context.Background(), "00000000000000000000000000000001-zz"); !errs.Is(err, errs.CodeUnknownType) {
		t.Errorf("expected unknown_object_type, got %v", err)
	}
}

func TestQueryObjects(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.mustCreate(t, store.Object{"title": "a"})
	w.mustCreate(t, store.Object{"title": "b"})

	page, err := w.store.QueryObjects(ctx, "post", []string{"title"}, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(page.Results))
	}
	for _, obj := range page.Results {
		if _, ok := obj["title"]; !ok {
			t.Errorf("expected projected title, got %v", obj)
		}
		if _, ok := obj["status"]; ok {
			t.Errorf("expected projection to drop status, got %v", obj)
		}
	}
}

func TestApplyCounterDeltas(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	obj := w.mustCreate(t, store.Object{"title": "t", "score": 10})
	id := obj["id"].(string)

	updated, err := w.store.ApplyCounterDeltas(ctx, id, map[string]int64{
		"score":       5,
		"stats.views": 1,
	})
	if err != nil {
		t.Fatalf("deltas: %v", err)
	}
	if got := updated["score"]; got != int64(15) {
		t.Errorf("expected score 15, got %v", got)
	}
	stats, _ := updated["stats"].(map[string]any)
	if stats == nil || stats["views"] != int64(1) {
		t.Errorf("expected stats.views 1, got %v", updated["stats"])
	}

	// A second nested delta keeps sibling counters intact.
	updated, err = w.store.ApplyCounterDeltas(ctx, id, map[string]int64{"stats.likes": 3})
	if err != nil {
		t.Fatalf("deltas: %v", err)
	}
	stats = updated["stats"].(map[string]any)
	if stats["views"] != int64(1) || stats["likes"] != int64(3) {
		t.Errorf("expected views 1 likes 3, got %v", stats)
	}
}

func TestApplyCounterDeltas_NegativeAndUnknown(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	obj := w.mustCreate(t, store.Object{"title": "t", "score": 2})
	id := obj["id"].(string)

	updated, err := w.store.ApplyCounterDeltas(ctx, id, map[string]int64{"score": -5})
	if err != nil {
		t.Fatalf("deltas: %v", err)
	}
	if updated["score"] != int64(-3) {
		t.Errorf("expected -3, got %v", updated["score"])
	}

	if _, err := w.store.ApplyCounterDeltas(ctx, id, map[string]int64{"title": 1}); !errs.Is(err, errs.CodeUnknownField) {
		t.Errorf("expected validation_unknown_field for non-counter path, got %v", err)
	}
}

func TestSetCounter(t *testing.T) {
	w := newWorld(t)
	obj := w.mustCreate(t, store.Object{"title": "t", "score": 9})

	updated, err := w.store.SetCounter(context.Background(), obj["id"].(string), "score", 100)
	if err != nil {
		t.Fatalf("set counter: %v", err)
	}
	if updated["score"] != int64(100) {
		t.Errorf("expected 100, got %v", updated["score"])
	}
}

func TestEdges(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	post := w.mustCreate(t, store.Object{"title": "t"})
	postID := post["id"].(string)

	c1, _ := w.store.CreateObject(ctx, "comment", store.Object{"text": "one"}, author)
	c2, _ := w.store.CreateObject(ctx, "comment", store.Object{"text": "two"}, author)

	if err := w.store.CreateEdge(ctx, postID, "comments", c1["id"].(string)); err != nil {
		t.Fatalf("create edge: %v", err)
	}
	if err := w.store.CreateEdge(ctx, postID, "comments", c2["id"].(string)); err != nil {
		t.Fatalf("create edge: %v", err)
	}

	dsts, err := w.store.GetEdges(ctx, postID, "comments")
	if err != nil {
		t.Fatalf("get edges: %v", err)
	}
	if len(dsts) != 2 || dsts[0] != c1["id"] || dsts[1] != c2["id"] {
		t.Errorf("expected insertion order [c1 c2], got %v", dsts)
	}

	srcs, err := w.store.GetReverseEdges(ctx, c1["id"].(string), "comments")
	if err != nil {
		t.Fatalf("get reverse edges: %v", err)
	}
	if len(srcs) != 1 || srcs[0] != postID {
		t.Errorf("expected reverse edge to post, got %v", srcs)
	}

	if err := w.store.DeleteEdge(ctx, postID, "comments", c1["id"].(string)); err != nil {
		t.Fatalf("delete edge: %v", err)
	}
	dsts, _ = w.store.GetEdges(ctx, postID, "comments")
	if len(dsts) != 1 || dsts[0] != c2["id"] {
		t.Errorf("expected [c2] after delete, got %v", dsts)
	}
}

func TestEdges_Events(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	post := w.mustCreate(t, store.Object{"title": "t"})
	c1, _ := w.store.CreateObject(ctx, "comment", store.Object{"text": "one"}, author)
	w.events = nil

	if err := w.store.CreateEdge(ctx, post["id"].(string), "comments", c1["id"].(string)); err != nil {
		t.Fatalf("create edge: %v", err)
	}
	if len(w.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(w.events))
	}
	ev := w.events[0]
	if ev.Kind != store.KindEdge || ev.Method != schema.MethodPost || ev.Path != "post/comments" {
		t.Errorf("unexpected edge event %+v", ev)
	}
	if ev.Current["dst"] != c1["id"] {
		t.Errorf("expected edge snapshot, got %v", ev.Current)
	}
}

func TestEdges_Rules(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	post := w.mustCreate(t, store.Object{"title": "t"})
	postID := post["id"].(string)
	user, _ := w.store.CreateObject(ctx, "user", store.Object{"name": "ada"}, author)

	// comments may only target comment objects.
	err := w.store.CreateEdge(ctx, postID, "comments", user["id"].(string))
	if !errs.Is(err, errs.CodeRefNotAllowed) {
		t.Errorf("expected reference_type_not_allowed, got %v", err)
	}

	err = w.store.CreateEdge(ctx, postID, "likes", user["id"].(string))
	if !errs.Is(err, errs.CodeUnknownEdge) {
		t.Errorf("expected unknown_edge, got %v", err)
	}

	// The destination must exist.
	err = w.store.CreateEdge(ctx, postID, "comments", "00000000000000000000000000000099-cm")
	if !errs.Is(err, errs.CodeNotFound) {
		t.Errorf("expected object_not_found, got %v", err)
	}
}

func TestGetEdges_CacheIndex(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	post := w.mustCreate(t, store.Object{"title": "t"})
	postID := post["id"].(string)
	c1, _ := w.store.CreateObject(ctx, "comment", store.Object{"text": "one"}, author)

	if err := w.store.CreateEdge(ctx, postID, "comments", c1["id"].(string)); err != nil {
		t.Fatalf("create edge: %v", err)
	}
	if _, err := w.store.GetEdges(ctx, postID, "comments"); err != nil {
		t.Fatalf("get edges: %v", err)
	}

	// The read populated the cache's list index in edge order.
	cached, err := w.cache.LRange(ctx, "edges_"+postID+"_comments", 0, -1)
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(cached) != 1 || cached[0] != c1["id"] {
		t.Errorf("expected cached edge list, got %v", cached)
	}

	// A mutation invalidates it.
	if err := w.store.DeleteEdge(ctx, postID, "comments", c1["id"].(string)); err != nil {
		t.Fatalf("delete edge: %v", err)
	}
	cached, _ = w.cache.LRange(ctx, "edges_"+postID+"_comments", 0, -1)
	if len(cached) != 0 {
		t.Errorf("expected invalidated cache, got %v", cached)
	}
}
