// Package mongo implements the storage driver contract on MongoDB:
// objects, unique reservations, and edges live in three collections,
// with uniqueness enforced by a unique compound index.
package mongo

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/ident"
	"github.com/jacentio/lattice/schema"
	"github.com/jacentio/lattice/store"
)

// Config holds collection names for the MongoDB backend.
type Config struct {
	// ObjectCollection stores objects. Default: "objects"
	ObjectCollection string

	// UniqueCollection stores unique value reservations.
	// Default: "uniques"
	UniqueCollection string

	// EdgeCollection stores edges. Default: "edges"
	EdgeCollection string

	// PageSize bounds items per QueryObjects page. Default: 100
	PageSize int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ObjectCollection: "objects",
		UniqueCollection: "uniques",
		EdgeCollection:   "edges",
		PageSize:         100,
	}
}

func (c *Config) validate() {
	if c.ObjectCollection == "" {
		c.ObjectCollection = "objects"
	}
	if c.UniqueCollection == "" {
		c.UniqueCollection = "uniques"
	}
	if c.EdgeCollection == "" {
		c.EdgeCollection = "edges"
	}
	if c.PageSize < 1 {
		c.PageSize = 100
	}
}

// Driver implements store.Driver on MongoDB.
type Driver struct {
	db       *mongo.Database
	config   Config
	registry *schema.Registry
	seq      atomic.Int64
}

// New creates a Driver over an existing database handle.
func New(db *mongo.Database, config Config, registry *schema.Registry) *Driver {
	config.validate()
	return &Driver{db: db, config: config, registry: registry}
}

func (d *Driver) objects() *mongo.Collection {
	return d.db.Collection(d.config.ObjectCollection)
}

func (d *Driver) uniques() *mongo.Collection {
	return d.db.Collection(d.config.UniqueCollection)
}

func (d *Driver) edges() *mongo.Collection {
	return d.db.Collection(d.config.EdgeCollection)
}

// Init creates the indexes the driver depends on.
func (d *Driver) Init(ctx context.Context) error {
	_, err := d.objects().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "object_type", Value: 1}},
	})
	if err != nil {
		return err
	}

	unique := true
	_, err = d.uniques().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "object_type", Value: 1},
			{Key: "field_name", Value: 1},
			{Key: "field_value", Value: 1},
		},
		Options: &options.IndexOptions{Unique: &unique},
	})
	if err != nil {
		return err
	}

	_, err = d.edges().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "src", Value: 1}, {Key: "edge", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "dst", Value: 1}, {Key: "edge", Value: 1}, {Key: "seq", Value: 1}}},
	})
	return err
}

// CreateObject stores a new object, assigning its id from the type's
// code.
func (d *Driver) CreateObject(ctx context.Context, objectType string, obj store.Object) (store.Object, error) {
	t, ok := d.registry.Type(objectType)
	if !ok {
		return nil, errs.New(errs.CodeUnknownType, "unknown object type %q", objectType)
	}

	stored := make(store.Object, len(obj)+1)
	for k, v := range obj {
		stored[k] = v
	}
	stored[schema.FieldID] = ident.New(t.Code)

	doc := bson.M{"_id": stored[schema.FieldID]}
	for k, v := range stored {
		doc[k] = v
	}
	if _, err := d.objects().InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return stored, nil
}

// GetObject fetches an object by id, treating soft-deleted objects as
// missing. A nil deleted_at filter matches both absent and null.
func (d *Driver) GetObject(ctx context.Context, id string) (store.Object, error) {
	var doc bson.M
	err := d.objects().FindOne(ctx, bson.M{"_id": id, schema.FieldDeletedAt: nil}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return docToObject(doc), nil
}

// UpdateObject merges partial into the stored object.
func (d *Driver) UpdateObject(ctx context.Context, id string, partial store.Object) (store.Object, error) {
	set := bson.M{}
	for k, v := range partial {
		if k == schema.FieldID || k == schema.FieldObjectType || k == schema.FieldCreatedAt {
			continue
		}
		set[k] = v
	}

	after := options.After
	var doc bson.M
	err := d.objects().FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return docToObject(doc), nil
}

// ReplaceObject overwrites the stored document.
func (d *Driver) ReplaceObject(ctx context.Context, id string, obj store.Object) (store.Object, error) {
	doc := bson.M{"_id": id}
	for k, v := range obj {
		doc[k] = v
	}
	result, err := d.objects().ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
	}
	return obj, nil
}

// DeleteObject physically removes an object.
func (d *Driver) DeleteObject(ctx context.Context, id string) error {
	_, err := d.objects().DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// QueryObjects pages objects of a type ordered by id, using the last id
// as the continuation cursor.
func (d *Driver) QueryObjects(ctx context.Context, objectType string, projection []string, afterCursor string) (*store.Page, error) {
	filter := bson.M{
		"object_type":         objectType,
		schema.FieldDeletedAt: nil,
	}
	if afterCursor != "" {
		filter["_id"] = bson.M{"$gt": afterCursor}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(d.config.PageSize)
	if len(projection) > 0 {
		proj := bson.M{}
		for _, field := range projection {
			proj[field] = 1
		}
		opts.SetProjection(proj)
	}

	cur, err := d.objects().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	page := &store.Page{}
	var lastID string
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		if id, ok := doc["_id"].(string); ok {
			lastID = id
		}
		page.Results = append(page.Results, docToObject(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if int64(len(page.Results)) == d.config.PageSize {
		page.NextCursor = lastID
	}
	return page, nil
}

// AddUnique reserves (objectType, field, value); the unique compound
// index turns concurrent reservations into duplicate-key errors.
func (d *Driver) AddUnique(ctx context.Context, objectType, field, value string) error {
	_, err := d.uniques().InsertOne(ctx, bson.M{
		"object_type": objectType,
		"field_name":  field,
		"field_value": value,
	})
	if mongo.IsDuplicateKeyError(err) {
		return errs.New(errs.CodeUniqueField, "value for %q.%q is already reserved", objectType, field)
	}
	return err
}

// RemoveUnique releases a reservation.
func (d *Driver) RemoveUnique(ctx context.Context, objectType, field, value string) error {
	_, err := d.uniques().DeleteOne(ctx, bson.M{
		"object_type": objectType,
		"field_name":  field,
		"field_value": value,
	})
	return err
}

// CheckUnique reports whether (objectType, field, value) is free.
func (d *Driver) CheckUnique(ctx context.Context, objectType, field, value string) (bool, error) {
	n, err := d.uniques().CountDocuments(ctx, bson.M{
		"object_type": objectType,
		"field_name":  field,
		"field_value": value,
	})
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// CreateEdge appends an edge with a monotonic sequence for ordering.
func (d *Driver) CreateEdge(ctx context.Context, src, edge, dst string) error {
	seq := time.Now().UnixMicro()*1000 + d.seq.Add(1)%1000
	_, err := d.edges().InsertOne(ctx, bson.M{
		"src":  src,
		"edge": edge,
		"dst":  dst,
		"seq":  seq,
	})
	return err
}

// DeleteEdge removes every record for (src, edge, dst).
func (d *Driver) DeleteEdge(ctx context.Context, src, edge, dst string) error {
	result, err := d.edges().DeleteMany(ctx, bson.M{"src": src, "edge": edge, "dst": dst})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return errs.New(errs.CodeEdgeNotFound, "edge %s/%s/%s not found", src, edge, dst)
	}
	return nil
}

// GetEdges returns destination ids for (src, edge) in insertion order.
func (d *Driver) GetEdges(ctx context.Context, src, edge string) ([]string, error) {
	return d.listEdges(ctx, bson.M{"src": src, "edge": edge}, "dst")
}

// GetReverseEdges returns source ids for (dst, edge) in insertion
// order.
func (d *Driver) GetReverseEdges(ctx context.Context, dst, edge string) ([]string, error) {
	return d.listEdges(ctx, bson.M{"dst": dst, "edge": edge}, "src")
}

func (d *Driver) listEdges(ctx context.Context, filter bson.M, attr string) ([]string, error) {
	cur, err := d.edges().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		if id, ok := doc[attr].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, cur.Err()
}

// docToObject strips Mongo internals from a decoded document.
func docToObject(doc bson.M) store.Object {
	obj := make(store.Object, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		obj[k] = normalize(v)
	}
	return obj
}

// normalize converts bson container types to the plain map/slice shapes
// the rest of the system works with.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.A:
		arr := make([]any, len(t))
		for i, val := range t {
			arr[i] = normalize(val)
		}
		return arr
	}
	return v
}

var _ store.Driver = (*Driver)(nil)
