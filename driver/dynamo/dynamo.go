// Package dynamo implements the storage driver contract on DynamoDB:
// an objects table keyed by id, a hash-distributed unique-constraint
// table, and an edge table with a reverse GSI.
package dynamo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/ident"
	"github.com/jacentio/lattice/internal/shard"
	"github.com/jacentio/lattice/schema"
	"github.com/jacentio/lattice/store"
)

// Config holds table names for the DynamoDB backend.
type Config struct {
	// ObjectTable stores objects keyed by id.
	// Default: "lattice_objects"
	ObjectTable string

	// UniqueTable stores unique value reservations.
	// Default: "lattice_uniques"
	UniqueTable string

	// EdgeTable stores edges keyed by "src#edge" with a sequence sk.
	// Default: "lattice_edges"
	EdgeTable string

	// ReverseIndex is the GSI on EdgeTable keyed by "dst#edge".
	// Default: "reverse_edges"
	ReverseIndex string

	// ScanLimit bounds items per QueryObjects page.
	// Default: 100
	ScanLimit int32
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ObjectTable:  "lattice_objects",
		UniqueTable:  "lattice_uniques",
		EdgeTable:    "lattice_edges",
		ReverseIndex: "reverse_edges",
		ScanLimit:    100,
	}
}

func (c *Config) validate() {
	if c.ObjectTable == "" {
		c.ObjectTable = "lattice_objects"
	}
	if c.UniqueTable == "" {
		c.UniqueTable = "lattice_uniques"
	}
	if c.EdgeTable == "" {
		c.EdgeTable = "lattice_edges"
	}
	if c.ReverseIndex == "" {
		c.ReverseIndex = "reverse_edges"
	}
	if c.ScanLimit < 1 {
		c.ScanLimit = 100
	}
}

// Driver implements store.Driver on DynamoDB.
type Driver struct {
	client   *dynamodb.Client
	config   Config
	registry *schema.Registry

	// seq breaks ties between edges created in the same nanosecond.
	seq atomic.Int64
}

// New creates a Driver.
func New(client *dynamodb.Client, config Config, registry *schema.Registry) *Driver {
	config.validate()
	return &Driver{client: client, config: config, registry: registry}
}

// Init is a no-op; tables are provisioned out of band.
func (d *Driver) Init(ctx context.Context) error {
	return nil
}

// CreateObject stores a new object, assigning its id from the type's
// code. The conditional put makes accidental id collisions fail loudly
// instead of overwriting.
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

	item, err := attributevalue.MarshalMap(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal object: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.config.ObjectTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetObject fetches an object by id, treating soft-deleted objects as
// missing.
func (d *Driver) GetObject(ctx context.Context, id string) (store.Object, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.config.ObjectTable),
		Key:       objectKey(id),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
	}

	obj := make(store.Object)
	if err := attributevalue.UnmarshalMap(result.Item, &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	if deleted, ok := obj[schema.FieldDeletedAt]; ok && deleted != nil {
		return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
	}
	return obj, nil
}

// UpdateObject merges partial into the stored object.
func (d *Driver) UpdateObject(ctx context.Context, id string, partial store.Object) (store.Object, error) {
	setClauses := make([]string, 0, len(partial))
	exprNames := make(map[string]string, len(partial))
	exprValues := make(map[string]types.AttributeValue, len(partial))

	i := 0
	for k, v := range partial {
		if k == schema.FieldID || k == schema.FieldObjectType || k == schema.FieldCreatedAt {
			continue
		}
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		exprNames[nameKey] = k
		exprValues[valueKey] = av
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		i++
	}
	if len(setClauses) == 0 {
		return d.GetObject(ctx, id)
	}

	updateExpr := "SET " + setClauses[0]
	for _, c := range setClauses[1:] {
		updateExpr += ", " + c
	}

	result, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.config.ObjectTable),
		Key:                       objectKey(id),
		UpdateExpression:          aws.String(updateExpr),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
		}
		return nil, err
	}

	obj := make(store.Object)
	if err := attributevalue.UnmarshalMap(result.Attributes, &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

// ReplaceObject overwrites the stored document.
func (d *Driver) ReplaceObject(ctx context.Context, id string, obj store.Object) (store.Object, error) {
	item, err := attributevalue.MarshalMap(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal object: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.config.ObjectTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, errs.New(errs.CodeNotFound, "object %q not found", id)
		}
		return nil, err
	}
	return obj, nil
}

// DeleteObject physically removes an object.
func (d *Driver) DeleteObject(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.config.ObjectTable),
		Key:       objectKey(id),
	})
	return err
}

// QueryObjects scans one page of objects of a type, resuming from an
// opaque cursor.
func (d *Driver) QueryObjects(ctx context.Context, objectType string, projection []string, afterCursor string) (*store.Page, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.config.ObjectTable),
		FilterExpression: aws.String("#object_type = :object_type AND attribute_not_exists(#deleted_at)"),
		ExpressionAttributeNames: map[string]string{
			"#object_type": schema.FieldObjectType,
			"#deleted_at":  schema.FieldDeletedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":object_type": &types.AttributeValueMemberS{Value: objectType},
		},
		Limit: aws.Int32(d.config.ScanLimit),
	}

	if len(projection) > 0 {
		expr := ""
		for i, field := range projection {
			nameKey := fmt.Sprintf("#proj%d", i)
			input.ExpressionAttributeNames[nameKey] = field
			if i > 0 {
				expr += ", "
			}
			expr += nameKey
		}
		input.ProjectionExpression = aws.String(expr)
	}

	if afterCursor != "" {
		startKey, err := decodeCursor(afterCursor)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = startKey
	}

	result, err := d.client.Scan(ctx, input)
	if err != nil {
		return nil, err
	}

	page := &store.Page{}
	for _, raw := range result.Items {
		obj := make(store.Object)
		if err := attributevalue.UnmarshalMap(raw, &obj); err != nil {
			return nil, fmt.Errorf("unmarshal object: %w", err)
		}
		page.Results = append(page.Results, obj)
	}
	if len(result.LastEvaluatedKey) > 0 {
		cursor, err := encodeCursor(result.LastEvaluatedKey)
		if err != nil {
			return nil, err
		}
		page.NextCursor = cursor
	}
	return page, nil
}

// AddUnique reserves (objectType, field, value) with a conditional put.
func (d *Driver) AddUnique(ctx context.Context, objectType, field, value string) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.config.UniqueTable),
		Item: map[string]types.AttributeValue{
			"pk":          &types.AttributeValueMemberS{Value: shard.UniquePK(objectType, field, value)},
			"sk":          &types.AttributeValueMemberS{Value: "CONSTRAINT"},
			"object_type": &types.AttributeValueMemberS{Value: objectType},
			"field_name":  &types.AttributeValueMemberS{Value: field},
			"field_value": &types.AttributeValueMemberS{Value: value},
		},
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return errs.New(errs.CodeUniqueField, "value for %q.%q is already reserved", objectType, field)
		}
		return err
	}
	return nil
}

// RemoveUnique releases a reservation.
func (d *Driver) RemoveUnique(ctx context.Context, objectType, field, value string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.config.UniqueTable),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: shard.UniquePK(objectType, field, value)},
			"sk": &types.AttributeValueMemberS{Value: "CONSTRAINT"},
		},
	})
	return err
}

// CheckUnique reports whether (objectType, field, value) is free.
func (d *Driver) CheckUnique(ctx context.Context, objectType, field, value string) (bool, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.config.UniqueTable),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: shard.UniquePK(objectType, field, value)},
			"sk": &types.AttributeValueMemberS{Value: "CONSTRAINT"},
		},
	})
	if err != nil {
		return false, err
	}
	return result.Item == nil, nil
}

// CreateEdge appends an edge with a monotonic sequence sort key, so
// forward and reverse listings come back in insertion order.
func (d *Driver) CreateEdge(ctx context.Context, src, edge, dst string) error {
	seq := time.Now().UnixMicro()*1000 + d.seq.Add(1)%1000

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.config.EdgeTable),
		Item: map[string]types.AttributeValue{
			"pk":     &types.AttributeValueMemberS{Value: shard.EdgePK(src, edge)},
			"sk":     &types.AttributeValueMemberN{Value: strconv.FormatInt(seq, 10)},
			"pk_rev": &types.AttributeValueMemberS{Value: shard.ReverseEdgePK(dst, edge)},
			"src":    &types.AttributeValueMemberS{Value: src},
			"edge":   &types.AttributeValueMemberS{Value: edge},
			"dst":    &types.AttributeValueMemberS{Value: dst},
		},
	})
	return err
}

// DeleteEdge removes every record for (src, edge, dst).
func (d *Driver) DeleteEdge(ctx context.Context, src, edge, dst string) error {
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.config.EdgeTable),
		KeyConditionExpression: aws.String("pk = :pk"),
		FilterExpression:       aws.String("dst = :dst"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: shard.EdgePK(src, edge)},
			":dst": &types.AttributeValueMemberS{Value: dst},
		},
	})

	found := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			found = true
			_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(d.config.EdgeTable),
				Key: map[string]types.AttributeValue{
					"pk": item["pk"],
					"sk": item["sk"],
				},
			})
			if err != nil {
				return err
			}
		}
	}
	if !found {
		return errs.New(errs.CodeEdgeNotFound, "edge %s/%s/%s not found", src, edge, dst)
	}
	return nil
}

// GetEdges returns destination ids for (src, edge) in insertion order.
func (d *Driver) GetEdges(ctx context.Context, src, edge string) ([]string, error) {
	return d.listEdges(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.config.EdgeTable),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: shard.EdgePK(src, edge)},
		},
	}, "dst")
}

// GetReverseEdges returns source ids for (dst, edge) in insertion order.
func (d *Driver) GetReverseEdges(ctx context.Context, dst, edge string) ([]string, error) {
	return d.listEdges(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.config.EdgeTable),
		IndexName:              aws.String(d.config.ReverseIndex),
		KeyConditionExpression: aws.String("pk_rev = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: shard.ReverseEdgePK(dst, edge)},
		},
	}, "src")
}

func (d *Driver) listEdges(ctx context.Context, input *dynamodb.QueryInput, attr string) ([]string, error) {
	var ids []string
	paginator := dynamodb.NewQueryPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if v, ok := item[attr].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
	}
	return ids, nil
}

func objectKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		schema.FieldID: &types.AttributeValueMemberS{Value: id},
	}
}

func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	plain := make(map[string]string, len(key))
	for k, v := range key {
		switch av := v.(type) {
		case *types.AttributeValueMemberS:
			plain[k] = "S:" + av.Value
		case *types.AttributeValueMemberN:
			plain[k] = "N:" + av.Value
		}
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeBadDataType, "malformed query cursor")
	}
	plain := make(map[string]string)
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, errs.Wrap(err, errs.CodeBadDataType, "malformed query cursor")
	}
	key := make(map[string]types.AttributeValue, len(plain))
	for k, v := range plain {
		if len(v) < 2 {
			continue
		}
		switch v[:2] {
		case "S:":
			key[k] = &types.AttributeValueMemberS{Value: v[2:]}
		case "N:":
			key[k] = &types.AttributeValueMemberN{Value: v[2:]}
		}
	}
	return key, nil
}

var _ store.Driver = (*Driver)(nil)
