// Package stream adapts DynamoDB Streams records into change events, so
// cascading deletion keeps running when mutations arrive through the
// table stream instead of the in-process orchestrator. Deployed as an
// AWS Lambda handler.
package stream

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/schema"
	"github.com/jacentio/lattice/store"
)

// Handler replays DynamoDB stream records through an event dispatcher.
type Handler struct {
	events *store.Dispatcher
	logger *slog.Logger
}

// NewHandler creates a Handler feeding the given dispatcher.
func NewHandler(d *store.Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		events: d,
		logger: logger,
	}
}

// HandleStream processes a batch of DynamoDB stream records. Designed
// to be used as an AWS Lambda handler; a returned error makes Lambda
// retry the batch, eventually landing it in the DLQ.
func (h *Handler) HandleStream(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// processRecord converts one stream record into a change event.
// INSERT becomes POST, a MODIFY that sets deleted_at becomes DELETE,
// any other MODIFY becomes PATCH. REMOVE records are physical expiry of
// already soft-deleted items and carry no new information.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	previous := imageToObject(record.Change.OldImage)
	current := imageToObject(record.Change.NewImage)

	var method schema.Method
	switch record.EventName {
	case "INSERT":
		method = schema.MethodPost
	case "MODIFY":
		method = schema.MethodPatch
		if previous[schema.FieldDeletedAt] == nil && current[schema.FieldDeletedAt] != nil {
			method = schema.MethodDelete
		}
	default:
		return nil
	}

	path, _ := current[schema.FieldObjectType].(string)
	if path == "" {
		path, _ = previous[schema.FieldObjectType].(string)
	}
	if path == "" {
		// Edge and unique reservation records have no object_type.
		return nil
	}

	h.logger.Info("replaying stream record",
		"method", method,
		"path", path,
		"eventID", record.EventID,
	)

	h.events.Dispatch(ctx, store.ChangeEvent{
		Method:   method,
		Kind:     store.KindObject,
		Path:     path,
		Previous: previous,
		Current:  current,
	})
	return nil
}

// imageToObject converts a stream image into a plain object.
func imageToObject(image map[string]events.DynamoDBAttributeValue) store.Object {
	if len(image) == 0 {
		return nil
	}
	obj := make(store.Object, len(image))
	for k, v := range image {
		obj[k] = attrToValue(v)
	}
	return obj
}

// attrToValue converts a stream attribute into the map/slice shapes the
// rest of the system works with. Numbers decode as float64 when they
// carry a fraction, int64 otherwise.
func attrToValue(v events.DynamoDBAttributeValue) any {
	switch v.DataType() {
	case events.DataTypeString:
		return v.String()
	case events.DataTypeNumber:
		if n, err := strconv.ParseInt(v.Number(), 10, 64); err == nil {
			return n
		}
		f, _ := strconv.ParseFloat(v.Number(), 64)
		return f
	case events.DataTypeBoolean:
		return v.Boolean()
	case events.DataTypeList:
		list := v.List()
		arr := make([]any, len(list))
		for i, item := range list {
			arr[i] = attrToValue(item)
		}
		return arr
	case events.DataTypeMap:
		m := make(map[string]any, len(v.Map()))
		for k, item := range v.Map() {
			m[k] = attrToValue(item)
		}
		return m
	case events.DataTypeStringSet:
		set := v.StringSet()
		arr := make([]any, len(set))
		for i, s := range set {
			arr[i] = s
		}
		return arr
	}
	return nil
}
