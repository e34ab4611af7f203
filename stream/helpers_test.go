package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

func TestAttrToValue_String(t *testing.T) {
	v := attrToValue(events.NewStringAttribute("hello"))
	if v != "hello" {
		t.Errorf("expected 'hello', got %v", v)
	}
}

func TestAttrToValue_Integer(t *testing.T) {
	v := attrToValue(events.NewNumberAttribute("42"))
	if n, ok := v.(int64); !ok || n != 42 {
		t.Errorf("expected int64 42, got %T %v", v, v)
	}
}

func TestAttrToValue_Float(t *testing.T) {
	v := attrToValue(events.NewNumberAttribute("3.5"))
	if f, ok := v.(float64); !ok || f != 3.5 {
		t.Errorf("expected float64 3.5, got %T %v", v, v)
	}
}

func TestAttrToValue_Boolean(t *testing.T) {
	v := attrToValue(events.NewBooleanAttribute(true))
	if b, ok := v.(bool); !ok || !b {
		t.Errorf("expected true, got %T %v", v, v)
	}
}

func TestAttrToValue_List(t *testing.T) {
	v := attrToValue(events.NewListAttribute([]events.DynamoDBAttributeValue{
		events.NewStringAttribute("a"),
		events.NewNumberAttribute("1"),
	}))
	arr, ok := v.([]any)
	if !ok {
		t.Fatalf("expected []any, got %T", v)
	}
	if len(arr) != 2 || arr[0] != "a" || arr[1] != int64(1) {
		t.Errorf("unexpected list contents: %v", arr)
	}
}

func TestAttrToValue_Map(t *testing.T) {
	v := attrToValue(events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
		"name": events.NewStringAttribute("inner"),
	}))
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", v)
	}
	if m["name"] != "inner" {
		t.Errorf("expected 'inner', got %v", m["name"])
	}
}

func TestImageToObject_Empty(t *testing.T) {
	if obj := imageToObject(nil); obj != nil {
		t.Errorf("expected nil object for empty image, got %v", obj)
	}
}
