package store

import (
	"time"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/ident"
	"github.com/jacentio/lattice/schema"
)

// validateObject dry-checks a payload against its type definition. With
// partial=true, required-ness is not enforced at the top level (PATCH
// semantics); supplied values are always checked fully.
func (s *Store) validateObject(t *schema.Type, obj Object, partial bool) error {
	if !partial {
		for name, f := range t.Fields {
			if !f.Required {
				continue
			}
			if v, ok := obj[name]; !ok || v == nil {
				return errs.New(errs.CodeRequiredField, "required field %q is missing", name)
			}
		}
	}

	for name, v := range obj {
		if schema.IsFixedField(name) {
			continue
		}
		f, ok := t.Fields[name]
		if !ok {
			return errs.New(errs.CodeUnknownField, "field %q is not defined on type %q", name, t.Name)
		}
		if v == nil {
			continue
		}
		if err := s.validateValue(name, f, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) validateValue(name string, f *schema.Field, v any) error {
	if f.Array {
		arr, ok := v.([]any)
		if !ok {
			return errs.New(errs.CodeBadDataType, "field %q must be an array", name)
		}
		elem := *f
		elem.Array = false
		for _, item := range arr {
			if item == nil {
				continue
			}
			if err := s.validateValue(name, &elem, item); err != nil {
				return err
			}
		}
		return nil
	}

	switch f.Type {
	case schema.TypeString:
		if _, ok := v.(string); !ok {
			return errs.New(errs.CodeBadDataType, "field %q must be a string", name)
		}
	case schema.TypeNumber, schema.TypeCounter:
		if !isNumber(v) {
			return errs.New(errs.CodeBadDataType, "field %q must be a number", name)
		}
	case schema.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return errs.New(errs.CodeBadDataType, "field %q must be a boolean", name)
		}
	case schema.TypeDate:
		switch d := v.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339, d); err != nil {
				return errs.New(errs.CodeBadDataType, "field %q must be an RFC 3339 date", name)
			}
		default:
			return errs.New(errs.CodeBadDataType, "field %q must be a date", name)
		}
	case schema.TypeObjectID:
		id, ok := v.(string)
		if !ok {
			return errs.New(errs.CodeBadDataType, "field %q must be an object id", name)
		}
		code, err := ident.Code(id)
		if err != nil {
			return errs.Wrap(err, errs.CodeInvalidID, "field %q holds an invalid object id", name)
		}
		ref, ok := s.registry.TypeByCode(code)
		if !ok {
			return errs.New(errs.CodeUnknownType, "field %q references unknown type code %q", name, code)
		}
		if len(f.RefTypes) > 0 && !contains(f.RefTypes, ref.Name) {
			return errs.New(errs.CodeRefNotAllowed, "field %q may not reference type %q", name, ref.Name)
		}
	case schema.TypeValueSet:
		for _, allowed := range f.Values {
			if v == allowed {
				return nil
			}
		}
		return errs.New(errs.CodeBadDataType, "field %q value is not in its value set", name)
	case schema.TypeStruct:
		m, ok := v.(map[string]any)
		if !ok {
			return errs.New(errs.CodeBadDataType, "field %q must be a struct", name)
		}
		for sub, sf := range f.Fields {
			if !sf.Required {
				continue
			}
			if sv, ok := m[sub]; !ok || sv == nil {
				return errs.New(errs.CodeRequiredField, "required field %q.%q is missing", name, sub)
			}
		}
		for sub, sv := range m {
			sf, ok := f.Fields[sub]
			if !ok {
				return errs.New(errs.CodeUnknownField, "field %q.%q is not defined", name, sub)
			}
			if sv == nil {
				continue
			}
			if err := s.validateValue(name+"."+sub, sf, sv); err != nil {
				return err
			}
		}
	case schema.TypeJSON:
		// Any value is acceptable.
	default:
		return errs.New(errs.CodeBadDataType, "field %q has unsupported type tag %q", name, f.Type)
	}
	return nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
