package field

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScalarType identifies the value domain of a Scalar descriptor.
type ScalarType int

const (
	TypeString ScalarType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeDateTime
	TypeObjectID
	TypeGeoPoint
)

// String returns a human-readable type name.
func (t ScalarType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeDateTime:
		return "datetime"
	case TypeObjectID:
		return "objectid"
	case TypeGeoPoint:
		return "geopoint"
	default:
		return "unknown"
	}
}

// Scalar is a leaf descriptor holding a single typed value.
//
// A non-empty Choices slice turns the field into an enum: values must be one
// of the choices (after unwrapping EnumValuer), validated on both write and
// query preparation.
type Scalar struct {
	Base
	Type    ScalarType
	Choices []any
}

// NewScalar builds a scalar descriptor with a logical name and type.
func NewScalar(logical string, typ ScalarType) *Scalar {
	return &Scalar{Base: Base{Logical: logical}, Type: typ}
}

// Kind returns KindScalar.
func (s *Scalar) Kind() Kind { return KindScalar }

// Validate checks the value against the scalar type and choices.
func (s *Scalar) Validate(v any) error {
	if v == nil {
		if s.Required {
			return validationErr(s.Logical, "required field is nil", v)
		}

		return nil
	}

	coerced, err := s.coerce(v)
	if err != nil {
		return err
	}

	if len(s.Choices) > 0 {
		for _, c := range s.Choices {
			if c == coerced {
				return nil
			}
		}

		return validationErr(s.Logical, fmt.Sprintf("value %v not in choices", coerced), v)
	}

	return nil
}

// ToWire converts a program value to its wire representation.
func (s *Scalar) ToWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	return s.coerce(v)
}

// FromWire converts a wire value back to its program representation.
func (s *Scalar) FromWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch s.Type {
	case TypeDateTime:
		if dt, ok := v.(primitive.DateTime); ok {
			return dt.Time().UTC(), nil
		}

		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}

		return nil, validationErr(s.Logical, "expected datetime", v)
	case TypeInt:
		return coerceInt(s.Logical, v)
	case TypeFloat:
		return coerceFloat(s.Logical, v)
	default:
		return s.coerce(v)
	}
}

// PrepareQuery converts a query operand for this field.
func (s *Scalar) PrepareQuery(v any) (any, error) {
	return s.ToWire(v)
}

func (s *Scalar) coerce(v any) (any, error) {
	if ev, ok := v.(EnumValuer); ok {
		v = ev.EnumValue()
	}

	switch s.Type {
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return nil, validationErr(s.Logical, "expected string", v)
		}

		return str, nil
	case TypeInt:
		return coerceInt(s.Logical, v)
	case TypeFloat:
		return coerceFloat(s.Logical, v)
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, validationErr(s.Logical, "expected bool", v)
		}

		return b, nil
	case TypeDateTime:
		switch t := v.(type) {
		case time.Time:
			return primitive.NewDateTimeFromTime(t), nil
		case primitive.DateTime:
			return t, nil
		}

		return nil, validationErr(s.Logical, "expected time.Time", v)
	case TypeObjectID:
		return coerceObjectID(s.Logical, v)
	case TypeGeoPoint:
		return NormalizePoint(s.Logical, v)
	default:
		return nil, validationErr(s.Logical, "unhandled scalar type", v)
	}
}

func coerceInt(name string, v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}

		return nil, validationErr(name, "expected whole number", v)
	}

	return nil, validationErr(name, "expected integer", v)
}

func coerceFloat(name string, v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}

	return nil, validationErr(name, "expected number", v)
}

func coerceObjectID(name string, v any) (any, error) {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id, nil
	case string:
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, validationErr(name, "invalid object id hex", v)
		}

		return oid, nil
	}

	return nil, validationErr(name, "expected object id", v)
}
