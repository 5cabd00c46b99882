package field

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// WireRenderer is implemented by live values (documents) that know how to
// render their own wire representation. Embedded conversion prefers it over
// walking a plain map.
type WireRenderer interface {
	RenderWire() (bson.M, error)
}

// Embedded is a descriptor for a nested document stored inline. It owns the
// nested class schema and converts between logical maps (or WireRenderer
// values) and wire documents.
type Embedded struct {
	Base
	Nested Schema
}

// Kind returns KindEmbedded.
func (e *Embedded) Kind() Kind { return KindEmbedded }

// Validate checks every present nested value against the nested schema.
func (e *Embedded) Validate(v any) error {
	if v == nil {
		if e.Required {
			return validationErr(e.Logical, "required field is nil", v)
		}

		return nil
	}

	m, ok := logicalMap(v)
	if !ok {
		return validationErr(e.Logical, "expected embedded document", v)
	}

	for name, val := range m {
		d, ok := e.Nested.Field(name)
		if !ok {
			return validationErr(e.Logical+"."+name, "unknown embedded field", val)
		}

		if err := d.Validate(val); err != nil {
			return err
		}
	}

	return nil
}

// ToWire renders the embedded value as a wire document, remapping each nested
// logical name to its wire name and injecting the class discriminator when
// the nested schema is polymorphic.
func (e *Embedded) ToWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	if r, ok := v.(WireRenderer); ok {
		return r.RenderWire()
	}

	m, ok := logicalMap(v)
	if !ok {
		return nil, validationErr(e.Logical, "expected embedded document", v)
	}

	out := bson.M{}

	if marker, poly := e.Nested.DiscriminatorValue(); poly {
		out["_cls"] = marker
	}

	for name, val := range m {
		d, ok := e.Nested.Field(name)
		if !ok {
			return nil, validationErr(e.Logical+"."+name, "unknown embedded field", val)
		}

		wv, err := d.ToWire(val)
		if err != nil {
			return nil, err
		}

		out[d.WireName()] = wv
	}

	return out, nil
}

// FromWire converts a wire document back to a logical-keyed map. The caller
// (the document layer) is responsible for polymorphic subclass selection;
// here the discriminator is simply dropped from the logical view.
func (e *Embedded) FromWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	m, ok := wireMap(v)
	if !ok {
		return nil, validationErr(e.Logical, "expected wire document", v)
	}

	out := map[string]any{}

	for _, name := range e.Nested.FieldNames() {
		d, _ := e.Nested.Field(name)

		wv, present := m[d.WireName()]
		if !present {
			continue
		}

		lv, err := d.FromWire(wv)
		if err != nil {
			return nil, err
		}

		out[name] = lv
	}

	return out, nil
}

// PrepareQuery renders the embedded operand the same way ToWire does.
func (e *Embedded) PrepareQuery(v any) (any, error) {
	return e.ToWire(v)
}

// List is a descriptor for an ordered sequence. Elem describes the element
// type; a nil Elem makes the list untyped (elements pass through as-is).
type List struct {
	Base
	Elem Descriptor
}

// Kind returns KindList.
func (l *List) Kind() Kind { return KindList }

// Validate checks each element against the element descriptor.
func (l *List) Validate(v any) error {
	if v == nil {
		return nil
	}

	items, ok := anySlice(v)
	if !ok {
		return validationErr(l.Logical, "expected list", v)
	}

	if l.Elem == nil {
		return nil
	}

	for i, item := range items {
		if err := l.Elem.Validate(item); err != nil {
			return fmt.Errorf("%s[%d]: %w", l.Logical, i, err)
		}
	}

	return nil
}

// ToWire converts the list element-wise.
func (l *List) ToWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	items, ok := anySlice(v)
	if !ok {
		return nil, validationErr(l.Logical, "expected list", v)
	}

	out := make(bson.A, 0, len(items))

	for _, item := range items {
		if l.Elem == nil {
			out = append(out, item)
			continue
		}

		wv, err := l.Elem.ToWire(item)
		if err != nil {
			return nil, err
		}

		out = append(out, wv)
	}

	return out, nil
}

// FromWire converts the wire array element-wise.
func (l *List) FromWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	items, ok := anySlice(v)
	if !ok {
		return nil, validationErr(l.Logical, "expected wire array", v)
	}

	out := make([]any, 0, len(items))

	for _, item := range items {
		if l.Elem == nil {
			out = append(out, item)
			continue
		}

		lv, err := l.Elem.FromWire(item)
		if err != nil {
			return nil, err
		}

		out = append(out, lv)
	}

	return out, nil
}

// PrepareQuery accepts either a whole-list operand or a single element: a
// membership query on a list field compares against elements, so a scalar
// operand is coerced through the element descriptor.
func (l *List) PrepareQuery(v any) (any, error) {
	if _, ok := anySlice(v); ok {
		return l.ToWire(v)
	}

	if l.Elem == nil {
		return v, nil
	}

	return l.Elem.PrepareQuery(v)
}

// Map is a descriptor for a string-keyed mapping. Keys are arbitrary and
// never schema-checked; Elem describes the value type (nil means untyped).
type Map struct {
	Base
	Elem Descriptor
}

// Kind returns KindMap.
func (m *Map) Kind() Kind { return KindMap }

// Validate checks each value against the element descriptor.
func (m *Map) Validate(v any) error {
	if v == nil {
		return nil
	}

	kv, ok := logicalMap(v)
	if !ok {
		return validationErr(m.Logical, "expected map", v)
	}

	if m.Elem == nil {
		return nil
	}

	for k, val := range kv {
		if err := m.Elem.Validate(val); err != nil {
			return fmt.Errorf("%s.%s: %w", m.Logical, k, err)
		}
	}

	return nil
}

// ToWire converts the map value-wise; keys pass through verbatim.
func (m *Map) ToWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	kv, ok := logicalMap(v)
	if !ok {
		return nil, validationErr(m.Logical, "expected map", v)
	}

	out := bson.M{}

	for k, val := range kv {
		if m.Elem == nil {
			out[k] = val
			continue
		}

		wv, err := m.Elem.ToWire(val)
		if err != nil {
			return nil, err
		}

		out[k] = wv
	}

	return out, nil
}

// FromWire converts the wire map value-wise.
func (m *Map) FromWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	kv, ok := wireMap(v)
	if !ok {
		return nil, validationErr(m.Logical, "expected wire map", v)
	}

	out := map[string]any{}

	for k, val := range kv {
		if m.Elem == nil {
			out[k] = val
			continue
		}

		lv, err := m.Elem.FromWire(val)
		if err != nil {
			return nil, err
		}

		out[k] = lv
	}

	return out, nil
}

// PrepareQuery renders the map operand the same way ToWire does.
func (m *Map) PrepareQuery(v any) (any, error) {
	return m.ToWire(v)
}

// Dynamic is a schemaless descriptor: values pass through both directions
// unchanged. Used for dynamic documents and late-added attributes.
type Dynamic struct {
	Base
}

// Kind returns KindDynamic.
func (d *Dynamic) Kind() Kind { return KindDynamic }

// Validate accepts anything.
func (d *Dynamic) Validate(any) error { return nil }

// ToWire passes the value through unchanged.
func (d *Dynamic) ToWire(v any) (any, error) { return v, nil }

// FromWire passes the value through unchanged.
func (d *Dynamic) FromWire(v any) (any, error) { return v, nil }

// PrepareQuery passes the operand through unchanged.
func (d *Dynamic) PrepareQuery(v any) (any, error) { return v, nil }

func logicalMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case bson.M:
		return m, true
	}

	return nil, false
}

func wireMap(v any) (map[string]any, bool) {
	return logicalMap(v)
}

func anySlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case bson.A:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}

		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}

		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}

		return out, true
	}

	return nil, false
}
