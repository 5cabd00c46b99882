// Package document holds live document instances: logical values bound to a
// registered class, mutated through an explicit observer API that feeds the
// change tracker, and rendered to and from the wire with polymorphic class
// reconstruction.
package document

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"document-mapper/delta"
	"document-mapper/field"
	"document-mapper/internal/match"
	"document-mapper/query"
	"document-mapper/schema"
)

const suggestionLimit = 3

// Document is one live instance of a registered class. Values are keyed by
// logical field name; embedded values are child documents, list and map
// values are tracked containers. All mutations go through Set, Delete and
// the container methods so the tracker sees every change.
//
// A document owns its state exclusively. Nothing here locks; share a
// document across goroutines only with external synchronization.
type Document struct {
	entry   *schema.Entry
	handle  uuid.UUID
	values  map[string]any
	tracker *delta.Tracker

	// notify is set on child documents: marks are forwarded to the owner
	// with the owner-side path prefix applied, up to the root tracker. The
	// back-reference is a plain closure, it never keeps the child alive in
	// the parent's stead.
	notify notifier

	// loaded restricts Loaded() when the document came from a partial
	// projection; nil means a full load.
	loaded map[string]bool
}

// New builds an empty instance of a class and applies field defaults.
// Defaults count as changes so a fresh document renders a complete insert.
func New(entry *schema.Entry) (*Document, error) {
	if entry.IsAbstract() {
		return nil, errors.Errorf("cannot instantiate abstract class %s", entry.Name())
	}

	d := emptyDoc(entry)

	for _, name := range entry.FieldNames() {
		desc, _ := entry.Field(name)
		if dv := desc.DefaultValue(); dv != nil {
			if err := d.Set(name, dv); err != nil {
				return nil, errors.Wrapf(err, "default for %s.%s", entry.Name(), name)
			}
		}
	}

	return d, nil
}

// Load reconstructs a document from its wire form. When the wire document
// carries a class marker naming a subclass of entry, the instance is built
// against that concrete class.
func Load(entry *schema.Entry, wire bson.M) (*Document, error) {
	return load(entry, wire, nil)
}

// LoadPartial reconstructs a document fetched with a field projection. Only
// the named logical fields count as loaded; deltas never unset fields
// outside the projection.
func LoadPartial(entry *schema.Entry, wire bson.M, fields []string) (*Document, error) {
	loaded := make(map[string]bool, len(fields))

	for _, f := range fields {
		name := f
		if name == schema.PrimaryKeyAlias {
			if pk := entry.PrimaryField(); pk != nil {
				name = pk.LogicalName()
			}
		}

		loaded[name] = true
	}

	return load(entry, wire, loaded)
}

func load(entry *schema.Entry, wire bson.M, loaded map[string]bool) (*Document, error) {
	if marker, ok := wire[schema.DiscriminatorField].(string); ok && marker != "" && marker != entry.ClassName() {
		concrete, err := entry.Registry().Lookup(marker)
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", entry.Name())
		}

		logrus.WithFields(logrus.Fields{
			"declared": entry.ClassName(),
			"stored":   marker,
		}).Debug("reconstructing subclass instance")

		entry = concrete
	}

	if entry.IsAbstract() {
		return nil, errors.Errorf("cannot load abstract class %s", entry.Name())
	}

	d := emptyDoc(entry)
	d.loaded = loaded

	for _, name := range entry.FieldNames() {
		desc, _ := entry.Field(name)

		wv, ok := wire[desc.WireName()]
		if !ok {
			continue
		}

		lv, err := d.loadValue(desc, name, wv)
		if err != nil {
			return nil, err
		}

		d.values[name] = lv
	}

	if entry.IsDynamic() {
		for k, v := range wire {
			if k == schema.DiscriminatorField || isSchemaWireName(entry, k) {
				continue
			}

			d.values[k] = v
		}
	}

	return d, nil
}

// Entry returns the concrete class this instance is bound to.
func (d *Document) Entry() *schema.Entry { return d.entry }

// Handle returns the process-unique instance handle. It identifies the
// in-memory instance, not the stored document.
func (d *Document) Handle() uuid.UUID { return d.handle }

// Identity returns the primary-key value, or nil when unset. Reference
// descriptors reduce a document operand to this value.
func (d *Document) Identity() any {
	pk := d.entry.PrimaryField()
	if pk == nil {
		return nil
	}

	v, ok := d.values[pk.LogicalName()]
	if !ok {
		return nil
	}

	return v
}

// Set assigns a value at a dotted logical path, validating it against the
// field descriptor and marking the path changed. Intermediate embedded
// documents and maps are created on write; lists must already exist.
func (d *Document) Set(path string, value any) error {
	head, rest, nested := strings.Cut(path, ".")

	desc, name, err := d.descriptorFor(head)
	if err != nil {
		return err
	}

	if !nested {
		wrapped, err := d.wrap(desc, name, value)
		if err != nil {
			return err
		}

		d.values[name] = wrapped
		d.notifyChanged(name)

		return nil
	}

	switch t := desc.(type) {
	case *field.Embedded:
		child, err := d.childDocument(t, name)
		if err != nil {
			return err
		}

		return child.Set(rest, value)

	case *field.List:
		l, ok := d.values[name].(*List)
		if !ok {
			return fmt.Errorf("cannot set %s: list %s is not set", path, name)
		}

		idxTok, tail, deeper := strings.Cut(rest, ".")

		i, err := strconv.Atoi(idxTok)
		if err != nil {
			return fmt.Errorf("path %s: %q is not a list index", path, idxTok)
		}

		if !deeper {
			return l.Set(i, value)
		}

		item, ok := l.Get(i)
		if !ok {
			return fmt.Errorf("list %s: index %d out of range [0, %d)", name, i, l.Len())
		}

		child, ok := item.(*Document)
		if !ok {
			return fmt.Errorf("path %s: element %d is not an embedded document", path, i)
		}

		return child.Set(tail, value)

	case *field.Map:
		m, err := d.childMap(t, name)
		if err != nil {
			return err
		}

		key, tail, deeper := strings.Cut(rest, ".")
		if !deeper {
			return m.Set(key, value)
		}

		item, ok := m.Get(key)
		if !ok {
			return fmt.Errorf("cannot set %s: key %s.%s is not set", path, name, key)
		}

		child, ok := item.(*Document)
		if !ok {
			return fmt.Errorf("path %s: value at %s.%s is not an embedded document", path, name, key)
		}

		return child.Set(tail, value)
	}

	return fmt.Errorf("cannot descend into scalar field %s via %s", name, path)
}

// Get returns the value at a dotted logical path. Containers come back as
// their tracked wrappers.
func (d *Document) Get(path string) (any, bool) {
	v, ok, err := d.ValueAt(path)
	if err != nil {
		return nil, false
	}

	return v, ok
}

// Delete removes the value at a dotted logical path and marks it changed;
// the delta renders the mark as an unset. Deleting an absent path is a
// no-op beyond the mark.
func (d *Document) Delete(path string) error {
	head, rest, nested := strings.Cut(path, ".")

	_, name, err := d.descriptorFor(head)
	if err != nil {
		return err
	}

	if !nested {
		delete(d.values, name)
		d.notifyChanged(name)

		return nil
	}

	v, present := d.values[name]
	if !present {
		return nil
	}

	switch c := v.(type) {
	case *Document:
		return c.Delete(rest)

	case *Map:
		key, tail, deeper := strings.Cut(rest, ".")
		if !deeper {
			c.Delete(key)
			return nil
		}

		item, ok := c.Get(key)
		if !ok {
			return nil
		}

		child, ok := item.(*Document)
		if !ok {
			return fmt.Errorf("path %s: value at %s.%s is not an embedded document", path, name, key)
		}

		return child.Delete(tail)

	case *List:
		idxTok, tail, deeper := strings.Cut(rest, ".")

		i, err := strconv.Atoi(idxTok)
		if err != nil {
			return fmt.Errorf("path %s: %q is not a list index", path, idxTok)
		}

		if !deeper {
			return c.Remove(i)
		}

		item, ok := c.Get(i)
		if !ok {
			return nil
		}

		child, ok := item.(*Document)
		if !ok {
			return fmt.Errorf("path %s: element %d is not an embedded document", path, i)
		}

		return child.Delete(tail)
	}

	return fmt.Errorf("cannot descend into scalar field %s via %s", name, path)
}

// MarkChanged records a manual dirty mark at a logical path, for mutations
// made outside the tracked API.
func (d *Document) MarkChanged(path string) { d.notifyChanged(path) }

// IsDirty reports whether any path has been marked since load or the last
// AcceptChanges.
func (d *Document) IsDirty() bool { return d.tracker.IsDirty() }

// ChangedPaths returns the marked logical paths.
func (d *Document) ChangedPaths() []string { return d.tracker.Changed() }

// AcceptChanges clears the dirty state, typically after a successful save.
func (d *Document) AcceptChanges() { d.tracker.Clear() }

// ComputeDelta renders the dirty paths as wire set and unset fragments. The
// dirty state is left intact; call AcceptChanges once the save succeeds.
func (d *Document) ComputeDelta() (bson.M, bson.M, error) {
	return d.tracker.Compute(d)
}

// RenderWire renders the full document in wire form, declaration order,
// with the class marker injected for polymorphic classes.
func (d *Document) RenderWire() (bson.M, error) {
	out := bson.M{}

	if marker, poly := d.entry.DiscriminatorValue(); poly {
		out[schema.DiscriminatorField] = marker
	}

	for _, name := range d.entry.FieldNames() {
		desc, _ := d.entry.Field(name)

		v, ok := d.values[name]
		if !ok {
			continue
		}

		wv, err := desc.ToWire(unwrapped(v))
		if err != nil {
			return nil, err
		}

		out[desc.WireName()] = wv
	}

	if d.entry.IsDynamic() {
		for k, v := range d.values {
			if _, known := d.entry.Field(k); known {
				continue
			}

			wv, err := deepWire(v)
			if err != nil {
				return nil, err
			}

			out[k] = wv
		}
	}

	return out, nil
}

// ValueAt returns the value at a dotted logical path and whether it is
// present. Part of the delta source contract.
func (d *Document) ValueAt(path string) (any, bool, error) {
	head, rest, nested := strings.Cut(path, ".")

	_, name, err := d.descriptorFor(head)
	if err != nil {
		return nil, false, err
	}

	v, present := d.values[name]
	if !nested {
		return v, present, nil
	}

	if !present {
		return nil, false, nil
	}

	switch c := v.(type) {
	case *Document:
		return c.ValueAt(rest)

	case *List:
		idxTok, tail, deeper := strings.Cut(rest, ".")

		i, err := strconv.Atoi(idxTok)
		if err != nil {
			return nil, false, fmt.Errorf("path %s: %q is not a list index", path, idxTok)
		}

		item, ok := c.Get(i)
		if !ok || !deeper {
			return item, ok, nil
		}

		if child, isDoc := item.(*Document); isDoc {
			return child.ValueAt(tail)
		}

		return nil, false, nil

	case *Map:
		key, tail, deeper := strings.Cut(rest, ".")

		item, ok := c.Get(key)
		if !ok || !deeper {
			return item, ok, nil
		}

		if child, isDoc := item.(*Document); isDoc {
			return child.ValueAt(tail)
		}

		return nil, false, nil
	}

	return nil, false, nil
}

// Loaded reports whether a path's root field was part of the load
// projection. Full loads and new documents report true for everything.
func (d *Document) Loaded(path string) bool {
	if d.loaded == nil {
		return true
	}

	head, _, _ := strings.Cut(path, ".")
	if head == schema.PrimaryKeyAlias {
		if pk := d.entry.PrimaryField(); pk != nil {
			head = pk.LogicalName()
		}
	}

	return d.loaded[head]
}

// WirePath maps a dotted logical path to its wire path.
func (d *Document) WirePath(path string) (string, error) {
	rp, err := query.ResolveField(d.entry, path)
	if err != nil {
		return "", err
	}

	return rp.WirePath(), nil
}

// WireValue renders the value at a logical path in wire form, through the
// path's terminal descriptor when the path is schema-typed.
func (d *Document) WireValue(path string, value any) (any, error) {
	rp, err := query.ResolveField(d.entry, path)
	if err != nil {
		return nil, err
	}

	if rp.Terminal == nil {
		return deepWire(value)
	}

	return rp.Terminal.ToWire(unwrapped(value))
}

func emptyDoc(entry *schema.Entry) *Document {
	return &Document{
		entry:   entry,
		handle:  uuid.New(),
		values:  map[string]any{},
		tracker: delta.NewTracker(),
	}
}

func (d *Document) notifyChanged(path string) {
	if d.notify != nil {
		d.notify(path)
		return
	}

	d.tracker.MarkChanged(path)
}

// descriptorFor resolves one root-level logical name, honoring the
// primary-key alias and dynamic classes.
func (d *Document) descriptorFor(head string) (field.Descriptor, string, error) {
	if desc, ok := d.entry.Field(head); ok {
		return desc, desc.LogicalName(), nil
	}

	if d.entry.IsDynamic() {
		return &field.Dynamic{Base: field.Base{Logical: head}}, head, nil
	}

	return nil, "", &UnknownFieldError{
		Class:       d.entry.Name(),
		Field:       head,
		Suggestions: match.Suggest(head, d.entry.FieldNames(), suggestionLimit),
	}
}

// wrap validates an incoming value and converts container values to their
// tracked representations, wired to this document's notification chain.
func (d *Document) wrap(desc field.Descriptor, path string, v any) (any, error) {
	if v == nil {
		if err := desc.Validate(nil); err != nil {
			return nil, err
		}

		return nil, nil
	}

	switch t := desc.(type) {
	case *field.Embedded:
		child, err := adoptEmbedded(t, v, func(sub string) {
			d.notifyChanged(path + "." + sub)
		})
		if err != nil {
			return nil, err
		}

		return child, nil

	case *field.List:
		items, ok := sliceItems(v)
		if !ok {
			return nil, &field.ValidationError{Field: path, Value: v, Reason: "expected list"}
		}

		l := &List{path: path, elem: t.Elem, notify: d.notifyChanged}

		for _, item := range items {
			w, err := l.adopt(item)
			if err != nil {
				return nil, err
			}

			l.items = append(l.items, w)
		}

		return l, nil

	case *field.Map:
		kv, ok := mapItems(v)
		if !ok {
			return nil, &field.ValidationError{Field: path, Value: v, Reason: "expected map"}
		}

		m := &Map{path: path, elem: t.Elem, items: map[string]any{}, notify: d.notifyChanged}

		for k, item := range kv {
			w, err := m.adopt(k, item)
			if err != nil {
				return nil, err
			}

			m.items[k] = w
		}

		return m, nil
	}

	if err := desc.Validate(v); err != nil {
		return nil, err
	}

	return v, nil
}

// childDocument returns the embedded child at a field, creating an empty one
// on first write so nested sets work without an explicit parent assignment.
func (d *Document) childDocument(t *field.Embedded, name string) (*Document, error) {
	if v, ok := d.values[name]; ok {
		child, isDoc := v.(*Document)
		if !isDoc {
			return nil, fmt.Errorf("field %s holds a non-document value", name)
		}

		return child, nil
	}

	nested, ok := t.Nested.(*schema.Entry)
	if !ok {
		return nil, fmt.Errorf("embedded schema of %s is not a registry entry", name)
	}

	if nested.IsAbstract() {
		return nil, errors.Errorf("cannot instantiate abstract class %s", nested.Name())
	}

	child := emptyDoc(nested)
	child.notify = func(sub string) { d.notifyChanged(name + "." + sub) }
	d.values[name] = child

	return child, nil
}

func (d *Document) childMap(t *field.Map, name string) (*Map, error) {
	if v, ok := d.values[name]; ok {
		m, isMap := v.(*Map)
		if !isMap {
			return nil, fmt.Errorf("field %s holds a non-map value", name)
		}

		return m, nil
	}

	m := &Map{path: name, elem: t.Elem, items: map[string]any{}, notify: d.notifyChanged}
	d.values[name] = m

	return m, nil
}

// adoptEmbedded turns an embedded operand into a child document bound to the
// given notification target. An existing Document is re-parented; a logical
// map is built up field by field against the nested class.
func adoptEmbedded(emb *field.Embedded, v any, notify notifier) (*Document, error) {
	nested, isEntry := emb.Nested.(*schema.Entry)

	if child, ok := v.(*Document); ok {
		if isEntry && !isSameOrSubclass(child.entry, nested) {
			return nil, &field.ValidationError{
				Field:  emb.LogicalName(),
				Value:  child.entry.ClassName(),
				Reason: "document class does not match the embedded field",
			}
		}

		child.notify = notify

		return child, nil
	}

	m, ok := mapItems(v)
	if !ok {
		return nil, &field.ValidationError{Field: emb.LogicalName(), Value: v, Reason: "expected embedded document"}
	}

	if !isEntry {
		return nil, fmt.Errorf("embedded schema of %s is not a registry entry", emb.LogicalName())
	}

	if nested.IsAbstract() {
		return nil, errors.Errorf("cannot instantiate abstract class %s", nested.Name())
	}

	child := emptyDoc(nested)

	for k, val := range m {
		if err := child.Set(k, val); err != nil {
			return nil, err
		}
	}

	child.tracker.Clear()
	child.notify = notify

	return child, nil
}

// loadValue converts one wire value to its tracked logical form, descending
// through containers so nested polymorphic documents reconstruct their
// concrete classes.
func (d *Document) loadValue(desc field.Descriptor, path string, wv any) (any, error) {
	if wv == nil {
		return nil, nil
	}

	switch t := desc.(type) {
	case *field.Embedded:
		child, err := d.loadEmbedded(t, wv, func(sub string) {
			d.notifyChanged(path + "." + sub)
		})
		if err != nil {
			return nil, err
		}

		return child, nil

	case *field.List:
		items, ok := sliceItems(wv)
		if !ok {
			return nil, &field.ValidationError{Field: path, Value: wv, Reason: "expected wire array"}
		}

		l := &List{path: path, elem: t.Elem, notify: d.notifyChanged}

		for _, item := range items {
			lv, err := d.loadElem(t.Elem, item, func(string) { l.touch() })
			if err != nil {
				return nil, err
			}

			l.items = append(l.items, lv)
		}

		return l, nil

	case *field.Map:
		kv, ok := mapItems(wv)
		if !ok {
			return nil, &field.ValidationError{Field: path, Value: wv, Reason: "expected wire map"}
		}

		m := &Map{path: path, elem: t.Elem, items: map[string]any{}, notify: d.notifyChanged}

		for k, item := range kv {
			keyPath := path + "." + k

			lv, err := d.loadElem(t.Elem, item, func(sub string) {
				d.notifyChanged(keyPath + "." + sub)
			})
			if err != nil {
				return nil, err
			}

			m.items[k] = lv
		}

		return m, nil
	}

	return desc.FromWire(wv)
}

func (d *Document) loadElem(elem field.Descriptor, wv any, notify notifier) (any, error) {
	if elem == nil {
		return wv, nil
	}

	if emb, ok := elem.(*field.Embedded); ok {
		child, err := d.loadEmbedded(emb, wv, notify)
		if err != nil {
			return nil, err
		}

		return child, nil
	}

	return elem.FromWire(wv)
}

func (d *Document) loadEmbedded(emb *field.Embedded, wv any, notify notifier) (*Document, error) {
	nested, ok := emb.Nested.(*schema.Entry)
	if !ok {
		return nil, fmt.Errorf("embedded schema of %s is not a registry entry", emb.LogicalName())
	}

	m, ok := mapItems(wv)
	if !ok {
		return nil, &field.ValidationError{Field: emb.LogicalName(), Value: wv, Reason: "expected wire document"}
	}

	child, err := load(nested, bson.M(m), nil)
	if err != nil {
		return nil, err
	}

	child.notify = notify

	return child, nil
}

func isSameOrSubclass(got, want *schema.Entry) bool {
	if got.ClassName() == want.ClassName() {
		return true
	}

	for _, super := range got.Superclasses() {
		if super == want.ClassName() {
			return true
		}
	}

	return false
}

func isSchemaWireName(entry *schema.Entry, wireName string) bool {
	for _, name := range entry.FieldNames() {
		desc, _ := entry.Field(name)
		if desc.WireName() == wireName {
			return true
		}
	}

	return false
}

// deepWire renders schemaless values to wire form, recursing through tracked
// containers and plain collections.
func deepWire(v any) (any, error) {
	switch t := v.(type) {
	case *Document:
		return t.RenderWire()

	case *List:
		return deepWireSlice(t.Items())

	case *Map:
		return deepWireMap(t.Items())

	case map[string]any:
		return deepWireMap(t)

	case bson.M:
		return deepWireMap(t)

	case []any:
		return deepWireSlice(t)

	case bson.A:
		return deepWireSlice(t)
	}

	return v, nil
}

func deepWireMap(m map[string]any) (bson.M, error) {
	out := bson.M{}

	for k, v := range m {
		wv, err := deepWire(v)
		if err != nil {
			return nil, err
		}

		out[k] = wv
	}

	return out, nil
}

func deepWireSlice(items []any) (bson.A, error) {
	out := make(bson.A, 0, len(items))

	for _, v := range items {
		wv, err := deepWire(v)
		if err != nil {
			return nil, err
		}

		out = append(out, wv)
	}

	return out, nil
}

func sliceItems(v any) ([]any, bool) {
	switch t := v.(type) {
	case *List:
		return t.Items(), true
	case []any:
		return t, true
	case bson.A:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}

		return out, true
	case []int:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}

		return out, true
	case []float64:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}

		return out, true
	}

	return nil, false
}

func mapItems(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case *Map:
		return t.Items(), true
	case map[string]any:
		return t, true
	case bson.M:
		return t, true
	}

	return nil, false
}
