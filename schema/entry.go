// Package schema holds the registry of document classes: per-class ordered
// field sets, the superclass/subclass graph used for polymorphic
// discrimination, and forward-reference resolution.
//
// Registration happens once at startup in the common case. Late registration
// is supported but requires external synchronization; the registry does not
// lock (see the concurrency notes in DESIGN.md).
package schema

import (
	"document-mapper/field"
)

// DiscriminatorField is the wire field storing the concrete class marker of
// a polymorphic document.
const DiscriminatorField = "_cls"

// IdentityField is the wire name every primary key maps to.
const IdentityField = "_id"

// PrimaryKeyAlias is the logical alias that always resolves to a class's
// primary key, whatever its declared logical name is.
const PrimaryKeyAlias = "pk"

// Entry is one registered document or embedded-document class. It implements
// field.Schema so container descriptors can convert nested values through it.
type Entry struct {
	name     string // leaf class name, e.g. "Dog"
	chain    string // dotted superclass chain, e.g. "Animal.Mammal.Dog"
	fields   *FieldSet
	pk       field.Descriptor // nil for abstract and embedded classes without one
	registry *Registry

	superclasses []string // ancestor chains, root first
	subclasses   []string // strict descendant chains, registration order

	abstract         bool
	allowInheritance bool
	dynamic          bool
	embedded         bool
}

// Name returns the leaf class name.
func (e *Entry) Name() string { return e.name }

// ClassName returns the dotted superclass chain used as the stored
// discriminator value.
func (e *Entry) ClassName() string { return e.chain }

// FieldNames returns the effective (own + inherited) logical field names in
// declaration order.
func (e *Entry) FieldNames() []string { return e.fields.Names() }

// Field returns the descriptor for a logical field name. The primary-key
// alias resolves to the designated primary key.
func (e *Entry) Field(name string) (field.Descriptor, bool) {
	if name == PrimaryKeyAlias && e.pk != nil {
		return e.pk, true
	}

	return e.fields.Get(name)
}

// PrimaryField returns the designated primary key descriptor, or nil.
func (e *Entry) PrimaryField() field.Descriptor { return e.pk }

// Registry returns the registry this class is registered in.
func (e *Entry) Registry() *Registry { return e.registry }

// DiscriminatorValue returns the stored class marker and whether this class
// participates in polymorphic discrimination.
func (e *Entry) DiscriminatorValue() (string, bool) {
	return e.chain, e.allowInheritance
}

// Superclasses returns ancestor chains, root first.
func (e *Entry) Superclasses() []string { return e.superclasses }

// Subclasses returns strict descendant chains in registration order.
func (e *Entry) Subclasses() []string { return e.subclasses }

// IsAbstract reports whether the class is abstract.
func (e *Entry) IsAbstract() bool { return e.abstract }

// IsDynamic reports whether unknown attributes are allowed on instances.
func (e *Entry) IsDynamic() bool { return e.dynamic }

// IsEmbedded reports whether this class is stored inline rather than in its
// own collection.
func (e *Entry) IsEmbedded() bool { return e.embedded }

// ResolveReference resolves a reference descriptor's target class against the
// owning registry. "self" resolves to this class.
func (e *Entry) ResolveReference(r *field.Reference) (*Entry, error) {
	target := r.TargetClass
	if target == SelfReference {
		target = e.name
	}

	return e.registry.Lookup(target)
}

// FieldSet is an ordered logical-name → descriptor mapping. Declaration
// order is preserved for stable serialization and primary-key defaulting.
type FieldSet struct {
	order []string
	byKey map[string]field.Descriptor
}

// NewFieldSet builds an empty field set.
func NewFieldSet() *FieldSet {
	return &FieldSet{byKey: map[string]field.Descriptor{}}
}

// Add appends a descriptor, keyed by its logical name. Returns false if the
// name is already present.
func (fs *FieldSet) Add(d field.Descriptor) bool {
	name := d.LogicalName()
	if _, exists := fs.byKey[name]; exists {
		return false
	}

	fs.order = append(fs.order, name)
	fs.byKey[name] = d

	return true
}

// Get returns the descriptor for a logical name.
func (fs *FieldSet) Get(name string) (field.Descriptor, bool) {
	d, ok := fs.byKey[name]
	return d, ok
}

// Names returns the logical names in declaration order.
func (fs *FieldSet) Names() []string {
	out := make([]string, len(fs.order))
	copy(out, fs.order)

	return out
}

// Len returns the number of fields.
func (fs *FieldSet) Len() int { return len(fs.order) }

func (fs *FieldSet) clone() *FieldSet {
	out := NewFieldSet()
	for _, name := range fs.order {
		out.Add(fs.byKey[name])
	}

	return out
}
