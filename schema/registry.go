package schema

import (
	"github.com/sirupsen/logrus"

	"document-mapper/field"
)

// SelfReference is the target-class placeholder meaning "the declaring class".
const SelfReference = "self"

// Inheritance controls whether a class participates in polymorphic
// discrimination.
type Inheritance int

const (
	// InheritDefault inherits the parent's setting; a root class defaults to
	// discrimination disabled.
	InheritDefault Inheritance = iota
	// InheritEnabled turns discrimination on.
	InheritEnabled
	// InheritDisabled turns discrimination off.
	InheritDisabled
)

// Definition declares one document or embedded-document class for
// registration.
type Definition struct {
	// Name is the leaf class name. Must be unique within the registry.
	Name string

	// Parent is the name of an already-registered superclass, if any.
	Parent string

	// Abstract classes contribute fields to subclasses but are never stored
	// themselves and never start a discriminator chain.
	Abstract bool

	// Embedded classes are stored inline; no primary key is synthesized.
	Embedded bool

	// Dynamic allows instances to carry attributes beyond the declared fields.
	Dynamic bool

	// Inheritance controls polymorphic discrimination (see Inheritance).
	Inheritance Inheritance

	// Fields are the class's own descriptors, in declaration order.
	Fields []field.Descriptor
}

// Registry holds all registered classes of one model universe. The zero
// registry is not usable; construct with NewRegistry.
//
// Registration and lookup are not internally synchronized: register classes
// up front, or guard late registration externally.
type Registry struct {
	entries map[string]*Entry // keyed by leaf name and by dotted chain
	order   []string          // leaf names, registration order
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// global is the process-wide registry used by package-level Register/Lookup.
// Initialized empty at process start; tests clear it between runs.
var global = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return global }

// Register registers a class in the process-wide registry.
func Register(def Definition) (*Entry, error) { return global.Register(def) }

// Lookup resolves a class name in the process-wide registry.
func Lookup(name string) (*Entry, error) { return global.Lookup(name) }

// Clear empties the process-wide registry.
func Clear() { global.Clear() }

// Register validates a class definition, computes its effective field set and
// discriminator chain, wires it into the superclass/subclass graph, and
// stores it. The graph bookkeeping happens here once; it is never recomputed
// at query time.
func (r *Registry) Register(def Definition) (*Entry, error) {
	if def.Name == "" {
		return nil, conflictf("", "class name is empty")
	}

	if _, exists := r.entries[def.Name]; exists {
		return nil, conflictf(def.Name, "class already registered")
	}

	var parent *Entry

	if def.Parent != "" {
		p, ok := r.entries[def.Parent]
		if !ok {
			return nil, &UnknownClassError{Class: def.Parent}
		}

		parent = p
	}

	allowInheritance, err := resolveInheritance(def, parent)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		name:             def.Name,
		registry:         r,
		abstract:         def.Abstract,
		dynamic:          def.Dynamic,
		embedded:         def.Embedded,
		allowInheritance: allowInheritance,
	}

	if parent != nil {
		entry.embedded = entry.embedded || parent.embedded
		entry.dynamic = entry.dynamic || parent.dynamic
	}

	r.buildChain(entry, parent)

	if err := r.buildFields(entry, parent, def.Fields); err != nil {
		return nil, err
	}

	// Wire into ancestors' subclass lists. Order follows registration order,
	// which keeps discriminator $in lists stable.
	for _, super := range entry.superclasses {
		if anc, ok := r.entries[super]; ok {
			anc.subclasses = append(anc.subclasses, entry.chain)
		}
	}

	r.entries[def.Name] = entry
	if entry.chain != def.Name {
		r.entries[entry.chain] = entry
	}

	r.order = append(r.order, def.Name)

	logrus.WithFields(logrus.Fields{
		"class":  entry.chain,
		"fields": entry.fields.Len(),
	}).Debug("registered document class")

	return entry, nil
}

// Lookup resolves a class by leaf name or dotted chain. Supports forward
// references: a reference field may name a class before it is registered, as
// long as it is registered by the time the reference is resolved.
func (r *Registry) Lookup(name string) (*Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, &UnknownClassError{Class: name}
	}

	return e, nil
}

// Names returns registered leaf class names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)

	return out
}

// Clear removes every registered class. Intended for test isolation.
func (r *Registry) Clear() {
	r.entries = map[string]*Entry{}
	r.order = nil
}

func resolveInheritance(def Definition, parent *Entry) (bool, error) {
	if parent == nil {
		return def.Inheritance == InheritEnabled, nil
	}

	if !parent.abstract && !parent.allowInheritance {
		return false, conflictf(def.Name,
			"cannot subclass %q: it does not allow inheritance", parent.name)
	}

	if def.Inheritance == InheritDisabled {
		if !parent.abstract && parent.allowInheritance {
			return false, conflictf(def.Name,
				"cannot disable inheritance independently of non-abstract parent %q", parent.name)
		}

		return false, nil
	}

	if def.Inheritance == InheritEnabled {
		return true, nil
	}

	return parent.allowInheritance, nil
}

// buildChain computes the discriminator chain and ancestor list. Abstract
// classes contribute fields to subclasses but never appear as a chain
// segment, so a concrete child of an abstract root starts a fresh chain.
func (r *Registry) buildChain(entry *Entry, parent *Entry) {
	if parent == nil {
		entry.chain = entry.name
		return
	}

	entry.chain = join(parent.chainPrefix(), entry.name)
	entry.superclasses = append([]string{}, parent.concreteAncestry()...)
}

// chainPrefix is the chain contribution this class makes to subclasses.
func (e *Entry) chainPrefix() string {
	if e.abstract {
		if len(e.superclasses) == 0 {
			return ""
		}

		return e.superclasses[len(e.superclasses)-1]
	}

	return e.chain
}

// concreteAncestry is the ancestor-chain list subclasses inherit: the class's
// own ancestors plus, when concrete, the class itself.
func (e *Entry) concreteAncestry() []string {
	if e.abstract {
		return e.superclasses
	}

	return append(append([]string{}, e.superclasses...), e.chain)
}

func (r *Registry) buildFields(entry *Entry, parent *Entry, own []field.Descriptor) error {
	if parent != nil {
		entry.fields = parent.fields.clone()
		entry.pk = parent.pk
	} else {
		entry.fields = NewFieldSet()
	}

	for _, d := range own {
		if d.LogicalName() == "" {
			return conflictf(entry.name, "field with empty logical name")
		}

		if !entry.fields.Add(d) {
			return conflictf(entry.name, "duplicate field %q", d.LogicalName())
		}
	}

	// Wire-name uniqueness across the effective set.
	seenWire := map[string]string{}

	for _, name := range entry.fields.Names() {
		d, _ := entry.fields.Get(name)

		wire := d.WireName()
		if prev, dup := seenWire[wire]; dup {
			return conflictf(entry.name,
				"fields %q and %q map to the same wire name %q", prev, name, wire)
		}

		seenWire[wire] = name
	}

	// Primary key: at most one marked, inherited one counts.
	for _, name := range entry.fields.Names() {
		d, _ := entry.fields.Get(name)
		if !d.IsPrimaryKey() {
			continue
		}

		if entry.pk != nil && entry.pk.LogicalName() != d.LogicalName() {
			return conflictf(entry.name,
				"multiple primary keys: %q and %q", entry.pk.LogicalName(), name)
		}

		entry.pk = d
	}

	if entry.pk != nil && entry.pk.WireName() != IdentityField {
		return conflictf(entry.name,
			"primary key %q must use wire name %q", entry.pk.LogicalName(), IdentityField)
	}

	// Synthesize the implicit identity field for storable classes.
	if entry.pk == nil && !entry.abstract && !entry.embedded {
		id := field.NewScalar("id", field.TypeObjectID)
		id.Wire = IdentityField
		id.PrimaryKey = true
		id.OwnerClass = entry.name

		if !entry.fields.Add(id) {
			return conflictf(entry.name, "field %q collides with the implicit identity field", "id")
		}

		entry.pk = id
	}

	return nil
}

func join(chain, name string) string {
	if chain == "" {
		return name
	}

	return chain + "." + name
}
