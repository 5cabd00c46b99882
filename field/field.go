// Package field defines the descriptors that describe one attribute of a
// document class: its logical (program-facing) name, its wire (database-facing)
// name, and how values are validated and converted between the two worlds.
//
// The rest of the engine needs exactly three things from a descriptor:
// WireName, ToWire, and FromWire. Everything else here (query preparation,
// validation, defaults) supports those three.
package field

import "fmt"

// Kind classifies a descriptor's shape.
type Kind int

const (
	KindScalar Kind = iota
	KindEmbedded
	KindList
	KindMap
	KindReference
	KindGenericReference
	KindDynamic

	// KindTotal is the number of kinds defined
	KindTotal = int(iota)
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindEmbedded:
		return "embedded"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindReference:
		return "reference"
	case KindGenericReference:
		return "generic-reference"
	case KindDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// Descriptor describes one field of a document class.
//
// ToWire converts a program value to its wire representation; FromWire is the
// inverse. PrepareQuery converts a value for use as a query operand, which for
// most kinds is the same as ToWire but differs for references (object becomes
// its identity) and enums (enum becomes its underlying value).
type Descriptor interface {
	LogicalName() string
	WireName() string
	Kind() Kind
	IsPrimaryKey() bool
	DefaultValue() any

	Validate(v any) error
	ToWire(v any) (any, error)
	FromWire(v any) (any, error)
	PrepareQuery(v any) (any, error)
}

// Schema is the subset of a class schema a container descriptor needs in
// order to convert nested values. The schema package's Entry implements it.
type Schema interface {
	// ClassName returns the dotted class-chain name, e.g. "Animal.Mammal.Dog".
	ClassName() string

	// FieldNames returns effective field names in declaration order.
	FieldNames() []string

	// Field returns the descriptor for a logical field name.
	Field(name string) (Descriptor, bool)

	// DiscriminatorValue returns the stored class marker and whether this
	// schema participates in polymorphic discrimination.
	DiscriminatorValue() (string, bool)
}

// EnumValuer is implemented by enum-like values that wrap an underlying
// storable value.
type EnumValuer interface {
	EnumValue() any
}

// Identifiable is implemented by values that can stand in for a reference
// operand (typically a live document exposing its primary key).
type Identifiable interface {
	Identity() any
}

// Base carries the attributes shared by every descriptor kind.
type Base struct {
	Logical    string
	Wire       string // empty means same as Logical
	Required   bool
	PrimaryKey bool
	Default    any
	OwnerClass string
}

// LogicalName returns the program-facing field name.
func (b *Base) LogicalName() string { return b.Logical }

// WireName returns the database-facing field name.
func (b *Base) WireName() string {
	if b.Wire != "" {
		return b.Wire
	}

	return b.Logical
}

// IsPrimaryKey reports whether this field is the class primary key.
func (b *Base) IsPrimaryKey() bool { return b.PrimaryKey }

// DefaultValue returns the value assigned to the field on construction, or
// nil when the field has no default.
func (b *Base) DefaultValue() any { return b.Default }

// ValidationError reports a value rejected by a descriptor's coercion or
// validation step. The transform and delta layers propagate it unchanged so
// callers see the original field-level failure with its path context intact.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s (got %T)", e.Field, e.Reason, e.Value)
}

func validationErr(field, reason string, value any) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}
