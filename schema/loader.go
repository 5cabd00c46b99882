package schema

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"document-mapper/field"
)

// SchemaFile represents the root of a YAML schema definition file.
type SchemaFile struct {
	// Version of the schema file format (for future compatibility).
	Version string `yaml:"version,omitempty"`

	// Classes lists class definitions. Order matters: a parent or embedded
	// class must appear before the classes that use it.
	Classes []ClassDef `yaml:"classes"`
}

// ClassDef declares one class in a schema file.
type ClassDef struct {
	Name     string `yaml:"name"`
	Parent   string `yaml:"parent,omitempty"`
	Abstract bool   `yaml:"abstract,omitempty"`
	Embedded bool   `yaml:"embedded,omitempty"`
	Dynamic  bool   `yaml:"dynamic,omitempty"`

	// Inheritance is "", "enabled", or "disabled".
	Inheritance string `yaml:"inheritance,omitempty"`

	Fields []FieldDef `yaml:"fields,omitempty"`
}

// FieldDef declares one field of a class.
type FieldDef struct {
	Name string `yaml:"name"`

	// Type is one of: string, int, float, bool, datetime, objectid, geopoint,
	// embedded, list, map, reference, generic-reference, dynamic.
	Type string `yaml:"type"`

	// Wire overrides the database field name.
	Wire string `yaml:"wire,omitempty"`

	Required bool `yaml:"required,omitempty"`
	Primary  bool `yaml:"primary,omitempty"`

	// Choices restricts a scalar field to an enumerated value set.
	Choices []any `yaml:"choices,omitempty"`

	// Class names the nested class for embedded fields and the target class
	// for references ("self" allowed).
	Class string `yaml:"class,omitempty"`

	// Elem declares the element type for list and map fields.
	Elem *FieldDef `yaml:"elem,omitempty"`
}

// LoadFile loads and parses a YAML schema file from the given path.
func LoadFile(path string) (*SchemaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read schema file %s", path)
	}

	return Parse(data)
}

// Parse parses YAML data into a SchemaFile.
func Parse(data []byte) (*SchemaFile, error) {
	var sf SchemaFile

	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, errors.Wrap(err, "failed to parse schema YAML")
	}

	if sf.Version == "" {
		sf.Version = "1"
	}

	return &sf, nil
}

// Build registers every class of the file into the registry, in file order.
func (sf *SchemaFile) Build(r *Registry) error {
	for i := range sf.Classes {
		def, err := sf.Classes[i].definition(r)
		if err != nil {
			return err
		}

		if _, err := r.Register(*def); err != nil {
			return err
		}
	}

	return nil
}

func (cd *ClassDef) definition(r *Registry) (*Definition, error) {
	def := &Definition{
		Name:     cd.Name,
		Parent:   cd.Parent,
		Abstract: cd.Abstract,
		Embedded: cd.Embedded,
		Dynamic:  cd.Dynamic,
	}

	switch cd.Inheritance {
	case "":
		def.Inheritance = InheritDefault
	case "enabled":
		def.Inheritance = InheritEnabled
	case "disabled":
		def.Inheritance = InheritDisabled
	default:
		return nil, conflictf(cd.Name, "invalid inheritance mode %q", cd.Inheritance)
	}

	for i := range cd.Fields {
		d, err := cd.Fields[i].descriptor(cd.Name, r)
		if err != nil {
			return nil, err
		}

		def.Fields = append(def.Fields, d)
	}

	return def, nil
}

func (fd *FieldDef) descriptor(class string, r *Registry) (field.Descriptor, error) {
	base := field.Base{
		Logical:    fd.Name,
		Wire:       fd.Wire,
		Required:   fd.Required,
		PrimaryKey: fd.Primary,
		OwnerClass: class,
	}

	switch fd.Type {
	case "string", "int", "float", "bool", "datetime", "objectid", "geopoint":
		s := &field.Scalar{Base: base, Type: scalarType(fd.Type), Choices: fd.Choices}
		return s, nil
	case "embedded":
		if fd.Class == "" {
			return nil, conflictf(class, "embedded field %q needs a class", fd.Name)
		}

		nested, err := r.Lookup(fd.Class)
		if err != nil {
			return nil, err
		}

		return &field.Embedded{Base: base, Nested: nested}, nil
	case "list", "map":
		var elem field.Descriptor

		if fd.Elem != nil {
			inner := *fd.Elem
			if inner.Name == "" {
				inner.Name = fd.Name
			}

			d, err := inner.descriptor(class, r)
			if err != nil {
				return nil, err
			}

			elem = d
		}

		if fd.Type == "list" {
			return &field.List{Base: base, Elem: elem}, nil
		}

		return &field.Map{Base: base, Elem: elem}, nil
	case "reference":
		if fd.Class == "" {
			return nil, conflictf(class, "reference field %q needs a class", fd.Name)
		}

		return &field.Reference{Base: base, TargetClass: fd.Class}, nil
	case "generic-reference":
		return &field.GenericReference{Base: base}, nil
	case "dynamic":
		return &field.Dynamic{Base: base}, nil
	}

	return nil, conflictf(class, "field %q has unknown type %q", fd.Name, fd.Type)
}

func scalarType(name string) field.ScalarType {
	switch name {
	case "int":
		return field.TypeInt
	case "float":
		return field.TypeFloat
	case "bool":
		return field.TypeBool
	case "datetime":
		return field.TypeDateTime
	case "objectid":
		return field.TypeObjectID
	case "geopoint":
		return field.TypeGeoPoint
	default:
		return field.TypeString
	}
}

// Marshal serializes a SchemaFile back to YAML.
func Marshal(sf *SchemaFile) ([]byte, error) {
	data, err := yaml.Marshal(sf)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	return data, nil
}
