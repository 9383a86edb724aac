package model

import (
	"reflect"
)

// Provider resolves host types to entity metadata.
type Provider interface {
	FindEntityType(t reflect.Type) *EntityType
}

// Property is a mapped scalar field of an entity type.
type Property struct {
	Name       string       // host field name
	Column     string       // store column name
	Type       reflect.Type // host field type; pointer types are nullable
	FieldIndex []int        // index path into the owning ClrType
	IsKey      bool
}

// Nullable reports whether the column admits NULL.
func (p *Property) Nullable() bool {
	switch p.Type.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Interface:
		return true
	}
	return false
}

// Navigation is a reference from one entity type to another.
type Navigation struct {
	Name         string   // host field name (pointer to the target struct)
	TargetName   string   // target entity name
	ForeignKey   []string // property names on the declaring entity
	IsCollection bool
	FieldIndex   []int

	target *EntityType
}

// Target returns the resolved target entity type.
func (n *Navigation) Target() *EntityType { return n.target }

// EntityType describes one entity type and its storage mapping.
//
// Types sharing a table form a hierarchy rooted at the type without Base.
// Every type in a multi-type hierarchy carries the shared Discriminator
// property and its own DiscriminatorValue.
type EntityType struct {
	Name               string
	ClrType            reflect.Type
	Table              string
	Schema             string
	Base               *EntityType
	Abstract           bool
	Discriminator      *Property
	DiscriminatorValue any

	properties  []*Property
	navigations []*Navigation
	derived     []*EntityType
}

// Properties returns all mapped properties, inherited ones first.
func (e *EntityType) Properties() []*Property { return e.properties }

// Navigations returns the declared navigations.
func (e *EntityType) Navigations() []*Navigation { return e.navigations }

// FindProperty returns the property with the host field name, or nil.
func (e *EntityType) FindProperty(name string) *Property {
	for _, p := range e.properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// FindNavigation returns the navigation with the host field name, or nil.
func (e *EntityType) FindNavigation(name string) *Navigation {
	for t := e; t != nil; t = t.Base {
		for _, n := range t.navigations {
			if n.Name == name {
				return n
			}
		}
	}
	return nil
}

// PrimaryKey returns the key properties in declaration order.
func (e *EntityType) PrimaryKey() []*Property {
	var key []*Property
	for _, p := range e.properties {
		if p.IsKey {
			key = append(key, p)
		}
	}
	return key
}

// Root returns the root of the hierarchy.
func (e *EntityType) Root() *EntityType {
	t := e
	for t.Base != nil {
		t = t.Base
	}
	return t
}

// Derived returns the direct subtypes.
func (e *EntityType) Derived() []*EntityType { return e.derived }

// ConcreteTypes returns e and all of its descendants that are not
// abstract, in declaration order (depth first).
func (e *EntityType) ConcreteTypes() []*EntityType {
	var out []*EntityType
	var walk func(t *EntityType)
	walk = func(t *EntityType) {
		if !t.Abstract {
			out = append(out, t)
		}
		for _, d := range t.derived {
			walk(d)
		}
	}
	walk(e)
	return out
}

// SharesTable reports whether the hierarchy maps more than one concrete
// type to the same table.
func (e *EntityType) SharesTable() bool {
	return len(e.Root().ConcreteTypes()) > 1
}

// QualifiedTable returns schema.table or table.
func (e *EntityType) QualifiedTable() string {
	if e.Schema != "" {
		return e.Schema + "." + e.Table
	}
	return e.Table
}

// Model is an immutable set of entity types.
type Model struct {
	entities []*EntityType
	byType   map[reflect.Type]*EntityType
	byName   map[string]*EntityType
}

var _ Provider = (*Model)(nil)

// FindEntityType resolves t (pointers are dereferenced) or returns nil.
func (m *Model) FindEntityType(t reflect.Type) *EntityType {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil
	}
	return m.byType[t]
}

// FindEntityTypeByName resolves an entity by name or returns nil.
func (m *Model) FindEntityTypeByName(name string) *EntityType {
	return m.byName[name]
}

// EntityTypes returns the entity types in declaration order.
func (m *Model) EntityTypes() []*EntityType { return m.entities }

func newModel(entities []*EntityType) *Model {
	m := &Model{
		entities: entities,
		byType:   make(map[reflect.Type]*EntityType, len(entities)),
		byName:   make(map[string]*EntityType, len(entities)),
	}
	for _, e := range entities {
		m.byType[e.ClrType] = e
		m.byName[e.Name] = e
	}
	return m
}
