package model

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/mitranim/refut"
)

// Builder assembles a Model from Go struct types.
//
// Columns default to the `db` struct tag (or the field name); a field tagged
// `relq:"key"` is part of the primary key. Fields whose type is another
// registered entity are navigations, not properties.
//
//	b := model.NewBuilder()
//	b.Entity(Customer{}).ToTable("Customers")
//	b.Entity(Order{}).ToTable("Orders").HasReference("Customer", Customer{}, "CustomerID")
//	m, err := b.Build()
type Builder struct {
	mappings TypeMappingSource
	entities []*EntityBuilder
}

// NewBuilder creates a builder using the default type mappings.
func NewBuilder() *Builder {
	return &Builder{mappings: NewTypeMappings()}
}

// WithTypeMappings replaces the mapping source used to decide which fields
// are mappable.
func (b *Builder) WithTypeMappings(s TypeMappingSource) *Builder {
	b.mappings = s
	return b
}

// EntityBuilder configures one entity type.
type EntityBuilder struct {
	clr       reflect.Type
	table     string
	schema    string
	key       []string
	columns   map[string]string
	ignored   map[string]bool
	base      reflect.Type
	abstract  bool
	discProp  string
	discValue any
	refs      []*Navigation
}

// Entity returns the builder for the type carried by sample, creating it on
// first use.
func (b *Builder) Entity(sample any) *EntityBuilder {
	t := derefType(sample)
	for _, e := range b.entities {
		if e.clr == t {
			return e
		}
	}
	e := &EntityBuilder{clr: t, columns: map[string]string{}, ignored: map[string]bool{}}
	b.entities = append(b.entities, e)
	return e
}

func derefType(sample any) reflect.Type {
	t, ok := sample.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(sample)
	}
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func (e *EntityBuilder) ToTable(name string) *EntityBuilder { e.table = name; return e }
func (e *EntityBuilder) InSchema(name string) *EntityBuilder { e.schema = name; return e }
func (e *EntityBuilder) HasKey(props ...string) *EntityBuilder {
	e.key = props
	return e
}
func (e *EntityBuilder) HasColumn(prop, column string) *EntityBuilder {
	e.columns[prop] = column
	return e
}
func (e *EntityBuilder) Ignore(prop string) *EntityBuilder { e.ignored[prop] = true; return e }
func (e *EntityBuilder) IsAbstract() *EntityBuilder         { e.abstract = true; return e }

// DerivesFrom places the entity in the hierarchy of base; it shares the
// root's table.
func (e *EntityBuilder) DerivesFrom(base any) *EntityBuilder {
	e.base = derefType(base)
	return e
}

// HasDiscriminator declares the hierarchy discriminator on the root along
// with the root's own value.
func (e *EntityBuilder) HasDiscriminator(prop string, value any) *EntityBuilder {
	e.discProp = prop
	e.discValue = value
	return e
}

// HasDiscriminatorValue sets the discriminator value of a derived type.
func (e *EntityBuilder) HasDiscriminatorValue(value any) *EntityBuilder {
	e.discValue = value
	return e
}

// HasReference declares a reference navigation to target through the given
// foreign key properties.
func (e *EntityBuilder) HasReference(nav string, target any, foreignKey ...string) *EntityBuilder {
	e.refs = append(e.refs, &Navigation{
		Name:       nav,
		TargetName: derefType(target).Name(),
		ForeignKey: foreignKey,
	})
	return e
}

// Build validates the configuration and returns the model.
func (b *Builder) Build() (*Model, error) {
	entityTypes := make(map[reflect.Type]bool, len(b.entities))
	for _, e := range b.entities {
		if e.clr == nil || e.clr.Kind() != reflect.Struct {
			return nil, fmt.Errorf("entity %v: must be a struct type", e.clr)
		}
		entityTypes[e.clr] = true
	}

	drafts := make([]*draft, 0, len(b.entities))
	for _, e := range b.entities {
		et := &EntityType{
			Name:               e.clr.Name(),
			ClrType:            e.clr,
			Table:              e.table,
			Schema:             e.schema,
			Abstract:           e.abstract,
			DiscriminatorValue: e.discValue,
		}
		props, err := b.properties(e, entityTypes)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", et.Name, err)
		}
		et.properties = props
		for _, ref := range e.refs {
			f, ok := e.clr.FieldByName(ref.Name)
			if !ok {
				return nil, fmt.Errorf("entity %s: navigation field %s not found", et.Name, ref.Name)
			}
			nav := *ref
			nav.FieldIndex = f.Index
			et.navigations = append(et.navigations, &nav)
		}
		baseName := ""
		if e.base != nil {
			baseName = e.base.Name()
		}
		drafts = append(drafts, &draft{entity: et, baseName: baseName, discProp: e.discProp})
	}
	return link(drafts)
}

func (b *Builder) properties(e *EntityBuilder, entityTypes map[reflect.Type]bool) ([]*Property, error) {
	var props []*Property
	err := refut.TraverseStructRtype(e.clr, func(sfield reflect.StructField, index []int) error {
		if sfield.Anonymous || sfield.PkgPath != "" || e.ignored[sfield.Name] {
			return nil
		}
		elem := sfield.Type
		for elem.Kind() == reflect.Pointer || (elem.Kind() == reflect.Slice && elem != bytesType) {
			elem = elem.Elem()
		}
		if entityTypes[elem] {
			return nil
		}
		if b.mappings.FindMapping(sfield.Type) == nil {
			return nil
		}
		column := sfield.Name
		if tag, ok := sfield.Tag.Lookup("db"); ok {
			if tag == "-" {
				return nil
			}
			if ident := refut.TagIdent(tag); ident != "" {
				column = ident
			}
		}
		if c, ok := e.columns[sfield.Name]; ok {
			column = c
		}
		props = append(props, &Property{
			Name:       sfield.Name,
			Column:     column,
			Type:       sfield.Type,
			FieldIndex: append([]int(nil), index...),
			IsKey:      refut.TagIdent(sfield.Tag.Get("relq")) == "key",
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(e.key) > 0 {
		for _, p := range props {
			p.IsKey = false
		}
		for _, k := range e.key {
			p := findProp(props, k)
			if p == nil {
				return nil, fmt.Errorf("key property %s not found", k)
			}
			p.IsKey = true
		}
	}
	return props, nil
}

func findProp(props []*Property, name string) *Property {
	for _, p := range props {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// draft is an entity type before hierarchy and navigation linking.
type draft struct {
	entity   *EntityType
	baseName string
	discProp string
}

// link wires bases, discriminators and navigation targets and validates
// the result. Shared by the struct builder and the CUE loader.
func link(drafts []*draft) (*Model, error) {
	byName := make(map[string]*draft, len(drafts))
	entities := make([]*EntityType, 0, len(drafts))
	for _, d := range drafts {
		if _, dup := byName[d.entity.Name]; dup {
			return nil, fmt.Errorf("entity %s declared twice", d.entity.Name)
		}
		byName[d.entity.Name] = d
		entities = append(entities, d.entity)
	}

	for _, d := range drafts {
		if d.baseName == "" {
			continue
		}
		base, ok := byName[d.baseName]
		if !ok {
			return nil, fmt.Errorf("entity %s: unknown base %s", d.entity.Name, d.baseName)
		}
		d.entity.Base = base.entity
		base.entity.derived = append(base.entity.derived, d.entity)
	}

	var errs []error
	for _, d := range drafts {
		et := d.entity
		root := et.Root()
		if root != et {
			et.Table, et.Schema = root.Table, root.Schema
		}
		if et.Table == "" {
			errs = append(errs, fmt.Errorf("entity %s: no table", et.Name))
		}
		if len(et.PrimaryKey()) == 0 {
			if p := et.FindProperty("ID"); p != nil {
				p.IsKey = true
			} else if p := et.FindProperty("Id"); p != nil {
				p.IsKey = true
			} else {
				errs = append(errs, fmt.Errorf("entity %s: no primary key", et.Name))
			}
		}
	}
	for _, d := range drafts {
		et := d.entity
		root := et.Root()
		discProp := byName[root.Name].discProp
		if discProp != "" {
			p := et.FindProperty(discProp)
			if p == nil {
				errs = append(errs, fmt.Errorf("entity %s: discriminator property %s not found", et.Name, discProp))
			}
			et.Discriminator = p
		}
		for _, n := range et.navigations {
			target, ok := byName[n.TargetName]
			if !ok {
				errs = append(errs, fmt.Errorf("entity %s: navigation %s targets unknown entity %s", et.Name, n.Name, n.TargetName))
				continue
			}
			n.target = target.entity
			for _, fk := range n.ForeignKey {
				if et.FindProperty(fk) == nil {
					errs = append(errs, fmt.Errorf("entity %s: foreign key property %s not found", et.Name, fk))
				}
			}
			if len(n.ForeignKey) != len(target.entity.PrimaryKey()) && len(target.entity.PrimaryKey()) > 0 {
				errs = append(errs, fmt.Errorf("entity %s: navigation %s foreign key does not match target key", et.Name, n.Name))
			}
		}
	}

	for _, et := range entities {
		if et.Base != nil || !et.SharesTable() {
			continue
		}
		if et.Discriminator == nil {
			errs = append(errs, fmt.Errorf("hierarchy %s: shared table without discriminator", et.Name))
			continue
		}
		for _, c := range et.ConcreteTypes() {
			if c.DiscriminatorValue == nil {
				errs = append(errs, fmt.Errorf("entity %s: missing discriminator value", c.Name))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return newModel(entities), nil
}
