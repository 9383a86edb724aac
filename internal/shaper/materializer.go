package shaper

import (
	"fmt"
	"reflect"

	"github.com/roach88/relq/internal/eval"
	"github.com/roach88/relq/internal/model"
)

// concreteType is one instantiable type of a hierarchy with the slot of
// each of its properties, in Properties() order.
type concreteType struct {
	entity *model.EntityType
	slots  []int
}

// IncludeFixup assigns the entity built by Target to the navigation field
// of the owning entity.
type IncludeFixup struct {
	Navigation *model.Navigation
	Target     *EntityMaterializer
}

// EntityMaterializer builds entity values from a row. For hierarchies
// sharing a table the discriminator slot selects the concrete type.
type EntityMaterializer struct {
	Entity   *model.EntityType
	Tracking bool
	Includes []IncludeFixup

	// SkipUnknownDiscriminator yields nil instead of an error for rows of
	// types outside Entity's hierarchy branch. Literal SQL cannot be
	// filtered in the store, so such rows reach the materializer.
	SkipUnknownDiscriminator bool

	types             []concreteType
	discriminatorSlot int
	keySlots          []int
}

// MaterializerFactory creates entity materializers, registering the
// columns they read through addToProjection.
type MaterializerFactory struct{}

// Create projects every property of every concrete type of entity and
// returns the materializer plus, per host type, the slot of each property.
// Properties of different types mapped to the same column share a slot.
func (MaterializerFactory) Create(entity *model.EntityType, addToProjection func(*model.Property) int) (*EntityMaterializer, map[reflect.Type][]int) {
	m := &EntityMaterializer{Entity: entity, discriminatorSlot: -1}
	byColumn := map[string]int{}
	slotOf := func(p *model.Property) int {
		if s, ok := byColumn[p.Column]; ok {
			return s
		}
		s := addToProjection(p)
		byColumn[p.Column] = s
		return s
	}

	for _, p := range entity.PrimaryKey() {
		m.keySlots = append(m.keySlots, slotOf(p))
	}
	if entity.Discriminator != nil && entity.SharesTable() {
		m.discriminatorSlot = slotOf(entity.Discriminator)
	}

	concretes := entity.ConcreteTypes()
	if len(concretes) == 0 {
		concretes = []*model.EntityType{entity}
	}
	typeMap := make(map[reflect.Type][]int, len(concretes))
	for _, c := range concretes {
		ct := concreteType{entity: c}
		for _, p := range c.Properties() {
			ct.slots = append(ct.slots, slotOf(p))
		}
		m.types = append(m.types, ct)
		typeMap[c.ClrType] = ct.slots
	}
	return m, typeMap
}

func (m *EntityMaterializer) IsTracking() bool       { return m.Tracking }
func (m *EntityMaterializer) EntityTypeName() string { return m.Entity.Name }

// Key returns the key values of the row, or nil when every key slot is
// NULL (an outer join with no match).
func (m *EntityMaterializer) Key(values []any) []any {
	key := make([]any, len(m.keySlots))
	allNull := true
	for i, s := range m.keySlots {
		if s < len(values) {
			key[i] = values[s]
		}
		if key[i] != nil {
			allNull = false
		}
	}
	if allNull {
		return nil
	}
	return key
}

// Shape materializes the entity of the current row. A row whose key is
// entirely NULL yields nil.
func (m *EntityMaterializer) Shape(env *eval.Env) (any, error) {
	key := m.Key(env.Buffer)
	if key == nil {
		return nil, nil
	}
	ct, err := m.concreteFor(env.Buffer)
	if err != nil {
		return nil, err
	}
	if ct == nil {
		return nil, nil
	}
	create := func() (any, error) { return m.build(env, ct) }
	if !m.Tracking || env.Identity == nil {
		return create()
	}
	var buildErr error
	v := env.Identity.Resolve(ct.entity.Root().Name, key, func() any {
		v, err := create()
		buildErr = err
		return v
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return v, nil
}

func (m *EntityMaterializer) concreteFor(values []any) (*concreteType, error) {
	if m.discriminatorSlot < 0 || len(m.types) == 1 {
		return &m.types[0], nil
	}
	disc := values[m.discriminatorSlot]
	for i := range m.types {
		if eval.Equal(m.types[i].entity.DiscriminatorValue, disc) {
			return &m.types[i], nil
		}
	}
	if m.SkipUnknownDiscriminator {
		return nil, nil
	}
	return nil, fmt.Errorf("entity %s: unknown discriminator value %v", m.Entity.Name, disc)
}

func (m *EntityMaterializer) build(env *eval.Env, ct *concreteType) (any, error) {
	out := reflect.New(ct.entity.ClrType).Elem()
	for i, p := range ct.entity.Properties() {
		v, err := eval.ConvertTo(env.Buffer[ct.slots[i]], p.Type)
		if err != nil {
			return nil, fmt.Errorf("entity %s property %s: %w", ct.entity.Name, p.Name, err)
		}
		if v != nil {
			out.FieldByIndex(p.FieldIndex).Set(reflect.ValueOf(v))
		}
	}
	for _, inc := range m.Includes {
		nav := ct.entity.FindNavigation(inc.Navigation.Name)
		if nav == nil {
			continue
		}
		target, err := inc.Target.Shape(env)
		if err != nil {
			return nil, err
		}
		if target == nil {
			continue
		}
		field := out.FieldByName(nav.Name)
		tv := reflect.ValueOf(target)
		if field.Kind() == reflect.Pointer && tv.Kind() != reflect.Pointer {
			p := reflect.New(tv.Type())
			p.Elem().Set(tv)
			tv = p
		}
		if !tv.Type().AssignableTo(field.Type()) {
			return nil, fmt.Errorf("entity %s: cannot assign %v to navigation %s", ct.entity.Name, tv.Type(), nav.Name)
		}
		field.Set(tv)
	}
	return out.Interface(), nil
}
