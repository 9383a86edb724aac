package model

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LoadCUE builds a model from a CUE document of the form:
//
//	entities: {
//		Customer: {
//			table: "Customers"
//			key: ["Id"]
//			properties: {
//				Id:   "int"
//				Name: "string?"
//			}
//		}
//		Order: {
//			table: "Orders"
//			properties: { Id: "int", CustomerId: "int", Total: "decimal" }
//			references: Customer: { target: "Customer", foreignKey: ["CustomerId"] }
//		}
//	}
//
// A property is either a type name (see TypeByName) or a struct
// {type, column}. Entities get a host type synthesized with reflect.StructOf
// whose exported field names are the title-cased property names.
func LoadCUE(src []byte, filename string) (*Model, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return modelFromCUE(v)
}

// LoadCUEFile reads and loads a single CUE model file.
func LoadCUEFile(path string) (*Model, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return LoadCUE(src, filepath.Base(path))
}

type cueReference struct {
	Target     string   `json:"target"`
	ForeignKey []string `json:"foreignKey"`
}

type cueDiscriminator struct {
	Property string `json:"property"`
	Value    any    `json:"value"`
}

type cueEntity struct {
	Table              string                  `json:"table"`
	Schema             string                  `json:"schema"`
	Base               string                  `json:"base"`
	Abstract           bool                    `json:"abstract"`
	Key                []string                `json:"key"`
	Discriminator      *cueDiscriminator       `json:"discriminator"`
	DiscriminatorValue any                     `json:"discriminatorValue"`
	References         map[string]cueReference `json:"references"`
}

type cueProperty struct {
	name   string
	typ    reflect.Type
	column string
}

type cueDraft struct {
	name  string
	spec  cueEntity
	props []cueProperty
	clr   reflect.Type
}

var fieldCaser = cases.Title(language.Und, cases.NoLower)

// FieldName returns the exported host field name for a schema name.
func FieldName(name string) string { return fieldCaser.String(name) }

func modelFromCUE(v cue.Value) (*Model, error) {
	entitiesVal := v.LookupPath(cue.ParsePath("entities"))
	if !entitiesVal.Exists() {
		return nil, fmt.Errorf("model: entities is required")
	}
	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var drafts []*cueDraft
	byName := map[string]*cueDraft{}
	for iter.Next() {
		name := iter.Selector().String()
		d := &cueDraft{name: name}
		if err := iter.Value().Decode(&d.spec); err != nil {
			return nil, fmt.Errorf("entity %s: %w", name, formatCUEError(err))
		}
		d.props, err = cueProperties(iter.Value().LookupPath(cue.ParsePath("properties")))
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", name, err)
		}
		drafts = append(drafts, d)
		byName[name] = d
	}

	visiting := map[string]bool{}
	var synth func(d *cueDraft) error
	synth = func(d *cueDraft) error {
		if d.clr != nil {
			return nil
		}
		if visiting[d.name] {
			return fmt.Errorf("entity %s: reference cycle", d.name)
		}
		visiting[d.name] = true
		defer delete(visiting, d.name)

		var fields []reflect.StructField
		if d.spec.Base != "" {
			base, ok := byName[d.spec.Base]
			if !ok {
				return fmt.Errorf("entity %s: unknown base %s", d.name, d.spec.Base)
			}
			if err := synth(base); err != nil {
				return err
			}
			d.props = append(append([]cueProperty(nil), base.props...), d.props...)
		}
		for _, p := range d.props {
			fields = append(fields, reflect.StructField{Name: FieldName(p.name), Type: p.typ})
		}
		for _, refName := range sortedKeys(d.spec.References) {
			ref := d.spec.References[refName]
			target, ok := byName[ref.Target]
			if !ok {
				return fmt.Errorf("entity %s: reference %s targets unknown entity %s", d.name, refName, ref.Target)
			}
			if err := synth(target); err != nil {
				return err
			}
			fields = append(fields, reflect.StructField{Name: FieldName(refName), Type: reflect.PointerTo(target.clr)})
		}
		d.clr = reflect.StructOf(fields)
		return nil
	}

	linked := make([]*draft, 0, len(drafts))
	for _, d := range drafts {
		if err := synth(d); err != nil {
			return nil, err
		}
		et := &EntityType{
			Name:               d.name,
			ClrType:            d.clr,
			Table:              d.spec.Table,
			Schema:             d.spec.Schema,
			Abstract:           d.spec.Abstract,
			DiscriminatorValue: d.spec.DiscriminatorValue,
		}
		key := map[string]bool{}
		for _, k := range d.spec.Key {
			key[FieldName(k)] = true
		}
		for i, p := range d.props {
			name := FieldName(p.name)
			et.properties = append(et.properties, &Property{
				Name:       name,
				Column:     p.column,
				Type:       p.typ,
				FieldIndex: []int{i},
				IsKey:      key[name],
			})
		}
		for _, refName := range sortedKeys(d.spec.References) {
			ref := d.spec.References[refName]
			f, _ := d.clr.FieldByName(FieldName(refName))
			fks := make([]string, len(ref.ForeignKey))
			for i, fk := range ref.ForeignKey {
				fks[i] = FieldName(fk)
			}
			et.navigations = append(et.navigations, &Navigation{
				Name:       FieldName(refName),
				TargetName: ref.Target,
				ForeignKey: fks,
				FieldIndex: f.Index,
			})
		}
		discProp := ""
		if d.spec.Discriminator != nil {
			discProp = FieldName(d.spec.Discriminator.Property)
			et.DiscriminatorValue = d.spec.Discriminator.Value
		}
		linked = append(linked, &draft{entity: et, baseName: d.spec.Base, discProp: discProp})
	}
	return link(linked)
}

func cueProperties(v cue.Value) ([]cueProperty, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var props []cueProperty
	for iter.Next() {
		name := iter.Selector().String()
		pv := iter.Value()
		p := cueProperty{name: name, column: name}
		typeName, err := pv.String()
		if err != nil {
			var spec struct {
				Type   string `json:"type"`
				Column string `json:"column"`
			}
			if err := pv.Decode(&spec); err != nil {
				return nil, fmt.Errorf("property %s: %w", name, formatCUEError(err))
			}
			typeName = spec.Type
			if spec.Column != "" {
				p.column = spec.Column
			}
		}
		t, ok := TypeByName(typeName)
		if !ok {
			return nil, fmt.Errorf("property %s: unknown type %q", name, typeName)
		}
		p.typ = t
		props = append(props, p)
	}
	return props, nil
}

func sortedKeys(m map[string]cueReference) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", errors.Details(err, nil))
}
