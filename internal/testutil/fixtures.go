// Package testutil provides the shared entity model and seed data used by
// package tests, the scenario harness and the CLI demo database.
package testutil

import (
	"github.com/roach88/relq/internal/model"
)

// Customer is a plain entity with a nullable column.
type Customer struct {
	ID   int `db:"Id" relq:"key"`
	Name string
	City *string
}

// Order references Customer through a nullable foreign key.
type Order struct {
	ID         int `db:"Id" relq:"key"`
	CustomerID *int
	Total      float64
	Note       *string
	Customer   *Customer
}

// Animal is the root of a hierarchy of three concrete types sharing the
// Animals table, discriminated by Kind.
type Animal struct {
	ID   int `db:"Id" relq:"key"`
	Name string
	Kind string
}

type Dog struct {
	Animal
	Breed *string
}

type Cat struct {
	Animal
	Lives *int
}

// NewModel builds the fixture model.
func NewModel() (*model.Model, error) {
	b := model.NewBuilder()
	b.Entity(Customer{}).ToTable("Customers")
	b.Entity(Order{}).ToTable("Orders").HasReference("Customer", Customer{}, "CustomerID")
	b.Entity(Animal{}).ToTable("Animals").HasDiscriminator("Kind", "animal")
	b.Entity(Dog{}).DerivesFrom(Animal{}).HasDiscriminatorValue("dog")
	b.Entity(Cat{}).DerivesFrom(Animal{}).HasDiscriminatorValue("cat")
	return b.Build()
}

// MustModel is NewModel for tests; it panics on error.
func MustModel() *model.Model {
	m, err := NewModel()
	if err != nil {
		panic(err)
	}
	return m
}

// Row is one seed row keyed by column.
type Row = map[string]any

// SeedTable is the rows of one table in insertion order.
type SeedTable struct {
	Table string
	Rows  []Row
}

// Seed returns the fixture rows.
func Seed() []SeedTable {
	return []SeedTable{
		{Table: "Customers", Rows: []Row{
			{"Id": 1, "Name": "Ann", "City": "Oslo"},
			{"Id": 2, "Name": "Bob", "City": nil},
			{"Id": 3, "Name": "Cid", "City": "Rome"},
			{"Id": 4, "Name": "Ann", "City": "Rome"},
		}},
		{Table: "Orders", Rows: []Row{
			{"Id": 10, "CustomerID": 1, "Total": 25.0, "Note": "gift"},
			{"Id": 11, "CustomerID": 1, "Total": 75.5, "Note": nil},
			{"Id": 12, "CustomerID": 3, "Total": 10.0, "Note": nil},
			{"Id": 13, "CustomerID": nil, "Total": 5.0, "Note": "walk-in"},
		}},
		{Table: "Animals", Rows: []Row{
			{"Id": 1, "Name": "Generic", "Kind": "animal", "Breed": nil, "Lives": nil},
			{"Id": 2, "Name": "Rex", "Kind": "dog", "Breed": "Collie", "Lives": nil},
			{"Id": 3, "Name": "Tom", "Kind": "cat", "Breed": nil, "Lives": 9},
			{"Id": 4, "Name": "Fido", "Kind": "dog", "Breed": nil, "Lives": nil},
		}},
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
