package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/relq/internal/model"
)

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func qualified(schema, table string) string {
	if schema != "" {
		return quote(schema) + "." + quote(table)
	}
	return quote(table)
}

// SchemaDDL returns one CREATE TABLE statement per table of m, in
// declaration order of the hierarchy roots.
func SchemaDDL(m *model.Model, mappings model.TypeMappingSource) ([]string, error) {
	if mappings == nil {
		mappings = model.NewTypeMappings()
	}
	var stmts []string
	for _, root := range m.EntityTypes() {
		if root.Base != nil {
			continue
		}
		type column struct {
			name, storeType string
			notNull         bool
		}
		var columns []column
		seen := map[string]bool{}
		var visit func(et *model.EntityType)
		visit = func(et *model.EntityType) {
			for _, p := range et.Properties() {
				if seen[p.Column] {
					continue
				}
				seen[p.Column] = true
				mapping := mappings.FindMapping(p.Type)
				storeType := "BLOB"
				if mapping != nil {
					storeType = mapping.StoreType
				}
				columns = append(columns, column{
					name:      p.Column,
					storeType: storeType,
					notNull:   et == root && !p.Nullable(),
				})
			}
			for _, d := range et.Derived() {
				visit(d)
			}
		}
		visit(root)

		var key []string
		for _, p := range root.PrimaryKey() {
			key = append(key, quote(p.Column))
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("entity %s: no primary key", root.Name)
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (", qualified(root.Schema, root.Table))
		for i, c := range columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quote(c.name) + " " + c.storeType)
			if c.notNull {
				sb.WriteString(" NOT NULL")
			}
		}
		fmt.Fprintf(&sb, ", PRIMARY KEY (%s))", strings.Join(key, ", "))
		stmts = append(stmts, sb.String())
	}
	return stmts, nil
}

// CreateSchema creates the tables of m if they do not exist.
func (s *Store) CreateSchema(ctx context.Context, m *model.Model) error {
	stmts, err := SchemaDDL(m, nil)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	for _, stmt := range stmts {
		if err := s.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Insert adds one row to table. Columns are written in sorted order so the
// generated statement is deterministic.
func (s *Store) Insert(ctx context.Context, table string, row map[string]any) error {
	if len(row) == 0 {
		return fmt.Errorf("insert into %s: empty row", table)
	}
	columns := make([]string, 0, len(row))
	for c := range row {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
		marks[i] = "?"
		args[i] = row[c]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}
