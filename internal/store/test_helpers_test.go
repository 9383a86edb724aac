package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/relq/internal/testutil"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createSeededStore creates a store holding the fixture schema and rows.
func createSeededStore(t *testing.T) *Store {
	t.Helper()
	s := createTestStore(t)
	ctx := context.Background()
	if err := s.CreateSchema(ctx, testutil.MustModel()); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	for _, table := range testutil.Seed() {
		for _, row := range table.Rows {
			if err := s.Insert(ctx, table.Table, row); err != nil {
				t.Fatalf("Insert() failed: %v", err)
			}
		}
	}
	return s
}
