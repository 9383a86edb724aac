package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/testutil"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Query(context.Background(), "SELECT 1 AS one")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, res.Columns)
	assert.Equal(t, [][]any{{int64(1)}}, res.Rows)
}

func TestOpen_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.CreateSchema(ctx, testutil.MustModel()))
	require.NoError(t, s1.Insert(ctx, "Customers", testutil.Row{"Id": 1, "Name": "Ann"}))
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	// CreateSchema is idempotent
	require.NoError(t, s2.CreateSchema(ctx, testutil.MustModel()))
	res, err := s2.Query(ctx, `SELECT COUNT(*) FROM "Customers"`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0][0])
}

func TestOpen_InvalidPath(t *testing.T) {
	// Try to open in non-existent directory
	path := "/nonexistent/dir/test.db"

	_, err := Open(path)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	err := s.Close()
	if err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// First close should succeed
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close should not panic (though may error)
	// We just verify it doesn't panic
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	db := s.DB()
	if db == nil {
		t.Error("DB() returned nil")
	}

	// Verify it's usable
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// ON = 1
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

// Schema and query tests

func TestSchemaDDL_FixtureModel(t *testing.T) {
	stmts, err := SchemaDDL(testutil.MustModel(), nil)
	require.NoError(t, err)
	require.Len(t, stmts, 3, "one table per hierarchy root")

	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "Customers" ("Id" INTEGER NOT NULL, "Name" TEXT NOT NULL, "City" TEXT, PRIMARY KEY ("Id"))`,
		stmts[0])
	assert.Contains(t, stmts[2], `"Breed" TEXT`)
	assert.Contains(t, stmts[2], `"Lives" INTEGER`)
	assert.NotContains(t, stmts[2], `"Lives" INTEGER NOT NULL`)
}

func TestQuery_ReadsRowsInProjectionOrder(t *testing.T) {
	s := createSeededStore(t)

	res, err := s.Query(context.Background(),
		`SELECT "Name", "City" FROM "Customers" WHERE "Id" IN (?, ?) ORDER BY "Id"`, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "City"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.EqualValues(t, "Ann", asString(res.Rows[0][0]))
	assert.Nil(t, res.Rows[1][1], "NULL scans as nil")
	assert.Equal(t, 1, res.ColumnIndex("City"))
	assert.Equal(t, -1, res.ColumnIndex("Missing"))
}

func TestQuery_EmptyResultIsNotNil(t *testing.T) {
	s := createSeededStore(t)

	res, err := s.Query(context.Background(), `SELECT "Id" FROM "Customers" WHERE "Id" < 0`)
	require.NoError(t, err)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
}

func TestQuery_Errors(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Query(context.Background(), `SELECT * FROM "Nope"`)
	assert.ErrorContains(t, err, "query:")

	err = s.Insert(context.Background(), "Customers", testutil.Row{})
	assert.ErrorContains(t, err, "empty row")
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return ""
}
