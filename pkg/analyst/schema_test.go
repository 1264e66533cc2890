package analyst

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subterminator/agents/pkg/errs"
)

func createTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.db")
	createTestDBAt(t, path)
	return path
}

func createTestDBAt(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	stmts := []string{
		`CREATE TABLE customers (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			tier TEXT
		)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			customer_id INTEGER NOT NULL,
			total REAL,
			FOREIGN KEY (customer_id) REFERENCES customers(id)
		)`,
		`INSERT INTO customers (name, tier) VALUES ('Ada', 'pro'), ('Grace', 'free')`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	// The analyst only serves write-protected files.
	require.NoError(t, os.Chmod(path, 0o444))
}

func TestDiscoverSchema(t *testing.T) {
	path := createTestDB(t)

	schema, err := DiscoverSchema(context.Background(), path)
	require.NoError(t, err)

	assert.Contains(t, schema, "TABLE customers (")
	assert.Contains(t, schema, "id INTEGER PRIMARY KEY")
	assert.Contains(t, schema, "name TEXT NOT NULL")
	assert.Contains(t, schema, "TABLE orders (")
	assert.Contains(t, schema, "FOREIGN KEY orders.customer_id -> customers.id")

	// Tables are listed alphabetically: customers before orders.
	assert.Less(t, strings.Index(schema, "TABLE customers"), strings.Index(schema, "TABLE orders"))
}

func TestDiscoverSchemaDeterministic(t *testing.T) {
	path := createTestDB(t)

	first, err := DiscoverSchema(context.Background(), path)
	require.NoError(t, err)
	second, err := DiscoverSchema(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDiscoverSchemaMissingFile(t *testing.T) {
	_, err := DiscoverSchema(context.Background(), filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, errs.KindDatabaseUnavailable, errs.KindOf(err))
}

func TestDiscoverSchemaSizeCap(t *testing.T) {
	// Enough tables to blow past the prompt budget.
	path := filepath.Join(t.TempDir(), "huge.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for i := 0; i < 300; i++ {
		_, err := db.Exec(fmt.Sprintf(
			"CREATE TABLE %s_%03d (id INTEGER PRIMARY KEY, payload TEXT, created_at TEXT)",
			strings.Repeat("x", 30), i))
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	require.NoError(t, os.Chmod(path, 0o444))

	_, err = DiscoverSchema(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestDiscoverSchemaRefusesWritableFile(t *testing.T) {
	path := createTestDB(t)
	require.NoError(t, os.Chmod(path, 0o644))

	_, err := DiscoverSchema(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
	assert.Contains(t, err.Error(), "accepted a write")
}
