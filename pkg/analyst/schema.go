// Package analyst implements the agentic data analyst behind the gateway:
// schema discovery over a read-only SQLite file, the system prompt, the
// LM/tool session loop, and the provider that serves HTTP requests.
package analyst

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/subterminator/agents/pkg/errs"
)

// schemaMaxChars caps the schema block embedded in the system prompt.
// A database too large to describe is a deployment problem, not something
// to silently truncate.
const schemaMaxChars = 12000

type column struct {
	Name    string
	Type    string
	NotNull bool
	PK      bool
}

type foreignKey struct {
	From     string
	RefTable string
	RefCol   string
}

type table struct {
	Name        string
	Columns     []column
	ForeignKeys []foreignKey
}

// DiscoverSchema opens dbPath read-only, verifies writes are rejected, and
// renders a deterministic text description of every user table. Re-running
// against an unchanged file yields byte-identical output.
func DiscoverSchema(ctx context.Context, dbPath string) (string, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return "", errs.Wrap(errs.KindDatabaseUnavailable, err, "database file %s not accessible", dbPath)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return "", errs.Wrap(errs.KindDatabaseUnavailable, err, "cannot open %s", dbPath)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return "", errs.Wrap(errs.KindDatabaseUnavailable, err, "cannot read %s", dbPath)
	}
	if err := verifyReadOnly(ctx, dbPath); err != nil {
		return "", err
	}

	tables, err := readTables(ctx, db)
	if err != nil {
		return "", err
	}

	text := renderSchema(tables)
	if len(text) > schemaMaxChars {
		return "", errs.New(errs.KindConfiguration,
			"schema description is %d chars, exceeds the %d limit", len(text), schemaMaxChars)
	}
	return text, nil
}

// verifyReadOnly opens a second, read-write connection to the file and
// attempts a DDL statement. The write must be rejected at the OS level
// (the operator is expected to serve a write-protected file); if it lands,
// a prompt-injected query could mutate the data, so the analyst refuses to
// start.
func verifyReadOnly(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "CREATE TABLE _write_check_ (x INTEGER)")
	if err == nil {
		_, _ = db.ExecContext(ctx, "DROP TABLE _write_check_")
		return errs.New(errs.KindConfiguration, "database file accepted a write, refusing to serve")
	}
	return nil
}

func readTables(ctx context.Context, db *sql.DB) ([]table, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseUnavailable, err, "cannot list tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.KindDatabaseUnavailable, err, "cannot scan table name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindDatabaseUnavailable, err, "table listing failed")
	}

	tables := make([]table, 0, len(names))
	for _, name := range names {
		t := table{Name: name}
		if t.Columns, err = readColumns(ctx, db, name); err != nil {
			return nil, err
		}
		if t.ForeignKeys, err = readForeignKeys(ctx, db, name); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func readColumns(ctx context.Context, db *sql.DB, tableName string) ([]column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", tableName))
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseUnavailable, err, "cannot read columns of %s", tableName)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var (
			cid     int
			c       column
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notnull, &dflt, &pk); err != nil {
			return nil, errs.Wrap(errs.KindDatabaseUnavailable, err, "cannot scan column of %s", tableName)
		}
		c.NotNull = notnull != 0
		c.PK = pk != 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func readForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]foreignKey, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", tableName))
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseUnavailable, err, "cannot read foreign keys of %s", tableName)
	}
	defer rows.Close()

	var fks []foreignKey
	for rows.Next() {
		var (
			id, seq            int
			refTable, from, to string
			onUpdate, onDelete string
			match              string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, errs.Wrap(errs.KindDatabaseUnavailable, err, "cannot scan foreign key of %s", tableName)
		}
		fks = append(fks, foreignKey{From: from, RefTable: refTable, RefCol: to})
	}
	return fks, rows.Err()
}

func renderSchema(tables []table) string {
	var b strings.Builder
	for i, t := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "TABLE %s (\n", t.Name)
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  %s %s", c.Name, c.Type)
			if c.PK {
				b.WriteString(" PRIMARY KEY")
			}
			if c.NotNull {
				b.WriteString(" NOT NULL")
			}
			b.WriteString("\n")
		}
		b.WriteString(")\n")
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "  FOREIGN KEY %s.%s -> %s.%s\n", t.Name, fk.From, fk.RefTable, fk.RefCol)
		}
	}
	return b.String()
}
