package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// DefinitionsSchema mirrors the upstream definitions table inside an attached
// "Reports" schema, plus a small visits table report queries can select from.
const DefinitionsSchema = `
ATTACH DATABASE ':memory:' AS "Reports";
CREATE TABLE "Reports"."ReportDefinitions" (
	"Name"       TEXT NOT NULL,
	"Definition" TEXT NOT NULL,
	"State"      INTEGER NOT NULL DEFAULT 0,
	"AssignId"   INTEGER NOT NULL
);
CREATE TABLE visits (
	"Shop"      TEXT NOT NULL,
	"Hours"     REAL NOT NULL,
	"VisitedAt" TEXT NOT NULL
);
`

// NewDefinitionsDB creates an in-memory SQLite database with the definitions
// schema applied. The pool is pinned to one connection so the attached schema
// stays visible. The database is closed when the test completes.
func NewDefinitionsDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(DefinitionsSchema); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// AddDefinition inserts one report definition row.
func AddDefinition(t *testing.T, db *sql.DB, name, definition string, state, assignID int) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO "Reports"."ReportDefinitions" ("Name", "Definition", "State", "AssignId") VALUES (?, ?, ?, ?)`,
		name, definition, state, assignID,
	)
	if err != nil {
		t.Fatalf("failed to insert definition %q: %v", name, err)
	}
}
