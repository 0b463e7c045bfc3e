package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	tables := []string{"snapshots", "manifest_entries", "sync_operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := CheckStatus(db); !errors.Is(err, ErrNeedsMigration) {
		t.Errorf("CheckStatus() error = %v, want ErrNeedsMigration", err)
	}
}

func TestCheckStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := CheckStatus(db); err != nil {
		t.Errorf("CheckStatus() after migration returned error: %v", err)
	}
}

func TestUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("first Up() failed: %v", err)
	}
	if err := Up(db); err != nil {
		t.Errorf("second Up() failed: %v", err)
	}
	if err := CheckStatus(db); err != nil {
		t.Errorf("CheckStatus() after double migration returned error: %v", err)
	}
}

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if v != 2 {
		t.Errorf("LatestVersion() = %d, want 2", v)
	}
}

func TestManifestEntriesCascade(t *testing.T) {
	db := openTestDB(t)
	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO manifest_entries (document_id, path, hash, size) VALUES ('missing', '', 'h', 1)`); err == nil {
		t.Error("expected foreign key violation for an entry without snapshot")
	}

	if _, err := db.Exec(`INSERT INTO snapshots (document_id, container, path, version_token, modified_at, size, updated_at)
		VALUES ('doc-1', 'c', 'a.txt', 'v1', '2024-01-01T00:00:00Z', 1, '2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("inserting snapshot: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO manifest_entries (document_id, path, hash, size) VALUES ('doc-1', '', 'h', 1)`); err != nil {
		t.Fatalf("inserting entry: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM snapshots WHERE document_id = 'doc-1'`); err != nil {
		t.Fatalf("deleting snapshot: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM manifest_entries`).Scan(&n); err != nil {
		t.Fatalf("counting entries: %v", err)
	}
	if n != 0 {
		t.Errorf("manifest entries left after delete: %d", n)
	}
}

// openTestDB opens an in-memory SQLite database with foreign keys enabled.
// A single connection keeps every statement on the same in-memory database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	return db
}
