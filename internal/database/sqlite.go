package database

import (
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"docsync-go/internal/database/migrations"
	"docsync-go/internal/docsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements docsync.SnapshotStore on a SQLite database. One
// database holds the snapshots of one account.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ docsync.SnapshotStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path, applies pending migrations and
// verifies the schema. path can be a file path or ":memory:".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := s.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot database schema out of date: %w", err)
	}
	return s, nil
}

// OpenConnection opens and configures a SQLite connection. A single
// connection serializes writers and keeps ":memory:" databases shared.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database (%s): %w", pragma, err)
		}
	}
	return db, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// ReadSnapshot loads the record for id.
func (s *SQLiteStore) ReadSnapshot(id docsync.DocumentID) (*docsync.Snapshot, error) {
	row := s.db.QueryRow(`SELECT document_id, container, path, is_package, version_token, modified_at, size
		FROM snapshots WHERE document_id = ?`, string(id))
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, docsync.ErrSnapshotNotFound)
		}
		return nil, err
	}
	if err := s.loadManifest(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// WriteSnapshot replaces the record for snap.DocumentID in one transaction.
func (s *SQLiteStore) WriteSnapshot(snap *docsync.Snapshot) error {
	if snap == nil || snap.DocumentID == "" {
		return errors.New("writing snapshot: document id is required")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO snapshots (document_id, container, path, is_package, version_token, modified_at, size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			container = excluded.container,
			path = excluded.path,
			is_package = excluded.is_package,
			version_token = excluded.version_token,
			modified_at = excluded.modified_at,
			size = excluded.size,
			updated_at = excluded.updated_at`,
		string(snap.DocumentID), snap.Container, snap.Path, snap.IsPackage, snap.VersionToken,
		snap.ModifiedAt.UTC().Format(time.RFC3339Nano), snap.Size, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing snapshot %s: %w", snap.DocumentID, err)
	}
	if _, err := tx.Exec(`DELETE FROM manifest_entries WHERE document_id = ?`, string(snap.DocumentID)); err != nil {
		return fmt.Errorf("clearing manifest of %s: %w", snap.DocumentID, err)
	}
	for _, e := range snap.Manifest {
		if _, err := tx.Exec(`INSERT INTO manifest_entries (document_id, path, hash, size) VALUES (?, ?, ?, ?)`,
			string(snap.DocumentID), e.Path, e.Hash, e.Size); err != nil {
			return fmt.Errorf("writing manifest of %s: %w", snap.DocumentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot %s: %w", snap.DocumentID, err)
	}
	return nil
}

// EnumerateSnapshots yields every record ordered by document id. Rows that
// cannot be decoded are yielded as *docsync.CorruptSnapshotError.
func (s *SQLiteStore) EnumerateSnapshots() iter.Seq2[*docsync.Snapshot, error] {
	return func(yield func(*docsync.Snapshot, error) bool) {
		// Rows are collected first: the single connection is busy until
		// they are closed, and loading manifests needs it.
		rows, err := s.db.Query(`SELECT document_id, container, path, is_package, version_token, modified_at, size
			FROM snapshots ORDER BY document_id`)
		if err != nil {
			yield(nil, fmt.Errorf("listing snapshots: %w", err))
			return
		}
		var snaps []*docsync.Snapshot
		var corrupt []error
		for rows.Next() {
			snap, err := scanSnapshot(rows)
			if err != nil {
				var ce *docsync.CorruptSnapshotError
				if errors.As(err, &ce) {
					corrupt = append(corrupt, err)
					continue
				}
				rows.Close()
				yield(nil, err)
				return
			}
			snaps = append(snaps, snap)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			yield(nil, fmt.Errorf("listing snapshots: %w", err))
			return
		}

		for _, err := range corrupt {
			if !yield(nil, err) {
				return
			}
		}
		for _, snap := range snaps {
			if err := s.loadManifest(snap); err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(snap, nil) {
				return
			}
		}
	}
}

// DeleteSnapshot removes the record for id and its manifest.
func (s *SQLiteStore) DeleteSnapshot(id docsync.DocumentID) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE document_id = ?`, string(id)); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*docsync.Snapshot, error) {
	var (
		snap     docsync.Snapshot
		id       string
		modified string
	)
	if err := row.Scan(&id, &snap.Container, &snap.Path, &snap.IsPackage, &snap.VersionToken, &modified, &snap.Size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("reading snapshot row: %w", err)
	}
	snap.DocumentID = docsync.DocumentID(id)
	t, err := time.Parse(time.RFC3339Nano, modified)
	if err != nil {
		return nil, &docsync.CorruptSnapshotError{ID: snap.DocumentID, Err: fmt.Errorf("modified_at: %w", err)}
	}
	snap.ModifiedAt = t
	return &snap, nil
}

func (s *SQLiteStore) loadManifest(snap *docsync.Snapshot) error {
	rows, err := s.db.Query(`SELECT path, hash, size FROM manifest_entries WHERE document_id = ? ORDER BY path`,
		string(snap.DocumentID))
	if err != nil {
		return fmt.Errorf("reading manifest of %s: %w", snap.DocumentID, err)
	}
	defer rows.Close()

	var entries []docsync.ManifestEntry
	for rows.Next() {
		var e docsync.ManifestEntry
		if err := rows.Scan(&e.Path, &e.Hash, &e.Size); err != nil {
			return fmt.Errorf("reading manifest of %s: %w", snap.DocumentID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading manifest of %s: %w", snap.DocumentID, err)
	}
	snap.Manifest = docsync.NewManifest(entries)
	return nil
}
