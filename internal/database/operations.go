package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Operation is one recorded CLI operation against an account, such as a
// sync or a conflict resolution.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StartOperation records a running operation and returns its id.
func (s *SQLiteStore) StartOperation(operation, parameters string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO sync_operations (operation, parameters, status, started_at) VALUES (?, ?, 'running', ?)`,
		operation, parameters, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading operation id: %w", err)
	}
	return id, nil
}

// FinishOperation records the final status of an operation.
func (s *SQLiteStore) FinishOperation(id int64, status string) error {
	res, err := s.db.Exec(`UPDATE sync_operations SET status = ?, finished_at = ? WHERE id = ?`,
		status, s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing operation %d: no such operation", id)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (s *SQLiteStore) ListOperations(limit int) ([]*Operation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, operation, parameters, status, started_at, finished_at
		FROM sync_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []*Operation
	for rows.Next() {
		var (
			op       Operation
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("reading operation: %w", err)
		}
		op.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			op.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		out = append(out, &op)
	}
	return out, rows.Err()
}
