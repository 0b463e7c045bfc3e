package database

import (
	"fmt"
	"os"
	"path/filepath"
)

// StorePath returns the snapshot database file of one account.
func StorePath(dir, accountID string) string {
	return filepath.Join(dir, accountID+".db")
}

// OpenAccountStore opens the snapshot database of an account in dir,
// creating the directory and schema as needed.
func OpenAccountStore(dir, accountID string) (*SQLiteStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir required for sqlite snapshot store")
	}
	if accountID == "" {
		return nil, fmt.Errorf("account id required for sqlite snapshot store")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return NewSQLiteStore(StorePath(dir, accountID))
}
