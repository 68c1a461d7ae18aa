package db

import (
	"path/filepath"
	"testing"
)

// newTestDB opens a fresh migrated database in a temp dir. A file is used
// rather than :memory: because each pooled connection to :memory: would
// see its own empty database.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
