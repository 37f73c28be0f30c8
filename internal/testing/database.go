package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/jobpulse/db"
)

// CreateTestDB creates a migrated SQLite database in a per-test temp dir.
// A file (not :memory:) is used so pooled connections share one database and
// concurrent tests exercise real locking. Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(db.DialectSQLite, filepath.Join(t.TempDir(), "jobpulse_test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
