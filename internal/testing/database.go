package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/voxhall/scribeq/db"
)

// CreateTestDB opens a migrated SQLite database in a per-test temp
// directory. A file-backed database is required because the pool would
// hand each connection its own ":memory:" instance. Cleanup is
// registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scribeq-test.db")
	conn, err := db.OpenWithMigrations(path, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
