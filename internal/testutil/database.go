package testutil

import (
	"testing"

	"am-go/internal/database"
)

// NewTestStore creates an in-memory catalog with migrations applied.
// The catalog is closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
