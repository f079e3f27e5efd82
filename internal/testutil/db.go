package testutil

import (
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/repository/postgres"
)

// NewTestDB returns a migrated in-memory sqlite database closed at test end.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := postgres.NewDB(config.DatabaseConfig{
		Driver:  postgres.DriverSQLite,
		DSN:     ":memory:",
		Migrate: true,
	})
	if err != nil {
		t.Fatalf("creating test db: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}
