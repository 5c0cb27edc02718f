package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// SetupTestDB opens TEST_PG_DSN and applies the schema with migrate. It
// skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T, migrate func(context.Context, *sql.DB) error) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if migrate != nil {
		if err := migrate(context.Background(), database); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}
	return database
}
