package db

import (
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	var up, down int
	for _, e := range entries {
		switch name := e.Name(); {
		case strings.HasSuffix(name, ".up.sql"):
			up++
		case strings.HasSuffix(name, ".down.sql"):
			down++
		}
	}
	if up == 0 || up != down {
		t.Errorf("found %d up and %d down migrations", up, down)
	}
}

func TestRunMigrations(t *testing.T) {
	db := setupTestDB(t)
	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	// A second run is a no-op.
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}
	if _, dirty, err := GetMigrationVersion(db); err != nil || dirty {
		t.Errorf("version: dirty=%v err=%v", dirty, err)
	}
}
