// Package testing provides testing utilities and helpers shared across packages.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/finguard/finguard/internal/database"
)

// profiles mirrors the profile each store is opened with in production
var profiles = map[string]database.DatabaseProfile{
	"portfolio": database.ProfileStandard,
	"ledger":    database.ProfileLedger,
	"history":   database.ProfileCache,
}

// NewTestDB opens a migrated SQLite database named after one of the stores
// ("portfolio", "ledger", "history") inside t.TempDir. Unknown names get an
// empty standard database. The returned cleanup closes the connection; it is
// also registered with t.Cleanup, so calling it is optional and repeatable.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	profile, ok := profiles[name]
	if !ok {
		profile = database.ProfileStandard
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
	t.Cleanup(cleanup)
	return db, cleanup
}
