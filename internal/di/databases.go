// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens and migrates the three databases. In ephemeral
// mode nothing is opened and the services fall back to in-memory stores.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Policy: cfg.Policy}
	if cfg.Ephemeral {
		log.Warn().Msg("Ephemeral mode, portfolios and ledger are kept in memory only")
		return container, nil
	}

	specs := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		// portfolio.db - Portfolios, targets and constraints
		{"portfolio", database.ProfileStandard, &container.PortfolioDB},
		// ledger.db - Hash-chained audit trail, maximum durability
		{"ledger", database.ProfileLedger, &container.LedgerDB},
		// history.db - Last-known-good quotes and return series
		{"history", database.ProfileCache, &container.HistoryDB},
	}

	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, spec.name+".db"),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", spec.name, err)
		}
		*spec.target = db

		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", spec.name, err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
