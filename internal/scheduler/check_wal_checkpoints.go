package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/finguard/finguard/internal/database"
	"github.com/rs/zerolog"
)

// CheckDatabasesJob runs an integrity check and a passive WAL checkpoint on
// every open database
type CheckDatabasesJob struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewCheckDatabasesJob creates a new CheckDatabasesJob. Nil databases are skipped.
func NewCheckDatabasesJob(databases map[string]*database.DB, log zerolog.Logger) *CheckDatabasesJob {
	return &CheckDatabasesJob{
		databases: databases,
		log:       log.With().Str("job", "check_databases").Logger(),
	}
}

// Name returns the job name
func (j *CheckDatabasesJob) Name() string {
	return "check_databases"
}

// Run executes the checks
func (j *CheckDatabasesJob) Run() error {
	names := make([]string, 0, len(j.databases))
	for name, db := range j.databases {
		if db != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		db := j.databases[name]

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.HealthCheck(ctx)
		cancel()
		if err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Database integrity check failed")
			failed = append(failed, name)
			continue
		}

		if err := db.WALCheckpoint("PASSIVE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("Failed to checkpoint WAL")
			continue
		}
		j.log.Debug().Str("database", name).Msg("Database healthy")
	}

	j.log.Info().
		Int("checked", len(names)).
		Int("failed", len(failed)).
		Msg("Database check completed")

	if len(failed) > 0 {
		return fmt.Errorf("integrity check failed for %v", failed)
	}
	return nil
}
