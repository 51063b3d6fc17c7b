package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LedgerArchiveJob uploads the previous UTC day's ledger export
type LedgerArchiveJob struct {
	archiver LedgerArchiverInterface
	now      func() time.Time
	log      zerolog.Logger
}

// NewLedgerArchiveJob creates a new ledger archive job
func NewLedgerArchiveJob(archiver LedgerArchiverInterface, log zerolog.Logger) *LedgerArchiveJob {
	return &LedgerArchiveJob{
		archiver: archiver,
		now:      time.Now,
		log:      log.With().Str("job", "ledger_archive").Logger(),
	}
}

// SetClock replaces the clock used to pick the archived day
func (j *LedgerArchiveJob) SetClock(now func() time.Time) {
	j.now = now
}

// Name returns the job name
func (j *LedgerArchiveJob) Name() string {
	return "ledger_archive"
}

// Run archives entries created in [yesterday 00:00, today 00:00) UTC
func (j *LedgerArchiveJob) Run() error {
	now := j.now().UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := j.archiver.Archive(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to archive ledger for %s: %w", from.Format("2006-01-02"), err)
	}

	j.log.Info().
		Str("day", from.Format("2006-01-02")).
		Str("key", result.Key).
		Int("entries", result.Entries).
		Bool("valid", result.Valid).
		Msg("Ledger archived")
	return nil
}
