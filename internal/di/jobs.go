// Package di provides dependency injection for scheduler jobs.
package di

import (
	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/database"
	"github.com/finguard/finguard/internal/scheduler"
	"github.com/rs/zerolog"
)

// databaseCheckSchedule runs integrity checks every six hours
const databaseCheckSchedule = "0 0 */6 * * *"

// RegisterJobs creates the background jobs and registers them with the scheduler
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	schedules := cfg.Policy.Schedules
	instances := &JobInstances{
		DriftMonitor: scheduler.NewDriftMonitorJob(scheduler.DriftMonitorConfig{
			Log:       log,
			Evaluator: container.Rebalancing,
			AutoPlan:  cfg.Policy.AutoPlan,
		}),
		LedgerVerify: scheduler.NewLedgerVerifyJob(container.Ledger, log),
		CheckDatabases: scheduler.NewCheckDatabasesJob(map[string]*database.DB{
			"portfolio": container.PortfolioDB,
			"ledger":    container.LedgerDB,
			"history":   container.HistoryDB,
		}, log),
	}
	if container.Archiver != nil {
		instances.LedgerArchive = scheduler.NewLedgerArchiveJob(container.Archiver, log)
	}

	if err := sched.AddJob(schedules.Evaluate, instances.DriftMonitor); err != nil {
		return nil, err
	}
	if err := sched.AddJob(schedules.Verify, instances.LedgerVerify); err != nil {
		return nil, err
	}
	if instances.LedgerArchive != nil {
		if err := sched.AddJob(schedules.Archive, instances.LedgerArchive); err != nil {
			return nil, err
		}
	}
	if !cfg.Ephemeral {
		if err := sched.AddJob(databaseCheckSchedule, instances.CheckDatabases); err != nil {
			return nil, err
		}
	}

	return instances, nil
}
