/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server for access to services.
 */
package di

import (
	"github.com/finguard/finguard/internal/clients/quotes"
	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/database"
	"github.com/finguard/finguard/internal/events"
	"github.com/finguard/finguard/internal/modules/ledger"
	"github.com/finguard/finguard/internal/modules/marketdata"
	"github.com/finguard/finguard/internal/modules/optimization"
	"github.com/finguard/finguard/internal/modules/planning"
	"github.com/finguard/finguard/internal/modules/portfolio"
	"github.com/finguard/finguard/internal/modules/rebalancing"
	"github.com/finguard/finguard/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Databases: portfolio, ledger and history (all nil in ephemeral mode)
 * - Clients: the optional quote stream
 * - Services: market data, portfolio registry, audit ledger, rebalancing pipeline
 *
 * Wire() builds it; Close() releases what it opened.
 */
type Container struct {
	Policy *config.Policy

	// Databases
	PortfolioDB *database.DB // Portfolios, targets and constraints
	LedgerDB    *database.DB // Hash-chained audit trail (ledger profile)
	HistoryDB   *database.DB // Last-known-good quotes and return series

	// Clients
	QuoteStream *quotes.StreamClient // nil when no QUOTES_WS_URL is configured

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Services
	History        marketdata.History
	MarketData     *marketdata.Provider
	Registry       *portfolio.Registry
	Ledger         *ledger.Ledger
	Archiver       *ledger.Archiver // nil when archiving is not configured
	TriggerChecker *rebalancing.TriggerChecker
	Planner        *planning.Planner
	Estimator      *optimization.ImpactEstimator
	Rebalancing    *rebalancing.Service
}

// JobInstances holds the scheduled jobs so the server can trigger them manually
type JobInstances struct {
	DriftMonitor   *scheduler.DriftMonitorJob
	LedgerVerify   *scheduler.LedgerVerifyJob
	LedgerArchive  *scheduler.LedgerArchiveJob // nil when archiving is not configured
	CheckDatabases *scheduler.CheckDatabasesJob
}

// Close stops clients and closes databases. Safe to call on a partially built container.
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.QuoteStream != nil {
		_ = c.QuoteStream.Stop()
	}
	for _, db := range []*database.DB{c.PortfolioDB, c.LedgerDB, c.HistoryDB} {
		if db != nil {
			_ = db.Close()
		}
	}
}
