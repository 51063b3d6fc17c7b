// Package di provides dependency injection for services.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/finguard/finguard/internal/clients/quotes"
	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/events"
	"github.com/finguard/finguard/internal/modules/ledger"
	"github.com/finguard/finguard/internal/modules/marketdata"
	"github.com/finguard/finguard/internal/modules/optimization"
	"github.com/finguard/finguard/internal/modules/planning"
	"github.com/finguard/finguard/internal/modules/portfolio"
	"github.com/finguard/finguard/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// InitializeServices builds every service on top of the opened databases
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	policy := cfg.Policy

	// Events
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// Portfolios
	var portfolioRepo portfolio.Repository = portfolio.NewMemoryRepository()
	if container.PortfolioDB != nil {
		portfolioRepo = portfolio.NewSQLiteRepository(container.PortfolioDB.Conn(), log)
	}
	container.Registry = portfolio.NewRegistry(portfolioRepo, policy.WeightEpsilon, log)
	container.Registry.SetEventManager(container.EventManager)
	if err := container.Registry.Load(ctx); err != nil {
		return err
	}

	// Market data: the stream is the live feed when configured, otherwise
	// prices only arrive through the ingest endpoint into history
	if container.HistoryDB != nil {
		container.History = marketdata.NewHistoryDB(container.HistoryDB.Conn(), log)
	} else {
		container.History = marketdata.NewMemoryHistory()
	}
	var priceFeed domain.PriceFeed = container.History
	if cfg.QuotesURL != "" {
		container.QuoteStream = quotes.NewStreamClient(cfg.QuotesURL, heldSymbols(container.Registry), log)
		if err := container.QuoteStream.Start(); err != nil {
			log.Warn().Err(err).Msg("Quote stream unavailable at startup, serving last-known-good prices")
		}
		priceFeed = container.QuoteStream
	}
	container.MarketData = marketdata.NewProvider(priceFeed, nil, container.History, marketdata.ConfigFromPolicy(policy), log)

	// Audit ledger
	var store ledger.Store = ledger.NewMemoryStore()
	if container.LedgerDB != nil {
		store = ledger.NewRepository(container.LedgerDB.Conn(), log)
	}
	container.Ledger = ledger.NewLedger(store, log)
	container.Ledger.SetExecutor(container.Registry)
	container.Ledger.SetEventManager(container.EventManager)

	if _, err := container.Ledger.Verify(ctx); err != nil {
		return fmt.Errorf("failed to verify ledger at startup: %w", err)
	}
	if halted, reason := container.Ledger.Halted(); halted {
		log.Error().Str("reason", reason).Msg("Ledger failed verification at startup, writes are halted")
	}

	if cfg.Archive.Enabled() {
		archiver, err := ledger.NewS3Archiver(ctx, cfg.Archive, container.Ledger, log)
		if err != nil {
			return err
		}
		archiver.SetEventManager(container.EventManager)
		container.Archiver = archiver
	}

	// Rebalancing pipeline
	container.TriggerChecker = rebalancing.NewTriggerChecker(policy.HighSeverityThreshold, log)
	container.Planner = planning.NewPlanner(planning.ConfigFromPolicy(policy), log)
	container.Estimator = optimization.NewImpactEstimator(optimization.ConfigFromPolicy(policy), log)
	container.Rebalancing = rebalancing.NewService(
		container.Registry,
		container.MarketData,
		container.TriggerChecker,
		container.Planner,
		container.Estimator,
		container.Ledger,
		policy.DriftThreshold,
		log,
	)
	container.Rebalancing.SetEventManager(container.EventManager)

	log.Info().
		Int("portfolios", container.Registry.Count()).
		Bool("quote_stream", container.QuoteStream != nil).
		Bool("archive", container.Archiver != nil).
		Dur("fetch_timeout", policy.FetchTimeout).
		Msg("Services initialized")

	return nil
}

func heldSymbols(registry *portfolio.Registry) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, owner := range registry.Owners() {
		for _, s := range owner.Snapshot().Symbols() {
			if !seen[s] {
				seen[s] = true
				symbols = append(symbols, s)
			}
		}
	}
	return symbols
}

// startupTimeout bounds loading and verification during Wire
const startupTimeout = 2 * time.Minute
