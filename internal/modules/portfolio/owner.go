package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/events"
	"github.com/finguard/finguard/internal/modules/allocation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Owner is the single writer for one portfolio.
//
// Readers call Snapshot and get an immutable, versioned value. Writers are
// serialized by mu; each mutation works on a clone, persists it, and only
// then publishes it.
type Owner struct {
	current atomic.Pointer[domain.Portfolio]
	mu      sync.Mutex
	applied map[string]int64 // ledger entry id -> version its trades produced
	repo    Repository
	events  *events.Manager
	epsilon decimal.Decimal
	now     func() time.Time
	log     zerolog.Logger
}

func newOwner(p *domain.Portfolio, repo Repository, epsilon decimal.Decimal, log zerolog.Logger) *Owner {
	o := &Owner{
		applied: make(map[string]int64),
		repo:    repo,
		epsilon: epsilon,
		now:     time.Now,
		log:     log.With().Str("portfolio_id", p.ID).Logger(),
	}
	o.current.Store(p.Clone())
	return o
}

// ID returns the portfolio id
func (o *Owner) ID() string {
	return o.current.Load().ID
}

// Snapshot returns the current published snapshot. Callers must not modify it.
func (o *Owner) Snapshot() *domain.Portfolio {
	return o.current.Load()
}

// mutate applies fn to a clone of the current snapshot and publishes the
// result with the next version. Nothing is published when fn or Save fails.
func (o *Owner) mutate(ctx context.Context, reason string, fn func(next *domain.Portfolio) error) (*domain.Portfolio, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mutateLocked(ctx, reason, fn)
}

// mutateLocked is mutate for callers already holding mu
func (o *Owner) mutateLocked(ctx context.Context, reason string, fn func(next *domain.Portfolio) error) (*domain.Portfolio, error) {
	next := o.current.Load().Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version++
	next.UpdatedAt = o.now().UTC()

	if o.repo != nil {
		if err := o.repo.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to persist portfolio %s: %w", next.ID, err)
		}
	}
	o.current.Store(next)

	o.log.Debug().Int64("version", next.Version).Str("reason", reason).Msg("Portfolio snapshot published")
	if o.events != nil {
		o.events.EmitTyped("portfolio", &events.PortfolioChangedData{
			PortfolioID: next.ID,
			Version:     next.Version,
			Reason:      reason,
		})
	}
	return next, nil
}

// ApplyQuotes updates prices from quotes. Quotes older than the held price,
// non-positive prices and symbols not held are ignored. Returns the number of
// assets repriced; no new version is published when that is zero.
func (o *Owner) ApplyQuotes(ctx context.Context, quotes map[string]domain.Quote) (*domain.Portfolio, int, error) {
	updated := 0
	p, err := o.mutate(ctx, "prices", func(next *domain.Portfolio) error {
		for i := range next.Assets {
			a := &next.Assets[i]
			q, ok := quotes[a.Symbol]
			if !ok || !q.Price.IsPositive() || q.AsOf.Before(a.PriceAsOf) {
				continue
			}
			if q.Price.Equal(a.Price) && q.AsOf.Equal(a.PriceAsOf) {
				continue
			}
			a.Price = q.Price
			a.PriceAsOf = q.AsOf
			updated++
		}
		if updated == 0 {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return o.Snapshot(), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return p, updated, nil
}

// ExecuteTrades applies the trades of a ledger entry to the holdings. Each
// entry is applied at most once: a repeated call with the same entry id
// returns the current snapshot and the version the first call produced,
// without touching the holdings.
func (o *Owner) ExecuteTrades(ctx context.Context, entryID string, trades []domain.Trade) (*domain.Portfolio, int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if version, ok := o.applied[entryID]; ok && entryID != "" {
		o.log.Warn().Str("entry_id", entryID).Int64("version", version).Msg("Trades already applied for entry, skipping")
		return o.current.Load(), version, nil
	}

	p, err := o.mutateLocked(ctx, "trades", func(next *domain.Portfolio) error {
		if err := next.ApplyTrades(trades); err != nil {
			return domain.InfeasiblePlan("execute trades", nil, "%s", err.Error())
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if entryID != "" {
		o.applied[entryID] = p.Version
	}
	o.log.Info().Str("entry_id", entryID).Int("trades", len(trades)).Int64("version", p.Version).Msg("Trades applied to holdings")
	return p, p.Version, nil
}

// SetTargets replaces the target allocation after validating it against the holdings
func (o *Owner) SetTargets(ctx context.Context, target domain.TargetAllocation) (*domain.Portfolio, error) {
	p, err := o.mutate(ctx, "targets", func(next *domain.Portfolio) error {
		if err := allocation.ValidateTargets(target, next.Assets, o.epsilon); err != nil {
			return err
		}
		next.Target = target.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if o.events != nil {
		o.events.EmitTyped("portfolio", &events.AllocationTargetsChangedData{
			PortfolioID: p.ID,
			Categories:  len(p.Target.Categories),
			Assets:      len(p.Target.Assets),
		})
	}
	return p, nil
}

// SetConstraints replaces the trading constraints
func (o *Owner) SetConstraints(ctx context.Context, c domain.Constraints) (*domain.Portfolio, error) {
	return o.mutate(ctx, "constraints", func(next *domain.Portfolio) error {
		next.Constraints = domain.Constraints{
			NoSell: append([]string(nil), c.NoSell...),
			NoBuy:  append([]string(nil), c.NoBuy...),
		}
		return nil
	})
}

// replace swaps in a whole new portfolio definition, keeping the version sequence
func (o *Owner) replace(ctx context.Context, p *domain.Portfolio) (*domain.Portfolio, error) {
	return o.mutate(ctx, "replaced", func(next *domain.Portfolio) error {
		version := next.Version
		*next = *p.Clone()
		next.Version = version
		return nil
	})
}

var errNoChange = errors.New("no price change")
