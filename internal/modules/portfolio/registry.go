package portfolio

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/events"
	"github.com/finguard/finguard/internal/modules/allocation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Registry maps portfolio ids to their owners. Owners share no mutable state.
type Registry struct {
	owners  map[string]*Owner
	mu      sync.RWMutex
	repo    Repository
	events  *events.Manager
	epsilon decimal.Decimal
	log     zerolog.Logger
}

// NewRegistry creates a registry backed by repo
func NewRegistry(repo Repository, epsilon decimal.Decimal, log zerolog.Logger) *Registry {
	return &Registry{
		owners:  make(map[string]*Owner),
		repo:    repo,
		epsilon: epsilon,
		log:     log.With().Str("service", "portfolio_registry").Logger(),
	}
}

// SetEventManager sets the event manager used by every owner
func (r *Registry) SetEventManager(manager *events.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = manager
	for _, o := range r.owners {
		o.events = manager
	}
}

// Load creates owners for every stored portfolio
func (r *Registry) Load(ctx context.Context) error {
	portfolios, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load portfolios: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range portfolios {
		r.owners[p.ID] = r.newOwner(p)
	}
	r.log.Info().Int("portfolios", len(portfolios)).Msg("Portfolios loaded")
	return nil
}

func (r *Registry) newOwner(p *domain.Portfolio) *Owner {
	o := newOwner(p, r.repo, r.epsilon, r.log)
	o.events = r.events
	return o
}

// Put validates and stores a portfolio, creating its owner or replacing the
// holdings of an existing one
func (r *Registry) Put(ctx context.Context, p *domain.Portfolio) (*domain.Portfolio, error) {
	if err := allocation.ValidatePortfolio(p, r.epsilon); err != nil {
		return nil, err
	}

	r.mu.Lock()
	existing, ok := r.owners[p.ID]
	if !ok {
		created := p.Clone()
		created.Version = 1
		if created.Name == "" {
			created.Name = created.ID
		}
		if err := r.repo.Save(ctx, created); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("failed to save portfolio %s: %w", p.ID, err)
		}
		o := r.newOwner(created)
		r.owners[p.ID] = o
		r.mu.Unlock()

		r.log.Info().Str("portfolio_id", p.ID).Int("assets", len(p.Assets)).Msg("Portfolio created")
		return o.Snapshot(), nil
	}
	r.mu.Unlock()

	return existing.replace(ctx, p)
}

// Owner returns the owner of a portfolio
func (r *Registry) Owner(id string) (*Owner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.owners[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "get portfolio", "portfolio %s not found", id)
	}
	return o, nil
}

// Snapshot returns the current snapshot of a portfolio
func (r *Registry) Snapshot(id string) (*domain.Portfolio, error) {
	o, err := r.Owner(id)
	if err != nil {
		return nil, err
	}
	return o.Snapshot(), nil
}

// Owners returns every owner ordered by portfolio id
func (r *Registry) Owners() []*Owner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Owner, 0, len(r.owners))
	for _, o := range r.owners {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of portfolios
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

// ExecuteTrades applies a ledger entry's trades to a portfolio through its
// owner and returns the version they produced. Repeating an entry is a no-op.
func (r *Registry) ExecuteTrades(ctx context.Context, portfolioID, entryID string, trades []domain.Trade) (int64, error) {
	o, err := r.Owner(portfolioID)
	if err != nil {
		return 0, err
	}
	_, version, err := o.ExecuteTrades(ctx, entryID, trades)
	if err != nil {
		return 0, err
	}
	return version, nil
}
