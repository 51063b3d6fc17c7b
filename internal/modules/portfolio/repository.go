// Package portfolio owns portfolio holdings and their persistence.
package portfolio

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finguard/finguard/internal/database"
	"github.com/finguard/finguard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository persists portfolio snapshots
type Repository interface {
	Save(ctx context.Context, p *domain.Portfolio) error
	Get(ctx context.Context, id string) (*domain.Portfolio, error)
	List(ctx context.Context) ([]*domain.Portfolio, error)
}

// SQLiteRepository stores portfolios in portfolio.db.
// Decimals are written through decimal's driver.Valuer as exact text.
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRepository creates a new portfolio repository
func NewSQLiteRepository(db *sql.DB, log zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		log: log.With().Str("repository", "portfolio").Logger(),
	}
}

// Save replaces the stored snapshot of a portfolio
func (r *SQLiteRepository) Save(ctx context.Context, p *domain.Portfolio) error {
	noSell, err := json.Marshal(nonNil(p.Constraints.NoSell))
	if err != nil {
		return fmt.Errorf("failed to encode no_sell: %w", err)
	}
	noBuy, err := json.Marshal(nonNil(p.Constraints.NoBuy))
	if err != nil {
		return fmt.Errorf("failed to encode no_buy: %w", err)
	}
	updatedAt := p.UpdatedAt.UnixMilli()

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO portfolios (id, name, version, no_sell, no_buy, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				version = excluded.version,
				no_sell = excluded.no_sell,
				no_buy = excluded.no_buy,
				updated_at = excluded.updated_at
		`, p.ID, p.Name, p.Version, string(noSell), string(noBuy), updatedAt, updatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert portfolio: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE portfolio_id = ?`, p.ID); err != nil {
			return fmt.Errorf("failed to clear assets: %w", err)
		}
		for i, a := range p.Assets {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO assets (portfolio_id, position, symbol, name, category, quantity, price, price_as_of)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, p.ID, i, a.Symbol, a.Name, string(a.Category), a.Quantity, a.Price, unixMilli(a.PriceAsOf))
			if err != nil {
				return fmt.Errorf("failed to insert asset %s: %w", a.Symbol, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM allocation_targets WHERE portfolio_id = ?`, p.ID); err != nil {
			return fmt.Errorf("failed to clear targets: %w", err)
		}
		for _, c := range p.Target.SortedCategories() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO allocation_targets (portfolio_id, type, name, target_pct) VALUES (?, 'category', ?, ?)
			`, p.ID, string(c), p.Target.Categories[c])
			if err != nil {
				return fmt.Errorf("failed to insert category target %s: %w", c, err)
			}
		}
		for symbol, w := range p.Target.Assets {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO allocation_targets (portfolio_id, type, name, target_pct) VALUES (?, 'asset', ?, ?)
			`, p.ID, symbol, w)
			if err != nil {
				return fmt.Errorf("failed to insert asset target %s: %w", symbol, err)
			}
		}
		return nil
	})
}

// Get loads a portfolio by id
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*domain.Portfolio, error) {
	p := &domain.Portfolio{ID: id}
	var noSell, noBuy string
	var updatedAt int64

	err := r.db.QueryRowContext(ctx, `
		SELECT name, version, no_sell, no_buy, updated_at FROM portfolios WHERE id = ?
	`, id).Scan(&p.Name, &p.Version, &noSell, &noBuy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "get portfolio", "portfolio %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio: %w", err)
	}
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if err := json.Unmarshal([]byte(noSell), &p.Constraints.NoSell); err != nil {
		return nil, fmt.Errorf("failed to decode no_sell for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(noBuy), &p.Constraints.NoBuy); err != nil {
		return nil, fmt.Errorf("failed to decode no_buy for %s: %w", id, err)
	}

	if p.Assets, err = r.loadAssets(ctx, id); err != nil {
		return nil, err
	}
	if p.Target, err = r.loadTargets(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

// List loads every portfolio ordered by id
func (r *SQLiteRepository) List(ctx context.Context) ([]*domain.Portfolio, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}

	out := make([]*domain.Portfolio, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *SQLiteRepository) loadAssets(ctx context.Context, id string) ([]domain.Asset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, name, category, quantity, price, price_as_of
		FROM assets WHERE portfolio_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	assets := make([]domain.Asset, 0)
	for rows.Next() {
		var a domain.Asset
		var category string
		var asOf int64
		if err := rows.Scan(&a.Symbol, &a.Name, &category, &a.Quantity, &a.Price, &asOf); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		a.Category = domain.Category(category)
		if asOf > 0 {
			a.PriceAsOf = time.UnixMilli(asOf).UTC()
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return assets, nil
}

func (r *SQLiteRepository) loadTargets(ctx context.Context, id string) (domain.TargetAllocation, error) {
	target := domain.TargetAllocation{Categories: make(map[domain.Category]decimal.Decimal)}

	rows, err := r.db.QueryContext(ctx, `
		SELECT type, name, target_pct FROM allocation_targets WHERE portfolio_id = ?
	`, id)
	if err != nil {
		return target, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, name string
		var pct decimal.Decimal
		if err := rows.Scan(&kind, &name, &pct); err != nil {
			return target, fmt.Errorf("failed to scan target: %w", err)
		}
		if kind == "asset" {
			if target.Assets == nil {
				target.Assets = make(map[string]decimal.Decimal)
			}
			target.Assets[name] = pct
			continue
		}
		target.Categories[domain.Category(name)] = pct
	}
	if err := rows.Err(); err != nil {
		return target, fmt.Errorf("error iterating targets: %w", err)
	}
	return target, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// MemoryRepository keeps portfolios in memory. Used in tests and ephemeral mode.
type MemoryRepository struct {
	portfolios map[string]*domain.Portfolio
	mu         sync.RWMutex
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{portfolios: make(map[string]*domain.Portfolio)}
}

// Save stores a copy of the portfolio
func (r *MemoryRepository) Save(ctx context.Context, p *domain.Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.portfolios[p.ID] = p.Clone()
	return nil
}

// Get returns a copy of a stored portfolio
func (r *MemoryRepository) Get(ctx context.Context, id string) (*domain.Portfolio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.portfolios[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "get portfolio", "portfolio %s not found", id)
	}
	return p.Clone(), nil
}

// List returns copies of every portfolio ordered by id
func (r *MemoryRepository) List(ctx context.Context) ([]*domain.Portfolio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Portfolio, 0, len(r.portfolios))
	for _, p := range r.portfolios {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
