package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/finguard/finguard/internal/database"
	"github.com/finguard/finguard/internal/domain"
	"github.com/rs/zerolog"
)

// Repository stores the ledger in ledger.db.
//
// The ledger profile allows a single open connection, so rows are fully read
// before any further query runs.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new ledger repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "ledger").Logger(),
	}
}

const entryColumns = `sequence, id, portfolio_id, created_at, content, prev_hash, hash, status, status_updated_at`

// Tail returns the last entry
func (r *Repository) Tail(ctx context.Context) (*Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger tail: %w", err)
	}
	entries, err := r.scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// Insert appends an entry, refusing it unless it extends the stored tail
func (r *Repository) Insert(ctx context.Context, e *Entry) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		tail := GenesisHash
		err := tx.QueryRowContext(ctx, `SELECT hash FROM audit_entries ORDER BY sequence DESC LIMIT 1`).Scan(&tail)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read ledger tail: %w", err)
		}
		if tail != e.PrevHash {
			return ErrTailMoved
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_entries (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.Sequence,
			e.ID,
			e.PortfolioID,
			millis(e.CreatedAt),
			e.Content,
			e.PrevHash,
			e.Hash,
			string(e.Status),
			millis(e.StatusUpdatedAt),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return ErrTailMoved
			}
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		return nil
	})
}

// Get returns an entry by id
func (r *Repository) Get(ctx context.Context, id string) (*Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entry: %w", err)
	}
	entries, err := r.scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.NewError(domain.KindNotFound, "get ledger entry", "entry %s not found", id)
	}
	return entries[0], nil
}

// List returns entries newest first
func (r *Repository) List(ctx context.Context, portfolioID string, limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries`
	var args []interface{}
	if portfolioID != "" {
		query += ` WHERE portfolio_id = ?`
		args = append(args, portfolioID)
	}
	query += ` ORDER BY sequence DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return r.scanEntries(rows)
}

// Scan returns entries created in [from, to) in sequence order
func (r *Repository) Scan(ctx context.Context, from, to time.Time) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE 1=1`
	var args []interface{}
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, millis(from))
	}
	if !to.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, millis(to))
	}
	query += ` ORDER BY sequence ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger entries: %w", err)
	}
	return r.scanEntries(rows)
}

// UpdateStatus changes an entry's status and records the transition atomically
func (r *Repository) UpdateStatus(ctx context.Context, t Transition) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE audit_entries SET status = ?, status_updated_at = ?
			WHERE id = ? AND status = ?
		`, string(t.To), millis(t.At), t.EntryID, string(t.From))
		if err != nil {
			return fmt.Errorf("failed to update entry status: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries WHERE id = ?`, t.EntryID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check entry: %w", err)
			}
			if exists == 0 {
				return domain.NewError(domain.KindNotFound, "update ledger status", "entry %s not found", t.EntryID)
			}
			return ErrStatusMoved
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_transitions (entry_id, from_status, to_status, actor, note, transitioned_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.EntryID, string(t.From), string(t.To), t.Actor, t.Note, millis(t.At))
		if err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}
		return nil
	})
}

// Transitions returns the status history of an entry
func (r *Repository) Transitions(ctx context.Context, entryID string) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entry_id, from_status, to_status, actor, note, transitioned_at
		FROM audit_transitions WHERE entry_id = ? ORDER BY id ASC
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	out := make([]Transition, 0)
	for rows.Next() {
		var t Transition
		var from, to string
		var at int64
		if err := rows.Scan(&t.EntryID, &from, &to, &t.Actor, &t.Note, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.From = Status(from)
		t.To = Status(to)
		t.At = fromMillis(at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return out, nil
}

// Count returns the number of entries
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return n, nil
}

func (r *Repository) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	defer rows.Close()

	out := make([]*Entry, 0)
	for rows.Next() {
		var e Entry
		var status string
		var createdAt, statusAt int64
		if err := rows.Scan(&e.Sequence, &e.ID, &e.PortfolioID, &createdAt, &e.Content, &e.PrevHash, &e.Hash, &status, &statusAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		e.StatusUpdatedAt = fromMillis(statusAt)
		e.Status = Status(status)

		if err := e.hydrate(); err != nil {
			r.log.Warn().Err(err).Str("entry_id", e.ID).Msg("Stored entry content does not decode")
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return out, nil
}
