package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrTailMoved is returned by Store.Insert when the entry does not extend the current tail
var ErrTailMoved = errors.New("ledger tail moved")

// ErrStatusMoved is returned by Store.UpdateStatus when the entry is no longer in the expected status
var ErrStatusMoved = errors.New("entry status changed concurrently")

// Store persists ledger entries. Implementations never delete entries and
// never change anything but the status columns after Insert.
type Store interface {
	// Tail returns the entry with the highest sequence, nil for an empty ledger
	Tail(ctx context.Context) (*Entry, error)

	// Insert appends an entry whose PrevHash must equal the current tail hash
	Insert(ctx context.Context, e *Entry) error

	// Get returns an entry by id or a NotFound error
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns entries newest first, optionally for one portfolio
	List(ctx context.Context, portfolioID string, limit int) ([]*Entry, error)

	// Scan returns entries created in [from, to) in sequence order.
	// A zero bound is open.
	Scan(ctx context.Context, from, to time.Time) ([]*Entry, error)

	// UpdateStatus moves an entry from t.From to t.To and records the transition
	UpdateStatus(ctx context.Context, t Transition) error

	// Transitions returns the status history of an entry, oldest first
	Transitions(ctx context.Context, entryID string) ([]Transition, error)

	// Count returns the number of entries
	Count(ctx context.Context) (int, error)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
