package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/events"
	"github.com/rs/zerolog"
)

// Executor applies executed trades to the owning portfolio and returns its new
// version. It must apply a given entry id at most once, so an execution whose
// status write failed can be retried safely.
type Executor interface {
	ExecuteTrades(ctx context.Context, portfolioID, entryID string, trades []domain.Trade) (int64, error)
}

// Issue is one integrity problem found by Verify
type Issue struct {
	EntryID  string `json:"entry_id"`
	Sequence int64  `json:"sequence"`
	Issue    string `json:"issue"`
}

// Verification issue kinds
const (
	IssueHashMismatch = "hash mismatch"
	IssueChainBreak   = "chain break"
	IssueSequenceGap  = "sequence gap"
)

// VerificationReport is the result of recomputing the chain from genesis
type VerificationReport struct {
	Valid           bool      `json:"valid"`
	TotalEntries    int       `json:"total_entries"`
	VerifiedEntries int       `json:"verified_entries"`
	Issues          []Issue   `json:"issues"`
	Message         string    `json:"message"`
	VerifiedAt      time.Time `json:"verified_at"`
}

// Ledger is the single writer of audit entries and status transitions.
//
// A failed verification halts the ledger: appends and approve/execute
// transitions are refused until Resume is called.
type Ledger struct {
	store    Store
	executor Executor
	events   *events.Manager
	now      func() time.Time
	log      zerolog.Logger

	mu sync.Mutex // serializes appends and transitions

	stateMu    sync.RWMutex
	halted     bool
	haltReason string
}

// NewLedger creates a ledger over the given store
func NewLedger(store Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
		log:   log.With().Str("service", "ledger").Logger(),
	}
}

// SetExecutor sets the collaborator that applies executed plans
func (l *Ledger) SetExecutor(executor Executor) {
	l.executor = executor
}

// SetEventManager sets the event manager
func (l *Ledger) SetEventManager(manager *events.Manager) {
	l.events = manager
}

// SetClock replaces the time source
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Halted reports whether the ledger refuses writes, and why
func (l *Ledger) Halted() (bool, string) {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.halted, l.haltReason
}

func (l *Ledger) halt(reason string) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.halted = true
	l.haltReason = reason
}

func (l *Ledger) haltedError(op string) error {
	if halted, reason := l.Halted(); halted {
		return domain.NewError(domain.KindChainIntegrityViolation, op, "ledger is halted: %s", reason)
	}
	return nil
}

// Append records a decision as a new pending entry at the end of the chain
func (l *Ledger) Append(ctx context.Context, draft Draft) (*Entry, error) {
	const op = "append ledger entry"

	if err := l.haltedError(op); err != nil {
		return nil, err
	}
	if draft.Plan == nil {
		return nil, domain.NewError(domain.KindInvalidConfiguration, op, "plan is required")
	}
	if draft.PortfolioID == "" {
		return nil, domain.NewError(domain.KindInvalidConfiguration, op, "portfolio id is required")
	}
	if !draft.TriggeredBy.valid() {
		return nil, domain.NewError(domain.KindInvalidConfiguration, op, "unknown trigger source %q", draft.TriggeredBy)
	}

	reason := draft.Reason
	if reason == "" {
		reason = draft.Plan.Reason
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tail, err := l.store.Tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger tail: %w", err)
	}
	prevHash := GenesisHash
	sequence := int64(1)
	if tail != nil {
		prevHash = tail.Hash
		sequence = tail.Sequence + 1
	}

	createdAt := l.now().UTC().Truncate(time.Millisecond)
	c := &content{
		ID:             entryID(createdAt, sequence),
		Sequence:       sequence,
		PortfolioID:    draft.PortfolioID,
		CreatedAt:      millis(createdAt),
		TriggeredBy:    draft.TriggeredBy,
		AffectedAssets: affectedAssets(draft.Plan),
		Reason:         reason,
		Plan:           *draft.Plan,
	}
	data, err := encodeContent(c)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:              c.ID,
		Sequence:        sequence,
		PortfolioID:     c.PortfolioID,
		CreatedAt:       createdAt,
		Status:          StatusPending,
		StatusUpdatedAt: createdAt,
		PrevHash:        prevHash,
		Hash:            chainHash(data, prevHash),
		Content:         data,
	}
	if err := entry.hydrate(); err != nil {
		return nil, err
	}

	if err := l.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append entry %s: %w", entry.ID, err)
	}

	l.log.Info().
		Str("entry_id", entry.ID).
		Int64("sequence", entry.Sequence).
		Str("portfolio_id", entry.PortfolioID).
		Int("trades", len(entry.Plan.Trades)).
		Msg("Ledger entry appended")

	if l.events != nil {
		l.events.EmitTyped("ledger", &events.LedgerEntryAppendedData{
			EntryID:     entry.ID,
			Sequence:    entry.Sequence,
			PortfolioID: entry.PortfolioID,
			Hash:        entry.Hash,
		})
	}

	return entry, nil
}

// affectedAssets lists traded symbols once each, in trade order
func affectedAssets(plan *domain.RebalancePlan) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(plan.Trades))
	for _, symbol := range plan.AffectedSymbols() {
		if !seen[symbol] {
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	return out
}

// Verify recomputes the chain from genesis over the stored content bytes.
// Any issue halts the ledger.
func (l *Ledger) Verify(ctx context.Context) (*VerificationReport, error) {
	entries, err := l.store.Scan(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for verification: %w", err)
	}

	report := verifyChain(entries)
	report.VerifiedAt = l.now().UTC()

	if report.Valid {
		l.log.Debug().Int("entries", report.TotalEntries).Msg("Ledger chain verified")
		return report, nil
	}

	first := report.Issues[0]
	l.halt(fmt.Sprintf("%s at entry %s", first.Issue, first.EntryID))

	l.log.Error().
		Int("issues", len(report.Issues)).
		Str("first_entry_id", first.EntryID).
		Int64("first_sequence", first.Sequence).
		Str("issue", first.Issue).
		Msg("Ledger chain integrity violated, ledger halted")

	if l.events != nil {
		l.events.EmitTyped("ledger", &events.ChainIntegrityViolatedData{
			Issues:        len(report.Issues),
			FirstEntryID:  first.EntryID,
			FirstSequence: first.Sequence,
			Issue:         first.Issue,
		})
	}

	return report, nil
}

func verifyChain(entries []*Entry) *VerificationReport {
	report := &VerificationReport{
		TotalEntries: len(entries),
		Issues:       make([]Issue, 0),
	}

	prevHash := GenesisHash
	expected := int64(1)
	for _, e := range entries {
		issues := 0
		add := func(kind string) {
			report.Issues = append(report.Issues, Issue{EntryID: e.ID, Sequence: e.Sequence, Issue: kind})
			issues++
		}

		if e.Sequence != expected {
			add(IssueSequenceGap)
		}
		if e.PrevHash != prevHash {
			add(IssueChainBreak)
		}
		if chainHash(e.Content, e.PrevHash) != e.Hash || !contentMatchesRow(e) {
			add(IssueHashMismatch)
		}
		if issues == 0 {
			report.VerifiedEntries++
		}

		prevHash = e.Hash
		expected = e.Sequence + 1
	}

	report.Valid = len(report.Issues) == 0
	if report.Valid {
		report.Message = fmt.Sprintf("Chain verified: %d entries intact", report.TotalEntries)
	} else {
		first := report.Issues[0]
		report.Message = fmt.Sprintf("Chain integrity violated: %d issue(s), first %s at entry %s (sequence %d)",
			len(report.Issues), first.Issue, first.EntryID, first.Sequence)
	}
	return report
}

// contentMatchesRow checks the indexed columns against the hashed content
func contentMatchesRow(e *Entry) bool {
	c, err := decodeContent(e.Content)
	if err != nil {
		return false
	}
	return c.ID == e.ID &&
		c.Sequence == e.Sequence &&
		c.PortfolioID == e.PortfolioID &&
		c.CreatedAt == millis(e.CreatedAt)
}

// Resume clears the halted state after manual review
func (l *Ledger) Resume(ctx context.Context, actor, note string) error {
	if actor == "" {
		return domain.NewError(domain.KindInvalidConfiguration, "resume ledger", "actor is required")
	}

	l.stateMu.Lock()
	wasHalted := l.halted
	reason := l.haltReason
	l.halted = false
	l.haltReason = ""
	l.stateMu.Unlock()

	if !wasHalted {
		return nil
	}

	l.log.Warn().
		Str("actor", actor).
		Str("note", note).
		Str("halt_reason", reason).
		Msg("Ledger resumed after manual review")

	if l.events != nil {
		l.events.EmitTyped("ledger", &events.LedgerResumedData{Actor: actor, Note: note})
	}
	return nil
}

// Transition moves an entry along the status graph. Executing an entry
// applies its trades through the executor before the status is recorded; if
// that record fails the entry stays approved and a retry does not apply the
// trades again.
func (l *Ledger) Transition(ctx context.Context, id string, to Status, actor, note string) (*Entry, error) {
	const op = "transition ledger entry"

	if _, ok := ParseStatus(string(to)); !ok {
		return nil, domain.NewError(domain.KindInvalidTransition, op, "unknown status %q", to)
	}
	if to == StatusApproved || to == StatusExecuted {
		if err := l.haltedError(op); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := entry.Status
	if !CanTransition(from, to) {
		return nil, domain.NewError(domain.KindInvalidTransition, op, "entry %s cannot move from %s to %s", id, from, to)
	}

	var version int64
	if to == StatusExecuted {
		if l.executor == nil {
			l.log.Warn().Str("entry_id", id).Msg("No executor configured, recording execution without applying trades")
		} else {
			version, err = l.executor.ExecuteTrades(ctx, entry.PortfolioID, id, entry.Plan.Trades)
			if err != nil {
				return nil, fmt.Errorf("failed to execute trades for entry %s: %w", id, err)
			}
		}
	}

	t := Transition{
		EntryID: id,
		From:    from,
		To:      to,
		Actor:   actor,
		Note:    note,
		At:      l.now().UTC().Truncate(time.Millisecond),
	}
	if err := l.store.UpdateStatus(ctx, t); err != nil {
		if errors.Is(err, ErrStatusMoved) {
			return nil, domain.NewError(domain.KindInvalidTransition, op, "entry %s is no longer %s", id, from)
		}
		return nil, fmt.Errorf("failed to record transition for entry %s: %w", id, err)
	}

	entry.Status = to
	entry.StatusUpdatedAt = t.At

	l.log.Info().
		Str("entry_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("Ledger entry status changed")

	if l.events != nil {
		l.events.EmitTyped("ledger", &events.LedgerStatusChangedData{
			EntryID: id,
			From:    string(from),
			To:      string(to),
			Actor:   actor,
		})
		if to == StatusExecuted && l.executor != nil {
			l.events.EmitTyped("ledger", &events.TradesExecutedData{
				PortfolioID: entry.PortfolioID,
				EntryID:     id,
				Trades:      len(entry.Plan.Trades),
				Version:     version,
			})
		}
	}

	return entry, nil
}

// Get returns an entry by id
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	return l.store.Get(ctx, id)
}

// List returns entries newest first, optionally for one portfolio
func (l *Ledger) List(ctx context.Context, portfolioID string, limit int) ([]*Entry, error) {
	return l.store.List(ctx, portfolioID, limit)
}

// Transitions returns the status history of an entry
func (l *Ledger) Transitions(ctx context.Context, id string) ([]Transition, error) {
	if _, err := l.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return l.store.Transitions(ctx, id)
}

// Count returns the number of entries
func (l *Ledger) Count(ctx context.Context) (int, error) {
	return l.store.Count(ctx)
}
