package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/finguard/finguard/internal/domain"
)

// ContentEncoding names the canonical content format in export reports
const ContentEncoding = "msgpack, sorted map keys, compact integers, base64 in this report"

// Report is the export document for a time range
type Report struct {
	GeneratedAt     time.Time           `json:"generated_at"`
	From            *time.Time          `json:"from,omitempty"`
	To              *time.Time          `json:"to,omitempty"`
	HashAlgorithm   string              `json:"hash_algorithm"`
	ContentEncoding string              `json:"content_encoding"`
	Verification    *VerificationReport `json:"verification"`
	Entries         []ReportEntry       `json:"entries"`
}

// ReportEntry is one exported entry. Content is the exact byte string the hash covers.
type ReportEntry struct {
	Sequence        int64          `json:"sequence"`
	ID              string         `json:"id"`
	PortfolioID     string         `json:"portfolio_id"`
	CreatedAt       time.Time      `json:"created_at"`
	Status          Status         `json:"status"`
	StatusUpdatedAt time.Time      `json:"status_updated_at"`
	TriggeredBy     TriggeredBy    `json:"triggered_by"`
	AffectedAssets  []string       `json:"affected_assets"`
	Reason          string         `json:"reason"`
	Trades          []domain.Trade `json:"trades"`
	Confidence      float64        `json:"confidence"`
	RiskLevel       string         `json:"risk_level"`
	PrevHash        string         `json:"prev_hash"`
	Hash            string         `json:"hash"`
	Content         string         `json:"content"`
	Transitions     []Transition   `json:"transitions"`
}

// Export builds the report for entries created in [from, to). Zero bounds are open.
// The verification summary always covers the whole chain.
func (l *Ledger) Export(ctx context.Context, from, to time.Time) (*Report, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, domain.NewError(domain.KindInvalidConfiguration, "export ledger", "from must be before to")
	}

	verification, err := l.Verify(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := l.store.Scan(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries for export: %w", err)
	}

	report := &Report{
		GeneratedAt:     l.now().UTC(),
		HashAlgorithm:   HashAlgorithm,
		ContentEncoding: ContentEncoding,
		Verification:    verification,
		Entries:         make([]ReportEntry, 0, len(entries)),
	}
	if !from.IsZero() {
		f := from.UTC()
		report.From = &f
	}
	if !to.IsZero() {
		t := to.UTC()
		report.To = &t
	}

	for _, e := range entries {
		transitions, err := l.store.Transitions(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load transitions for %s: %w", e.ID, err)
		}
		report.Entries = append(report.Entries, ReportEntry{
			Sequence:        e.Sequence,
			ID:              e.ID,
			PortfolioID:     e.PortfolioID,
			CreatedAt:       e.CreatedAt,
			Status:          e.Status,
			StatusUpdatedAt: e.StatusUpdatedAt,
			TriggeredBy:     e.TriggeredBy,
			AffectedAssets:  e.AffectedAssets,
			Reason:          e.Reason,
			Trades:          e.Plan.Trades,
			Confidence:      e.Plan.Confidence,
			RiskLevel:       e.Plan.RiskLevel,
			PrevHash:        e.PrevHash,
			Hash:            e.Hash,
			Content:         base64.StdEncoding.EncodeToString(e.Content),
			Transitions:     transitions,
		})
	}

	return report, nil
}
