package scheduler

import (
	"context"
	"time"

	"github.com/finguard/finguard/internal/modules/ledger"
)

// DriftEvaluatorInterface defines the sweep the drift monitor runs
// Used by scheduler to enable testing with mocks
type DriftEvaluatorInterface interface {
	EvaluateAll(ctx context.Context, autoPlan bool) (evaluated, planned int)
}

// LedgerVerifierInterface defines the contract for chain verification
type LedgerVerifierInterface interface {
	Verify(ctx context.Context) (*ledger.VerificationReport, error)
}

// LedgerArchiverInterface defines the contract for uploading ledger exports
type LedgerArchiverInterface interface {
	Archive(ctx context.Context, from, to time.Time) (*ledger.ArchiveResult, error)
}
