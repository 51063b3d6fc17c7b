package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/events"
	"github.com/finguard/finguard/internal/modules/allocation"
	"github.com/finguard/finguard/internal/modules/ledger"
	"github.com/finguard/finguard/internal/modules/marketdata"
	"github.com/finguard/finguard/internal/modules/optimization"
	"github.com/finguard/finguard/internal/modules/planning"
	"github.com/finguard/finguard/internal/modules/portfolio"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Plan outcome statuses
const (
	StatusPlanned        = "planned"
	StatusNoActionNeeded = "no_action_needed"
)

// EvaluationResult is the drift picture of one portfolio snapshot
type EvaluationResult struct {
	PortfolioID string               `json:"portfolio_id"`
	Version     int64                `json:"version"`
	TotalValue  decimal.Decimal      `json:"total_value"`
	Records     []domain.DriftRecord `json:"records"`
	Evaluation  *Evaluation          `json:"evaluation"`
	Stale       bool                 `json:"stale"`
	AsOf        time.Time            `json:"as_of"`
	EvaluatedAt time.Time            `json:"evaluated_at"`
}

// PlanOutcome is either a recorded plan or the evaluation that did not need
// one. Stale and DataAsOf describe the prices the decision was made on.
type PlanOutcome struct {
	Status     string            `json:"status"`
	Entry      *ledger.Entry     `json:"entry,omitempty"`
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`
	Stale      bool              `json:"stale"`
	DataAsOf   time.Time         `json:"data_as_of"`
}

// Service runs the evaluate and plan pipeline for a portfolio: refresh prices,
// compute drift, apply the threshold, plan trades, score them and record the
// decision in the ledger
type Service struct {
	registry       *portfolio.Registry
	market         *marketdata.Provider
	triggerChecker *TriggerChecker
	planner        *planning.Planner
	estimator      *optimization.ImpactEstimator
	ledger         *ledger.Ledger
	events         *events.Manager
	threshold      decimal.Decimal
	now            func() time.Time
	log            zerolog.Logger
}

// NewService creates a new rebalancing service
func NewService(
	registry *portfolio.Registry,
	market *marketdata.Provider,
	triggerChecker *TriggerChecker,
	planner *planning.Planner,
	estimator *optimization.ImpactEstimator,
	auditLedger *ledger.Ledger,
	threshold decimal.Decimal,
	log zerolog.Logger,
) *Service {
	return &Service{
		registry:       registry,
		market:         market,
		triggerChecker: triggerChecker,
		planner:        planner,
		estimator:      estimator,
		ledger:         auditLedger,
		threshold:      threshold,
		now:            time.Now,
		log:            log.With().Str("service", "rebalancing").Logger(),
	}
}

// SetEventManager sets the event manager
func (s *Service) SetEventManager(manager *events.Manager) {
	s.events = manager
}

// SetClock replaces the clock used to stamp evaluations and score plans
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Evaluate refreshes prices and reports drift for a portfolio
func (s *Service) Evaluate(ctx context.Context, portfolioID string) (*EvaluationResult, error) {
	result, _, err := s.evaluate(ctx, portfolioID, "evaluate portfolio")
	return result, err
}

// Plan evaluates a portfolio and, when drift exceeds the threshold, plans and
// records a rebalance. A portfolio within threshold yields StatusNoActionNeeded.
func (s *Service) Plan(ctx context.Context, portfolioID string, triggeredBy ledger.TriggeredBy) (*PlanOutcome, error) {
	const op = "plan rebalance"

	result, p, err := s.evaluate(ctx, portfolioID, op)
	if err != nil {
		return nil, err
	}
	noAction := &PlanOutcome{Status: StatusNoActionNeeded, Evaluation: result, Stale: result.Stale, DataAsOf: result.AsOf}
	if !result.Evaluation.Triggered {
		return noAction, nil
	}

	plan, err := s.planner.Plan(p, result.Evaluation.Violations, p.Constraints)
	if errors.Is(err, domain.ErrNoActionNeeded) {
		return noAction, nil
	}
	if err != nil {
		if errors.Is(err, domain.ErrInfeasiblePlan) {
			s.emitInfeasible(portfolioID, result.Evaluation.Violations, err)
		}
		return nil, err
	}

	returns, err := s.market.Returns(ctx, marketdata.ReturnKeys(p))
	if err != nil {
		return nil, err
	}
	if err := s.estimator.Score(p, plan, returns.Series, s.now()); err != nil {
		return nil, fmt.Errorf("failed to score plan: %w", err)
	}
	plan.Stale = result.Stale
	plan.DataAsOf = result.AsOf.UTC()
	plan.Reason = BuildReason(plan)

	entry, err := s.ledger.Append(ctx, ledger.Draft{
		PortfolioID: portfolioID,
		TriggeredBy: triggeredBy,
		Reason:      plan.Reason,
		Plan:        plan,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("portfolio_id", portfolioID).
		Str("entry_id", entry.ID).
		Int("trades", len(plan.Trades)).
		Float64("confidence", plan.Confidence).
		Str("risk_level", plan.RiskLevel).
		Bool("stale", plan.Stale).
		Time("data_as_of", plan.DataAsOf).
		Msg("Rebalance plan recorded")

	if s.events != nil {
		s.events.EmitTyped("rebalancing", &events.PlanGeneratedData{
			PortfolioID: portfolioID,
			EntryID:     entry.ID,
			Trades:      len(plan.Trades),
			Confidence:  plan.Confidence,
			RiskLevel:   plan.RiskLevel,
			TriggeredBy: string(triggeredBy),
			Stale:       plan.Stale,
		})
	}

	return &PlanOutcome{Status: StatusPlanned, Entry: entry, Stale: plan.Stale, DataAsOf: plan.DataAsOf}, nil
}

// evaluate returns the result together with the snapshot it was computed from
func (s *Service) evaluate(ctx context.Context, portfolioID, op string) (*EvaluationResult, *domain.Portfolio, error) {
	owner, err := s.registry.Owner(portfolioID)
	if err != nil {
		return nil, nil, err
	}

	quotes, err := s.market.Quotes(ctx, owner.Snapshot().Symbols())
	if err != nil {
		return nil, nil, err
	}
	p, updated, err := owner.ApplyQuotes(ctx, quotes.Quotes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply quotes: %w", err)
	}
	if updated > 0 && s.events != nil {
		s.events.EmitTyped("rebalancing", &events.PricesRefreshedData{
			PortfolioID: portfolioID,
			Symbols:     updated,
			Stale:       quotes.Stale,
		})
	}

	asOf := p.OldestPrice()
	stale, err := s.market.Assess(op, asOf)
	if err != nil {
		s.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Refusing to evaluate on stale data")
		return nil, nil, err
	}
	stale = stale || quotes.Stale || len(quotes.Missing) > 0

	records := allocation.Drift(p)
	evaluation, err := s.triggerChecker.Evaluate(records, s.threshold)
	if err != nil {
		return nil, nil, err
	}

	result := &EvaluationResult{
		PortfolioID: p.ID,
		Version:     p.Version,
		TotalValue:  p.TotalValue(),
		Records:     records,
		Evaluation:  evaluation,
		Stale:       stale,
		AsOf:        asOf,
		EvaluatedAt: s.now().UTC(),
	}

	if s.events != nil {
		data := &events.DriftEvaluatedData{
			PortfolioID: p.ID,
			Version:     p.Version,
			Triggered:   evaluation.Triggered,
			Violations:  len(evaluation.Violations),
			Stale:       stale,
		}
		if evaluation.Triggered {
			data.TopKey = evaluation.Violations[0].Key
			data.TopDrift, _ = evaluation.Violations[0].DriftPct.Float64()
		}
		s.events.EmitTyped("rebalancing", data)
	}

	return result, p, nil
}

func (s *Service) emitInfeasible(portfolioID string, violations []domain.DriftRecord, err error) {
	s.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("No feasible rebalance plan")
	if s.events == nil {
		return
	}
	keys := make([]string, 0, len(violations))
	for _, v := range violations {
		keys = append(keys, v.Key)
	}
	s.events.EmitTyped("rebalancing", &events.PlanInfeasibleData{
		PortfolioID: portfolioID,
		Violations:  keys,
		Reason:      err.Error(),
	})
}

// EvaluateAll evaluates every portfolio and, when autoPlan is set, plans the
// triggered ones. Failures are logged per portfolio and do not stop the sweep.
func (s *Service) EvaluateAll(ctx context.Context, autoPlan bool) (evaluated, planned int) {
	for _, owner := range s.registry.Owners() {
		if ctx.Err() != nil {
			return evaluated, planned
		}
		id := owner.ID()

		if !autoPlan {
			if _, err := s.Evaluate(ctx, id); err != nil {
				s.log.Warn().Err(err).Str("portfolio_id", id).Msg("Scheduled evaluation failed")
				continue
			}
			evaluated++
			continue
		}

		outcome, err := s.Plan(ctx, id, ledger.TriggeredByScheduled)
		if err != nil {
			s.log.Warn().Err(err).Str("portfolio_id", id).Msg("Scheduled planning failed")
			continue
		}
		evaluated++
		if outcome.Status == StatusPlanned {
			planned++
		}
	}
	return evaluated, planned
}
