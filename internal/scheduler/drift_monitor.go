package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DriftMonitorJob evaluates every portfolio and, with auto-planning on,
// records a plan for each one whose drift crosses the threshold
type DriftMonitorJob struct {
	evaluator DriftEvaluatorInterface
	autoPlan  bool
	timeout   time.Duration
	log       zerolog.Logger
}

// DriftMonitorConfig holds configuration for the drift monitor job
type DriftMonitorConfig struct {
	Log       zerolog.Logger
	Evaluator DriftEvaluatorInterface
	AutoPlan  bool
	Timeout   time.Duration
}

// NewDriftMonitorJob creates a new drift monitor job
func NewDriftMonitorJob(cfg DriftMonitorConfig) *DriftMonitorJob {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &DriftMonitorJob{
		evaluator: cfg.Evaluator,
		autoPlan:  cfg.AutoPlan,
		timeout:   timeout,
		log:       cfg.Log.With().Str("job", "drift_monitor").Logger(),
	}
}

// Name returns the job name
func (j *DriftMonitorJob) Name() string {
	return "drift_monitor"
}

// Run executes one evaluation sweep
func (j *DriftMonitorJob) Run() error {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	evaluated, planned := j.evaluator.EvaluateAll(ctx, j.autoPlan)

	j.log.Info().
		Int("evaluated", evaluated).
		Int("planned", planned).
		Bool("auto_plan", j.autoPlan).
		Dur("duration", time.Since(startTime)).
		Msg("Drift sweep completed")

	return nil
}
