package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MerOne-1/cv-reformatter-sub001/internal/metrics"
)

// DefaultStaleThreshold is how long a run may stay unfinished.
const DefaultStaleThreshold = 30 * time.Minute

// SweepResult counts what one sweep force-terminated.
type SweepResult struct {
	RunsFailed  int `json:"runsFailed"`
	StepsFailed int `json:"stepsFailed"`
}

// Sweeper force-fails runs stuck in PENDING or RUNNING past a threshold.
// It is the only guard against jobs lost by the broker or a worker.
type Sweeper struct {
	store     RunStore
	queue     JobQueue
	threshold time.Duration
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeper creates a sweeper. A nil queue skips job withdrawal; a
// non-positive threshold falls back to DefaultStaleThreshold.
func NewSweeper(store RunStore, queue JobQueue, threshold time.Duration, m *metrics.Collector, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return &Sweeper{
		store:     store,
		queue:     queue,
		threshold: threshold,
		metrics:   m,
		logger:    logger.With(zap.String("component", "cleanup_sweeper")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Threshold returns the staleness threshold.
func (s *Sweeper) Threshold() time.Duration { return s.threshold }

// Sweep fails every stale run together with its non-terminal steps.
// Running it again right away changes nothing.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()
	cutoff := now.Add(-s.threshold)

	runs, err := s.store.ListStaleRuns(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("list stale runs: %w", err)
	}

	runMsg := fmt.Sprintf("Workflow timed out after %s without completing", s.threshold)
	stepMsg := fmt.Sprintf("Step timed out after %s", s.threshold)

	for _, run := range runs {
		ok, err := s.store.TransitionRun(ctx, run.ID, []RunStatus{RunPending, RunRunning}, RunFailed, RunPatch{
			CompletedAt:  &now,
			ErrorMessage: &runMsg,
		})
		if err != nil {
			return res, fmt.Errorf("fail stale run %s: %w", run.ID, err)
		}
		if !ok {
			// finished between the query and the write
			continue
		}
		res.RunsFailed++
		s.metrics.RecordRunFinished(string(RunFailed), now.Sub(run.StartedAt))

		failed, err := s.sweepSteps(ctx, run.ID, now, stepMsg)
		res.StepsFailed += failed
		if err != nil {
			return res, err
		}

		s.logger.Warn("stale workflow run force-failed",
			zap.String("run_id", run.ID),
			zap.Time("started_at", run.StartedAt),
			zap.Int("steps_failed", failed),
		)
	}

	s.metrics.RecordSweep(res.RunsFailed, res.StepsFailed)
	if res.RunsFailed > 0 {
		s.logger.Info("cleanup sweep finished",
			zap.Int("runs_failed", res.RunsFailed),
			zap.Int("steps_failed", res.StepsFailed),
		)
	}
	return res, nil
}

func (s *Sweeper) sweepSteps(ctx context.Context, runID string, now time.Time, msg string) (failed int, err error) {
	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("list steps: %w", err)
	}
	for _, st := range steps {
		if st.Status.IsTerminal() {
			continue
		}
		ok, err := s.store.TransitionStep(ctx, st.ID,
			[]StepStatus{StepPending, StepWaitingInputs, StepRunning}, StepFailed,
			StepPatch{CompletedAt: &now, ErrorMessage: &msg})
		if err != nil {
			return failed, fmt.Errorf("fail stale step %s: %w", st.ID, err)
		}
		if ok {
			failed++
			s.metrics.RecordStepTransition(string(StepFailed))
			s.withdraw(ctx, st)
		}
	}
	return failed, nil
}

func (s *Sweeper) withdraw(ctx context.Context, st Step) {
	if s.queue == nil || st.JobID == "" {
		return
	}
	if err := s.queue.Cancel(ctx, st.JobID); err != nil {
		s.logger.Warn("failed to withdraw job of stale step",
			zap.String("step_id", st.ID),
			zap.String("job_id", st.JobID),
			zap.Error(err),
		)
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}
