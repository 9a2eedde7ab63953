package workflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MerOne-1/cv-reformatter-sub001/internal/metrics"
	"github.com/MerOne-1/cv-reformatter-sub001/types"
)

const instrumentationName = "github.com/MerOne-1/cv-reformatter-sub001/workflow"

// CancelledMessage is recorded on runs cancelled by a client.
const CancelledMessage = "Workflow cancelled by user"

// StepResult is what a worker reports for a successful step.
type StepResult struct {
	Input  string
	Output string
}

// Scheduler drives the step and run state machine. It never runs agent
// logic itself: it dispatches jobs and reacts to completion callbacks.
//
// Every status write goes through a guarded transition, so concurrent
// callbacks for the same run need no locking.
type Scheduler struct {
	store    Store
	queue    JobQueue
	compiler *Compiler
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithMetrics records run and step metrics.
func WithMetrics(m *metrics.Collector) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithIDGenerator overrides how run ids are minted.
func WithIDGenerator(newID func() string) SchedulerOption {
	return func(s *Scheduler) { s.newID = newID }
}

// NewScheduler creates a scheduler over store and queue.
func NewScheduler(store Store, queue JobQueue, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		store:    store,
		queue:    queue,
		compiler: NewCompiler(),
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "step_scheduler")),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRun compiles the active graph for documentID, persists the run
// and dispatches its root steps.
func (s *Scheduler) StartRun(ctx context.Context, documentID string) (run *Run, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.start_run",
		trace.WithAttributes(attribute.String("document.id", documentID)))
	defer func() { endSpan(span, err) }()

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.HasContent() {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("document %q has no extracted content", documentID)).
			WithHTTPStatus(http.StatusNotFound)
	}

	agents, err := s.store.ListAgents(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	conns, err := s.store.ListConnections(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	runID := s.newID()
	plan, err := s.compiler.Compile(runID, agents, conns)
	if err != nil {
		return nil, err
	}

	run = &Run{
		ID:         runID,
		DocumentID: documentID,
		Status:     RunPending,
		StartedAt:  s.now(),
	}
	if err := s.store.CreateRun(ctx, run, plan.Steps); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("run.id", runID), attribute.Int("run.steps", len(plan.Steps)))
	s.metrics.RecordRunStarted()
	s.logger.Info("workflow run created",
		zap.String("run_id", runID),
		zap.String("document_id", documentID),
		zap.Int("steps", len(plan.Steps)),
	)

	for _, step := range plan.Roots() {
		if err := s.dispatch(ctx, step); err != nil {
			s.logger.Warn("root step dispatch failed",
				zap.String("run_id", runID),
				zap.String("step_id", step.ID),
				zap.Error(err),
			)
		}
	}

	return s.store.GetRun(ctx, runID)
}

// OnStepCompleted records a successful step and dispatches every
// successor whose predecessors are now all completed. A result for a
// step that is no longer RUNNING is discarded.
func (s *Scheduler) OnStepCompleted(ctx context.Context, stepID string, result StepResult) (err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.step_completed",
		trace.WithAttributes(attribute.String("step.id", stepID)))
	defer func() { endSpan(span, err) }()

	now := s.now()
	ok, err := s.store.TransitionStep(ctx, stepID, []StepStatus{StepRunning}, StepCompleted, StepPatch{
		CompletedAt: &now,
		Input:       &result.Input,
		Output:      &result.Output,
	})
	if err != nil {
		return fmt.Errorf("mark step %s completed: %w", stepID, err)
	}
	if !ok {
		s.logger.Info("discarding result of step that is no longer running", zap.String("step_id", stepID))
		return nil
	}
	s.metrics.RecordStepTransition(string(StepCompleted))

	step, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	s.recordStepFinished(step)
	span.SetAttributes(attribute.String("run.id", step.RunID))

	run, steps, err := s.load(ctx, step.RunID)
	if err != nil {
		return err
	}
	byID := indexSteps(steps)

	if run.Status != RunRunning {
		// the run ended while this step was in flight
		return s.skipDescendants(ctx, byID, step.ID)
	}

	for _, succID := range step.Successors {
		succ, ok := byID[succID]
		if !ok || !succ.Status.NotStarted() || !predecessorsCompleted(succ, byID) {
			continue
		}
		if err := s.dispatch(ctx, *succ); err != nil {
			s.logger.Warn("successor dispatch failed",
				zap.String("run_id", run.ID),
				zap.String("step_id", succID),
				zap.Error(err),
			)
		}
	}

	if allCompleted(steps) {
		return s.completeRun(ctx, run)
	}
	return nil
}

// OnStepFailed records a failed step, skips its not-yet-running
// transitive successors and fails the run with the step's error.
func (s *Scheduler) OnStepFailed(ctx context.Context, stepID string, cause error) (err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.step_failed",
		trace.WithAttributes(attribute.String("step.id", stepID)))
	defer func() { endSpan(span, err) }()

	msg := "step failed"
	if cause != nil {
		msg = cause.Error()
	}
	now := s.now()
	ok, err := s.store.TransitionStep(ctx, stepID, []StepStatus{StepRunning}, StepFailed, StepPatch{
		CompletedAt:  &now,
		ErrorMessage: &msg,
	})
	if err != nil {
		return fmt.Errorf("mark step %s failed: %w", stepID, err)
	}
	if !ok {
		s.logger.Info("ignoring failure of step that is no longer running", zap.String("step_id", stepID))
		return nil
	}
	s.metrics.RecordStepTransition(string(StepFailed))

	step, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	s.recordStepFinished(step)

	run, steps, err := s.load(ctx, step.RunID)
	if err != nil {
		return err
	}
	if err := s.skipDescendants(ctx, indexSteps(steps), step.ID); err != nil {
		return err
	}

	s.logger.Warn("workflow step failed",
		zap.String("run_id", run.ID),
		zap.String("step_id", step.ID),
		zap.String("agent", step.AgentName),
		zap.String("error", msg),
	)
	return s.failRun(ctx, run, fmt.Sprintf("Agent %q failed: %s", step.AgentName, msg))
}

// Cancel moves a non-terminal run to CANCELLED, skips its unfinished
// steps and withdraws their queued jobs. Cancelling a terminal run is a
// conflict reported with HTTP 400.
func (s *Scheduler) Cancel(ctx context.Context, runID string) (run *Run, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.cancel_run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer func() { endSpan(span, err) }()

	run, err = s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, cancelConflict(run)
	}

	now := s.now()
	msg := CancelledMessage
	ok, err := s.store.TransitionRun(ctx, runID, []RunStatus{RunPending, RunRunning}, RunCancelled, RunPatch{
		CompletedAt:  &now,
		ErrorMessage: &msg,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel run %s: %w", runID, err)
	}
	if !ok {
		current, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		return nil, cancelConflict(current)
	}
	s.metrics.RecordRunFinished(string(RunCancelled), now.Sub(run.StartedAt))

	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	skipped := 0
	for _, st := range steps {
		if st.Status.IsTerminal() {
			continue
		}
		ok, err := s.store.TransitionStep(ctx, st.ID,
			[]StepStatus{StepPending, StepWaitingInputs, StepRunning}, StepSkipped,
			StepPatch{CompletedAt: &now})
		if err != nil {
			return nil, fmt.Errorf("skip step %s: %w", st.ID, err)
		}
		if !ok {
			continue
		}
		skipped++
		s.metrics.RecordStepTransition(string(StepSkipped))
		s.cancelJob(ctx, st)
	}

	s.logger.Info("workflow run cancelled", zap.String("run_id", runID), zap.Int("skipped_steps", skipped))
	return s.store.GetRun(ctx, runID)
}

// Reconcile re-evaluates the frontier of a live run. It repairs runs
// whose completion callbacks were lost half way: ready steps are
// dispatched, a failed step fails the run, a fully completed run is
// completed.
func (s *Scheduler) Reconcile(ctx context.Context, runID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.reconcile",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer func() { endSpan(span, err) }()

	run, steps, err := s.load(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}
	byID := indexSteps(steps)

	for _, st := range steps {
		if st.Status != StepFailed {
			continue
		}
		if err := s.skipDescendants(ctx, byID, st.ID); err != nil {
			return err
		}
		return s.failRun(ctx, run, fmt.Sprintf("Agent %q failed: %s", st.AgentName, st.ErrorMessage))
	}

	if allCompleted(steps) {
		return s.completeRun(ctx, run)
	}

	for _, st := range steps {
		if !st.Status.NotStarted() || !predecessorsCompleted(byID[st.ID], byID) {
			continue
		}
		if err := s.dispatch(ctx, st); err != nil {
			s.logger.Warn("reconcile dispatch failed",
				zap.String("run_id", runID),
				zap.String("step_id", st.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// dispatch moves a ready step to RUNNING and enqueues its job. Only the
// caller that wins the guarded transition enqueues.
func (s *Scheduler) dispatch(ctx context.Context, step Step) error {
	now := s.now()
	ok, err := s.store.TransitionStep(ctx, step.ID,
		[]StepStatus{StepPending, StepWaitingInputs}, StepRunning,
		StepPatch{StartedAt: &now})
	if err != nil {
		return fmt.Errorf("mark step %s running: %w", step.ID, err)
	}
	if !ok {
		return nil
	}
	s.metrics.RecordStepTransition(string(StepRunning))

	started, err := s.store.TransitionRun(ctx, step.RunID, []RunStatus{RunPending}, RunRunning, RunPatch{})
	if err != nil {
		return fmt.Errorf("mark run %s running: %w", step.RunID, err)
	}
	if !started {
		run, err := s.store.GetRun(ctx, step.RunID)
		if err != nil {
			return err
		}
		if run.Status != RunRunning {
			// the run ended before this step could be enqueued
			return s.abandon(ctx, run.ID, step.ID)
		}
	}

	payload := NewAgentExecutionPayload(step.RunID, step.ID)
	jobID, err := s.queue.Enqueue(ctx, payload)
	s.metrics.RecordJobEnqueued(string(payload.Kind), err)
	if err != nil {
		extErr := types.NewExternalServiceError("job queue", err)
		if ferr := s.OnStepFailed(ctx, step.ID, extErr); ferr != nil {
			s.logger.Error("failed to record enqueue failure",
				zap.String("step_id", step.ID),
				zap.Error(ferr),
			)
		}
		return extErr
	}

	if err := s.store.SetStepJob(ctx, step.ID, jobID); err != nil {
		return fmt.Errorf("record job for step %s: %w", step.ID, err)
	}
	s.logger.Debug("step dispatched",
		zap.String("run_id", step.RunID),
		zap.String("step_id", step.ID),
		zap.String("agent", step.AgentName),
		zap.String("job_id", jobID),
	)
	return nil
}

// abandon skips a RUNNING step of a run that is no longer running,
// together with its not-yet-started descendants.
func (s *Scheduler) abandon(ctx context.Context, runID, stepID string) error {
	now := s.now()
	ok, err := s.store.TransitionStep(ctx, stepID, []StepStatus{StepRunning}, StepSkipped, StepPatch{CompletedAt: &now})
	if err != nil {
		return fmt.Errorf("skip step %s: %w", stepID, err)
	}
	if !ok {
		return nil
	}
	s.metrics.RecordStepTransition(string(StepSkipped))

	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return fmt.Errorf("list steps: %w", err)
	}
	return s.skipDescendants(ctx, indexSteps(steps), stepID)
}

// skipDescendants marks every not-yet-started transitive successor of
// stepID as SKIPPED.
func (s *Scheduler) skipDescendants(ctx context.Context, byID map[string]*Step, stepID string) error {
	now := s.now()
	for _, id := range descendants(byID, stepID) {
		st := byID[id]
		if !st.Status.NotStarted() {
			continue
		}
		ok, err := s.store.TransitionStep(ctx, id,
			[]StepStatus{StepPending, StepWaitingInputs}, StepSkipped,
			StepPatch{CompletedAt: &now})
		if err != nil {
			return fmt.Errorf("skip step %s: %w", id, err)
		}
		if ok {
			s.metrics.RecordStepTransition(string(StepSkipped))
		}
	}
	return nil
}

func (s *Scheduler) failRun(ctx context.Context, run *Run, msg string) error {
	now := s.now()
	ok, err := s.store.TransitionRun(ctx, run.ID, []RunStatus{RunPending, RunRunning}, RunFailed, RunPatch{
		CompletedAt:  &now,
		ErrorMessage: &msg,
	})
	if err != nil {
		return fmt.Errorf("fail run %s: %w", run.ID, err)
	}
	if ok {
		s.metrics.RecordRunFinished(string(RunFailed), now.Sub(run.StartedAt))
		s.logger.Warn("workflow run failed", zap.String("run_id", run.ID), zap.String("error", msg))
	}
	return nil
}

func (s *Scheduler) completeRun(ctx context.Context, run *Run) error {
	now := s.now()
	ok, err := s.store.TransitionRun(ctx, run.ID, []RunStatus{RunRunning}, RunCompleted, RunPatch{CompletedAt: &now})
	if err != nil {
		return fmt.Errorf("complete run %s: %w", run.ID, err)
	}
	if ok {
		s.metrics.RecordRunFinished(string(RunCompleted), now.Sub(run.StartedAt))
		s.logger.Info("workflow run completed", zap.String("run_id", run.ID))
	}
	return nil
}

func (s *Scheduler) cancelJob(ctx context.Context, st Step) {
	if st.JobID == "" {
		return
	}
	if err := s.queue.Cancel(ctx, st.JobID); err != nil {
		s.logger.Warn("failed to withdraw queued job",
			zap.String("step_id", st.ID),
			zap.String("job_id", st.JobID),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) load(ctx context.Context, runID string) (*Run, []Step, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("list steps: %w", err)
	}
	return run, steps, nil
}

func (s *Scheduler) recordStepFinished(step *Step) {
	if step.StartedAt == nil || step.CompletedAt == nil {
		return
	}
	s.metrics.RecordStepFinished(step.AgentName, string(step.Status), step.CompletedAt.Sub(*step.StartedAt))
}

func cancelConflict(run *Run) error {
	return types.NewConflictError("run %s is already %s and cannot be cancelled", run.ID, run.Status).
		WithHTTPStatus(http.StatusBadRequest)
}

func indexSteps(steps []Step) map[string]*Step {
	byID := make(map[string]*Step, len(steps))
	for i := range steps {
		byID[steps[i].ID] = &steps[i]
	}
	return byID
}

func predecessorsCompleted(step *Step, byID map[string]*Step) bool {
	if step == nil {
		return false
	}
	for _, p := range step.Predecessors {
		pred, ok := byID[p]
		if !ok || pred.Status != StepCompleted {
			return false
		}
	}
	return true
}

func allCompleted(steps []Step) bool {
	for _, st := range steps {
		if st.Status != StepCompleted {
			return false
		}
	}
	return len(steps) > 0
}

// descendants walks the successor relation breadth first.
func descendants(byID map[string]*Step, stepID string) []string {
	start, ok := byID[stepID]
	if !ok {
		return nil
	}
	var out []string
	visited := map[string]bool{stepID: true}
	queue := append([]string(nil), start.Successors...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		st, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, id)
		queue = append(queue, st.Successors...)
	}
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
