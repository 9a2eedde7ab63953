package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MerOne-1/cv-reformatter-sub001/internal/ctxkeys"
	"github.com/MerOne-1/cv-reformatter-sub001/types"
)

// Executor is the agent execution collaborator: an opaque text-in,
// text-out call.
type Executor interface {
	Execute(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// inputSeparator joins predecessor outputs for fan-in steps.
const inputSeparator = "\n\n"

// Runner handles dequeued jobs on behalf of a worker.
type Runner struct {
	store     RunStore
	scheduler *Scheduler
	executor  Executor
	logger    *zap.Logger
}

// NewRunner creates a runner reporting to scheduler.
func NewRunner(store RunStore, scheduler *Scheduler, executor Executor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:     store,
		scheduler: scheduler,
		executor:  executor,
		logger:    logger.With(zap.String("component", "step_runner")),
	}
}

// Handle processes one job payload.
func (r *Runner) Handle(ctx context.Context, payload JobPayload) error {
	if err := payload.Validate(); err != nil {
		return types.NewValidationError("invalid job payload: %v", err)
	}
	switch payload.Kind {
	case JobKindCoordinator:
		return r.scheduler.Reconcile(ctx, payload.Coordinator.RunID)
	default:
		return r.runStep(ctx, *payload.AgentExecution)
	}
}

func (r *Runner) runStep(ctx context.Context, job AgentExecutionJob) (err error) {
	ctx = ctxkeys.WithStepID(ctxkeys.WithRunID(ctx, job.RunID), job.StepID)
	ctx, span := r.scheduler.tracer.Start(ctx, "workflow.run_step",
		trace.WithAttributes(
			attribute.String("run.id", job.RunID),
			attribute.String("step.id", job.StepID),
		))
	defer func() { endSpan(span, err) }()

	step, err := r.store.GetStep(ctx, job.StepID)
	if err != nil {
		return err
	}
	if step.RunID != job.RunID {
		return types.NewValidationError("step %s does not belong to run %s", job.StepID, job.RunID)
	}
	if step.Status != StepRunning {
		r.logger.Info("dropping job for step that is not running",
			zap.String("step_id", step.ID),
			zap.String("status", string(step.Status)),
		)
		return nil
	}
	run, err := r.store.GetRun(ctx, step.RunID)
	if err != nil {
		return err
	}
	switch run.Status {
	case RunRunning, RunFailed:
		// a step of a FAILED run still finishes; OnStepCompleted does
		// not propagate its result
	default:
		r.logger.Info("skipping step of run that is not running",
			zap.String("run_id", run.ID),
			zap.String("step_id", step.ID),
			zap.String("status", string(run.Status)),
		)
		return r.scheduler.abandon(ctx, run.ID, step.ID)
	}

	input, err := r.buildInput(ctx, run, step)
	if err != nil {
		return r.scheduler.OnStepFailed(ctx, step.ID, err)
	}

	output, err := r.executor.Execute(ctx, step.SystemPrompt, input)
	if err != nil {
		if ctx.Err() != nil {
			// shutdown: leave the step RUNNING for reconcile or sweep
			return ctx.Err()
		}
		if _, ok := types.AsError(err); !ok {
			err = types.NewExternalServiceError("agent", err)
		}
		return r.scheduler.OnStepFailed(ctx, step.ID, err)
	}

	return r.scheduler.OnStepCompleted(ctx, step.ID, StepResult{Input: input, Output: output})
}

// buildInput feeds roots the document text and every other step the
// outputs of its predecessors in display order.
func (r *Runner) buildInput(ctx context.Context, run *Run, step *Step) (string, error) {
	if len(step.Predecessors) == 0 {
		doc, err := r.store.GetDocument(ctx, run.DocumentID)
		if err != nil {
			return "", fmt.Errorf("load document: %w", err)
		}
		if !doc.HasContent() {
			return "", types.NewValidationError("document %q has no extracted content", run.DocumentID)
		}
		return doc.ExtractedText, nil
	}

	steps, err := r.store.ListSteps(ctx, run.ID)
	if err != nil {
		return "", fmt.Errorf("list steps: %w", err)
	}
	byID := indexSteps(steps)

	preds := make([]*Step, 0, len(step.Predecessors))
	for _, id := range step.Predecessors {
		p, ok := byID[id]
		if !ok || p.Status != StepCompleted {
			return "", types.NewInternalError(fmt.Sprintf("predecessor %s of step %s is not completed", id, step.ID), nil)
		}
		preds = append(preds, p)
	}
	sort.SliceStable(preds, func(i, j int) bool {
		if preds[i].Order != preds[j].Order {
			return preds[i].Order < preds[j].Order
		}
		return preds[i].AgentName < preds[j].AgentName
	})

	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = p.Output
	}
	return strings.Join(parts, inputSeparator), nil
}
