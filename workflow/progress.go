package workflow

import (
	"context"
	"fmt"
)

// Progress is a run-level projection of its step statuses.
type Progress struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	WaitingInputs int `json:"waitingInputs"`
	Running       int `json:"running"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
	Percentage    int `json:"percentage"`
}

// Count returns the number of steps in status.
func (p Progress) Count(status StepStatus) int {
	switch status {
	case StepPending:
		return p.Pending
	case StepWaitingInputs:
		return p.WaitingInputs
	case StepRunning:
		return p.Running
	case StepCompleted:
		return p.Completed
	case StepFailed:
		return p.Failed
	case StepSkipped:
		return p.Skipped
	}
	return 0
}

// Summarize counts steps per status. Percentage is the integer share of
// completed steps; it reaches 100 only for a COMPLETED run and is capped
// at 99 otherwise.
func Summarize(status RunStatus, steps []Step) Progress {
	p := Progress{Total: len(steps)}
	for _, st := range steps {
		switch st.Status {
		case StepPending:
			p.Pending++
		case StepWaitingInputs:
			p.WaitingInputs++
		case StepRunning:
			p.Running++
		case StepCompleted:
			p.Completed++
		case StepFailed:
			p.Failed++
		case StepSkipped:
			p.Skipped++
		}
	}

	switch {
	case status == RunCompleted:
		p.Percentage = 100
	case p.Total == 0:
		p.Percentage = 0
	default:
		p.Percentage = min(p.Completed*100/p.Total, 99)
	}
	return p
}

// Aggregator serves progress for the polling endpoints.
type Aggregator struct {
	store RunStore
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store RunStore) *Aggregator {
	return &Aggregator{store: store}
}

// Snapshot is a run with its steps and derived progress.
type Snapshot struct {
	Run      *Run     `json:"run"`
	Steps    []Step   `json:"steps"`
	Progress Progress `json:"progress"`
}

// Snapshot loads the run and its steps. Reads are not transactional; a
// poll racing with transitions may see a slightly stale mix, never an
// out-of-range percentage.
func (a *Aggregator) Snapshot(ctx context.Context, runID string) (*Snapshot, error) {
	run, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := a.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return &Snapshot{Run: run, Steps: steps, Progress: Summarize(run.Status, steps)}, nil
}

// Progress returns only the derived progress for runID.
func (a *Aggregator) Progress(ctx context.Context, runID string) (Progress, error) {
	snap, err := a.Snapshot(ctx, runID)
	if err != nil {
		return Progress{}, err
	}
	return snap.Progress, nil
}
