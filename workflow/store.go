package workflow

import (
	"context"
	"time"
)

// GraphStore persists the pipeline configuration.
type GraphStore interface {
	ListAgents(ctx context.Context, activeOnly bool) ([]Agent, error)
	GetAgent(ctx context.Context, id string) (*Agent, error)
	CreateAgent(ctx context.Context, agent *Agent) error
	UpdateAgent(ctx context.Context, agent *Agent) error
	DeleteAgent(ctx context.Context, id string) error

	ListConnections(ctx context.Context, activeOnly bool) ([]Connection, error)
	GetConnection(ctx context.Context, id string) (*Connection, error)
	CreateConnection(ctx context.Context, conn *Connection) error
	UpdateConnection(ctx context.Context, conn *Connection) error
	DeleteConnection(ctx context.Context, id string) error
}

// RunStore persists executions and their steps.
//
// TransitionRun and TransitionStep are status-guarded: the row is only
// written when its current status is one of from. They report whether
// the write happened; losing the guard is not an error.
type RunStore interface {
	GetDocument(ctx context.Context, id string) (*Document, error)

	// CreateRun inserts the run and its steps atomically. It fails with a
	// conflict when the document already has a PENDING or RUNNING run.
	CreateRun(ctx context.Context, run *Run, steps []Step) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ListStaleRuns(ctx context.Context, startedBefore time.Time) ([]Run, error)
	TransitionRun(ctx context.Context, id string, from []RunStatus, to RunStatus, patch RunPatch) (bool, error)

	GetStep(ctx context.Context, id string) (*Step, error)
	ListSteps(ctx context.Context, runID string) ([]Step, error)
	TransitionStep(ctx context.Context, id string, from []StepStatus, to StepStatus, patch StepPatch) (bool, error)
	SetStepJob(ctx context.Context, id, jobID string) error
}

// Store is the full persistence contract.
type Store interface {
	GraphStore
	RunStore
}

// JobQueue is the durable queue agent work is dispatched through.
type JobQueue interface {
	Enqueue(ctx context.Context, payload JobPayload) (string, error)
	// Cancel removes a job that has not been picked up yet. Cancelling an
	// unknown or already running job is not an error.
	Cancel(ctx context.Context, jobID string) error
}
