package queue

import (
	"context"
	"time"

	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// Job is a dequeued unit of work.
type Job struct {
	ID         string
	Payload    workflow.JobPayload
	EnqueuedAt time.Time
}

// Queue is a job queue a Worker can consume from.
type Queue interface {
	workflow.JobQueue

	// Dequeue blocks up to timeout for the next job. It returns a nil job
	// and nil error when nothing arrived in time.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	// Ack marks a dequeued job as done and forgets it.
	Ack(ctx context.Context, jobID string) error
	// Depth reports the number of jobs waiting to be dequeued.
	Depth(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
