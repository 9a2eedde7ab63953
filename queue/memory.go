package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// MemoryQueue is a process-local FIFO queue for single-binary deployments
// and tests. Jobs do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	order   []string
	pending map[string]*Job
	active  map[string]*Job
	notify  chan struct{}
	closed  bool
	now     func() time.Time
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[string]*Job),
		active:  make(map[string]*Job),
		notify:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, payload workflow.JobPayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	id := uuid.New().String()
	q.pending[id] = &Job{ID: id, Payload: payload, EnqueuedAt: q.now()}
	q.order = append(q.order, id)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return id, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		job, err := q.pop()
		if job != nil || err != nil {
			return job, err
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) pop() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	for len(q.order) > 0 {
		id := q.order[0]
		q.order = q.order[1:]
		job, ok := q.pending[id]
		if !ok {
			// cancelled
			continue
		}
		delete(q.pending, id)
		q.active[id] = job
		if len(q.order) > 0 {
			select {
			case q.notify <- struct{}{}:
			default:
			}
		}
		return job, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, jobID)
	return nil
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, jobID)
	return nil
}

func (q *MemoryQueue) Depth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
