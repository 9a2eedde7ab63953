package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MerOne-1/cv-reformatter-sub001/internal/metrics"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/pool"
	"github.com/MerOne-1/cv-reformatter-sub001/types"
	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// Handler processes one dequeued job payload.
type Handler interface {
	Handle(ctx context.Context, payload workflow.JobPayload) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload workflow.JobPayload) error

func (f HandlerFunc) Handle(ctx context.Context, payload workflow.JobPayload) error {
	return f(ctx, payload)
}

// PeriodicTask runs until ctx is done, e.g. the cleanup sweeper.
type PeriodicTask interface {
	Run(ctx context.Context, interval time.Duration) error
}

// WorkerConfig tunes the consumer loop.
type WorkerConfig struct {
	Concurrency   int
	PollTimeout   time.Duration
	DepthInterval time.Duration
}

// DefaultWorkerConfig returns the defaults used by the worker command.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:   4,
		PollTimeout:   5 * time.Second,
		DepthInterval: 15 * time.Second,
	}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerMetrics records job outcomes and queue depth.
func WithWorkerMetrics(m *metrics.Collector) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithPeriodic supervises task alongside the consumer loop.
func WithPeriodic(name string, task PeriodicTask, interval time.Duration) WorkerOption {
	return func(w *Worker) {
		if task != nil && interval > 0 {
			w.periodic = append(w.periodic, periodicEntry{name: name, task: task, interval: interval})
		}
	}
}

type periodicEntry struct {
	name     string
	task     PeriodicTask
	interval time.Duration
}

// Worker consumes jobs from a Queue with bounded concurrency.
type Worker struct {
	queue    Queue
	handler  Handler
	config   WorkerConfig
	pool     *pool.GoroutinePool
	metrics  *metrics.Collector
	periodic []periodicEntry
	logger   *zap.Logger
}

// NewWorker creates a worker. Zero config fields take their defaults.
func NewWorker(q Queue, handler Handler, cfg WorkerConfig, logger *zap.Logger, opts ...WorkerOption) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = def.DepthInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "worker"))

	w := &Worker{
		queue:   q,
		handler: handler,
		config:  cfg,
		logger:  logger,
	}
	w.pool = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers: cfg.Concurrency,
		PanicHandler: func(r any) {
			logger.Error("job handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		},
	})
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes until ctx is cancelled, then waits for in-flight jobs.
// It returns nil on a clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		zap.Int("concurrency", w.config.Concurrency),
		zap.Duration("poll_timeout", w.config.PollTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.consume(gctx) })
	g.Go(func() error { return w.reportDepth(gctx) })
	for _, p := range w.periodic {
		p := p
		g.Go(func() error {
			w.logger.Info("periodic task started", zap.String("task", p.name), zap.Duration("interval", p.interval))
			return p.task.Run(gctx, p.interval)
		})
	}

	err := g.Wait()
	w.pool.Close()
	w.logger.Info("worker stopped", zap.Any("stats", w.pool.Stats()))

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Stats exposes the job pool counters.
func (w *Worker) Stats() pool.GoroutinePoolStats {
	return w.pool.Stats()
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := w.queue.Dequeue(ctx, w.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrQueueClosed) {
				return err
			}
			w.logger.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		if err := w.pool.Submit(ctx, ctx, func(taskCtx context.Context) error {
			return w.process(taskCtx, job)
		}); err != nil {
			// shutting down before a slot freed; the job stays unacked
			w.logger.Warn("job not started", zap.String("job_id", job.ID), zap.Error(err))
			return err
		}
	}
}

// ProcessOne dequeues and handles at most one job inline. It reports
// whether a job was handled.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx, w.config.PollTimeout)
	if err != nil || job == nil {
		return false, err
	}
	return true, w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *Job) error {
	kind := string(job.Payload.Kind)
	runID := job.Payload.RunID()
	start := time.Now()

	err := w.handler.Handle(ctx, job.Payload)
	w.metrics.RecordJobProcessed(kind, err, time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			w.logger.Info("job interrupted by shutdown",
				zap.String("job_id", job.ID),
				zap.String("run_id", runID),
			)
			return err
		}
		w.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.String("kind", kind),
			zap.String("run_id", runID),
			zap.Error(err),
		)
		w.requestReconcile(ctx, job, err)
	} else {
		w.logger.Debug("job done",
			zap.String("job_id", job.ID),
			zap.String("kind", kind),
			zap.String("run_id", runID),
			zap.Duration("duration", time.Since(start)),
		)
	}

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if ackErr := w.queue.Ack(ackCtx, job.ID); ackErr != nil {
		w.logger.Warn("ack failed", zap.String("job_id", job.ID), zap.Error(ackErr))
	}
	return err
}

// requestReconcile enqueues a coordinator job after a failed step job so
// the run's frontier is re-evaluated.
func (w *Worker) requestReconcile(ctx context.Context, job *Job, cause error) {
	if job.Payload.Kind != workflow.JobKindAgentExecution {
		return
	}
	switch types.GetErrorCode(cause) {
	case types.ErrValidation, types.ErrNotFound:
		return
	}

	payload := workflow.NewCoordinatorPayload(job.Payload.RunID(), "agent execution job failed")
	id, err := w.queue.Enqueue(ctx, payload)
	w.metrics.RecordJobEnqueued(string(payload.Kind), err)
	if err != nil {
		w.logger.Error("failed to enqueue coordinator job",
			zap.String("run_id", job.Payload.RunID()),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("coordinator job enqueued",
		zap.String("job_id", id),
		zap.String("run_id", job.Payload.RunID()),
	)
}

func (w *Worker) reportDepth(ctx context.Context) error {
	ticker := time.NewTicker(w.config.DepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			depth, err := w.queue.Depth(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("queue depth check failed", zap.Error(err))
				}
				continue
			}
			w.metrics.SetQueueDepth(depth)
		}
	}
}
