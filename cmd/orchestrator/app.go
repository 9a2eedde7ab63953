package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MerOne-1/cv-reformatter-sub001/agent"
	"github.com/MerOne-1/cv-reformatter-sub001/config"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/database"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/metrics"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/migration"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/telemetry"
	"github.com/MerOne-1/cv-reformatter-sub001/persistence"
	"github.com/MerOne-1/cv-reformatter-sub001/queue"
	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// App 持有一个进程角色所需的全部组件
type App struct {
	Config  *config.Config
	Role    string
	Pool    *database.PoolManager
	Store   *persistence.GormStore
	Queue   queue.Queue
	Metrics *metrics.Collector

	Scheduler  *workflow.Scheduler
	Aggregator *workflow.Aggregator
	Sweeper    *workflow.Sweeper
	Graph      *workflow.GraphService

	telemetry *telemetry.Providers
	logger    *zap.Logger
}

// NewApp 按配置装配数据库、队列与编排组件。collector 为 nil 时不记录 Prometheus 指标
func NewApp(ctx context.Context, cfg *config.Config, role string, collector *metrics.Collector, logger *zap.Logger) (_ *App, err error) {
	app := &App{
		Config:  cfg,
		Role:    role,
		Metrics: collector,
		logger:  logger,
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	providers, telErr := telemetry.Init(ctx, cfg.Telemetry, role, logger)
	if telErr != nil {
		// 遥测不可用不影响编排
		logger.Warn("failed to initialize telemetry", zap.Error(telErr))
	} else {
		app.telemetry = providers
	}

	if cfg.Database.AutoMigrate {
		if err = applyMigrations(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	app.Pool, err = database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), logger,
		database.WithMetrics(collector, cfg.Database.Driver))
	if err != nil {
		return nil, err
	}
	app.Store = persistence.NewGormStore(db, logger)

	app.Queue, err = openQueue(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	app.Scheduler = workflow.NewScheduler(app.Store, app.Queue, logger, workflow.WithMetrics(collector))
	app.Aggregator = workflow.NewAggregator(app.Store)
	app.Sweeper = workflow.NewSweeper(app.Store, app.Queue, cfg.Orchestrator.StaleThreshold, collector, logger)
	app.Graph = workflow.NewGraphService(app.Store, logger)

	logger.Info("orchestrator components ready",
		zap.String("role", role),
		zap.String("database", cfg.Database.Driver),
		zap.String("queue", cfg.Queue.Driver),
	)
	return app, nil
}

func applyMigrations(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	migrator, err := migration.NewMigratorFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(ctx); err != nil {
		return err
	}
	version, dirty, err := migrator.Version(ctx)
	if err != nil {
		return err
	}
	logger.Info("database migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func openQueue(ctx context.Context, cfg *config.Config, logger *zap.Logger) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case "memory":
		return queue.NewMemoryQueue(), nil
	case "redis":
		client, err := queue.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return queue.NewRedisQueue(client, cfg.Queue.KeyPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver: %s", cfg.Queue.Driver)
	}
}

// NewWorker 创建消费作业的 worker，SweepInterval > 0 时同时周期性清理超时运行
func (a *App) NewWorker() (*queue.Worker, error) {
	executor, err := agent.NewExecutor(a.Config.Agent, a.logger, agent.WithMetrics(a.Metrics))
	if err != nil {
		return nil, fmt.Errorf("create agent executor: %w", err)
	}
	runner := workflow.NewRunner(a.Store, a.Scheduler, executor, a.logger)

	cfg := queue.DefaultWorkerConfig()
	cfg.Concurrency = a.Config.Queue.Concurrency
	cfg.PollTimeout = a.Config.Queue.PollTimeout

	return queue.NewWorker(a.Queue, runner, cfg, a.logger,
		queue.WithWorkerMetrics(a.Metrics),
		queue.WithPeriodic("cleanup_sweeper", a.Sweeper, a.Config.Orchestrator.SweepInterval),
	), nil
}

// Close 释放队列、数据库与遥测资源
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if a.Pool != nil {
		if err := a.Pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close failed", zap.Error(err))
		return err
	}
	return nil
}
