package main

import (
	"context"
	"flag"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MerOne-1/cv-reformatter-sub001/internal/metrics"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/server"
)

// =============================================================================
// ⚙️ worker 命令
// =============================================================================

func runWorker(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	concurrency := fs.Int("concurrency", 0, "Override queue.concurrency")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *concurrency > 0 {
		cfg.Queue.Concurrency = *concurrency
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	if cfg.Queue.Driver == "memory" {
		logger.Warn("memory queue is process local; a standalone worker only sees jobs it enqueues itself")
	}

	app, err := NewApp(ctx, cfg, "worker", metrics.NewCollector(metricsNamespace, logger), logger)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	worker, err := app.NewWorker()
	if err != nil {
		return err
	}

	var metricsManager *server.Manager
	if cfg.Server.MetricsPort > 0 {
		metricsManager = startMetricsServer(app, logger)
		if err := metricsManager.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server.ShutdownTimeout))
			defer cancel()
			if err := metricsManager.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", zap.Error(err))
			}
		}()
	}

	logger.Info("starting orchestrator worker",
		zap.String("version", Version),
		zap.Int("concurrency", cfg.Queue.Concurrency),
		zap.Duration("sweep_interval", cfg.Orchestrator.SweepInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	if metricsManager != nil {
		errs := metricsManager.Errors()
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err, ok := <-errs:
				if !ok {
					return nil
				}
				return err
			}
		})
	}

	err = g.Wait()
	logger.Info("orchestrator worker stopped")
	return err
}
