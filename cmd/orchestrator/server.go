package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MerOne-1/cv-reformatter-sub001/api/handlers"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/metrics"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/server"
)

// metricsNamespace Prometheus 指标命名空间
const metricsNamespace = "orchestrator"

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 持有 API 与 metrics 两个 HTTP 服务
type Server struct {
	app    *App
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(app *App, logger *zap.Logger) *Server {
	return &Server{app: app, logger: logger}
}

func buildInfo() handlers.BuildInfo {
	return handlers.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}
}

// newHealthHandler 注册数据库与队列就绪检查
func newHealthHandler(app *App, logger *zap.Logger) *handlers.HealthHandler {
	h := handlers.NewHealthHandler(buildInfo(), logger)
	h.RegisterCheck(handlers.NewDatabaseHealthCheck(app.Pool.Ping))
	h.RegisterCheck(handlers.NewQueueHealthCheck(app.Queue.Ping))
	return h
}

// Handler 构建 API 路由与中间件链。ctx 结束时停止限流器的清理 goroutine
func (s *Server) Handler(ctx context.Context) http.Handler {
	cfg := s.app.Config.Server
	mux := http.NewServeMux()

	newHealthHandler(s.app, s.logger).Register(mux)
	handlers.NewRunHandler(s.app.Scheduler, s.app.Aggregator, s.app.Store, s.app.Sweeper, s.logger).Register(mux)
	handlers.NewGraphHandler(s.app.Graph, s.logger).Register(mux)
	handlers.NewStreamHandler(s.app.Aggregator, cfg.StreamPollInterval, cfg.CORSAllowedOrigins, s.logger).Register(mux)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.app.Metrics),
		CORS(cfg.CORSAllowedOrigins),
		RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, s.logger),
	)
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动 API 服务与 metrics 服务（非阻塞）
func (s *Server) Start() error {
	cfg := s.app.Config.Server

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	s.httpManager = server.NewManager("api", s.Handler(rateLimiterCtx), server.ConfigFor(cfg, cfg.HTTPPort), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if cfg.MetricsPort > 0 {
		s.metricsManager = startMetricsServer(s.app, s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("metrics_port", cfg.MetricsPort),
	)
	return nil
}

// startMetricsServer 创建 metrics 服务：/metrics 与健康检查
func startMetricsServer(app *App, logger *zap.Logger) *server.Manager {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	newHealthHandler(app, logger).Register(mux)

	cfg := app.Config.Server
	return server.NewManager("metrics", mux, server.ConfigFor(cfg, cfg.MetricsPort), logger)
}

// Errors 返回任一服务异常退出的错误
func (s *Server) Errors() <-chan error {
	out := make(chan error, 2)
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		go func(ch <-chan error) {
			if err, ok := <-ch; ok && err != nil {
				out <- err
			}
		}(m.Errors())
	}
	return out
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("starting graceful shutdown")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting orchestrator API",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	app, err := NewApp(ctx, cfg, "api", metrics.NewCollector(metricsNamespace, logger), logger)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	srv := NewServer(app, logger)
	if err := srv.Start(); err != nil {
		srv.Shutdown(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if inlineWorker(cfg.Queue.Driver, cfg.Queue.InlineWorker) {
		if cfg.Queue.Driver == "memory" && !cfg.Queue.InlineWorker {
			logger.Info("memory queue is process local, running inline worker")
		}
		worker, err := app.NewWorker()
		if err != nil {
			srv.Shutdown(context.Background())
			return err
		}
		g.Go(func() error { return worker.Run(gctx) })
	}
	serverErrs := srv.Errors()
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-serverErrs:
			return err
		}
	})

	<-gctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server.ShutdownTimeout))
	defer cancel()
	srv.Shutdown(shutdownCtx)

	err = g.Wait()
	logger.Info("orchestrator API stopped")
	return err
}

// inlineWorker 内存队列只能由同进程消费，因此总是运行内联 worker
func inlineWorker(driver string, configured bool) bool {
	return configured || driver == "memory"
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
