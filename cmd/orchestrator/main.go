// =============================================================================
// 工作流编排引擎主入口
// =============================================================================
// 同一二进制按角色运行：API 服务、作业 worker、迁移与一次性清理
//
// 使用方法:
//
//	orchestrator serve                       # 启动 API 服务
//	orchestrator serve --config config.yaml  # 指定配置文件
//	orchestrator worker                      # 启动作业 worker
//	orchestrator sweep                       # 执行一次超时清理
//	orchestrator migrate up                  # 运行数据库迁移
//	orchestrator migrate status              # 查看迁移状态
//	orchestrator version                     # 显示版本信息
//	orchestrator health                      # 健康检查
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MerOne-1/cv-reformatter-sub001/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "worker":
		err = runWorker(ctx, os.Args[2:])
	case "sweep":
		err = runSweep(ctx, os.Args[2:], os.Stdout)
	case "migrate":
		err = runMigrate(ctx, os.Args[2:])
	case "version":
		printVersion(os.Stdout)
	case "health":
		err = runHealthCheck(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// ⚙️ 配置加载
// =============================================================================

// loadConfig 解析 --config 并加载、校验配置。fs 中额外的 flag 由调用方事先定义
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	loader := config.NewLoader().WithEnvPrefix(config.DefaultEnvPrefix)
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🧹 sweep 命令
// =============================================================================

func runSweep(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	threshold := fs.Duration("threshold", 0, "Override the stale threshold")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *threshold > 0 {
		cfg.Orchestrator.StaleThreshold = *threshold
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	app, err := NewApp(ctx, cfg, "sweep", nil, logger)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	result, err := app.Sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "runs failed: %d\nsteps failed: %d\n", result.RunsFailed, result.StepsFailed)
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/health", "Health endpoint path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + *path)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "orchestrator %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `orchestrator - Agent workflow orchestration engine

Usage:
  orchestrator <command> [options]

Commands:
  serve     Start the HTTP API (and an inline worker when configured)
  worker    Consume agent and coordinator jobs from the queue
  sweep     Fail stale runs once and exit
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve', 'worker', 'sweep' and 'migrate':
  --config <path>   Path to configuration file (YAML)

Options for 'sweep':
  --threshold <d>   Override orchestrator.stale_threshold, e.g. 45m

Migration subcommands:
  migrate up          Apply all pending migrations
  migrate down        Rollback the last migration
  migrate down-all    Rollback all migrations
  migrate steps <n>   Apply (n>0) or rollback (n<0) n migrations
  migrate goto <v>    Migrate to a specific version
  migrate force <v>   Force set migration version
  migrate version     Show current migration version
  migrate status      Show migration status
  migrate info        Show migration summary

Environment variables override config with the ORCHESTRATOR_ prefix,
e.g. ORCHESTRATOR_DATABASE_HOST, ORCHESTRATOR_QUEUE_DRIVER.

Examples:
  orchestrator serve --config /etc/orchestrator/config.yaml
  orchestrator worker
  orchestrator sweep --threshold 1h
  orchestrator migrate up
  orchestrator health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
