package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/MerOne-1/cv-reformatter-sub001/config"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		printMigrateUsage(os.Stderr)
		return fmt.Errorf("missing migrate subcommand")
	}

	subcommand := args[0]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		printMigrateUsage(os.Stdout)
		return nil
	}

	positional, rest := splitNumericArg(args[1:])

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ContinueOnError)
	migrator, err := createMigrator(fs, rest)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	return cli.Run(ctx, subcommand, append(positional, fs.Args()...))
}

// splitNumericArg 取出 steps/goto/force 的数字参数，"-1" 这类负数不能交给 flag 解析
func splitNumericArg(args []string) (positional, rest []string) {
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err == nil {
			return args[:1], args[1:]
		}
	}
	return nil, args
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// db-type 与 db-url 同时提供时直接使用
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	return migration.NewMigratorFromConfig(cfg)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage(out io.Writer) {
	fmt.Fprintln(out, `Database Migration Commands

Usage:
  orchestrator migrate <subcommand> [n] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback all migrations
  steps <n>   Apply n migrations, or rollback when n is negative
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show migration summary
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  orchestrator migrate up --config /etc/orchestrator/config.yaml
  orchestrator migrate steps -1
  orchestrator migrate goto 1
  orchestrator migrate status --db-type sqlite --db-url "file:orchestrator.db?mode=rwc"`)
}
