package main

import (
	"bytes"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/MerOne-1/cv-reformatter-sub001/config"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantLevel zapcore.Level
	}{
		{name: "debug json", cfg: config.LogConfig{Level: "debug", Format: "json"}, wantLevel: zapcore.DebugLevel},
		{name: "warn console", cfg: config.LogConfig{Level: "warn", Format: "console"}, wantLevel: zapcore.WarnLevel},
		{name: "error", cfg: config.LogConfig{Level: "error"}, wantLevel: zapcore.ErrorLevel},
		{name: "unknown level falls back to info", cfg: config.LogConfig{Level: "verbose"}, wantLevel: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "out.log")}
			logger := initLogger(tt.cfg)
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(tt.wantLevel))
			if tt.wantLevel > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.wantLevel-1))
			}
		})
	}
}

func TestInitLogger_WritesToOutputPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.log")
	logger := initLogger(config.LogConfig{Level: "info", Format: "json", OutputPaths: []string{path}})
	logger.Info("run started")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"run started"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  name: /tmp/orchestrator.db
queue:
  driver: memory
orchestrator:
  stale_threshold: 45m
`), 0o600))

	cfg, err := loadConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 45*time.Minute, cfg.Orchestrator.StaleThreshold)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  driver: kafka\n"), 0o600))

	_, err := loadConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported queue driver")
}

func TestInlineWorker(t *testing.T) {
	assert.True(t, inlineWorker("memory", false))
	assert.True(t, inlineWorker("redis", true))
	assert.False(t, inlineWorker("redis", false))
}

func TestSplitNumericArg(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		wantPositional []string
		wantRest       []string
	}{
		{name: "negative steps", args: []string{"-1", "--config", "c.yaml"}, wantPositional: []string{"-1"}, wantRest: []string{"--config", "c.yaml"}},
		{name: "version", args: []string{"3"}, wantPositional: []string{"3"}, wantRest: []string{}},
		{name: "flags only", args: []string{"--config", "c.yaml"}, wantRest: []string{"--config", "c.yaml"}},
		{name: "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positional, rest := splitNumericArg(tt.args)
			assert.Equal(t, tt.wantPositional, positional)
			assert.Equal(t, len(tt.wantRest), len(rest))
			if len(tt.wantRest) > 0 {
				assert.Equal(t, tt.wantRest, rest)
			}
		})
	}
}

func TestRunHealthCheck(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, runHealthCheck([]string{"--addr", srv.URL}, &out))
	assert.Equal(t, "OK\n", out.String())

	status = http.StatusServiceUnavailable
	err := runHealthCheck([]string{"--addr", srv.URL}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Contains(t, out.String(), "orchestrator "+Version)
	assert.Contains(t, out.String(), "Git Commit: "+GitCommit)
}

func TestPrintUsage_ListsCommands(t *testing.T) {
	var out bytes.Buffer
	printUsage(&out)
	for _, cmd := range []string{"serve", "worker", "sweep", "migrate", "version", "health"} {
		assert.Contains(t, out.String(), "  "+cmd)
	}
}
