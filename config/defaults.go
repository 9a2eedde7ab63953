// =============================================================================
// 📦 编排引擎默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Database:     DefaultDatabaseConfig(),
		Redis:        DefaultRedisConfig(),
		Queue:        DefaultQueueConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Agent:        DefaultAgentConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       100,
		RateLimitBurst:     200,
		CORSAllowedOrigins: []string{"*"},
		StreamPollInterval: time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "orchestrator",
		Password:        "",
		Name:            "cv_reformatter",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     false,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultQueueConfig 返回默认队列配置
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Driver:       "redis",
		KeyPrefix:    "orchestrator:queue:",
		Concurrency:  4,
		PollTimeout:  5 * time.Second,
		InlineWorker: false,
	}
}

// DefaultOrchestratorConfig 返回默认调度配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		StaleThreshold: 30 * time.Minute,
		SweepInterval:  5 * time.Minute,
	}
}

// DefaultAgentConfig 返回默认 Agent 执行器配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxTokens:   4096,
		Timeout:     2 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "cv-reformatter-orchestrator",
		SampleRate:   0.1,
	}
}
