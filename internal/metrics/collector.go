// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有 Record* 方法对 nil 接收者安全，
// 调用方无需判断是否启用了指标。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 运行指标
	runsStartedTotal  prometheus.Counter
	runsFinishedTotal *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec

	// 步骤指标
	stepTransitions *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec

	// 队列与 worker 指标
	jobsEnqueuedTotal  *prometheus.CounterVec
	jobsProcessedTotal *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	queueDepth         prometheus.Gauge

	// Agent 调用指标
	agentCallsTotal  *prometheus.CounterVec
	agentCallLatency *prometheus.HistogramVec
	agentTokensUsed  *prometheus.CounterVec

	// 清理指标
	sweepsTotal     prometheus.Counter
	sweptItemsTotal *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 运行指标
	c.runsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_started_total",
			Help:      "Total number of workflow runs started",
		},
	)

	c.runsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_finished_total",
			Help:      "Total number of workflow runs reaching a terminal status",
		},
		[]string{"status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Wall time from run creation to terminal status",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	// 步骤指标
	c.stepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_transitions_total",
			Help:      "Total number of step status transitions",
		},
		[]string{"to_status"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Step duration from dispatch to terminal status",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent", "status"},
	)

	// 队列指标
	c.jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		},
		[]string{"kind", "result"},
	)

	c.jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_processed_total",
			Help:      "Total number of jobs processed by workers",
		},
		[]string{"kind", "result"},
	)

	c.jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_job_duration_seconds",
			Help:      "Job processing duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	c.queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of jobs waiting in the queue",
		},
	)

	// Agent 调用指标
	c.agentCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Total number of agent executor calls",
		},
		[]string{"model", "status"},
	)

	c.agentCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Agent executor call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	c.agentTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tokens_used_total",
			Help:      "Total number of tokens sent to or returned by agents",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	// 清理指标
	c.sweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_sweeps_total",
			Help:      "Total number of cleanup sweeps executed",
		},
	)

	c.sweptItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_swept_items_total",
			Help:      "Runs and steps force-terminated by cleanup sweeps",
		},
		[]string{"kind"}, // kind: runs_failed, steps_failed
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔄 运行与步骤指标记录
// =============================================================================

// RecordRunStarted 记录新建运行
func (c *Collector) RecordRunStarted() {
	if c == nil {
		return
	}
	c.runsStartedTotal.Inc()
}

// RecordRunFinished 记录运行进入终态
func (c *Collector) RecordRunFinished(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.runsFinishedTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepTransition 记录步骤状态变更
func (c *Collector) RecordStepTransition(toStatus string) {
	if c == nil {
		return
	}
	c.stepTransitions.WithLabelValues(toStatus).Inc()
}

// RecordStepFinished 记录步骤从派发到终态的耗时
func (c *Collector) RecordStepFinished(agent, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepDuration.WithLabelValues(agent, status).Observe(duration.Seconds())
}

// =============================================================================
// 📬 队列指标记录
// =============================================================================

// RecordJobEnqueued 记录入队结果
func (c *Collector) RecordJobEnqueued(kind string, err error) {
	if c == nil {
		return
	}
	c.jobsEnqueuedTotal.WithLabelValues(kind, result(err)).Inc()
}

// RecordJobProcessed 记录 worker 处理结果
func (c *Collector) RecordJobProcessed(kind string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsProcessedTotal.WithLabelValues(kind, result(err)).Inc()
	c.jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetQueueDepth 记录队列积压
func (c *Collector) SetQueueDepth(depth int64) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}

// =============================================================================
// 🤖 Agent 指标记录
// =============================================================================

// RecordAgentCall 记录一次 Agent 执行器调用
func (c *Collector) RecordAgentCall(model string, err error, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.agentCallsTotal.WithLabelValues(model, result(err)).Inc()
	c.agentCallLatency.WithLabelValues(model).Observe(duration.Seconds())
	c.agentTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.agentTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// =============================================================================
// 🧹 清理指标记录
// =============================================================================

// RecordSweep 记录一次清理的结果
func (c *Collector) RecordSweep(runsFailed, stepsFailed int) {
	if c == nil {
		return
	}
	c.sweepsTotal.Inc()
	c.sweptItemsTotal.WithLabelValues("runs_failed").Add(float64(runsFailed))
	c.sweptItemsTotal.WithLabelValues("steps_failed").Add(float64(stepsFailed))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
