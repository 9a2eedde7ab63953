package metrics

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.runsFinishedTotal)
	assert.NotNil(t, collector.stepTransitions)
	assert.NotNil(t, collector.jobsProcessedTotal)
	assert.NotNil(t, collector.sweptItemsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/api/v1/runs/{id}", 200, 100*time.Millisecond, 2048)
	collector.RecordHTTPRequest("POST", "/api/v1/runs", 409, 10*time.Millisecond, 128)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.httpRequestsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/runs", "4xx")))
}

func TestCollector_RunAndStepMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordRunStarted()
	collector.RecordRunStarted()
	collector.RecordRunFinished("COMPLETED", 3*time.Second)
	collector.RecordStepTransition("RUNNING")
	collector.RecordStepTransition("RUNNING")
	collector.RecordStepTransition("COMPLETED")
	collector.RecordStepFinished("formatter", "COMPLETED", 2*time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.runsStartedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.runsFinishedTotal.WithLabelValues("COMPLETED")))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.stepTransitions.WithLabelValues("RUNNING")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.stepDuration))
}

func TestCollector_QueueAndAgentMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordJobEnqueued("agent_execution", nil)
	collector.RecordJobEnqueued("agent_execution", errors.New("redis down"))
	collector.RecordJobProcessed("coordinator", nil, time.Millisecond)
	collector.SetQueueDepth(7)
	collector.RecordAgentCall("gpt-4o-mini", nil, time.Second, 120, 80)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.jobsEnqueuedTotal.WithLabelValues("agent_execution", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.jobsProcessedTotal.WithLabelValues("coordinator", "success")))
	assert.Equal(t, float64(7), testutil.ToFloat64(collector.queueDepth))
	assert.Equal(t, float64(120), testutil.ToFloat64(collector.agentTokensUsed.WithLabelValues("gpt-4o-mini", "prompt")))
}

func TestCollector_RecordSweep(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordSweep(2, 3)
	collector.RecordSweep(0, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.sweepsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.sweptItemsTotal.WithLabelValues("runs_failed")))
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.sweptItemsTotal.WithLabelValues("steps_failed")))
}

func TestCollector_NilReceiver(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordHTTPRequest("GET", "/", 200, time.Millisecond, 1)
		collector.RecordRunStarted()
		collector.RecordRunFinished("FAILED", time.Second)
		collector.RecordStepTransition("SKIPPED")
		collector.RecordJobProcessed("agent_execution", nil, time.Second)
		collector.RecordAgentCall("m", nil, time.Second, 1, 1)
		collector.RecordSweep(1, 1)
		collector.RecordDBConnections("postgres", 1, 1)
	})
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{0, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, statusCode(tt.code))
	}
}
