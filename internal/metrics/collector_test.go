package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
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
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.jobsSubmittedTotal)
	assert.NotNil(t, collector.jobsTerminalTotal)
	assert.NotNil(t, collector.jobDuration)
	assert.NotNil(t, collector.queueDepth)
	assert.NotNil(t, collector.providerCallsTotal)
	assert.NotNil(t, collector.providerCallDuration)
	assert.NotNil(t, collector.providerTokensUsed)
	assert.NotNil(t, collector.admissionsTotal)
	assert.NotNil(t, collector.globalInflight)
}

func TestCollector_RecordJobSubmittedAndTerminal(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordJobSubmitted("article")
	collector.RecordJobTerminal("article", "succeeded", 42*time.Second)

	submittedCount := testutil.CollectAndCount(collector.jobsSubmittedTotal)
	assert.Greater(t, submittedCount, 0)

	terminalCount := testutil.CollectAndCount(collector.jobsTerminalTotal)
	assert.Greater(t, terminalCount, 0)

	durationCount := testutil.CollectAndCount(collector.jobDuration)
	assert.Greater(t, durationCount, 0)
}

func TestCollector_SetQueueDepth(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.SetQueueDepth("book", 3)

	count := testutil.CollectAndCount(collector.queueDepth)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordProviderCall(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordProviderCall("anthropic", "claude-sonnet-4-5", "success", 500*time.Millisecond, 100, 50)

	count := testutil.CollectAndCount(collector.providerCallsTotal)
	assert.Greater(t, count, 0)

	tokensCount := testutil.CollectAndCount(collector.providerTokensUsed)
	assert.Greater(t, tokensCount, 0)

	durationCount := testutil.CollectAndCount(collector.providerCallDuration)
	assert.Greater(t, durationCount, 0)
}

func TestCollector_SetGlobalInflight(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.SetGlobalInflight(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(collector.globalInflight))
}

func TestCollector_RecordAdmission(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordAdmission("submit_article", true)
	collector.RecordAdmission("submit_article", false)

	count := testutil.CollectAndCount(collector.admissionsTotal)
	assert.Equal(t, 2, count)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordJobSubmitted("article")
			collector.RecordProviderCall("openai", "gpt-4o", "success", 500*time.Millisecond, 100, 50)
			collector.RecordAdmission("submit_article", true)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	jobCount := testutil.CollectAndCount(collector.jobsSubmittedTotal)
	assert.Greater(t, jobCount, 0)

	providerCount := testutil.CollectAndCount(collector.providerCallsTotal)
	assert.Greater(t, providerCount, 0)

	admissionCount := testutil.CollectAndCount(collector.admissionsTotal)
	assert.Greater(t, admissionCount, 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), logger)

	registry.MustRegister(collector.jobsSubmittedTotal)
	registry.MustRegister(collector.jobDuration)

	collector.RecordJobSubmitted("article")
	collector.RecordJobTerminal("article", "succeeded", time.Second)

	count := testutil.CollectAndCount(collector.jobsSubmittedTotal)
	assert.Greater(t, count, 0)
}
