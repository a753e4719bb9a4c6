package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTurn(1)
	m.RecordFallback("llm")
	m.RecordLLMRequest(false, 0.5)
	m.RecordArchiveJob("success", 1, true)
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
}

func TestRecordCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLLMRequest(true, 0.2)
	m.RecordLLMRequest(false, 0.3)
	m.RecordLLMRequest(false, 0.4)

	if got := testutil.ToFloat64(m.LLMRequests.WithLabelValues("failure")); got != 2 {
		t.Errorf("Expected 2 LLM failures, got %v", got)
	}

	m.RecordArchiveSubmitted(true)
	m.RecordArchiveSubmitted(false)
	if got := testutil.ToFloat64(m.ArchiveJobsRejected); got != 1 {
		t.Errorf("Expected 1 rejected job, got %v", got)
	}

	m.RecordArchiveJob("partial", 2, true)
	if got := testutil.ToFloat64(m.FactsPersisted); got != 1 {
		t.Errorf("Expected 1 persisted record, got %v", got)
	}

	m.RecordVADDecision(false)
	m.RecordVADDecision(true)
	if got := testutil.ToFloat64(m.VADSpeechRejected); got != 1 {
		t.Errorf("Expected 1 rejected recording, got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Each registry accepts its own set of collectors
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
