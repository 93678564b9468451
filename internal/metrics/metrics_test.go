package metrics_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRun(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveRun(metrics.OutcomeAnswered, 2*time.Second)
	m.ObserveRun(metrics.OutcomeAnswered, time.Second)
	m.ObserveRun(metrics.OutcomeFlagged, 100*time.Millisecond)
	m.ObserveRun(metrics.OutcomeFailed, 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.PipelineRuns.WithLabelValues(metrics.OutcomeAnswered)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PipelineRuns.WithLabelValues(metrics.OutcomeFlagged)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PipelineRuns.WithLabelValues(metrics.OutcomeFailed)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.ResponseTime))
}

func TestObserveRequest(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveRequest("/api/chats", http.StatusOK)
	m.ObserveRequest("/api/chats", http.StatusOK)
	m.ObserveRequest("/api/chats/{chatID}", http.StatusNotFound)

	assert.InDelta(t, 2, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/chats", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/chats/{chatID}", "404")), 0)
}

func TestSessions(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	end := m.SessionStarted()
	m.SessionStarted()
	assert.InDelta(t, 2, testutil.ToFloat64(m.ActiveSessions), 0)

	end()
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveSessions), 0)
}

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ObserveRun(metrics.OutcomeAnswered, time.Second)
		m.ObserveRequest("/", http.StatusOK)
		m.SessionStarted()()
	})
}
