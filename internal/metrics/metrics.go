// Package metrics exposes Prometheus instruments for answer pipeline runs and HTTP requests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatrelay"

// Pipeline run outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeFlagged  = "flagged"
	OutcomeFailed   = "failed"
)

// Metrics holds the application instruments. A nil *Metrics records nothing, so components can be
// constructed without metrics in tests.
type Metrics struct {
	PipelineRuns   *prometheus.CounterVec
	ResponseTime   prometheus.Histogram
	HTTPRequests   *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total answer pipeline runs by outcome",
		}, []string{"outcome"}),
		ResponseTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_response_seconds",
			Help:      "Time to moderate and answer a message in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route pattern and status code",
		}, []string{"route", "code"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_sessions_active",
			Help:      "Number of connected chat event streams",
		}),
	}
}

// ObserveRun records one pipeline run. The response time is only observed for completed runs.
func (m *Metrics) ObserveRun(outcome string, responseTime time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	if outcome != OutcomeFailed {
		m.ResponseTime.Observe(responseTime.Seconds())
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// SessionStarted records a new event stream connection and returns the function that records
// its end.
func (m *Metrics) SessionStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveSessions.Inc()
	return m.ActiveSessions.Dec
}
