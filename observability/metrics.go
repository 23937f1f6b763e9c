package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ChainMetrics captures node interaction counters for the chain client.
type ChainMetrics struct {
	calls    *prometheus.CounterVec
	submits  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	sessions prometheus.Gauge
}

// HistoryMetrics captures activity feed reconstruction statistics.
type HistoryMetrics struct {
	runs     *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	entries  prometheus.Histogram
	duration prometheus.Histogram
}

// GovernanceMetrics tracks pause reads that defaulted to "available".
type GovernanceMetrics struct {
	failOpen *prometheus.CounterVec
}

var (
	chainMetricsOnce sync.Once
	chainRegistry    *ChainMetrics

	historyMetricsOnce sync.Once
	historyRegistry    *HistoryMetrics

	governanceMetricsOnce sync.Once
	governanceRegistry    *GovernanceMetrics
)

// Chain returns the lazily-initialised chain client metrics registry.
func Chain() *ChainMetrics {
	chainMetricsOnce.Do(func() {
		chainRegistry = &ChainMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bookchain",
				Subsystem: "chain",
				Name:      "calls_total",
				Help:      "Read-only contract calls segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			submits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bookchain",
				Subsystem: "chain",
				Name:      "submits_total",
				Help:      "State-changing transactions segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bookchain",
				Subsystem: "chain",
				Name:      "errors_total",
				Help:      "Translated chain errors segmented by taxonomy kind.",
			}, []string{"kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bookchain",
				Subsystem: "chain",
				Name:      "request_duration_seconds",
				Help:      "Latency of calls and confirmed submits.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind", "method"}),
			sessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bookchain",
				Subsystem: "chain",
				Name:      "connected",
				Help:      "Set to 1 while a node session is established.",
			}),
		}
		prometheus.MustRegister(
			chainRegistry.calls,
			chainRegistry.submits,
			chainRegistry.errors,
			chainRegistry.latency,
			chainRegistry.sessions,
		)
	})
	return chainRegistry
}

// ObserveCall records a read-only call. kind is the taxonomy label of the
// returned error or "none".
func (m *ChainMetrics) ObserveCall(method, kind string, d time.Duration) {
	if m == nil {
		return
	}
	method = labelOrUnknown(method)
	m.calls.WithLabelValues(method, outcome(kind)).Inc()
	m.latency.WithLabelValues("call", method).Observe(d.Seconds())
	m.recordKind(kind)
}

// ObserveSubmit records a submitted transaction.
func (m *ChainMetrics) ObserveSubmit(method, kind string, d time.Duration) {
	if m == nil {
		return
	}
	method = labelOrUnknown(method)
	m.submits.WithLabelValues(method, outcome(kind)).Inc()
	m.latency.WithLabelValues("submit", method).Observe(d.Seconds())
	m.recordKind(kind)
}

// SetConnected toggles the session gauge.
func (m *ChainMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.sessions.Set(1)
		return
	}
	m.sessions.Set(0)
}

func (m *ChainMetrics) recordKind(kind string) {
	if kind == "" || kind == "none" {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// History returns the lazily-initialised history metrics registry.
func History() *HistoryMetrics {
	historyMetricsOnce.Do(func() {
		historyRegistry = NewHistoryMetrics(prometheus.DefaultRegisterer)
	})
	return historyRegistry
}

// NewHistoryMetrics registers a fresh set of history collectors on reg.
func NewHistoryMetrics(reg prometheus.Registerer) *HistoryMetrics {
	m := &HistoryMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookchain",
			Subsystem: "history",
			Name:      "reconstructions_total",
			Help:      "Activity feed reconstructions segmented by outcome.",
		}, []string{"outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookchain",
			Subsystem: "history",
			Name:      "skipped_entries_total",
			Help:      "Log entries dropped because auxiliary data could not be resolved.",
		}, []string{"event"}),
		entries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookchain",
			Subsystem: "history",
			Name:      "entries",
			Help:      "Entries returned per reconstruction before capping.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookchain",
			Subsystem: "history",
			Name:      "duration_seconds",
			Help:      "Time spent scanning the lookback window.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.runs, m.skipped, m.entries, m.duration)
	return m
}

// ObserveRun records one reconstruction.
func (m *HistoryMetrics) ObserveRun(entries int, d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("success").Inc()
	m.entries.Observe(float64(entries))
	m.duration.Observe(d.Seconds())
}

// RecordSkipped increments the skipped counter for event.
func (m *HistoryMetrics) RecordSkipped(event string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(labelOrUnknown(event)).Inc()
}

// SkippedCounter exposes the skipped-entry counter of event.
func (m *HistoryMetrics) SkippedCounter(event string) prometheus.Counter {
	return m.skipped.WithLabelValues(labelOrUnknown(event))
}

// RunsCounter exposes the reconstruction counter of outcome ("success" or "error").
func (m *HistoryMetrics) RunsCounter(outcome string) prometheus.Counter {
	return m.runs.WithLabelValues(outcome)
}

// Governance returns the lazily-initialised governance metrics registry.
func Governance() *GovernanceMetrics {
	governanceMetricsOnce.Do(func() {
		governanceRegistry = NewGovernanceMetrics(prometheus.DefaultRegisterer)
	})
	return governanceRegistry
}

// NewGovernanceMetrics registers a fresh fail-open counter on reg.
func NewGovernanceMetrics(reg prometheus.Registerer) *GovernanceMetrics {
	m := &GovernanceMetrics{
		failOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookchain",
			Subsystem: "governance",
			Name:      "pause_read_fail_open_total",
			Help:      "Pause flag reads that failed and defaulted to not paused.",
		}, []string{"category"}),
	}
	reg.MustRegister(m.failOpen)
	return m
}

// RecordFailOpen increments the fail-open counter for category.
func (m *GovernanceMetrics) RecordFailOpen(category string) {
	if m == nil {
		return
	}
	m.failOpen.WithLabelValues(labelOrUnknown(category)).Inc()
}

func outcome(kind string) string {
	if kind == "" || kind == "none" {
		return "success"
	}
	return "error"
}

func labelOrUnknown(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
