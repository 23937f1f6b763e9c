package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	scanned *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking marketplace logs read from the node.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			scanned: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bookchain",
				Subsystem: "events",
				Name:      "logs_scanned_total",
				Help:      "Count of marketplace logs returned by log filters segmented by event.",
			}, []string{"event"}),
		}
		prometheus.MustRegister(eventRegistry.scanned)
	})
	return eventRegistry
}

// RecordScanned adds n scanned logs for event.
func (m *eventMetrics) RecordScanned(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	normalized := strings.TrimSpace(event)
	if normalized == "" {
		normalized = "unknown"
	}
	m.scanned.WithLabelValues(normalized).Add(float64(n))
}
