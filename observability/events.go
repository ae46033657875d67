package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted   *prometheus.CounterVec
	transfers *prometheus.CounterVec
	streams   prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed escrow events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of events appended to the event log segmented by type.",
			}, []string{"type"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of committed transfers segmented by asset.",
			}, []string{"asset"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Number of live event stream subscribers.",
			}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.transfers, eventRegistry.streams)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// RecordTransfer increments the transfer counter for the supplied asset ticker.
func (m *eventMetrics) RecordTransfer(asset string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.transfers.WithLabelValues(normalized).Inc()
}

// SubscriberAdded adjusts the live subscriber gauge by delta.
func (m *eventMetrics) SubscriberAdded(delta int) {
	if m == nil {
		return
	}
	m.streams.Add(float64(delta))
}
