package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CirculationMetrics records engine and vendor adapter activity.
//
// A nil *CirculationMetrics is valid and records nothing, so callers never
// need to guard their instrumentation.
type CirculationMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	vendorCallsTotal  *prometheus.CounterVec
	vendorDuration    *prometheus.HistogramVec
	syncTotal         *prometheus.CounterVec
	analyticsEvents   *prometheus.CounterVec
}

// NewCirculationMetrics creates Prometheus-backed circulation metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCirculationMetrics() *CirculationMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &CirculationMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "circ_operations_total",
				Help: "Total circulation operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "circ_operation_duration_milliseconds",
				Help: "Duration of circulation operations in milliseconds",
				Buckets: []float64{
					10,    // 10ms - local-only operations
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms - single vendor round trip
					1000,  // 1s
					5000,  // 5s - slow vendors
					15000, // 15s - vendor timeout territory
				},
			},
			[]string{"operation"},
		),
		vendorCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "circ_vendor_calls_total",
				Help: "Total vendor adapter calls by protocol, call, and status",
			},
			[]string{"protocol", "call", "status"},
		),
		vendorDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "circ_vendor_call_duration_milliseconds",
				Help: "Duration of vendor adapter calls in milliseconds",
				Buckets: []float64{
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s
					15000, // 15s
					30000, // 30s
				},
			},
			[]string{"protocol", "call"},
		),
		syncTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "circ_bookshelf_syncs_total",
				Help: "Total bookshelf syncs by outcome (complete, partial, skipped)",
			},
			[]string{"outcome"},
		),
		analyticsEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "circ_analytics_events_total",
				Help: "Total analytics events collected by event name",
			},
			[]string{"event"},
		),
	}
}

// RecordOperation records a completed circulation operation.
func (m *CirculationMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}

// RecordVendorCall records one call into a vendor adapter.
func (m *CirculationMetrics) RecordVendorCall(protocol, call string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.vendorCallsTotal.WithLabelValues(protocol, call, status).Inc()
	m.vendorDuration.WithLabelValues(protocol, call).Observe(duration.Seconds() * 1000)
}

// RecordSync records a bookshelf sync outcome.
func (m *CirculationMetrics) RecordSync(outcome string) {
	if m == nil {
		return
	}
	m.syncTotal.WithLabelValues(outcome).Inc()
}

// RecordAnalyticsEvent counts a collected analytics event.
func (m *CirculationMetrics) RecordAnalyticsEvent(event string) {
	if m == nil {
		return
	}
	m.analyticsEvents.WithLabelValues(event).Inc()
}
