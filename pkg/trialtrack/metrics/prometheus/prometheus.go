// Package prommetrics provides a Prometheus implementation of the
// trialtrack.Metrics interface.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

// Metrics implements trialtrack.Metrics using Prometheus.
type Metrics struct {
	eventsTotal        *prometheus.CounterVec
	eventDuration      *prometheus.HistogramVec
	transitionsTotal   *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
	importsTotal       *prometheus.CounterVec
	importedRecords    *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total number of processed webhook events.",
		}, []string{"app", "event_type", "outcome"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_event_duration_seconds",
			Help:      "Latency of webhook event processing.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"app", "event_type"}),

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Total number of lifecycle status transitions applied to cohorts.",
		}, []string{"app", "from", "to"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of failed storage operations.",
		}, []string{"operation"}),

		importsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cohort_imports_total",
			Help:      "Total number of bulk cohort imports.",
		}, []string{"app", "status"}),

		importedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cohort_imported_records_total",
			Help:      "Total number of cohort records written by bulk imports.",
		}, []string{"app"}),
	}
}

// RecordEvent implements trialtrack.Metrics.
func (m *Metrics) RecordEvent(app, eventType, outcome string) {
	m.eventsTotal.WithLabelValues(app, eventType, outcome).Inc()
}

// RecordEventDuration implements trialtrack.Metrics.
func (m *Metrics) RecordEventDuration(app, eventType string, duration time.Duration) {
	m.eventDuration.WithLabelValues(app, eventType).Observe(duration.Seconds())
}

// RecordTransition implements trialtrack.Metrics.
func (m *Metrics) RecordTransition(app string, from, to trialtrack.Status) {
	m.transitionsTotal.WithLabelValues(app, string(from), string(to)).Inc()
}

// RecordStorageOperation implements trialtrack.Metrics.
func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

// RecordImport implements trialtrack.Metrics.
func (m *Metrics) RecordImport(app, status string, records int) {
	m.importsTotal.WithLabelValues(app, status).Inc()
	if records > 0 {
		m.importedRecords.WithLabelValues(app).Add(float64(records))
	}
}
