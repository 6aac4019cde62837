package trialtrack

import "time"

// Metrics defines the interface for tracking event processing and storage operations.
// All methods are optional - callers should gracefully handle nil metrics with NoopMetrics.
type Metrics interface {
	// RecordEvent records a processed webhook event.
	// outcome: "ok", "skipped", "error" or a rejection reason
	// such as "auth_failed" or "invalid_payload"
	RecordEvent(app, eventType, outcome string)

	// RecordEventDuration records how long an event took to process end to end.
	RecordEventDuration(app, eventType string, duration time.Duration)

	// RecordTransition records a status movement applied to a cohort.
	RecordTransition(app string, from, to Status)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordImport records a bulk cohort import.
	// status: "success" or "error"
	RecordImport(app, status string, records int)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordEvent(_, _, _ string)                                {}
func (n *NoopMetrics) RecordEventDuration(_, _ string, _ time.Duration)          {}
func (n *NoopMetrics) RecordTransition(_ string, _, _ Status)                    {}
func (n *NoopMetrics) RecordStorageOperation(_ string, _ time.Duration, _ error) {}
func (n *NoopMetrics) RecordImport(_, _ string, _ int)                           {}
