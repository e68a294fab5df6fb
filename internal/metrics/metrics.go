// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	DropOverflow   = "overflow"
	DropBuildError = "build_error"
	DropShutdown   = "shutdown"
)

var (
	// Ingest
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_recorded_total",
			Help: "Audit events accepted into the pipeline",
		},
		[]string{"event_type"},
	)

	EventsMuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_muted_total",
			Help: "Audit events dropped by the mute policy",
		},
		[]string{"event_type"},
	)

	DocumentsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_documents_dropped_total",
			Help: "Documents lost before reaching storage",
		},
		[]string{"reason"},
	)

	// Flush engine
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_flush_duration_seconds",
			Help:    "Time spent submitting one flush to storage",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_flush_batches_total",
			Help: "Partition batches submitted, by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Documents waiting in the bulk queue",
		},
	)

	PendingDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_pending_documents",
			Help: "Documents held for retry after a failed submit",
		},
	)

	// Storage
	PartitionsProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_partitions_provisioned_total",
			Help: "Partitions created or verified on first write",
		},
		[]string{"backend"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audit_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SpoolDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_spool_documents_total",
			Help: "Documents written to or replayed from the shutdown spool",
		},
		[]string{"op"}, // "write", "replay"
	)

	// HTTP
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_api_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordEvent counts an accepted event.
func RecordEvent(eventType string) {
	EventsRecorded.WithLabelValues(eventType).Inc()
}

// RecordMuted counts an event dropped by policy.
func RecordMuted(eventType string) {
	EventsMuted.WithLabelValues(eventType).Inc()
}

// RecordDropped counts n documents lost for reason.
func RecordDropped(reason string, n int) {
	if n > 0 {
		DocumentsDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordFlush records one partition batch submission.
func RecordFlush(duration time.Duration, err error) {
	FlushDuration.Observe(duration.Seconds())
	if err != nil {
		FlushBatches.WithLabelValues("failure").Inc()
		return
	}
	FlushBatches.WithLabelValues("success").Inc()
}

// SetQueueState publishes queue and retry-buffer sizes.
func SetQueueState(queued, pending int) {
	QueueDepth.Set(float64(queued))
	PendingDocuments.Set(float64(pending))
}

// RecordPartitionProvisioned counts a first write to a partition.
func RecordPartitionProvisioned(backend string) {
	PartitionsProvisioned.WithLabelValues(backend).Inc()
}

// SetCircuitBreakerState records a breaker transition.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordSpool counts spool writes and replays.
func RecordSpool(op string, n int) {
	if n > 0 {
		SpoolDocuments.WithLabelValues(op).Add(float64(n))
	}
}

// RecordAPIRequest counts one HTTP request.
func RecordAPIRequest(method, route, status string) {
	APIRequests.WithLabelValues(method, route, status).Inc()
}
