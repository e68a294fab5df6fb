// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

/*
Package metrics exposes Prometheus collectors for the audit pipeline.

Collectors are registered on the default registry at init via promauto and
served by the /metrics route in package api. Callers use the Record helpers
rather than touching collectors directly.

# Collectors

  - audit_events_recorded_total{event_type}
  - audit_events_muted_total{event_type}
  - audit_documents_dropped_total{reason}
  - audit_flush_duration_seconds
  - audit_flush_batches_total{result}
  - audit_queue_depth
  - audit_pending_documents
  - audit_partitions_provisioned_total{backend}
  - audit_circuit_breaker_state{name}
  - audit_spool_documents_total{op}
  - audit_api_requests_total{method,route,status}
*/
package metrics
