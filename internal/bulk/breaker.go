// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package bulk

import (
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tomtom215/audittrail/internal/logging"
	"github.com/tomtom215/audittrail/internal/metrics"
)

// newBreaker opens after cfg.FailureThreshold consecutive submit failures
// and lets a single probe through after cfg.Timeout.
func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[interface{}] {
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, int(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Storage circuit breaker state changed")
		},
	})
}
