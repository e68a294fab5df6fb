// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

// Package logging is the process-wide zerolog logger used by every other
// package in audittrail.
//
// Operational logs (startup, flush failures, dropped documents) go through
// the global helpers:
//
//	logging.Info().Str("partition", name).Int("docs", n).Msg("Flushed batch")
//	logging.Error().Err(err).Msg("Bulk submit failed")
//
// Two adapters let third-party libraries share the same sink:
//
//   - NewSlogLogger returns a *slog.Logger for sutureslog.
//   - NewWatermillLogger returns a watermill.LoggerAdapter for the NATS publisher.
//
// The audit logfile output does not use the global logger. It owns a
// separate zerolog instance writing to a rotating file (see package trail).
package logging
