// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

// Package audit defines the security events the pipeline records, the
// policy that decides which of them are kept, and the builder that renders
// each event into a schema-fixed document.
//
// Nothing in this package performs I/O. The host calls into package trail,
// which checks MutePolicy.IsMuted first, then Builder.Build, and hands the
// resulting Document to the bulk engine.
//
// # Event kinds
//
//	anonymous_access_denied   authentication_failed   access_granted
//	access_denied             system_access_granted   tampered_request
//	connection_granted        connection_denied       run_as_granted
//	run_as_denied
//
// # Run-as
//
// A User carries two identities: Acting (who authenticated) and Effective
// (who the request runs as, empty when there is no delegation). The two
// relations render differently:
//
//   - access_granted, access_denied, tampered_request: principal is the
//     effective identity and run_by_principal is the acting one.
//   - run_as_granted, run_as_denied: principal is the acting identity and
//     run_as_principal is the effective one.
package audit
