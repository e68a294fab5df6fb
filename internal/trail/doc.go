// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

/*
Package trail is the audit pipeline a host application records security
events into.

A Trail owns everything one pipeline needs: the mute policy, the document
builder, the bulk flush engine, the storage client and the optional spool
and logfile outputs. Nothing is global, so several Trails can run in one
process.

# Lifecycle

	Disabled                          audit.enabled=false; every call is a no-op
	Initializing -> Running           New, then Start
	Running -> ShuttingDown -> Closed Close

Events recorded while Initializing are queued and flushed once Start has
connected the store. Events recorded after Close are ignored.

# Recording

Each typed operation (AccessGranted, ConnectionDenied, RunAsGranted, ...)
returns immediately. Muted kinds are discarded before any document is
built; everything else is rendered, written to the logfile output if
enabled, and handed to the flush engine. Failures are logged and counted,
never returned to the caller.

# Shutdown

Close drains the queue for up to audit.index.shutdown_timeout. Documents
still undelivered are written to the spool when audit.index.spool_path is
set and replayed on the next Start; otherwise they are counted as dropped
and Close reports bulk.ErrDrainIncomplete.
*/
package trail
