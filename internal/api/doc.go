// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

/*
Package api is the HTTP surface of the audit daemon, built on Chi.

Routes:

	GET  /health                           pipeline state and queue counters
	GET  /metrics                          Prometheus exposition
	POST /api/v1/events                    record one audit event (202)
	GET  /api/v1/partitions/resolve?at=    partition name for a timestamp
	GET  /api/v1/partitions/{name}/count   stored document count

Everything under /api/v1 is rate limited per client IP with go-chi/httprate.
When http.jwt_secret is set, /api/v1 also requires an HS256 bearer token.

Event bodies name the kind with the same strings used in
audit.index.events.include:

	{
	  "kind": "access_granted",
	  "action": "indices:data/read/search",
	  "message": {"type": "SearchRequest", "origin": "10.0.0.5:9300", "indices": ["logs"]},
	  "user": {"acting": "alice"}
	}

Recording is fire-and-forget: a 202 means the event was handed to the
pipeline, not that it was stored. Muted kinds are accepted and dropped.
*/
package api
