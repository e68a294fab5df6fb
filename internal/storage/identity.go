// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package storage

// AuditUser is the identity that local audit writes are performed as.
const AuditUser = "__audit"

// HeaderUser carries the writing identity on a local write.
const HeaderUser = "X-Audit-User"

// Headers are per-write request headers.
type Headers map[string]string

// Authenticator attaches an identity to an outbound write. Implementations
// must not overwrite an identity that is already present.
type Authenticator interface {
	AttachUserIfMissing(h Headers, user string)
}

// SystemAuthenticator sets HeaderUser when absent.
type SystemAuthenticator struct{}

// AttachUserIfMissing implements Authenticator.
func (SystemAuthenticator) AttachUserIfMissing(h Headers, user string) {
	if _, ok := h[HeaderUser]; !ok {
		h[HeaderUser] = user
	}
}
