// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package trail

import (
	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/logging"
	"github.com/tomtom215/audittrail/internal/metrics"
)

// AnonymousAccessDenied records a transport request rejected because it
// carried no credentials.
func (t *Trail) AnonymousAccessDenied(action string, msg audit.Message) {
	t.Record(&audit.Event{Kind: audit.AnonymousAccessDenied, Layer: audit.LayerTransport, Action: action, Message: &msg})
}

// AnonymousAccessDeniedRest records a REST request rejected because it
// carried no credentials.
func (t *Trail) AnonymousAccessDeniedRest(req audit.RestRequest) {
	t.Record(&audit.Event{Kind: audit.AnonymousAccessDenied, Layer: audit.LayerRest, Request: &req})
}

// AuthenticationFailed records a failed transport authentication. token is
// nil when no credentials could be extracted; the document then has no
// principal field.
func (t *Trail) AuthenticationFailed(action string, msg audit.Message, token *audit.Token) {
	t.Record(&audit.Event{
		Kind: audit.AuthenticationFailed, Layer: audit.LayerTransport,
		Action: action, Message: &msg, Token: token,
	})
}

// AuthenticationFailedRest is AuthenticationFailed for the REST layer.
func (t *Trail) AuthenticationFailedRest(req audit.RestRequest, token *audit.Token) {
	t.Record(&audit.Event{Kind: audit.AuthenticationFailed, Layer: audit.LayerRest, Request: &req, Token: token})
}

// AuthenticationFailedRealm records that a single realm rejected token.
func (t *Trail) AuthenticationFailedRealm(realm, action string, msg audit.Message, token audit.Token) {
	t.Record(&audit.Event{
		Kind: audit.AuthenticationFailed, Layer: audit.LayerTransport,
		Action: action, Message: &msg, Token: &token, Realm: realm,
	})
}

// AuthenticationFailedRealmRest is AuthenticationFailedRealm for the REST
// layer.
func (t *Trail) AuthenticationFailedRealmRest(realm string, req audit.RestRequest, token audit.Token) {
	t.Record(&audit.Event{
		Kind: audit.AuthenticationFailed, Layer: audit.LayerRest,
		Request: &req, Token: &token, Realm: realm,
	})
}

// AccessGranted records an authorized action. Access by the internal system
// user is recorded as SystemAccessGranted, which is muted unless included.
func (t *Trail) AccessGranted(user audit.User, action string, msg audit.Message) {
	kind := audit.AccessGranted
	if user.IsSystem() {
		kind = audit.SystemAccessGranted
	}
	t.Record(&audit.Event{Kind: kind, Layer: audit.LayerTransport, Action: action, Message: &msg, User: &user})
}

// AccessDenied records an action the user was not authorized to perform.
func (t *Trail) AccessDenied(user audit.User, action string, msg audit.Message) {
	t.Record(&audit.Event{Kind: audit.AccessDenied, Layer: audit.LayerTransport, Action: action, Message: &msg, User: &user})
}

// TamperedRequest records a request whose signed content was altered, with
// no authenticated user.
func (t *Trail) TamperedRequest(action string, msg audit.Message) {
	t.Record(&audit.Event{Kind: audit.TamperedRequest, Layer: audit.LayerTransport, Action: action, Message: &msg})
}

// TamperedRequestBy records a tampered request from an authenticated user.
func (t *Trail) TamperedRequestBy(user audit.User, action string, msg audit.Message) {
	t.Record(&audit.Event{Kind: audit.TamperedRequest, Layer: audit.LayerTransport, Action: action, Message: &msg, User: &user})
}

// ConnectionGranted records a connection accepted by the IP filter.
func (t *Trail) ConnectionGranted(peer, profile string, rule audit.Rule) {
	t.Record(&audit.Event{Kind: audit.ConnectionGranted, Layer: audit.LayerIPFilter, Peer: peer, Profile: profile, Rule: rule})
}

// ConnectionDenied records a connection rejected by the IP filter.
func (t *Trail) ConnectionDenied(peer, profile string, rule audit.Rule) {
	t.Record(&audit.Event{Kind: audit.ConnectionDenied, Layer: audit.LayerIPFilter, Peer: peer, Profile: profile, Rule: rule})
}

// RunAsGranted records that user.Acting was allowed to run as
// user.Effective.
func (t *Trail) RunAsGranted(user audit.User, action string, msg audit.Message) {
	t.Record(&audit.Event{Kind: audit.RunAsGranted, Layer: audit.LayerTransport, Action: action, Message: &msg, User: &user})
}

// RunAsDenied records that user.Acting was refused running as
// user.Effective.
func (t *Trail) RunAsDenied(user audit.User, action string, msg audit.Message) {
	t.Record(&audit.Event{Kind: audit.RunAsDenied, Layer: audit.LayerTransport, Action: action, Message: &msg, User: &user})
}

// Record is the common path behind every typed operation. It never blocks
// on storage and never reports failure to the caller: muted events return
// before any work, build errors drop only this event.
func (t *Trail) Record(ev *audit.Event) {
	if !t.Enabled() {
		return
	}

	muted := t.policy.IsMuted(ev.Kind)
	if muted {
		metrics.RecordMuted(ev.Kind.String())
		if t.logfile == nil {
			return
		}
	}
	if ev.Timestamp.IsZero() {
		stamped := *ev
		stamped.Timestamp = t.now()
		ev = &stamped
	}

	doc, err := t.builder.Build(ev)
	if err != nil {
		metrics.RecordDropped(metrics.DropBuildError, 1)
		logging.Warn().Err(err).Str("event", ev.Kind.String()).Msg("Dropping audit event that could not be rendered")
		return
	}

	if t.logfile != nil {
		t.logfile.write(&doc)
	}
	if muted || t.engine == nil {
		return
	}
	if t.engine.Submit(doc) {
		metrics.RecordEvent(doc.Kind.EventType())
	}
}
