// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

var testNode = Node{Name: "node-1", HostName: "local_host", HostAddress: "127.0.0.1"}

func newTestBuilder() *Builder {
	b := NewBuilder(testNode)
	b.newID = func() string { return "doc-1" }
	return b
}

func remoteMessage() *Message {
	return &Message{Type: "RemoteHostMockMessage", Origin: RemoteAddress("10.0.0.9:9300")}
}

func TestBuildEnvelope(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.FixedZone("x", 3600))
	doc, err := newTestBuilder().Build(&Event{
		Kind: AnonymousAccessDenied, Layer: LayerTransport, Timestamp: ts,
		Action: "_action", Message: remoteMessage(),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := map[string]string{
		FieldTimestamp:       "2026-03-14T08:26:53.589Z",
		FieldNodeName:        "node-1",
		FieldNodeHostName:    "local_host",
		FieldNodeHostAddress: "127.0.0.1",
		FieldLayer:           "transport",
		FieldEventType:       "anonymous_access_denied",
		FieldOriginType:      "transport",
		FieldOriginAddress:   "10.0.0.9:9300",
		FieldAction:          "_action",
		FieldRequest:         "RemoteHostMockMessage",
	}
	for k, v := range want {
		if got := doc.String(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if doc.Has(FieldIndices) {
		t.Error("indices rendered for message without index scope")
	}
	if doc.ID != "doc-1" || !doc.Timestamp.Equal(ts) {
		t.Errorf("ID/Timestamp = %q/%v", doc.ID, doc.Timestamp)
	}
}

func TestBuildLocalOriginAndIndices(t *testing.T) {
	t.Parallel()

	doc, err := newTestBuilder().Build(&Event{
		Kind: AccessDenied, Layer: LayerTransport, Action: "indices:data/read/search",
		User: &User{Acting: "_username"},
		Message: &Message{
			Type:    "MockIndicesTransportMessage",
			Origin:  LocalAddress("local_host"),
			Indices: Indices("foo", "bar"),
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := doc.String(FieldOriginAddress); got != "local[local_host]" {
		t.Errorf("origin_address = %q", got)
	}
	idx, ok := doc.Fields[FieldIndices].([]string)
	if !ok || len(idx) != 2 || idx[0] != "foo" || idx[1] != "bar" {
		t.Errorf("indices = %#v", doc.Fields[FieldIndices])
	}
}

func TestBuildEmptyIndexScopeIsRendered(t *testing.T) {
	t.Parallel()

	msg := remoteMessage()
	msg.Indices = Indices()
	doc, err := newTestBuilder().Build(&Event{Kind: AnonymousAccessDenied, Layer: LayerTransport, Message: msg})
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Has(FieldIndices) {
		t.Error("index-scoped message with no names should still render indices")
	}
}

func TestBuildPrincipals(t *testing.T) {
	t.Parallel()

	runAs := &User{Acting: "_username", Effective: "running as"}
	plain := &User{Acting: "_username"}

	tests := []struct {
		name      string
		kind      Kind
		user      *User
		principal string
		runBy     string
		runAsName string
	}{
		{"granted", AccessGranted, plain, "_username", "", ""},
		{"granted run as", AccessGranted, runAs, "running as", "_username", ""},
		{"denied run as", AccessDenied, runAs, "running as", "_username", ""},
		{"tampered run as", TamperedRequest, runAs, "running as", "_username", ""},
		{"run as granted", RunAsGranted, runAs, "_username", "", "running as"},
		{"run as denied", RunAsDenied, runAs, "_username", "", "running as"},
		{"system access", SystemAccessGranted, &User{Acting: "__system"}, "__system", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := newTestBuilder().Build(&Event{
				Kind: tt.kind, Layer: LayerTransport, Action: "_action",
				User: tt.user, Message: remoteMessage(),
			})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if got := doc.String(FieldPrincipal); got != tt.principal {
				t.Errorf("principal = %q, want %q", got, tt.principal)
			}
			if doc.Has(FieldRunByPrincipal) && doc.Has(FieldRunAsPrincipal) {
				t.Fatal("both run_by_principal and run_as_principal rendered")
			}
			if got := doc.String(FieldRunByPrincipal); got != tt.runBy {
				t.Errorf("run_by_principal = %q, want %q", got, tt.runBy)
			}
			if got := doc.String(FieldRunAsPrincipal); got != tt.runAsName {
				t.Errorf("run_as_principal = %q, want %q", got, tt.runAsName)
			}
		})
	}
}

func TestBuildSystemAccessEventType(t *testing.T) {
	t.Parallel()

	doc, err := newTestBuilder().Build(&Event{
		Kind: SystemAccessGranted, Layer: LayerTransport, Action: "internal:x",
		User: &User{Acting: "__system"}, Message: remoteMessage(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if doc.String(FieldEventType) != "access_granted" || doc.Kind != SystemAccessGranted {
		t.Errorf("event_type = %q kind = %s", doc.String(FieldEventType), doc.Kind)
	}
}

func TestBuildAuthenticationFailed(t *testing.T) {
	t.Parallel()

	b := newTestBuilder()

	noToken, err := b.Build(&Event{Kind: AuthenticationFailed, Layer: LayerTransport, Action: "_action", Message: remoteMessage()})
	if err != nil {
		t.Fatal(err)
	}
	if noToken.Has(FieldPrincipal) {
		t.Error("principal rendered without a token")
	}

	withRealm, err := b.Build(&Event{
		Kind: AuthenticationFailed, Layer: LayerRest, Token: &Token{Principal: "_principal"}, Realm: "_realm",
		Request: &RestRequest{RemoteAddress: "127.0.0.1", URI: "_uri", Body: "_body"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range map[string]string{
		FieldPrincipal: "_principal", FieldRealm: "_realm", FieldURI: "_uri",
		FieldRequestBody: "_body", FieldOriginType: "rest", FieldLayer: "rest",
	} {
		if got := withRealm.String(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestBuildRestOmitsEmptyBody(t *testing.T) {
	t.Parallel()

	doc, err := newTestBuilder().Build(&Event{
		Kind: AnonymousAccessDenied, Layer: LayerRest,
		Request: &RestRequest{RemoteAddress: "127.0.0.1", URI: "/_search"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Has(FieldRequestBody) {
		t.Error("empty body rendered")
	}
}

func TestBuildConnection(t *testing.T) {
	t.Parallel()

	b := newTestBuilder()
	granted, err := b.Build(&Event{Kind: ConnectionGranted, Layer: LayerIPFilter, Peer: "127.0.0.1", Profile: "default", Rule: AcceptAll})
	if err != nil {
		t.Fatal(err)
	}
	if granted.String(FieldRule) != "allow default:accept_all" || granted.String(FieldTransportProfile) != "default" {
		t.Errorf("granted fields = %v", granted.Fields)
	}

	denied, err := b.Build(&Event{Kind: ConnectionDenied, Layer: LayerIPFilter, Peer: "127.0.0.1", Profile: "default", Rule: Rule{Value: "_all"}})
	if err != nil {
		t.Fatal(err)
	}
	if denied.String(FieldRule) != "deny _all" || denied.String(FieldLayer) != "ip_filter" {
		t.Errorf("denied fields = %v", denied.Fields)
	}
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   *Event
		want error
	}{
		{"transport without message", &Event{Kind: AnonymousAccessDenied, Layer: LayerTransport}, ErrMissingMessage},
		{"rest without request", &Event{Kind: AuthenticationFailed, Layer: LayerRest}, ErrMissingRequest},
		{"access without user", &Event{Kind: AccessGranted, Layer: LayerTransport, Message: remoteMessage()}, ErrMissingUser},
		{"run as without effective user", &Event{Kind: RunAsGranted, Layer: LayerTransport, User: &User{Acting: "a"}, Message: remoteMessage()}, ErrMissingRunAs},
		{"connection on transport layer", &Event{Kind: ConnectionDenied, Layer: LayerTransport}, ErrUnsupported},
		{"unknown kind", &Event{Kind: numKinds}, ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newTestBuilder().Build(tt.ev); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	t.Parallel()

	doc, err := newTestBuilder().Build(&Event{
		Kind: AuthenticationFailed, Layer: LayerTransport, Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Action: "_action", Message: remoteMessage(),
	})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeDocument(doc.ID, raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.Kind != AuthenticationFailed || !back.Timestamp.Equal(doc.Timestamp) {
		t.Errorf("decoded kind=%s ts=%v", back.Kind, back.Timestamp)
	}
	if back.Has(FieldPrincipal) {
		t.Error("absent principal reappeared after decode")
	}
}
