// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package api

import (
	"time"

	"github.com/tomtom215/audittrail/internal/audit"
)

// EventRequest is the body of POST /api/v1/events.
type EventRequest struct {
	Kind      string `json:"kind" validate:"required,audit_kind"`
	Layer     string `json:"layer,omitempty" validate:"omitempty,oneof=transport rest ip_filter"`
	Timestamp string `json:"timestamp,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`

	Action  string          `json:"action,omitempty" validate:"max=512"`
	Message *MessageRequest `json:"message,omitempty"`
	Request *RestRequest    `json:"request,omitempty"`

	User  *UserRequest  `json:"user,omitempty"`
	Token *TokenRequest `json:"token,omitempty"`
	Realm string        `json:"realm,omitempty" validate:"max=256"`

	Peer    string       `json:"peer,omitempty" validate:"omitempty,ip"`
	Profile string       `json:"profile,omitempty" validate:"max=256"`
	Rule    *RuleRequest `json:"rule,omitempty"`
}

// MessageRequest describes a transport message. A nil Indices means the
// message is not index-scoped; an empty list means it is, with no indices.
type MessageRequest struct {
	Type    string    `json:"type" validate:"required,max=256"`
	Origin  string    `json:"origin" validate:"required,max=512"`
	Local   bool      `json:"local,omitempty"`
	Indices *[]string `json:"indices,omitempty"`
}

// RestRequest describes an HTTP request seen by the host.
type RestRequest struct {
	RemoteAddress string `json:"remote_address" validate:"required,max=512"`
	URI           string `json:"uri" validate:"required,max=8192"`
	Body          string `json:"body,omitempty"`
}

type UserRequest struct {
	Acting    string `json:"acting" validate:"required,max=256"`
	Effective string `json:"effective,omitempty" validate:"max=256"`
}

type TokenRequest struct {
	Principal string `json:"principal" validate:"max=256"`
}

type RuleRequest struct {
	Allow bool   `json:"allow"`
	Value string `json:"value" validate:"required,max=512"`
}

// Event converts the validated request. now stamps events without a
// timestamp.
func (req *EventRequest) Event(now time.Time) (*audit.Event, error) {
	kind, err := audit.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}

	ev := &audit.Event{
		Kind:      kind,
		Layer:     req.layer(),
		Timestamp: now,
		Action:    req.Action,
		Realm:     req.Realm,
		Peer:      req.Peer,
		Profile:   req.Profile,
	}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return nil, err
		}
		ev.Timestamp = ts
	}

	if m := req.Message; m != nil {
		msg := audit.Message{Type: m.Type, Origin: audit.RemoteAddress(m.Origin)}
		if m.Local {
			msg.Origin = audit.LocalAddress(m.Origin)
		}
		if m.Indices != nil {
			msg.Indices = audit.Indices(*m.Indices...)
		}
		ev.Message = &msg
	}
	if r := req.Request; r != nil {
		ev.Request = &audit.RestRequest{RemoteAddress: r.RemoteAddress, URI: r.URI, Body: r.Body}
	}
	if u := req.User; u != nil {
		ev.User = &audit.User{Acting: u.Acting, Effective: u.Effective}
		if kind == audit.AccessGranted && ev.User.IsSystem() {
			ev.Kind = audit.SystemAccessGranted
		}
	}
	if t := req.Token; t != nil {
		ev.Token = &audit.Token{Principal: t.Principal}
	}
	if r := req.Rule; r != nil {
		ev.Rule = audit.Rule{Allow: r.Allow, Value: r.Value}
	}
	return ev, nil
}

// layer defaults from what the body carries.
func (req *EventRequest) layer() audit.Layer {
	switch {
	case req.Layer != "":
		return audit.Layer(req.Layer)
	case req.Request != nil:
		return audit.LayerRest
	case req.Peer != "":
		return audit.LayerIPFilter
	default:
		return audit.LayerTransport
	}
}
