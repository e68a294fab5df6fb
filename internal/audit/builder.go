// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Build errors. A failed build drops that one event; callers log and move on.
var (
	ErrMissingMessage = errors.New("transport event has no message")
	ErrMissingRequest = errors.New("rest event has no request")
	ErrMissingUser    = errors.New("event requires a user")
	ErrMissingRunAs   = errors.New("run-as event requires an effective user")
	ErrUnsupported    = errors.New("layer not supported for event kind")
)

// Node identifies the process that records events. It is copied into every
// document.
type Node struct {
	Name        string
	HostName    string
	HostAddress string
}

// Builder renders events into documents.
type Builder struct {
	node  Node
	newID func() string
}

// NewBuilder returns a Builder stamping documents with node.
func NewBuilder(node Node) *Builder {
	return &Builder{node: node, newID: uuid.NewString}
}

type renderFunc func(f fields, ev *Event) error

var renderers = [numKinds]renderFunc{
	AnonymousAccessDenied: renderOrigin,
	AuthenticationFailed:  renderAuthFailed,
	AccessGranted:         renderAccess,
	AccessDenied:          renderAccess,
	SystemAccessGranted:   renderSystemAccess,
	TamperedRequest:       renderTampered,
	ConnectionGranted:     renderConnection,
	ConnectionDenied:      renderConnection,
	RunAsGranted:          renderRunAs,
	RunAsDenied:           renderRunAs,
}

// Build renders ev. The event is not retained.
func (b *Builder) Build(ev *Event) (Document, error) {
	if ev == nil {
		return Document{}, errors.New("nil event")
	}
	if ev.Kind >= numKinds {
		return Document{}, fmt.Errorf("%w: %d", ErrUnknownKind, ev.Kind)
	}

	ts := ev.Timestamp.UTC()
	if ev.Timestamp.IsZero() {
		ts = time.Now().UTC()
	}

	f := make(fields, 12)
	f[FieldTimestamp] = ts.Format(TimestampLayout)
	f[FieldNodeName] = b.node.Name
	f[FieldNodeHostName] = b.node.HostName
	f[FieldNodeHostAddress] = b.node.HostAddress
	f[FieldLayer] = string(ev.Layer)
	f[FieldEventType] = ev.Kind.EventType()

	if err := renderers[ev.Kind](f, ev); err != nil {
		return Document{}, fmt.Errorf("build %s: %w", ev.Kind, err)
	}

	return Document{ID: b.newID(), Kind: ev.Kind, Timestamp: ts, Fields: f}, nil
}

type fields map[string]any

func (f fields) setNonEmpty(key, value string) {
	if value != "" {
		f[key] = value
	}
}

// renderOrigin writes the layer-specific origin fields shared by every
// transport and rest event.
func renderOrigin(f fields, ev *Event) error {
	switch ev.Layer {
	case LayerTransport:
		if ev.Message == nil {
			return ErrMissingMessage
		}
		f[FieldOriginType] = string(LayerTransport)
		f[FieldOriginAddress] = ev.Message.Origin.String()
		f[FieldAction] = ev.Action
		f[FieldRequest] = ev.Message.Type
		if names, ok := ev.Message.Indices.Names(); ok {
			f[FieldIndices] = append([]string(nil), names...)
		}
		return nil
	case LayerRest:
		if ev.Request == nil {
			return ErrMissingRequest
		}
		f[FieldOriginType] = string(LayerRest)
		f[FieldOriginAddress] = ev.Request.RemoteAddress
		f[FieldURI] = ev.Request.URI
		f.setNonEmpty(FieldRequestBody, ev.Request.Body)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, ev.Layer)
	}
}

func renderAuthFailed(f fields, ev *Event) error {
	if err := renderOrigin(f, ev); err != nil {
		return err
	}
	if ev.Token != nil {
		f[FieldPrincipal] = ev.Token.Principal
	}
	f.setNonEmpty(FieldRealm, ev.Realm)
	return nil
}

// renderActingAs writes principal/run_by_principal for events where the
// request was executed as the effective user.
func renderActingAs(f fields, u *User) {
	if u.RunAs() {
		f[FieldPrincipal] = u.Effective
		f[FieldRunByPrincipal] = u.Acting
		return
	}
	f[FieldPrincipal] = u.Acting
}

func renderAccess(f fields, ev *Event) error {
	if ev.Layer != LayerTransport {
		return fmt.Errorf("%w: %q", ErrUnsupported, ev.Layer)
	}
	if ev.User == nil {
		return ErrMissingUser
	}
	if err := renderOrigin(f, ev); err != nil {
		return err
	}
	renderActingAs(f, ev.User)
	return nil
}

func renderSystemAccess(f fields, ev *Event) error {
	if ev.User == nil {
		return ErrMissingUser
	}
	if err := renderOrigin(f, ev); err != nil {
		return err
	}
	f[FieldPrincipal] = ev.User.Acting
	return nil
}

func renderTampered(f fields, ev *Event) error {
	if err := renderOrigin(f, ev); err != nil {
		return err
	}
	if ev.User != nil {
		renderActingAs(f, ev.User)
	}
	return nil
}

func renderRunAs(f fields, ev *Event) error {
	if ev.User == nil {
		return ErrMissingUser
	}
	if !ev.User.RunAs() {
		return ErrMissingRunAs
	}
	if err := renderOrigin(f, ev); err != nil {
		return err
	}
	f[FieldPrincipal] = ev.User.Acting
	f[FieldRunAsPrincipal] = ev.User.Effective
	return nil
}

func renderConnection(f fields, ev *Event) error {
	if ev.Layer != LayerIPFilter {
		return fmt.Errorf("%w: %q", ErrUnsupported, ev.Layer)
	}
	f[FieldOriginType] = string(LayerIPFilter)
	f[FieldOriginAddress] = ev.Peer
	f[FieldTransportProfile] = ev.Profile
	f[FieldRule] = ev.Rule.String()
	return nil
}
