// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the closed set of recordable events.
type Kind uint8

const (
	AnonymousAccessDenied Kind = iota
	AuthenticationFailed
	AccessGranted
	AccessDenied
	SystemAccessGranted
	TamperedRequest
	ConnectionGranted
	ConnectionDenied
	RunAsGranted
	RunAsDenied

	numKinds
)

// ErrUnknownKind is returned when an event name is not recognized.
var ErrUnknownKind = errors.New("unknown audit event kind")

var kindNames = [numKinds]string{
	AnonymousAccessDenied: "anonymous_access_denied",
	AuthenticationFailed:  "authentication_failed",
	AccessGranted:         "access_granted",
	AccessDenied:          "access_denied",
	SystemAccessGranted:   "system_access_granted",
	TamperedRequest:       "tampered_request",
	ConnectionGranted:     "connection_granted",
	ConnectionDenied:      "connection_denied",
	RunAsGranted:          "run_as_granted",
	RunAsDenied:           "run_as_denied",
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// EventType is the value written to the event_type field. System access is
// configured separately but stored as access_granted.
func (k Kind) EventType() string {
	if k == SystemAccessGranted {
		return kindNames[AccessGranted]
	}
	return k.String()
}

// ParseKind resolves a configuration name.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// AllKinds returns every kind in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Layer is where in the host the event originated.
type Layer string

const (
	LayerTransport Layer = "transport"
	LayerRest      Layer = "rest"
	LayerIPFilter  Layer = "ip_filter"
)

// Address is a message origin. Local addresses come from the node itself.
type Address struct {
	Value string
	Local bool
}

// RemoteAddress returns an address for a peer, e.g. "10.0.0.4:9300".
func RemoteAddress(hostPort string) Address { return Address{Value: hostPort} }

// LocalAddress returns the address of a message produced on this node.
func LocalAddress(id string) Address { return Address{Value: id, Local: true} }

func (a Address) String() string {
	if a.Local {
		return "local[" + a.Value + "]"
	}
	return a.Value
}

// IndexScope records whether a message targets a set of indices. An unset
// scope and a scope with no names are different states.
type IndexScope struct {
	names []string
	set   bool
}

// Indices returns a scope naming the given indices.
func Indices(names ...string) IndexScope {
	return IndexScope{names: append([]string(nil), names...), set: true}
}

// Names returns the scoped indices and whether the message is index-scoped.
func (s IndexScope) Names() ([]string, bool) {
	return s.names, s.set
}

// Message is the host's transport message as seen by the audit trail.
type Message struct {
	// Type is the concrete message type name, e.g. "SearchRequest".
	Type    string
	Origin  Address
	Indices IndexScope
}

// RestRequest is an HTTP request received by the host.
type RestRequest struct {
	RemoteAddress string
	URI           string
	Body          string
}

// User is an authenticated identity, optionally running as another one.
type User struct {
	Acting    string
	Effective string
}

// RunAs reports whether the user is delegating to another identity.
func (u User) RunAs() bool { return u.Effective != "" && u.Effective != u.Acting }

// SystemUserName is the internal identity the host uses for its own
// requests. Access granted to it is recorded as SystemAccessGranted.
const SystemUserName = "_system"

// IsSystem reports whether u is the internal system identity.
func (u User) IsSystem() bool { return u.Acting == SystemUserName && !u.RunAs() }

// Token is the credential presented in a failed authentication attempt.
type Token struct {
	Principal string
}

// Rule is an IP filter rule that matched a connection.
type Rule struct {
	Allow bool
	Value string
}

// AcceptAll is the rule applied to the default transport profile when no
// filter is configured.
var AcceptAll = Rule{Allow: true, Value: "default:accept_all"}

func (r Rule) String() string {
	if r.Allow {
		return "allow " + r.Value
	}
	return "deny " + r.Value
}

// Event is an immutable audit event. Which fields are meaningful depends on
// Kind and Layer; Builder rejects events missing what their kind requires.
type Event struct {
	Kind      Kind
	Layer     Layer
	Timestamp time.Time

	// transport layer
	Action  string
	Message *Message

	// rest layer
	Request *RestRequest

	User  *User
	Token *Token
	Realm string

	// ip_filter layer
	Peer    string
	Profile string
	Rule    Rule
}
