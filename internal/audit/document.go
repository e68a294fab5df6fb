// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package audit

import (
	"time"

	"github.com/goccy/go-json"
)

// Document field names.
const (
	FieldTimestamp        = "@timestamp"
	FieldNodeName         = "node_name"
	FieldNodeHostName     = "node_host_name"
	FieldNodeHostAddress  = "node_host_address"
	FieldLayer            = "layer"
	FieldEventType        = "event_type"
	FieldOriginAddress    = "origin_address"
	FieldOriginType       = "origin_type"
	FieldPrincipal        = "principal"
	FieldRunByPrincipal   = "run_by_principal"
	FieldRunAsPrincipal   = "run_as_principal"
	FieldAction           = "action"
	FieldIndices          = "indices"
	FieldRequest          = "request"
	FieldRequestBody      = "request_body"
	FieldURI              = "uri"
	FieldRealm            = "realm"
	FieldTransportProfile = "transport_profile"
	FieldRule             = "rule"
)

// TimestampLayout is the @timestamp format, always UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Document is a rendered event. It is not modified after Build returns.
type Document struct {
	// ID is unique per document and used by storage backends to deduplicate
	// a batch that is resubmitted after a partial failure.
	ID        string
	Kind      Kind
	Timestamp time.Time
	Fields    map[string]any
}

// MarshalJSON encodes only the field map. Keys that were never set are absent.
//
//nolint:gocritic // Document is passed by value throughout the pipeline
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Fields)
}

// String returns the field value for key, or "" if absent or not a string.
//
//nolint:gocritic // see MarshalJSON
func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Has reports whether key was rendered.
//
//nolint:gocritic // see MarshalJSON
func (d Document) Has(key string) bool {
	_, ok := d.Fields[key]
	return ok
}

// DecodeDocument restores a Document from its JSON field map. Used when
// reading documents back from storage or the spool.
//
// Kind is derived from event_type, which SystemAccessGranted shares with
// AccessGranted. Callers that stored the kind separately overwrite it.
func DecodeDocument(id string, raw []byte) (Document, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, err
	}
	doc := Document{ID: id, Fields: fields}
	if ts, ok := fields[FieldTimestamp].(string); ok {
		if t, err := time.Parse(TimestampLayout, ts); err == nil {
			doc.Timestamp = t
		}
	}
	if et, ok := fields[FieldEventType].(string); ok {
		if k, err := ParseKind(et); err == nil {
			doc.Kind = k
		}
	}
	return doc, nil
}
