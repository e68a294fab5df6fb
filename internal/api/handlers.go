// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/tomtom215/audittrail/internal/storage"
	"github.com/tomtom215/audittrail/internal/trail"
	"github.com/tomtom215/audittrail/internal/validation"
)

const maxEventBody = 1 << 20

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	State    string    `json:"state"`
	Queued   int       `json:"queued"`
	Pending  int       `json:"pending"`
	Accepted int64     `json:"accepted"`
	Flushed  int64     `json:"flushed"`
	Dropped  int64     `json:"dropped"`
	LastErr  string    `json:"last_error,omitempty"`
	LastSent time.Time `json:"last_flush"`
}

// Health reports the pipeline state. It is 503 while the trail is not
// accepting events.
func (router *Router) Health(w http.ResponseWriter, r *http.Request) {
	state := router.pipeline.State()
	stats := router.pipeline.Stats()

	status := http.StatusOK
	switch state {
	case trail.StateShuttingDown, trail.StateClosed:
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, HealthResponse{
		State:    state.String(),
		Queued:   stats.Queued,
		Pending:  stats.Pending,
		Accepted: stats.Accepted,
		Flushed:  stats.Flushed,
		Dropped:  stats.Dropped,
		LastErr:  stats.LastError,
		LastSent: stats.LastFlushTime,
	})
}

// RecordEvent accepts one event into the pipeline.
func (router *Router) RecordEvent(w http.ResponseWriter, r *http.Request) {
	if state := router.pipeline.State(); state != trail.StateRunning && state != trail.StateInitializing {
		respondError(w, http.StatusServiceUnavailable, "NOT_ACCEPTING", "audit trail is "+state.String(), nil)
		return
	}

	var req EventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not a valid event", nil)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondAPIError(w, http.StatusBadRequest, verr.ToAPIError())
		return
	}

	ev, err := req.Event(router.now())
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	router.pipeline.Record(ev)

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "event_type": ev.Kind.EventType()})
}

// ResolvePartition returns the partition for ?at=, or for now.
func (router *Router) ResolvePartition(w http.ResponseWriter, r *http.Request) {
	at := router.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "at must be an RFC3339 timestamp", nil)
			return
		}
		at = ts
	}

	name, err := router.pipeline.Resolve(at)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "RESOLVE_FAILED", "cannot resolve partition", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"partition": name, "at": at.UTC().Format(time.RFC3339)})
}

// PartitionCount returns how many documents a partition holds.
func (router *Router) PartitionCount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	reader := router.pipeline.Reader()
	if reader == nil {
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "audit store is not connected", nil)
		return
	}

	n, err := reader.Count(r.Context(), name)
	switch {
	case errors.Is(err, storage.ErrPartitionNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no such partition", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "count failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"partition": name, "count": n})
}
