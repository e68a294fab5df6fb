// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tomtom215/audittrail/internal/logging"
	"github.com/tomtom215/audittrail/internal/validation"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error *validation.APIError `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Str("error", sanitizeLogValue(err.Error())).Msg("API error")
	}
	respondJSON(w, status, errorBody{Error: &validation.APIError{Code: code, Message: message}})
}

func respondAPIError(w http.ResponseWriter, status int, apiErr *validation.APIError) {
	respondJSON(w, status, errorBody{Error: apiErr})
}

// sanitizeLogValue escapes control characters so request data cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
