// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/tomtom215/audittrail/internal/logging"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService serves the ingest API under the api layer of the tree.
// A listen failure is returned so suture restarts it with backoff; the
// audit pipeline in the other layer keeps running meanwhile.
type HTTPServerService struct {
	server          HTTPServer
	addr            string
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps server. Shutdown waits at most shutdownTimeout
// (10s when zero) for in-flight event submissions.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	s := &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
	if hs, ok := server.(*http.Server); ok {
		s.addr = hs.Addr
	}
	return s
}

// Serve implements suture.Service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()
	logging.Info().Str("addr", h.addr).Msg("Audit API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			// Shut down by someone other than the tree; a restart would
			// only hit the same closed server.
			logging.Warn().Str("addr", h.addr).Msg("Audit API server closed")
			return suture.ErrDoNotRestart
		}
		logging.Error().Err(err).Str("addr", h.addr).Msg("Audit API listener failed")
		return fmt.Errorf("audit api: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Audit API shutdown did not complete")
			return fmt.Errorf("audit api shutdown: %w", err)
		}
		<-errCh
		logging.Info().Str("addr", h.addr).Msg("Audit API stopped")
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return "audit-api" }
