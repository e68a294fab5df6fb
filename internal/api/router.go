// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/bulk"
	"github.com/tomtom215/audittrail/internal/config"
	"github.com/tomtom215/audittrail/internal/storage"
	"github.com/tomtom215/audittrail/internal/trail"
)

// Pipeline is what the handlers need from the audit trail.
//
// Satisfied by *trail.Trail.
type Pipeline interface {
	State() trail.State
	Stats() bulk.Stats
	Record(ev *audit.Event)
	Resolve(ts time.Time) (string, error)
	Reader() storage.Reader
}

// Router serves the HTTP API.
type Router struct {
	pipeline Pipeline
	cfg      config.HTTPConfig
	now      func() time.Time
}

// NewRouter builds a Router for p.
func NewRouter(p Pipeline, cfg config.HTTPConfig) *Router {
	return &Router{pipeline: p, cfg: cfg, now: time.Now}
}

// Handler returns the routed handler with the middleware stack applied.
func (router *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware(router.cfg.CORSOrigins))
	r.Use(requestMetrics)

	r.Get("/health", router.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit(router.cfg.RateLimitPerMin))
		if router.cfg.JWTSecret != "" {
			r.Use(bearerAuth([]byte(router.cfg.JWTSecret)))
		}

		r.Post("/events", router.RecordEvent)
		r.Get("/partitions/resolve", router.ResolvePartition)
		r.Get("/partitions/{name}/count", router.PartitionCount)
	})

	return r
}

// Server wraps Handler in an *http.Server listening on the configured
// address.
func (router *Router) Server() *http.Server {
	timeout := router.cfg.ReadHeaderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Server{
		Addr:              router.cfg.ListenAddress,
		Handler:           router.Handler(),
		ReadHeaderTimeout: timeout,
	}
}
