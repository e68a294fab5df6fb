// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

// Package supervisor runs the audittrail process as a suture/v4 tree.
//
// The tree has two layers so a crash in the HTTP surface never restarts the
// audit pipeline:
//
//	audittrail
//	├── pipeline-layer   (audit trail: store connection, flush loop)
//	└── api-layer        (HTTP server)
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is how long each service gets to stop. It must cover
	// the audit trail's own drain timeout.
	// Default: 15s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns the defaults applied to zero fields.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  15 * time.Second,
	}
}

// Tree is the process supervisor.
type Tree struct {
	root     *suture.Supervisor
	pipeline *suture.Supervisor
	api      *suture.Supervisor
	config   TreeConfig
}

// NewTree builds the tree. Supervisor events are logged through logger.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	d := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = d.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = d.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = d.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = d.ShutdownTimeout
	}

	// MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}

	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = handler.MustHook()

	root := suture.New("audittrail", rootSpec)
	pipeline := suture.New("pipeline-layer", childSpec)
	api := suture.New("api-layer", childSpec)
	root.Add(pipeline)
	root.Add(api)

	return &Tree{root: root, pipeline: pipeline, api: api, config: config}
}

// AddPipelineService adds a service to the pipeline layer.
func (t *Tree) AddPipelineService(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

// AddAPIService adds a service to the API layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine. The channel receives the
// result when the tree stops.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that did not stop within
// ShutdownTimeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
