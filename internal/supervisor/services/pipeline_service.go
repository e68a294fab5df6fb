// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

// Package services adapts audittrail components to suture.Service.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/tomtom215/audittrail/internal/logging"
)

// Pipeline is the Start/Close lifecycle of an audit trail.
//
// Satisfied by *trail.Trail.
type Pipeline interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
}

// PipelineService runs a Pipeline under suture.
//
// A failed Start is returned so suture restarts the service with backoff;
// the trail stays in its initializing state and keeps queueing events in
// the meantime. Once started, the service waits for shutdown and then
// closes the pipeline, which drains the queue.
type PipelineService struct {
	pipeline     Pipeline
	startTimeout time.Duration
	closeTimeout time.Duration
	name         string
}

// NewPipelineService wraps p. closeTimeout bounds the whole Close call,
// including the drain.
func NewPipelineService(p Pipeline, startTimeout, closeTimeout time.Duration) *PipelineService {
	if startTimeout <= 0 {
		startTimeout = 30 * time.Second
	}
	if closeTimeout <= 0 {
		closeTimeout = 15 * time.Second
	}
	return &PipelineService{
		pipeline:     p,
		startTimeout: startTimeout,
		closeTimeout: closeTimeout,
		name:         "audit-pipeline",
	}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, s.startTimeout)
	err := s.pipeline.Start(startCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return s.close()
		}
		return fmt.Errorf("start audit pipeline: %w", err)
	}

	<-ctx.Done()
	if err := s.close(); err != nil {
		logging.Error().Err(err).Msg("Audit pipeline closed with errors")
	}
	return ctx.Err()
}

func (s *PipelineService) close() error {
	// ctx is already canceled; Close needs its own deadline.
	closeCtx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
	defer cancel()
	if err := s.pipeline.Close(closeCtx); err != nil {
		return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
	}
	return suture.ErrDoNotRestart
}

// String implements fmt.Stringer for suture logs.
func (s *PipelineService) String() string {
	return s.name
}
