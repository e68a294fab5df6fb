// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// countingService runs until canceled, failing the first fails calls.
type countingService struct {
	starts atomic.Int32
	fails  int32
}

func (s *countingService) Serve(ctx context.Context) error {
	if n := s.starts.Add(1); n <= s.fails {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewTreeDefaults(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{})
	want := DefaultTreeConfig()
	if tree.config != want {
		t.Errorf("config = %+v, want %+v", tree.config, want)
	}
}

func TestTreeRunsAndStops(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{
		FailureBackoff:  10 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	pipeline := &countingService{}
	api := &countingService{fails: 2}
	tree.AddPipelineService(pipeline)
	tree.AddAPIService(api)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	errCh := tree.ServeBackground(ctx)
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}

	if pipeline.starts.Load() != 1 {
		t.Errorf("pipeline started %d times; api failures must not restart it", pipeline.starts.Load())
	}
	if api.starts.Load() < 3 {
		t.Errorf("api started %d times, want restarts after failures", api.starts.Load())
	}

	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatalf("UnstoppedServiceReport() error = %v", err)
	}
	if len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}
