// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// mockPipeline records lifecycle calls and can fail Start a number of times.
type mockPipeline struct {
	mu         sync.Mutex
	startFails int
	starts     int
	closes     int
	closeErr   error
}

func (m *mockPipeline) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.starts <= m.startFails {
		return errors.New("store unreachable")
	}
	return nil
}

func (m *mockPipeline) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("close called without a deadline")
	}
	return m.closeErr
}

func (m *mockPipeline) counts() (starts, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.closes
}

func TestPipelineService_StartsAndClosesOnCancel(t *testing.T) {
	p := &mockPipeline{}
	svc := NewPipelineService(p, time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	starts, closes := p.counts()
	if starts != 1 || closes != 1 {
		t.Errorf("starts=%d closes=%d, want 1 and 1", starts, closes)
	}
}

func TestPipelineService_StartFailureIsReturned(t *testing.T) {
	p := &mockPipeline{startFails: 1}
	svc := NewPipelineService(p, time.Second, time.Second)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("Serve() should return the Start error so suture restarts it")
	}
	if _, closes := p.counts(); closes != 0 {
		t.Errorf("Close called %d times after a failed Start", closes)
	}
}

func TestPipelineService_String(t *testing.T) {
	if got := NewPipelineService(&mockPipeline{}, 0, 0).String(); got != "audit-pipeline" {
		t.Errorf("String() = %q", got)
	}
}

// mockHTTPServer is a test double for HTTPServer.
type mockHTTPServer struct {
	listenErr     error
	shutdownErr   error
	shutdownCount atomic.Int32
	stopCh        chan struct{}
	once          sync.Once
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(ctx context.Context) error {
	m.shutdownCount.Add(1)
	m.once.Do(func() { close(m.stopCh) })
	return m.shutdownErr
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := newMockHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return")
	}
	if srv.shutdownCount.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", srv.shutdownCount.Load())
	}
}

func TestHTTPServerService_ListenError(t *testing.T) {
	srv := newMockHTTPServer()
	srv.listenErr = errors.New("address already in use")
	svc := NewHTTPServerService(srv, 0)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve() = %v, want wrapped listen error", err)
	}
}

func TestHTTPServerService_ClosedElsewhereIsNotRestarted(t *testing.T) {
	srv := newMockHTTPServer()
	svc := NewHTTPServerService(srv, 0)
	_ = srv.Shutdown(context.Background())

	if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("Serve() = %v, want suture.ErrDoNotRestart", err)
	}
}

func TestHTTPServerService_AddrFromServer(t *testing.T) {
	svc := NewHTTPServerService(&http.Server{Addr: "127.0.0.1:8089"}, 0)
	if svc.addr != "127.0.0.1:8089" {
		t.Errorf("addr = %q", svc.addr)
	}
	if svc.String() != "audit-api" {
		t.Errorf("String() = %q", svc.String())
	}
}
