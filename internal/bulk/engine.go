// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/logging"
	"github.com/tomtom215/audittrail/internal/metrics"
	"golang.org/x/time/rate"
)

// ErrDrainIncomplete is returned by Stop when documents remain undelivered.
var ErrDrainIncomplete = errors.New("bulk drain incomplete")

// Submitter is the storage write path.
type Submitter interface {
	Submit(ctx context.Context, partition string, docs []audit.Document) error
}

// State is the engine lifecycle state.
type State int32

const (
	StateNew State = iota
	StateStarted
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarted:
		return "started"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// batch is documents bound for one partition, submitted in one call.
type batch struct {
	partition string
	docs      []audit.Document
}

// Stats is a point-in-time snapshot for monitoring.
type Stats struct {
	State         string
	Accepted      int64
	Flushed       int64
	Dropped       int64
	Rejected      int64
	FailedSubmits int64
	Queued        int
	Pending       int
	LastFlushTime time.Time
	LastError     string
}

// Engine is the bulk queue and flush loop.
type Engine struct {
	store   Submitter
	cfg     Config
	breaker *gobreaker.CircuitBreaker[interface{}]

	mu           sync.Mutex
	queue        []audit.Document
	pending      []batch
	pendingCount int

	// Serializes flushes so the timer and Stop never submit concurrently.
	flushMu sync.Mutex

	state    atomic.Int32
	kick     chan struct{}
	stopChan chan struct{}
	doneChan chan struct{}

	overflowLog rate.Sometimes

	accepted      atomic.Int64
	flushed       atomic.Int64
	dropped       atomic.Int64
	rejected      atomic.Int64
	failedSubmits atomic.Int64
	lastFlushTime atomic.Value // time.Time
	lastError     atomic.Value // string
}

// New returns an engine in StateNew. It accepts documents immediately but
// does not flush until Start.
func New(store Submitter, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, errors.New("bulk: store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bulk: %w", err)
	}
	cfg.applyDefaults()

	e := &Engine{
		store:       store,
		cfg:         cfg,
		breaker:     newBreaker("audit-storage", cfg.Breaker),
		queue:       make([]audit.Document, 0, cfg.BulkSize),
		kick:        make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
		overflowLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	e.lastFlushTime.Store(time.Time{})
	e.lastError.Store("")
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Start launches the flush loop. Calling it again, or after Stop, is a no-op.
// ctx only controls the loop's lifetime; individual flushes use their own
// timeouts.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.CompareAndSwap(int32(StateNew), int32(StateStarted)) {
		return
	}
	go e.loop(ctx)
}

// Submit enqueues doc. It never blocks on storage and reports false only when
// the engine is draining or stopped.
//
//nolint:gocritic // documents are small value types owned by the queue
func (e *Engine) Submit(doc audit.Document) bool {
	// State is checked under e.mu: Stop flips to draining under the same
	// lock, so nothing is appended after the final drain has begun.
	e.mu.Lock()
	switch e.State() {
	case StateDraining, StateStopped:
		e.mu.Unlock()
		e.rejected.Add(1)
		metrics.RecordDropped(metrics.DropShutdown, 1)
		return false
	}

	dropped := 0
	for len(e.queue)+e.pendingCount >= e.cfg.QueueMaxSize {
		e.dropOldestLocked()
		dropped++
	}
	e.queue = append(e.queue, doc)
	queued, pending := len(e.queue), e.pendingCount
	e.mu.Unlock()

	e.accepted.Add(1)
	metrics.SetQueueState(queued, pending)
	if dropped > 0 {
		e.recordOverflow(dropped, queued+pending)
	}
	if queued >= e.cfg.BulkSize {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// dropOldestLocked discards the oldest document, preferring pending retries
// since they were accepted first. Must hold e.mu.
func (e *Engine) dropOldestLocked() {
	if e.pendingCount > 0 {
		b := &e.pending[0]
		b.docs = b.docs[1:]
		e.pendingCount--
		if len(b.docs) == 0 {
			e.pending = e.pending[1:]
		}
		return
	}
	if len(e.queue) > 0 {
		e.queue = e.queue[1:]
	}
}

func (e *Engine) recordOverflow(n, size int) {
	e.dropped.Add(int64(n))
	metrics.RecordDropped(metrics.DropOverflow, n)
	e.overflowLog.Do(func() {
		logging.Warn().
			Int("dropped", n).
			Int64("dropped_total", e.dropped.Load()).
			Int("capacity", e.cfg.QueueMaxSize).
			Int("size", size).
			Msg("Audit queue full, dropping oldest documents")
	})
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.flushAsync()
		case <-e.kick:
			e.flushAsync()
		}
	}
}

// flushAsync runs one flush from the loop. Errors are recorded, not returned.
func (e *Engine) flushAsync() {
	if err := e.Flush(context.Background()); err != nil {
		logging.Debug().Err(err).Msg("Bulk flush failed, documents held for retry")
	}
}

// Flush submits everything queued or pending. On failure the failed batch
// and all later ones are kept for the next attempt.
func (e *Engine) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	work := e.pending
	taken := e.queue
	e.pending = nil
	e.pendingCount = 0
	e.queue = make([]audit.Document, 0, e.cfg.BulkSize)
	e.mu.Unlock()

	work = append(work, e.partition(taken)...)
	if len(work) == 0 {
		return nil
	}

	for i := range work {
		if err := e.submit(ctx, work[i]); err != nil {
			e.restore(work[i:])
			return err
		}
	}

	e.lastFlushTime.Store(time.Now())
	e.mu.Lock()
	metrics.SetQueueState(len(e.queue), e.pendingCount)
	e.mu.Unlock()
	return nil
}

// partition groups docs by resolved partition, keeping first-seen partition
// order and per-partition submit order, and splits groups into BulkSize
// chunks.
func (e *Engine) partition(docs []audit.Document) []batch {
	if len(docs) == 0 {
		return nil
	}
	order := make([]string, 0, 2)
	groups := make(map[string][]audit.Document, 2)
	for i := range docs {
		name := e.cfg.Resolver.Resolve(docs[i].Timestamp)
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], docs[i])
	}

	out := make([]batch, 0, len(order))
	for _, name := range order {
		g := groups[name]
		for start := 0; start < len(g); start += e.cfg.BulkSize {
			end := min(start+e.cfg.BulkSize, len(g))
			out = append(out, batch{partition: name, docs: g[start:end]})
		}
	}
	return out
}

func (e *Engine) submit(ctx context.Context, b batch) error {
	subCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	call := func() (interface{}, error) {
		return nil, e.store.Submit(subCtx, b.partition, b.docs)
	}

	start := time.Now()
	var err error
	if e.State() == StateDraining {
		// The drain is bounded by Stop's deadline, not by the breaker.
		_, err = call()
	} else {
		_, err = e.breaker.Execute(call)
	}
	metrics.RecordFlush(time.Since(start), err)

	if err != nil {
		e.failedSubmits.Add(1)
		e.lastError.Store(err.Error())
		return fmt.Errorf("submit %d documents to %s: %w", len(b.docs), b.partition, err)
	}

	e.flushed.Add(int64(len(b.docs)))
	logging.Debug().Str("partition", b.partition).Int("docs", len(b.docs)).Msg("Bulk batch indexed")
	return nil
}

// restore puts unsent batches back at the head of the pending list and
// re-applies the capacity bound.
func (e *Engine) restore(unsent []batch) {
	e.mu.Lock()
	restored := make([]batch, 0, len(unsent)+len(e.pending))
	restored = append(restored, unsent...)
	restored = append(restored, e.pending...)
	e.pending = restored
	e.pendingCount = 0
	for _, b := range e.pending {
		e.pendingCount += len(b.docs)
	}

	dropped := 0
	for len(e.queue)+e.pendingCount > e.cfg.QueueMaxSize {
		e.dropOldestLocked()
		dropped++
	}
	queued, pending := len(e.queue), e.pendingCount
	e.mu.Unlock()

	metrics.SetQueueState(queued, pending)
	if dropped > 0 {
		e.recordOverflow(dropped, queued+pending)
	}
}

// Stop stops the flush loop and drains until everything is delivered or ctx
// is done. Documents that could not be delivered remain available through
// TakeUndelivered and ErrDrainIncomplete is returned.
//
// The circuit breaker is not consulted while draining.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	prev := e.State()
	if prev == StateDraining || prev == StateStopped {
		e.mu.Unlock()
		return nil
	}
	e.state.Store(int32(StateDraining))
	e.mu.Unlock()

	if prev == StateStarted {
		close(e.stopChan)
		<-e.doneChan
	}
	defer e.state.Store(int32(StateStopped))

	for {
		err := e.Flush(ctx)
		if err == nil {
			logging.Info().Int64("flushed", e.flushed.Load()).Msg("Bulk engine drained")
			return nil
		}
		select {
		case <-ctx.Done():
			n := e.Len()
			logging.Error().Err(err).Int("undelivered", n).Msg("Bulk drain timed out")
			return fmt.Errorf("%w: %d documents: %w", ErrDrainIncomplete, n, err)
		case <-time.After(drainRetryWait):
		}
	}
}

// drainRetryWait spaces out retries during Stop.
var drainRetryWait = 100 * time.Millisecond

// Len returns the number of queued plus pending documents.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) + e.pendingCount
}

// TakeUndelivered removes and returns every queued and pending document,
// oldest first, grouped by partition.
func (e *Engine) TakeUndelivered() map[string][]audit.Document {
	e.mu.Lock()
	work := e.pending
	taken := e.queue
	e.pending, e.pendingCount, e.queue = nil, 0, nil
	e.mu.Unlock()

	out := make(map[string][]audit.Document)
	for _, b := range append(work, e.partition(taken)...) {
		out[b.partition] = append(out[b.partition], b.docs...)
	}
	metrics.SetQueueState(0, 0)
	return out
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	queued, pending := len(e.queue), e.pendingCount
	e.mu.Unlock()

	lastFlush, _ := e.lastFlushTime.Load().(time.Time)
	lastErr, _ := e.lastError.Load().(string)

	return Stats{
		State:         e.State().String(),
		Accepted:      e.accepted.Load(),
		Flushed:       e.flushed.Load(),
		Dropped:       e.dropped.Load(),
		Rejected:      e.rejected.Load(),
		FailedSubmits: e.failedSubmits.Load(),
		Queued:        queued,
		Pending:       pending,
		LastFlushTime: lastFlush,
		LastError:     lastErr,
	}
}
