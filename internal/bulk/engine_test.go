// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package bulk

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/index"
)

// mockSubmitter records batches and can be told to fail.
type mockSubmitter struct {
	mu      sync.Mutex
	batches []batch
	fail    error
	delay   time.Duration
}

func (m *mockSubmitter) Submit(ctx context.Context, partition string, docs []audit.Document) error {
	m.mu.Lock()
	fail, delay := m.fail, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch{partition: partition, docs: append([]audit.Document(nil), docs...)})
	return nil
}

func (m *mockSubmitter) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *mockSubmitter) docs(partition string) []audit.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Document
	for _, b := range m.batches {
		if b.partition == partition {
			out = append(out, b.docs...)
		}
	}
	return out
}

func (m *mockSubmitter) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b.docs)
	}
	return n
}

func doc(id string, ts time.Time) audit.Document {
	return audit.Document{ID: id, Kind: audit.AccessGranted, Timestamp: ts, Fields: map[string]any{"id": id}}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BulkSize = 10
	cfg.FlushInterval = time.Hour
	cfg.QueueMaxSize = 100
	cfg.Resolver = index.NewResolver("audit_log", index.Daily)
	cfg.Breaker.FailureThreshold = 1000
	return cfg
}

func newTestEngine(t *testing.T, store Submitter, cfg Config) *Engine {
	t.Helper()
	e, err := New(store, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

var day = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero bulk size", func(c *Config) { c.BulkSize = 0 }},
		{"zero interval", func(c *Config) { c.FlushInterval = 0 }},
		{"queue smaller than bulk", func(c *Config) { c.QueueMaxSize = c.BulkSize - 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := New(&mockSubmitter{}, cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := New(nil, testConfig()); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestFlushOnInterval(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	cfg := testConfig()
	cfg.BulkSize = 1
	cfg.FlushInterval = time.Millisecond
	e := newTestEngine(t, store, cfg)
	e.Start(context.Background())
	defer e.Stop(context.Background())

	e.Submit(doc("a", day))
	waitFor(t, 2*time.Second, func() bool { return len(store.docs("audit_log-2026-03-14")) == 1 })
}

func TestFlushOnBulkSize(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	e := newTestEngine(t, store, testConfig())
	e.Start(context.Background())
	defer e.Stop(context.Background())

	for i := 0; i < 10; i++ {
		e.Submit(doc(strconv.Itoa(i), day))
	}
	waitFor(t, 2*time.Second, func() bool { return store.total() == 10 })
}

func TestFlushGroupsByPartitionInOrder(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	e := newTestEngine(t, store, testConfig())

	next := day.Add(24 * time.Hour)
	ids := []struct {
		id string
		at time.Time
	}{{"1", day}, {"2", next}, {"3", day}, {"4", next}, {"5", day}}
	for _, d := range ids {
		e.Submit(doc(d.id, d.at))
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(store.batches))
	}
	want := map[string][]string{
		"audit_log-2026-03-14": {"1", "3", "5"},
		"audit_log-2026-03-15": {"2", "4"},
	}
	if store.batches[0].partition != "audit_log-2026-03-14" {
		t.Errorf("first batch partition = %s", store.batches[0].partition)
	}
	for _, b := range store.batches {
		for i, d := range b.docs {
			if d.ID != want[b.partition][i] {
				t.Errorf("%s[%d] = %s, want %s", b.partition, i, d.ID, want[b.partition][i])
			}
		}
	}
}

func TestFlushChunksByBulkSize(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	cfg := testConfig()
	cfg.BulkSize = 3
	e := newTestEngine(t, store, cfg)
	for i := 0; i < 7; i++ {
		e.Submit(doc(strconv.Itoa(i), day))
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 3 {
		t.Errorf("batches = %d, want 3", len(store.batches))
	}
}

func TestFailedBatchRetriedUnchanged(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	store.setFail(errors.New("backend unreachable"))
	e := newTestEngine(t, store, testConfig())

	e.Submit(doc("1", day))
	e.Submit(doc("2", day))
	if err := e.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if s := e.Stats(); s.Pending != 2 || s.Queued != 0 || s.FailedSubmits != 1 {
		t.Fatalf("stats after failure = %+v", s)
	}

	e.Submit(doc("3", day))
	store.setFail(nil)
	if err := e.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := store.docs("audit_log-2026-03-14")
	if len(got) != 3 {
		t.Fatalf("delivered %d, want 3", len(got))
	}
	for i, id := range []string{"1", "2", "3"} {
		if got[i].ID != id {
			t.Errorf("doc %d = %s, want %s", i, got[i].ID, id)
		}
	}
	store.mu.Lock()
	firstBatch := len(store.batches[0].docs)
	store.mu.Unlock()
	if firstBatch != 2 {
		t.Errorf("retried batch size = %d, want original 2", firstBatch)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	cfg := testConfig()
	cfg.BulkSize = 2
	cfg.QueueMaxSize = 3
	e := newTestEngine(t, store, cfg)

	for i := 1; i <= 5; i++ {
		if !e.Submit(doc(strconv.Itoa(i), day)) {
			t.Fatal("Submit rejected while not draining")
		}
	}
	if s := e.Stats(); s.Dropped != 2 || s.Queued != 3 {
		t.Fatalf("stats = %+v", s)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := store.docs("audit_log-2026-03-14")
	if len(got) != 3 || got[0].ID != "3" || got[2].ID != "5" {
		t.Errorf("delivered %v", got)
	}
}

func TestOverflowBoundsPending(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	store.setFail(errors.New("down"))
	cfg := testConfig()
	cfg.BulkSize = 2
	cfg.QueueMaxSize = 4
	e := newTestEngine(t, store, cfg)

	for i := 1; i <= 4; i++ {
		e.Submit(doc(strconv.Itoa(i), day))
	}
	_ = e.Flush(context.Background())
	for i := 5; i <= 6; i++ {
		e.Submit(doc(strconv.Itoa(i), day))
	}
	if n := e.Len(); n != 4 {
		t.Fatalf("Len = %d, want 4", n)
	}

	store.setFail(nil)
	if err := e.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := store.docs("audit_log-2026-03-14")
	want := []string{"3", "4", "5", "6"}
	if len(got) != len(want) {
		t.Fatalf("delivered %d", len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("doc %d = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestStopDrainsEverything(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	e := newTestEngine(t, store, testConfig())
	e.Start(context.Background())

	for i := 0; i < 50; i++ {
		e.Submit(doc(strconv.Itoa(i), day))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := store.total(); n != 50 {
		t.Errorf("delivered %d, want 50", n)
	}
	if e.State() != StateStopped {
		t.Errorf("state = %s", e.State())
	}
	if e.Submit(doc("late", day)) {
		t.Error("Submit accepted after Stop")
	}
}

func TestStopTimesOutWhenBackendDown(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	store.setFail(errors.New("down"))
	e := newTestEngine(t, store, testConfig())
	e.Start(context.Background())
	e.Submit(doc("1", day))
	e.Submit(doc("2", day.Add(24*time.Hour)))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := e.Stop(ctx)
	if !errors.Is(err, ErrDrainIncomplete) {
		t.Fatalf("Stop err = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Stop did not honor its deadline")
	}

	left := e.TakeUndelivered()
	if len(left["audit_log-2026-03-14"]) != 1 || len(left["audit_log-2026-03-15"]) != 1 {
		t.Errorf("undelivered = %v", left)
	}
	if e.Len() != 0 {
		t.Error("TakeUndelivered left documents behind")
	}
}

func TestSubmitBeforeStartIsKept(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	cfg := testConfig()
	cfg.FlushInterval = time.Millisecond
	e := newTestEngine(t, store, cfg)
	e.Submit(doc("early", day))
	if store.total() != 0 {
		t.Fatal("flushed before Start")
	}
	e.Start(context.Background())
	defer e.Stop(context.Background())
	waitFor(t, 2*time.Second, func() bool { return store.total() == 1 })
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	store.setFail(errors.New("down"))
	cfg := testConfig()
	cfg.Breaker = BreakerConfig{FailureThreshold: 2, Timeout: 50 * time.Millisecond}
	e := newTestEngine(t, store, cfg)

	e.Submit(doc("1", day))
	for i := 0; i < 3; i++ {
		_ = e.Flush(context.Background())
	}
	if got := e.breaker.State().String(); got != "open" {
		t.Fatalf("breaker = %s, want open", got)
	}

	store.setFail(nil)
	time.Sleep(60 * time.Millisecond)
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("probe flush: %v", err)
	}
	if store.total() != 1 {
		t.Errorf("delivered %d", store.total())
	}
}

func TestConcurrentSubmit(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	cfg := testConfig()
	cfg.BulkSize = 25
	cfg.QueueMaxSize = 10000
	cfg.FlushInterval = 5 * time.Millisecond
	e := newTestEngine(t, store, cfg)
	e.Start(context.Background())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				e.Submit(doc(strconv.Itoa(w)+"-"+strconv.Itoa(i), day))
			}
		}(w)
	}
	wg.Wait()

	if err := e.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := store.total(); n != 800 {
		t.Errorf("delivered %d, want 800", n)
	}
}

func TestStopDrainsThroughOpenBreaker(t *testing.T) {
	t.Parallel()

	store := &mockSubmitter{}
	store.setFail(errors.New("down"))
	cfg := testConfig()
	cfg.Breaker = DefaultConfig().Breaker
	e := newTestEngine(t, store, cfg)

	for i := 0; i < 5; i++ {
		e.Submit(doc("early-"+strconv.Itoa(i), day))
		_ = e.Flush(context.Background())
	}
	if got := e.breaker.State().String(); got != "open" {
		t.Fatalf("breaker = %s, want open", got)
	}

	store.setFail(nil)
	for i := 0; i < 50; i++ {
		e.Submit(doc(strconv.Itoa(i), day))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := store.total(); n != 55 {
		t.Errorf("delivered %d, want 55", n)
	}
	if e.Len() != 0 {
		t.Errorf("%d documents left behind", e.Len())
	}
}

func TestSubmitDuringStopIsDeliveredOrRejected(t *testing.T) {
	t.Parallel()

	for round := 0; round < 50; round++ {
		store := &mockSubmitter{}
		cfg := testConfig()
		cfg.BulkSize = 50
		cfg.QueueMaxSize = 1 << 20
		cfg.FlushInterval = time.Millisecond
		e := newTestEngine(t, store, cfg)
		e.Start(context.Background())

		var (
			wg       sync.WaitGroup
			accepted atomic.Int64
			done     atomic.Bool
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; !done.Load(); i++ {
					if e.Submit(doc(strconv.Itoa(w)+"-"+strconv.Itoa(i), day)) {
						accepted.Add(1)
					}
				}
			}(w)
		}

		time.Sleep(2 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := e.Stop(ctx)
		cancel()
		done.Store(true)
		wg.Wait()

		if err != nil {
			t.Fatalf("round %d: Stop: %v", round, err)
		}
		if got, want := int64(store.total()), accepted.Load(); got != want {
			t.Fatalf("round %d: delivered %d, accepted %d", round, got, want)
		}
		if e.Len() != 0 {
			t.Fatalf("round %d: %d documents left in queue", round, e.Len())
		}
	}
}
