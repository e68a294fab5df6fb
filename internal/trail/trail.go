// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package trail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/bulk"
	"github.com/tomtom215/audittrail/internal/config"
	"github.com/tomtom215/audittrail/internal/logging"
	"github.com/tomtom215/audittrail/internal/metrics"
	"github.com/tomtom215/audittrail/internal/spool"
	"github.com/tomtom215/audittrail/internal/storage"
)

// State is the lifecycle state of a Trail.
type State int32

const (
	// StateDisabled means audit.enabled is false. Every operation is a no-op.
	StateDisabled State = iota
	// StateInitializing accepts events into the queue but does not flush.
	StateInitializing
	StateRunning
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrAlreadyStarted is returned by a second successful Start.
	ErrAlreadyStarted = errors.New("audit trail already started")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("audit trail closed")
)

// Option customizes a Trail.
type Option func(*Trail)

// WithStore uses s instead of opening the store named by configuration.
// The Trail takes ownership and closes it.
func WithStore(s storage.Store) Option {
	return func(t *Trail) { t.store = s }
}

// WithRemoteHosts overrides audit.index.client.hosts. Used to point the
// remote client at an embedded server whose URL is only known at runtime.
func WithRemoteHosts(hosts ...string) Option {
	return func(t *Trail) { t.hosts = hosts }
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithLogfileWriter sends the logfile output to w instead of a rotating file.
func WithLogfileWriter(w io.Writer) Option {
	return func(t *Trail) { t.logfileWriter = w }
}

// Trail is the audit pipeline. It owns the mute policy, the document
// builder, the flush engine and the storage client; independent Trails can
// coexist in one process.
type Trail struct {
	cfg     config.Config
	policy  audit.MutePolicy
	builder *audit.Builder
	now     func() time.Time

	state     atomic.Int32
	lifecycle sync.Mutex
	started   bool

	client        deferredClient
	store         storage.Store
	engine        *bulk.Engine
	spool         *spool.Spool
	logfile       *logfileOutput
	logfileWriter io.Writer
	hosts         []string
	cancel        context.CancelFunc
}

// New validates cfg and builds a Trail in StateInitializing, or
// StateDisabled when auditing is turned off. Configuration errors are
// returned here and the Trail never runs.
func New(cfg *config.Config, opts ...Option) (*Trail, error) {
	t := &Trail{cfg: *cfg, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}

	if !cfg.Audit.Enabled {
		t.state.Store(int32(StateDisabled))
		logging.Info().Msg("Audit trail disabled by configuration")
		return t, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}

	policy, err := cfg.Audit.Index.MutePolicy()
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	t.policy = policy
	t.builder = audit.NewBuilder(audit.Node{
		Name:        cfg.Audit.Node.Name,
		HostName:    cfg.Audit.Node.HostName,
		HostAddress: cfg.Audit.Node.HostAddress,
	})

	if cfg.Audit.HasOutput(config.OutputIndex) {
		bc, err := cfg.Audit.Index.BulkConfig()
		if err != nil {
			return nil, fmt.Errorf("audit trail: %w", err)
		}
		t.engine, err = bulk.New(&t.client, bc)
		if err != nil {
			return nil, fmt.Errorf("audit trail: %w", err)
		}
	}
	if cfg.Audit.HasOutput(config.OutputLogfile) {
		t.logfile = newLogfileOutput(cfg.Logfile, t.logfileWriter)
	}

	t.state.Store(int32(StateInitializing))
	return t, nil
}

// State returns the current lifecycle state.
func (t *Trail) State() State { return State(t.state.Load()) }

// Enabled reports whether events can still be recorded.
func (t *Trail) Enabled() bool {
	s := t.State()
	return s == StateInitializing || s == StateRunning
}

// Start connects the storage client, replays the spool and starts the
// flush loop. If connecting fails the Trail stays in StateInitializing and
// Start may be retried. ctx bounds only the startup work.
func (t *Trail) Start(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	switch t.State() {
	case StateDisabled:
		return nil
	case StateShuttingDown, StateClosed:
		return ErrClosed
	}
	if t.started {
		return ErrAlreadyStarted
	}

	if t.engine != nil {
		if err := t.openStore(ctx); err != nil {
			return err
		}
		if err := t.openSpool(ctx); err != nil {
			return err
		}
		runCtx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.engine.Start(runCtx)
	}

	t.started = true
	t.state.Store(int32(StateRunning))

	ev := logging.Info().Strs("outputs", t.cfg.Audit.Outputs)
	if t.store != nil {
		ev = ev.Str("backend", t.store.Backend())
	}
	ev.Msg("Audit trail started")
	return nil
}

func (t *Trail) openStore(ctx context.Context) error {
	if t.store == nil {
		target, err := t.cfg.Audit.Index.Target(t.hosts...)
		if err != nil {
			return fmt.Errorf("audit trail: %w", err)
		}
		store, err := storage.Open(ctx, target, storage.Options{Settings: t.cfg.Audit.Index.Settings})
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		t.store = store
	}
	t.client.set(t.store)
	return nil
}

func (t *Trail) openSpool(ctx context.Context) error {
	path := t.cfg.Audit.Index.SpoolPath
	if path == "" || t.spool != nil {
		return nil
	}
	sp, err := spool.Open(path)
	if err != nil {
		return fmt.Errorf("open audit spool: %w", err)
	}
	t.spool = sp
	t.replaySpool(ctx)
	return nil
}

// replaySpool submits spooled documents straight to the store before the
// flush loop starts, so they land ahead of anything recorded since. On
// failure the spool is kept for the next start; resubmitting is harmless
// because stores ignore document IDs they already hold.
func (t *Trail) replaySpool(ctx context.Context) {
	records, err := t.spool.Load(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to read audit spool")
		return
	}
	if len(records) == 0 {
		return
	}

	order := make([]string, 0, 1)
	groups := make(map[string][]audit.Document)
	for _, r := range records {
		if _, ok := groups[r.Partition]; !ok {
			order = append(order, r.Partition)
		}
		groups[r.Partition] = append(groups[r.Partition], r.Doc)
	}

	for _, p := range order {
		if err := t.store.Submit(ctx, p, groups[p]); err != nil {
			logging.Warn().Err(err).Str("partition", p).Int("spooled", len(records)).
				Msg("Audit spool replay failed, keeping spool for next start")
			return
		}
	}
	if err := t.spool.Clear(); err != nil {
		logging.Warn().Err(err).Msg("Failed to clear audit spool after replay")
	}
	metrics.RecordSpool("replay", len(records))
	logging.Info().Int("documents", len(records)).Int("partitions", len(order)).Msg("Audit spool replayed")
}

// Close drains the queue within audit.index.shutdown_timeout, spools or
// reports whatever could not be delivered, and releases the store. Calling
// Close more than once is safe.
func (t *Trail) Close(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	switch t.State() {
	case StateDisabled, StateClosed:
		return nil
	}
	t.state.Store(int32(StateShuttingDown))

	var errs []error
	if t.engine != nil {
		if err := t.drain(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.spool != nil {
		if err := t.spool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close spool: %w", err))
		}
	}
	if t.store != nil {
		if err := t.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if t.logfile != nil {
		if err := t.logfile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close logfile: %w", err))
		}
	}

	t.state.Store(int32(StateClosed))
	logging.Info().Msg("Audit trail closed")
	return errors.Join(errs...)
}

func (t *Trail) drain(ctx context.Context) error {
	if !t.started {
		// Never connected: nothing can be flushed.
		undelivered := t.engine.TakeUndelivered()
		_ = t.engine.Stop(ctx)
		return t.persistUndelivered(ctx, undelivered)
	}

	stopCtx, cancel := context.WithTimeout(ctx, t.cfg.Audit.Index.ShutdownTimeout)
	defer cancel()
	err := t.engine.Stop(stopCtx)
	t.cancel()
	if err == nil {
		return nil
	}
	logging.Warn().Err(err).Msg("Audit queue not fully drained at shutdown")
	return t.persistUndelivered(ctx, t.engine.TakeUndelivered())
}

// persistUndelivered spools docs if a spool is configured; otherwise they
// are counted and logged as lost.
func (t *Trail) persistUndelivered(ctx context.Context, undelivered map[string][]audit.Document) error {
	total := 0
	for _, docs := range undelivered {
		total += len(docs)
	}
	if total == 0 {
		return nil
	}

	if t.spool != nil {
		n, err := t.spool.Write(ctx, undelivered)
		if err == nil {
			logging.Info().Int("documents", n).Msg("Undelivered audit documents spooled")
			return nil
		}
		logging.Error().Err(err).Msg("Failed to spool undelivered audit documents")
	}

	metrics.RecordDropped(metrics.DropShutdown, total)
	logging.Error().Int("documents", total).Int("partitions", len(undelivered)).
		Msg("Audit documents lost at shutdown")
	return fmt.Errorf("%w: %d audit documents lost", bulk.ErrDrainIncomplete, total)
}

// Stats returns flush engine counters, or the zero value when the index
// output is off.
func (t *Trail) Stats() bulk.Stats {
	if t.engine == nil {
		return bulk.Stats{State: t.State().String()}
	}
	return t.engine.Stats()
}

// Reader exposes the active store for lookups. It is nil until Start
// succeeds and when the index output is off.
func (t *Trail) Reader() storage.Reader {
	if s := t.client.get(); s != nil {
		return s
	}
	return nil
}

// Resolve returns the partition an event at ts is written to.
func (t *Trail) Resolve(ts time.Time) (string, error) {
	r, err := t.cfg.Audit.Index.Resolver()
	if err != nil {
		return "", err
	}
	return r.Resolve(ts), nil
}

// deferredClient lets the engine exist, and queue documents, before the
// store is connected.
type deferredClient struct {
	mu    sync.RWMutex
	store storage.Store
}

var errNotConnected = errors.New("audit store not connected")

func (d *deferredClient) set(s storage.Store) {
	d.mu.Lock()
	d.store = s
	d.mu.Unlock()
}

func (d *deferredClient) get() storage.Store {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store
}

func (d *deferredClient) Submit(ctx context.Context, partition string, docs []audit.Document) error {
	s := d.get()
	if s == nil {
		return errNotConnected
	}
	return s.Submit(ctx, partition, docs)
}
