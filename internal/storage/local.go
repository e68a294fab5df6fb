// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"
	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/logging"
)

const localSchema = `
	CREATE TABLE IF NOT EXISTS audit_partitions (
		name TEXT PRIMARY KEY,
		number_of_shards INTEGER NOT NULL,
		number_of_replicas INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE SEQUENCE IF NOT EXISTS audit_documents_seq;

	CREATE TABLE IF NOT EXISTS audit_documents (
		id TEXT PRIMARY KEY,
		seq BIGINT NOT NULL DEFAULT nextval('audit_documents_seq'),
		partition TEXT NOT NULL,
		event_type TEXT NOT NULL,
		kind TEXT NOT NULL,
		ts TIMESTAMP NOT NULL,
		indexed_by TEXT NOT NULL,
		body TEXT NOT NULL
	)
`

// LocalClient stores documents in DuckDB. Every partition is a row in
// audit_partitions; documents live in a single table keyed by partition.
type LocalClient struct {
	db       *sql.DB
	settings PartitionSettings
	auth     Authenticator
	prov     *provisioner

	// DuckDB allows one writer at a time.
	writeMu sync.Mutex
	closed  atomic.Bool
}

// OpenLocal opens (or creates) the DuckDB database at t.Path.
func OpenLocal(ctx context.Context, t LocalTarget, opts Options) (*LocalClient, error) {
	path := t.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("duckdb", path+"?autoinstall_known_extensions=false&autoload_known_extensions=false")
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}

	for _, stmt := range strings.Split(localSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply audit schema: %w", err)
		}
	}

	auth := opts.Authenticator
	if auth == nil {
		auth = SystemAuthenticator{}
	}
	c := &LocalClient{db: db, settings: opts.Settings, auth: auth}
	c.prov = newProvisioner(c.Backend(), c.createPartition)

	logging.Info().Str("path", path).Msg("Local audit store opened")
	return c, nil
}

// Backend implements Store.
func (c *LocalClient) Backend() string { return "duckdb" }

func (c *LocalClient) createPartition(ctx context.Context, name string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO audit_partitions (name, number_of_shards, number_of_replicas, created_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		name, c.settings.Shards, c.settings.Replicas, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	return nil
}

// Submit implements Client. The batch is written in one transaction.
func (c *LocalClient) Submit(ctx context.Context, partition string, docs []audit.Document) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.prov.ensure(ctx, partition); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	hdr := Headers{}
	c.auth.AttachUserIfMissing(hdr, AuditUser)
	indexedBy := hdr[HeaderUser]

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk %s: %w", partition, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_documents (id, partition, event_type, kind, ts, indexed_by, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare bulk %s: %w", partition, err)
	}
	defer stmt.Close()

	for i := range docs {
		d := &docs[i]
		body, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, partition, d.String(audit.FieldEventType), d.Kind.String(),
			d.Timestamp.UTC(), indexedBy, string(body)); err != nil {
			return fmt.Errorf("index document %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk %s: %w", partition, err)
	}
	return nil
}

func (c *LocalClient) partitionExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_partitions WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup partition %s: %w", name, err)
	}
	return n > 0, nil
}

// Count implements Reader.
func (c *LocalClient) Count(ctx context.Context, partition string) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	ok, err := c.partitionExists(ctx, partition)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_documents WHERE partition = ?`, partition).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", partition, err)
	}
	return n, nil
}

// Documents implements Reader. Documents come back in insertion order.
func (c *LocalClient) Documents(ctx context.Context, partition string) ([]audit.Document, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	ok, err := c.partitionExists(ctx, partition)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT id, kind, body FROM audit_documents WHERE partition = ? ORDER BY seq`, partition)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", partition, err)
	}
	defer rows.Close()

	var out []audit.Document
	for rows.Next() {
		var id, kind, body string
		if err := rows.Scan(&id, &kind, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", partition, err)
		}
		doc, err := decodeStored(id, kind, []byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// IndexedBy returns the identity recorded for a stored document.
func (c *LocalClient) IndexedBy(ctx context.Context, id string) (string, error) {
	var who string
	err := c.db.QueryRowContext(ctx, `SELECT indexed_by FROM audit_documents WHERE id = ?`, id).Scan(&who)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("document %s not found", id)
	}
	return who, err
}

// Settings implements Reader.
func (c *LocalClient) Settings(ctx context.Context, partition string) (PartitionSettings, error) {
	var s PartitionSettings
	err := c.db.QueryRowContext(ctx,
		`SELECT number_of_shards, number_of_replicas FROM audit_partitions WHERE name = ?`,
		partition).Scan(&s.Shards, &s.Replicas)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}
	if err != nil {
		return s, fmt.Errorf("settings %s: %w", partition, err)
	}
	return s, nil
}

// Close implements Client.
func (c *LocalClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.db.Close()
}
