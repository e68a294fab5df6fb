// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

// Package spool persists documents the bulk engine could not deliver before
// shutdown, and hands them back on the next start.
//
// Records are stored in BadgerDB under
//
//	spool/<partition>/<sequence>
//
// so iteration yields partitions in name order and documents in the order
// they were spooled.
package spool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/logging"
	"github.com/tomtom215/audittrail/internal/metrics"
)

const (
	prefix   = "spool/"
	seqKey   = "meta/seq"
	seqBatch = 256
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("spool closed")

// Record is one spooled document.
type Record struct {
	Partition string
	Doc       audit.Document
}

type storedRecord struct {
	Partition string          `json:"partition"`
	ID        string          `json:"id"`
	Kind      audit.Kind      `json:"kind"`
	Fields    json.RawMessage `json:"fields"`
}

// Spool is a BadgerDB-backed store of undelivered documents.
type Spool struct {
	db  *badger.DB
	seq *badger.Sequence

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the spool directory at path.
func Open(path string) (*Spool, error) {
	if path == "" {
		return nil, errors.New("spool path required")
	}
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), seqBatch)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spool sequence: %w", err)
	}

	logging.Info().Str("path", path).Msg("Spool opened")
	return &Spool{db: db, seq: seq}, nil
}

func key(partition string, n uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefix, partition, n))
}

// Write stores every document in undelivered. Partitions are written in
// name order.
func (s *Spool) Write(ctx context.Context, undelivered map[string][]audit.Document) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	partitions := make([]string, 0, len(undelivered))
	for p := range undelivered {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	written := 0
	for _, p := range partitions {
		for i := range undelivered[p] {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			d := &undelivered[p][i]
			fields, err := json.Marshal(d)
			if err != nil {
				return 0, fmt.Errorf("encode %s: %w", d.ID, err)
			}
			val, err := json.Marshal(storedRecord{Partition: p, ID: d.ID, Kind: d.Kind, Fields: fields})
			if err != nil {
				return 0, fmt.Errorf("encode record %s: %w", d.ID, err)
			}
			n, err := s.seq.Next()
			if err != nil {
				return 0, fmt.Errorf("next sequence: %w", err)
			}
			if err := wb.Set(key(p, n), val); err != nil {
				return 0, fmt.Errorf("spool %s: %w", d.ID, err)
			}
			written++
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush spool: %w", err)
	}

	metrics.RecordSpool("write", written)
	return written, nil
}

// Load returns every spooled record, oldest first within a partition.
func (s *Spool) Load(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec storedRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable spool record")
				continue
			}
			doc, err := audit.DecodeDocument(rec.ID, rec.Fields)
			if err != nil {
				logging.Warn().Err(err).Str("id", rec.ID).Msg("Skipping undecodable spooled document")
				continue
			}
			doc.Kind = rec.Kind
			out = append(out, Record{Partition: rec.Partition, Doc: doc})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load spool: %w", err)
	}
	return out, nil
}

// Clear removes every spooled record.
func (s *Spool) Clear() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.DropPrefix([]byte(prefix))
}

// Len counts spooled records.
func (s *Spool) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close releases the sequence lease and closes the database.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("Spool sequence release failed")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close spool: %w", err)
	}
	logging.Info().Msg("Spool closed")
	return nil
}
