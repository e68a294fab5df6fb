// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/audittrail/internal/audit"
)

// MemoryClient is an in-process Store for development and tests. Data is
// lost on Close. It can be told to fail submissions to simulate an
// unreachable backend.
type MemoryClient struct {
	mu         sync.RWMutex
	settings   PartitionSettings
	auth       Authenticator
	partitions map[string]*memPartition
	failErr    error
	batches    int
	closed     bool
}

type memPartition struct {
	settings PartitionSettings
	docs     []audit.Document
	ids      map[string]struct{}
	users    []string
}

// NewMemoryClient returns an empty store that stamps writes using auth
// (SystemAuthenticator when nil).
func NewMemoryClient(settings PartitionSettings, auth Authenticator) *MemoryClient {
	if auth == nil {
		auth = SystemAuthenticator{}
	}
	return &MemoryClient{settings: settings, auth: auth, partitions: make(map[string]*memPartition)}
}

// Backend implements Store.
func (m *MemoryClient) Backend() string { return "memory" }

// SetFailure makes every Submit return err until called with nil.
func (m *MemoryClient) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Batches returns the number of successful Submit calls.
func (m *MemoryClient) Batches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches
}

// Submit implements Client.
func (m *MemoryClient) Submit(_ context.Context, partition string, docs []audit.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.failErr != nil {
		return m.failErr
	}

	p, ok := m.partitions[partition]
	if !ok {
		p = &memPartition{settings: m.settings, ids: make(map[string]struct{})}
		m.partitions[partition] = p
	}

	hdr := Headers{}
	m.auth.AttachUserIfMissing(hdr, AuditUser)

	for i := range docs {
		if _, dup := p.ids[docs[i].ID]; dup {
			continue
		}
		p.ids[docs[i].ID] = struct{}{}
		p.docs = append(p.docs, docs[i])
		p.users = append(p.users, hdr[HeaderUser])
	}
	m.batches++
	return nil
}

func (m *MemoryClient) partition(name string) (*memPartition, error) {
	if m.closed {
		return nil, ErrClosed
	}
	p, ok := m.partitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	return p, nil
}

// Count implements Reader.
func (m *MemoryClient) Count(_ context.Context, partition string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, err := m.partition(partition)
	if err != nil {
		return 0, err
	}
	return len(p.docs), nil
}

// Documents implements Reader.
func (m *MemoryClient) Documents(_ context.Context, partition string) ([]audit.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, err := m.partition(partition)
	if err != nil {
		return nil, err
	}
	return append([]audit.Document(nil), p.docs...), nil
}

// Settings implements Reader.
func (m *MemoryClient) Settings(_ context.Context, partition string) (PartitionSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, err := m.partition(partition)
	if err != nil {
		return PartitionSettings{}, err
	}
	return p.settings, nil
}

// IndexedBy returns the identity each document in partition was written as.
func (m *MemoryClient) IndexedBy(partition string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.partitions[partition]; ok {
		return append([]string(nil), p.users...)
	}
	return nil
}

// Close implements Client.
func (m *MemoryClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
