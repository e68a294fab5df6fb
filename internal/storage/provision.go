// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package storage

import (
	"context"
	"sync"

	"github.com/tomtom215/audittrail/internal/logging"
	"github.com/tomtom215/audittrail/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// provisioner creates each partition at most once per process. Concurrent
// first writers to a new partition share one create call. The create
// function must itself tolerate the partition already existing, since
// another process may have created it.
type provisioner struct {
	backend string
	create  func(ctx context.Context, name string) error

	group singleflight.Group
	mu    sync.RWMutex
	known map[string]struct{}
}

func newProvisioner(backend string, create func(ctx context.Context, name string) error) *provisioner {
	return &provisioner{backend: backend, create: create, known: make(map[string]struct{})}
}

func (p *provisioner) isKnown(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.known[name]
	return ok
}

func (p *provisioner) ensure(ctx context.Context, name string) error {
	if p.isKnown(name) {
		return nil
	}
	_, err, _ := p.group.Do(name, func() (interface{}, error) {
		if p.isKnown(name) {
			return nil, nil
		}
		if err := p.create(ctx, name); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.known[name] = struct{}{}
		p.mu.Unlock()

		metrics.RecordPartitionProvisioned(p.backend)
		logging.Info().Str("backend", p.backend).Str("partition", name).Msg("Partition provisioned")
		return nil, nil
	})
	return err
}
