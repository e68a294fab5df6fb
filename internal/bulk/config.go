// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package bulk

import (
	"errors"
	"time"

	"github.com/tomtom215/audittrail/internal/index"
)

// Config configures an Engine.
type Config struct {
	BulkSize      int
	FlushInterval time.Duration
	QueueMaxSize  int

	// SubmitTimeout bounds each storage call made by the flush loop.
	SubmitTimeout time.Duration

	Resolver index.Resolver
	Breaker  BreakerConfig
}

// BreakerConfig configures the circuit breaker around storage submits.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		BulkSize:      1000,
		FlushInterval: time.Second,
		QueueMaxSize:  10000,
		SubmitTimeout: 30 * time.Second,
		Resolver:      index.NewResolver(index.DefaultPrefix, index.Daily),
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		},
	}
}

// Validate checks c for values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BulkSize < 1:
		return errors.New("bulk_size must be at least 1")
	case c.FlushInterval <= 0:
		return errors.New("flush_interval must be positive")
	case c.QueueMaxSize < c.BulkSize:
		return errors.New("queue_max_size must be at least bulk_size")
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	if c.Resolver.Prefix == "" {
		c.Resolver.Prefix = index.DefaultPrefix
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = d.Breaker.FailureThreshold
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = d.Breaker.Timeout
	}
}
