// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/audittrail/internal/validation"
)

// Validate checks that configuration is complete and consistent. Any error
// here keeps the pipeline from starting.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateIndex(); err != nil {
		return err
	}

	if err := c.validateClient(); err != nil {
		return err
	}

	return c.validateLogfile()
}

// validateIndex checks relations between index fields that struct tags
// cannot express.
func (c *Config) validateIndex() error {
	idx := &c.Audit.Index
	if idx.QueueMaxSize < idx.BulkSize {
		return fmt.Errorf("audit.index.queue_max_size (%d) must be at least bulk_size (%d)",
			idx.QueueMaxSize, idx.BulkSize)
	}
	if idx.Settings.Shards < 1 {
		return errors.New("audit.index.settings.number_of_shards must be at least 1")
	}
	if idx.Settings.Replicas < 0 {
		return errors.New("audit.index.settings.number_of_replicas must not be negative")
	}
	if _, err := idx.RolloverValue(); err != nil {
		return fmt.Errorf("audit.index.rollover: %w", err)
	}
	if _, err := idx.MutePolicy(); err != nil {
		return fmt.Errorf("audit.index: %w", err)
	}
	return nil
}

const streamNameReserved = ".*>/\\ \t\r\n"

// validateClient checks remote connection settings (only if remote)
func (c *Config) validateClient() error {
	cl := &c.Audit.Index.Client
	if !cl.Remote() {
		return nil
	}
	for _, h := range cl.Hosts {
		if err := validation.CheckHostPort(h); err != nil {
			return fmt.Errorf("audit.index.client.hosts: %w", err)
		}
	}
	// Remote partitions are JetStream stream names.
	if strings.ContainsAny(c.Audit.Index.Prefix, streamNameReserved) {
		return fmt.Errorf("audit.index.prefix %q must not contain '.', '*', '>', path separators or whitespace with a remote client",
			c.Audit.Index.Prefix)
	}
	if _, _, err := cl.Shield.Credentials(); err != nil {
		return err
	}
	if (cl.TLS.CertFile == "") != (cl.TLS.KeyFile == "") {
		return errors.New("audit.index.client.tls.cert_file and key_file must be set together")
	}
	if cl.Embedded.Enabled {
		if len(cl.Hosts) > 0 {
			return errors.New("audit.index.client.embedded cannot be combined with client.hosts")
		}
		if cl.Embedded.StoreDir == "" {
			return errors.New("audit.index.client.embedded.store_dir is required when embedded is enabled")
		}
		if c.Audit.Index.Settings.Replicas > 0 {
			return errors.New("audit.index.settings.number_of_replicas must be 0 with the single-node embedded server")
		}
	}
	return nil
}

// validateLogfile requires a path when the logfile output is selected.
func (c *Config) validateLogfile() error {
	if c.Audit.HasOutput(OutputLogfile) && c.Logfile.Path == "" {
		return errors.New("logfile.path is required when audit.outputs includes logfile")
	}
	return nil
}
