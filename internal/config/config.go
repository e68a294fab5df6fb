// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/bulk"
	"github.com/tomtom215/audittrail/internal/index"
	"github.com/tomtom215/audittrail/internal/logging"
	"github.com/tomtom215/audittrail/internal/storage"
)

// Output names accepted in audit.outputs.
const (
	OutputIndex   = "index"
	OutputLogfile = "logfile"
)

// Config holds all application configuration.
type Config struct {
	Audit   AuditConfig   `koanf:"audit"`
	Logfile LogfileConfig `koanf:"logfile"`
	HTTP    HTTPConfig    `koanf:"http"`
	Logging LoggingConfig `koanf:"logging"`
}

// AuditConfig is the audit trail itself.
type AuditConfig struct {
	Enabled bool        `koanf:"enabled"`
	Outputs []string    `koanf:"outputs" validate:"dive,oneof=index logfile"`
	Node    NodeConfig  `koanf:"node"`
	Index   IndexConfig `koanf:"index"`
}

// NodeConfig identifies this node in every document.
type NodeConfig struct {
	Name        string `koanf:"name"`
	HostName    string `koanf:"host_name"`
	HostAddress string `koanf:"host_address"`
}

// IndexConfig configures the index output.
type IndexConfig struct {
	Prefix          string        `koanf:"prefix" validate:"required"`
	BulkSize        int           `koanf:"bulk_size" validate:"min=1"`
	FlushInterval   time.Duration `koanf:"flush_interval" validate:"gt=0"`
	Rollover        string        `koanf:"rollover" validate:"rollover"`
	QueueMaxSize    int           `koanf:"queue_max_size" validate:"min=1"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	SubmitTimeout   time.Duration `koanf:"submit_timeout" validate:"gt=0"`

	// SpoolPath enables the on-disk spool for documents that could not be
	// delivered before shutdown.
	SpoolPath string `koanf:"spool_path"`

	Settings storage.PartitionSettings `koanf:"settings"`
	Events   EventsConfig              `koanf:"events"`
	Breaker  BreakerConfig             `koanf:"breaker"`
	Local    LocalConfig               `koanf:"local"`
	Client   ClientConfig              `koanf:"client"`
}

// EventsConfig lists event kind names to record or mute.
type EventsConfig struct {
	Include []string `koanf:"include" validate:"dive,audit_kind"`
	Exclude []string `koanf:"exclude" validate:"dive,audit_kind"`
}

// BreakerConfig tunes the circuit breaker around storage writes.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LocalConfig is the DuckDB backend used when no remote client is set.
type LocalConfig struct {
	Path string `koanf:"path"`
}

// ClientConfig points the index output at a separate cluster.
type ClientConfig struct {
	Hosts   []string      `koanf:"hosts" validate:"dive,hostport"`
	Cluster ClusterConfig `koanf:"cluster"`
	Shield  ShieldConfig  `koanf:"shield"`
	TLS     TLSConfig     `koanf:"tls"`

	// Embedded starts an in-process JetStream server and uses it as the
	// remote cluster.
	Embedded EmbeddedConfig `koanf:"embedded"`
}

// ClusterConfig names the expected remote cluster.
type ClusterConfig struct {
	Name string `koanf:"name"`
}

// ShieldConfig holds the audit indexing identity as "user:password".
type ShieldConfig struct {
	User string `koanf:"user"`
}

// TLSConfig locates PEM files for the remote connection.
type TLSConfig struct {
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

// EmbeddedConfig configures the in-process JetStream server.
type EmbeddedConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	StoreDir string `koanf:"store_dir"`
}

// LogfileConfig configures the rotating JSON-lines audit log.
type LogfileConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"min=0"`
	MaxBackups int    `koanf:"max_backups" validate:"min=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"min=0"`
	Compress   bool   `koanf:"compress"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	ListenAddress     string        `koanf:"listen_address"`
	JWTSecret         string        `koanf:"jwt_secret"`
	RateLimitPerMin   int           `koanf:"rate_limit_per_minute" validate:"min=0"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// HasOutput reports whether name is listed in audit.outputs.
func (c *AuditConfig) HasOutput(name string) bool {
	for _, o := range c.Outputs {
		if strings.EqualFold(o, name) {
			return true
		}
	}
	return false
}

// Remote reports whether the index output targets a separate cluster.
func (c *ClientConfig) Remote() bool {
	return len(c.Hosts) > 0 || c.Embedded.Enabled
}

// Credentials splits shield.user into user and password.
func (c *ShieldConfig) Credentials() (user, password string, err error) {
	if c.User == "" {
		return "", "", nil
	}
	user, password, ok := strings.Cut(c.User, ":")
	if !ok || user == "" || password == "" {
		return "", "", errors.New("index.client.shield.user must have the form user:password")
	}
	return user, password, nil
}

// RolloverValue parses Rollover. Validate has already rejected bad input.
func (c *IndexConfig) RolloverValue() (index.Rollover, error) {
	return index.ParseRollover(c.Rollover)
}

// Resolver returns the partition name resolver for this configuration.
func (c *IndexConfig) Resolver() (index.Resolver, error) {
	r, err := c.RolloverValue()
	if err != nil {
		return index.Resolver{}, err
	}
	return index.NewResolver(c.Prefix, r), nil
}

// BulkConfig returns the flush engine configuration.
func (c *IndexConfig) BulkConfig() (bulk.Config, error) {
	resolver, err := c.Resolver()
	if err != nil {
		return bulk.Config{}, err
	}
	return bulk.Config{
		BulkSize:      c.BulkSize,
		FlushInterval: c.FlushInterval,
		QueueMaxSize:  c.QueueMaxSize,
		SubmitTimeout: c.SubmitTimeout,
		Resolver:      resolver,
		Breaker: bulk.BreakerConfig{
			FailureThreshold: c.Breaker.FailureThreshold,
			Timeout:          c.Breaker.Timeout,
		},
	}, nil
}

// MutePolicy builds the event filter from the include and exclude lists.
func (c *IndexConfig) MutePolicy() (audit.MutePolicy, error) {
	return audit.ParseMutePolicy(c.Events.Include, c.Events.Exclude)
}

// Target selects the storage backend. hosts overrides the configured host
// list; cmd/auditd passes the embedded server's URL through it.
func (c *IndexConfig) Target(hosts ...string) (storage.Target, error) {
	if !c.Client.Remote() && len(hosts) == 0 {
		return storage.LocalTarget{Path: c.Local.Path}, nil
	}
	user, password, err := c.Client.Shield.Credentials()
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		hosts = c.Client.Hosts
	}
	return storage.RemoteTarget{
		Hosts:       hosts,
		ClusterName: c.Client.Cluster.Name,
		Username:    user,
		Password:    password,
		TLS: storage.TLSFiles{
			CAFile:   c.Client.TLS.CAFile,
			CertFile: c.Client.TLS.CertFile,
			KeyFile:  c.Client.TLS.KeyFile,
		},
	}, nil
}

// LoggingConfig returns the logging package configuration.
func (c *LoggingConfig) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = c.Format
	cfg.Caller = c.Caller
	return cfg
}

// String renders a summary safe for logs; credentials are redacted.
func (c *Config) String() string {
	target := "local:" + c.Audit.Index.Local.Path
	if c.Audit.Index.Client.Remote() {
		target = fmt.Sprintf("remote:%v", c.Audit.Index.Client.Hosts)
		if c.Audit.Index.Client.Embedded.Enabled {
			target = "remote:embedded"
		}
	}
	return fmt.Sprintf("enabled=%t outputs=%v target=%s rollover=%s bulk_size=%d",
		c.Audit.Enabled, c.Audit.Outputs, target, c.Audit.Index.Rollover, c.Audit.Index.BulkSize)
}
