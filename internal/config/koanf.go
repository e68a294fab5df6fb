// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/index"
	"github.com/tomtom215/audittrail/internal/storage"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/audittrail/config.yaml",
}

// ConfigPathEnvVar names a config file explicitly.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values set.
func defaultConfig() *Config {
	return &Config{
		Audit: AuditConfig{
			Enabled: true,
			Outputs: []string{OutputIndex},
			Node: NodeConfig{
				Name:        hostname(),
				HostName:    hostname(),
				HostAddress: "127.0.0.1",
			},
			Index: IndexConfig{
				Prefix:          index.DefaultPrefix,
				BulkSize:        1000,
				FlushInterval:   time.Second,
				Rollover:        index.Daily.String(),
				QueueMaxSize:    10000,
				ShutdownTimeout: 10 * time.Second,
				SubmitTimeout:   30 * time.Second,
				Settings: storage.PartitionSettings{
					Shards:   1,
					Replicas: 0,
				},
				Events: EventsConfig{
					Include: audit.DefaultInclude(),
				},
				Breaker: BreakerConfig{
					FailureThreshold: 5,
					Timeout:          30 * time.Second,
				},
				Local: LocalConfig{
					Path: ":memory:",
				},
				Client: ClientConfig{
					Embedded: EmbeddedConfig{
						Host: "127.0.0.1",
						Port: -1,
					},
				},
			},
		},
		Logfile: LogfileConfig{
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
		HTTP: HTTPConfig{
			ListenAddress:     ":9380",
			RateLimitPerMin:   600,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

// Load reads configuration from defaults, an optional YAML file, and the
// environment, in increasing priority, and validates the result.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first config file found, or "" if none.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they arrive as
// strings from the environment.
var sliceConfigPaths = []string{
	"audit.outputs",
	"audit.index.events.include",
	"audit.index.events.exclude",
	"audit.index.client.hosts",
	"http.cors_origins",
}

// processSliceFields converts comma-separated string values to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		trimmed := []string{}
		for _, p := range strings.Split(strVal, ",") {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		// An empty variable clears the list, e.g. AUDIT_INDEX_EVENTS_INCLUDE=""
		// records every kind.
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unmapped variables are ignored so unrelated environment does not leak in.
var envMappings = map[string]string{
	"audit_enabled":                     "audit.enabled",
	"audit_outputs":                     "audit.outputs",
	"audit_node_name":                   "audit.node.name",
	"audit_node_host_name":              "audit.node.host_name",
	"audit_node_host_address":           "audit.node.host_address",
	"audit_index_prefix":                "audit.index.prefix",
	"audit_index_bulk_size":             "audit.index.bulk_size",
	"audit_index_flush_interval":        "audit.index.flush_interval",
	"audit_index_rollover":              "audit.index.rollover",
	"audit_index_queue_max_size":        "audit.index.queue_max_size",
	"audit_index_shutdown_timeout":      "audit.index.shutdown_timeout",
	"audit_index_submit_timeout":        "audit.index.submit_timeout",
	"audit_index_spool_path":            "audit.index.spool_path",
	"audit_index_number_of_shards":      "audit.index.settings.number_of_shards",
	"audit_index_number_of_replicas":    "audit.index.settings.number_of_replicas",
	"audit_index_events_include":        "audit.index.events.include",
	"audit_index_events_exclude":        "audit.index.events.exclude",
	"audit_index_breaker_failures":      "audit.index.breaker.failure_threshold",
	"audit_index_breaker_timeout":       "audit.index.breaker.timeout",
	"audit_index_local_path":            "audit.index.local.path",
	"audit_index_client_hosts":          "audit.index.client.hosts",
	"audit_index_client_cluster_name":   "audit.index.client.cluster.name",
	"audit_index_client_shield_user":    "audit.index.client.shield.user",
	"audit_index_client_tls_ca_file":    "audit.index.client.tls.ca_file",
	"audit_index_client_tls_cert_file":  "audit.index.client.tls.cert_file",
	"audit_index_client_tls_key_file":   "audit.index.client.tls.key_file",
	"audit_index_client_embedded":       "audit.index.client.embedded.enabled",
	"audit_index_client_embedded_port":  "audit.index.client.embedded.port",
	"audit_index_client_embedded_store": "audit.index.client.embedded.store_dir",

	"audit_logfile_path":         "logfile.path",
	"audit_logfile_max_size_mb":  "logfile.max_size_mb",
	"audit_logfile_max_backups":  "logfile.max_backups",
	"audit_logfile_max_age_days": "logfile.max_age_days",
	"audit_logfile_compress":     "logfile.compress",

	"http_listen_address":        "http.listen_address",
	"http_jwt_secret":            "http.jwt_secret",
	"http_rate_limit_per_minute": "http.rate_limit_per_minute",
	"http_cors_origins":          "http.cors_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf paths.
//
// Examples:
//   - AUDIT_INDEX_BULK_SIZE -> audit.index.bulk_size
//   - AUDIT_INDEX_CLIENT_SHIELD_USER -> audit.index.client.shield.user
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Default returns the built-in configuration without reading any file or
// environment.
func Default() *Config {
	return defaultConfig()
}
