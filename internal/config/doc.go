// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

/*
Package config loads and validates audittrail configuration.

# Configuration Sources

Values are layered with koanf, later layers overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: $CONFIG_PATH, ./config.yaml, ./config.yml or
    /etc/audittrail/config.yaml
 3. Environment variables listed in envMappings

List values (audit.outputs, audit.index.events.include, ...) may be given
in the environment as comma-separated strings.

# Example

	audit:
	  enabled: true
	  outputs: [index, logfile]
	  index:
	    rollover: HOURLY
	    bulk_size: 500
	    flush_interval: 2s
	    events:
	      exclude: [connection_granted]
	    client:
	      hosts: ["nats://audit-1:4222", "nats://audit-2:4222"]
	      cluster:
	        name: audit
	      shield:
	        user: audit_writer:changeme
	logfile:
	  path: /var/log/audittrail/audit.log

Setting any of audit.index.client.hosts or audit.index.client.embedded.enabled
switches the index output from the local DuckDB store to the remote
JetStream cluster.

Validate rejects invalid rollover values, malformed hosts, a shield user
without a password, half-configured TLS key pairs and unknown event names.
Configuration errors are fatal at startup.
*/
package config
