// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

// Package main is the auditd command.
//
// auditd runs the security audit pipeline as a standalone daemon: events
// arrive over the HTTP API and are batched into time-partitioned storage,
// either a local DuckDB file or a remote NATS JetStream cluster.
//
// # Configuration
//
// Settings are layered with koanf (highest priority wins):
//   - Environment variables (AUDIT_*, AUDIT_LOGFILE_*, HTTP_*, LOG_*)
//   - Config file (--config, CONFIG_PATH, ./config.yaml, /etc/audittrail/config.yaml)
//   - Built-in defaults
//
// # Commands
//
//	auditd serve                 run the pipeline and HTTP API until SIGINT/SIGTERM
//	auditd validate-config       load and validate configuration, then exit
//	auditd resolve --at <time>   print the partition an event at <time> is written to
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tomtom215/audittrail/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "auditd",
	Short:         "Security event audit pipeline",
	Long:          `auditd records security audit events into time-partitioned storage.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: search CONFIG_PATH and standard locations)")
}

// loadConfig reads configuration from --config when given, otherwise from
// the standard search path.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}
