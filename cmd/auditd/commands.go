// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %s\n", cfg)
		return nil
	},
}

var resolveAt string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the partition an event at the given time is written to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		at := time.Now()
		if resolveAt != "" {
			at, err = time.Parse(time.RFC3339, resolveAt)
			if err != nil {
				return fmt.Errorf("--at must be RFC3339: %w", err)
			}
		}
		r, err := cfg.Audit.Index.Resolver()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), r.Resolve(at))
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveAt, "at", "", "timestamp in RFC3339 (default: now)")
	rootCmd.AddCommand(validateCmd, resolveCmd)
}
