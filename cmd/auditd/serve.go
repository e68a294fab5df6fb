// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tomtom215/audittrail/internal/api"
	"github.com/tomtom215/audittrail/internal/config"
	"github.com/tomtom215/audittrail/internal/logging"
	"github.com/tomtom215/audittrail/internal/storage"
	"github.com/tomtom215/audittrail/internal/supervisor"
	"github.com/tomtom215/audittrail/internal/supervisor/services"
	"github.com/tomtom215/audittrail/internal/trail"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the audit pipeline and HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.Logging.LoggingConfig())
	logging.Info().Str("config", cfg.String()).Msg("Starting auditd")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []trail.Option
	if embeddedStore(cfg) {
		srv, err := startEmbeddedStore(cfg)
		if err != nil {
			return err
		}
		defer srv.Shutdown()
		opts = append(opts, trail.WithRemoteHosts(srv.ClientURL()))
		logging.Info().Str("url", srv.ClientURL()).Msg("Embedded NATS audit store started")
	}

	t, err := trail.New(cfg, opts...)
	if err != nil {
		return err
	}

	// Each layer must outlive the trail's own drain.
	drain := cfg.Audit.Index.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: drain + 5*time.Second,
	})
	tree.AddPipelineService(services.NewPipelineService(t, cfg.Audit.Index.SubmitTimeout, drain+2*time.Second))

	if cfg.HTTP.ListenAddress != "" {
		server := api.NewRouter(t, cfg.HTTP).Server()
		tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
		logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")
	}

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)
	<-ctx.Done()
	logging.Info().Msg("Shutdown requested, draining audit queue")

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Str("state", t.State().String()).Msg("auditd stopped")
	return nil
}

func embeddedStore(cfg *config.Config) bool {
	return cfg.Audit.Enabled &&
		cfg.Audit.HasOutput(config.OutputIndex) &&
		cfg.Audit.Index.Client.Embedded.Enabled
}

// startEmbeddedStore runs the in-process JetStream server. It accepts the
// same credentials the audit client connects with.
func startEmbeddedStore(cfg *config.Config) (*storage.EmbeddedServer, error) {
	user, password, err := cfg.Audit.Index.Client.Shield.Credentials()
	if err != nil {
		return nil, err
	}
	e := cfg.Audit.Index.Client.Embedded
	srv, err := storage.StartEmbedded(storage.EmbeddedConfig{
		Host:     e.Host,
		Port:     e.Port,
		StoreDir: e.StoreDir,
		Username: user,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("start embedded audit store: %w", err)
	}
	return srv, nil
}
