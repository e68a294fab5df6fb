// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures an in-process JetStream server that acts as
// the remote audit cluster for single-host deployments and tests.
type EmbeddedConfig struct {
	Host     string
	Port     int // -1 picks a random port
	StoreDir string
	Username string
	Password string
}

// EmbeddedServer is a running in-process NATS server with JetStream.
type EmbeddedServer struct {
	ns *server.Server
}

// StartEmbedded starts the server and waits until it accepts connections.
func StartEmbedded(cfg EmbeddedConfig) (*EmbeddedServer, error) {
	if cfg.StoreDir == "" {
		return nil, errors.New("embedded server requires a store dir")
	}
	opts := &server.Options{
		ServerName: "audittrail-store",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoLog:      true,
		NoSigs:     true,
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if cfg.Username != "" {
		opts.Users = []*server.User{{Username: cfg.Username, Password: cfg.Password}}
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded nats not ready within 30s")
	}
	return &EmbeddedServer{ns: ns}, nil
}

// ClientURL is the nats:// URL clients connect to.
func (s *EmbeddedServer) ClientURL() string { return s.ns.ClientURL() }

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
