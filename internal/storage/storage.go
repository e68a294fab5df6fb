// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

// Package storage writes audit document batches to a partitioned backend.
//
// Exactly one backend is active per pipeline, chosen once at startup from
// configuration:
//
//   - LocalTarget writes to an embedded DuckDB database. Writes are stamped
//     with the dedicated audit identity via an Authenticator.
//   - RemoteTarget writes to a separate NATS JetStream cluster, one stream
//     per partition. The connection authenticates as the configured audit
//     user and no per-request identity is attached.
//
// Partitions are provisioned lazily on the first Submit that names them.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/audittrail/internal/audit"
)

var (
	// ErrPartitionNotFound means the partition was never provisioned. It is
	// distinct from a provisioned partition holding zero documents.
	ErrPartitionNotFound = errors.New("no such partition")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("storage client closed")
)

// PartitionSettings are applied when a partition is first created.
type PartitionSettings struct {
	Shards   int `koanf:"number_of_shards" json:"number_of_shards"`
	Replicas int `koanf:"number_of_replicas" json:"number_of_replicas"`
}

// Client is the write side used by the flush engine.
type Client interface {
	// Submit writes docs to partition, provisioning it first if needed.
	// Resubmitting documents already stored is a no-op for those documents.
	Submit(ctx context.Context, partition string, docs []audit.Document) error

	// Close releases the backend connection. Safe to call more than once.
	Close() error
}

// Reader looks up what was stored.
type Reader interface {
	Count(ctx context.Context, partition string) (int, error)
	Documents(ctx context.Context, partition string) ([]audit.Document, error)
	Settings(ctx context.Context, partition string) (PartitionSettings, error)
}

// Store is a Client that can also be read back.
type Store interface {
	Client
	Reader
	// Backend names the implementation for logs and metrics.
	Backend() string
}

// Target selects the backend. It is either LocalTarget or RemoteTarget.
type Target interface {
	target()
}

// LocalTarget stores documents in DuckDB on this host.
type LocalTarget struct {
	// Path is a DuckDB file, or ":memory:".
	Path string
}

// RemoteTarget stores documents on a separate NATS JetStream cluster.
type RemoteTarget struct {
	Hosts       []string
	ClusterName string
	Username    string
	Password    string
	TLS         TLSFiles
}

// TLSFiles locates PEM material for the remote connection.
type TLSFiles struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

func (LocalTarget) target()  {}
func (RemoteTarget) target() {}

// Options configures Open.
type Options struct {
	Settings PartitionSettings

	// Authenticator stamps the audit identity onto local writes. Defaults
	// to SystemAuthenticator. Never used by the remote backend.
	Authenticator Authenticator
}

// Open connects to target.
func Open(ctx context.Context, target Target, opts Options) (Store, error) {
	if opts.Authenticator == nil {
		opts.Authenticator = SystemAuthenticator{}
	}
	switch t := target.(type) {
	case LocalTarget:
		return OpenLocal(ctx, t, opts)
	case RemoteTarget:
		return OpenRemote(ctx, t, opts)
	case nil:
		return nil, errors.New("storage: no target")
	default:
		return nil, fmt.Errorf("storage: unsupported target %T", target)
	}
}

// decodeStored restores a document read back from a backend. kind is the
// name stored beside the body; event_type alone cannot tell system access
// from ordinary access.
func decodeStored(id, kind string, raw []byte) (audit.Document, error) {
	doc, err := audit.DecodeDocument(id, raw)
	if err != nil {
		return audit.Document{}, err
	}
	if k, err := audit.ParseKind(kind); err == nil {
		doc.Kind = k
	}
	return doc, nil
}
