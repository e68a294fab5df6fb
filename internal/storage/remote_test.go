// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

//go:build integration

package storage

import (
	"context"
	"errors"
	"testing"

	natsgo "github.com/nats-io/nats.go"
)

const (
	testAuditUser     = "audit_indexer"
	testAuditPassword = "s3cret"
)

func startTestServer(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := StartEmbedded(EmbeddedConfig{
		Port: -1, StoreDir: t.TempDir(),
		Username: testAuditUser, Password: testAuditPassword,
	})
	if err != nil {
		t.Fatalf("StartEmbedded: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

// panickingAuthenticator fails the test if the remote path ever tries to
// attach an identity.
type panickingAuthenticator struct{ t *testing.T }

func (p panickingAuthenticator) AttachUserIfMissing(Headers, string) {
	p.t.Error("remote client attached a user identity")
}

func TestRemoteClientSubmitAndRead(t *testing.T) {
	srv := startTestServer(t)
	ctx := context.Background()

	store, err := Open(ctx, RemoteTarget{
		Hosts:    []string{srv.ClientURL()},
		Username: testAuditUser, Password: testAuditPassword,
	}, Options{Settings: PartitionSettings{Shards: 2, Replicas: 0}, Authenticator: panickingAuthenticator{t}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, err := store.Count(ctx, "audit_log-2026-03-14"); !errors.Is(err, ErrPartitionNotFound) {
		t.Fatalf("Count before write err = %v", err)
	}

	docs := testDocs(t, 4)
	if err := store.Submit(ctx, "audit_log-2026-03-14", docs); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := store.Submit(ctx, "audit_log-2026-03-14", docs); err != nil {
		t.Fatalf("resubmit: %v", err)
	}

	n, err := store.Count(ctx, "audit_log-2026-03-14")
	if err != nil || n != 4 {
		t.Fatalf("Count = %d, %v; want 4 (duplicates must be dropped)", n, err)
	}

	got, err := store.Documents(ctx, "audit_log-2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i].ID != docs[i].ID {
			t.Errorf("doc %d id = %q, want %q", i, got[i].ID, docs[i].ID)
		}
	}

	s, err := store.Settings(ctx, "audit_log-2026-03-14")
	if err != nil || s.Shards != 2 || s.Replicas != 0 {
		t.Errorf("Settings = %+v, %v", s, err)
	}

	hdr, err := store.(*RemoteClient).Headers(ctx, "audit_log-2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if v := hdr.Get(HeaderUser); v != "" {
		t.Errorf("remote write carried identity header %q", v)
	}
}

func TestRemoteClientRejectsWrongCredentials(t *testing.T) {
	srv := startTestServer(t)

	_, err := OpenRemote(context.Background(), RemoteTarget{
		Hosts:    []string{srv.ClientURL()},
		Username: testAuditUser, Password: "wrong",
	}, Options{})
	if err == nil {
		t.Fatal("expected authorization failure")
	}
	if !errors.Is(err, natsgo.ErrAuthorization) {
		t.Logf("connect error: %v", err)
	}
}
