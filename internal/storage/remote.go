// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/logging"
)

// SubjectPrefix is prepended to a partition name to form its subject.
const SubjectPrefix = "audit"

const (
	metaShards   = "number_of_shards"
	metaReplicas = "number_of_replicas"
	metaEvent    = "event_type"
	metaKind     = "audit_kind"
)

// RemoteClient stores each partition as a JetStream stream on a separate
// cluster. Management and reads use a plain NATS connection; writes go
// through a watermill publisher with message-ID tracking so a resubmitted
// batch is deduplicated by the server.
//
// Identity is connection-level only: the configured audit user. No
// per-request identity header is ever attached.
type RemoteClient struct {
	nc        *natsgo.Conn
	js        jetstream.JetStream
	publisher message.Publisher
	settings  PartitionSettings
	prov      *provisioner
	closed    atomic.Bool
}

// OpenRemote connects to the remote cluster. It fails if t.ClusterName is set
// and the server reports a different cluster.
func OpenRemote(ctx context.Context, t RemoteTarget, opts Options) (*RemoteClient, error) {
	if len(t.Hosts) == 0 {
		return nil, errors.New("remote target has no hosts")
	}
	url := strings.Join(NormalizeHosts(t.Hosts), ",")

	natsOpts := []natsgo.Option{
		natsgo.Name("audittrail"),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("Remote audit store disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Remote audit store reconnected")
		}),
	}
	if t.Username != "" {
		natsOpts = append(natsOpts, natsgo.UserInfo(t.Username, t.Password))
	}
	if t.TLS.CAFile != "" {
		natsOpts = append(natsOpts, natsgo.RootCAs(t.TLS.CAFile))
	}
	if t.TLS.CertFile != "" {
		natsOpts = append(natsOpts, natsgo.ClientCert(t.TLS.CertFile, t.TLS.KeyFile))
	}

	nc, err := natsgo.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	if t.ClusterName != "" {
		if got := nc.ConnectedClusterName(); got != "" && got != t.ClusterName {
			nc.Close()
			return nil, fmt.Errorf("remote cluster is %q, expected %q", got, t.ClusterName)
		}
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logging.NewWatermillLogger())
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	c := &RemoteClient{nc: nc, js: js, publisher: pub, settings: opts.Settings}
	c.prov = newProvisioner(c.Backend(), c.ensureStream)

	logging.Info().Str("url", nc.ConnectedUrl()).Str("cluster", nc.ConnectedClusterName()).Msg("Remote audit store connected")
	return c, nil
}

// NormalizeHosts adds the nats:// scheme to bare host:port entries.
func NormalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.Contains(h, "://") {
			h = "nats://" + h
		}
		out = append(out, h)
	}
	return out
}

// Backend implements Store.
func (c *RemoteClient) Backend() string { return "jetstream" }

// Subject returns the subject documents for partition are published on.
func Subject(partition string) string {
	return SubjectPrefix + "." + partition
}

func (c *RemoteClient) streamConfig(name string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{Subject(name)},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Replicas:   c.settings.Replicas + 1,
		Duplicates: 10 * time.Minute,
		Discard:    jetstream.DiscardOld,
		Metadata: map[string]string{
			metaShards:   strconv.Itoa(c.settings.Shards),
			metaReplicas: strconv.Itoa(c.settings.Replicas),
		},
	}
}

// ensureStream creates the partition stream, or updates it if another
// process created it first.
func (c *RemoteClient) ensureStream(ctx context.Context, name string) error {
	cfg := c.streamConfig(name)

	_, err := c.js.Stream(ctx, name)
	if err == nil {
		if _, err := c.js.UpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("update stream %s: %w", name, err)
		}
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("check stream %s: %w", name, err)
	}

	if _, err := c.js.CreateStream(ctx, cfg); err != nil {
		if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// Submit implements Client.
func (c *RemoteClient) Submit(ctx context.Context, partition string, docs []audit.Document) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.prov.ensure(ctx, partition); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	msgs := make([]*message.Message, 0, len(docs))
	for i := range docs {
		d := &docs[i]
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", d.ID, err)
		}
		msg := message.NewMessage(d.ID, payload)
		msg.Metadata.Set(natsgo.MsgIdHdr, d.ID)
		msg.Metadata.Set(metaEvent, d.String(audit.FieldEventType))
		msg.Metadata.Set(metaKind, d.Kind.String())
		msg.SetContext(ctx)
		msgs = append(msgs, msg)
	}

	if err := c.publisher.Publish(Subject(partition), msgs...); err != nil {
		return fmt.Errorf("publish %d documents to %s: %w", len(msgs), partition, err)
	}
	return nil
}

func (c *RemoteClient) stream(ctx context.Context, partition string) (jetstream.Stream, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	s, err := c.js.Stream(ctx, partition)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", partition, err)
	}
	return s, nil
}

// Count implements Reader.
func (c *RemoteClient) Count(ctx context.Context, partition string) (int, error) {
	s, err := c.stream(ctx, partition)
	if err != nil {
		return 0, err
	}
	info, err := s.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("stream info %s: %w", partition, err)
	}
	return int(info.State.Msgs), nil
}

// Documents implements Reader, reading the stream in sequence order.
func (c *RemoteClient) Documents(ctx context.Context, partition string) ([]audit.Document, error) {
	s, err := c.stream(ctx, partition)
	if err != nil {
		return nil, err
	}
	info, err := s.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream info %s: %w", partition, err)
	}
	if info.State.Msgs == 0 {
		return nil, nil
	}

	out := make([]audit.Document, 0, info.State.Msgs)
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq; seq++ {
		raw, err := s.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s/%d: %w", partition, seq, err)
		}
		doc, err := decodeStored(raw.Header.Get(natsgo.MsgIdHdr), raw.Header.Get(metaKind), raw.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%d: %w", partition, seq, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

// Headers returns the NATS headers stored with the first message of a
// partition. Used to verify that writes carry no caller identity.
func (c *RemoteClient) Headers(ctx context.Context, partition string) (natsgo.Header, error) {
	s, err := c.stream(ctx, partition)
	if err != nil {
		return nil, err
	}
	info, err := s.Info(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := s.GetMsg(ctx, info.State.FirstSeq)
	if err != nil {
		return nil, err
	}
	return raw.Header, nil
}

// Settings implements Reader.
func (c *RemoteClient) Settings(ctx context.Context, partition string) (PartitionSettings, error) {
	s, err := c.stream(ctx, partition)
	if err != nil {
		return PartitionSettings{}, err
	}
	info, err := s.Info(ctx)
	if err != nil {
		return PartitionSettings{}, fmt.Errorf("stream info %s: %w", partition, err)
	}
	shards, _ := strconv.Atoi(info.Config.Metadata[metaShards])
	replicas, _ := strconv.Atoi(info.Config.Metadata[metaReplicas])
	return PartitionSettings{Shards: shards, Replicas: replicas}, nil
}

// Close implements Client.
func (c *RemoteClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.publisher.Close()
	c.nc.Close()
	return err
}
