// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

// Package bulk batches audit documents and flushes them to storage from a
// single background goroutine.
//
// Producers call Engine.Submit from the request path. Submit never blocks
// on I/O: it appends to a bounded queue and, when the queue reaches
// BulkSize, nudges the flush loop. The loop also flushes on every
// FlushInterval tick.
//
// A flush takes the whole queue, resolves each document's partition from its
// own timestamp, groups documents by partition in first-seen order and
// submits each group in chunks of BulkSize. A failed chunk and everything
// after it are kept as pending and retried, unchanged, on the next flush.
//
// # Overflow
//
// Queue and pending documents share one capacity (QueueMaxSize). When it is
// full the oldest document is discarded and counted; Submit still succeeds.
//
// # States
//
//	New -> Started -> Draining -> Stopped
//
// Documents submitted in New are kept and flushed once started. Stop drains
// until the queue is empty or its context expires; anything left is handed
// back through TakeUndelivered.
package bulk
