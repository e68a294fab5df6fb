// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package trail

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tomtom215/audittrail/internal/audit"
	"github.com/tomtom215/audittrail/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logfileOutput writes one JSON line per document. Unlike the index output
// it is not subject to the mute policy.
type logfileOutput struct {
	mu     sync.Mutex
	log    zerolog.Logger
	closer io.Closer
}

// newLogfileOutput writes to w when set, otherwise to a rotating file.
func newLogfileOutput(cfg config.LogfileConfig, w io.Writer) *logfileOutput {
	out := &logfileOutput{}
	if w == nil {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = rotator
		out.closer = rotator
	}
	// Documents carry their own @timestamp.
	out.log = zerolog.New(w).Level(zerolog.InfoLevel)
	return out
}

func (o *logfileOutput) write(doc *audit.Document) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log.Log().
		Str("id", doc.ID).
		Fields(map[string]interface{}(doc.Fields)).
		Send()
}

// Close closes the rotating file, if one was opened.
func (o *logfileOutput) Close() error {
	if o.closer == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closer.Close()
}
