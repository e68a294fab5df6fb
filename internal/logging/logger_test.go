// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("partition", "audit_log-2026-01-02").Msg("flushed")

	out := buf.String()
	if !strings.Contains(out, `"message":"flushed"`) {
		t.Errorf("missing message: %s", out)
	}
	if !strings.Contains(out, `"partition":"audit_log-2026-01-02"`) {
		t.Errorf("missing field: %s", out)
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	l := NewSlogLogger().With("service", "pipeline").WithGroup("supervisor")
	l.Warn("service restarted", slog.Int("attempt", 2))

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"service":"pipeline"`, `"supervisor.attempt":2`, "service restarted"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}

func TestWatermillLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	wl := NewWatermillLogger().With(watermill.LogFields{"topic": "audit.x"})
	wl.Error("publish failed", errors.New("boom"), watermill.LogFields{"uuid": "abc"})

	out := buf.String()
	for _, want := range []string{`"component":"watermill"`, `"topic":"audit.x"`, `"uuid":"abc"`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}
