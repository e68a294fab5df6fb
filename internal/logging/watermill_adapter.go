// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillLogger implements watermill.LoggerAdapter on top of zerolog.
type WatermillLogger struct {
	logger zerolog.Logger
}

// NewWatermillLogger wraps the global logger, tagged with component=watermill.
func NewWatermillLogger() *WatermillLogger {
	return &WatermillLogger{logger: With().Str("component", "watermill").Logger()}
}

func (w *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	withFields(w.logger.Error().Err(err), fields).Msg(msg)
}

func (w *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	withFields(w.logger.Info(), fields).Msg(msg)
}

func (w *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	withFields(w.logger.Debug(), fields).Msg(msg)
}

func (w *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	withFields(w.logger.Trace(), fields).Msg(msg)
}

// With returns a child adapter carrying fields on every entry.
func (w *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

func withFields(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	if len(fields) == 0 {
		return ev
	}
	return ev.Fields(map[string]interface{}(fields))
}
