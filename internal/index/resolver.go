// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

// Package index maps event timestamps to time-bucketed partition names.
//
// A partition name is prefix + "-" + the start of the rollover bucket the
// timestamp falls into, always computed in UTC:
//
//	HOURLY   audit_log-2026-03-14T09
//	DAILY    audit_log-2026-03-14
//	WEEKLY   audit_log-2026-03-09   (Monday of the ISO week)
//	MONTHLY  audit_log-2026-03-01
package index

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPrefix is the partition prefix used when none is configured.
const DefaultPrefix = "audit_log"

// Rollover is the time granularity at which a new partition begins.
type Rollover uint8

const (
	Hourly Rollover = iota
	Daily
	Weekly
	Monthly
)

// ErrInvalidRollover is returned by ParseRollover for unknown values.
var ErrInvalidRollover = errors.New("invalid rollover")

var rolloverNames = [...]string{
	Hourly:  "HOURLY",
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
}

func (r Rollover) String() string {
	if int(r) < len(rolloverNames) {
		return rolloverNames[r]
	}
	return fmt.Sprintf("Rollover(%d)", uint8(r))
}

// ParseRollover accepts the configuration spelling, case-insensitively.
func ParseRollover(s string) (Rollover, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range rolloverNames {
		if name == want {
			return Rollover(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (want HOURLY, DAILY, WEEKLY or MONTHLY)", ErrInvalidRollover, s)
}

// MarshalText lets Rollover round-trip through koanf and JSON.
func (r Rollover) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rollover) UnmarshalText(b []byte) error {
	v, err := ParseRollover(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// BucketStart truncates t to the start of its rollover bucket in UTC.
func BucketStart(t time.Time, r Rollover) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	switch r {
	case Hourly:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, time.UTC)
	case Weekly:
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		// ISO weeks start on Monday; Sunday is day 7.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}

// Resolve returns the partition name for t. It never fails; the zero time
// and epoch 0 resolve like any other instant.
func Resolve(prefix string, t time.Time, r Rollover) string {
	start := BucketStart(t, r)
	layout := "2006-01-02"
	if r == Hourly {
		layout = "2006-01-02T15"
	}
	return prefix + "-" + start.Format(layout)
}

// Resolver binds a prefix and rollover so callers resolve with one argument.
type Resolver struct {
	Prefix   string
	Rollover Rollover
}

// NewResolver returns a Resolver; an empty prefix means DefaultPrefix.
func NewResolver(prefix string, r Rollover) Resolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Resolver{Prefix: prefix, Rollover: r}
}

// Resolve returns the partition name for t.
func (r Resolver) Resolve(t time.Time) string {
	return Resolve(r.Prefix, t, r.Rollover)
}
