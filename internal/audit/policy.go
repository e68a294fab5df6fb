// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package audit

import "fmt"

// MutePolicy decides which event kinds are dropped before any work is done.
// The zero value mutes nothing.
type MutePolicy struct {
	include kindSet
	exclude kindSet
}

type kindSet uint16

func (s kindSet) has(k Kind) bool { return s&(1<<k) != 0 }

func setOf(kinds []Kind) kindSet {
	var s kindSet
	for _, k := range kinds {
		if k < numKinds {
			s |= 1 << k
		}
	}
	return s
}

// NewMutePolicy builds a policy from include and exclude lists. Either may be
// empty. An exclude match wins over an include match.
func NewMutePolicy(include, exclude []Kind) MutePolicy {
	return MutePolicy{include: setOf(include), exclude: setOf(exclude)}
}

// ParseMutePolicy builds a policy from configured event names.
func ParseMutePolicy(include, exclude []string) (MutePolicy, error) {
	inc, err := ParseKinds(include)
	if err != nil {
		return MutePolicy{}, fmt.Errorf("events.include: %w", err)
	}
	exc, err := ParseKinds(exclude)
	if err != nil {
		return MutePolicy{}, fmt.Errorf("events.exclude: %w", err)
	}
	return NewMutePolicy(inc, exc), nil
}

// ParseKinds parses a list of event names.
func ParseKinds(names []string) ([]Kind, error) {
	out := make([]Kind, 0, len(names))
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// IsMuted reports whether events of kind k must be dropped.
func (p MutePolicy) IsMuted(k Kind) bool {
	if p.exclude != 0 && p.exclude.has(k) {
		return true
	}
	if p.include != 0 && !p.include.has(k) {
		return true
	}
	return false
}

// DefaultInclude is every kind except system_access_granted, which is
// high-volume internal traffic and only recorded on request.
func DefaultInclude() []string {
	out := make([]string, 0, numKinds-1)
	for _, k := range AllKinds() {
		if k != SystemAccessGranted {
			out = append(out, k.String())
		}
	}
	return out
}
