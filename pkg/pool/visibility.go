// Copyright 2025 Wellspring Authors
//
// Visibility predicate - decides, at the sending peer, whether a given
// thought may cross the wire to a given candidate peer.
// Per Wellspring Protocol Section 4.7, table in "Visibility predicate".

package pool

import (
	"github.com/wellspring-network/wellspring/pkg/thought"
)

// WithheldReason explains why CanShare returned false, for sync's filter
// counters (local_forever / pool / participants / unknown).
type WithheldReason string

const (
	WithheldNone         WithheldReason = ""
	WithheldLocalForever WithheldReason = "local_forever"
	WithheldPool         WithheldReason = "pool"
	WithheldParticipants WithheldReason = "participants"
	WithheldUnknownVis   WithheldReason = "unknown_visibility"
)

// CanShare decides whether thought t may be sent to peerIdentityCID
// (optionally also matched against peerDisplayName for
// participants_only thoughts, since content may list participants by
// name rather than identity CID).
func (e *Engine) CanShare(t *thought.Thought, peerIdentityCID, peerDisplayName string) (bool, WithheldReason) {
	switch {
	case t.Visibility == "" || t.Visibility == thought.VisibilityPublic:
		return true, WithheldNone

	case t.Visibility == thought.VisibilityLocalForever:
		return false, WithheldLocalForever

	case t.Visibility == thought.VisibilityParticipantsOnly:
		if participantsInclude(t, peerIdentityCID, peerDisplayName) {
			return true, WithheldNone
		}
		return false, WithheldParticipants

	default:
		if poolCID, ok := thought.PoolCIDFromVisibility(t.Visibility); ok {
			if e.IsMember(poolCID, peerIdentityCID) || e.hasPeerShare(peerIdentityCID, poolCID) {
				return true, WithheldNone
			}
			return false, WithheldPool
		}
		// Anything else is an unrecognized visibility value: safe default
		// is to withhold.
		return false, WithheldUnknownVis
	}
}

func participantsInclude(t *thought.Thought, identityCID, displayName string) bool {
	m, ok := t.Content.(map[string]interface{})
	if !ok {
		return false
	}
	raw, ok := m["participants"]
	if !ok {
		return false
	}
	list, ok := raw.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s == identityCID || (displayName != "" && s == displayName) {
			return true
		}
	}
	return false
}

// EnforceRules applies a pool's ingest-time rules (4.7 "Pool rules") to an
// incoming thought. It never hard-rejects a signature-valid thought;
// violations are reported so the caller can tag reduced appetite weight
// instead.
type RuleViolation string

const (
	ViolationNone           RuleViolation = ""
	ViolationSchema         RuleViolation = "schema_not_accepted"
	ViolationRequireBecause RuleViolation = "because_required"
	ViolationMaxPayload     RuleViolation = "max_payload_exceeded"
)

// EnforceRules checks t against p's rules, returning the first violation
// found (or ViolationNone). payloadSize is the size in bytes of the
// thought's canonical encoding, as computed by the caller.
func EnforceRules(p *Pool, t *thought.Thought, payloadSize int) RuleViolation {
	r := p.Rules
	if len(r.AcceptedSchemas) > 0 && !contains(r.AcceptedSchemas, t.Type) {
		return ViolationSchema
	}
	if r.RequireBecause && len(t.Because) == 0 {
		return ViolationRequireBecause
	}
	if r.MaxPayloadBytes > 0 && payloadSize > r.MaxPayloadBytes {
		return ViolationMaxPayload
	}
	return ViolationNone
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
