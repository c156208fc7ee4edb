// Copyright 2025 Wellspring Authors
//
// Identity Lifecycle - creation, secret handling, rotation, revocation
// Per Wellspring Protocol Section 4.10: Identity Lifecycle

package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/signer"
	"github.com/wellspring-network/wellspring/pkg/thought"
)

// The Type* constants name the derived-entity types the lifecycle
// operations mint, per Section 3's "Derived entities"; aspectCompromise
// and relationMemberOf are content values Revoke writes.
const (
	TypeIdentity     = "identity"
	TypeSecret       = "secret"
	TypeRotation     = "rotation"
	TypeAttestation  = "attestation"
	TypeAspect       = "aspect"
	aspectCompromise = "compromise_window"
	relationMemberOf = "member_of"
)

// Bundle is the pair of thoughts and the live Signer produced by Create:
// the public identity thought (shareable) and the secret thought
// (local_forever, never transmitted).
type Bundle struct {
	Identity *thought.Thought
	Secret   *thought.Thought
	Signer   *signer.Signer
}

// Create generates a fresh Ed25519 keypair and the GENESIS identity
// thought declaring it, plus the paired local_forever secret thought
// wrapping the private key.
func Create(algo wscid.Algo, name string, createdAt int64) (*Bundle, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	s, err := signer.New(priv)
	if err != nil {
		return nil, fmt.Errorf("identity: build signer: %w", err)
	}

	idContent := map[string]interface{}{
		"name":   name,
		"pubkey": hex.EncodeToString(pub),
	}
	idThought, err := thought.New(algo, s, TypeIdentity, idContent, thought.GenesisSentinel, nil, thought.VisibilityPublic, "", createdAt)
	if err != nil {
		return nil, fmt.Errorf("identity: build identity thought: %w", err)
	}

	secretContent := map[string]interface{}{
		"private_key": hex.EncodeToString(priv),
	}
	secretThought, err := thought.New(algo, s, TypeSecret, secretContent, idThought.CID.String(), []string{idThought.CID.String()}, thought.VisibilityLocalForever, "", createdAt)
	if err != nil {
		return nil, fmt.Errorf("identity: build secret thought: %w", err)
	}

	return &Bundle{Identity: idThought, Secret: secretThought, Signer: s}, nil
}

// RotationResult bundles the two thoughts a rotation produces: the
// rotation declaration (signed by the old key) and the new key's
// possession attestation (signed by the new key).
type RotationResult struct {
	Rotation        *thought.Thought
	NewKeySigner    *signer.Signer
	NewIdentity     *thought.Thought
	Attestation     *thought.Thought
}

// Rotate generates a new keypair for an identity and produces the
// rotation declaration (signed under oldSigner, proving the old key
// consents) plus a new identity thought and a possession attestation
// (signed under the new key, proving it holds the new private key).
func Rotate(algo wscid.Algo, oldSigner *signer.Signer, oldIdentityCID, name string, createdAt int64) (*RotationResult, error) {
	newPub, newPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("identity: generate rotation keypair: %w", err)
	}
	newSigner, err := signer.New(newPriv)
	if err != nil {
		return nil, fmt.Errorf("identity: build rotation signer: %w", err)
	}

	newIdContent := map[string]interface{}{
		"name":   name,
		"pubkey": hex.EncodeToString(newPub),
	}
	newIdentity, err := thought.New(algo, newSigner, TypeIdentity, newIdContent, thought.GenesisSentinel, []string{oldIdentityCID}, thought.VisibilityPublic, "", createdAt)
	if err != nil {
		return nil, fmt.Errorf("identity: build new identity thought: %w", err)
	}

	rotationContent := map[string]interface{}{
		"from_identity":  oldIdentityCID,
		"to_identity":    newIdentity.CID.String(),
		"old_key_status": "deprecated",
	}
	rotation, err := thought.New(algo, oldSigner, TypeRotation, rotationContent, oldIdentityCID, []string{oldIdentityCID, newIdentity.CID.String()}, thought.VisibilityPublic, "", createdAt)
	if err != nil {
		return nil, fmt.Errorf("identity: build rotation thought: %w", err)
	}

	attestContent := map[string]interface{}{
		"on":     rotation.CID.String(),
		"weight": 1.0,
	}
	attestation, err := thought.New(algo, newSigner, TypeAttestation, attestContent, newIdentity.CID.String(), []string{rotation.CID.String()}, thought.VisibilityPublic, "", createdAt)
	if err != nil {
		return nil, fmt.Errorf("identity: build rotation attestation: %w", err)
	}

	return &RotationResult{
		Rotation:     rotation,
		NewKeySigner: newSigner,
		NewIdentity:  newIdentity,
		Attestation:  attestation,
	}, nil
}

// Deprecate produces an optional trailing self-attestation that downweights
// the rotated-away-from identity to 0, per the lifecycle's "later chains
// may optionally include" clause.
func Deprecate(algo wscid.Algo, newSigner *signer.Signer, newIdentityCID, oldIdentityCID string, createdAt int64) (*thought.Thought, error) {
	content := map[string]interface{}{
		"on":     oldIdentityCID,
		"weight": 0.0,
		"aspect": "trust",
	}
	return thought.New(algo, newSigner, TypeAttestation, content, newIdentityCID, []string{oldIdentityCID}, thought.VisibilityPublic, "", createdAt)
}

// RevocationResult bundles the two thoughts a compromise revocation
// produces. Revoke does not mint per-thought attestations for the
// compromised identity's individual thoughts.
type RevocationResult struct {
	MembershipRevocation *thought.Thought
	CompromiseWindow     *thought.Thought
}

// Revoke issues, on behalf of a pool admin, the membership-weight-(-1)
// attestation and the compromise_window aspect thought that together mark
// a compromised identity's activity within [windowStart, windowEnd] as
// untrustworthy without erasing history.
func Revoke(algo wscid.Algo, adminSigner *signer.Signer, adminIdentityCID, memberOfConnectionCID, compromisedIdentityCID, reason string, windowStart, windowEnd, createdAt int64) (*RevocationResult, error) {
	revContent := map[string]interface{}{
		"relation": relationMemberOf,
		"on":       memberOfConnectionCID,
		"weight":   -1.0,
	}
	revocation, err := thought.New(algo, adminSigner, TypeAttestation, revContent, adminIdentityCID, []string{memberOfConnectionCID}, thought.VisibilityPublic, "", createdAt)
	if err != nil {
		return nil, fmt.Errorf("identity: build membership revocation: %w", err)
	}

	windowContent := map[string]interface{}{
		"subject":      aspectCompromise,
		"applies_to":   compromisedIdentityCID,
		"window_start": windowStart,
		"window_end":   windowEnd,
		"reason":       reason,
	}
	window, err := thought.New(algo, adminSigner, TypeAspect, windowContent, adminIdentityCID, []string{compromisedIdentityCID, revocation.CID.String()}, thought.VisibilityPublic, "", createdAt)
	if err != nil {
		return nil, fmt.Errorf("identity: build compromise window: %w", err)
	}

	return &RevocationResult{MembershipRevocation: revocation, CompromiseWindow: window}, nil
}

// WithinCompromiseWindow reports whether createdAt falls inside the
// window declared by a compromise_window aspect thought's content, i.e.
// whether a historical thought's computed trust should reflect the
// compromise.
func WithinCompromiseWindow(windowContent map[string]interface{}, createdAt int64) bool {
	start, sok := asInt64(windowContent["window_start"])
	end, eok := asInt64(windowContent["window_end"])
	if !sok || !eok {
		return false
	}
	return createdAt >= start && createdAt <= end
}

func asInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}
