// Copyright 2025 Wellspring Authors
//
// Thought Model & Constructor
// Per Wellspring Protocol Section 3 (Data Model) and Section 4.4
//
// A thought is the single primitive: a signed, content-addressed record.
// Construction order matters and is fixed by the protocol: the canonical
// bytes that are signed cover every field except the signature and the
// CID itself; the CID that is finally stamped onto the record covers
// those same fields *plus* the signature, so any later mutation of any
// byte - including the signature - yields a different CID.

package thought

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/wellspring-network/wellspring/pkg/canon"
	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/signer"
)

// GenesisSentinel marks a self-bootstrapping identity thought: one whose
// public key is declared inline rather than looked up from a prior
// identity thought.
const GenesisSentinel = "GENESIS"

// Well-known visibility values. The empty string and VisibilityPublic are
// interchangeable (absent means public).
const (
	VisibilityPublic          = "public"
	VisibilityLocalForever    = "local_forever"
	VisibilityParticipantsOnly = "participants_only"
	poolVisibilityPrefix      = "pool:"
)

// PoolVisibility builds the "pool:<cid>" visibility string for a pool CID.
func PoolVisibility(poolCID string) string {
	return poolVisibilityPrefix + poolCID
}

// PoolCIDFromVisibility extracts the pool CID from a "pool:<cid>" visibility
// string, returning ok=false if the thought is not pool-scoped.
func PoolCIDFromVisibility(v string) (string, bool) {
	if len(v) <= len(poolVisibilityPrefix) || v[:len(poolVisibilityPrefix)] != poolVisibilityPrefix {
		return "", false
	}
	return v[len(poolVisibilityPrefix):], true
}

// Thought is the uniform, immutable record described by the data model.
type Thought struct {
	CID        wscid.CID
	Type       string
	Content    canon.Value
	CreatedBy  string
	Because    []string
	CreatedAt  int64
	Visibility string
	Signature  []byte
	Source     string
}

// CidMismatchError reports that a claimed CID disagrees with the one
// recomputed from canonical bytes.
type CidMismatchError struct {
	Claimed, Computed wscid.CID
}

func (e *CidMismatchError) Error() string {
	return fmt.Sprintf("thought: cid mismatch: claimed %s, computed %s", e.Claimed, e.Computed)
}

// fieldsForSigning builds the canonical-encodable map of every field that
// participates in the signed message: everything except signature and cid.
func fieldsForSigning(typ string, content canon.Value, createdBy string, because []string, createdAt int64, visibility, source string) canon.Value {
	becauseVal := make([]canon.Value, len(because))
	for i, b := range because {
		becauseVal[i] = b
	}
	m := map[string]canon.Value{
		"type":       typ,
		"content":    content,
		"created_by": createdBy,
		"because":    becauseVal,
		"created_at": createdAt,
	}
	if visibility != "" {
		m["visibility"] = visibility
	}
	if source != "" {
		m["source"] = source
	}
	return m
}

// fieldsFinal adds the signature to the fields-for-signing map; this is the
// input whose canonical encoding produces the thought's published CID.
func fieldsFinal(base canon.Value, signature []byte) canon.Value {
	m, _ := base.(map[string]canon.Value)
	out := make(map[string]canon.Value, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["signature"] = hex.EncodeToString(signature)
	return out
}

// New constructs and signs a new thought. algo selects the CID hash
// function for the deployment (commit to one; see pkg/cid). createdBy is
// the creator identity's CID string, or GenesisSentinel for a
// self-bootstrapping identity thought.
func New(algo wscid.Algo, s *signer.Signer, typ string, content canon.Value, createdBy string, because []string, visibility, source string, createdAt int64) (*Thought, error) {
	signingFields := fieldsForSigning(typ, content, createdBy, because, createdAt, visibility, source)

	signingBytes, err := canon.Encode(signingFields)
	if err != nil {
		return nil, fmt.Errorf("thought: encode for signing: %w", err)
	}
	signingCID, err := wscid.Compute(algo, signingBytes)
	if err != nil {
		return nil, fmt.Errorf("thought: cid for signing: %w", err)
	}
	signature, err := s.Sign(signingCID)
	if err != nil {
		return nil, fmt.Errorf("thought: sign: %w", err)
	}

	finalFields := fieldsFinal(signingFields, signature)
	finalBytes, err := canon.Encode(finalFields)
	if err != nil {
		return nil, fmt.Errorf("thought: encode final: %w", err)
	}
	finalCID, err := wscid.Compute(algo, finalBytes)
	if err != nil {
		return nil, fmt.Errorf("thought: final cid: %w", err)
	}

	return &Thought{
		CID:        finalCID,
		Type:       typ,
		Content:    content,
		CreatedBy:  createdBy,
		Because:    append([]string(nil), because...),
		CreatedAt:  createdAt,
		Visibility: visibility,
		Signature:  signature,
		Source:     source,
	}, nil
}

// PublicKeyLookup resolves the Ed25519 public key declared by a creator
// identity, given its CID. Verify does not call it for a thought whose
// CreatedBy is GenesisSentinel: it reads the inline public key from the
// thought's own content instead.
type PublicKeyLookup func(creatorCID string) (ed25519.PublicKey, bool)

// InlinePubkeyField is the content key an identity thought uses to declare
// its own Ed25519 public key, hex-encoded, for GENESIS verification.
const InlinePubkeyField = "pubkey"

// Verify recomputes both CIDs of t (signing and final) and checks the
// signature and the claimed CID, using the algorithm t.CID claims.
func Verify(t *Thought, lookup PublicKeyLookup) error {
	algo := t.CID.Algo

	signingFields := fieldsForSigning(t.Type, t.Content, t.CreatedBy, t.Because, t.CreatedAt, t.Visibility, t.Source)
	signingBytes, err := canon.Encode(signingFields)
	if err != nil {
		return fmt.Errorf("thought: encode for signing: %w", err)
	}
	signingCID, err := wscid.Compute(algo, signingBytes)
	if err != nil {
		return fmt.Errorf("thought: cid for signing: %w", err)
	}

	var pub ed25519.PublicKey
	if t.CreatedBy == GenesisSentinel {
		pub, err = inlinePubkey(t)
		if err != nil {
			return &signer.VerifyError{Kind: signer.VerifyBadKey, Msg: err.Error()}
		}
	} else {
		var ok bool
		pub, ok = lookup(t.CreatedBy)
		if !ok {
			return &signer.VerifyError{Kind: signer.VerifyMissing, Msg: fmt.Sprintf("creator %s not known locally", t.CreatedBy)}
		}
	}

	if err := signer.Verify(signingCID, t.Signature, pub); err != nil {
		return err
	}

	finalFields := fieldsFinal(signingFields, t.Signature)
	finalBytes, err := canon.Encode(finalFields)
	if err != nil {
		return fmt.Errorf("thought: encode final: %w", err)
	}
	finalCID, err := wscid.Compute(algo, finalBytes)
	if err != nil {
		return fmt.Errorf("thought: final cid: %w", err)
	}
	if !wscid.Equal(finalCID, t.CID) {
		return &CidMismatchError{Claimed: t.CID, Computed: finalCID}
	}
	return nil
}

func inlinePubkey(t *Thought) (ed25519.PublicKey, error) {
	m, ok := t.Content.(map[string]canon.Value)
	if !ok {
		return nil, fmt.Errorf("GENESIS thought content must be a map carrying %q", InlinePubkeyField)
	}
	raw, ok := m[InlinePubkeyField]
	if !ok {
		return nil, fmt.Errorf("GENESIS thought content missing %q", InlinePubkeyField)
	}
	hexKey, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%q must be a hex string", InlinePubkeyField)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid %q hex: %w", InlinePubkeyField, err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%q must be %d bytes, got %d", InlinePubkeyField, ed25519.PublicKeySize, len(key))
	}
	return ed25519.PublicKey(key), nil
}

// IsShareable reports whether the thought's visibility allows it to ever
// leave the node that created it. local_forever thoughts are never
// shareable regardless of who is asking.
func (t *Thought) IsShareable() bool {
	return t.Visibility != VisibilityLocalForever
}

// CanonicalBytes returns the canonical encoding of every field including
// the signature - the same bytes whose hash produces t.CID - for wire
// transmission (the sync protocol's Want/Push payload carries exactly
// this alongside the signature and source, so a receiver can recompute
// and compare the CID without re-deriving it from separate fields).
func (t *Thought) CanonicalBytes() ([]byte, error) {
	signingFields := fieldsForSigning(t.Type, t.Content, t.CreatedBy, t.Because, t.CreatedAt, t.Visibility, t.Source)
	finalFields := fieldsFinal(signingFields, t.Signature)
	b, err := canon.Encode(finalFields)
	if err != nil {
		return nil, fmt.Errorf("thought: encode canonical bytes: %w", err)
	}
	return b, nil
}
