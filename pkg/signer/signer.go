// Copyright 2025 Wellspring Authors
//
// Signer/Verifier - Ed25519 signatures over thought CIDs
// Per Wellspring Protocol Section 4.3: Signer/Verifier
//
// The signed message is always the CID bytes of a thought, not its
// content bytes: the CID binds the content, and the signature binds the
// CID to the creator's identity.

package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
)

// VerifyErrorKind enumerates the ways verification can fail.
type VerifyErrorKind string

const (
	VerifyMissing VerifyErrorKind = "missing"  // creator identity not locally known
	VerifyBadKey  VerifyErrorKind = "bad_key"  // declared public key malformed
	VerifyBadSig  VerifyErrorKind = "bad_sig"  // signature does not verify
)

// VerifyError reports why a signature failed to verify.
type VerifyError struct {
	Kind VerifyErrorKind
	Msg  string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("signer: verify failed (%s): %s", e.Kind, e.Msg)
}

// Signer signs thought CIDs on behalf of one identity.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// New constructs a Signer from a raw Ed25519 private key.
func New(privateKey ed25519.PrivateKey) (*Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer: invalid private key size: expected %d, got %d", ed25519.PrivateKeySize, len(privateKey))
	}
	return &Signer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
	}, nil
}

// NewFromHex constructs a Signer from a hex-encoded private key.
func NewFromHex(hexKey string) (*Signer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key hex: %w", err)
	}
	return New(raw)
}

// PublicKey returns the signer's Ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// Sign produces a detached signature over the given CID's bytes.
func (s *Signer) Sign(c wscid.CID) ([]byte, error) {
	msg, err := c.Bytes()
	if err != nil {
		return nil, fmt.Errorf("signer: cid bytes: %w", err)
	}
	return ed25519.Sign(s.privateKey, msg), nil
}

// Verify checks a detached signature over a CID against a declared public key.
func Verify(c wscid.CID, signature []byte, publicKey ed25519.PublicKey) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return &VerifyError{Kind: VerifyBadKey, Msg: fmt.Sprintf("expected %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))}
	}
	if len(signature) != ed25519.SignatureSize {
		return &VerifyError{Kind: VerifyBadSig, Msg: fmt.Sprintf("expected %d bytes, got %d", ed25519.SignatureSize, len(signature))}
	}
	msg, err := c.Bytes()
	if err != nil {
		return &VerifyError{Kind: VerifyBadKey, Msg: err.Error()}
	}
	if !ed25519.Verify(publicKey, msg, signature) {
		return &VerifyError{Kind: VerifyBadSig, Msg: "signature does not match cid under declared public key"}
	}
	return nil
}

// KeyLookup resolves the declared public key of a creator identity CID,
// handling the GENESIS self-bootstrap special case at the call site (see
// pkg/thought's Verify, which reads the inline pubkey of a GENESIS
// identity thought from its content rather than calling a lookup).
type KeyLookup func(creatorCID string) (ed25519.PublicKey, bool)

// VerifyWithLookup verifies a thought's signature by resolving the
// creator's declared public key through lookup.
func VerifyWithLookup(c wscid.CID, signature []byte, creatorCID string, lookup KeyLookup) error {
	pub, ok := lookup(creatorCID)
	if !ok {
		return &VerifyError{Kind: VerifyMissing, Msg: fmt.Sprintf("creator identity %s not known", creatorCID)}
	}
	return Verify(c, signature, pub)
}
