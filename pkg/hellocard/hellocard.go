// Copyright 2025 Wellspring Authors
//
// Hello card - out-of-band bootstrap bundle letting two identities meet
// without a prior sync session: a base64 blob shareable over any channel.
// Per Wellspring Protocol Section 4.13 (spec.md Section 6, "Hello card").

package hellocard

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/canon"
	"github.com/wellspring-network/wellspring/pkg/signer"
)

// ProtocolTag identifies the hello-card wire format version.
const ProtocolTag = "hello/1.0"

// Card is the decoded form of a hello-card bundle.
type Card struct {
	Protocol    string `json:"protocol"`
	IdentityCID string `json:"identity_cid"`
	Name        string `json:"name"`
	PubKeyHex   string `json:"pubkey"`
	Created     int64  `json:"created"`
	SignatureHex string `json:"signature"`
}

func (c *Card) signingFields() map[string]interface{} {
	return map[string]interface{}{
		"protocol":     c.Protocol,
		"identity_cid": c.IdentityCID,
		"name":         c.Name,
		"pubkey":       c.PubKeyHex,
		"created":      c.Created,
	}
}

func (c *Card) signingCID(algo wscid.Algo) (wscid.CID, error) {
	b, err := canon.Encode(c.signingFields())
	if err != nil {
		return wscid.CID{}, fmt.Errorf("hellocard: canonicalize: %w", err)
	}
	return wscid.Compute(algo, b)
}

// Build constructs and signs a hello card for identityCID, carrying name
// and the identity's declared public key in the clear so a receiver can
// verify it with no prior state.
func Build(algo wscid.Algo, s *signer.Signer, identityCID, name string, createdAt int64) (string, error) {
	card := &Card{
		Protocol:    ProtocolTag,
		IdentityCID: identityCID,
		Name:        name,
		PubKeyHex:   hex.EncodeToString(s.PublicKey()),
		Created:     createdAt,
	}
	cid, err := card.signingCID(algo)
	if err != nil {
		return "", err
	}
	sig, err := s.Sign(cid)
	if err != nil {
		return "", fmt.Errorf("hellocard: sign: %w", err)
	}
	card.SignatureHex = hex.EncodeToString(sig)

	raw, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("hellocard: marshal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses and verifies a base64-encoded hello card, checking the
// signature against its own inline public key (there is no external
// identity to ask: the card is the bootstrap). It does not know the CID
// algorithm the sender used, so it tries every supported algorithm.
func Decode(cardB64 string) (*Card, error) {
	raw, err := base64.StdEncoding.DecodeString(cardB64)
	if err != nil {
		return nil, fmt.Errorf("hellocard: base64 decode: %w", err)
	}
	var card Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("hellocard: unmarshal: %w", err)
	}
	if card.Protocol != ProtocolTag {
		return nil, fmt.Errorf("hellocard: unsupported protocol tag %q", card.Protocol)
	}

	pub, err := hex.DecodeString(card.PubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("hellocard: decode pubkey: %w", err)
	}
	sig, err := hex.DecodeString(card.SignatureHex)
	if err != nil {
		return nil, fmt.Errorf("hellocard: decode signature: %w", err)
	}

	var lastErr error
	for _, algo := range []wscid.Algo{wscid.AlgoBlake3, wscid.AlgoSHA256} {
		cid, err := card.signingCID(algo)
		if err != nil {
			return nil, err
		}
		if verr := signer.Verify(cid, sig, ed25519.PublicKey(pub)); verr == nil {
			return &card, nil
		} else {
			lastErr = verr
		}
	}
	return nil, fmt.Errorf("hellocard: signature does not verify under any supported algorithm: %w", lastErr)
}
