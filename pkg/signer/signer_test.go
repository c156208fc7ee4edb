package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
)

func testCID(t *testing.T, content string) wscid.CID {
	t.Helper()
	c, err := wscid.Compute(wscid.AlgoBlake3, []byte(content))
	if err != nil {
		t.Fatalf("compute cid: %v", err)
	}
	return c
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := New(priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	c := testCID(t, "hello thought")
	sig, err := s.Sign(c)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(c, sig, pub); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}
}

func TestVerifyFailsOnMutatedCID(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	s, _ := New(priv)
	c := testCID(t, "original")
	sig, _ := s.Sign(c)

	mutated := testCID(t, "mutated")
	err := Verify(mutated, sig, pub)
	var ve *VerifyError
	if !errors.As(err, &ve) || ve.Kind != VerifyBadSig {
		t.Fatalf("expected VerifyError{BadSig}, got %v", err)
	}
}

func TestVerifyFailsOnMutatedSignatureByte(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	s, _ := New(priv)
	c := testCID(t, "original")
	sig, _ := s.Sign(c)
	sig[0] ^= 0xFF

	if err := Verify(c, sig, pub); err == nil {
		t.Fatalf("expected verification failure after flipping a signature byte")
	}
}

func TestVerifyRejectsBadKeySize(t *testing.T) {
	c := testCID(t, "x")
	err := Verify(c, make([]byte, ed25519.SignatureSize), []byte{1, 2, 3})
	var ve *VerifyError
	if !errors.As(err, &ve) || ve.Kind != VerifyBadKey {
		t.Fatalf("expected VerifyError{BadKey}, got %v", err)
	}
}

func TestVerifyWithLookupMissingIdentity(t *testing.T) {
	c := testCID(t, "x")
	lookup := func(string) (ed25519.PublicKey, bool) { return nil, false }
	err := VerifyWithLookup(c, make([]byte, ed25519.SignatureSize), "cid:blake3-256:deadbeef", lookup)
	var ve *VerifyError
	if !errors.As(err, &ve) || ve.Kind != VerifyMissing {
		t.Fatalf("expected VerifyError{Missing}, got %v", err)
	}
}
