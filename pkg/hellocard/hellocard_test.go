package hellocard

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/signer"
)

func mustSigner(t *testing.T) *signer.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := signer.New(priv)
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	return s
}

func TestBuildAndDecodeRoundTrip(t *testing.T) {
	s := mustSigner(t)
	b64, err := Build(wscid.AlgoBlake3, s, "cid:blake3-256:aa", "Alice", 1000)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	card, err := Decode(b64)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if card.Name != "Alice" || card.IdentityCID != "cid:blake3-256:aa" {
		t.Fatalf("unexpected card contents: %+v", card)
	}
}

func TestDecodeRejectsTamperedName(t *testing.T) {
	s := mustSigner(t)
	b64, err := Build(wscid.AlgoSHA256, s, "cid:sha256:bb", "Bob", 2000)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	tampered := strings.Replace(string(raw), `"Bob"`, `"Eve"`, 1)
	if _, err := Decode(base64.StdEncoding.EncodeToString([]byte(tampered))); err == nil {
		t.Fatalf("expected tampered card to fail verification")
	}
}

func TestDecodeRejectsUnknownProtocol(t *testing.T) {
	raw := `{"protocol":"hello/9.9","identity_cid":"x","name":"y","pubkey":"00","created":1,"signature":"00"}`
	if _, err := Decode(base64.StdEncoding.EncodeToString([]byte(raw))); err == nil {
		t.Fatalf("expected unsupported protocol tag to be rejected")
	}
}
