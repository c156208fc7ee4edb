package identity

import (
	"crypto/ed25519"
	"testing"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/thought"
)

func verifyLookup(bundles ...*Bundle) thought.PublicKeyLookup {
	return func(creatorCID string) (ed25519.PublicKey, bool) {
		for _, b := range bundles {
			if b.Identity.CID.String() == creatorCID {
				return b.Signer.PublicKey(), true
			}
		}
		return nil, false
	}
}

func TestCreateProducesVerifiableGenesisIdentity(t *testing.T) {
	b, err := Create(wscid.AlgoBlake3, "Alice", 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Identity.CreatedBy != thought.GenesisSentinel {
		t.Fatalf("expected GENESIS creator, got %q", b.Identity.CreatedBy)
	}
	if err := thought.Verify(b.Identity, nil); err != nil {
		t.Fatalf("expected GENESIS identity to self-verify, got %v", err)
	}
}

func TestCreateSecretIsLocalForeverAndChained(t *testing.T) {
	b, err := Create(wscid.AlgoBlake3, "Alice", 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Secret.Visibility != thought.VisibilityLocalForever {
		t.Fatalf("expected secret thought to be local_forever, got %q", b.Secret.Visibility)
	}
	if b.Secret.IsShareable() {
		t.Fatalf("expected secret thought to never be shareable")
	}
	if len(b.Secret.Because) != 1 || b.Secret.Because[0] != b.Identity.CID.String() {
		t.Fatalf("expected secret to chain to its identity thought")
	}
}

func TestRotateCrossVerifiesOldAndNewKeys(t *testing.T) {
	old, err := Create(wscid.AlgoBlake3, "Alice", 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	result, err := Rotate(wscid.AlgoBlake3, old.Signer, old.Identity.CID.String(), "Alice", 2000)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	lookup := verifyLookup(old)
	if err := thought.Verify(result.Rotation, lookup); err != nil {
		t.Fatalf("expected rotation thought (signed by old key) to verify: %v", err)
	}
	if err := thought.Verify(result.NewIdentity, nil); err != nil {
		t.Fatalf("expected new GENESIS identity to self-verify: %v", err)
	}

	newLookup := verifyLookup(old, &Bundle{Identity: result.NewIdentity, Signer: result.NewKeySigner})
	if err := thought.Verify(result.Attestation, newLookup); err != nil {
		t.Fatalf("expected possession attestation (signed by new key) to verify: %v", err)
	}
}

func TestRotationDeclaresBothIdentitiesInBecause(t *testing.T) {
	old, _ := Create(wscid.AlgoBlake3, "Alice", 1000)
	result, err := Rotate(wscid.AlgoBlake3, old.Signer, old.Identity.CID.String(), "Alice", 2000)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if len(result.Rotation.Because) != 2 {
		t.Fatalf("expected rotation thought to chain both identities, got %v", result.Rotation.Because)
	}
}

func TestDeprecateDownweightsOldIdentityToZero(t *testing.T) {
	old, _ := Create(wscid.AlgoBlake3, "Alice", 1000)
	result, err := Rotate(wscid.AlgoBlake3, old.Signer, old.Identity.CID.String(), "Alice", 2000)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	dep, err := Deprecate(wscid.AlgoBlake3, result.NewKeySigner, result.NewIdentity.CID.String(), old.Identity.CID.String(), 2001)
	if err != nil {
		t.Fatalf("Deprecate: %v", err)
	}
	content, ok := dep.Content.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map content")
	}
	if content["weight"].(float64) != 0.0 {
		t.Fatalf("expected deprecation weight 0.0, got %v", content["weight"])
	}
}

func TestRevokeProducesNegativeAttestationAndCompromiseWindow(t *testing.T) {
	admin, _ := Create(wscid.AlgoBlake3, "Admin", 1000)
	result, err := Revoke(wscid.AlgoBlake3, admin.Signer, admin.Identity.CID.String(), "conn-cid", "compromised-id", "lost device", 5000, 6000, 7000)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	mrContent := result.MembershipRevocation.Content.(map[string]interface{})
	if mrContent["weight"].(float64) != -1.0 {
		t.Fatalf("expected membership revocation weight -1.0, got %v", mrContent["weight"])
	}
	if err := thought.Verify(result.MembershipRevocation, verifyLookup(admin)); err != nil {
		t.Fatalf("expected revocation to verify: %v", err)
	}

	winContent := result.CompromiseWindow.Content.(map[string]interface{})
	if winContent["applies_to"] != "compromised-id" {
		t.Fatalf("expected compromise window applies_to compromised identity")
	}
	if !WithinCompromiseWindow(winContent, 5500) {
		t.Fatalf("expected timestamp within window to be flagged")
	}
	if WithinCompromiseWindow(winContent, 9000) {
		t.Fatalf("expected timestamp outside window to not be flagged")
	}
}
