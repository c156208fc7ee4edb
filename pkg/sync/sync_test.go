package sync

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/pool"
	"github.com/wellspring-network/wellspring/pkg/signer"
	"github.com/wellspring-network/wellspring/pkg/store"
	"github.com/wellspring-network/wellspring/pkg/thought"
	"github.com/wellspring-network/wellspring/pkg/trust"
)

// memStore is a minimal in-memory ThoughtStore for tests, avoiding any
// dependency on a live Postgres instance.
type memStore struct {
	byCID map[string]*thought.Thought
}

func newMemStore() *memStore { return &memStore{byCID: make(map[string]*thought.Thought)} }

func (m *memStore) Get(_ context.Context, cidStr string) (*thought.Thought, error) {
	return m.byCID[cidStr], nil
}

func (m *memStore) Put(_ context.Context, t *thought.Thought, verify store.VerifyFunc) (bool, error) {
	if verify != nil {
		if err := verify(t); err != nil {
			return false, err
		}
	}
	key := t.CID.String()
	if _, exists := m.byCID[key]; exists {
		return false, nil
	}
	m.byCID[key] = t
	return true, nil
}

func (m *memStore) AllCIDs(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(m.byCID))
	for k := range m.byCID {
		out = append(out, k)
	}
	return out, nil
}

func (m *memStore) RecordProvenance(_ context.Context, _, _ string) error { return nil }

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

// makeLookup resolves a creator identity's declared public key by reading
// its identity thought back out of dst, as a real node would via its
// local store.
func makeLookup(dst *memStore) thought.PublicKeyLookup {
	return func(creatorCID string) (ed25519.PublicKey, bool) {
		idThought, ok := dst.byCID[creatorCID]
		if !ok || idThought.Type != "identity" {
			return nil, false
		}
		m, ok := idThought.Content.(map[string]interface{})
		if !ok {
			return nil, false
		}
		hexKey, ok := m["pubkey"].(string)
		if !ok {
			return nil, false
		}
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, false
		}
		return ed25519.PublicKey(raw), true
	}
}

func pubkeyHex(s *signer.Signer) string {
	return hex.EncodeToString(s.PublicKey())
}

func mustThought(t *testing.T, s *signer.Signer, typ string, content interface{}, createdBy, visibility string, createdAt int64) *thought.Thought {
	t.Helper()
	th, err := thought.New(wscid.AlgoBlake3, s, typ, content, createdBy, nil, visibility, "", createdAt)
	if err != nil {
		t.Fatalf("thought.New: %v", err)
	}
	return th
}

func TestSelectForPeerFiltersByBloomAndVisibility(t *testing.T) {
	ctx := context.Background()
	s := mustSigner(t)
	src := newMemStore()
	engine := pool.NewEngine()

	public := mustThought(t, s, "note", map[string]interface{}{"text": "public note"}, "creator-1", thought.VisibilityPublic, 1)
	localForever := mustThought(t, s, "secret", map[string]interface{}{"x": "y"}, "creator-1", thought.VisibilityLocalForever, 2)
	src.byCID[public.CID.String()] = public
	src.byCID[localForever.CID.String()] = localForever

	sel, err := SelectForPeer(ctx, src, engine, "peer-1", "", nil)
	if err != nil {
		t.Fatalf("SelectForPeer: %v", err)
	}
	if len(sel.Thoughts) != 1 || sel.Thoughts[0].CID.String() != public.CID.String() {
		t.Fatalf("expected only the public thought selected, got %d", len(sel.Thoughts))
	}
	if sel.Withheld.LocalForever != 1 {
		t.Fatalf("expected local_forever withheld counter 1, got %d", sel.Withheld.LocalForever)
	}
}

func TestSelectForPeerBloomSkipsKnownCIDs(t *testing.T) {
	ctx := context.Background()
	s := mustSigner(t)
	src := newMemStore()
	engine := pool.NewEngine()

	known := mustThought(t, s, "note", map[string]interface{}{"text": "already has it"}, "creator-1", thought.VisibilityPublic, 1)
	src.byCID[known.CID.String()] = known

	filter := BuildFilter([]string{known.CID.String()}, 0, 0)
	sel, err := SelectForPeer(ctx, src, engine, "peer-1", "", filter)
	if err != nil {
		t.Fatalf("SelectForPeer: %v", err)
	}
	if len(sel.Thoughts) != 0 {
		t.Fatalf("expected bloom-present cid skipped, got %d", len(sel.Thoughts))
	}
}

func TestSelectForPeerIncludesCreatorIdentityFirst(t *testing.T) {
	ctx := context.Background()
	idSigner := mustSigner(t)
	src := newMemStore()
	engine := pool.NewEngine()

	identity := mustThought(t, idSigner, "identity", map[string]interface{}{"name": "Alice", "pubkey": pubkeyHex(idSigner)}, thought.GenesisSentinel, thought.VisibilityPublic, 1)
	note := mustThought(t, idSigner, "note", map[string]interface{}{"text": "hello"}, identity.CID.String(), thought.VisibilityPublic, 5)
	src.byCID[identity.CID.String()] = identity
	src.byCID[note.CID.String()] = note

	sel, err := SelectForPeer(ctx, src, engine, "peer-1", "", nil)
	if err != nil {
		t.Fatalf("SelectForPeer: %v", err)
	}
	if len(sel.Thoughts) != 2 {
		t.Fatalf("expected identity + note selected, got %d", len(sel.Thoughts))
	}
	if sel.Thoughts[0].Type != "identity" {
		t.Fatalf("expected identity thought ordered first, got %s", sel.Thoughts[0].Type)
	}
}

func TestIngestDefersUnknownCreatorThenRetries(t *testing.T) {
	ctx := context.Background()
	idSigner := mustSigner(t)
	dst := newMemStore()

	identity := mustThought(t, idSigner, "identity", map[string]interface{}{"name": "Alice", "pubkey": pubkeyHex(idSigner)}, thought.GenesisSentinel, thought.VisibilityPublic, 1)
	note := mustThought(t, idSigner, "note", map[string]interface{}{"text": "hello"}, identity.CID.String(), thought.VisibilityPublic, 5)

	nodeSigner := mustSigner(t)
	deps := IngestDeps{
		Store:            dst,
		Lookup:           makeLookup(dst),
		LocalIdentityCID: "node-self",
		Algo:             wscid.AlgoBlake3,
		Signer:           nodeSigner,
		PeerIdentityCID:  "peer-1",
	}

	// Note arrives before its identity in the batch; Ingest must still
	// land both via its internal retry pass.
	result, err := Ingest(ctx, deps, []*thought.Thought{note, identity})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Deferred) != 0 {
		t.Fatalf("expected no permanently deferred thoughts, got %d", len(result.Deferred))
	}
	accepted := 0
	for _, a := range result.Acks {
		if a.Status == Accepted {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("expected 2 accepted acks, got %d (%+v)", accepted, result.Acks)
	}

	var provenanceThoughts int
	for _, stored := range dst.byCID {
		if stored.Type == "connection" && stored.Visibility == thought.VisibilityLocalForever {
			provenanceThoughts++
		}
	}
	if provenanceThoughts != 2 {
		t.Fatalf("expected a received_via provenance thought per accepted thought, got %d", provenanceThoughts)
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	idSigner := mustSigner(t)
	dst := newMemStore()
	identity := mustThought(t, idSigner, "identity", map[string]interface{}{"name": "Alice", "pubkey": pubkeyHex(idSigner)}, thought.GenesisSentinel, thought.VisibilityPublic, 1)
	dst.byCID[identity.CID.String()] = identity

	tampered := mustThought(t, idSigner, "note", map[string]interface{}{"text": "hello"}, identity.CID.String(), thought.VisibilityPublic, 5)
	tampered.Content = map[string]interface{}{"text": "tampered"} // invalidates the signature post-construction

	deps := IngestDeps{Store: dst, Lookup: makeLookup(dst), LocalIdentityCID: "node-self"}
	result, err := Ingest(ctx, deps, []*thought.Thought{tampered})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Acks) != 1 || result.Acks[0].Status != Rejected {
		t.Fatalf("expected tampered thought rejected, got %+v", result.Acks)
	}
}

func TestIngestEnforcesPoolRateLimits(t *testing.T) {
	ctx := context.Background()
	idSigner := mustSigner(t)
	dst := newMemStore()
	identity := mustThought(t, idSigner, "identity", map[string]interface{}{"name": "Bob", "pubkey": pubkeyHex(idSigner)}, thought.GenesisSentinel, thought.VisibilityPublic, 1)
	dst.byCID[identity.CID.String()] = identity

	poolCID := "pool-1"
	engine := pool.NewEngine()
	p := &pool.Pool{CID: poolCID, Rules: pool.DefaultRules()}
	engine.UpsertPool(p)
	engine.AddMember(poolCID, identity.CID.String())
	cfg := pool.DefaultAppetite()
	cfg.UnknownRate = 1
	engine.Limiter(poolCID).Reconfigure(cfg)

	g := trust.New()

	deps := IngestDeps{
		Store:            dst,
		Lookup:           makeLookup(dst),
		Engine:           engine,
		Trust:            g,
		LocalIdentityCID: "node-self",
		PoolOf: func(cid string) (*pool.Pool, bool) {
			if cid == poolCID {
				return p, true
			}
			return nil, false
		},
	}

	t1 := mustThought(t, idSigner, "note", map[string]interface{}{"text": "first"}, identity.CID.String(), thought.PoolVisibility(poolCID), 10)
	t2 := mustThought(t, idSigner, "note", map[string]interface{}{"text": "second"}, identity.CID.String(), thought.PoolVisibility(poolCID), 11)

	r1, err := Ingest(ctx, deps, []*thought.Thought{t1})
	if err != nil {
		t.Fatalf("Ingest 1: %v", err)
	}
	if r1.Acks[0].Status != Accepted {
		t.Fatalf("expected first pool thought accepted, got %+v", r1.Acks[0])
	}

	r2, err := Ingest(ctx, deps, []*thought.Thought{t2})
	if err != nil {
		t.Fatalf("Ingest 2: %v", err)
	}
	if r2.Acks[0].Status != Rejected {
		t.Fatalf("expected second pool thought rate-limited, got %+v", r2.Acks[0])
	}
}

// TestIngestRejectsThoughtsFromRevokedPoolMember models Property 9: once a
// membership revocation (identity.Revoke's -1.0 attestation, applied here
// via Engine.RemoveMember) lands, no further thought signed by that
// identity is accepted into the pool.
func TestIngestRejectsThoughtsFromRevokedPoolMember(t *testing.T) {
	ctx := context.Background()
	idSigner := mustSigner(t)
	dst := newMemStore()
	identity := mustThought(t, idSigner, "identity", map[string]interface{}{"name": "Carol", "pubkey": pubkeyHex(idSigner)}, thought.GenesisSentinel, thought.VisibilityPublic, 1)
	dst.byCID[identity.CID.String()] = identity

	poolCID := "pool-2"
	engine := pool.NewEngine()
	p := &pool.Pool{CID: poolCID, Rules: pool.DefaultRules()}
	engine.UpsertPool(p)
	engine.AddMember(poolCID, identity.CID.String())

	deps := IngestDeps{
		Store:            dst,
		Lookup:           makeLookup(dst),
		Engine:           engine,
		Trust:            trust.New(),
		LocalIdentityCID: "node-self",
		PoolOf: func(cid string) (*pool.Pool, bool) {
			if cid == poolCID {
				return p, true
			}
			return nil, false
		},
	}

	t1 := mustThought(t, idSigner, "note", map[string]interface{}{"text": "still a member"}, identity.CID.String(), thought.PoolVisibility(poolCID), 10)
	r1, err := Ingest(ctx, deps, []*thought.Thought{t1})
	if err != nil {
		t.Fatalf("Ingest 1: %v", err)
	}
	if r1.Acks[0].Status != Accepted {
		t.Fatalf("expected pre-revocation thought accepted, got %+v", r1.Acks[0])
	}

	engine.RemoveMember(poolCID, identity.CID.String())

	t2 := mustThought(t, idSigner, "note", map[string]interface{}{"text": "revoked now"}, identity.CID.String(), thought.PoolVisibility(poolCID), 20)
	r2, err := Ingest(ctx, deps, []*thought.Thought{t2})
	if err != nil {
		t.Fatalf("Ingest 2: %v", err)
	}
	if r2.Acks[0].Status != Rejected {
		t.Fatalf("expected thought from revoked member rejected, got %+v", r2.Acks[0])
	}
}

func TestSessionRegistryAcceptAndExpire(t *testing.T) {
	r := NewRegistry()
	resp, err := r.Accept(HelloRequest{IdentityCID: "peer-1", Capabilities: []string{"sync", "bloom"}}, "node-self", []string{"bloom"}, time.Millisecond)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if len(resp.AcceptedCapabilities) != 1 || resp.AcceptedCapabilities[0] != "bloom" {
		t.Fatalf("expected capability intersection [bloom], got %v", resp.AcceptedCapabilities)
	}
	if _, ok := r.Lookup(resp.SessionID); !ok {
		t.Fatalf("expected session to be found immediately after accept")
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok := r.Lookup(resp.SessionID); ok {
		t.Fatalf("expected session to have expired")
	}
}

func TestBloomFilterRoundTrip(t *testing.T) {
	f := BuildFilter([]string{"cid:a", "cid:b", "cid:c"}, 0, 0)
	b, err := f.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	f2, err := FilterFromBytes(b, f.M, f.K)
	if err != nil {
		t.Fatalf("FilterFromBytes: %v", err)
	}
	if !f2.Test("cid:a") {
		t.Fatalf("expected round-tripped filter to still report cid:a present")
	}
}
