package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/thought"
)

func TestFallbackEmbedderDeterministic(t *testing.T) {
	e := NewFallbackEmbedder(32)
	a := e.Embed("hello world")
	b := e.Embed("hello world")
	if len(a) != 32 {
		t.Fatalf("expected dimension 32, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic embedding, differs at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestFallbackEmbedderDistinctForDistinctText(t *testing.T) {
	e := NewFallbackEmbedder(32)
	a := e.Embed("the quick brown fox")
	b := e.Embed("a totally different sentence")
	if CosineSimilarity(a, a) < 0.999 {
		t.Fatalf("expected self-similarity ~1, got %v", CosineSimilarity(a, a))
	}
	if CosineSimilarity(a, b) > 0.999 {
		t.Fatalf("expected distinct texts to not be identical vectors")
	}
}

func TestIndexableTextPrefersKnownFields(t *testing.T) {
	tt := &thought.Thought{Type: "note", Content: map[string]interface{}{
		"title": "Title Here",
		"body":  "Body Here",
	}}
	if got := IndexableText(tt); got != "Title Here" {
		t.Fatalf("expected title field preferred, got %q", got)
	}
}

func TestIndexableTextFallsBackToSerializedContent(t *testing.T) {
	tt := &thought.Thought{Type: "note", Content: map[string]interface{}{"x": 1.0}}
	got := IndexableText(tt)
	if got == "" {
		t.Fatalf("expected non-empty fallback serialization")
	}
}

func TestEligibleExcludesIdentityAndPool(t *testing.T) {
	if Eligible(&thought.Thought{Type: "identity"}) {
		t.Fatalf("expected identity thoughts ineligible")
	}
	if Eligible(&thought.Thought{Type: "pool"}) {
		t.Fatalf("expected pool thoughts ineligible")
	}
	if !Eligible(&thought.Thought{Type: "note"}) {
		t.Fatalf("expected note thoughts eligible")
	}
}

func TestQueryRankingAndWaterline(t *testing.T) {
	ix := New(nil)

	relevant := &thought.Thought{CID: cidFor("a"), Type: "note", Content: map[string]interface{}{"text": "weather and climate forecasting"}}
	irrelevant := &thought.Thought{CID: cidFor("b"), Type: "note", Content: map[string]interface{}{"text": "a recipe for chocolate cake"}}

	ix.Put(relevant, "pool-1", AppetiteWelcomed, 0)
	ix.Put(irrelevant, "pool-1", AppetiteWelcomed, 0)

	results := ix.Query("climate forecasting", QueryOptions{PoolCID: "pool-1", Waterline: 0, TopK: 10})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Row.CID != relevant.CID.String() {
		t.Fatalf("expected the more relevant row ranked first")
	}

	highWaterline := ix.Query("climate forecasting", QueryOptions{PoolCID: "pool-1", Waterline: 0.99, TopK: 10})
	if len(highWaterline) != 0 {
		t.Fatalf("expected waterline to suppress low-relevance results, got %d", len(highWaterline))
	}
}

func TestQueryExcludesPendingAttestationWhenAsked(t *testing.T) {
	ix := New(nil)
	pending := &thought.Thought{CID: cidFor("p"), Type: "note", Content: map[string]interface{}{"text": "pending item"}}
	ix.Put(pending, "pool-1", AppetitePendingAttestation, 0)

	withPending := ix.Query("pending item", QueryOptions{PoolCID: "pool-1", Waterline: -1, TopK: 10})
	if len(withPending) != 1 {
		t.Fatalf("expected pending row included by default, got %d", len(withPending))
	}

	excluded := ix.Query("pending item", QueryOptions{PoolCID: "pool-1", ExcludePending: true, Waterline: -1, TopK: 10})
	if len(excluded) != 0 {
		t.Fatalf("expected pending row excluded when requested, got %d", len(excluded))
	}
}

func TestQueryChainBoostPenalizesDeeperChains(t *testing.T) {
	ix := New(nil)
	shallow := &thought.Thought{CID: cidFor("shallow"), Type: "note", Content: map[string]interface{}{"text": "ocean current data"}}
	deep := &thought.Thought{CID: cidFor("deep"), Type: "note", Content: map[string]interface{}{"text": "ocean current data"}}

	ix.Put(shallow, "pool-1", AppetiteWelcomed, 0)
	ix.Put(deep, "pool-1", AppetiteWelcomed, 10)

	results := ix.Query("ocean current data", QueryOptions{PoolCID: "pool-1", Waterline: -1, TopK: 10})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Row.CID != shallow.CID.String() {
		t.Fatalf("expected shallower chain ranked above deeper chain with identical text")
	}
}

func TestQueryZeroWeightsRowsInCompromiseWindow(t *testing.T) {
	ix := New(nil)
	compromised := &thought.Thought{CID: cidFor("c"), Type: "note", Content: map[string]interface{}{"text": "glacier melt rates"}, CreatedBy: "device-x", CreatedAt: 1000}
	clean := &thought.Thought{CID: cidFor("d"), Type: "note", Content: map[string]interface{}{"text": "glacier melt rates"}, CreatedBy: "device-y", CreatedAt: 1000}

	ix.Put(compromised, "pool-1", AppetiteWelcomed, 0)
	ix.Put(clean, "pool-1", AppetiteWelcomed, 0)

	ix.AddCompromiseWindow(CompromiseWindow{Identity: "device-x", Start: 500, End: 1500})

	results := ix.Query("glacier melt rates", QueryOptions{PoolCID: "pool-1", Waterline: -1, TopK: 10})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	var gotCompromised, gotClean bool
	for _, r := range results {
		switch r.Row.CID {
		case compromised.CID.String():
			gotCompromised = true
			if r.Relevance != 0 {
				t.Fatalf("expected compromised-window row to score 0 relevance, got %v", r.Relevance)
			}
		case clean.CID.String():
			gotClean = true
			if r.Relevance <= 0 {
				t.Fatalf("expected clean row to retain nonzero relevance, got %v", r.Relevance)
			}
		}
	}
	if !gotCompromised || !gotClean {
		t.Fatalf("expected both rows present, got %+v", results)
	}
}

func TestRecencyFactorFloorsAtHalf(t *testing.T) {
	now := time.Now()
	veryOld := now.Add(-1000 * time.Hour)
	f := recencyFactor(veryOld.UnixMilli(), now, 0.1)
	if f != 0.5 {
		t.Fatalf("expected recency floor of 0.5, got %v", f)
	}
	f2 := recencyFactor(now.UnixMilli(), now, 0.1)
	if f2 != 1 {
		t.Fatalf("expected recency of 1 for created_at == now, got %v", f2)
	}
	f3 := recencyFactor(veryOld.UnixMilli(), now, 0)
	if f3 != 1 {
		t.Fatalf("expected recency of 1 when decay is unconfigured, got %v", f3)
	}
}

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "wal.jsonl")
	fallback := filepath.Join(dir, "wal_fallback.jsonl")

	wal, err := OpenWAL(primary, fallback)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	tt := &thought.Thought{CID: cidFor("w1"), Type: "note", Content: map[string]interface{}{"text": "walled content"}, CreatedAt: 1000}
	if err := wal.Append(tt, "pool-1", AppetiteWelcomed, 2); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := wal.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(primary); err != nil {
		t.Fatalf("expected wal file to exist: %v", err)
	}

	ix := New(nil)
	lookup := func(cid string) (*thought.Thought, bool) {
		if cid == tt.CID.String() {
			return tt, true
		}
		return nil, false
	}
	if err := ReplayWAL(primary, ix, lookup); err != nil {
		t.Fatalf("ReplayWAL: %v", err)
	}
	if ix.Len() != 1 {
		t.Fatalf("expected 1 row replayed, got %d", ix.Len())
	}
}

func cidFor(seed string) wscid.CID {
	var digest [32]byte
	copy(digest[:], seed)
	return wscid.CID{Algo: wscid.AlgoBlake3, Digest: digest}
}
