// Copyright 2025 Wellspring Authors
//
// Semantic Index - per-pool vector index with trust/appetite/chain-depth
// and recency weighted retrieval.
// Per Wellspring Protocol Section 4.6: Semantic Index

package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wellspring-network/wellspring/pkg/identity"
	"github.com/wellspring-network/wellspring/pkg/thought"
)

// AppetiteStatus tags the confidence a row's trust weight should carry,
// separate from (but often derived from) trust-graph scores.
type AppetiteStatus string

const (
	AppetiteWelcomed           AppetiteStatus = "welcomed"
	AppetiteUnauthorizedClaim  AppetiteStatus = "unauthorized_claim"
	AppetiteUnverifiedSource   AppetiteStatus = "unverified_source"
	AppetiteLowTrustPath       AppetiteStatus = "low_trust_path"
	AppetitePendingAttestation AppetiteStatus = "pending_attestation"
	AppetiteFlagged            AppetiteStatus = "flagged"
)

// DefaultAppetiteWeights are the protocol-documented default trust
// weights per appetite status; a pool's index_config aspect may override
// them.
func DefaultAppetiteWeights() map[AppetiteStatus]float64 {
	return map[AppetiteStatus]float64{
		AppetiteWelcomed:           1.0,
		AppetiteUnauthorizedClaim:  0.3,
		AppetiteUnverifiedSource:   0.5,
		AppetiteLowTrustPath:       0.4,
		AppetitePendingAttestation: 0.0,
		AppetiteFlagged:            0.1,
	}
}

// preferredTextFields lists, in priority order, the content fields that
// are used verbatim as a thought's indexable text before falling back to
// serializing the whole content value.
var preferredTextFields = []string{"text", "body", "title", "summary", "description", "name"}

// nonIndexableTypes are thought types the index never stores a row for.
var nonIndexableTypes = map[string]struct{}{
	"identity": {},
	"pool":     {},
}

// IndexableText extracts the text used to embed t, per the protocol's
// field-preference order, falling back to a JSON serialization of the
// whole content value.
func IndexableText(t *thought.Thought) string {
	if m, ok := t.Content.(map[string]interface{}); ok {
		for _, field := range preferredTextFields {
			if v, ok := m[field]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	b, err := json.Marshal(t.Content)
	if err != nil {
		return fmt.Sprintf("%v", t.Content)
	}
	return string(b)
}

// Row is one indexed thought's stored projection, per the protocol's
// row shape.
type Row struct {
	RowID          int64
	CID            string
	PoolCID        string
	TextSnippet    string
	Type           string
	CreatedAt      int64
	AppetiteStatus AppetiteStatus
	TrustWeight    float64
	ChainDepth     int
	Vector         []float64
	CreatedBy      string
}

// CompromiseWindow is one identity's compromised period, as declared by
// an aspect{subject: compromise_window} thought (see identity.Revoke).
// Per the protocol's retrieval requirement, any row created by Identity
// with CreatedAt inside [Start, End] scores at trust weight 0 regardless
// of its stored appetite weight - the compromise doesn't erase history,
// it just stops that window's thoughts from influencing retrieval.
type CompromiseWindow struct {
	Identity string
	Start    int64
	End      int64
}

// Result is one scored retrieval hit.
type Result struct {
	Row       Row
	Relevance float64
}

// Index is the Semantic Index: an embedder plus the rows derived from
// stored thoughts, supporting trust-weighted retrieval.
type Index struct {
	mu          sync.RWMutex
	embedder    Embedder
	weights     map[AppetiteStatus]float64
	rows        map[string]Row // cid -> row
	nextID      int64
	compromised []CompromiseWindow
}

// New constructs an empty Semantic Index using embedder (or a default
// FallbackEmbedder if nil).
func New(embedder Embedder) *Index {
	if embedder == nil {
		embedder = NewFallbackEmbedder(DefaultDimension)
	}
	return &Index{
		embedder: embedder,
		weights:  DefaultAppetiteWeights(),
		rows:     make(map[string]Row),
	}
}

// SetAppetiteWeights overrides the default status->weight table, e.g.
// following an index_config aspect thought.
func (ix *Index) SetAppetiteWeights(weights map[AppetiteStatus]float64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.weights = weights
}

// AddCompromiseWindow records a compromise window so future Query calls
// zero-weight any row created by w.Identity with CreatedAt in [w.Start,
// w.End]. Callers add one of these whenever they ingest an
// aspect{subject: compromise_window} thought.
func (ix *Index) AddCompromiseWindow(w CompromiseWindow) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.compromised = append(ix.compromised, w)
}

func inCompromiseWindow(windows []CompromiseWindow, createdBy string, createdAt int64) bool {
	for _, w := range windows {
		if w.Identity != createdBy {
			continue
		}
		if identity.WithinCompromiseWindow(map[string]interface{}{"window_start": w.Start, "window_end": w.End}, createdAt) {
			return true
		}
	}
	return false
}

// Eligible reports whether t's type is ever indexed.
func Eligible(t *thought.Thought) bool {
	_, excluded := nonIndexableTypes[t.Type]
	return !excluded
}

// Put indexes t under poolCID, assigning it the given appetite status and
// chain depth (the length of the longest because-chain walked to reach a
// trusted root, as computed by the caller). Re-putting the same CID
// overwrites its row. A no-op (returns false) if t is not eligible.
func (ix *Index) Put(t *thought.Thought, poolCID string, status AppetiteStatus, chainDepth int) bool {
	if !Eligible(t) {
		return false
	}
	text := IndexableText(t)
	vec := ix.embedder.Embed(text)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	weight := ix.weights[status]
	ix.nextID++
	ix.rows[t.CID.String()] = Row{
		RowID:          ix.nextID,
		CID:            t.CID.String(),
		PoolCID:        poolCID,
		TextSnippet:    snippet(text, 280),
		Type:           t.Type,
		CreatedAt:      t.CreatedAt,
		AppetiteStatus: status,
		TrustWeight:    weight,
		ChainDepth:     chainDepth,
		Vector:         vec,
		CreatedBy:      t.CreatedBy,
	}
	return true
}

func snippet(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// QueryOptions parameterizes Query.
type QueryOptions struct {
	PoolCID         string  // "" = all pools
	ExcludePending  bool    // drop appetite_status = pending_attestation
	Waterline       float64 // results below this relevance are dropped
	RecencyDecay    float64 // per-hour decay; 0 = recency term is always 1
	TopK            int
	Now             time.Time
}

// Query embeds queryText and returns up to opts.TopK rows scoring above
// the waterline, sorted by descending relevance.
func (ix *Index) Query(queryText string, opts QueryOptions) []Result {
	queryVec := ix.embedder.Embed(queryText)
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	ix.mu.RLock()
	rows := make([]Row, 0, len(ix.rows))
	for _, row := range ix.rows {
		if opts.PoolCID != "" && row.PoolCID != opts.PoolCID {
			continue
		}
		if opts.ExcludePending && row.AppetiteStatus == AppetitePendingAttestation {
			continue
		}
		rows = append(rows, row)
	}
	compromised := append([]CompromiseWindow(nil), ix.compromised...)
	ix.mu.RUnlock()

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		trustWeight := row.TrustWeight
		if inCompromiseWindow(compromised, row.CreatedBy, row.CreatedAt) {
			trustWeight = 0
		}
		similarity := CosineSimilarity(queryVec, row.Vector)
		chainBoost := 1.0 / (1.0 + 0.1*float64(row.ChainDepth))
		recency := recencyFactor(row.CreatedAt, now, opts.RecencyDecay)
		relevance := similarity * trustWeight * chainBoost * recency
		if relevance < opts.Waterline {
			continue
		}
		results = append(results, Result{Row: row, Relevance: relevance})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})

	if opts.TopK > 0 && len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results
}

// recencyFactor implements recency = max(0.5, 1 - decay*hours_old), or 1
// when decay is non-positive (no recency weighting configured).
func recencyFactor(createdAtMillis int64, now time.Time, decayPerHour float64) float64 {
	if decayPerHour <= 0 {
		return 1
	}
	created := time.UnixMilli(createdAtMillis)
	hoursOld := now.Sub(created).Hours()
	if hoursOld < 0 {
		hoursOld = 0
	}
	f := 1 - decayPerHour*hoursOld
	if f < 0.5 {
		return 0.5
	}
	return f
}

// Remove deletes the row for cid, if present (e.g. local garbage
// collection; thoughts themselves are never deleted from the store).
func (ix *Index) Remove(cid string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.rows, cid)
}

// Get returns the row for cid, if indexed.
func (ix *Index) Get(cid string) (Row, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	r, ok := ix.rows[cid]
	return r, ok
}

// Len reports how many rows are currently indexed.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.rows)
}
