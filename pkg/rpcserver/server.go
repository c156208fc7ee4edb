// Copyright 2025 Wellspring Authors
//
// RPC server - Hello, GetSchemas, ExchangeBloom, Want, Push, Query,
// Heartbeat over raw net/http + JSON bodies, Want/Push as JSON-lines
// streams. Per Wellspring Protocol Section 6: External Interfaces
//
// No router dependency, following the teacher's pkg/server: a bare
// http.ServeMux and one handler func per verb.

package rpcserver

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wellspring-network/wellspring/pkg/canon"
	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/index"
	"github.com/wellspring-network/wellspring/pkg/pool"
	"github.com/wellspring-network/wellspring/pkg/signer"
	wssync "github.com/wellspring-network/wellspring/pkg/sync"
	"github.com/wellspring-network/wellspring/pkg/thought"
	"github.com/wellspring-network/wellspring/pkg/trust"
)

// Deps bundles every collaborator the RPC surface needs. Held by value in
// Server, never as package-level globals, per the node context policy.
type Deps struct {
	Store            wssync.ThoughtStore
	Engine           *pool.Engine
	Sessions         *wssync.Registry
	Index            *index.Index
	Trust            *trust.Graph
	Signer           *signer.Signer
	Algo             wscid.Algo
	LocalIdentityCID string
	Capabilities     []string
	PoolOf           func(poolCID string) (*pool.Pool, bool)
	PayloadSize      func(t *thought.Thought) int
	Now              func() time.Time
	Logger           *log.Logger
	Metrics          *Metrics
}

// Server serves the Wellspring RPC surface.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer builds a Server and registers its routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[RPC] ", log.LstdFlags)
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Trust != nil {
		metrics := deps.Metrics
		deps.Trust.SetCacheObserver(func(hit bool) {
			if hit {
				metrics.TrustCacheHits.Inc()
			} else {
				metrics.TrustCacheMisses.Inc()
			}
		})
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/rpc/hello", s.handleHello)
	s.mux.HandleFunc("/rpc/schemas", s.handleGetSchemas)
	s.mux.HandleFunc("/rpc/bloom", s.handleExchangeBloom)
	s.mux.HandleFunc("/rpc/want", s.handleWant)
	s.mux.HandleFunc("/rpc/push", s.handlePush)
	s.mux.HandleFunc("/rpc/query", s.handleQuery)
	s.mux.HandleFunc("/rpc/heartbeat", s.handleHeartbeat)
	s.mux.Handle("/metrics", s.deps.Metrics.Handler())
}

// ServeHTTP lets Server be dropped straight into http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// signResponse signs an arbitrary response map the same way a hello card
// signs its fields: canonicalize, derive a CID, sign that CID.
func (s *Server) signResponse(fields map[string]interface{}) ([]byte, error) {
	b, err := canon.Encode(fields)
	if err != nil {
		return nil, fmt.Errorf("rpcserver: canonicalize response: %w", err)
	}
	cid, err := wscid.Compute(s.deps.Algo, b)
	if err != nil {
		return nil, fmt.Errorf("rpcserver: cid response: %w", err)
	}
	return s.deps.Signer.Sign(cid)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req wssync.HelloRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := s.deps.Sessions.Accept(req, s.deps.LocalIdentityCID, s.deps.Capabilities, 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sig, err := s.signResponse(map[string]interface{}{
		"identity_cid":          resp.IdentityCID,
		"accepted_capabilities": resp.AcceptedCapabilities,
		"session_id":            resp.SessionID,
	})
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp.Signature = sig
	writeJSON(w, resp)
}

type getSchemasRequest struct {
	PoolCID string `json:"pool_cid"`
}

type getSchemasResponse struct {
	PoolRulesCID    string   `json:"pool_rules_cid"`
	RequiredSchemas []string `json:"required_schemas"`
	RateLimits      rateLimitsView `json:"rate_limits"`
	TimestampUnit   string   `json:"timestamp_unit"`
}

type rateLimitsView struct {
	UnknownRate      int     `json:"unknown_rate"`
	TrustedRate      int     `json:"trusted_rate"`
	ExpectationBoost float64 `json:"expectation_boost"`
	AttackThreshold  int     `json:"attack_threshold"`
	AttackMode       bool    `json:"attack_mode"`
}

func (s *Server) handleGetSchemas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req getSchemasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, ok := s.deps.PoolOf(req.PoolCID)
	if !ok {
		writeJSONError(w, "unknown pool", http.StatusNotFound)
		return
	}
	cfg := s.deps.Engine.Limiter(req.PoolCID).Config()
	writeJSON(w, getSchemasResponse{
		PoolRulesCID:    p.ConfigChain,
		RequiredSchemas: p.Rules.AcceptedSchemas,
		RateLimits: rateLimitsView{
			UnknownRate:      cfg.UnknownRate,
			TrustedRate:      cfg.TrustedRate,
			ExpectationBoost: cfg.ExpectationBoost,
			AttackThreshold:  cfg.AttackThreshold,
			AttackMode:       cfg.AttackMode,
		},
		TimestampUnit: p.Rules.TimestampUnit,
	})
}

type bloomExchange struct {
	FilterBytes  []byte `json:"filter_bytes"`
	FilterM      uint   `json:"filter_m"`
	FilterK      uint   `json:"filter_k"`
	ThoughtCount int    `json:"thought_count"`
}

// handleExchangeBloom accepts a peer's bloom filter over its known CIDs
// and replies with this node's own, so each side can compute what the
// other is missing.
func (s *Server) handleExchangeBloom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bloomExchange
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cids, err := s.deps.Store.AllCIDs(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	filter := wssync.BuildFilter(cids, 0, 0)
	b, err := filter.Bytes()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, bloomExchange{FilterBytes: b, FilterM: filter.M, FilterK: filter.K, ThoughtCount: len(cids)})
}

type wantRequest struct {
	CIDs []string `json:"cids"`
}

// thoughtPayload is the wire shape for one thought sent over Want/Push.
type thoughtPayload struct {
	CID            string `json:"cid"`
	CanonicalBytes string `json:"canonical_bytes"` // base64
	Signature      string `json:"signature"`       // hex
	Source         string `json:"source"`
}

func ToPayload(t *thought.Thought) (thoughtPayload, error) {
	b, err := t.CanonicalBytes()
	if err != nil {
		return thoughtPayload{}, err
	}
	return thoughtPayload{
		CID:            t.CID.String(),
		CanonicalBytes: base64.StdEncoding.EncodeToString(b),
		Signature:      hex.EncodeToString(t.Signature),
		Source:         t.Source,
	}, nil
}

// handleWant streams the requested thoughts back as JSON-lines: one
// thoughtPayload object per line, matching the teacher's chunked-body
// idiom without a framing length prefix.
func (s *Server) handleWant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req wantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for _, cidStr := range req.CIDs {
		t, err := s.deps.Store.Get(r.Context(), cidStr)
		if err != nil || t == nil {
			continue
		}
		payload, err := ToPayload(t)
		if err != nil {
			s.deps.Logger.Printf("want: encode %s: %v", cidStr, err)
			continue
		}
		if err := enc.Encode(payload); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	s.deps.Metrics.SyncRoundsTotal.Inc()
}

// handlePush reads a JSON-lines stream of thoughtPayload bodies and
// ingests each, writing back one wssync.Ack per line as it resolves.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var batch []*thought.Thought
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var payload thoughtPayload
		if err := json.Unmarshal(line, &payload); err != nil {
			enc.Encode(wssync.Ack{CID: payload.CID, Status: wssync.Rejected, Reason: "malformed payload"})
			continue
		}
		t, err := fromPayload(payload)
		if err != nil {
			enc.Encode(wssync.Ack{CID: payload.CID, Status: wssync.Rejected, Reason: err.Error()})
			continue
		}
		batch = append(batch, t)
	}

	peerIdentityCID := ""
	if sid := r.URL.Query().Get("session_id"); sid != "" {
		if sess, ok := s.deps.Sessions.Lookup(sid); ok {
			peerIdentityCID = sess.PeerIdentityCID
		}
	}

	putStart := time.Now()
	result, err := wssync.Ingest(r.Context(), wssync.IngestDeps{
		Store:            s.deps.Store,
		Lookup:           identityLookup(s.deps.Store),
		Engine:           s.deps.Engine,
		Trust:            s.deps.Trust,
		LocalIdentityCID: s.deps.LocalIdentityCID,
		PoolOf:           s.deps.PoolOf,
		PayloadSize:      s.deps.PayloadSize,
		Now:              s.deps.Now(),
		Algo:             s.deps.Algo,
		Signer:           s.deps.Signer,
		PeerIdentityCID:  peerIdentityCID,
	}, batch)
	s.deps.Metrics.StorePutDuration.Observe(time.Since(putStart).Seconds())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, ack := range result.Acks {
		if ack.Status == wssync.Rejected {
			s.deps.Metrics.RejectedThoughtsTotal.WithLabelValues(ack.Reason).Inc()
		}
		enc.Encode(ack)
		if flusher != nil {
			flusher.Flush()
		}
	}
	s.deps.Metrics.SyncRoundsTotal.Inc()
}

func fromPayload(p thoughtPayload) (*thought.Thought, error) {
	cid, err := wscid.Parse(p.CID)
	if err != nil {
		return nil, fmt.Errorf("parse cid: %w", err)
	}
	canonicalBytes, err := base64.StdEncoding.DecodeString(p.CanonicalBytes)
	if err != nil {
		return nil, fmt.Errorf("decode canonical_bytes: %w", err)
	}
	// Nested maps (e.g. content) must come back as map[string]interface{},
	// the only map shape canon re-encodes for verification.
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]interface{}(nil))}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("decode canonical fields: %w", err)
	}
	var fields map[string]interface{}
	if err := dm.Unmarshal(canonicalBytes, &fields); err != nil {
		return nil, fmt.Errorf("decode canonical fields: %w", err)
	}
	sig, err := hex.DecodeString(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	because := toStringSlice(fields["because"])
	t := &thought.Thought{
		CID:        cid,
		Type:       toString(fields["type"]),
		Content:    fields["content"],
		CreatedBy:  toString(fields["created_by"]),
		Because:    because,
		CreatedAt:  toInt64(fields["created_at"]),
		Visibility: toString(fields["visibility"]),
		Signature:  sig,
		Source:     p.Source,
	}
	return t, nil
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case uint64:
		return int64(t)
	default:
		return 0
	}
}

type queryRequest struct {
	QueryText string `json:"query_text"`
	PoolCID   string `json:"pool_cid"`
	TopK      int    `json:"top_k"`
}

type queryResultView struct {
	CID        string  `json:"cid"`
	Similarity float64 `json:"similarity"`
	Snippet    string  `json:"snippet"`
}

type queryResponse struct {
	Results []queryResultView `json:"results"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	waterline := 0.3
	if req.PoolCID != "" {
		if p, ok := s.deps.PoolOf(req.PoolCID); ok {
			waterline = p.Rules.Waterline
		}
	}
	results := s.deps.Index.Query(req.QueryText, index.QueryOptions{
		PoolCID:        req.PoolCID,
		ExcludePending: true,
		Waterline:      waterline,
		RecencyDecay:   0,
		TopK:           req.TopK,
		Now:            s.deps.Now(),
	})
	view := make([]queryResultView, 0, len(results))
	for _, res := range results {
		view = append(view, queryResultView{CID: res.Row.CID, Similarity: res.Relevance, Snippet: res.Row.TextSnippet})
	}
	writeJSON(w, queryResponse{Results: view})
}

type heartbeatRequest struct {
	Timestamp    int64 `json:"timestamp"`
	ThoughtCount int   `json:"thought_count"`
}

type heartbeatResponse struct {
	Timestamp    int64 `json:"timestamp"`
	ThoughtCount int   `json:"thought_count"`
	SyncNeeded   bool  `json:"sync_needed"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cids, err := s.deps.Store.AllCIDs(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, heartbeatResponse{
		Timestamp:    s.deps.Now().UnixMilli(),
		ThoughtCount: len(cids),
		SyncNeeded:   req.ThoughtCount != len(cids),
	})
}

// identityLookup builds a thought.PublicKeyLookup that resolves a
// creator's declared public key by reading its identity thought back out
// of store, the same way pkg/sync's tests do for a real node.
func identityLookup(store wssync.ThoughtStore) thought.PublicKeyLookup {
	return func(creatorCID string) (ed25519.PublicKey, bool) {
		// PublicKeyLookup carries no context parameter; identity lookups
		// during ingest are a local store read and use a background
		// context rather than the originating request's.
		t, err := store.Get(context.Background(), creatorCID)
		if err != nil || t == nil || t.Type != "identity" {
			return nil, false
		}
		m, ok := t.Content.(map[string]interface{})
		if !ok {
			return nil, false
		}
		hexKey, ok := m[thought.InlinePubkeyField].(string)
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
