// Copyright 2025 Wellspring Authors
//
// Pool & Visibility Engine
// Per Wellspring Protocol Section 4.7: Pool & Visibility Engine

package pool

import (
	"sync"
)

// Rules are a pool's ingest-time enforcement policy, carried by the
// pool thought's content and superseded by chained pool_config thoughts.
type Rules struct {
	Waterline       float64  // minimum relevance surfaced by queries; default 0.3
	AcceptedSchemas []string // empty = any type accepted
	RequireBecause  bool     // reject thoughts with an empty `because` list
	MaxPayloadBytes int      // 0 = unbounded
	TimestampUnit   string   // "ms" or "iso8601"
	TrustDecay      float64  // per-pool override of the trust graph's decay factor
}

// DefaultRules returns the protocol's documented defaults.
func DefaultRules() Rules {
	return Rules{
		Waterline:     0.3,
		TimestampUnit: "ms",
		TrustDecay:    0.8,
	}
}

// Pool is the Go-side view of a "pool" thought's content.
type Pool struct {
	CID               string
	Name              string
	DefaultVisibility string
	AdminCID          string
	Rules             Rules
	// ConfigChain is the CID of the most recent pool_config thought
	// superseding these rules, if any (because-chained to the previous).
	ConfigChain string
}

// Engine tracks pool definitions, membership sets, and peering
// agreements, and evaluates the visibility predicate at share time.
type Engine struct {
	mu sync.RWMutex

	pools      map[string]*Pool
	members    map[string]map[string]struct{} // poolCID -> member identity CID set
	peerShares map[string]map[string]struct{} // peerIdentityCID -> set of poolCIDs shared via agreement

	appetites map[string]*Limiter // poolCID -> rate limiter
}

// NewEngine constructs an empty Pool & Visibility Engine.
func NewEngine() *Engine {
	return &Engine{
		pools:      make(map[string]*Pool),
		members:    make(map[string]map[string]struct{}),
		peerShares: make(map[string]map[string]struct{}),
		appetites:  make(map[string]*Limiter),
	}
}

// UpsertPool records or updates a pool definition.
func (e *Engine) UpsertPool(p *Pool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pools[p.CID] = p
}

// Pool returns the pool definition for cid, if known.
func (e *Engine) Pool(cid string) (*Pool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pools[cid]
	return p, ok
}

// AddMember records identityCID as a member of poolCID. Called once a
// member_of connection thought is corroborated by a bilateral
// attestation from both the member and the pool admin (see ResolveMembership).
func (e *Engine) AddMember(poolCID, identityCID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.members[poolCID] == nil {
		e.members[poolCID] = make(map[string]struct{})
	}
	e.members[poolCID][identityCID] = struct{}{}
}

// RemoveMember revokes membership (e.g. following a revocation attestation).
func (e *Engine) RemoveMember(poolCID, identityCID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.members[poolCID], identityCID)
}

// IsMember reports whether identityCID is a known member of poolCID.
// Missing membership records conservatively return false (withhold).
func (e *Engine) IsMember(poolCID, identityCID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.members[poolCID][identityCID]
	return ok
}

// GrantPeerShare records that poolCID's scoped thoughts may be shared
// with peerIdentityCID even though that peer is not a pool member,
// per a bilateral peering agreement between the two nodes.
func (e *Engine) GrantPeerShare(peerIdentityCID, poolCID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peerShares[peerIdentityCID] == nil {
		e.peerShares[peerIdentityCID] = make(map[string]struct{})
	}
	e.peerShares[peerIdentityCID][poolCID] = struct{}{}
}

func (e *Engine) hasPeerShare(peerIdentityCID, poolCID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.peerShares[peerIdentityCID][poolCID]
	return ok
}

// Limiter returns (creating if necessary) the appetite rate limiter for a pool.
func (e *Engine) Limiter(poolCID string) *Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.appetites[poolCID]
	if !ok {
		l = NewLimiter(DefaultAppetite())
		e.appetites[poolCID] = l
	}
	return l
}
