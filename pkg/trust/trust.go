// Copyright 2025 Wellspring Authors
//
// Trust Graph - transitive trust computation over signed attestation edges
// Per Wellspring Protocol Section 4.8: Trust Graph
//
// Trust is always computed from a specific observer (there is no
// canonical global score). Edges come from attestation thoughts with
// aspect "trust"; callers feed those in via AddEdge as they are ingested,
// they are not read from the store here.

package trust

import (
	"sync"
)

// KindCycle, KindDepthExceeded, and KindUnknownIdentity are diagnostic-only
// failure kinds: per the protocol, callers never see these as errors from
// Trust/TrustForDomain, which always return a plain float64 (0 on any
// failure). No function in this package returns or records them.
type Kind string

const (
	KindCycle           Kind = "cycle"
	KindDepthExceeded   Kind = "depth_exceeded"
	KindUnknownIdentity Kind = "unknown_identity"
)

const (
	// DefaultDecay is applied once per hop when following a transitive
	// path; pools may configure a different value.
	DefaultDecay = 0.8
	// DefaultMaxDepth bounds BFS cost and models fading confidence.
	DefaultMaxDepth = 5
)

type edgeKey struct{ from, to string }

type pairKey struct{ observer, target string }

// Graph holds the directed weighted attestation-derived trust edges for
// one node's view of the network, plus the memoization cache and
// repeater designations needed to answer Trust queries cheaply.
type Graph struct {
	mu sync.RWMutex

	edges     map[edgeKey]float64
	out       map[string]map[string]struct{} // from -> set of to, for adjacency iteration
	penalties map[string]float64              // identity -> judgement penalty in [0,1]
	repeaters map[string]map[string]string    // observer -> domain -> repeater identity

	decay    float64
	maxDepth int

	cache map[pairKey]float64

	// onCacheAccess, if set, is notified after every Trust lookup with
	// whether the memoization cache already held the answer - wired to
	// the RPC server's trust-cache hit/miss counters.
	onCacheAccess func(hit bool)
}

// New constructs an empty trust graph with the default decay and depth
// bound. Use Configure to override either per pool.
func New() *Graph {
	return &Graph{
		edges:     make(map[edgeKey]float64),
		out:       make(map[string]map[string]struct{}),
		penalties: make(map[string]float64),
		repeaters: make(map[string]map[string]string),
		decay:     DefaultDecay,
		maxDepth:  DefaultMaxDepth,
		cache:     make(map[pairKey]float64),
	}
}

// Configure overrides the decay factor and/or depth bound. Pass <= 0 to
// leave a parameter at its current value.
func (g *Graph) Configure(decay float64, maxDepth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if decay > 0 {
		g.decay = decay
	}
	if maxDepth > 0 {
		g.maxDepth = maxDepth
	}
	g.invalidateCacheLocked()
}

// AddEdge records (or overwrites) the edge from -> to with the given
// weight, as derived from the most recent "trust"-aspect attestation
// thought between those identities. Any edge change drops the entire
// memoization cache.
func (g *Graph) AddEdge(from, to string, weight float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[edgeKey{from, to}] = clampWeight(weight)
	if g.out[from] == nil {
		g.out[from] = make(map[string]struct{})
	}
	g.out[from][to] = struct{}{}
	g.invalidateCacheLocked()
}

// RemoveEdge deletes the edge from -> to, if present.
func (g *Graph) RemoveEdge(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, edgeKey{from, to})
	delete(g.out[from], to)
	g.invalidateCacheLocked()
}

// SetPenalty records a judgement penalty against identity: their outbound
// vouching weights are multiplied by (1-penalty) whenever they are
// traversed as an intermediate hop.
func (g *Graph) SetPenalty(identity string, penalty float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if penalty < 0 {
		penalty = 0
	}
	if penalty > 1 {
		penalty = 1
	}
	g.penalties[identity] = penalty
	g.invalidateCacheLocked()
}

// SetRepeater designates repeater as observer's trust shortcut for domain
// (use "*" for all domains).
func (g *Graph) SetRepeater(observer, repeater, domain string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.repeaters[observer] == nil {
		g.repeaters[observer] = make(map[string]string)
	}
	g.repeaters[observer][domain] = repeater
}

func (g *Graph) invalidateCacheLocked() {
	g.cache = make(map[pairKey]float64)
}

func clampWeight(w float64) float64 {
	if w > 1 {
		return 1
	}
	if w < -1 {
		return -1
	}
	return w
}

// effectiveWeight returns the penalty-adjusted weight of edge from->to,
// and whether that edge exists at all.
func (g *Graph) effectiveWeight(from, to string) (float64, bool) {
	w, ok := g.edges[edgeKey{from, to}]
	if !ok {
		return 0, false
	}
	if p, hasPenalty := g.penalties[from]; hasPenalty {
		w = w * (1 - p)
	}
	return w, true
}

// DirectTrust returns the most recent edge weight from -> to, if any.
func (g *Graph) DirectTrust(from, to string) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.effectiveWeight(from, to)
}

// Trust computes observer's transitive trust in target. Diagnostic
// failures (cycles, depth exhaustion, unknown identities) are never
// surfaced as errors - per the protocol they collapse to a score of 0.
func (g *Graph) Trust(observer, target string) float64 {
	if observer == target {
		return 1.0
	}
	g.mu.Lock()
	if cached, ok := g.cache[pairKey{observer, target}]; ok {
		g.mu.Unlock()
		g.notifyCache(true)
		return cached
	}
	g.mu.Unlock()
	g.notifyCache(false)

	g.mu.RLock()
	var score float64
	if w, ok := g.effectiveWeight(observer, target); ok {
		// Direct trust: the observer's own attestation, undecayed.
		score = w
	} else {
		score = g.trustFrom(observer, target, g.maxDepth, map[string]struct{}{observer: {}})
	}
	g.mu.RUnlock()

	g.mu.Lock()
	g.cache[pairKey{observer, target}] = score
	g.mu.Unlock()
	return score
}

// SetCacheObserver installs a callback notified on every Trust lookup
// with whether the memoization cache already held the answer. Pass nil
// to disable.
func (g *Graph) SetCacheObserver(observer func(hit bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onCacheAccess = observer
}

func (g *Graph) notifyCache(hit bool) {
	g.mu.RLock()
	obs := g.onCacheAccess
	g.mu.RUnlock()
	if obs != nil {
		obs(hit)
	}
}

// trustFrom computes the best transitive (2+ hop) trust score from cur to
// target without revisiting any node in visited, within remainingDepth
// hops. It is only ever reached once the observer's own direct edge to
// target has been ruled out, so every hop it scores - including the last
// one into target - is a vouched-for hop and takes the per-hop decay,
// mirroring the original's `trust_so_far * weight * decay` applied at
// every step of its BFS, not just the intermediate ones. Caller holds at
// least a read lock.
func (g *Graph) trustFrom(cur, target string, remainingDepth int, visited map[string]struct{}) float64 {
	if remainingDepth <= 0 {
		return 0
	}
	best := 0.0
	found := false
	for next := range g.out[cur] {
		if _, seen := visited[next]; seen {
			continue // cycle suppression
		}
		w, ok := g.effectiveWeight(cur, next)
		if !ok {
			continue
		}

		var sub float64
		if terminal, ok := g.effectiveWeight(next, target); ok {
			sub = terminal * g.decay
		} else {
			if remainingDepth-1 <= 0 {
				continue
			}
			nextVisited := make(map[string]struct{}, len(visited)+1)
			for k := range visited {
				nextVisited[k] = struct{}{}
			}
			nextVisited[next] = struct{}{}

			sub = g.trustFrom(next, target, remainingDepth-1, nextVisited)
			if sub == 0 {
				continue
			}
		}

		proposal := w * sub * g.decay
		if !found || proposal > best {
			best = proposal
			found = true
		}
	}
	return best
}

// TrustForDomain computes observer's trust in target, honoring any
// repeater observer has designated for domain. If no repeater applies,
// it falls back to the ordinary transitive computation. The chain resets
// at the repeater: trust(observer,repeater) and trust(repeater,target)
// are each computed independently (fresh visited sets, no repeater
// recursion), and no further decay is compounded across the join.
func (g *Graph) TrustForDomain(observer, target, domain string) float64 {
	g.mu.RLock()
	repeater, ok := g.lookupRepeaterLocked(observer, domain)
	g.mu.RUnlock()
	if !ok {
		return g.Trust(observer, target)
	}
	toRepeater := g.Trust(observer, repeater)
	fromRepeater := g.Trust(repeater, target)
	return toRepeater * fromRepeater
}

func (g *Graph) lookupRepeaterLocked(observer, domain string) (string, bool) {
	domains, ok := g.repeaters[observer]
	if !ok {
		return "", false
	}
	if r, ok := domains[domain]; ok {
		return r, true
	}
	if r, ok := domains["*"]; ok {
		return r, true
	}
	return "", false
}
