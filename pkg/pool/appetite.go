// Copyright 2025 Wellspring Authors
//
// Appetite - per-pool rate limiting and attack-mode detection
// Per Wellspring Protocol Section 4.9 ("Rate limits & appetite") and
// Section 4.12 (SPEC_FULL expansion)

package pool

import (
	"sync"
	"time"
)

// Category classifies a sender for rate-limiting purposes.
type Category string

const (
	CategoryTrusted  Category = "trusted"
	CategoryExpected Category = "expected"
	CategoryUnknown  Category = "unknown"
)

// Config is a pool's appetite aspect: per-category rate limits plus
// attack-mode thresholds.
type Config struct {
	UnknownRate      int     // max unknown-sender thoughts/hour
	TrustedRate      int     // max trusted-sender thoughts/hour
	ExpectationBoost float64 // multiplier applied to UnknownRate for expected senders
	AttackThreshold  int     // total messages/hour that flips attack_mode
	AttackMode       bool
}

// DefaultAppetite returns conservative defaults.
func DefaultAppetite() Config {
	return Config{
		UnknownRate:      60,
		TrustedRate:       600,
		ExpectationBoost: 3.0,
		AttackThreshold:  2000,
	}
}

// window is a fixed one-hour bucket of counts keyed by sender; Admit
// replaces it with an empty one once an hour has passed since it opened.
type window struct {
	counts    map[string]int
	total     int
	openedAt  time.Time
}

// Limiter enforces a pool's appetite configuration.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	cur    window
	expect map[string]time.Time // senderCID -> expectation expiry
}

// NewLimiter constructs a Limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		cfg:    cfg,
		cur:    window{counts: make(map[string]int), openedAt: time.Now()},
		expect: make(map[string]time.Time),
	}
}

// SetExpectation records a non-expired expectation for senderCID, valid
// until expiresAt.
func (l *Limiter) SetExpectation(senderCID string, expiresAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expect[senderCID] = expiresAt
}

// Reconfigure replaces the limiter's configuration, e.g. following an
// updated appetite aspect thought.
func (l *Limiter) Reconfigure(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// Classify determines the rate-limit category for a sender, given their
// trust score as observed by this node.
func (l *Limiter) Classify(senderCID string, trust float64, now time.Time) Category {
	if trust >= 0.8 {
		return CategoryTrusted
	}
	l.mu.Lock()
	expiry, ok := l.expect[senderCID]
	l.mu.Unlock()
	if ok && now.Before(expiry) {
		return CategoryExpected
	}
	return CategoryUnknown
}

// Decision is the outcome of an Admit check.
type Decision struct {
	Admit          bool
	Category       Category
	AttackModeNow  bool // true the instant this call flips attack_mode on
}

// Admit records one incoming thought from senderCID in the current hourly
// window and reports whether it should be accepted under the category's
// rate limit. Crossing AttackThreshold total messages in the window
// flips AttackMode; recovery is explicit (ResetAttackMode), never
// automatic, per protocol.
func (l *Limiter) Admit(senderCID string, category Category, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.cur.openedAt) >= time.Hour {
		l.cur = window{counts: make(map[string]int), openedAt: now}
	}

	l.cur.counts[senderCID]++
	l.cur.total++

	limit := l.limitFor(category)
	admitted := l.cur.counts[senderCID] <= limit

	flipped := false
	if !l.cfg.AttackMode && l.cfg.AttackThreshold > 0 && l.cur.total >= l.cfg.AttackThreshold {
		l.cfg.AttackMode = true
		flipped = true
	}

	return Decision{Admit: admitted && !l.cfg.AttackMode, Category: category, AttackModeNow: flipped}
}

func (l *Limiter) limitFor(category Category) int {
	switch category {
	case CategoryTrusted:
		return l.cfg.TrustedRate
	case CategoryExpected:
		return int(float64(l.cfg.UnknownRate) * l.cfg.ExpectationBoost)
	default:
		return l.cfg.UnknownRate
	}
}

// Config returns the limiter's current configuration, e.g. for reporting
// rate limits back to a peer via GetSchemas.
func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// ResetAttackMode clears attack mode, e.g. following an explicit recovery
// appetite-aspect thought chained back to the attack-mode thought.
func (l *Limiter) ResetAttackMode() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.AttackMode = false
}

// InAttackMode reports the limiter's current attack-mode state.
func (l *Limiter) InAttackMode() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.AttackMode
}
