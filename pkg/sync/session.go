// Copyright 2025 Wellspring Authors
//
// Session registry - tracks in-flight directional sync sessions
// Per Wellspring Protocol Section 4.9, step 1 ("Hello") and Section 5
// ("Cancellation & timeouts")

package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL bounds how long a session may sit idle before its
// deadline expires and the session is released.
const DefaultSessionTTL = 5 * time.Minute

// Session is the server-side record of one accepted Hello.
type Session struct {
	ID               string
	PeerIdentityCID  string
	Capabilities     []string
	Deadline         time.Time
}

// Registry tracks live sessions, guarded by an internal mutex per the
// shared-resource policy.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func newSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("sync: generate session id: %w", err)
	}
	return id.String(), nil
}

// Accept handles an inbound HelloRequest: it picks the intersection of
// requested and locally supported capabilities, mints a session, and
// returns the response to sign and send back. ttl <= 0 uses
// DefaultSessionTTL.
func (r *Registry) Accept(req HelloRequest, localIdentityCID string, supported []string, ttl time.Duration) (*HelloResponse, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	accepted := intersect(req.Capabilities, supported)

	r.mu.Lock()
	r.sessions[id] = &Session{
		ID:              id,
		PeerIdentityCID: req.IdentityCID,
		Capabilities:    accepted,
		Deadline:        time.Now().Add(ttl),
	}
	r.mu.Unlock()

	return &HelloResponse{
		IdentityCID:          localIdentityCID,
		AcceptedCapabilities: accepted,
		SessionID:            id,
	}, nil
}

// Lookup returns the session for id if it exists and has not expired. An
// expired session is evicted and reported as not found.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(s.Deadline) {
		delete(r.sessions, id)
		return nil, false
	}
	return s, true
}

// Release ends a session explicitly (e.g. on peer disconnect or
// cancellation).
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func intersect(want, have []string) []string {
	haveSet := make(map[string]struct{}, len(have))
	for _, h := range have {
		haveSet[h] = struct{}{}
	}
	out := make([]string, 0, len(want))
	for _, w := range want {
		if _, ok := haveSet[w]; ok {
			out = append(out, w)
		}
	}
	return out
}
