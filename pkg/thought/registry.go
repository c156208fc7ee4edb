// Copyright 2025 Wellspring Authors
//
// Tagged-variant dispatch keyed on thought type (Section 9 design note:
// "Dynamic dispatch across thought types"). Rather than reflecting over a
// type hierarchy, handlers are registered per type tag and check the
// shape of Content themselves; unknown types are stored verbatim and
// simply never matched against a handler.

package thought

import "sync"

// Handler validates and interprets the content of a particular thought
// type. Pool-specific processors register additional handlers at
// startup; DefaultRegistry registers the core identity, connection and
// attestation handlers. Nothing is registered at init, and pool and
// aspect thoughts have no core handler.
type Handler interface {
	// Validate returns an error if t.Content does not have the shape this
	// type requires. It must not mutate t.
	Validate(t *Thought) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(t *Thought) error

func (f HandlerFunc) Validate(t *Thought) error { return f(t) }

// Registry is a tagged-variant dispatch table keyed by thought type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates a handler with a type tag, overwriting any prior
// registration (pool-specific processors may specialize a core type).
func (r *Registry) Register(typ string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// Lookup returns the handler registered for typ, if any.
func (r *Registry) Lookup(typ string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Validate dispatches t to its registered handler. Unknown types are not
// an error here - they are "stored verbatim and surfaced to pool-specific
// processors" per the protocol; callers that require a known type should
// check Lookup themselves.
func (r *Registry) Validate(t *Thought) error {
	h, ok := r.Lookup(t.Type)
	if !ok {
		return nil
	}
	return h.Validate(t)
}

// Core type tags.
const (
	TypeIdentity    = "identity"
	TypePool        = "pool"
	TypeConnection  = "connection"
	TypeAttestation = "attestation"
	TypeAspect      = "aspect"
	TypeSecret      = "secret"
	TypePoolConfig  = "pool_config"
	TypeRotation    = "rotation"
)

// DefaultRegistry returns a Registry pre-populated with validators for the
// protocol's core derived-entity types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeIdentity, HandlerFunc(validateIdentity))
	r.Register(TypeConnection, HandlerFunc(validateConnection))
	r.Register(TypeAttestation, HandlerFunc(validateAttestation))
	return r
}

func validateIdentity(t *Thought) error {
	m, ok := t.Content.(map[string]interface{})
	if !ok {
		return errShape(t, "identity content must be a map")
	}
	if _, ok := m["name"]; !ok {
		return errShape(t, "identity content missing \"name\"")
	}
	if _, ok := m["pubkey"]; !ok {
		return errShape(t, "identity content missing \"pubkey\"")
	}
	return nil
}

func validateConnection(t *Thought) error {
	m, ok := t.Content.(map[string]interface{})
	if !ok {
		return errShape(t, "connection content must be a map")
	}
	for _, field := range []string{"from", "to", "relation"} {
		if _, ok := m[field]; !ok {
			return errShape(t, "connection content missing \""+field+"\"")
		}
	}
	return nil
}

func validateAttestation(t *Thought) error {
	m, ok := t.Content.(map[string]interface{})
	if !ok {
		return errShape(t, "attestation content must be a map")
	}
	if _, ok := m["on"]; !ok {
		return errShape(t, "attestation content missing \"on\"")
	}
	if _, ok := m["weight"]; !ok {
		return errShape(t, "attestation content missing \"weight\"")
	}
	return nil
}

type shapeError struct {
	Type string
	Msg  string
}

func (e *shapeError) Error() string { return "thought: " + e.Type + ": " + e.Msg }

func errShape(t *Thought, msg string) error {
	return &shapeError{Type: t.Type, Msg: msg}
}
