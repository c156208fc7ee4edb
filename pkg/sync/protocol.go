// Copyright 2025 Wellspring Authors
//
// Sync Protocol - Hello, bloom exchange, visibility-filtered selection,
// dependency-ordered ingest, provenance recording.
// Per Wellspring Protocol Section 4.9: Sync Protocol

package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/index"
	"github.com/wellspring-network/wellspring/pkg/pool"
	"github.com/wellspring-network/wellspring/pkg/signer"
	"github.com/wellspring-network/wellspring/pkg/store"
	"github.com/wellspring-network/wellspring/pkg/thought"
	"github.com/wellspring-network/wellspring/pkg/trust"
)

// ProtocolVersion identifies this build's wire compatibility.
const ProtocolVersion = "wellspring/1"

// HelloRequest is the first message of a directional sync.
type HelloRequest struct {
	IdentityCID     string
	ProtocolVersion string
	Capabilities    []string
	Timestamp       int64
	Signature       []byte
}

// HelloResponse answers a HelloRequest, establishing a session id. No
// shared state beyond the session id is established at this step.
type HelloResponse struct {
	IdentityCID          string
	AcceptedCapabilities []string
	SessionID            string
	Signature            []byte
}

// ThoughtStore is the subset of pkg/store.Store's surface the sync
// protocol depends on, kept narrow so tests can supply an in-memory fake.
type ThoughtStore interface {
	Get(ctx context.Context, cidStr string) (*thought.Thought, error)
	Put(ctx context.Context, t *thought.Thought, verify store.VerifyFunc) (bool, error)
	AllCIDs(ctx context.Context) ([]string, error)
	RecordProvenance(ctx context.Context, thoughtCID, viaPeer string) error
}

// WithheldCounters tallies why candidate thoughts were not selected for a
// peer, per the protocol's "filter counter" requirement.
type WithheldCounters struct {
	LocalForever      int
	Pool              int
	Participants      int
	UnknownVisibility int
}

// Selection is the ordered, visibility-filtered send list for one peer.
type Selection struct {
	Thoughts []*thought.Thought
	Withheld WithheldCounters
}

// SelectForPeer implements steps 3-5 of the protocol: skip anything the
// peer's bloom filter already claims to have, apply the visibility
// predicate, pull in any not-yet-included creator identity thoughts
// (dependency closure), and order identities first, then the rest by
// created_at.
func SelectForPeer(ctx context.Context, src ThoughtStore, engine *pool.Engine, peerIdentityCID, peerDisplayName string, peerFilter *Filter) (*Selection, error) {
	allCIDs, err := src.AllCIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: list local cids: %w", err)
	}

	shareable := make(map[string]*thought.Thought)
	var withheld WithheldCounters

	tally := func(reason pool.WithheldReason) {
		switch reason {
		case pool.WithheldLocalForever:
			withheld.LocalForever++
		case pool.WithheldPool:
			withheld.Pool++
		case pool.WithheldParticipants:
			withheld.Participants++
		default:
			withheld.UnknownVisibility++
		}
	}

	for _, cid := range allCIDs {
		if peerFilter != nil && peerFilter.Test(cid) {
			continue
		}
		t, err := src.Get(ctx, cid)
		if err != nil {
			return nil, fmt.Errorf("sync: get %s: %w", cid, err)
		}
		if t == nil {
			continue
		}
		if ok, reason := engine.CanShare(t, peerIdentityCID, peerDisplayName); !ok {
			tally(reason)
			continue
		}
		shareable[cid] = t
	}

	// Dependency closure: any shareable thought whose creator identity is
	// not already in the send set and is likely absent at dst gets that
	// identity added first, subject to the same visibility check.
	for _, t := range shareable {
		if t.CreatedBy == thought.GenesisSentinel {
			continue
		}
		if _, already := shareable[t.CreatedBy]; already {
			continue
		}
		if peerFilter != nil && peerFilter.Test(t.CreatedBy) {
			continue
		}
		idThought, err := src.Get(ctx, t.CreatedBy)
		if err != nil {
			return nil, fmt.Errorf("sync: get creator %s: %w", t.CreatedBy, err)
		}
		if idThought == nil {
			continue // creator unknown locally either; nothing to add
		}
		if ok, reason := engine.CanShare(idThought, peerIdentityCID, peerDisplayName); !ok {
			tally(reason)
			continue
		}
		shareable[t.CreatedBy] = idThought
	}

	list := make([]*thought.Thought, 0, len(shareable))
	for _, t := range shareable {
		list = append(list, t)
	}
	sort.SliceStable(list, func(i, j int) bool {
		iIdentity := list[i].Type == "identity"
		jIdentity := list[j].Type == "identity"
		if iIdentity != jIdentity {
			return iIdentity
		}
		return list[i].CreatedAt < list[j].CreatedAt
	})

	return &Selection{Thoughts: list, Withheld: withheld}, nil
}

// AckStatus is the per-CID outcome reported back to a sender.
type AckStatus string

const (
	Accepted AckStatus = "accepted"
	Rejected AckStatus = "rejected"
)

// Ack is one ingest outcome.
type Ack struct {
	CID            string
	Status         AckStatus
	Reason         string
	AppetiteStatus index.AppetiteStatus // meaningful only when Status == Accepted
	PoolCID        string               // "" if the thought was not pool-scoped
}

// IngestDeps bundles the collaborators Ingest needs: verification,
// visibility/rate-limit enforcement, and trust lookups.
type IngestDeps struct {
	Store            ThoughtStore
	Lookup           thought.PublicKeyLookup
	Engine           *pool.Engine
	Trust            *trust.Graph
	LocalIdentityCID string
	PoolOf           func(poolCID string) (*pool.Pool, bool)
	PayloadSize      func(t *thought.Thought) int
	Now              time.Time

	// Algo, Signer, and PeerIdentityCID are used to emit step 7's
	// provenance record: a local connection{relation: received_via}
	// thought plus a store-level provenance row, minted for every thought
	// newly accepted from a peer. Signer == nil skips provenance emission
	// (used by tests that only care about verification/rate-limit
	// behavior); a real node always supplies it.
	Algo            wscid.Algo
	Signer          *signer.Signer
	PeerIdentityCID string
}

// IngestResult is the outcome of one Ingest call.
type IngestResult struct {
	Acks     []Ack
	Deferred []*thought.Thought // creator not yet known even after retry within this batch
}

// Ingest implements steps 7-8: verify (deferring unknown-creator thoughts
// and retrying once after the rest of the batch lands), enforce pool
// rules and appetite rate limits, store and classify, and report acks.
// Caller is expected to have ordered batch per SelectForPeer's contract
// (identities first) to minimize deferrals, but Ingest tolerates any
// order via its retry pass.
func Ingest(ctx context.Context, deps IngestDeps, batch []*thought.Thought) (*IngestResult, error) {
	now := deps.Now
	if now.IsZero() {
		now = time.Now()
	}
	result := &IngestResult{}
	pending := batch

	for round := 0; round < 2; round++ {
		var stillPending []*thought.Thought
		for _, t := range pending {
			ack, deferred, err := ingestOne(ctx, deps, t, now, round == 0)
			if err != nil {
				return nil, err
			}
			if deferred {
				stillPending = append(stillPending, t)
				continue
			}
			result.Acks = append(result.Acks, ack)
		}
		pending = stillPending
		if len(pending) == 0 {
			break
		}
	}
	result.Deferred = pending
	for _, t := range pending {
		result.Acks = append(result.Acks, Ack{CID: t.CID.String(), Status: Rejected, Reason: "creator identity not known"})
	}
	return result, nil
}

func ingestOne(ctx context.Context, deps IngestDeps, t *thought.Thought, now time.Time, allowDefer bool) (Ack, bool, error) {
	verr := thought.Verify(t, deps.Lookup)
	if verr != nil {
		if ve, ok := verr.(*signer.VerifyError); ok && ve.Kind == signer.VerifyMissing && allowDefer {
			return Ack{}, true, nil
		}
		return Ack{CID: t.CID.String(), Status: Rejected, Reason: verr.Error()}, false, nil
	}

	poolCID, scoped := thought.PoolCIDFromVisibility(t.Visibility)
	status := index.AppetiteWelcomed

	if scoped {
		if p, ok := deps.PoolOf(poolCID); ok {
			// Property 9: once a membership revocation lands (identity.Revoke's
			// -1.0 attestation, applied to the engine via pool.RemoveMember),
			// no further thought signed by that identity is accepted into the
			// pool. The admin is always implicitly a member.
			if deps.Engine != nil && t.CreatedBy != p.AdminCID && !deps.Engine.IsMember(poolCID, t.CreatedBy) {
				return Ack{CID: t.CID.String(), Status: Rejected, Reason: "creator is not a current member of the pool", PoolCID: poolCID}, false, nil
			}

			size := 0
			if deps.PayloadSize != nil {
				size = deps.PayloadSize(t)
			}
			switch pool.EnforceRules(p, t, size) {
			case pool.ViolationRequireBecause:
				status = index.AppetiteUnauthorizedClaim
			case pool.ViolationSchema, pool.ViolationMaxPayload:
				status = index.AppetiteFlagged
			}
		}

		if deps.Trust != nil && deps.Engine != nil {
			trustScore := deps.Trust.Trust(deps.LocalIdentityCID, t.CreatedBy)
			limiter := deps.Engine.Limiter(poolCID)
			category := limiter.Classify(t.CreatedBy, trustScore, now)
			decision := limiter.Admit(t.CreatedBy, category, now)
			if !decision.Admit {
				return Ack{CID: t.CID.String(), Status: Rejected, Reason: "rate limit exceeded", PoolCID: poolCID}, false, nil
			}
			if status == index.AppetiteWelcomed {
				status = appetiteFromTrust(trustScore)
			}
		}
	}

	stored, err := deps.Store.Put(ctx, t, nil) // already verified above
	if err != nil {
		return Ack{}, false, fmt.Errorf("sync: store %s: %w", t.CID, err)
	}

	// Step 7: a thought newly landed via sync gets a local provenance
	// record - both the lightweight store row and the durable
	// connection{relation: received_via} thought. Re-ingests of an
	// already-known thought (stored == false) don't mint a second one.
	if stored && deps.Signer != nil {
		if err := recordProvenance(ctx, deps, t, now); err != nil {
			return Ack{}, false, err
		}
	}

	return Ack{CID: t.CID.String(), Status: Accepted, AppetiteStatus: status, PoolCID: poolCID}, false, nil
}

func recordProvenance(ctx context.Context, deps IngestDeps, t *thought.Thought, now time.Time) error {
	algo := deps.Algo
	if algo == "" {
		algo = t.CID.Algo
	}
	prov, err := ProvenanceThought(algo, deps.Signer, deps.LocalIdentityCID, t.CID.String(), deps.PeerIdentityCID, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("sync: build provenance thought: %w", err)
	}
	if _, err := deps.Store.Put(ctx, prov, nil); err != nil {
		return fmt.Errorf("sync: store provenance thought: %w", err)
	}
	if err := deps.Store.RecordProvenance(ctx, t.CID.String(), deps.PeerIdentityCID); err != nil {
		return fmt.Errorf("sync: record provenance: %w", err)
	}
	return nil
}

// appetiteFromTrust maps a trust-graph score to a default appetite status
// for thoughts that passed pool rule checks cleanly, per the protocol's
// note that appetite reflects trust path strength as well as rule
// compliance. This threshold choice (0 and 0.5) is this implementation's
// resolution of an otherwise unspecified mapping.
func appetiteFromTrust(trustScore float64) index.AppetiteStatus {
	switch {
	case trustScore <= 0:
		return index.AppetiteUnverifiedSource
	case trustScore < 0.5:
		return index.AppetiteLowTrustPath
	default:
		return index.AppetiteWelcomed
	}
}

// ProvenanceThought builds the local connection{relation: received_via}
// thought a node emits after accepting a thought via sync, per step 7.
// It is always local_forever: provenance is this node's private record,
// never shared onward.
func ProvenanceThought(algo wscid.Algo, s *signer.Signer, nodeIdentityCID, acceptedThoughtCID, viaPeerIdentityCID string, createdAt int64) (*thought.Thought, error) {
	content := map[string]interface{}{
		"from":     acceptedThoughtCID,
		"to":       viaPeerIdentityCID,
		"relation": "received_via",
	}
	return thought.New(algo, s, "connection", content, nodeIdentityCID, []string{acceptedThoughtCID}, thought.VisibilityLocalForever, "", createdAt)
}
