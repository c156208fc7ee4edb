// Copyright 2025 Wellspring Authors
//
// Checkpointer folds CIDs accepted since the last checkpoint into a new
// Merkle tree on demand. This is a local integrity aid, not a consensus
// mechanism: no quorum or cross-peer agreement is required, consistent
// with the protocol's "Consensus across peers" Non-goal.

package checkpoint

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wellspring-network/wellspring/pkg/kv"
)

const kvKeyPrefix = "checkpoint/"
const kvLatestKey = "checkpoint/latest"

// Record is the durable summary of one checkpoint: enough to re-derive
// membership and to answer Prove without keeping every tree in memory.
type Record struct {
	Root      string   `json:"root"`
	Size      int      `json:"size"`
	SeqNo     int      `json:"seq_no"`
	CIDs      []string `json:"cids"`
	CreatedAt int64    `json:"created_at"`
}

// Checkpointer accumulates accepted CIDs and folds them into a checkpoint
// tree whenever Fold is called; cmd/wellspring-node does not call Fold.
// Checkpoints are cached in an advisory KV store and can
// be fully rebuilt from the thought table's created_at ordering if the
// cache is lost.
type Checkpointer struct {
	mu      sync.Mutex
	cache   kv.Store // optional; nil disables persistence
	pending []string
	history []*Record
	trees   map[string]*Tree // root -> tree, kept for Prove without a cache round-trip
	seqNo   int
}

// New constructs a Checkpointer. cache may be nil for a pure in-memory
// checkpointer (e.g. tests).
func New(cache kv.Store) *Checkpointer {
	return &Checkpointer{cache: cache, trees: make(map[string]*Tree)}
}

// Observe records cidStr as accepted since the last fold. cmd/wellspring-node
// calls it once per stored CID at startup; thoughts stored later by sync
// ingest are not observed.
func (c *Checkpointer) Observe(cidStr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, cidStr)
}

// Fold builds a new checkpoint over every CID observed since the previous
// fold and resets the pending set. Returns (nil, nil) if nothing was
// pending. createdAt is the caller-supplied timestamp (never time.Now():
// the node daemon owns wall-clock reads).
func (c *Checkpointer) Fold(createdAt int64) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil, nil
	}
	cids := c.pending
	c.pending = nil

	tree, err := Build(cids)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: fold: %w", err)
	}
	c.seqNo++
	rec := &Record{
		Root:      tree.Root(),
		Size:      tree.Size(),
		SeqNo:     c.seqNo,
		CIDs:      cids,
		CreatedAt: createdAt,
	}
	c.history = append(c.history, rec)
	c.trees[rec.Root] = tree

	if c.cache != nil {
		if err := c.persist(rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (c *Checkpointer) persist(rec *Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal record: %w", err)
	}
	if err := c.cache.Set([]byte(fmt.Sprintf("%s%s", kvKeyPrefix, rec.Root)), b); err != nil {
		return fmt.Errorf("checkpoint: persist record: %w", err)
	}
	if err := c.cache.Set([]byte(kvLatestKey), []byte(rec.Root)); err != nil {
		return fmt.Errorf("checkpoint: persist latest pointer: %w", err)
	}
	return nil
}

// Latest returns the most recent checkpoint record, or nil if none has
// been folded yet.
func (c *Checkpointer) Latest() *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return nil
	}
	return c.history[len(c.history)-1]
}

// Prove returns an inclusion proof for cidStr against the checkpoint whose
// root is rootHex. rootHex must name a checkpoint folded by this instance
// since process start (checkpoints are not retained across restarts
// beyond what the KV cache holds; long-lived proof serving should re-fold
// from pkg/store's created_at-ordered history).
func (c *Checkpointer) Prove(rootHex, cidStr string) (*InclusionProof, error) {
	c.mu.Lock()
	tree, ok := c.trees[rootHex]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("checkpoint: unknown root %s", rootHex)
	}
	return tree.Prove(cidStr)
}

// Reload reconstructs in-memory history from the KV cache, rebuilding
// each record's tree so Prove works again after a restart. Order is not
// guaranteed to match original fold sequence since the cache is keyed by
// root, not sequence number; callers that need full history ordering
// should rebuild checkpoints from pkg/store's created_at log instead.
func (c *Checkpointer) Reload(roots []string) error {
	if c.cache == nil {
		return fmt.Errorf("checkpoint: reload requires a cache")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, root := range roots {
		b, err := c.cache.Get([]byte(kvKeyPrefix + root))
		if err != nil {
			return fmt.Errorf("checkpoint: reload %s: %w", root, err)
		}
		if b == nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("checkpoint: reload %s: unmarshal: %w", root, err)
		}
		tree, err := Build(rec.CIDs)
		if err != nil {
			return fmt.Errorf("checkpoint: reload %s: rebuild tree: %w", root, err)
		}
		c.history = append(c.history, &rec)
		c.trees[rec.Root] = tree
		if rec.SeqNo > c.seqNo {
			c.seqNo = rec.SeqNo
		}
	}
	return nil
}
