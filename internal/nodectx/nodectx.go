// Copyright 2025 Wellspring Authors
//
// Node Context - the single explicit bundle of a running node's
// collaborators, built once at startup and handed to every handler and
// background loop as a *Context. No package-level globals,
// mirroring the dependency-bundle style of the teacher's
// attestation.Service and database.Repositories.

package nodectx

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"os"
	"path/filepath"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/audit"
	"github.com/wellspring-network/wellspring/pkg/checkpoint"
	"github.com/wellspring-network/wellspring/pkg/config"
	"github.com/wellspring-network/wellspring/pkg/index"
	"github.com/wellspring-network/wellspring/pkg/kv"
	"github.com/wellspring-network/wellspring/pkg/pool"
	"github.com/wellspring-network/wellspring/pkg/signer"
	"github.com/wellspring-network/wellspring/pkg/store"
	wssync "github.com/wellspring-network/wellspring/pkg/sync"
	"github.com/wellspring-network/wellspring/pkg/trust"
)

// Context bundles everything a running Wellspring node needs: durable
// storage, the in-memory graphs derived from it, and the node's own
// signing identity. Built once in cmd/wellspring-node/main.go and passed
// down explicitly; nothing here is a package-level variable.
type Context struct {
	Config *config.Config

	Store        *store.Store
	Audit        *audit.Writer
	Cache        kv.Store
	Checkpointer *checkpoint.Checkpointer

	Trust    *trust.Graph
	Pools    *pool.Engine
	Index    *index.Index
	Sessions *wssync.Registry

	Signer           *signer.Signer
	Algo             wscid.Algo
	LocalIdentityCID string

	Logger *log.Logger
}

// New wires a Context from cfg: opens the audit log and the Local Store
// that mirrors every put into it, opens (or creates) the advisory KV
// cache, loads the node's Ed25519 identity key, and constructs the
// in-memory Trust Graph, Pool & Visibility Engine, Semantic Index, and
// sync session registry empty. Neither New nor cmd/wellspring-node fills
// them from the store's thought history.
func New(ctx context.Context, cfg *config.Config) (*Context, error) {
	logger := log.New(log.Writer(), "[Node] ", log.LstdFlags)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("nodectx: create data dir: %w", err)
	}

	auditPath := filepath.Join(cfg.DataDir, "audit.jsonl")
	auditWriter, err := audit.Open(auditPath)
	if err != nil {
		return nil, fmt.Errorf("nodectx: open audit log: %w", err)
	}

	st, err := store.Open(ctx, cfg.DatabaseURL, 25, 5,
		store.WithLogger(log.New(log.Writer(), "[Store] ", log.LstdFlags)),
		store.WithAuditWriter(auditWriter))
	if err != nil {
		auditWriter.Close()
		return nil, fmt.Errorf("nodectx: open store: %w", err)
	}

	cache, err := kv.Open("advisory", cfg.DataDir)
	if err != nil {
		st.Close()
		auditWriter.Close()
		return nil, fmt.Errorf("nodectx: open advisory cache: %w", err)
	}

	priv, err := loadIdentityKey(cfg.IdentityKeyPath)
	if err != nil {
		st.Close()
		auditWriter.Close()
		cache.Close()
		return nil, fmt.Errorf("nodectx: load identity key: %w", err)
	}
	s, err := signer.New(priv)
	if err != nil {
		st.Close()
		auditWriter.Close()
		cache.Close()
		return nil, fmt.Errorf("nodectx: build signer: %w", err)
	}

	return &Context{
		Config:           cfg,
		Store:            st,
		Audit:            auditWriter,
		Cache:            cache,
		Checkpointer:     checkpoint.New(cache),
		Trust:            trust.New(),
		Pools:            pool.NewEngine(),
		Index:            index.New(nil),
		Sessions:         wssync.NewRegistry(),
		Signer:           s,
		Algo:             wscid.AlgoBlake3,
		LocalIdentityCID: cfg.IdentityCID,
		Logger:           logger,
	}, nil
}

// Close releases every resource opened by New, in reverse order.
func (c *Context) Close() error {
	var firstErr error
	if cache, ok := c.Cache.(interface{ Close() error }); ok {
		if err := cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.Audit.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// loadIdentityKey reads a raw 64-byte Ed25519 private key from path.
func loadIdentityKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file %s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}
