// Copyright 2025 Wellspring Authors
//
// wellspring-seed - bootstraps a new node's identity and first pool from
// a YAML seed document. Per Wellspring Protocol Section 6: runtime CLIs
// merely seed the first configuration-aspect thought; every later
// override travels as an ordinary because-chained thought, never as a
// config file re-read by a running node.

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/config"
	"github.com/wellspring-network/wellspring/pkg/identity"
	"github.com/wellspring-network/wellspring/pkg/store"
	"github.com/wellspring-network/wellspring/pkg/thought"
)

func main() {
	seedPath := flag.String("seed", "", "path to the YAML seed document")
	flag.Parse()

	if *seedPath == "" {
		log.Fatal("usage: wellspring-seed -seed <path.yaml>")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateForSeed(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	doc, err := config.LoadSeedDocument(*seedPath)
	if err != nil {
		log.Fatalf("load seed document: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	now := time.Now().UnixMilli()
	bundle, err := identity.Create(wscid.AlgoBlake3, doc.Identity.Name, now)
	if err != nil {
		log.Fatalf("create identity: %v", err)
	}

	if err := writeIdentityKey(cfg.IdentityKeyPath, bundle); err != nil {
		log.Fatalf("write identity key: %v", err)
	}

	poolThought, err := buildPoolThought(bundle, doc, now)
	if err != nil {
		log.Fatalf("build pool thought: %v", err)
	}

	if cfg.DatabaseURL != "" {
		if err := persist(bundle, poolThought, cfg.DatabaseURL); err != nil {
			log.Fatalf("persist seed thoughts: %v", err)
		}
	} else {
		log.Printf("WELLSPRING_DATABASE_URL not set; printing seed thoughts instead of storing them")
		log.Printf("identity: %s", bundle.Identity.CID)
		log.Printf("pool: %s", poolThought.CID)
	}

	log.Printf("seeded identity %s (%s)", bundle.Identity.CID, doc.Identity.Name)
	log.Printf("seeded pool %s (%s)", poolThought.CID, doc.Pool.Name)
}

// writeIdentityKey persists the node's raw Ed25519 private key to disk so
// nodectx.New can load it on every subsequent start.
func writeIdentityKey(path string, bundle *identity.Bundle) error {
	secretContent, ok := bundle.Secret.Content.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected secret thought content shape")
	}
	hexKey, ok := secretContent["private_key"].(string)
	if !ok {
		return fmt.Errorf("secret thought missing private_key")
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return fmt.Errorf("decode private key hex: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}

func buildPoolThought(bundle *identity.Bundle, doc *config.SeedDocument, createdAt int64) (*thought.Thought, error) {
	rules := doc.Pool.Rules
	content := map[string]interface{}{
		"name":               doc.Pool.Name,
		"default_visibility": doc.Pool.DefaultVisibility,
		"admin":              bundle.Identity.CID.String(),
		"rules": map[string]interface{}{
			"waterline":         rules.Waterline,
			"accepted_schemas":  toInterfaceSlice(rules.AcceptedSchemas),
			"require_because":   rules.RequireBecause,
			"max_payload_bytes": rules.MaxPayloadBytes,
			"timestamp_unit":    rules.TimestampUnit,
			"trust_decay":       rules.TrustDecay,
		},
	}
	return thought.New(wscid.AlgoBlake3, bundle.Signer, "pool", content, bundle.Identity.CID.String(), nil, thought.VisibilityPublic, "", createdAt)
}

func toInterfaceSlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func persist(bundle *identity.Bundle, poolThought *thought.Thought, databaseURL string) error {
	ctx := context.Background()
	st, err := store.Open(ctx, databaseURL, 5, 2)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	identityCID := bundle.Identity.CID.String()
	pub := bundle.Signer.PublicKey()
	lookup := func(creatorCID string) (ed25519.PublicKey, bool) {
		if creatorCID == identityCID {
			return pub, true
		}
		return nil, false
	}
	verify := func(t *thought.Thought) error { return thought.Verify(t, lookup) }

	if _, err := st.Put(ctx, bundle.Identity, verify); err != nil {
		return fmt.Errorf("store identity thought: %w", err)
	}
	if _, err := st.Put(ctx, bundle.Secret, nil); err != nil {
		return fmt.Errorf("store secret thought: %w", err)
	}
	if _, err := st.Put(ctx, poolThought, verify); err != nil {
		return fmt.Errorf("store pool thought: %w", err)
	}
	return nil
}
