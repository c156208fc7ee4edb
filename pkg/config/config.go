// Copyright 2025 Wellspring Authors
//
// Node Configuration
// Per Wellspring Protocol Section 2.1 (Ambient Stack)
//
// Config is deliberately thin: pool defaults, trust decay, and the
// embedding-model identifier are not config fields. Those arrive at
// runtime as configuration-aspect thoughts (Section 6); config.Load only
// bootstraps the things a node needs before it can read its own store -
// where its identity lives, where its data lives, and what address to
// listen on.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the node's bootstrap configuration.
type Config struct {
	// Identity
	IdentityKeyPath string // path to the node's Ed25519 private key file
	IdentityCID     string // this node's own identity thought CID, once known

	// Storage
	DataDir     string // base directory for on-disk state (audit log, WAL)
	DatabaseURL string // Postgres connection string for the Local Store

	// Network
	ListenAddr  string // RPC server bind address, e.g. "0.0.0.0:7700"
	MetricsAddr string // read from WELLSPRING_METRICS_ADDR; cmd/wellspring-node does not use it and serves /metrics on ListenAddr
	BootstrapPeers []string // addresses dialed for initial sync

	// Sync behavior
	SyncInterval time.Duration // how often to initiate an outbound sync round
	SyncTimeout  time.Duration // per-peer round-trip budget

	LogLevel string
}

// Load reads configuration from environment variables. IdentityKeyPath
// and DatabaseURL have no safe default (both default to ""); callers
// should run Validate before depending on them.
func Load() (*Config, error) {
	cfg := &Config{
		IdentityKeyPath: getEnv("WELLSPRING_IDENTITY_KEY", ""),
		IdentityCID:     getEnv("WELLSPRING_IDENTITY_CID", ""),

		DataDir:     getEnv("WELLSPRING_DATA_DIR", "./data"),
		DatabaseURL: getEnv("WELLSPRING_DATABASE_URL", ""),

		ListenAddr:     getEnv("WELLSPRING_LISTEN_ADDR", "0.0.0.0:7700"),
		MetricsAddr:    getEnv("WELLSPRING_METRICS_ADDR", ""),
		BootstrapPeers: parsePeerList(getEnv("WELLSPRING_BOOTSTRAP_PEERS", "")),

		SyncInterval: getEnvDuration("WELLSPRING_SYNC_INTERVAL", 30*time.Second),
		SyncTimeout:  getEnvDuration("WELLSPRING_SYNC_TIMEOUT", 10*time.Second),

		LogLevel: getEnv("WELLSPRING_LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate checks that the fields a running node cannot do without are
// present. Call after Load; a config destined only for wellspring-seed
// (which never opens a socket) can skip ListenAddr/DatabaseURL checks by
// calling ValidateForSeed instead.
func (c *Config) Validate() error {
	var errs []string

	if c.IdentityKeyPath == "" {
		errs = append(errs, "WELLSPRING_IDENTITY_KEY is required but not set")
	}
	if c.DataDir == "" {
		errs = append(errs, "WELLSPRING_DATA_DIR is required but not set")
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "WELLSPRING_DATABASE_URL is required but not set")
	}
	if c.ListenAddr == "" {
		errs = append(errs, "WELLSPRING_LISTEN_ADDR is required but not set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForSeed performs the relaxed validation the seed CLI needs: an
// identity key and a place to write, nothing about sockets.
func (c *Config) ValidateForSeed() error {
	var errs []string
	if c.IdentityKeyPath == "" {
		errs = append(errs, "WELLSPRING_IDENTITY_KEY is required but not set")
	}
	if c.DataDir == "" {
		errs = append(errs, "WELLSPRING_DATA_DIR is required but not set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("seed configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parsePeerList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
