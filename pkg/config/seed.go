// Copyright 2025 Wellspring Authors
//
// Seed Document Loader
// Per Wellspring Protocol Section 6: runtime CLIs seed the first
// configuration-aspect thought from a YAML file; every subsequent
// override travels as a because-chained thought, never as a config file.
//
// YAML loading, ${VAR} / ${VAR:-default} environment substitution, and a
// custom Duration type mirror the teacher's pkg/config anchor-config
// loader; the schema itself is new (a pool's starting rules plus the
// node's own bootstrap identity declaration) since Wellspring has no
// anchor/contract settings to load.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML duration strings like "30s" the way the rest of
// the node's configuration does.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// SeedPoolRules is the YAML shape of a pool's starting rules, matching
// pool.Rules field for field so wellspring-seed can build the pool
// thought's content directly from it.
type SeedPoolRules struct {
	Waterline       float64  `yaml:"waterline"`
	AcceptedSchemas []string `yaml:"accepted_schemas"`
	RequireBecause  bool     `yaml:"require_because"`
	MaxPayloadBytes int      `yaml:"max_payload_bytes"`
	TimestampUnit   string   `yaml:"timestamp_unit"`
	TrustDecay      float64  `yaml:"trust_decay"`
}

// SeedDocument is the top-level shape of a wellspring-seed input file:
// the node's own identity declaration and the first pool it belongs to.
type SeedDocument struct {
	Identity struct {
		Name string `yaml:"name"`
	} `yaml:"identity"`

	Pool struct {
		Name              string        `yaml:"name"`
		DefaultVisibility string        `yaml:"default_visibility"`
		Rules             SeedPoolRules `yaml:"rules"`
	} `yaml:"pool"`

	SyncInterval Duration `yaml:"sync_interval"`
}

// LoadSeedDocument reads a seed YAML file, substituting ${VAR} and
// ${VAR:-default} references against the process environment before
// parsing.
func LoadSeedDocument(path string) (*SeedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	var doc SeedDocument
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &doc, nil
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
