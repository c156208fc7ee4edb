// Copyright 2025 Wellspring Authors
//
// Audit log - append-only JSON-lines mirror of every stored thought
// Per Wellspring Protocol Section 4.5 and Section 6 (Audit log)
//
// Each line is a complete, self-contained thought record. File order is
// insertion order and is explicitly NOT authoritative - it exists for
// recovery and interchange, not as a source of truth for conflict
// resolution.

package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/wellspring-network/wellspring/pkg/thought"
)

// line is the on-disk JSON shape of one audit record.
type line struct {
	CID        string      `json:"cid"`
	Type       string      `json:"type"`
	Content    interface{} `json:"content"`
	CreatedBy  string      `json:"created_by"`
	Because    []string    `json:"because"`
	CreatedAt  int64       `json:"created_at"`
	Visibility string      `json:"visibility,omitempty"`
	Signature  string      `json:"signature"`
	Source     string      `json:"source,omitempty"`
}

// Writer appends thoughts to a JSON-lines file, one per put.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// Open opens (creating if necessary) the audit log file at path for
// appending.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &Writer{file: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one JSON line mirroring t. Safe for concurrent use.
func (w *Writer) Append(t *thought.Thought) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(line{
		CID:        t.CID.String(),
		Type:       t.Type,
		Content:    t.Content,
		CreatedBy:  t.CreatedBy,
		Because:    t.Because,
		CreatedAt:  t.CreatedAt,
		Visibility: t.Visibility,
		Signature:  hex.EncodeToString(t.Signature),
		Source:     t.Source,
	})
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
