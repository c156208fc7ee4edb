// Copyright 2025 Wellspring Authors
//
// Index WAL - durability for Put under the "concurrent file locking on
// synced filesystems" failure mode called out in Section 4.6.
//
// The WAL is a JSON-lines write-ahead file of index records, written by
// WAL.Append and re-applied to an Index by ReplayWAL. Index.Put does not
// write to it itself. If the write fails (e.g. the primary
// path is on a synced filesystem that briefly denies a lock), the WAL
// reconnects to a fallback path and replays the failed record there
// rather than losing it.

package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/wellspring-network/wellspring/pkg/thought"
)

type walRecord struct {
	CID        string `json:"cid"`
	Type       string `json:"type"`
	Content    any    `json:"content"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  int64  `json:"created_at"`
	PoolCID    string `json:"pool_cid"`
	Status     string `json:"appetite_status"`
	ChainDepth int    `json:"chain_depth"`
}

// WAL mirrors Put calls to disk so a crashed or restarted node can
// rebuild its Index by replaying the file, and so a transient write
// failure on the primary path does not lose the record.
type WAL struct {
	mu          sync.Mutex
	primaryPath string
	fallback    string
	file        *os.File
	usingFallback bool
}

// OpenWAL opens (creating if necessary) the write-ahead file at
// primaryPath. fallbackPath is used if primaryPath becomes unwritable
// mid-session.
func OpenWAL(primaryPath, fallbackPath string) (*WAL, error) {
	f, err := os.OpenFile(primaryPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("index: open wal %s: %w", primaryPath, err)
	}
	return &WAL{primaryPath: primaryPath, fallback: fallbackPath, file: f}, nil
}

// Append writes one record. On failure it reconnects to the fallback
// path and retries once there; a second failure is returned to the
// caller.
func (w *WAL) Append(t *thought.Thought, poolCID string, status AppetiteStatus, chainDepth int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := walRecord{
		CID:        t.CID.String(),
		Type:       t.Type,
		Content:    t.Content,
		CreatedBy:  t.CreatedBy,
		CreatedAt:  t.CreatedAt,
		PoolCID:    poolCID,
		Status:     string(status),
		ChainDepth: chainDepth,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("index: marshal wal record: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.file.Write(line); err == nil {
		return nil
	}

	if w.usingFallback || w.fallback == "" {
		return fmt.Errorf("index: wal write failed with no usable fallback")
	}
	f, ferr := os.OpenFile(w.fallback, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if ferr != nil {
		return fmt.Errorf("index: wal fallback open %s: %w", w.fallback, ferr)
	}
	_ = w.file.Close()
	w.file = f
	w.usingFallback = true

	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("index: wal fallback write: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReplayWAL reads path line by line and re-applies each record to ix and
// lookup (t.CID -> original *thought.Thought, as recovered from the Local
// Store) so an Index can be rebuilt on startup.
func ReplayWAL(path string, ix *Index, lookup func(cid string) (*thought.Thought, bool)) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: open wal for replay %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("index: decode wal record: %w", err)
		}
		t, ok := lookup(rec.CID)
		if !ok {
			continue
		}
		ix.Put(t, rec.PoolCID, AppetiteStatus(rec.Status), rec.ChainDepth)
	}
	return scanner.Err()
}
