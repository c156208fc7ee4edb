// Copyright 2025 Wellspring Authors
//
// Local Store - durable key->thought map with secondary indices
// Per Wellspring Protocol Section 4.5: Local Store
//
// Backed by Postgres via database/sql + lib/pq, following the same
// connection-pooling and functional-option shape as the teacher's
// database client. Writes are serialized by the database itself
// (INSERT ... ON CONFLICT DO NOTHING keyed on cid), which gives put-or-skip
// idempotence for free and keeps partial writes from ever becoming
// visible.

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/wellspring-network/wellspring/pkg/audit"
	wscid "github.com/wellspring-network/wellspring/pkg/cid"
	"github.com/wellspring-network/wellspring/pkg/thought"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// StoreIOError wraps a failure talking to the backing database, per the
// protocol's StoreIO error kind.
type StoreIOError struct {
	Op  string
	Err error
}

func (e *StoreIOError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreIOError) Unwrap() error { return e.Err }

// Store is the durable thought database plus its secondary indices.
type Store struct {
	db     *sql.DB
	logger *log.Logger
	audit  *audit.Writer // optional; nil disables audit mirroring
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithAuditWriter attaches an append-only audit log mirroring every put.
func WithAuditWriter(w *audit.Writer) Option {
	return func(s *Store) { s.audit = w }
}

// Open connects to the Postgres database at dsn, runs migrations, and
// returns a ready Store.
func Open(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, &StoreIOError{Op: "open", Err: fmt.Errorf("dsn is empty")}
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &StoreIOError{Op: "open", Err: err}
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{
		db:     db,
		logger: log.New(log.Writer(), "[Store] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &StoreIOError{Op: "ping", Err: err}
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return &StoreIOError{Op: "migrate: read migrations dir", Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return &StoreIOError{Op: "migrate: read " + name, Err: err}
		}
		if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
			return &StoreIOError{Op: "migrate: exec " + name, Err: err}
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// VerifyFunc validates a thought's signature and CID before it is
// admitted; Put refuses to store a thought that fails verification.
type VerifyFunc func(t *thought.Thought) error

// Put stores t if its CID is not already present. It is idempotent: a
// second Put of the same CID is a no-op and does not append a duplicate
// audit log line. Put refuses thoughts that do not pass verify.
func (s *Store) Put(ctx context.Context, t *thought.Thought, verify VerifyFunc) (stored bool, err error) {
	if verify != nil {
		if err := verify(t); err != nil {
			return false, err
		}
	}

	contentJSON, err := json.Marshal(t.Content)
	if err != nil {
		return false, fmt.Errorf("store: marshal content: %w", err)
	}
	becauseJSON, err := json.Marshal(t.Because)
	if err != nil {
		return false, fmt.Errorf("store: marshal because: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO thoughts (cid, type, content, created_by, because, created_at, visibility, signature, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (cid) DO NOTHING`,
		t.CID.String(), t.Type, contentJSON, t.CreatedBy, becauseJSON, t.CreatedAt, t.Visibility,
		hexSignature(t.Signature), t.Source,
	)
	if err != nil {
		return false, &StoreIOError{Op: "put", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StoreIOError{Op: "put: rows affected", Err: err}
	}
	if n == 0 {
		return false, nil // already known; no-op
	}

	if s.audit != nil {
		if err := s.audit.Append(t); err != nil {
			s.logger.Printf("audit append failed for %s: %v", t.CID, err)
		}
	}
	return true, nil
}

// RecordProvenance stores which peer delivered a thought during sync.
func (s *Store) RecordProvenance(ctx context.Context, thoughtCID, viaPeer string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provenance (thought_cid, via_peer)
		VALUES ($1, $2)
		ON CONFLICT (thought_cid) DO NOTHING`, thoughtCID, viaPeer)
	if err != nil {
		return &StoreIOError{Op: "record provenance", Err: err}
	}
	return nil
}

// Get retrieves a thought by CID. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, cidStr string) (*thought.Thought, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cid, type, content, created_by, because, created_at, visibility, signature, source
		FROM thoughts WHERE cid = $1`, cidStr)
	t, err := scanThought(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreIOError{Op: "get", Err: err}
	}
	return t, nil
}

// Query returns thoughts matching an optional type and/or creator filter,
// most recent first, capped at limit.
func (s *Store) Query(ctx context.Context, typ, creator *string, limit int) ([]*thought.Thought, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{}
	args := []interface{}{}
	if typ != nil {
		args = append(args, *typ)
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if creator != nil {
		args = append(args, *creator)
		clauses = append(clauses, fmt.Sprintf("created_by = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT cid, type, content, created_by, because, created_at, visibility, signature, source
		FROM thoughts %s ORDER BY created_at DESC LIMIT $%d`, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreIOError{Op: "query", Err: err}
	}
	defer rows.Close()
	return collectThoughts(rows)
}

// IterSince returns all thoughts with created_at >= since, oldest first.
// Used by the background indexing task to resume from the store's
// append-log position.
func (s *Store) IterSince(ctx context.Context, since int64, limit int) ([]*thought.Thought, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT cid, type, content, created_by, because, created_at, visibility, signature, source
		FROM thoughts WHERE created_at >= $1 ORDER BY created_at ASC LIMIT $2`, since, limit)
	if err != nil {
		return nil, &StoreIOError{Op: "iter_since", Err: err}
	}
	defer rows.Close()
	return collectThoughts(rows)
}

// AllCIDs returns every CID currently stored, for building a sync bloom
// filter over the full local thought set.
func (s *Store) AllCIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cid FROM thoughts`)
	if err != nil {
		return nil, &StoreIOError{Op: "all cids", Err: err}
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, &StoreIOError{Op: "all cids: scan", Err: err}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreIOError{Op: "all cids: rows", Err: err}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanThought(row rowScanner) (*thought.Thought, error) {
	var (
		cidStr, typ, createdBy, visibility, sigHex, source string
		contentJSON, becauseJSON                            []byte
		createdAt                                            int64
	)
	if err := row.Scan(&cidStr, &typ, &contentJSON, &createdBy, &becauseJSON, &createdAt, &visibility, &sigHex, &source); err != nil {
		return nil, err
	}
	c, err := wscid.Parse(cidStr)
	if err != nil {
		return nil, fmt.Errorf("store: parse stored cid %q: %w", cidStr, err)
	}
	var content interface{}
	if err := json.Unmarshal(contentJSON, &content); err != nil {
		return nil, fmt.Errorf("store: unmarshal content: %w", err)
	}
	var because []string
	if err := json.Unmarshal(becauseJSON, &because); err != nil {
		return nil, fmt.Errorf("store: unmarshal because: %w", err)
	}
	sig, err := decodeSignature(sigHex)
	if err != nil {
		return nil, err
	}
	return &thought.Thought{
		CID: c, Type: typ, Content: content, CreatedBy: createdBy,
		Because: because, CreatedAt: createdAt, Visibility: visibility,
		Signature: sig, Source: source,
	}, nil
}

func collectThoughts(rows *sql.Rows) ([]*thought.Thought, error) {
	var out []*thought.Thought
	for rows.Next() {
		t, err := scanThought(rows)
		if err != nil {
			return nil, &StoreIOError{Op: "scan", Err: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreIOError{Op: "rows", Err: err}
	}
	return out, nil
}
