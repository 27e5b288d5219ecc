// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// TYPES
// =============================================================================

// Distance names the similarity metric of a collection.
type Distance string

// Cosine is the only metric the SQLite store implements.
const Cosine Distance = "cosine"

// Errors returned by stores.
var (
	// ErrDimensionMismatch means a vector does not match the collection's dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNoCollection means EnsureCollection has not been called.
	ErrNoCollection = errors.New("no collection selected")

	// ErrUnsupportedDistance means the store cannot score the requested metric.
	ErrUnsupportedDistance = errors.New("unsupported distance")

	// ErrClosed means the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// Record is one embedded chunk.
type Record struct {
	ID        string         `json:"id"`
	Hash      string         `json:"hash"`
	Text      string         `json:"text"`
	Source    string         `json:"source"`
	Embedding []float32      `json:"-"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ScoredRecord is a query match with its raw similarity in [-1, 1].
type ScoredRecord struct {
	Record
	Similarity float64 `json:"similarity"`
}

// Store is the vector storage used by Index.
type Store interface {
	// EnsureCollection creates the collection if needed and selects it.
	// An existing collection with another dimension is an error.
	EnsureCollection(ctx context.Context, name string, dim int, distance Distance) error

	// Has reports whether a record id exists in the selected collection.
	Has(ctx context.Context, id string) (bool, error)

	// Upsert stores a record; inserted is false when the id already existed.
	Upsert(ctx context.Context, rec Record) (inserted bool, err error)

	// Query returns up to limit records ranked by similarity, best first.
	Query(ctx context.Context, vector []float32, limit int) ([]ScoredRecord, error)

	// DeleteSource removes every record of a source.
	DeleteSource(ctx context.Context, source string) (int, error)

	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps vectors as little-endian float32 blobs and scores them
// in process. It is safe for concurrent use; SQLite serialises writers.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu         sync.RWMutex
	collection string
	dim        int
	closed     bool
}

// OpenSQLite opens (or creates) a store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// selected returns the active collection and dimension.
func (s *SQLiteStore) selected() (string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", 0, ErrClosed
	}
	if s.collection == "" {
		return "", 0, ErrNoCollection
	}
	return s.collection, s.dim, nil
}

// EnsureCollection implements Store.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string, dim int, distance Distance) error {
	if distance != Cosine {
		return fmt.Errorf("%w: %q", ErrUnsupportedDistance, distance)
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, dimensions, distance, created_at) VALUES (?, ?, ?, ?)`,
		name, dim, string(distance), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	var existing int
	var existingDist string
	err = s.db.QueryRowContext(ctx,
		`SELECT dimensions, distance FROM collections WHERE name = ?`, name).Scan(&existing, &existingDist)
	if err != nil {
		return fmt.Errorf("read collection %s: %w", name, err)
	}
	if existing != dim {
		return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, name, existing, dim)
	}
	if Distance(existingDist) != distance {
		return fmt.Errorf("%w: collection %s uses %s", ErrUnsupportedDistance, name, existingDist)
	}

	s.collection = name
	s.dim = dim
	return nil
}

// Has implements Store.
func (s *SQLiteStore) Has(ctx context.Context, id string) (bool, error) {
	coll, _, err := s.selected()
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE collection = ? AND id = ?`, coll, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) (bool, error) {
	coll, dim, err := s.selected()
	if err != nil {
		return false, err
	}
	if len(rec.Embedding) != dim {
		return false, fmt.Errorf("%w: got %d, collection %s has %d", ErrDimensionMismatch, len(rec.Embedding), coll, dim)
	}

	meta := []byte("{}")
	if len(rec.Metadata) > 0 {
		if meta, err = json.Marshal(rec.Metadata); err != nil {
			return false, fmt.Errorf("encode metadata: %w", err)
		}
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records (collection, id, hash, source, text, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO NOTHING
	`, coll, rec.ID, rec.Hash, rec.Source, rec.Text, encodeVector(rec.Embedding), string(meta), created.Unix())
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Query implements Store. Every record of the collection is scored.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, limit int) ([]ScoredRecord, error) {
	coll, dim, err := s.selected()
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d, collection %s has %d", ErrDimensionMismatch, len(vector), coll, dim)
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, source, text, embedding, metadata, created_at
		FROM records WHERE collection = ?
	`, coll)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var scored []ScoredRecord
	for rows.Next() {
		var (
			rec     Record
			blob    []byte
			meta    string
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.Hash, &rec.Source, &rec.Text, &blob, &meta, &created); err != nil {
			return nil, err
		}
		rec.Embedding = decodeVector(blob)
		if len(rec.Embedding) != dim {
			continue
		}
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &rec.Metadata)
		}
		rec.CreatedAt = time.Unix(created, 0)
		scored = append(scored, ScoredRecord{Record: rec, Similarity: CosineSimilarity(vector, rec.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// DeleteSource implements Store.
func (s *SQLiteStore) DeleteSource(ctx context.Context, source string) (int, error) {
	coll, _, err := s.selected()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND source = ?`, coll, source)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	coll, _, err := s.selected()
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, coll).Scan(&n)
	return n, err
}

// Clear implements Store. The collection and its dimension are kept.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	coll, _, err := s.selected()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, coll)
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// =============================================================================
// VECTOR HELPERS
// =============================================================================

// encodeVector packs v as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector. Trailing bytes are ignored.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Zero vectors and length mismatches score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
