// Package sqlite is the durable memory backend. Embeddings are stored as
// little-endian float32 blobs and ranked in Go; at personal-assistant scale
// (hundreds to low thousands of items per namespace) a full scan is faster
// than maintaining an index.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/picobot/picobot/memory"
)

//go:embed schema.sql
var schema string

// Store implements memory.Backend over a single sqlite database file.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. The pool is pinned to one connection; modernc's driver serializes
// writers anyway and a single connection keeps transactions simple.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Upsert inserts or replaces the item keyed by (namespace, id).
func (s *Store) Upsert(ctx context.Context, item memory.MemoryItem) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, namespace, content, embedding, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, id) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at`,
		item.ID, item.Namespace, item.Content, encodeEmbedding(item.Embedding),
		string(metadata), item.CreatedAt.UTC().Format(time.RFC3339Nano),
		item.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// Get returns the item, reporting whether it exists.
func (s *Store) Get(ctx context.Context, namespace, id string) (memory.MemoryItem, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, content, embedding, metadata_json, created_at, updated_at
		FROM memories WHERE namespace = ? AND id = ?`, namespace, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return memory.MemoryItem{}, false, nil
	}
	if err != nil {
		return memory.MemoryItem{}, false, fmt.Errorf("query memory: %w", err)
	}
	return item, true, nil
}

// Delete removes the item, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, namespace, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE namespace = ? AND id = ?`, namespace, id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return n > 0, nil
}

// Search scans the namespace and returns the top k items by cosine
// similarity, highest first.
func (s *Store) Search(ctx context.Context, namespace string, embedding []float32, k int) ([]memory.Scored, error) {
	items, err := s.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	scored := make([]memory.Scored, 0, len(items))
	for _, item := range items {
		scored = append(scored, memory.Scored{
			Item:  item,
			Score: memory.CosineSimilarity(embedding, item.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// List returns all items in a namespace.
func (s *Store) List(ctx context.Context, namespace string) ([]memory.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, content, embedding, metadata_json, created_at, updated_at
		FROM memories WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var items []memory.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return items, nil
}

// Count returns the number of items in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE namespace = ?`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (memory.MemoryItem, error) {
	var item memory.MemoryItem
	var blob []byte
	var metadata, createdAt, updatedAt string
	if err := row.Scan(&item.ID, &item.Namespace, &item.Content, &blob, &metadata, &createdAt, &updatedAt); err != nil {
		return memory.MemoryItem{}, err
	}
	item.Embedding = decodeEmbedding(blob)
	if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
		return memory.MemoryItem{}, fmt.Errorf("decode metadata: %w", err)
	}
	var err error
	if item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return memory.MemoryItem{}, fmt.Errorf("parse created_at: %w", err)
	}
	if item.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return memory.MemoryItem{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return item, nil
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
