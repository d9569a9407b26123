// Package vectorstore implements VectorStore: a typed wrapper over a
// pgvector-backed vector index in PostgreSQL. Each named collection is a
// physical table with a `vector(dim)` column and a cosine index; search,
// metadata queries, and expression deletes all resolve the collection name
// to its table.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Metric is the distance metric a collection is created with. Only COSINE is
// supported; the field exists to make the contract explicit at call sites.
type Metric string

const CosineMetric Metric = "COSINE"

// Hit is one search or query result.
type Hit struct {
	ID       string
	Distance float64
	Score    float64 // 1 / (1 + distance)
	Text     string
	Metadata map[string]string
}

// Store is a pgvector-backed VectorStore. One Store instance serves any
// number of named collections, each backed by its own table.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an already-configured pgvector-aware pool (see
// internal/pgpool.NewPool).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// collectionTable maps a logical collection name to its physical table name.
// Only non-empty names made of [a-z0-9_] are accepted, which keeps the
// result a safe identifier for string-built SQL below.
func collectionTable(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("vectorstore: empty collection name")
	}
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return "", fmt.Errorf("vectorstore: invalid collection name %q", name)
		}
	}
	return "vs_" + name, nil
}

// CreateCollection idempotently creates a collection's backing table and
// cosine index with the given vector dimensionality.
func (s *Store) CreateCollection(ctx context.Context, name string, dim int, metric Metric) error {
	table, err := collectionTable(name)
	if err != nil {
		return err
	}
	if metric != CosineMetric {
		return fmt.Errorf("vectorstore.CreateCollection: unsupported metric %q", metric)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			text TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table, dim)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorstore.CreateCollection: create table: %w", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops)`, table, table)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("vectorstore.CreateCollection: create index: %w", err)
	}
	return nil
}

// Insert stores vectors/texts/metadatas (same length slices) and returns the
// assigned ids. Flush completes before returning: subsequent searches on the
// same pool see these rows, since Postgres commits are visible immediately.
func (s *Store) Insert(ctx context.Context, collection string, vectors [][]float32, texts []string, metadatas []map[string]string) ([]string, error) {
	table, err := collectionTable(collection)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) || len(texts) != len(metadatas) {
		return nil, fmt.Errorf("vectorstore.Insert: mismatched slice lengths")
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	ids := make([]string, len(vectors))
	batch := &pgx.Batch{}
	for i := range vectors {
		ids[i] = uuid.New().String()
		metaJSON, err := json.Marshal(metadatas[i])
		if err != nil {
			return nil, fmt.Errorf("vectorstore.Insert: marshal metadata %d: %w", i, err)
		}
		batch.Queue(
			fmt.Sprintf(`INSERT INTO %s (id, embedding, text, metadata) VALUES ($1, $2, $3, $4)`, table),
			ids[i], pgvector.NewVector(vectors[i]), texts[i], metaJSON,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range vectors {
		if _, err := br.Exec(); err != nil {
			return nil, fmt.Errorf("vectorstore.Insert: row %d: %w", i, err)
		}
	}
	return ids, nil
}

// Search runs one cosine nearest-neighbor search per query vector, returning
// up to k Hits each, ordered by ascending distance (descending score).
func (s *Store) Search(ctx context.Context, collection string, queryVectors [][]float32, k int) ([][]Hit, error) {
	table, err := collectionTable(collection)
	if err != nil {
		return nil, err
	}

	out := make([][]Hit, len(queryVectors))
	sql := fmt.Sprintf(`
		SELECT id, text, metadata, (embedding <=> $1::vector) AS distance
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2`, table)

	for qi, qv := range queryVectors {
		rows, err := s.pool.Query(ctx, sql, pgvector.NewVector(qv), k)
		if err != nil {
			return nil, fmt.Errorf("vectorstore.Search: query %d: %w", qi, err)
		}
		var hits []Hit
		for rows.Next() {
			var h Hit
			var metaJSON []byte
			if err := rows.Scan(&h.ID, &h.Text, &metaJSON, &h.Distance); err != nil {
				rows.Close()
				return nil, fmt.Errorf("vectorstore.Search: scan: %w", err)
			}
			h.Score = 1.0 / (1.0 + h.Distance)
			h.Metadata = decodeMetadata(metaJSON)
			hits = append(hits, h)
		}
		rows.Close()
		out[qi] = hits
	}
	return out, nil
}

// Query runs a metadata-only predicate lookup (equality on every key/value
// pair in expr), with no vector involved.
func (s *Store) Query(ctx context.Context, collection string, expr map[string]string, limit int) ([]Hit, error) {
	table, err := collectionTable(collection)
	if err != nil {
		return nil, err
	}

	conds, args, i, err := buildMetadataConds(expr)
	if err != nil {
		return nil, err
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	sql := fmt.Sprintf(`SELECT id, text, metadata FROM %s %s LIMIT $%d`, table, where, i)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore.Query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var metaJSON []byte
		if err := rows.Scan(&h.ID, &h.Text, &metaJSON); err != nil {
			return nil, fmt.Errorf("vectorstore.Query: scan: %w", err)
		}
		h.Metadata = decodeMetadata(metaJSON)
		hits = append(hits, h)
	}
	return hits, nil
}

// DeleteByExpr deletes every row whose metadata matches every key/value pair
// in expr. Used for cascading document deletion and QA eviction.
func (s *Store) DeleteByExpr(ctx context.Context, collection string, expr map[string]string) error {
	table, err := collectionTable(collection)
	if err != nil {
		return err
	}
	if len(expr) == 0 {
		return fmt.Errorf("vectorstore.DeleteByExpr: refusing unconditional delete on %s", table)
	}

	conds, args, _, err := buildMetadataConds(expr)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf(`DELETE FROM %s WHERE %s`, table, strings.Join(conds, " AND "))
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("vectorstore.DeleteByExpr: %w", err)
	}
	return nil
}

// Count returns the number of rows in collection matching expr.
func (s *Store) Count(ctx context.Context, collection string, expr map[string]string) (int, error) {
	table, err := collectionTable(collection)
	if err != nil {
		return 0, err
	}

	conds, args, _, err := buildMetadataConds(expr)
	if err != nil {
		return 0, err
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var count int
	sql := fmt.Sprintf(`SELECT count(*) FROM %s %s`, table, where)
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("vectorstore.Count: %w", err)
	}
	return count, nil
}

// buildMetadataConds turns an equality-filter map into parameterized SQL
// conditions. Metadata keys are validated against an identifier charset so
// they can be safely interpolated into the JSONB ->> operator (values always
// travel as bind parameters).
func buildMetadataConds(expr map[string]string) ([]string, []interface{}, int, error) {
	var conds []string
	var args []interface{}
	i := 1
	for k, v := range expr {
		if !isSafeMetadataKey(k) {
			return nil, nil, 0, fmt.Errorf("vectorstore: invalid metadata key %q", k)
		}
		conds = append(conds, fmt.Sprintf("metadata->>'%s' = $%d", k, i))
		args = append(args, v)
		i++
	}
	return conds, args, i, nil
}

func isSafeMetadataKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func decodeMetadata(raw []byte) map[string]string {
	m := map[string]string{}
	_ = json.Unmarshal(raw, &m)
	return m
}

// RetryBackoff is the capped exponential backoff the ingestion pipeline uses
// when the store is unavailable at startup.
func RetryBackoff(attempt int) time.Duration {
	d := time.Second * time.Duration(1<<uint(attempt))
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
