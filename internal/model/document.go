package model

import (
	"context"
	"encoding/json"
	"time"
)

// Permission gates which users may retrieve a document's chunks.
type Permission int

const (
	PermissionPublic    Permission = 0
	PermissionAdminOnly Permission = 1
)

type permissionContextKey struct{}

// WithPermission returns a context carrying the caller's retrieval
// permission, so it can cross call boundaries whose signatures don't carry
// it (the agent's single-string tool contract).
func WithPermission(ctx context.Context, p Permission) context.Context {
	return context.WithValue(ctx, permissionContextKey{}, p)
}

// PermissionFromContext returns the caller's retrieval permission, defaulting
// to PUBLIC when none was set.
func PermissionFromContext(ctx context.Context) Permission {
	p, ok := ctx.Value(permissionContextKey{}).(Permission)
	if !ok {
		return PermissionPublic
	}
	return p
}

// DocStatus is the document ingestion lifecycle state. It moves monotonically
// PENDING -> PROCESSING -> {DONE, FAILED}; only an operator reset returns it
// to PENDING.
type DocStatus int

const (
	DocPending DocStatus = iota
	DocProcessing
	DocDone
	DocFailed
)

func (s DocStatus) String() string {
	switch s {
	case DocPending:
		return "PENDING"
	case DocProcessing:
		return "PROCESSING"
	case DocDone:
		return "DONE"
	case DocFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Document is the uploaded artifact tracked by DocStore. Content may be
// empty at insert time; it is filled in by the ingestion pipeline.
type Document struct {
	UUID       string          `json:"uuid"`
	Name       string          `json:"name"`
	Content    string          `json:"content"`
	PageCount  int             `json:"page_count"`
	URL        string          `json:"url,omitempty"`
	SizeBytes  int64           `json:"size_bytes"`
	Permission Permission      `json:"permission"`
	Status     DocStatus       `json:"status"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DocumentExtra is the shape written into Document.Extra once an ingestion
// task completes, successfully or not.
type DocumentExtra struct {
	EmbeddingTimeSeconds  float64    `json:"embedding_time_seconds,omitempty"`
	ProcessingTimeSeconds float64    `json:"processing_time_seconds,omitempty"`
	VectorsCount          int        `json:"vectors_count,omitempty"`
	ChunksCount           int        `json:"chunks_count,omitempty"`
	TokensPerSecond       float64    `json:"tokens_per_second,omitempty"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	Error                 string     `json:"error,omitempty"`
}

// Chunk is a vector-store-only entity: one embedded slice of a document's
// text, plus the metadata the retriever filters and ranks on. All chunks of
// a document share DocumentID and Permission.
type Chunk struct {
	ID         string            `json:"id"`
	Embedding  []float32         `json:"-"`
	Text       string            `json:"text"`
	DocumentID string            `json:"document_uuid"`
	ChunkIndex int               `json:"chunk_index"`
	ChunkCount int               `json:"chunk_count"`
	Filename   string            `json:"filename"`
	Source     string            `json:"source"`
	Permission Permission        `json:"permission"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// MaxFileSizeBytes is the maximum allowed upload size (50 MB).
const MaxFileSizeBytes = 50 * 1024 * 1024
