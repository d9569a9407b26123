// Package trace implements TraceStore: persists a completed agent run's
// ThoughtChain unconditionally, optionally promotes it into the QA vector
// cache, and back-references the AI message with the chain's feedback
// bookkeeping.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragcore/qacore/internal/model"
)

// answerPreviewLen caps the answer_preview stored on a CacheEntry.
const answerPreviewLen = 200

// Embedder is the slice of the embedder the trace store depends on to build a
// CacheEntry's embedding.
type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string, normalize bool) ([][]float32, error)
}

// VectorStore is the slice of the vector store the trace store depends on.
type VectorStore interface {
	Insert(ctx context.Context, collection string, vectors [][]float32, texts []string, metadatas []map[string]string) ([]string, error)
}

// ChainStore is the slice of the document store the trace store depends on.
type ChainStore interface {
	Create(ctx context.Context, c *model.ThoughtChain) error
	SetCached(ctx context.Context, chainUUID, qaVectorID string) error
}

// MessageStore is the slice of the document store the trace store depends on to
// back-reference the AI message with the chain's id and feedback counters.
type MessageStore interface {
	UpdateExtra(ctx context.Context, messageUUID string, extra []byte) error
}

// Grapher is the supplemental document-relationship graph (internal/graph).
// A nil Grapher disables the supplemental feature; errors from it are
// logged but never fail SaveChain.
type Grapher interface {
	RecordCitations(ctx context.Context, documentUUIDs []string) error
}

// Config holds the store's tunables.
type Config struct {
	CacheEnabled bool
	Collection   string // the QA vector collection, distinct from the document chunk collection
}

// Store persists thought chains and promotes approved ones into the QA cache.
type Store struct {
	cfg     Config
	embed   Embedder
	vectors VectorStore
	chains  ChainStore
	msgs    MessageStore
	graph   Grapher
}

// New creates a Store.
func New(cfg Config, embed Embedder, vectors VectorStore, chains ChainStore, msgs MessageStore) *Store {
	return &Store{cfg: cfg, embed: embed, vectors: vectors, chains: chains, msgs: msgs}
}

// SetGrapher wires the supplemental document-relationship graph in after
// construction, keeping New's signature stable for callers that don't run
// Neo4j.
func (s *Store) SetGrapher(g Grapher) {
	s.graph = g
}

// SaveChain persists chain unconditionally, and, iff shouldCache and the
// cache feature is enabled, inserts a CacheEntry and marks the chain
// cached. It then always back-references the AI message's extra with the
// chain id and feedback counters, regardless of caching.
func (s *Store) SaveChain(ctx context.Context, chain *model.ThoughtChain, shouldCache bool) error {
	if err := s.chains.Create(ctx, chain); err != nil {
		return fmt.Errorf("trace.SaveChain: create chain: %w", err)
	}

	if shouldCache && s.cfg.CacheEnabled {
		if err := s.insertCacheEntry(ctx, chain); err != nil {
			// A failed cache insert does not invalidate the already-persisted
			// chain; the question is simply never served from cache.
			slog.Error("trace.SaveChain: cache insert failed, chain persisted uncached", "chain_id", chain.UUID, "error", err)
		}
	}

	if err := s.backReferenceMessage(ctx, chain); err != nil {
		return fmt.Errorf("trace.SaveChain: back-reference message: %w", err)
	}

	if s.graph != nil && len(chain.DocumentsUsed) > 1 {
		uuids := make([]string, len(chain.DocumentsUsed))
		for i, d := range chain.DocumentsUsed {
			uuids[i] = d.UUID
		}
		if err := s.graph.RecordCitations(ctx, uuids); err != nil {
			slog.Warn("trace.SaveChain: graph citation recording failed (non-fatal)", "chain_id", chain.UUID, "error", err)
		}
	}
	return nil
}

func (s *Store) insertCacheEntry(ctx context.Context, chain *model.ThoughtChain) error {
	vecs, err := s.embed.EmbedPassages(ctx, []string{chain.Question}, true)
	if err != nil {
		return fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embed question: expected 1 vector, got %d", len(vecs))
	}

	preview := chain.Answer
	if len(preview) > answerPreviewLen {
		preview = preview[:answerPreviewLen]
	}
	ids, err := s.vectors.Insert(ctx, s.cfg.Collection, vecs, []string{chain.Question}, []map[string]string{{
		"thought_chain_id": chain.UUID,
		"session_id":       chain.SessionID,
		"user_id":          chain.UserID,
		"answer_preview":   preview,
		"created_at":       chain.CreatedAt.UTC().Format(time.RFC3339),
	}})
	if err != nil {
		return fmt.Errorf("insert cache vector: %w", err)
	}
	if len(ids) != 1 {
		return fmt.Errorf("insert cache vector: expected 1 id, got %d", len(ids))
	}

	if err := s.chains.SetCached(ctx, chain.UUID, ids[0]); err != nil {
		return fmt.Errorf("mark chain cached: %w", err)
	}
	return nil
}

func (s *Store) backReferenceMessage(ctx context.Context, chain *model.ThoughtChain) error {
	if chain.MessageID == "" {
		return nil
	}
	extra, err := json.Marshal(model.MessageExtra{
		ThoughtChainID: chain.UUID,
		LikeCount:      chain.LikeCount,
		DislikeCount:   chain.DislikeCount,
	})
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	if err := s.msgs.UpdateExtra(ctx, chain.MessageID, extra); err != nil {
		return fmt.Errorf("update message extra: %w", err)
	}
	return nil
}
