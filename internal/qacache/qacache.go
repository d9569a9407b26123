// Package qacache implements QACache: similarity lookup into the QA
// vector collection plus the feedback-driven eviction protocol.
package qacache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/vectorstore"
)

// topKCandidates is the fixed candidate count pulled before filtering.
const topKCandidates = 5

// Embedder is the slice of the embedder the cache depends on.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the slice of the vector store the cache depends on.
type VectorStore interface {
	Search(ctx context.Context, collection string, queryVectors [][]float32, k int) ([][]vectorstore.Hit, error)
	DeleteByExpr(ctx context.Context, collection string, expr map[string]string) error
}

// ChainStore is the slice of the document store the cache depends on.
type ChainStore interface {
	GetByID(ctx context.Context, chainUUID string) (*model.ThoughtChain, error)
	SetFeedback(ctx context.Context, chainUUID, userID string, kind model.FeedbackKind) (*model.ThoughtChain, bool, error)
	ClearCache(ctx context.Context, chainUUID string) error
}

// Config holds the cache's tunables.
type Config struct {
	Enabled    bool
	Threshold  float64       // minimum vectorstore hit score (1/(1+distance)), e.g. 0.85
	TTL        time.Duration // <= 0 disables expiry
	Collection string
}

// Cache serves answers to semantically similar past questions.
type Cache struct {
	cfg    Config
	embed  Embedder
	store  VectorStore
	chains ChainStore
}

// New creates a Cache.
func New(cfg Config, embed Embedder, store VectorStore, chains ChainStore) *Cache {
	return &Cache{cfg: cfg, embed: embed, store: store, chains: chains}
}

// Hit is a successful find_similar lookup.
type Hit struct {
	Question       string
	Answer         string
	ThoughtChainID string
	ThoughtChain   *model.ThoughtChain
	Similarity     float64
	Documents      []model.DocumentRef
	LikeCount      int
	DislikeCount   int
}

// FindSimilar looks up a cached answer for a semantically similar
// question. Returns (nil, nil) on a clean miss; a non-nil error indicates
// an infrastructure failure.
func (c *Cache) FindSimilar(ctx context.Context, question string, userID string, skipCache bool) (*Hit, error) {
	if skipCache || !c.cfg.Enabled {
		return nil, nil
	}

	queryVec, err := c.embed.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("qacache.FindSimilar: embed: %w", err)
	}

	hitsBatch, err := c.store.Search(ctx, c.cfg.Collection, [][]float32{queryVec}, topKCandidates)
	if err != nil {
		return nil, fmt.Errorf("qacache.FindSimilar: search: %w", err)
	}
	var candidates []vectorstore.Hit
	if len(hitsBatch) > 0 {
		candidates = hitsBatch[0]
	}

	var best *Hit
	var bestCombined float64
	now := time.Now().UTC()

	for _, h := range candidates {
		if h.Score < c.cfg.Threshold {
			continue
		}
		chainID := h.Metadata["thought_chain_id"]
		if chainID == "" {
			continue
		}
		chain, err := c.chains.GetByID(ctx, chainID)
		if err != nil {
			slog.Warn("qacache.FindSimilar: failed to load chain, skipping candidate", "chain_id", chainID, "error", err)
			continue
		}
		if chain == nil {
			continue
		}
		if c.cfg.TTL > 0 && now.Sub(chain.CreatedAt) > c.cfg.TTL {
			continue
		}
		if chain.DislikeCount-chain.LikeCount >= 3 {
			continue
		}

		combined := 0.6*h.Score + minFloat(float64(chain.LikeCount)*0.05, 0.2) - 0.1*float64(chain.DislikeCount)
		if best == nil || combined > bestCombined {
			best = &Hit{
				Question:       chain.Question,
				Answer:         chain.Answer,
				ThoughtChainID: chain.UUID,
				ThoughtChain:   chain,
				Similarity:     h.Score,
				Documents:      chain.DocumentsUsed,
				LikeCount:      chain.LikeCount,
				DislikeCount:   chain.DislikeCount,
			}
			bestCombined = combined
		}
	}

	return best, nil
}

// UpdateFeedback records a like/dislike against a cached thought chain,
// following a delete-vector-then-clear-flags eviction ordering when the
// dislike threshold is crossed.
func (c *Cache) UpdateFeedback(ctx context.Context, chainUUID, userID string, kind model.FeedbackKind) error {
	updated, shouldEvict, err := c.chains.SetFeedback(ctx, chainUUID, userID, kind)
	if err != nil {
		return fmt.Errorf("qacache.UpdateFeedback: %w", err)
	}

	if shouldEvict && updated.IsCached {
		if err := c.evict(ctx, updated); err != nil {
			return fmt.Errorf("qacache.UpdateFeedback: evict: %w", err)
		}
	}
	return nil
}

// evict deletes the cache's vector entry first, then clears the chain's
// cache flags, in an ordering chosen to avoid leaving an orphaned vector
// (a failure here leaves is_cached=true pointing at a dead vector id, which
// a later feedback attempt or janitor must retry).
func (c *Cache) evict(ctx context.Context, chain *model.ThoughtChain) error {
	if err := c.store.DeleteByExpr(ctx, c.cfg.Collection, map[string]string{"thought_chain_id": chain.UUID}); err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	if err := c.chains.ClearCache(ctx, chain.UUID); err != nil {
		return fmt.Errorf("clear chain flags: %w", err)
	}
	slog.Info("qacache: evicted entry", "chain_id", chain.UUID,
		"like_count", chain.LikeCount, "dislike_count", chain.DislikeCount)
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
