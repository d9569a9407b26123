// Package retriever implements Retriever: embed the query, over-fetch from
// VectorStore, permission-filter, optionally rerank, then prune
// near-duplicates by score delta and truncate to the requested size.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/reranker"
	"github.com/ragcore/qacore/internal/vectorstore"
)

// nearDuplicateDelta is the near-duplicate pruning threshold: a hit is kept
// only if its active score differs from every already-kept hit's by more
// than this much.
const nearDuplicateDelta = 0.02

// Embedder is the slice of the embedder the retriever depends on.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the slice of the vector store the retriever depends on.
type VectorStore interface {
	Search(ctx context.Context, collection string, queryVectors [][]float32, k int) ([][]vectorstore.Hit, error)
}

// Reranker is the slice of the reranker the retriever depends on.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []reranker.Passage, topK int, scoreThreshold float64) ([]reranker.Scored, error)
}

// Result is one retrieved passage, carrying both the raw vector score and,
// when reranking ran, the rerank score.
type Result struct {
	ID          string
	Text        string
	Metadata    map[string]string
	Score       float64
	RerankScore *float64
}

// activeScore returns the rerank score if reranking ran, else the raw
// vector score.
func (r Result) activeScore() float64 {
	if r.RerankScore != nil {
		return *r.RerankScore
	}
	return r.Score
}

// Retriever runs permission-filtered, reranked vector retrieval.
type Retriever struct {
	embed      Embedder
	store      VectorStore
	rerank     Reranker
	collection string
}

// New creates a Retriever over the given documents collection.
func New(embed Embedder, store VectorStore, rerank Reranker, collection string) *Retriever {
	return &Retriever{embed: embed, store: store, rerank: rerank, collection: collection}
}

// SearchOptions configures one Search call.
type SearchOptions struct {
	TopK                 int
	UserPermission       model.Permission
	UseReranker          bool
	RerankScoreThreshold float64
	Filter               map[string]string
}

// Search runs the six-step retrieval algorithm: embed, over-fetch,
// permission filter, rerank, dedup, truncate.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	// 1. Embed query → unit vector.
	queryVec, err := r.embed.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retriever.Search: embed: %w", err)
	}

	// 2. Over-fetch 2×top_k nearest neighbors.
	overFetch := 2 * opts.TopK
	hitsBatch, err := r.store.Search(ctx, r.collection, [][]float32{queryVec}, overFetch)
	if err != nil {
		return nil, fmt.Errorf("retriever.Search: vector search: %w", err)
	}
	var hits []vectorstore.Hit
	if len(hitsBatch) > 0 {
		hits = hitsBatch[0]
	}

	// 3. Permission filter: drop ADMIN_ONLY hits unless the caller is admin.
	//    A missing permission field is treated as PUBLIC.
	filtered := make([]vectorstore.Hit, 0, len(hits))
	for _, h := range hits {
		if !passesPermission(h.Metadata, opts.UserPermission) {
			continue
		}
		if !passesFilter(h.Metadata, opts.Filter) {
			continue
		}
		filtered = append(filtered, h)
	}

	results := make([]Result, len(filtered))
	for i, h := range filtered {
		results[i] = Result{ID: h.ID, Text: h.Text, Metadata: h.Metadata, Score: h.Score}
	}

	// 4. Optional reranker.
	if opts.UseReranker && len(results) > 0 && r.rerank != nil {
		passages := make([]reranker.Passage, len(results))
		for i, res := range results {
			passages[i] = reranker.Passage{ID: res.ID, Text: res.Text, Metadata: res.Metadata}
		}
		scored, err := r.rerank.Rerank(ctx, query, passages, 2*opts.TopK, opts.RerankScoreThreshold)
		if err != nil {
			return nil, fmt.Errorf("retriever.Search: rerank: %w", err)
		}
		byID := make(map[string]Result, len(results))
		for _, res := range results {
			byID[res.ID] = res
		}
		results = results[:0]
		for _, s := range scored {
			base, ok := byID[s.Passage.ID]
			if !ok {
				continue
			}
			score := s.RerankScore
			base.RerankScore = &score
			results = append(results, base)
		}
	}

	// 5. Near-duplicate prune: sort by active score descending, keep a hit
	// iff it differs from every already-kept hit by more than 0.02.
	sort.Slice(results, func(i, j int) bool { return results[i].activeScore() > results[j].activeScore() })

	kept := make([]Result, 0, opts.TopK)
	for _, res := range results {
		if len(kept) >= opts.TopK {
			break
		}
		if isNearDuplicate(res, kept) {
			continue
		}
		kept = append(kept, res)
	}

	slog.Debug("retriever.Search", "query_len", len(query), "candidates", len(hits),
		"after_permission_filter", len(filtered), "kept", len(kept))

	return kept, nil
}

func isNearDuplicate(candidate Result, kept []Result) bool {
	for _, k := range kept {
		if diff := candidate.activeScore() - k.activeScore(); diff > -nearDuplicateDelta && diff < nearDuplicateDelta {
			return true
		}
	}
	return false
}

func passesPermission(metadata map[string]string, userPermission model.Permission) bool {
	if userPermission == model.PermissionAdminOnly {
		return true
	}
	perm, ok := metadata["permission"]
	if !ok {
		return true // missing field treated as PUBLIC
	}
	return perm != fmt.Sprintf("%d", model.PermissionAdminOnly)
}

func passesFilter(metadata map[string]string, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}
