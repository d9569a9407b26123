// Package reranker implements Reranker: cross-encoder scoring of
// (query, passage) pairs, reordering and thresholding the retriever's
// first-stage vector hits, keeping a sort-then-threshold idiom common to
// rerank steps elsewhere in this codebase.
package reranker

import (
	"context"
	"fmt"
	"sort"
)

// Passage is one candidate to be scored against a query.
type Passage struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Scored is a Passage annotated with its cross-encoder score.
type Scored struct {
	Passage
	RerankScore float64
}

// Client abstracts the cross-encoder model call (Vertex AI ranking model,
// or a local cross-encoder server; a fake in tests).
type Client interface {
	// Score returns one relevance score per passage, in the same order.
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Service scores and reorders passages for a query.
type Service struct {
	client Client
}

// New creates a Service.
func New(client Client) *Service {
	return &Service{client: client}
}

// Rerank scores every passage against query, sorts descending by score, and
// drops entries below scoreThreshold. Pass a very negative threshold to
// disable filtering. topK <= 0 means "no cap".
func (s *Service) Rerank(ctx context.Context, query string, passages []Passage, topK int, scoreThreshold float64) ([]Scored, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	scores, err := s.client.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("reranker.Rerank: %w", err)
	}
	if len(scores) != len(passages) {
		return nil, fmt.Errorf("reranker.Rerank: got %d scores for %d passages", len(scores), len(passages))
	}

	scored := make([]Scored, 0, len(passages))
	for i, p := range passages {
		if scores[i] < scoreThreshold {
			continue
		}
		scored = append(scored, Scored{Passage: p, RerankScore: scores[i]})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].RerankScore > scored[j].RerankScore
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
