// Package embedder implements Embedder: encoding queries and passages
// into unit-norm vectors, covering both the query/passage distinction the
// retrieval path requires.
package embedder

import (
	"context"
	"fmt"
	"math"
)

// maxBatchSize is the max texts sent to the embedding API in one call.
const maxBatchSize = 250

// Client abstracts the underlying embedding API (Vertex AI text-embedding
// models in production; a fake in tests).
type Client interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Service generates unit-norm vectors for queries and passages, enforcing
// that passages never receive the query prefix and vice versa.
type Service struct {
	client        Client
	dim           int
	queryPrefix   string
	passagePrefix string
}

// Option configures a Service.
type Option func(*Service)

// WithQueryPrefix sets the prefix prepended to query text before encoding.
func WithQueryPrefix(prefix string) Option {
	return func(s *Service) { s.queryPrefix = prefix }
}

// WithPassagePrefix sets the prefix prepended to passage text before encoding.
func WithPassagePrefix(prefix string) Option {
	return func(s *Service) { s.passagePrefix = prefix }
}

// New creates a Service. dim is the fixed output dimensionality the
// collection was created with; vectors of any other length are rejected.
func New(client Client, dim int, opts ...Option) *Service {
	s := &Service{client: client, dim: dim}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbedQuery encodes a single query string into a unit-norm vector, applying
// the query prefix if configured.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embedBatched(ctx, []string{s.queryPrefix + text})
	if err != nil {
		return nil, fmt.Errorf("embedder.EmbedQuery: %w", err)
	}
	return vecs[0], nil
}

// EmbedPassages encodes a slice of passage texts into unit-norm vectors,
// batching as needed. normalize is accepted for caller symmetry but always
// treated as true: normalization is mandatory for retrieval paths.
func (s *Service) EmbedPassages(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = s.passagePrefix + t
	}
	vecs, err := s.embedBatched(ctx, prefixed)
	if err != nil {
		return nil, fmt.Errorf("embedder.EmbedPassages: %w", err)
	}
	return vecs, nil
}

func (s *Service) embedBatched(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := s.client.EmbedTexts(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		for j, vec := range vecs {
			if len(vec) != s.dim {
				return nil, fmt.Errorf("vector %d has %d dimensions, want %d", i+j, len(vec), s.dim)
			}
			vecs[j] = l2Normalize(vec)
		}
		all = append(all, vecs...)
	}

	if len(all) != len(texts) {
		return nil, fmt.Errorf("got %d vectors for %d texts", len(all), len(texts))
	}
	return all, nil
}

// l2Normalize scales vec to unit L2 norm. A zero vector is returned unchanged.
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
