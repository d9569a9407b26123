package retriever

import (
	"context"
	"testing"

	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/reranker"
	"github.com/ragcore/qacore/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeStore struct {
	hits []vectorstore.Hit
}

func (f fakeStore) Search(ctx context.Context, collection string, queryVectors [][]float32, k int) ([][]vectorstore.Hit, error) {
	n := k
	if n > len(f.hits) {
		n = len(f.hits)
	}
	return [][]vectorstore.Hit{f.hits[:n]}, nil
}

func TestSearch_FiltersAdminOnlyForPublicUser(t *testing.T) {
	store := fakeStore{hits: []vectorstore.Hit{
		{ID: "a", Text: "public chunk", Score: 0.9, Metadata: map[string]string{"permission": "0"}},
		{ID: "b", Text: "admin chunk", Score: 0.95, Metadata: map[string]string{"permission": "1"}},
	}}
	r := New(fakeEmbedder{}, store, nil, "doc_chunks")

	results, err := r.Search(context.Background(), "q", SearchOptions{TopK: 5, UserPermission: model.PermissionPublic})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	for _, res := range results {
		if res.ID == "b" {
			t.Error("admin-only chunk should be filtered out for a public user")
		}
	}
}

func TestSearch_MissingPermissionFieldTreatedAsPublic(t *testing.T) {
	store := fakeStore{hits: []vectorstore.Hit{
		{ID: "a", Text: "chunk", Score: 0.9, Metadata: map[string]string{}},
	}}
	r := New(fakeEmbedder{}, store, nil, "doc_chunks")

	results, err := r.Search(context.Background(), "q", SearchOptions{TopK: 5, UserPermission: model.PermissionPublic})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the chunk with no permission field to pass through, got %d results", len(results))
	}
}

func TestSearch_NearDuplicatePrune(t *testing.T) {
	store := fakeStore{hits: []vectorstore.Hit{
		{ID: "a", Text: "one", Score: 0.900},
		{ID: "b", Text: "two", Score: 0.901}, // within 0.02 of "a" -> pruned
		{ID: "c", Text: "three", Score: 0.700},
	}}
	r := New(fakeEmbedder{}, store, nil, "doc_chunks")

	results, err := r.Search(context.Background(), "q", SearchOptions{TopK: 5, UserPermission: model.PermissionAdminOnly})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected near-duplicate pruning to drop one of a/b, got %d results: %+v", len(results), results)
	}
}

func TestSearch_CapsAtTopK(t *testing.T) {
	hits := make([]vectorstore.Hit, 10)
	for i := range hits {
		hits[i] = vectorstore.Hit{ID: string(rune('a' + i)), Text: "x", Score: float64(10-i) / 10}
	}
	store := fakeStore{hits: hits}
	r := New(fakeEmbedder{}, store, nil, "doc_chunks")

	results, err := r.Search(context.Background(), "q", SearchOptions{TopK: 3, UserPermission: model.PermissionAdminOnly})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
}

type fakeReranker struct{}

func (fakeReranker) Rerank(ctx context.Context, query string, passages []reranker.Passage, topK int, scoreThreshold float64) ([]reranker.Scored, error) {
	out := make([]reranker.Scored, len(passages))
	for i, p := range passages {
		out[i] = reranker.Scored{Passage: p, RerankScore: float64(len(passages) - i)}
	}
	return out, nil
}

func TestSearch_UsesRerankScoreAsActiveScore(t *testing.T) {
	store := fakeStore{hits: []vectorstore.Hit{
		{ID: "a", Text: "x", Score: 0.1},
		{ID: "b", Text: "y", Score: 0.9},
	}}
	r := New(fakeEmbedder{}, store, fakeReranker{}, "doc_chunks")

	results, err := r.Search(context.Background(), "q", SearchOptions{TopK: 5, UseReranker: true, UserPermission: model.PermissionAdminOnly})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].RerankScore == nil {
		t.Fatal("expected RerankScore to be set after reranking")
	}
}

func TestGetContext_StopsBeforeExceedingBudget(t *testing.T) {
	store := fakeStore{hits: []vectorstore.Hit{
		{ID: "a", Text: "short text here", Score: 0.9, Metadata: map[string]string{"filename": "a.pdf"}},
		{ID: "b", Text: "another chunk that is also reasonably long for this test case", Score: 0.1, Metadata: map[string]string{"filename": "b.pdf"}},
	}}
	r := New(fakeEmbedder{}, store, nil, "doc_chunks")

	ctxText, used, err := r.GetContext(context.Background(), "q", SearchOptions{TopK: 5, UserPermission: model.PermissionAdminOnly}, 40)
	if err != nil {
		t.Fatalf("GetContext() error: %v", err)
	}
	if len(used) != 1 {
		t.Fatalf("expected only the first (always kept) block within a 40-char budget, got %d blocks", len(used))
	}
	if ctxText == "" {
		t.Fatal("expected non-empty context")
	}
}
