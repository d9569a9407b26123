package qacache

import (
	"context"
	"testing"
	"time"

	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeStore struct {
	hits    []vectorstore.Hit
	deleted map[string]bool
}

func (f *fakeStore) Search(ctx context.Context, collection string, queryVectors [][]float32, k int) ([][]vectorstore.Hit, error) {
	n := k
	if n > len(f.hits) {
		n = len(f.hits)
	}
	return [][]vectorstore.Hit{f.hits[:n]}, nil
}

func (f *fakeStore) DeleteByExpr(ctx context.Context, collection string, expr map[string]string) error {
	if f.deleted == nil {
		f.deleted = map[string]bool{}
	}
	f.deleted[expr["thought_chain_id"]] = true
	return nil
}

type fakeChains struct {
	chains      map[string]*model.ThoughtChain
	feedbackErr error
	evict       bool
	cleared     map[string]bool
}

func newFakeChains() *fakeChains {
	return &fakeChains{chains: map[string]*model.ThoughtChain{}, cleared: map[string]bool{}}
}

func (f *fakeChains) GetByID(ctx context.Context, chainUUID string) (*model.ThoughtChain, error) {
	return f.chains[chainUUID], nil
}

func (f *fakeChains) SetFeedback(ctx context.Context, chainUUID, userID string, kind model.FeedbackKind) (*model.ThoughtChain, bool, error) {
	if f.feedbackErr != nil {
		return nil, false, f.feedbackErr
	}
	c := f.chains[chainUUID]
	return c, f.evict, nil
}

func (f *fakeChains) ClearCache(ctx context.Context, chainUUID string) error {
	f.cleared[chainUUID] = true
	return nil
}

func baseConfig() Config {
	return Config{Enabled: true, Threshold: 0.85, Collection: "qa_cache"}
}

func TestFindSimilar_SkipCacheReturnsNil(t *testing.T) {
	c := New(baseConfig(), fakeEmbedder{}, &fakeStore{}, newFakeChains())
	hit, err := c.FindSimilar(context.Background(), "q", "user-1", true)
	if err != nil {
		t.Fatalf("FindSimilar() error: %v", err)
	}
	if hit != nil {
		t.Fatal("expected nil hit when skipCache is set")
	}
}

func TestFindSimilar_DisabledReturnsNil(t *testing.T) {
	cfg := baseConfig()
	cfg.Enabled = false
	c := New(cfg, fakeEmbedder{}, &fakeStore{}, newFakeChains())
	hit, err := c.FindSimilar(context.Background(), "q", "user-1", false)
	if err != nil {
		t.Fatalf("FindSimilar() error: %v", err)
	}
	if hit != nil {
		t.Fatal("expected nil hit when cache is disabled")
	}
}

func TestFindSimilar_BelowThresholdMisses(t *testing.T) {
	store := &fakeStore{hits: []vectorstore.Hit{
		{ID: "qa-1", Score: 0.5, Metadata: map[string]string{"thought_chain_id": "chain-1"}},
	}}
	chains := newFakeChains()
	chains.chains["chain-1"] = &model.ThoughtChain{UUID: "chain-1", CreatedAt: time.Now().UTC()}
	c := New(baseConfig(), fakeEmbedder{}, store, chains)

	hit, err := c.FindSimilar(context.Background(), "q", "user-1", false)
	if err != nil {
		t.Fatalf("FindSimilar() error: %v", err)
	}
	if hit != nil {
		t.Fatal("expected a miss for a below-threshold candidate")
	}
}

func TestFindSimilar_HeavilyDownvotedChainDropped(t *testing.T) {
	store := &fakeStore{hits: []vectorstore.Hit{
		{ID: "qa-1", Score: 0.95, Metadata: map[string]string{"thought_chain_id": "chain-1"}},
	}}
	chains := newFakeChains()
	chains.chains["chain-1"] = &model.ThoughtChain{
		UUID: "chain-1", CreatedAt: time.Now().UTC(), LikeCount: 0, DislikeCount: 3,
	}
	c := New(baseConfig(), fakeEmbedder{}, store, chains)

	hit, err := c.FindSimilar(context.Background(), "q", "user-1", false)
	if err != nil {
		t.Fatalf("FindSimilar() error: %v", err)
	}
	if hit != nil {
		t.Fatal("expected a chain at the eviction threshold to be dropped from candidates")
	}
}

func TestFindSimilar_ExpiredChainDropped(t *testing.T) {
	cfg := baseConfig()
	cfg.TTL = time.Hour
	store := &fakeStore{hits: []vectorstore.Hit{
		{ID: "qa-1", Score: 0.95, Metadata: map[string]string{"thought_chain_id": "chain-1"}},
	}}
	chains := newFakeChains()
	chains.chains["chain-1"] = &model.ThoughtChain{UUID: "chain-1", CreatedAt: time.Now().UTC().Add(-2 * time.Hour)}
	c := New(cfg, fakeEmbedder{}, store, chains)

	hit, err := c.FindSimilar(context.Background(), "q", "user-1", false)
	if err != nil {
		t.Fatalf("FindSimilar() error: %v", err)
	}
	if hit != nil {
		t.Fatal("expected an expired chain to be dropped from candidates")
	}
}

func TestFindSimilar_PicksHighestCombinedScore(t *testing.T) {
	store := &fakeStore{hits: []vectorstore.Hit{
		{ID: "qa-1", Score: 0.90, Metadata: map[string]string{"thought_chain_id": "chain-low"}},
		{ID: "qa-2", Score: 0.88, Metadata: map[string]string{"thought_chain_id": "chain-high"}},
	}}
	chains := newFakeChains()
	chains.chains["chain-low"] = &model.ThoughtChain{
		UUID: "chain-low", Answer: "low", CreatedAt: time.Now().UTC(), LikeCount: 0, DislikeCount: 0,
	}
	chains.chains["chain-high"] = &model.ThoughtChain{
		UUID: "chain-high", Answer: "high", CreatedAt: time.Now().UTC(), LikeCount: 4, DislikeCount: 0,
	}
	c := New(baseConfig(), fakeEmbedder{}, store, chains)

	hit, err := c.FindSimilar(context.Background(), "q", "user-1", false)
	if err != nil {
		t.Fatalf("FindSimilar() error: %v", err)
	}
	if hit == nil {
		t.Fatal("expected a hit")
	}
	if hit.ThoughtChainID != "chain-high" {
		t.Errorf("expected the higher like_count chain to win despite lower similarity, got %s", hit.ThoughtChainID)
	}
}

func TestUpdateFeedback_EvictsOnThresholdCross(t *testing.T) {
	qaVec := "qa-1"
	chains := newFakeChains()
	chains.evict = true
	chains.chains["chain-1"] = &model.ThoughtChain{UUID: "chain-1", IsCached: true, QAVectorID: &qaVec}

	store := &fakeStore{}
	c := New(baseConfig(), fakeEmbedder{}, store, chains)

	if err := c.UpdateFeedback(context.Background(), "chain-1", "user-1", model.FeedbackDislike); err != nil {
		t.Fatalf("UpdateFeedback() error: %v", err)
	}
	if !store.deleted["chain-1"] {
		t.Error("expected the cache vector to be deleted on eviction")
	}
	if !chains.cleared["chain-1"] {
		t.Error("expected chain cache flags to be cleared on eviction")
	}
}

func TestUpdateFeedback_NoEvictionWhenNotCached(t *testing.T) {
	chains := newFakeChains()
	chains.evict = true
	chains.chains["chain-1"] = &model.ThoughtChain{UUID: "chain-1", IsCached: false}

	store := &fakeStore{}
	c := New(baseConfig(), fakeEmbedder{}, store, chains)

	if err := c.UpdateFeedback(context.Background(), "chain-1", "user-1", model.FeedbackDislike); err != nil {
		t.Fatalf("UpdateFeedback() error: %v", err)
	}
	if store.deleted["chain-1"] {
		t.Error("expected no vector delete for a chain that was never cached")
	}
}

func TestUpdateFeedback_NoEvictionBelowThreshold(t *testing.T) {
	chains := newFakeChains()
	chains.evict = false
	chains.chains["chain-1"] = &model.ThoughtChain{UUID: "chain-1", IsCached: true}

	store := &fakeStore{}
	c := New(baseConfig(), fakeEmbedder{}, store, chains)

	if err := c.UpdateFeedback(context.Background(), "chain-1", "user-1", model.FeedbackLike); err != nil {
		t.Fatalf("UpdateFeedback() error: %v", err)
	}
	if store.deleted["chain-1"] {
		t.Error("expected no eviction when SetFeedback did not request one")
	}
}
