package gcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/google"
)

// RankingAdapter calls the Discovery Engine semantic ranking API.
// Implements reranker.Client.
type RankingAdapter struct {
	project string
	model   string
	client  *http.Client
}

// NewRankingAdapter creates a RankingAdapter using default credentials.
func NewRankingAdapter(ctx context.Context, project, model string) (*RankingAdapter, error) {
	client, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("gcpclient.NewRankingAdapter: %w", err)
	}
	return &RankingAdapter{project: project, model: model, client: client}, nil
}

type rankRequest struct {
	Model   string        `json:"model"`
	Query   string        `json:"query"`
	Records []rankRecord  `json:"records"`
}

type rankRecord struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type rankResponse struct {
	Records []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"records"`
}

// Score ranks passages against query, returning one score per passage in
// the same order the passages were given (Discovery Engine returns them
// reordered, so the response is mapped back by record ID).
func (a *RankingAdapter) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	return withRetry(ctx, "RankPassages", func() ([]float64, error) {
		return a.doScore(ctx, query, passages)
	})
}

func (a *RankingAdapter) doScore(ctx context.Context, query string, passages []string) ([]float64, error) {
	records := make([]rankRecord, len(passages))
	for i, p := range passages {
		records[i] = rankRecord{ID: fmt.Sprintf("%d", i), Content: p}
	}

	reqBody, err := json.Marshal(rankRequest{Model: a.model, Query: query, Records: records})
	if err != nil {
		return nil, fmt.Errorf("gcpclient.RankPassages: marshal: %w", err)
	}

	url := fmt.Sprintf(
		"https://discoveryengine.googleapis.com/v1/projects/%s/locations/global/rankingConfigs/default_ranking_config:rank",
		a.project,
	)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("gcpclient.RankPassages: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gcpclient.RankPassages: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gcpclient.RankPassages: status %d: %s", resp.StatusCode, body)
	}

	var rankResp rankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rankResp); err != nil {
		return nil, fmt.Errorf("gcpclient.RankPassages: decode: %w", err)
	}

	scores := make([]float64, len(passages))
	byID := make(map[string]float64, len(rankResp.Records))
	for _, r := range rankResp.Records {
		byID[r.ID] = r.Score
	}
	for i := range passages {
		scores[i] = byID[fmt.Sprintf("%d", i)]
	}
	return scores, nil
}
