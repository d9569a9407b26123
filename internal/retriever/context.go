package retriever

import (
	"context"
	"fmt"
	"strings"
)

// GetContext is a context-assembly helper: calls Search,
// then concatenates formatted blocks until one would exceed maxContextChars.
// The first block is always included, even when it alone exceeds the budget.
func (r *Retriever) GetContext(ctx context.Context, query string, opts SearchOptions, maxContextChars int) (string, []Result, error) {
	results, err := r.Search(ctx, query, opts)
	if err != nil {
		return "", nil, fmt.Errorf("retriever.GetContext: %w", err)
	}

	var b strings.Builder
	used := make([]Result, 0, len(results))
	for i, res := range results {
		block := formatBlock(i, res)
		if b.Len() > 0 && b.Len()+len(block) > maxContextChars {
			break
		}
		b.WriteString(block)
		used = append(used, res)
	}
	return b.String(), used, nil
}

// formatBlock renders "[Doc i - filename (rerank score: X)] <text>", per
// a fixed format. Falls back to the vector score label when no rerank ran.
func formatBlock(index int, res Result) string {
	filename := res.Metadata["filename"]
	if filename == "" {
		filename = res.ID
	}
	if res.RerankScore != nil {
		return fmt.Sprintf("[Doc %d - %s (rerank score: %.4f)] %s\n", index+1, filename, *res.RerankScore, res.Text)
	}
	return fmt.Sprintf("[Doc %d - %s (score: %.4f)] %s\n", index+1, filename, res.Score, res.Text)
}
