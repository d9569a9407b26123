// Package tools adapts domain collaborators (the retriever, for now) into
// the agent's (string) -> string tool contract. Dispatch itself (timeout
// plus panic recovery around each call) lives in
// internal/agent.Registry.execute; this package only builds ToolSpecs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ragcore/qacore/internal/agent"
	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/retriever"
)

// DefaultSearchTopK is how many passages search_documents asks the
// retriever for when the agent doesn't specify otherwise.
const DefaultSearchTopK = 5

// searchObservation is the JSON shape fed back to the agent as an
// Observation: readable context text plus the structured document list the
// agent merges into its final citations (agent.toolDocuments).
type searchObservation struct {
	Context   string              `json:"context"`
	Documents []model.DocumentRef `json:"documents"`
}

// NewSearchDocumentsTool wraps a Retriever as the "search_documents" tool,
// gated to the caller's permission level at call time.
func NewSearchDocumentsTool(r *retriever.Retriever) agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "search_documents",
		Description: "Search the ingested document corpus for passages relevant to a query. Input is the search query text.",
		Fn: func(ctx context.Context, input string) (string, error) {
			query := strings.TrimSpace(input)
			if query == "" {
				return "", fmt.Errorf("tools.search_documents: empty query")
			}

			results, err := r.Search(ctx, query, retriever.SearchOptions{
				TopK:           DefaultSearchTopK,
				UserPermission: model.PermissionFromContext(ctx),
				UseReranker:    true,
			})
			if err != nil {
				return "", fmt.Errorf("tools.search_documents: %w", err)
			}
			if len(results) == 0 {
				return "No relevant documents were found.", nil
			}

			obs := searchObservation{Documents: make([]model.DocumentRef, 0, len(results))}
			var b strings.Builder
			seen := make(map[string]bool, len(results))
			for i, res := range results {
				fmt.Fprintf(&b, "[%d] %s\n", i+1, res.Text)
				docUUID := res.Metadata["document_uuid"]
				if docUUID != "" && !seen[docUUID] {
					seen[docUUID] = true
					obs.Documents = append(obs.Documents, model.DocumentRef{UUID: docUUID, Name: res.Metadata["filename"]})
				}
			}
			obs.Context = b.String()

			payload, err := json.Marshal(obs)
			if err != nil {
				return "", fmt.Errorf("tools.search_documents: marshal observation: %w", err)
			}
			return string(payload), nil
		},
	}
}
