package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragcore/qacore/internal/agent"
)

// DocumentStore is the slice of the document store the admin document tools depend on.
type DocumentStore interface {
	Delete(ctx context.Context, docUUID string) error
	ResetToPending(ctx context.Context, docUUID string) error
}

// NewDeleteDocumentTool wraps DocumentStore.Delete as the "delete_document"
// tool. Registered with IsAdmin so agent.Registry hides it from PUBLIC
// callers (internal/rbac.AdminOnlyTools names it for the same reason).
func NewDeleteDocumentTool(store DocumentStore) agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "delete_document",
		Description: "Permanently delete a document and its chunks from the corpus. Input is the document's UUID.",
		IsAdmin:     true,
		Fn: func(ctx context.Context, input string) (string, error) {
			docUUID := strings.TrimSpace(input)
			if docUUID == "" {
				return "", fmt.Errorf("tools.delete_document: empty document UUID")
			}
			if err := store.Delete(ctx, docUUID); err != nil {
				return "", fmt.Errorf("tools.delete_document: %w", err)
			}
			return fmt.Sprintf("Document %s deleted.", docUUID), nil
		},
	}
}

// NewResetDocumentTool wraps DocumentStore.ResetToPending as the
// "reset_document" tool, re-queuing a failed or stale document for
// re-ingestion. Input is the document's UUID.
func NewResetDocumentTool(store DocumentStore) agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "reset_document",
		Description: "Reset a document's status to pending so it is re-ingested. Input is the document's UUID.",
		IsAdmin:     true,
		Fn: func(ctx context.Context, input string) (string, error) {
			docUUID := strings.TrimSpace(input)
			if docUUID == "" {
				return "", fmt.Errorf("tools.reset_document: empty document UUID")
			}
			if err := store.ResetToPending(ctx, docUUID); err != nil {
				return "", fmt.Errorf("tools.reset_document: %w", err)
			}
			return fmt.Sprintf("Document %s reset to pending.", docUUID), nil
		},
	}
}
