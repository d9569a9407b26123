// Package docstore implements DocStore: a typed Postgres wrapper for
// documents, sessions, messages, thought-chains, and users, built on raw
// SQL and jsonb merge partial updates.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragcore/qacore/internal/model"
)

// DocumentRepo is the Postgres-backed Document store.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

// Create inserts a new document with status=PENDING.
func (r *DocumentRepo) Create(ctx context.Context, d *model.Document) error {
	if d.UUID == "" {
		d.UUID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	if d.Extra == nil {
		d.Extra = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (uuid, name, content, page_count, url, size_bytes, permission, status, extra, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.UUID, d.Name, d.Content, d.PageCount, d.URL, d.SizeBytes, d.Permission, d.Status, d.Extra, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("docstore.DocumentRepo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a document by uuid. Returns nil, nil if absent.
func (r *DocumentRepo) GetByID(ctx context.Context, docUUID string) (*model.Document, error) {
	var d model.Document
	err := r.pool.QueryRow(ctx, `
		SELECT uuid, name, content, page_count, url, size_bytes, permission, status, extra, created_at, updated_at
		FROM documents WHERE uuid = $1`, docUUID,
	).Scan(&d.UUID, &d.Name, &d.Content, &d.PageCount, &d.URL, &d.SizeBytes, &d.Permission, &d.Status, &d.Extra, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("docstore.DocumentRepo.GetByID: %w", err)
	}
	return &d, nil
}

// SetStatus atomically flips a document's status. It is idempotent: setting
// a document already in a terminal state (DONE/FAILED) to the same state is
// a no-op success, satisfying the at-least-once redelivery contract.
func (r *DocumentRepo) SetStatus(ctx context.Context, docUUID string, status model.DocStatus, extra *model.DocumentExtra) error {
	var extraJSON []byte
	if extra != nil {
		var err error
		extraJSON, err = json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("docstore.DocumentRepo.SetStatus: marshal extra: %w", err)
		}
	}

	sql := `UPDATE documents SET status = $2, updated_at = $3`
	args := []interface{}{docUUID, status, time.Now().UTC()}
	if extraJSON != nil {
		sql += `, extra = $4`
		args = append(args, extraJSON)
	}
	sql += ` WHERE uuid = $1`
	if status != model.DocPending {
		// Terminal states only move via an operator reset to PENDING; a
		// redelivered task must not regress a DONE/FAILED document.
		sql += fmt.Sprintf(` AND status NOT IN ($%d, $%d)`, len(args)+1, len(args)+2)
		args = append(args, model.DocDone, model.DocFailed)
	}

	ct, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("docstore.DocumentRepo.SetStatus: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Either the document is missing or it is already terminal; only the
		// former is an error.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE uuid = $1)`, docUUID).Scan(&exists); err != nil {
			return fmt.Errorf("docstore.DocumentRepo.SetStatus: existence check: %w", err)
		}
		if !exists {
			return fmt.Errorf("docstore.DocumentRepo.SetStatus: document %s not found", docUUID)
		}
	}
	return nil
}

// UpdateContent sets the extracted text (and bumps updated_at). Used once
// ingestion has parsed the document's bytes.
func (r *DocumentRepo) UpdateContent(ctx context.Context, docUUID, content string) error {
	_, err := r.pool.Exec(ctx, `UPDATE documents SET content = $2, updated_at = $3 WHERE uuid = $1`,
		docUUID, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("docstore.DocumentRepo.UpdateContent: %w", err)
	}
	return nil
}

// ResetToPending is the operator tool that restarts a stuck PROCESSING
// document.
func (r *DocumentRepo) ResetToPending(ctx context.Context, docUUID string) error {
	return r.SetStatus(ctx, docUUID, model.DocPending, nil)
}

// Delete removes a document row. The caller (pipeline delete task or admin endpoint) is
// responsible for first cascading the vector-store delete.
func (r *DocumentRepo) Delete(ctx context.Context, docUUID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE uuid = $1`, docUUID)
	if err != nil {
		return fmt.Errorf("docstore.DocumentRepo.Delete: %w", err)
	}
	return nil
}
