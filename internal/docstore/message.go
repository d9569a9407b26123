package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragcore/qacore/internal/model"
)

// MessageRepo is the Postgres-backed Message store.
type MessageRepo struct {
	pool *pgxpool.Pool
}

// NewMessageRepo creates a MessageRepo.
func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// Create inserts a new message, stamping CreatedAt/SendAt if unset. Messages
// within a session are totally ordered by CreatedAt.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	if m.UUID == "" {
		m.UUID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.SendAt.IsZero() {
		m.SendAt = m.CreatedAt
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages (uuid, session_id, content, send_type, send_id, send_name, send_avatar,
			receive_id, file_type, file_name, file_size, extra, status, created_at, send_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		m.UUID, m.SessionID, m.Content, m.SendType, m.SendID, m.SendName, m.SendAvatar,
		m.ReceiveID, m.FileType, m.FileName, m.FileSize, m.Extra, m.Status, m.CreatedAt, m.SendAt,
	)
	if err != nil {
		return fmt.Errorf("docstore.MessageRepo.Create: %w", err)
	}
	return nil
}

// ListBySession returns every message in a session, chronologically
// ordered by created_at.
func (r *MessageRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT uuid, session_id, content, send_type, send_id, send_name, send_avatar,
			receive_id, file_type, file_name, file_size, extra, status, created_at, send_at
		FROM messages WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("docstore.MessageRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.UUID, &m.SessionID, &m.Content, &m.SendType, &m.SendID, &m.SendName,
			&m.SendAvatar, &m.ReceiveID, &m.FileType, &m.FileName, &m.FileSize, &m.Extra, &m.Status,
			&m.CreatedAt, &m.SendAt); err != nil {
			return nil, fmt.Errorf("docstore.MessageRepo.ListBySession: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// LatestSummary returns the most recent SUMMARY message in a session, or nil
// if none exists.
func (r *MessageRepo) LatestSummary(ctx context.Context, sessionID string) (*model.Message, error) {
	var m model.Message
	err := r.pool.QueryRow(ctx, `
		SELECT uuid, session_id, content, send_type, send_id, send_name, send_avatar,
			receive_id, file_type, file_name, file_size, extra, status, created_at, send_at
		FROM messages WHERE session_id = $1 AND send_type = $2 ORDER BY created_at DESC LIMIT 1`,
		sessionID, model.SendSummary,
	).Scan(&m.UUID, &m.SessionID, &m.Content, &m.SendType, &m.SendID, &m.SendName, &m.SendAvatar,
		&m.ReceiveID, &m.FileType, &m.FileName, &m.FileSize, &m.Extra, &m.Status, &m.CreatedAt, &m.SendAt)
	if err != nil {
		return nil, nil //nolint:nilerr // absence of a summary is not an error condition
	}
	return &m, nil
}

// CountSince returns the number of non-SUMMARY messages with created_at
// strictly after `after` (or all such messages if after is the zero time).
func (r *MessageRepo) CountSince(ctx context.Context, sessionID string, after time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE session_id = $1 AND send_type != $2 AND created_at > $3`,
		sessionID, model.SendSummary, after,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("docstore.MessageRepo.CountSince: %w", err)
	}
	return count, nil
}

// UpdateExtra merges a partial JSON object into a message's `extra` field
// with a jsonb `||` merge: top-level keys in extra overwrite existing ones,
// all other keys are kept.
func (r *MessageRepo) UpdateExtra(ctx context.Context, messageUUID string, extra []byte) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET extra = extra || $2::jsonb WHERE uuid = $1`,
		messageUUID, extra)
	if err != nil {
		return fmt.Errorf("docstore.MessageRepo.UpdateExtra: %w", err)
	}
	return nil
}
