package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragcore/qacore/internal/model"
)

// SessionRepo is the Postgres-backed Session store.
type SessionRepo struct {
	pool *pgxpool.Pool
}

// NewSessionRepo creates a SessionRepo.
func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// Create inserts a new session.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	if s.UUID == "" {
		s.UUID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (uuid, user_id, name, last_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.UUID, s.UserID, s.Name, s.LastMessage, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("docstore.SessionRepo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a session by uuid.
func (r *SessionRepo) GetByID(ctx context.Context, sessionUUID string) (*model.Session, error) {
	var s model.Session
	err := r.pool.QueryRow(ctx, `
		SELECT uuid, user_id, name, last_message, created_at, updated_at
		FROM sessions WHERE uuid = $1`, sessionUUID,
	).Scan(&s.UUID, &s.UserID, &s.Name, &s.LastMessage, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("docstore.SessionRepo.GetByID: %w", err)
	}
	return &s, nil
}

// UpdateName sets the session's auto-generated name.
func (r *SessionRepo) UpdateName(ctx context.Context, sessionUUID, name string) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET name = $2, updated_at = $3 WHERE uuid = $1`,
		sessionUUID, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("docstore.SessionRepo.UpdateName: %w", err)
	}
	return nil
}

// UpdateLastMessage records the most recent AI answer. Writes here race
// harmlessly with the background auto-namer.
func (r *SessionRepo) UpdateLastMessage(ctx context.Context, sessionUUID, lastMessage string) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_message = $2, updated_at = $3 WHERE uuid = $1`,
		sessionUUID, lastMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("docstore.SessionRepo.UpdateLastMessage: %w", err)
	}
	return nil
}
