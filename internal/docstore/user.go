package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragcore/qacore/internal/model"
)

// UserRepo is the Postgres-backed User store. User creation/profile editing
// is owned by the out-of-scope Auth collaborator; this repo supports the
// read path the core needs for permission-filtered retrieval, the upsert of
// what the Auth collaborator reports on sign-in, and last-login bookkeeping.
type UserRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepo creates a UserRepo.
func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// GetByID fetches a user by id. Returns nil, nil if not found.
func (r *UserRepo) GetByID(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, nickname, is_admin, created_at, last_login_at
		FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Email, &u.Nickname, &u.IsAdmin, &u.CreatedAt, &u.LastLoginAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("docstore.UserRepo.GetByID: %w", err)
	}
	return &u, nil
}

// Upsert inserts or updates a user record, mirroring what the Auth
// collaborator reports on sign-in.
func (r *UserRepo) Upsert(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, nickname, is_admin, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email, nickname = excluded.nickname,
			is_admin = excluded.is_admin, last_login_at = excluded.last_login_at`,
		u.ID, u.Email, u.Nickname, u.IsAdmin, u.CreatedAt, u.LastLoginAt,
	)
	if err != nil {
		return fmt.Errorf("docstore.UserRepo.Upsert: %w", err)
	}
	return nil
}

// TouchLastLogin stamps the current time as a user's last login.
func (r *UserRepo) TouchLastLogin(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, now)
	if err != nil {
		return fmt.Errorf("docstore.UserRepo.TouchLastLogin: %w", err)
	}
	return nil
}
