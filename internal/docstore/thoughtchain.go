package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragcore/qacore/internal/model"
)

// ThoughtChainRepo is the Postgres-backed ThoughtChain store.
type ThoughtChainRepo struct {
	pool *pgxpool.Pool
}

// NewThoughtChainRepo creates a ThoughtChainRepo.
func NewThoughtChainRepo(pool *pgxpool.Pool) *ThoughtChainRepo {
	return &ThoughtChainRepo{pool: pool}
}

// Create persists a new ThoughtChain.
func (r *ThoughtChainRepo) Create(ctx context.Context, c *model.ThoughtChain) error {
	if c.UUID == "" {
		c.UUID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UserFeedbacks == nil {
		c.UserFeedbacks = map[string]string{}
	}

	stepsJSON, err := json.Marshal(c.Steps)
	if err != nil {
		return fmt.Errorf("docstore.ThoughtChainRepo.Create: marshal steps: %w", err)
	}
	docsJSON, err := json.Marshal(c.DocumentsUsed)
	if err != nil {
		return fmt.Errorf("docstore.ThoughtChainRepo.Create: marshal documents_used: %w", err)
	}
	feedbackJSON, err := json.Marshal(c.UserFeedbacks)
	if err != nil {
		return fmt.Errorf("docstore.ThoughtChainRepo.Create: marshal user_feedbacks: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO thought_chains (uuid, session_id, message_id, question, answer, steps, documents_used,
			user_id, model_name, total_steps, like_count, dislike_count, is_cached, qa_vector_id,
			user_feedbacks, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		c.UUID, c.SessionID, c.MessageID, c.Question, c.Answer, stepsJSON, docsJSON,
		c.UserID, c.ModelName, c.TotalSteps, c.LikeCount, c.DislikeCount, c.IsCached, c.QAVectorID,
		feedbackJSON, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("docstore.ThoughtChainRepo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a ThoughtChain by uuid. Returns nil, nil if not found.
func (r *ThoughtChainRepo) GetByID(ctx context.Context, chainUUID string) (*model.ThoughtChain, error) {
	return r.get(ctx, r.pool, chainUUID)
}

func (r *ThoughtChainRepo) get(ctx context.Context, q pgxQuerier, chainUUID string) (*model.ThoughtChain, error) {
	var c model.ThoughtChain
	var stepsJSON, docsJSON, feedbackJSON []byte
	err := q.QueryRow(ctx, `
		SELECT uuid, session_id, message_id, question, answer, steps, documents_used,
			user_id, model_name, total_steps, like_count, dislike_count, is_cached, qa_vector_id,
			user_feedbacks, created_at
		FROM thought_chains WHERE uuid = $1 FOR UPDATE`, chainUUID,
	).Scan(&c.UUID, &c.SessionID, &c.MessageID, &c.Question, &c.Answer, &stepsJSON, &docsJSON,
		&c.UserID, &c.ModelName, &c.TotalSteps, &c.LikeCount, &c.DislikeCount, &c.IsCached, &c.QAVectorID,
		&feedbackJSON, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("docstore.ThoughtChainRepo.get: %w", err)
	}
	_ = json.Unmarshal(stepsJSON, &c.Steps)
	_ = json.Unmarshal(docsJSON, &c.DocumentsUsed)
	_ = json.Unmarshal(feedbackJSON, &c.UserFeedbacks)
	if c.UserFeedbacks == nil {
		c.UserFeedbacks = map[string]string{}
	}
	return &c, nil
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// SetFeedback applies a single user's like/dislike vote inside a
// row-locked transaction, keeping the counters in agreement with the
// cardinality of user_feedbacks. Returns the updated chain and whether this
// vote caused a cache eviction to become due.
func (r *ThoughtChainRepo) SetFeedback(ctx context.Context, chainUUID, userID string, kind model.FeedbackKind) (*model.ThoughtChain, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("docstore.ThoughtChainRepo.SetFeedback: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	c, err := r.get(ctx, tx, chainUUID)
	if err != nil {
		return nil, false, err
	}
	if c == nil {
		return nil, false, fmt.Errorf("docstore.ThoughtChainRepo.SetFeedback: chain %s not found", chainUUID)
	}

	prior, voted := c.UserFeedbacks[userID]
	if voted && prior == string(kind) {
		return c, false, fmt.Errorf("docstore.ThoughtChainRepo.SetFeedback: duplicate %s vote from user %s", kind, userID)
	}

	if voted {
		switch model.FeedbackKind(prior) {
		case model.FeedbackLike:
			c.LikeCount--
		case model.FeedbackDislike:
			c.DislikeCount--
		}
	}
	switch kind {
	case model.FeedbackLike:
		c.LikeCount++
	case model.FeedbackDislike:
		c.DislikeCount++
	}
	c.UserFeedbacks[userID] = string(kind)

	feedbackJSON, err := json.Marshal(c.UserFeedbacks)
	if err != nil {
		return nil, false, fmt.Errorf("docstore.ThoughtChainRepo.SetFeedback: marshal: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE thought_chains SET like_count = $2, dislike_count = $3, user_feedbacks = $4 WHERE uuid = $1`,
		chainUUID, c.LikeCount, c.DislikeCount, feedbackJSON,
	)
	if err != nil {
		return nil, false, fmt.Errorf("docstore.ThoughtChainRepo.SetFeedback: update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("docstore.ThoughtChainRepo.SetFeedback: commit: %w", err)
	}
	return c, c.ShouldEvict(), nil
}

// ClearCache atomically clears IsCached/QAVectorID, e.g. on eviction.
func (r *ThoughtChainRepo) ClearCache(ctx context.Context, chainUUID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE thought_chains SET is_cached = false, qa_vector_id = NULL WHERE uuid = $1`, chainUUID)
	if err != nil {
		return fmt.Errorf("docstore.ThoughtChainRepo.ClearCache: %w", err)
	}
	return nil
}

// SetCached atomically marks a chain cached with the given QA vector id.
func (r *ThoughtChainRepo) SetCached(ctx context.Context, chainUUID, qaVectorID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE thought_chains SET is_cached = true, qa_vector_id = $2 WHERE uuid = $1`,
		chainUUID, qaVectorID)
	if err != nil {
		return fmt.Errorf("docstore.ThoughtChainRepo.SetCached: %w", err)
	}
	return nil
}
