package model

import "time"

// StepKind identifies one entry in a ThoughtChain's reasoning trace.
type StepKind string

const (
	StepThought     StepKind = "THOUGHT"
	StepAction      StepKind = "ACTION"
	StepObservation StepKind = "OBSERVATION"
)

// Step is one ordered entry in a ThoughtChain's trace.
type Step struct {
	StepIndex int      `json:"step_index"`
	Kind      StepKind `json:"kind"`
	Content   string   `json:"content"`
}

// FeedbackKind is a user's vote on a cached answer.
type FeedbackKind string

const (
	FeedbackLike    FeedbackKind = "like"
	FeedbackDislike FeedbackKind = "dislike"
)

// ThoughtChain is the full reasoning trace for one agent run: the original
// question, the final answer, every Thought/Action/Observation step, and the
// cache-feedback bookkeeping that governs eviction.
//
// Invariants: LikeCount, DislikeCount >= 0. IsCached == true iff QAVectorID
// is non-nil. On eviction both are cleared atomically.
type ThoughtChain struct {
	UUID          string            `json:"uuid"`
	SessionID     string            `json:"session_id"`
	MessageID     string            `json:"message_id"`
	Question      string            `json:"question"`
	Answer        string            `json:"answer"`
	Steps         []Step            `json:"steps"`
	DocumentsUsed []DocumentRef     `json:"documents_used"`
	UserID        string            `json:"user_id"`
	ModelName     string            `json:"model_name"`
	TotalSteps    int               `json:"total_steps"`
	LikeCount     int               `json:"like_count"`
	DislikeCount  int               `json:"dislike_count"`
	IsCached      bool              `json:"is_cached"`
	QAVectorID    *string           `json:"qa_vector_id,omitempty"`
	UserFeedbacks map[string]string `json:"user_feedbacks"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ShouldEvict reports whether the chain's net-downvote score has crossed the
// eviction threshold (dislikes outnumber likes by 3 or more).
func (c *ThoughtChain) ShouldEvict() bool {
	return c.DislikeCount-c.LikeCount >= 3
}

// CacheEntry is the QA-vector-collection entity: exactly one per ThoughtChain
// while IsCached is true.
type CacheEntry struct {
	ID            string    `json:"id"`
	Embedding     []float32 `json:"-"`
	Text          string    `json:"text"`
	ThoughtChainID string   `json:"thought_chain_id"`
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	AnswerPreview string    `json:"answer_preview"`
	CreatedAt     time.Time `json:"created_at"`
}

// TruncateAnswerPreview clips an answer to the 200-char CacheEntry preview limit.
func TruncateAnswerPreview(answer string) string {
	r := []rune(answer)
	if len(r) <= 200 {
		return answer
	}
	return string(r[:200])
}
