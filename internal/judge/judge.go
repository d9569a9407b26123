// Package judge implements QAJudge: decides whether a completed Q/A
// pair is worth caching. A cheap rule layer rejects obvious non-candidates
// before any LLM call; the LLM's verdict governs everything else,
// defaulting to "do not cache" on error or timeout.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// minQuestionLen is the length floor below which a question is
// rejected without consulting the LLM.
const minQuestionLen = 5

// DefaultTimeout is the default QAJudge call deadline.
const DefaultTimeout = 5 * time.Second

var bareGreetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"thanks": true, "thank you": true, "ok": true, "okay": true,
	"good morning": true, "good afternoon": true, "good evening": true,
}

// realtimeIntentKeywords trigger a hard rejection: the answer is only valid
// at the moment it was generated, so caching it would serve stale data.
var realtimeIntentKeywords = []string{
	"weather", "forecast", "temperature right now",
	"what time", "current time", "time is it",
	"traffic", "price of", "stock price", "exchange rate",
	"near me", "nearby", "closest", "distance from here",
	"latest news", "breaking news", "right now", "today's",
}

// GenAIClient abstracts the LLM call used for the cacheability verdict.
type GenAIClient interface {
	GenerateContent(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// Judge renders the cacheability verdict.
type Judge struct {
	client  GenAIClient
	timeout time.Duration
}

// New creates a Judge.
func New(client GenAIClient, timeout time.Duration) *Judge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Judge{client: client, timeout: timeout}
}

// Evaluate decides whether (question, answer) is worth caching. It never
// returns an error for the cacheability decision itself; an LLM failure or
// timeout yields shouldCache=false but surfaces the
// underlying cause through the returned error for logging.
func (j *Judge) Evaluate(ctx context.Context, question, answer string) (shouldCache bool, err error) {
	if reason, reject := cheapReject(question); reject {
		slog.Debug("judge.Evaluate: rejected by rule layer", "reason", reason)
		return false, nil
	}

	cctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	raw, callErr := j.client.GenerateContent(cctx, judgeSystemPrompt, buildJudgePrompt(question, answer))
	if callErr != nil {
		slog.Warn("judge.Evaluate: LLM call failed, defaulting to do-not-cache", "error", callErr)
		return false, fmt.Errorf("judge.Evaluate: %w", callErr)
	}

	return parseVerdict(raw), nil
}

// cheapReject implements the pre-LLM rule layer.
func cheapReject(question string) (reason string, reject bool) {
	trimmed := strings.TrimSpace(question)
	if len(trimmed) < minQuestionLen {
		return "too short", true
	}
	if bareGreetings[strings.ToLower(trimmed)] {
		return "bare greeting", true
	}
	lower := strings.ToLower(trimmed)
	for _, kw := range realtimeIntentKeywords {
		if strings.Contains(lower, kw) {
			return "real-time intent keyword: " + kw, true
		}
	}
	return "", false
}

const judgeSystemPrompt = `You decide whether a question-and-answer pair is worth caching for reuse ` +
	`against future, semantically similar questions. Answer with exactly one word: YES or NO. ` +
	`Answer NO if the answer depends on information that changes over time, is specific to one ` +
	`user's private context, or is too vague to be useful to someone else asking a similar question.`

func buildJudgePrompt(question, answer string) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer: ")
	b.WriteString(answer)
	return b.String()
}

func parseVerdict(raw string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(raw)), "YES")
}
