// Package history implements HistoryMgr: loading a session's bounded
// conversational context, summarizing it once it grows past a threshold,
// and auto-naming a session after its first turn.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ragcore/qacore/internal/model"
)

// DefaultSummarizeThreshold is how many non-SUMMARY messages accumulate
// before maybe_summarize collapses them.
const DefaultSummarizeThreshold = 20

// Turn is one role/content pair as handed to the generation layer.
type Turn struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// MessageStore is the slice of the document store the history manager depends on.
type MessageStore interface {
	ListBySession(ctx context.Context, sessionID string) ([]model.Message, error)
	LatestSummary(ctx context.Context, sessionID string) (*model.Message, error)
	CountSince(ctx context.Context, sessionID string, after time.Time) (int, error)
	Create(ctx context.Context, m *model.Message) error
}

// GenAIClient abstracts the LLM call used for summarization and auto-naming.
type GenAIClient interface {
	GenerateContent(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// SessionStore is the slice of the document store the history manager depends on to persist
// an auto-generated session name.
type SessionStore interface {
	UpdateName(ctx context.Context, sessionUUID, name string) error
}

// Manager loads, summarizes, and names session history.
type Manager struct {
	msgs      MessageStore
	sessions  SessionStore
	llm       GenAIClient
	threshold int
}

// New creates a Manager. threshold <= 0 uses DefaultSummarizeThreshold.
func New(msgs MessageStore, sessions SessionStore, llm GenAIClient, threshold int) *Manager {
	if threshold <= 0 {
		threshold = DefaultSummarizeThreshold
	}
	return &Manager{msgs: msgs, sessions: sessions, llm: llm, threshold: threshold}
}

func roleOf(sendType model.SendType) string {
	switch sendType {
	case model.SendUser:
		return "user"
	case model.SendAI:
		return "assistant"
	default:
		return "system"
	}
}

// Load returns the bounded conversational context: if a SUMMARY message exists, the history
// is the summary followed by every message strictly after it; otherwise it
// is every non-SUMMARY message in chronological order.
func (m *Manager) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	summary, err := m.msgs.LatestSummary(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history.Load: latest summary: %w", err)
	}

	all, err := m.msgs.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history.Load: list messages: %w", err)
	}

	var turns []Turn
	if summary != nil {
		turns = append(turns, Turn{Role: "system", Content: "[history summary]\n" + summary.Content})
	}
	for _, msg := range all {
		if msg.SendType == model.SendSummary {
			continue
		}
		if summary != nil && !msg.CreatedAt.After(summary.CreatedAt) {
			continue
		}
		turns = append(turns, Turn{Role: roleOf(msg.SendType), Content: msg.Content})
	}
	return turns, nil
}

// MaybeSummarize collapses history into a SUMMARY message once the count of
// non-SUMMARY messages after the last summary crosses the threshold, the
// dialog (prefixed by the prior summary, if any) is condensed into a new
// SUMMARY message via the LLM.
func (m *Manager) MaybeSummarize(ctx context.Context, sessionID string) error {
	summary, err := m.msgs.LatestSummary(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("history.MaybeSummarize: latest summary: %w", err)
	}

	var after time.Time
	if summary != nil {
		after = summary.CreatedAt
	}

	count, err := m.msgs.CountSince(ctx, sessionID, after)
	if err != nil {
		return fmt.Errorf("history.MaybeSummarize: count since: %w", err)
	}
	if count < m.threshold {
		return nil
	}

	all, err := m.msgs.ListBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("history.MaybeSummarize: list messages: %w", err)
	}

	var dialog strings.Builder
	if summary != nil {
		dialog.WriteString("Prior summary:\n")
		dialog.WriteString(summary.Content)
		dialog.WriteString("\n\n")
	}
	for _, msg := range all {
		if msg.SendType == model.SendSummary {
			continue
		}
		if summary != nil && !msg.CreatedAt.After(summary.CreatedAt) {
			continue
		}
		dialog.WriteString(roleOf(msg.SendType))
		dialog.WriteString(": ")
		dialog.WriteString(msg.Content)
		dialog.WriteString("\n")
	}

	condensed, err := m.llm.GenerateContent(ctx, summarizerSystemPrompt, dialog.String())
	if err != nil {
		return fmt.Errorf("history.MaybeSummarize: summarize: %w", err)
	}

	now := time.Now().UTC()
	newSummary := &model.Message{
		SessionID: sessionID,
		Content:   condensed,
		SendType:  model.SendSummary,
		SendID:    "system",
		SendName:  "system",
		Status:    "sent",
		CreatedAt: now,
		SendAt:    now,
	}
	if err := m.msgs.Create(ctx, newSummary); err != nil {
		return fmt.Errorf("history.MaybeSummarize: insert summary: %w", err)
	}

	slog.Info("history.MaybeSummarize: summarized session", "session_id", sessionID, "messages_folded", count)
	return nil
}

// AutoNameSession titles a session from its opening exchange: called exactly
// once, after the first complete turn, to derive a short session title.
func (m *Manager) AutoNameSession(ctx context.Context, sessionID, firstUserQ, firstAIA string) error {
	prompt := fmt.Sprintf("User asked: %s\nAssistant answered: %s", firstUserQ, firstAIA)
	name, err := m.llm.GenerateContent(ctx, autoNameSystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("history.AutoNameSession: %w", err)
	}

	name = strings.TrimSpace(name)
	if len(name) > 15 {
		name = name[:15]
	}
	if name == "" {
		return nil
	}

	if err := m.sessions.UpdateName(ctx, sessionID, name); err != nil {
		return fmt.Errorf("history.AutoNameSession: update name: %w", err)
	}
	return nil
}

const summarizerSystemPrompt = "Condense the following conversation into a short paragraph that preserves " +
	"every fact and decision a continuing conversation would need. Do not add commentary."

const autoNameSystemPrompt = "Generate a session title between 8 and 15 characters long that captures the " +
	"topic of this exchange. Respond with the title only, no punctuation or quotes."
