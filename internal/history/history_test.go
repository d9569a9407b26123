package history

import (
	"context"
	"testing"
	"time"

	"github.com/ragcore/qacore/internal/model"
)

type fakeMessages struct {
	bySession map[string][]model.Message
	summary   *model.Message
	created   []model.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{bySession: map[string][]model.Message{}}
}

func (f *fakeMessages) ListBySession(ctx context.Context, sessionID string) ([]model.Message, error) {
	return f.bySession[sessionID], nil
}

func (f *fakeMessages) LatestSummary(ctx context.Context, sessionID string) (*model.Message, error) {
	return f.summary, nil
}

func (f *fakeMessages) CountSince(ctx context.Context, sessionID string, after time.Time) (int, error) {
	count := 0
	for _, m := range f.bySession[sessionID] {
		if m.SendType != model.SendSummary && m.CreatedAt.After(after) {
			count++
		}
	}
	return count, nil
}

func (f *fakeMessages) Create(ctx context.Context, m *model.Message) error {
	f.created = append(f.created, *m)
	if m.SessionID != "" {
		f.bySession[m.SessionID] = append(f.bySession[m.SessionID], *m)
	}
	return nil
}

type fakeSessions struct {
	names map[string]string
}

func newFakeSessions() *fakeSessions { return &fakeSessions{names: map[string]string{}} }

func (f *fakeSessions) UpdateName(ctx context.Context, sessionUUID, name string) error {
	f.names[sessionUUID] = name
	return nil
}

type fakeLLM struct {
	resp string
}

func (f fakeLLM) GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.resp, nil
}

func at(minutesFromNow int) time.Time {
	return time.Now().UTC().Add(time.Duration(minutesFromNow) * time.Minute)
}

func TestLoad_NoSummaryReturnsAllInOrder(t *testing.T) {
	msgs := newFakeMessages()
	msgs.bySession["s1"] = []model.Message{
		{SendType: model.SendUser, Content: "hi", CreatedAt: at(-2)},
		{SendType: model.SendAI, Content: "hello", CreatedAt: at(-1)},
	}
	m := New(msgs, newFakeSessions(), fakeLLM{}, 20)

	turns, err := m.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestLoad_WithSummaryPrependsAndFiltersOlder(t *testing.T) {
	msgs := newFakeMessages()
	summary := model.Message{SendType: model.SendSummary, Content: "recap", CreatedAt: at(-10)}
	msgs.summary = &summary
	msgs.bySession["s1"] = []model.Message{
		{SendType: model.SendUser, Content: "old", CreatedAt: at(-20)},
		summary,
		{SendType: model.SendUser, Content: "new question", CreatedAt: at(-5)},
	}
	m := New(msgs, newFakeSessions(), fakeLLM{}, 20)

	turns, err := m.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected summary + 1 post-summary message, got %d: %+v", len(turns), turns)
	}
	if turns[0].Role != "system" || turns[1].Content != "new question" {
		t.Errorf("unexpected turns: %+v", turns)
	}
}

func TestMaybeSummarize_BelowThresholdDoesNothing(t *testing.T) {
	msgs := newFakeMessages()
	msgs.bySession["s1"] = []model.Message{
		{SendType: model.SendUser, Content: "hi", CreatedAt: at(-1)},
	}
	m := New(msgs, newFakeSessions(), fakeLLM{resp: "summary"}, 5)

	if err := m.MaybeSummarize(context.Background(), "s1"); err != nil {
		t.Fatalf("MaybeSummarize() error: %v", err)
	}
	if len(msgs.created) != 0 {
		t.Error("expected no summary inserted below threshold")
	}
}

func TestMaybeSummarize_AtThresholdInsertsSummary(t *testing.T) {
	msgs := newFakeMessages()
	var all []model.Message
	for i := 0; i < 5; i++ {
		all = append(all, model.Message{SendType: model.SendUser, Content: "msg", CreatedAt: at(-5 + i)})
	}
	msgs.bySession["s1"] = all
	m := New(msgs, newFakeSessions(), fakeLLM{resp: "condensed summary"}, 5)

	if err := m.MaybeSummarize(context.Background(), "s1"); err != nil {
		t.Fatalf("MaybeSummarize() error: %v", err)
	}
	if len(msgs.created) != 1 {
		t.Fatalf("expected exactly one summary inserted, got %d", len(msgs.created))
	}
	if msgs.created[0].SendType != model.SendSummary || msgs.created[0].Content != "condensed summary" {
		t.Errorf("unexpected summary message: %+v", msgs.created[0])
	}
}

func TestAutoNameSession_TruncatesAndPersistsName(t *testing.T) {
	sessions := newFakeSessions()
	m := New(newFakeMessages(), sessions, fakeLLM{resp: "A much longer title than fifteen characters"}, 20)

	if err := m.AutoNameSession(context.Background(), "s1", "what is RAG?", "RAG is..."); err != nil {
		t.Fatalf("AutoNameSession() error: %v", err)
	}
	name := sessions.names["s1"]
	if len(name) > 15 {
		t.Errorf("expected name truncated to 15 chars, got %q (%d chars)", name, len(name))
	}
}

func TestAutoNameSession_EmptyLLMResponseSkipsUpdate(t *testing.T) {
	sessions := newFakeSessions()
	m := New(newFakeMessages(), sessions, fakeLLM{resp: "   "}, 20)

	if err := m.AutoNameSession(context.Background(), "s1", "q", "a"); err != nil {
		t.Fatalf("AutoNameSession() error: %v", err)
	}
	if _, ok := sessions.names["s1"]; ok {
		t.Error("expected no name update for an empty LLM response")
	}
}
