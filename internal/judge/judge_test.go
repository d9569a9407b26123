package judge

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClient struct {
	resp    string
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakeClient) GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.resp, nil
}

func TestEvaluate_RejectsShortQuestion(t *testing.T) {
	client := &fakeClient{resp: "YES"}
	j := New(client, time.Second)

	ok, err := j.Evaluate(context.Background(), "hi?", "answer")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if ok {
		t.Error("expected a too-short question to be rejected")
	}
	if client.calls != 0 {
		t.Error("expected the LLM not to be called for a rule-rejected question")
	}
}

func TestEvaluate_RejectsBareGreeting(t *testing.T) {
	client := &fakeClient{resp: "YES"}
	j := New(client, time.Second)

	ok, err := j.Evaluate(context.Background(), "hello", "hi there!")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if ok {
		t.Error("expected a bare greeting to be rejected")
	}
}

func TestEvaluate_RejectsRealtimeIntent(t *testing.T) {
	client := &fakeClient{resp: "YES"}
	j := New(client, time.Second)

	ok, err := j.Evaluate(context.Background(), "what's the weather like today", "it's sunny")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if ok {
		t.Error("expected a real-time intent question to be rejected")
	}
	if client.calls != 0 {
		t.Error("expected the LLM not to be called for a real-time intent question")
	}
}

func TestEvaluate_LLMYesApproves(t *testing.T) {
	client := &fakeClient{resp: "YES, this is a generally useful fact."}
	j := New(client, time.Second)

	ok, err := j.Evaluate(context.Background(), "what is RAG?", "Retrieval-augmented generation is...")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !ok {
		t.Error("expected an LLM YES verdict to approve caching")
	}
}

func TestEvaluate_LLMNoRejects(t *testing.T) {
	client := &fakeClient{resp: "NO"}
	j := New(client, time.Second)

	ok, err := j.Evaluate(context.Background(), "what is RAG?", "Retrieval-augmented generation is...")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if ok {
		t.Error("expected an LLM NO verdict to reject caching")
	}
}

func TestEvaluate_LLMErrorDefaultsToNoCache(t *testing.T) {
	client := &fakeClient{err: errors.New("model unavailable")}
	j := New(client, time.Second)

	ok, err := j.Evaluate(context.Background(), "what is RAG?", "Retrieval-augmented generation is...")
	if err == nil {
		t.Fatal("expected the underlying error to be surfaced")
	}
	if ok {
		t.Error("expected shouldCache=false on LLM error")
	}
}

func TestEvaluate_LLMTimeoutDefaultsToNoCache(t *testing.T) {
	client := &fakeClient{delay: 50 * time.Millisecond}
	j := New(client, 5*time.Millisecond)

	ok, err := j.Evaluate(context.Background(), "what is RAG?", "Retrieval-augmented generation is...")
	if err == nil {
		t.Fatal("expected a timeout error to be surfaced")
	}
	if ok {
		t.Error("expected shouldCache=false on LLM timeout")
	}
}
