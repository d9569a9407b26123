package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ragcore/qacore/internal/model"
)

type scriptedClient struct {
	scripts [][]string // one []string of chunks per call
	errs    []error
	calls   int
}

func (c *scriptedClient) GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	textCh := make(chan string, 16)
	errCh := make(chan error, 1)

	idx := c.calls
	c.calls++

	go func() {
		defer close(textCh)
		defer close(errCh)
		if idx < len(c.scripts) {
			for _, chunk := range c.scripts[idx] {
				textCh <- chunk
			}
		}
		if idx < len(c.errs) && c.errs[idx] != nil {
			errCh <- c.errs[idx]
		}
	}()
	return textCh, errCh
}

func TestRun_DirectFinalAnswerNoTools(t *testing.T) {
	client := &scriptedClient{scripts: [][]string{
		{"Thought: I already know this\n", "Final Answer: Paris is the capital of France"},
	}}
	a := New(client, NewRegistry())

	answer, _, _, err := a.Run(context.Background(), "what is the capital of France?", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if answer != "Paris is the capital of France" {
		t.Errorf("answer = %q", answer)
	}
}

func TestRun_ToolCallThenFinalAnswer(t *testing.T) {
	registry := NewRegistry()
	var gotInput string
	registry.Register(ToolSpec{
		Name:        "search",
		Description: "search the index",
		Fn: func(ctx context.Context, input string) (string, error) {
			gotInput = input
			return "the capital is Paris", nil
		},
	})

	client := &scriptedClient{scripts: [][]string{
		{"Thought: I should search\nAction: search\nAction Input: capital of France\n"},
		{"Thought: I now know the final answer\nFinal Answer: Paris"},
	}}
	a := New(client, registry)

	answer, _, steps, err := a.Run(context.Background(), "what is the capital of France?", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if answer != "Paris" {
		t.Errorf("answer = %q", answer)
	}
	if gotInput != "capital of France" {
		t.Errorf("tool input = %q", gotInput)
	}
	var sawObservation bool
	for _, s := range steps {
		if s.Kind == model.StepObservation {
			sawObservation = true
		}
	}
	if !sawObservation {
		t.Error("expected an observation step to be recorded")
	}
}

func TestRun_StepsInterleaveInEmissionOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(ToolSpec{
		Name: "search",
		Fn: func(ctx context.Context, input string) (string, error) {
			return "the capital is Paris", nil
		},
	})

	client := &scriptedClient{scripts: [][]string{
		{"Thought: I should search\nAction: search\nAction Input: capital of France\n"},
		{"Thought: I now know the final answer\nFinal Answer: Paris"},
	}}
	a := New(client, registry)

	_, _, steps, err := a.Run(context.Background(), "what is the capital of France?", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	wantKinds := []model.StepKind{model.StepThought, model.StepAction, model.StepObservation, model.StepThought}
	if len(steps) != len(wantKinds) {
		t.Fatalf("steps = %+v, want %d entries", steps, len(wantKinds))
	}
	for i, k := range wantKinds {
		if steps[i].Kind != k {
			t.Errorf("steps[%d].Kind = %s, want %s", i, steps[i].Kind, k)
		}
		if steps[i].StepIndex != i {
			t.Errorf("steps[%d].StepIndex = %d, want %d", i, steps[i].StepIndex, i)
		}
	}
}

func TestRun_ToolSurfacesDocuments(t *testing.T) {
	registry := NewRegistry()
	registry.Register(ToolSpec{
		Name: "search",
		Fn: func(ctx context.Context, input string) (string, error) {
			return `{"documents":[{"uuid":"doc-1","name":"a.pdf"}]}`, nil
		},
	})

	client := &scriptedClient{scripts: [][]string{
		{"Thought: searching\nAction: search\nAction Input: x\n"},
		{"Thought: done\nFinal Answer: see the document"},
	}}
	a := New(client, registry)

	_, docs, _, err := a.Run(context.Background(), "q", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(docs) != 1 || docs[0].UUID != "doc-1" {
		t.Errorf("documents = %+v", docs)
	}
}

func TestRun_AdminOnlyToolHiddenFromPublicUser(t *testing.T) {
	registry := NewRegistry()
	var called bool
	registry.Register(ToolSpec{
		Name:    "admin_tool",
		IsAdmin: true,
		Fn: func(ctx context.Context, input string) (string, error) {
			called = true
			return "secret", nil
		},
	})

	client := &scriptedClient{scripts: [][]string{
		{"Thought: try admin tool\nAction: admin_tool\nAction Input: x\n"},
		{"Thought: done\nFinal Answer: fallback answer"},
	}}
	a := New(client, registry)

	answer, _, _, err := a.Run(context.Background(), "q", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if called {
		t.Error("expected admin-only tool not to be invoked for a public user")
	}
	if !strings.Contains(answer, "fallback") {
		t.Errorf("expected the agent to recover and answer, got %q", answer)
	}
}

func TestRun_ToolErrorEventuallyFalls_BackAfterMaxRetries(t *testing.T) {
	registry := NewRegistry()
	registry.Register(ToolSpec{
		Name: "flaky",
		Fn: func(ctx context.Context, input string) (string, error) {
			return "", errors.New("upstream down")
		},
	})

	// Every THINK call asks to use the failing tool; there's no path to a
	// final answer, so error_count should eventually hit max_retries and the
	// agent should emit a graceful fallback instead of looping forever.
	script := []string{"Thought: try again\nAction: flaky\nAction Input: x\n"}
	client := &scriptedClient{scripts: [][]string{script, script, script, script, script, script, script, script}}
	a := New(client, registry)

	answer, _, _, err := a.Run(context.Background(), "q", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if answer == "" {
		t.Fatal("expected a non-empty fallback answer")
	}
}

func TestRun_StepBoundStopsTheLoop(t *testing.T) {
	registry := NewRegistry()
	registry.Register(ToolSpec{
		Name: "search",
		Fn: func(ctx context.Context, input string) (string, error) {
			return "some observation", nil
		},
	})
	// Always asks for another tool call, never reaches a Final Answer.
	script := []string{"Thought: keep searching\nAction: search\nAction Input: x\n"}
	scripts := make([][]string, DefaultMaxSteps+2)
	for i := range scripts {
		scripts[i] = script
	}
	client := &scriptedClient{scripts: scripts}
	a := New(client, registry)

	answer, _, _, err := a.Run(context.Background(), "q", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if answer == "" {
		t.Error("expected finalize to still produce a summarizing answer after hitting the step bound")
	}
}

func TestRun_StreamErrorDoesNotCrashAndFinalizes(t *testing.T) {
	client := &scriptedClient{
		scripts: [][]string{{"Thought: thinking"}},
		errs:    []error{errors.New("model unavailable")},
	}
	a := New(client, NewRegistry())

	answer, _, _, err := a.Run(context.Background(), "q", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if answer == "" {
		t.Error("expected a fallback/apology answer when the LLM stream errors")
	}
}
