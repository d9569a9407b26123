package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/ragcore/qacore/internal/model"
)

func TestGraphRun_DirectFinalAnswerNoTools(t *testing.T) {
	client := &scriptedClient{scripts: [][]string{
		{"Thought: I already know this\n", "Final Answer: Paris is the capital of France"},
	}}
	g := NewGraph(client, NewRegistry())

	answer, _, _, err := g.Run(context.Background(), "what is the capital of France?", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if answer != "Paris is the capital of France" {
		t.Errorf("answer = %q", answer)
	}
}

func TestGraphRun_ToolCallThenFinalAnswer(t *testing.T) {
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
	g := NewGraph(client, registry)

	answer, _, steps, err := g.Run(context.Background(), "what is the capital of France?", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if answer != "Paris" {
		t.Errorf("answer = %q", answer)
	}
	wantKinds := []model.StepKind{model.StepThought, model.StepAction, model.StepObservation, model.StepThought}
	if len(steps) != len(wantKinds) {
		t.Fatalf("steps = %+v, want %d entries", steps, len(wantKinds))
	}
	for i, k := range wantKinds {
		if steps[i].Kind != k {
			t.Errorf("steps[%d].Kind = %s, want %s", i, steps[i].Kind, k)
		}
	}
}

func TestGraphRun_ToolErrorFallsBackAfterMaxRetries(t *testing.T) {
	registry := NewRegistry()
	registry.Register(ToolSpec{
		Name: "flaky",
		Fn: func(ctx context.Context, input string) (string, error) {
			return "", errors.New("upstream down")
		},
	})

	script := []string{"Thought: try again\nAction: flaky\nAction Input: x\n"}
	client := &scriptedClient{scripts: [][]string{script, script, script, script, script, script, script, script}}
	g := NewGraph(client, registry)

	answer, _, _, err := g.Run(context.Background(), "q", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if answer == "" {
		t.Fatal("expected a non-empty fallback answer")
	}
}

func TestGraphRun_SetBoundsLimitsSteps(t *testing.T) {
	registry := NewRegistry()
	var calls int
	registry.Register(ToolSpec{
		Name: "search",
		Fn: func(ctx context.Context, input string) (string, error) {
			calls++
			return "some observation", nil
		},
	})

	// Never reaches a Final Answer; the step bound must stop the walk.
	script := []string{"Thought: keep searching\nAction: search\nAction Input: x\n"}
	scripts := make([][]string, 10)
	for i := range scripts {
		scripts[i] = script
	}
	client := &scriptedClient{scripts: scripts}
	g := NewGraph(client, registry)
	g.SetBounds(2, 2)

	answer, _, _, err := g.Run(context.Background(), "q", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if answer == "" {
		t.Error("expected finalize to still produce an answer after hitting the step bound")
	}
	if calls > 2 {
		t.Errorf("tool called %d times, want at most 2", calls)
	}
}

// The two agent variants share one contract; an identical script must produce
// an identical answer through either.
func TestGraphRun_MatchesReactiveVariant(t *testing.T) {
	scripts := [][]string{
		{"Thought: I should search\nAction: search\nAction Input: q\n"},
		{"Thought: I now know the final answer\nFinal Answer: forty-two"},
	}
	newRegistry := func() *Registry {
		r := NewRegistry()
		r.Register(ToolSpec{
			Name: "search",
			Fn: func(ctx context.Context, input string) (string, error) {
				return `{"documents":[{"uuid":"doc-1","name":"a.pdf"}]}`, nil
			},
		})
		return r
	}

	react := New(&scriptedClient{scripts: scripts}, newRegistry())
	graph := NewGraph(&scriptedClient{scripts: scripts}, newRegistry())

	reactAnswer, reactDocs, _, err := react.Run(context.Background(), "q", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("reactive Run() error: %v", err)
	}
	graphAnswer, graphDocs, _, err := graph.Run(context.Background(), "q", nil, model.PermissionPublic, nil)
	if err != nil {
		t.Fatalf("graph Run() error: %v", err)
	}

	if reactAnswer != graphAnswer {
		t.Errorf("answers diverge: reactive %q, graph %q", reactAnswer, graphAnswer)
	}
	if len(reactDocs) != len(graphDocs) {
		t.Errorf("documents diverge: reactive %d, graph %d", len(reactDocs), len(graphDocs))
	}
}
