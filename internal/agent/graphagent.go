package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/streamparser"
)

// Node names of the state-graph agent variant.
const (
	nodeThink         = "think"
	nodeAct           = "act"
	nodeErrorRecovery = "error_recovery"
	nodeFinalize      = "finalize"
)

// maxTraversalDepth limits graph traversal to prevent infinite loops; the
// per-run step and retry bounds terminate a healthy run long before this.
const maxTraversalDepth = 100

// graphRun carries one run's mutable context between node invocations.
type graphRun struct {
	st        *State
	parser    *streamparser.Parser
	sysPrompt string
	history   []Turn
	perm      model.Permission
	cb        Callback
	answer    string
}

// nodeFunc executes one node's work against the run.
type nodeFunc func(ctx context.Context, rn *graphRun)

// edge is a directed connection between two nodes. A nil condition is
// unconditional (always taken). For multiple matching edges from a node, the
// first match wins; a node with no matching edge is terminal.
type edge struct {
	from, to  string
	condition func(*State) bool
}

// GraphAgent is the state-graph variant of the agent loop: the same
// THINK/ACT/ERROR_RECOVERY/FINALIZE semantics as Agent, expressed as an
// explicit graph of named nodes connected by conditional edges and walked
// until a terminal node. Both variants satisfy the same Run contract, so the
// choice between them is a config-time decision.
type GraphAgent struct {
	inner *Agent
	nodes map[string]nodeFunc
	edges []edge
	entry string
}

// NewGraph creates a GraphAgent over the given tool registry.
func NewGraph(llm GenAIClient, tools *Registry) *GraphAgent {
	g := &GraphAgent{inner: New(llm, tools), entry: nodeThink}
	g.nodes = map[string]nodeFunc{
		nodeThink: func(ctx context.Context, rn *graphRun) {
			g.inner.think(ctx, rn.st, rn.parser, rn.sysPrompt, rn.history, rn.cb)
		},
		nodeAct: func(ctx context.Context, rn *graphRun) {
			g.inner.act(ctx, rn.st, rn.parser, rn.perm, rn.cb)
		},
		nodeErrorRecovery: func(ctx context.Context, rn *graphRun) {
			g.inner.errorRecovery(rn.st)
		},
		nodeFinalize: func(ctx context.Context, rn *graphRun) {
			rn.answer = g.inner.finalize(ctx, rn.st, rn.sysPrompt, rn.history, rn.cb)
		},
	}
	g.edges = []edge{
		{from: nodeThink, to: nodeFinalize, condition: func(st *State) bool {
			return st.CurrentStep >= st.MaxSteps || st.LastError != nil || st.FinalAnswer != ""
		}},
		{from: nodeThink, to: nodeAct, condition: func(st *State) bool {
			return st.PendingAction != nil
		}},
		{from: nodeThink, to: nodeFinalize},
		{from: nodeAct, to: nodeErrorRecovery, condition: func(st *State) bool {
			return st.LastError != nil
		}},
		{from: nodeAct, to: nodeThink},
		{from: nodeErrorRecovery, to: nodeFinalize, condition: func(st *State) bool {
			return st.FinalAnswer != ""
		}},
		{from: nodeErrorRecovery, to: nodeThink},
	}
	return g
}

// SetBounds overrides the loop's step and retry bounds. Non-positive values
// leave the current bound unchanged.
func (g *GraphAgent) SetBounds(maxSteps, maxRetries int) {
	g.inner.SetBounds(maxSteps, maxRetries)
}

// Run walks the graph from the think node until the finalize node completes,
// emitting the same callback events as the reactive variant.
func (g *GraphAgent) Run(ctx context.Context, question string, history []Turn, userPermission model.Permission, cb Callback) (answer string, documents []model.DocumentRef, steps []model.Step, err error) {
	if cb == nil {
		cb = func(CallbackEvent) {}
	}

	st := &State{MaxSteps: g.inner.maxSteps, MaxRetries: g.inner.maxRetries}
	st.Scratchpad.WriteString(fmt.Sprintf("Question: %s\n", question))

	rn := &graphRun{
		st:        st,
		parser:    streamparser.New(),
		sysPrompt: buildSystemPrompt(g.inner.tools.Visible(userPermission)),
		history:   history,
		perm:      userPermission,
		cb:        cb,
	}

	current := g.entry
	for depth := 0; depth < maxTraversalDepth; depth++ {
		node, ok := g.nodes[current]
		if !ok {
			return "", st.Documents, chainSteps(st), fmt.Errorf("agent: graph node %q not found", current)
		}
		node(ctx, rn)
		if ctx.Err() != nil {
			return "", st.Documents, chainSteps(st), ctx.Err()
		}

		next := g.nextNode(current, st)
		if next == "" {
			return strings.TrimSpace(rn.answer), st.Documents, chainSteps(st), nil
		}
		current = next
	}
	return "", st.Documents, chainSteps(st), fmt.Errorf("agent: graph traversal exceeded %d nodes", maxTraversalDepth)
}

// nextNode returns the next node to visit from the given node, or "" if no
// outgoing edge matches.
func (g *GraphAgent) nextNode(from string, st *State) string {
	for _, e := range g.edges {
		if e.from != from {
			continue
		}
		if e.condition == nil || e.condition(st) {
			return e.to
		}
	}
	return ""
}
