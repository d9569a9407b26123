package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/ragerr"
	"github.com/ragcore/qacore/internal/streamparser"
)

// DefaultMaxSteps and DefaultMaxRetries bound the ReAct loop.
const (
	DefaultMaxSteps   = 8
	DefaultMaxRetries = 2
)

// observationTruncateLen caps how much of a tool's observation is appended
// to the scratchpad, keeping the replayed prompt bounded.
const observationTruncateLen = 2000

// FallbackNoAnswer and FallbackRepeatedErrors are the agent's canned,
// low-confidence answers: neither is sourced from a model or tool result.
const (
	FallbackNoAnswer       = "I'm sorry, I wasn't able to find an answer to that."
	FallbackRepeatedErrors = "I ran into repeated errors while working on this and can't complete it right now. Please try rephrasing your question."
)

// IsFallback reports whether answer is one of the agent's canned
// low-confidence responses rather than a grounded, model-produced answer.
func IsFallback(answer string) bool {
	return answer == FallbackNoAnswer || answer == FallbackRepeatedErrors
}

// GenAIClient abstracts the streaming LLM call the THINK step drives.
type GenAIClient interface {
	GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error)
}

// EventKind identifies a callback event the loop emits.
type EventKind string

const (
	EventAction      EventKind = "action"
	EventObservation EventKind = "observation"
	EventToolResult  EventKind = "tool_result"
	EventLLMChunk    EventKind = "llm_chunk"
	EventThought     EventKind = "thought"
	EventAnswerChunk EventKind = "answer_chunk"
)

// CallbackEvent is delivered to the caller-supplied callback during the loop.
type CallbackEvent struct {
	Kind EventKind
	Text string
}

// Callback receives loop events as they happen.
type Callback func(CallbackEvent)

// State is the agent's run state.
type State struct {
	Messages      []streamparser.Event // accumulated thought/answer chunks, for diagnostics
	CurrentStep   int
	MaxSteps      int
	ErrorCount    int
	MaxRetries    int
	LastError     error
	ErrorKind     ragerr.Kind
	ToolResults   []string
	FinalAnswer   string
	Documents     []model.DocumentRef
	Scratchpad    strings.Builder
	PendingAction *pendingAction
	StepLog       []model.Step // thought/action/observation steps, in emission order
}

// appendStep records a step in emission order and returns it.
func (st *State) appendStep(kind model.StepKind, content string) {
	st.StepLog = append(st.StepLog, model.Step{StepIndex: len(st.StepLog), Kind: kind, Content: content})
}

type pendingAction struct {
	tool  string
	input string
}

// Agent is the straight reactive loop executor.
type Agent struct {
	llm        GenAIClient
	tools      *Registry
	maxSteps   int
	maxRetries int
}

// New creates an Agent over the given tool registry.
func New(llm GenAIClient, tools *Registry) *Agent {
	return &Agent{llm: llm, tools: tools, maxSteps: DefaultMaxSteps, maxRetries: DefaultMaxRetries}
}

// SetBounds overrides the loop's step and retry bounds. Non-positive values
// leave the current bound unchanged.
func (a *Agent) SetBounds(maxSteps, maxRetries int) {
	if maxSteps > 0 {
		a.maxSteps = maxSteps
	}
	if maxRetries > 0 {
		a.maxRetries = maxRetries
	}
}

// Run drives the full THINK/ACT/ROUTE/FINALIZE loop for one question,
// emitting callback events as it goes, and returns the final answer plus
// the documents surfaced by any tool calls.
func (a *Agent) Run(ctx context.Context, question string, history []Turn, userPermission model.Permission, cb Callback) (answer string, documents []model.DocumentRef, steps []model.Step, err error) {
	if cb == nil {
		cb = func(CallbackEvent) {}
	}

	st := &State{MaxSteps: a.maxSteps, MaxRetries: a.maxRetries}
	parser := streamparser.New()
	st.Scratchpad.WriteString(fmt.Sprintf("Question: %s\n", question))

	visibleTools := a.tools.Visible(userPermission)
	sysPrompt := buildSystemPrompt(visibleTools)

	phase := phaseThink
	for {
		switch phase {
		case phaseThink:
			phase = a.think(ctx, st, parser, sysPrompt, history, cb)
		case phaseAct:
			phase = a.act(ctx, st, parser, userPermission, cb)
		case phaseErrorRecovery:
			phase = a.errorRecovery(st)
		case phaseFinalize:
			answer = a.finalize(ctx, st, sysPrompt, history, cb)
			return answer, st.Documents, chainSteps(st), nil
		}
		if ctx.Err() != nil {
			return "", st.Documents, chainSteps(st), ctx.Err()
		}
	}
}

// Turn is a role/content history entry (mirrors history.Turn; duplicated
// here to avoid a needless cross-package type dependency for callers that
// don't otherwise import internal/history).
type Turn struct {
	Role    string
	Content string
}

type phase int

const (
	phaseThink phase = iota
	phaseAct
	phaseErrorRecovery
	phaseFinalize
)

// think renders the prompt, streams the LLM, and parses the streamed
// text via the StreamParser.
func (a *Agent) think(ctx context.Context, st *State, parser *streamparser.Parser, sysPrompt string, history []Turn, cb Callback) phase {
	st.CurrentStep++

	userPrompt := renderUserPrompt(history, st.Scratchpad.String())
	textCh, errCh := a.llm.GenerateContentStream(ctx, sysPrompt, userPrompt)

	var full, answer strings.Builder
	for chunk := range textCh {
		full.WriteString(chunk)
		cb(CallbackEvent{Kind: EventLLMChunk, Text: chunk})
		for _, ev := range parser.Feed(chunk) {
			st.Messages = append(st.Messages, ev)
			switch ev.Kind {
			case streamparser.EventThought:
				cb(CallbackEvent{Kind: EventThought, Text: ev.Text})
				st.appendStep(model.StepThought, ev.Text)
			case streamparser.EventAnswerChunk:
				answer.WriteString(ev.Text)
				cb(CallbackEvent{Kind: EventAnswerChunk, Text: ev.Text})
			}
		}
	}
	if err := <-errCh; err != nil {
		st.ErrorCount++
		st.ErrorKind = ragerr.LLM
		st.LastError = ragerr.NewLLMError(err)
		return routeAfterThink(st)
	}

	name, input, ok := parseAction(full.String())
	switch {
	case ok:
		st.PendingAction = &pendingAction{tool: name, input: input}
	case parser.State() == streamparser.StateAnswer:
		st.FinalAnswer = strings.TrimSpace(answer.String())
		if st.FinalAnswer != "" && parser.ShouldSkipDuplicateAnswer(st.FinalAnswer) {
			st.FinalAnswer = ""
			st.ErrorCount++
			st.ErrorKind = ragerr.Parse
			st.LastError = ragerr.NewParseError("agent.think", "final answer duplicated the last observation")
		}
	default:
		st.ErrorCount++
		st.ErrorKind = ragerr.Parse
		st.LastError = ragerr.NewParseError("agent.think", "no Action or Final Answer in model output")
	}

	return routeAfterThink(st)
}

// routeAfterThink decides what follows a THINK step: FINALIZE if
// the step bound is hit, an error (parse or LLM) occurred, or a final answer was
// produced; otherwise ACT when a tool call was parsed.
func routeAfterThink(st *State) phase {
	if st.CurrentStep >= st.MaxSteps || st.LastError != nil || st.FinalAnswer != "" {
		return phaseFinalize
	}
	if st.PendingAction != nil {
		return phaseAct
	}
	return phaseFinalize
}

// act executes the pending action, merges any
// documents the tool surfaced, and appends the exchange to the scratchpad.
func (a *Agent) act(ctx context.Context, st *State, parser *streamparser.Parser, userPermission model.Permission, cb Callback) phase {
	action := st.PendingAction
	st.PendingAction = nil
	if action == nil || st.CurrentStep > st.MaxSteps {
		return phaseFinalize
	}

	actionContent := fmt.Sprintf("%s(%s)", action.tool, action.input)
	cb(CallbackEvent{Kind: EventAction, Text: actionContent})
	st.appendStep(model.StepAction, actionContent)

	observation, err := a.tools.execute(ctx, action.tool, action.input, userPermission)
	if err != nil {
		st.ErrorCount++
		st.ErrorKind = ragerr.KindOf(err)
		st.LastError = err
		observation = fmt.Sprintf("Error: %v", err)
	} else {
		st.LastError = nil
		st.ToolResults = append(st.ToolResults, observation)
		if docs := toolDocuments(observation); docs != nil {
			st.Documents = mergeDocuments(st.Documents, docs)
		}
	}

	cb(CallbackEvent{Kind: EventObservation, Text: observation})
	cb(CallbackEvent{Kind: EventToolResult, Text: observation})
	st.appendStep(model.StepObservation, observation)

	truncated := observation
	if len(truncated) > observationTruncateLen {
		truncated = truncated[:observationTruncateLen] + "..."
	}
	fmt.Fprintf(&st.Scratchpad, "Action: %s\nAction Input: %s\nObservation: %s\nThought:", action.tool, action.input, truncated)
	parser.Feed(fmt.Sprintf("Action: %s\nAction Input: %s\nObservation: %s\nThought:", action.tool, action.input, truncated))

	if st.LastError != nil {
		return phaseErrorRecovery
	}
	return phaseThink
}

// errorRecovery handles a failed tool call, retrying until the run's error
// count reaches st.MaxRetries (DefaultMaxRetries unless SetBounds changed it).
func (a *Agent) errorRecovery(st *State) phase {
	if st.ErrorCount >= st.MaxRetries {
		st.FinalAnswer = gracefulFallback(st)
		return phaseFinalize
	}
	fmt.Fprintf(&st.Scratchpad, "\n[recovery hint] Previous step failed (%s): %v. Try a different approach.\n", st.ErrorKind, st.LastError)
	st.LastError = nil
	st.ErrorKind = ""
	return phaseThink
}

// finalize builds the terminal answer from the current run state.
func (a *Agent) finalize(ctx context.Context, st *State, sysPrompt string, history []Turn, cb Callback) string {
	if st.FinalAnswer != "" {
		return st.FinalAnswer
	}
	if len(st.ToolResults) == 0 {
		return FallbackNoAnswer
	}

	summarizePrompt := renderUserPrompt(history, st.Scratchpad.String()+"\nSummarize the findings above into a final answer.\nFinal Answer:")
	textCh, errCh := a.llm.GenerateContentStream(ctx, sysPrompt, summarizePrompt)
	var full strings.Builder
	for chunk := range textCh {
		full.WriteString(chunk)
		cb(CallbackEvent{Kind: EventLLMChunk, Text: chunk})
	}
	if err := <-errCh; err != nil {
		slog.Warn("agent.finalize: summarizing llm call failed", "error", err)
		return FallbackNoAnswer
	}

	text := full.String()
	if idx := strings.LastIndex(text, "Final Answer:"); idx >= 0 {
		return strings.TrimSpace(text[idx+len("Final Answer:"):])
	}
	return strings.TrimSpace(text)
}

func gracefulFallback(st *State) string {
	return FallbackRepeatedErrors
}

// chainSteps returns the run's THOUGHT/ACTION/OBSERVATION steps in the
// order they were actually emitted, as recorded by State.appendStep.
func chainSteps(st *State) []model.Step {
	return st.StepLog
}

func mergeDocuments(existing, incoming []model.DocumentRef) []model.DocumentRef {
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[d.UUID] = true
	}
	for _, d := range incoming {
		if !seen[d.UUID] {
			existing = append(existing, d)
			seen[d.UUID] = true
		}
	}
	return existing
}
