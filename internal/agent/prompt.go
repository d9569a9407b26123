package agent

import (
	"fmt"
	"strings"
)

// agentSystemPromptHeader is the agent's fixed grammar: Thought/Action/Action
// Input/Observation lines, terminated by a Thought announcing knowledge and
// a Final Answer, plus the single-action and thought-before-action rules.
const agentSystemPromptHeader = `You are a reasoning agent that answers questions by thinking step by step and, ` +
	`when useful, calling tools.

Respond using exactly this format, one line at a time:
Thought: <your reasoning>
Action: <tool name>
Action Input: <input to the tool>
Observation: <result, supplied to you>
... (this Thought/Action/Action Input/Observation cycle may repeat)
Thought: I now know the final answer
Final Answer: <the final answer to the original question>

Rules:
- Only one Action per turn.
- Always emit a Thought immediately before every Action.
- After receiving an Observation, always emit a new Thought before your next step.
- If you already know the answer, skip straight to "Thought: I now know the final answer" and "Final Answer:".

Available tools:
`

// buildSystemPrompt renders the fixed grammar plus each visible tool's name
// and one-line description.
func buildSystemPrompt(tools []ToolSpec) string {
	var b strings.Builder
	b.WriteString(agentSystemPromptHeader)
	if len(tools) == 0 {
		b.WriteString("(none available)\n")
	}
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return b.String()
}

// renderUserPrompt assembles the conversation history and the current
// scratchpad into the prompt fed to the next THINK call.
func renderUserPrompt(history []Turn, scratchpad string) string {
	var b strings.Builder
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	b.WriteString("\n")
	b.WriteString(scratchpad)
	return b.String()
}

// parseAction extracts a tool invocation from one THINK step's full streamed
// text: the first "Action:"-labeled line names the tool, the following
// "Action Input:"-labeled line is its input. Returns ok=false if no
// well-formed action is present (e.g. the model went straight to a Final
// Answer instead).
func parseAction(text string) (name, input string, ok bool) {
	actionIdx := strings.Index(text, "Action:")
	if actionIdx < 0 {
		return "", "", false
	}
	// A Final Answer anywhere before the Action label means this step
	// resolved to an answer, not a tool call.
	if faIdx := strings.Index(text, "Final Answer:"); faIdx >= 0 && faIdx < actionIdx {
		return "", "", false
	}

	rest := text[actionIdx+len("Action:"):]
	nameLine, afterName := splitLine(rest)
	name = strings.TrimSpace(nameLine)
	if name == "" {
		return "", "", false
	}

	inputIdx := strings.Index(afterName, "Action Input:")
	if inputIdx < 0 {
		return "", "", false
	}
	inputRest := afterName[inputIdx+len("Action Input:"):]
	inputLine, _ := splitLine(inputRest)
	input = strings.TrimSpace(inputLine)

	return name, input, true
}

func splitLine(s string) (line, rest string) {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}
