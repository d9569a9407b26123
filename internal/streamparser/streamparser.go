// Package streamparser implements StreamParser: a finite-state machine
// over concatenated LLM tokens that classifies running text into Thought,
// Action, Observation, and Answer segments. It keeps a rolling buffer and
// advances state only on trigger-literal boundaries, so labels split
// across chunks are still recognized.
package streamparser

import "strings"

// State is one of the parser's five FSM states.
type State int

const (
	StateIdle State = iota
	StateThought
	StateAction
	StateObservation
	StateAnswer
)

func (s State) String() string {
	switch s {
	case StateThought:
		return "THOUGHT"
	case StateAction:
		return "ACTION"
	case StateObservation:
		return "OBSERVATION"
	case StateAnswer:
		return "ANSWER"
	default:
		return "IDLE"
	}
}

// trigger pairs a literal that starts a new segment with the state it enters.
type trigger struct {
	literal string
	state   State
}

// triggers lists the segment-starting literals; when two match at the same
// position earliestTrigger picks the longer one, so "Final Answer:" wins
// over "Answer:".
var triggers = []trigger{
	{"Thought:", StateThought},
	{"Action:", StateAction},
	{"Observation:", StateObservation},
	{"Final Answer:", StateAnswer},
	{"Answer:", StateAnswer},
}

// EventKind identifies what a Feed call produced.
type EventKind int

const (
	EventNone EventKind = iota
	EventThought
	EventAnswerChunk
)

// Event is emitted by Feed when a chunk should be surfaced to the caller.
// Action/Observation chunks are never emitted here, they are
// delivered by the agent's explicit callback, which supersedes the token
// stream for those two states.
type Event struct {
	Kind EventKind
	Text string
}

// Parser classifies a running token stream into typed events.
type Parser struct {
	state           State
	buf             strings.Builder
	lastObservation string
	answerMode      bool
}

// New creates a Parser starting in StateIdle.
func New() *Parser {
	return &Parser{}
}

// State returns the parser's current FSM state.
func (p *Parser) State() State { return p.state }

// Feed consumes one chunk of streamed text and returns zero or more Events to
// surface to the caller. The internal buffer only ever holds text since the
// last recognized trigger (or un-triggered residue awaiting more chunks).
func (p *Parser) Feed(chunk string) []Event {
	if p.answerMode {
		// Terminal state: once reached, every further token is an answer
		// chunk regardless of interleaved labels.
		if chunk == "" || isPureNewline(chunk) {
			return nil
		}
		return []Event{{Kind: EventAnswerChunk, Text: chunk}}
	}

	p.buf.WriteString(chunk)
	running := p.buf.String()

	var events []Event
	for {
		idx, trig := earliestTrigger(running)
		if trig == nil {
			break
		}

		pre := running[:idx]
		if ev, ok := p.emitForState(p.state, pre); ok {
			events = append(events, ev)
		}

		p.state = trig.state
		if trig.state == StateAnswer {
			p.answerMode = true
		}
		running = running[idx+len(trig.literal):]
	}

	p.buf.Reset()

	if p.answerMode && running != "" && !isPureNewline(running) {
		events = append(events, Event{Kind: EventAnswerChunk, Text: running})
	} else {
		p.buf.WriteString(running)
		if p.state == StateObservation && running != "" {
			p.lastObservation += running
		}
	}

	return events
}

// emitForState returns the event (if any) that text accumulated while in
// oldState should produce: THOUGHT emits `thought`;
// ACTION/OBSERVATION never emit from the token stream, but OBSERVATION text
// is still tracked so ShouldSkipDuplicateAnswer can compare against it.
func (p *Parser) emitForState(oldState State, text string) (Event, bool) {
	if oldState == StateObservation {
		p.lastObservation += text
	}
	if oldState != StateThought || text == "" || isPureNewline(text) {
		return Event{}, false
	}
	return Event{Kind: EventThought, Text: text}, true
}

// earliestTrigger finds the trigger literal that appears first in s, with
// ties broken in favour of the longer literal (so "Final Answer:" beats
// "Answer:" when both match the same position).
func earliestTrigger(s string) (int, *trigger) {
	best := -1
	var bestTrig *trigger
	for i := range triggers {
		idx := strings.Index(s, triggers[i].literal)
		if idx < 0 {
			continue
		}
		if best == -1 || idx < best || (idx == best && len(triggers[i].literal) > len(bestTrig.literal)) {
			best = idx
			bestTrig = &triggers[i]
		}
	}
	return best, bestTrig
}

func isPureNewline(s string) bool {
	return strings.Trim(s, "\r\n") == ""
}

// GetRemainingAnswer extracts any tail content left in the buffer if the
// stream ended while inside a recognized-but-unflushed Answer segment.
func (p *Parser) GetRemainingAnswer() string {
	if !p.answerMode {
		return ""
	}
	rest := p.buf.String()
	p.buf.Reset()
	return rest
}

// ShouldSkipDuplicateAnswer reports whether final equals the last
// Observation the parser saw, preventing an agent from re-emitting an
// observation verbatim as its final answer.
func (p *Parser) ShouldSkipDuplicateAnswer(final string) bool {
	if p.lastObservation == "" {
		return false
	}
	return strings.TrimSpace(final) == strings.TrimSpace(p.lastObservation)
}
