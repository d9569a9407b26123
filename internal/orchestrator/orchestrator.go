// Package orchestrator implements MsgOrchestrator: the per-turn state
// machine that ties together history, the cache, the agent, trace
// persistence, and session bookkeeping into one SSE event stream.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ragcore/qacore/internal/agent"
	"github.com/ragcore/qacore/internal/history"
	"github.com/ragcore/qacore/internal/kv"
	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/qacache"
)

// DefaultQAJudgeTimeout bounds how long the judge goroutine is awaited.
const DefaultQAJudgeTimeout = 3 * time.Second

// observationEventTruncateLen caps an observation event's length.
const observationEventTruncateLen = 500

// EventKind is one of the orchestrator's SSE event names.
type EventKind string

const (
	EventSessionCreated        EventKind = "session_created"
	EventUserMessageSaved      EventKind = "user_message_saved"
	EventThought               EventKind = "thought"
	EventAction                EventKind = "action"
	EventObservation           EventKind = "observation"
	EventAnswerChunk           EventKind = "answer_chunk"
	EventDocuments             EventKind = "documents"
	EventImageAnalysisComplete EventKind = "image_analysis_complete"
	EventAIMessageSaved        EventKind = "ai_message_saved"
	EventDone                  EventKind = "done"
	EventError                 EventKind = "error"
)

// Event is one SSE event: a kind plus its JSON-serializable data payload.
type Event struct {
	Kind EventKind
	Data map[string]interface{}
}

// Sink receives events as the turn progresses.
type Sink func(Event)

// Inputs is one call's worth of send_message_stream arguments.
type Inputs struct {
	Content             string
	UserID              string
	SessionID           string // empty/unknown triggers session creation
	DisplayName         string
	DisplayAvatar       string
	FileBytes           []byte
	FileName            string
	FileType            string
	ParsedDocumentText  string
	ImageBytes          []byte
	ShowThinking        bool
	Location            string
	SkipCache           bool
	RegenerateMessageID string
}

// SessionStore is the slice of the document store the orchestrator depends on.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, sessionUUID string) (*model.Session, error)
	UpdateLastMessage(ctx context.Context, sessionUUID, lastMessage string) error
}

// MessageStore is the slice of the document store the orchestrator depends on.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	CountSince(ctx context.Context, sessionID string, after time.Time) (int, error)
}

// Judge is the slice of the judge the orchestrator depends on.
type Judge interface {
	Evaluate(ctx context.Context, question, answer string) (bool, error)
}

// Cache is the slice of the QA cache the orchestrator depends on.
type Cache interface {
	FindSimilar(ctx context.Context, question string, userID string, skipCache bool) (*qacache.Hit, error)
	UpdateFeedback(ctx context.Context, chainUUID, userID string, kind model.FeedbackKind) error
}

// Tracer is the slice of the trace store the orchestrator depends on.
type Tracer interface {
	SaveChain(ctx context.Context, chain *model.ThoughtChain, shouldCache bool) error
}

// LowConfidenceRecorder observes turns where the agent fell back to a
// canned, low-confidence answer instead of a grounded one.
type LowConfidenceRecorder interface {
	IncrementLowConfidenceFallback()
}

// KV is the slice of the key/value store the orchestrator depends on: the last-answer cache
// and the single-flight lock around background summarization.
type KV interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// lastAnswerTTL bounds how long a finished answer stays stored under
// kv.LastAnswerKey.
const lastAnswerTTL = 10 * time.Minute

// summarizeLockTTL bounds the single-flight summarization lock so a crashed
// goroutine can't wedge a session's summarization forever.
const summarizeLockTTL = time.Minute

// Agent is the slice of the agent the orchestrator depends on.
type Agent interface {
	Run(ctx context.Context, question string, hist []agent.Turn, userPermission model.Permission, cb agent.Callback) (answer string, documents []model.DocumentRef, steps []model.Step, err error)
}

// History is the slice of the history manager the orchestrator depends on.
type History interface {
	Load(ctx context.Context, sessionID string) ([]history.Turn, error)
	MaybeSummarize(ctx context.Context, sessionID string) error
	AutoNameSession(ctx context.Context, sessionID, firstUserQ, firstAIA string) error
}

// Config holds the orchestrator's tunables.
type Config struct {
	QAJudgeTimeout time.Duration
}

// Orchestrator coordinates one user turn end to end.
type Orchestrator struct {
	cfg      Config
	sessions SessionStore
	messages MessageStore
	history  History
	cache    Cache
	judge    Judge
	tracer   Tracer
	agent    Agent
	metrics  LowConfidenceRecorder
	kv       KV
}

// SetKV wires the last-answer cache and summarization lock in after
// construction; a nil KV simply disables both.
func (o *Orchestrator) SetKV(store KV) {
	o.kv = store
}

// SetMetrics wires a low-confidence-fallback recorder in after
// construction, keeping New's signature stable for callers that don't run
// a metrics registry (e.g. tests).
func (o *Orchestrator) SetMetrics(m LowConfidenceRecorder) {
	o.metrics = m
}

// New creates an Orchestrator.
func New(cfg Config, sessions SessionStore, messages MessageStore, hist History, cache Cache, judge Judge, tracer Tracer, ag Agent) *Orchestrator {
	if cfg.QAJudgeTimeout <= 0 {
		cfg.QAJudgeTimeout = DefaultQAJudgeTimeout
	}
	return &Orchestrator{cfg: cfg, sessions: sessions, messages: messages, history: hist, cache: cache, judge: judge, tracer: tracer, agent: ag}
}

// SendMessageStream drives one turn of the orchestrator's twelve steps, pushing
// events to sink as it goes. Any error aborts the turn with an `error`
// event; partial AI messages are never persisted.
func (o *Orchestrator) SendMessageStream(ctx context.Context, in Inputs, isAdmin bool, sink Sink) {
	if sink == nil {
		sink = func(Event) {}
	}

	sessionID, sessionIsNew, err := o.resolveSession(ctx, in, sink)
	if err != nil {
		o.emitError(sink, err)
		return
	}

	enhancedContent := in.Content
	if len(in.ImageBytes) > 0 {
		// Image analysis is an out-of-scope collaborator; absent a
		// wired analyzer, the raw content is used unmodified and no
		// image_analysis_complete event is emitted.
		sink(Event{Kind: EventThought, Data: map[string]interface{}{"content": "Analyzing attached image..."}})
	} else if in.ParsedDocumentText != "" {
		enhancedContent = in.ParsedDocumentText + "\n\n---\n\nMy question: " + in.Content
	}
	if in.Location != "" {
		enhancedContent = fmt.Sprintf("[user location: %s]\n\n%s", in.Location, enhancedContent)
	}

	userMsg, err := o.saveUserMessage(ctx, sessionID, in)
	if err != nil {
		o.emitError(sink, err)
		return
	}
	sink(Event{Kind: EventUserMessageSaved, Data: map[string]interface{}{"uuid": userMsg.UUID, "content": userMsg.Content}})

	userPermission := model.PermissionPublic
	if isAdmin {
		userPermission = model.PermissionAdminOnly
	}

	if in.SkipCache && in.RegenerateMessageID != "" {
		_ = o.cache.UpdateFeedback(ctx, in.RegenerateMessageID, in.UserID, model.FeedbackDislike)
	}

	// History load and the QACache similarity probe are independent reads,
	// run concurrently rather than paying both latencies in sequence.
	var hist []history.Turn
	var cacheHit *qacache.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var herr error
		hist, herr = o.history.Load(gctx, sessionID)
		return herr
	})
	g.Go(func() error {
		hit, _ := o.cache.FindSimilar(gctx, in.Content, in.UserID, in.SkipCache)
		cacheHit = hit
		return nil
	})
	if err := g.Wait(); err != nil {
		o.emitError(sink, err)
		return
	}

	answer, documents, steps, cachedChainID, err := o.reply(ctx, sessionID, enhancedContent, in, hist, cacheHit, userPermission, sink)
	if err != nil {
		o.emitError(sink, err)
		return
	}
	if o.metrics != nil && cachedChainID == "" && agent.IsFallback(answer) {
		o.metrics.IncrementLowConfidenceFallback()
	}

	if cachedChainID != "" {
		// A cache hit never streams through the agent, so the answer hasn't
		// been emitted yet: send it in one chunk. An agent-driven answer was
		// already streamed incrementally via reply()'s callback.
		sink(Event{Kind: EventAnswerChunk, Data: map[string]interface{}{"content": answer}})
	}
	if len(documents) > 0 {
		sink(Event{Kind: EventDocuments, Data: map[string]interface{}{"documents": documents}})
	}

	// QAJudge needs the completed answer to evaluate, so it is kicked off here
	// rather than back at step 5, then awaited (with a timeout) below while
	// the AI message write races it in parallel.
	var judgeResult *judgeOutcome
	if cachedChainID == "" {
		judgeResult = o.startJudge(in.Content, answer)
	}

	aiMsg, err := o.saveAIMessage(ctx, sessionID, answer, documents, steps, in.ShowThinking)
	if err != nil {
		o.emitError(sink, err)
		return
	}

	var thoughtChainID string
	if cachedChainID != "" {
		thoughtChainID = cachedChainID
	} else {
		shouldCache := awaitJudge(ctx, judgeResult, o.cfg.QAJudgeTimeout)
		chain := &model.ThoughtChain{
			UUID:          uuid.New().String(),
			SessionID:     sessionID,
			MessageID:     aiMsg.UUID,
			Question:      in.Content,
			Answer:        answer,
			Steps:         steps,
			DocumentsUsed: documents,
			UserID:        in.UserID,
			CreatedAt:     time.Now().UTC(),
		}
		if err := o.tracer.SaveChain(ctx, chain, shouldCache); err != nil {
			o.emitError(sink, fmt.Errorf("orchestrator: save chain: %w", err))
			return
		}
		thoughtChainID = chain.UUID
	}

	sink(Event{Kind: EventAIMessageSaved, Data: map[string]interface{}{
		"uuid": aiMsg.UUID, "content": answer, "thought_chain_id": thoughtChainID,
	}})

	if err := o.sessions.UpdateLastMessage(ctx, sessionID, answer); err != nil {
		slog.Warn("orchestrator: failed to update session last_message", "session_id", sessionID, "error", err)
	}
	if o.kv != nil {
		if err := o.kv.SetWithTTL(ctx, kv.LastAnswerKey(sessionID), answer, lastAnswerTTL); err != nil {
			slog.Warn("orchestrator: failed to cache last answer", "session_id", sessionID, "error", err)
		}
	}
	go func() {
		bgCtx := context.Background()
		if o.kv != nil {
			lockKey := kv.SummarizeLockKey(sessionID)
			acquired, err := o.kv.SetNX(bgCtx, lockKey, "1", summarizeLockTTL)
			if err != nil {
				slog.Warn("orchestrator: summarize lock unavailable, proceeding unlocked", "session_id", sessionID, "error", err)
			} else if !acquired {
				return
			} else {
				defer func() {
					if err := o.kv.Delete(bgCtx, lockKey); err != nil {
						slog.Warn("orchestrator: failed to release summarize lock", "session_id", sessionID, "error", err)
					}
				}()
			}
		}
		if err := o.history.MaybeSummarize(bgCtx, sessionID); err != nil {
			slog.Warn("orchestrator: background summarize failed", "session_id", sessionID, "error", err)
		}
	}()
	if sessionIsNew {
		go func() {
			bgCtx := context.Background()
			if err := o.history.AutoNameSession(bgCtx, sessionID, in.Content, answer); err != nil {
				slog.Warn("orchestrator: background auto-name failed", "session_id", sessionID, "error", err)
			}
		}()
	}

	sink(Event{Kind: EventDone, Data: map[string]interface{}{"session_id": sessionID}})
}

func (o *Orchestrator) resolveSession(ctx context.Context, in Inputs, sink Sink) (sessionID string, isNew bool, err error) {
	if in.SessionID != "" {
		existing, err := o.sessions.GetByID(ctx, in.SessionID)
		if err != nil {
			return "", false, fmt.Errorf("orchestrator: load session: %w", err)
		}
		if existing != nil {
			return existing.UUID, false, nil
		}
	}

	name := in.Content
	if len(name) > 10 {
		name = name[:10]
	}
	sess := &model.Session{UUID: uuid.New().String(), UserID: in.UserID, Name: name}
	if err := o.sessions.Create(ctx, sess); err != nil {
		return "", false, fmt.Errorf("orchestrator: create session: %w", err)
	}
	sink(Event{Kind: EventSessionCreated, Data: map[string]interface{}{"session_id": sess.UUID, "session_name": sess.Name}})
	return sess.UUID, true, nil
}

func (o *Orchestrator) saveUserMessage(ctx context.Context, sessionID string, in Inputs) (*model.Message, error) {
	extra := map[string]interface{}{}
	if in.FileName != "" {
		extra["file_name"] = in.FileName
	}
	if in.Location != "" {
		extra["location"] = in.Location
	}
	extraJSON, _ := json.Marshal(extra)

	msg := &model.Message{
		SessionID:  sessionID,
		Content:    in.Content,
		SendType:   model.SendUser,
		SendID:     in.UserID,
		SendName:   in.DisplayName,
		SendAvatar: in.DisplayAvatar,
		Extra:      extraJSON,
		Status:     "sent",
	}
	if in.FileName != "" {
		msg.FileName = &in.FileName
	}
	if in.FileType != "" {
		msg.FileType = &in.FileType
	}
	if err := o.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("orchestrator: save user message: %w", err)
	}
	return msg, nil
}

func (o *Orchestrator) saveAIMessage(ctx context.Context, sessionID, answer string, documents []model.DocumentRef, steps []model.Step, showThinking bool) (*model.Message, error) {
	extra := model.MessageExtra{Documents: documents}
	if showThinking {
		for _, s := range steps {
			switch s.Kind {
			case model.StepThought:
				extra.Thoughts = append(extra.Thoughts, s.Content)
			case model.StepAction:
				extra.Actions = append(extra.Actions, s.Content)
			case model.StepObservation:
				extra.Observations = append(extra.Observations, s.Content)
			}
		}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: marshal ai message extra: %w", err)
	}

	msg := &model.Message{
		SessionID: sessionID,
		Content:   answer,
		SendType:  model.SendAI,
		SendID:    "assistant",
		SendName:  "assistant",
		Extra:     extraJSON,
		Status:    "sent",
	}
	if err := o.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("orchestrator: save ai message: %w", err)
	}
	return msg, nil
}

// reply consults the cache, else drives the agent, forwarding its
// callback events through sink (gated by show_thinking for
// thought/action/observation).
func (o *Orchestrator) reply(ctx context.Context, sessionID, enhancedContent string, in Inputs, hist []history.Turn, cacheHit *qacache.Hit, userPermission model.Permission, sink Sink) (answer string, documents []model.DocumentRef, steps []model.Step, cachedChainID string, err error) {
	if cacheHit != nil {
		return cacheHit.Answer, cacheHit.Documents, nil, cacheHit.ThoughtChainID, nil
	}

	agentHistory := make([]agent.Turn, len(hist))
	for i, t := range hist {
		agentHistory[i] = agent.Turn{Role: t.Role, Content: t.Content}
	}

	cb := func(ev agent.CallbackEvent) {
		switch ev.Kind {
		case agent.EventThought:
			if in.ShowThinking {
				sink(Event{Kind: EventThought, Data: map[string]interface{}{"content": ev.Text}})
			}
		case agent.EventAction:
			if in.ShowThinking {
				sink(Event{Kind: EventAction, Data: map[string]interface{}{"content": ev.Text}})
			}
		case agent.EventObservation:
			if in.ShowThinking {
				sink(Event{Kind: EventObservation, Data: map[string]interface{}{"content": truncate(ev.Text, observationEventTruncateLen)}})
			}
		case agent.EventAnswerChunk:
			// Unlike thought/action/observation, answer content is always
			// forwarded regardless of show_thinking: it is the reply itself,
			// not reasoning trace.
			sink(Event{Kind: EventAnswerChunk, Data: map[string]interface{}{"content": ev.Text}})
		}
	}

	answer, documents, steps, err = o.agent.Run(ctx, enhancedContent, agentHistory, userPermission, cb)
	if err != nil {
		return "", nil, nil, "", fmt.Errorf("orchestrator: agent run: %w", err)
	}
	return answer, documents, steps, "", nil
}

type judgeOutcome struct {
	shouldCache bool
	done        chan struct{}
}

// startJudge kicks off QAJudge asynchronously (this
// `evaluation_id = session_id:user_message_uuid` is implicit in the
// goroutine's closure over this one turn). It runs on its own background
// context so a client disconnect on ctx doesn't cut the evaluation short.
func (o *Orchestrator) startJudge(question, answer string) *judgeOutcome {
	out := &judgeOutcome{done: make(chan struct{})}
	go func() {
		defer close(out.done)
		shouldCache, err := o.judge.Evaluate(context.Background(), question, answer)
		if err != nil {
			out.shouldCache = false
			return
		}
		out.shouldCache = shouldCache
	}()
	return out
}

// awaitJudge waits up to timeout for the judge's verdict, defaulting to
// false (do not cache) on timeout or caller cancellation.
func awaitJudge(ctx context.Context, out *judgeOutcome, timeout time.Duration) bool {
	select {
	case <-out.done:
		return out.shouldCache
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) emitError(sink Sink, err error) {
	slog.Error("orchestrator: turn aborted", "error", err)
	sink(Event{Kind: EventError, Data: map[string]interface{}{"message": err.Error()}})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
