package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ragcore/qacore/internal/bus"
	"github.com/ragcore/qacore/internal/graph"
	"github.com/ragcore/qacore/internal/middleware"
	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/orchestrator"
	"github.com/ragcore/qacore/internal/pipeline"
)

// ChatStreamTimeout bounds one whole send_message_stream turn.
const ChatStreamTimeout = 120 * time.Second

// DocumentStore is the slice of the document store the document endpoints depend on.
type DocumentStore interface {
	Create(ctx context.Context, d *model.Document) error
	GetByID(ctx context.Context, docUUID string) (*model.Document, error)
	ResetToPending(ctx context.Context, docUUID string) error
}

// Cache is the slice of the QA cache the feedback endpoint depends on.
type Cache interface {
	UpdateFeedback(ctx context.Context, chainUUID, userID string, kind model.FeedbackKind) error
}

// RelatedDocs is the supplemental document-relationship graph
// (internal/graph), surfaced via GET /api/documents/{id}/related. A nil
// RelatedDocs disables the endpoint (501), matching the "additive, never
// required" nature of the supplemental feature.
type RelatedDocs interface {
	RelatedDocuments(ctx context.Context, documentUUID string, limit int) ([]graph.RelatedDocument, error)
}

// New builds the chi router. A nil authMiddleware leaves the protected routes
// without an authentication step (development mode).
func New(orch *orchestrator.Orchestrator, docs DocumentStore, ingestBus bus.Bus, cache Cache, users middleware.UserRepo, metrics *middleware.Metrics, authMiddleware func(http.Handler) http.Handler, frontendURL string, related RelatedDocs) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(frontendURL))
	if metrics != nil {
		r.Use(middleware.Monitoring(metrics))
	}

	h := &handlers{orch: orch, docs: docs, ingestBus: ingestBus, cache: cache, users: users, related: related}

	r.Get("/healthz", h.healthz)

	r.Group(func(protected chi.Router) {
		if authMiddleware != nil {
			protected.Use(authMiddleware)
		}
		protected.Use(middleware.ResolveUser(users))

		protected.Post("/api/chat/stream", h.chatStream)
		protected.Post("/api/documents", h.createDocument)
		protected.Post("/api/documents/{id}/ingest", h.ingestDocument)
		protected.Delete("/api/documents/{id}", h.deleteDocument)
		protected.Post("/api/documents/{id}/reset", h.resetDocument)
		protected.Get("/api/documents/{id}/related", h.relatedDocuments)
		protected.Post("/api/thought-chains/{id}/feedback", h.submitFeedback)
	})

	return r
}

type handlers struct {
	orch      *orchestrator.Orchestrator
	docs      DocumentStore
	ingestBus bus.Bus
	cache     Cache
	users     middleware.UserRepo
	related   RelatedDocs
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// chatStreamRequest mirrors orchestrator.Inputs for the wire, omitting raw
// file/image bytes: this endpoint accepts a JSON body only.
type chatStreamRequest struct {
	Content             string `json:"content"`
	SessionID           string `json:"session_id"`
	ParsedDocumentText  string `json:"parsed_document_text,omitempty"`
	ShowThinking        bool   `json:"show_thinking"`
	Location            string `json:"location,omitempty"`
	SkipCache           bool   `json:"skip_cache,omitempty"`
	RegenerateMessageID string `json:"regenerate_message_id,omitempty"`
}

func (h *handlers) chatStream(w http.ResponseWriter, r *http.Request) {
	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	in := orchestrator.Inputs{
		Content:             req.Content,
		UserID:              middleware.UserIDFromContext(r.Context()),
		SessionID:           req.SessionID,
		DisplayName:         middleware.NicknameFromContext(r.Context()),
		ParsedDocumentText:  req.ParsedDocumentText,
		ShowThinking:        req.ShowThinking,
		Location:            req.Location,
		SkipCache:           req.SkipCache,
		RegenerateMessageID: req.RegenerateMessageID,
	}
	isAdmin := middleware.IsAdminFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), ChatStreamTimeout)
	defer cancel()
	h.orch.SendMessageStream(ctx, in, isAdmin, func(ev orchestrator.Event) {
		if err := writeSSE(w, flusher, ev); err != nil {
			slog.Warn("httpapi: failed writing sse frame", "kind", ev.Kind, "error", err)
		}
	})
}

type createDocumentRequest struct {
	Name       string `json:"name"`
	Permission int    `json:"permission"`
}

func (h *handlers) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	doc := &model.Document{
		Name:       req.Name,
		Permission: model.Permission(req.Permission),
		Status:     model.DocPending,
	}
	if err := h.docs.Create(r.Context(), doc); err != nil {
		http.Error(w, "failed to create document", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

type ingestDocumentRequest struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (h *handlers) ingestDocument(w http.ResponseWriter, r *http.Request) {
	docUUID := chi.URLParam(r, "id")
	doc, err := h.docs.GetByID(r.Context(), docUUID)
	if err != nil {
		http.Error(w, "failed to load document", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	var req ingestDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	task := pipeline.Task{
		DocumentUUID:   docUUID,
		CollectionName: "doc_chunks",
		Permission:     doc.Permission,
	}
	if req.FilePath != "" {
		task.TaskType = pipeline.TaskFile
		task.FilePath = req.FilePath
	} else {
		task.TaskType = pipeline.TaskText
		task.Content = req.Content
	}

	payload, err := json.Marshal(task)
	if err != nil {
		http.Error(w, "failed to encode ingestion task", http.StatusInternalServerError)
		return
	}
	if err := h.ingestBus.Produce(r.Context(), bus.Message{ID: docUUID, Payload: payload}); err != nil {
		http.Error(w, "failed to enqueue ingestion", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// deleteDocument enqueues a cascade delete: the pipeline's delete task
// removes the document's vectors, row, graph nodes, and physical file
// together, so the cascade holds regardless of where the request came from.
func (h *handlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	docUUID := chi.URLParam(r, "id")
	if !middleware.IsAdminFromContext(r.Context()) {
		http.Error(w, "admin permission required", http.StatusForbidden)
		return
	}
	doc, err := h.docs.GetByID(r.Context(), docUUID)
	if err != nil {
		http.Error(w, "failed to load document", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	task := pipeline.Task{TaskType: pipeline.TaskDelete, DocumentUUID: docUUID, FilePath: doc.URL}
	payload, err := json.Marshal(task)
	if err != nil {
		http.Error(w, "failed to encode delete task", http.StatusInternalServerError)
		return
	}
	if err := h.ingestBus.Produce(r.Context(), bus.Message{ID: docUUID, Payload: payload}); err != nil {
		http.Error(w, "failed to enqueue delete", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// resetDocument is the operator tool for restarting a stuck ingestion: it
// puts the document back to PENDING so it can be re-enqueued. Status is
// never reset automatically.
func (h *handlers) resetDocument(w http.ResponseWriter, r *http.Request) {
	docUUID := chi.URLParam(r, "id")
	if !middleware.IsAdminFromContext(r.Context()) {
		http.Error(w, "admin permission required", http.StatusForbidden)
		return
	}
	doc, err := h.docs.GetByID(r.Context(), docUUID)
	if err != nil {
		http.Error(w, "failed to load document", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	if err := h.docs.ResetToPending(r.Context(), docUUID); err != nil {
		http.Error(w, "failed to reset document", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type feedbackRequest struct {
	Kind string `json:"kind"`
}

func (h *handlers) submitFeedback(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "id")
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	kind := model.FeedbackKind(req.Kind)
	if kind != model.FeedbackLike && kind != model.FeedbackDislike {
		http.Error(w, "kind must be 'like' or 'dislike'", http.StatusBadRequest)
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.cache.UpdateFeedback(r.Context(), chainID, userID, kind); err != nil {
		http.Error(w, "failed to record feedback", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// relatedDocuments handles GET /api/documents/{id}/related (limit clamped
// 1..10, default 5), sourcing results from the supplemental citation graph
// instead of cosine similarity over document-embedding centroids.
func (h *handlers) relatedDocuments(w http.ResponseWriter, r *http.Request) {
	if h.related == nil {
		http.Error(w, "related documents feature not configured", http.StatusNotImplemented)
		return
	}
	docUUID := chi.URLParam(r, "id")

	limit := 5
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l >= 1 && l <= 10 {
		limit = l
	}

	related, err := h.related.RelatedDocuments(r.Context(), docUUID, limit)
	if err != nil {
		http.Error(w, "failed to find related documents", http.StatusInternalServerError)
		return
	}
	if related == nil {
		related = []graph.RelatedDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"related": related})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
