package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/vectorstore"
)

// VectorStore is the slice of the vector store the pipeline depends on.
type VectorStore interface {
	CreateCollection(ctx context.Context, name string, dim int, metric vectorstore.Metric) error
	Insert(ctx context.Context, collection string, vectors [][]float32, texts []string, metadatas []map[string]string) ([]string, error)
	Count(ctx context.Context, collection string, expr map[string]string) (int, error)
	DeleteByExpr(ctx context.Context, collection string, expr map[string]string) error
}

// DocumentStore is the slice of the document store the pipeline depends on.
type DocumentStore interface {
	SetStatus(ctx context.Context, docUUID string, status model.DocStatus, extra *model.DocumentExtra) error
	UpdateContent(ctx context.Context, docUUID, content string) error
	Delete(ctx context.Context, docUUID string) error
}

// Embedder is the slice of the embedder the pipeline depends on.
type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string, normalize bool) ([][]float32, error)
}

// Grapher is the supplemental document-relationship graph (internal/graph).
// It is additive: a nil Grapher simply disables the supplemental feature,
// and graph errors are logged but never fail ingestion.
type Grapher interface {
	RecordChunks(ctx context.Context, documentUUID string, chunkIDs []string) error
	RemoveDocument(ctx context.Context, documentUUID string) error
}

// Config holds the pipeline's tunables: chunk size, chunk overlap, embedding
// batch size, target collection, vector dimension and distance metric.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	BatchSize      int
	CollectionName string
	VectorDim      int
	Metric         vectorstore.Metric
}

// DefaultConfig returns the default tunables (chunk_size 500, overlap 50,
// batch_size 32).
func DefaultConfig(collectionName string, dim int) Config {
	return Config{
		ChunkSize:      DefaultChunkSize,
		ChunkOverlap:   DefaultChunkOverlap,
		BatchSize:      32,
		CollectionName: collectionName,
		VectorDim:      dim,
		Metric:         vectorstore.CosineMetric,
	}
}

// Pipeline is DocPipeline: consumes bus tasks, extracts/splits/embeds
// document text, and drives the document status machine.
type Pipeline struct {
	cfg       Config
	store     VectorStore
	docs      DocumentStore
	embed     Embedder
	extractor Extractor
	graph     Grapher

	mu         sync.Mutex
	processing map[string]bool
}

// SetGrapher wires the supplemental document-relationship graph in after
// construction, keeping New's signature stable for callers that don't run
// Neo4j.
func (p *Pipeline) SetGrapher(g Grapher) {
	p.graph = g
}

// New creates a Pipeline.
func New(cfg Config, store VectorStore, docs DocumentStore, embed Embedder, extractor Extractor) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		docs:       docs,
		embed:      embed,
		extractor:  extractor,
		processing: make(map[string]bool),
	}
}

// HandleTask is the MessageBus handler entry point (bus.Handler-compatible
// once wrapped by the caller with JSON decoding). Dispatches on task_type.
func (p *Pipeline) HandleTask(ctx context.Context, task Task) error {
	if !task.Valid() {
		slog.Warn("pipeline: discarding malformed task", "task_type", task.TaskType, "document_uuid", task.DocumentUUID)
		return nil
	}

	switch task.TaskType {
	case TaskFile, TaskText:
		return p.processDocument(ctx, task)
	case TaskDelete:
		return p.processDelete(ctx, task)
	case TaskBatch:
		for _, sub := range task.Batch {
			if err := p.HandleTask(ctx, sub); err != nil {
				slog.Error("pipeline: batch sub-task failed", "document_uuid", sub.DocumentUUID, "error", err)
			}
		}
		return nil
	default:
		slog.Warn("pipeline: discarding task with unknown type", "task_type", task.TaskType)
		return nil
	}
}

func (p *Pipeline) claim(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processing[docID] {
		return false
	}
	p.processing[docID] = true
	return true
}

func (p *Pipeline) release(docID string) {
	p.mu.Lock()
	delete(p.processing, docID)
	p.mu.Unlock()
}

func (p *Pipeline) processDocument(ctx context.Context, task Task) error {
	docID := task.DocumentUUID
	if !p.claim(docID) {
		return fmt.Errorf("pipeline.processDocument: document %s is already being processed", docID)
	}
	defer p.release(docID)

	collection := task.CollectionName
	if collection == "" {
		collection = p.cfg.CollectionName
	}

	slog.Info("pipeline starting", "document_id", docID, "task_type", task.TaskType)

	// Idempotency check: if this document already has chunks in the
	// collection, a prior attempt ran to completion before a status write
	// was lost to redelivery; skip straight to marking DONE. The handler
	// writes all chunks first and flips status once, so redelivery is safe.
	var existing int
	err := withStoreRetry(ctx, docID, "idempotency count", func() error {
		var countErr error
		existing, countErr = p.store.Count(ctx, collection, map[string]string{"document_uuid": docID})
		return countErr
	})
	if err != nil {
		slog.Warn("pipeline: idempotency check failed after retries, proceeding anyway", "document_id", docID, "error", err)
	} else if existing > 0 {
		slog.Info("pipeline: chunks already present, skipping re-embed", "document_id", docID, "existing_chunks", existing)
		return p.docs.SetStatus(ctx, docID, model.DocDone, &model.DocumentExtra{ChunksCount: existing})
	}

	if err := p.docs.SetStatus(ctx, docID, model.DocProcessing, nil); err != nil {
		return fmt.Errorf("pipeline.processDocument: set processing: %w", err)
	}

	text, err := p.loadText(ctx, task)
	if err != nil {
		p.fail(ctx, docID, err)
		return fmt.Errorf("pipeline.processDocument: load text: %w", err)
	}
	if err := p.docs.UpdateContent(ctx, docID, text); err != nil {
		slog.Warn("pipeline: failed to store extracted content (non-fatal)", "document_id", docID, "error", err)
	}

	chunks := Split(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		err := fmt.Errorf("no content after splitting")
		p.fail(ctx, docID, err)
		return fmt.Errorf("pipeline.processDocument: chunk: %w", err)
	}
	slog.Info("pipeline chunks created", "document_id", docID, "chunk_count", len(chunks))

	started := time.Now()
	vectors, err := p.embedInBatches(ctx, chunks)
	if err != nil {
		p.fail(ctx, docID, err)
		return fmt.Errorf("pipeline.processDocument: embed: %w", err)
	}
	embeddingTime := time.Since(started)

	tokensTotal := 0
	for _, c := range chunks {
		tokensTotal += EstimateTokens(c)
	}
	tokensPerSecond := 0.0
	if embeddingTime.Seconds() > 0 {
		tokensPerSecond = float64(tokensTotal) / embeddingTime.Seconds()
	}

	if err := withStoreRetry(ctx, docID, "create collection", func() error {
		return p.store.CreateCollection(ctx, collection, p.cfg.VectorDim, p.cfg.Metric)
	}); err != nil {
		p.fail(ctx, docID, err)
		return fmt.Errorf("pipeline.processDocument: create collection: %w", err)
	}

	filename := task.Metadata["filename"]
	source := task.Metadata["source"]
	metadatas := make([]map[string]string, len(chunks))
	for i := range chunks {
		md := map[string]string{
			"document_uuid": docID,
			"chunk_index":   fmt.Sprintf("%d", i),
			"chunk_count":   fmt.Sprintf("%d", len(chunks)),
			"filename":      filename,
			"source":        source,
			"permission":    fmt.Sprintf("%d", task.Permission),
		}
		for k, v := range task.Metadata {
			if _, ok := md[k]; !ok {
				md[k] = v
			}
		}
		metadatas[i] = md
	}

	var chunkIDs []string
	err = withStoreRetry(ctx, docID, "insert chunks", func() error {
		var insertErr error
		chunkIDs, insertErr = p.store.Insert(ctx, collection, vectors, chunks, metadatas)
		return insertErr
	})
	if err != nil {
		p.fail(ctx, docID, err)
		return fmt.Errorf("pipeline.processDocument: insert: %w", err)
	}

	if p.graph != nil {
		if err := p.graph.RecordChunks(ctx, docID, chunkIDs); err != nil {
			slog.Warn("pipeline: graph chunk recording failed (non-fatal)", "document_id", docID, "error", err)
		}
	}

	completed := time.Now()
	extra := &model.DocumentExtra{
		EmbeddingTimeSeconds:  embeddingTime.Seconds(),
		ProcessingTimeSeconds: time.Since(started).Seconds(),
		VectorsCount:          len(vectors),
		ChunksCount:           len(chunks),
		TokensPerSecond:       tokensPerSecond,
		StartedAt:             &started,
		CompletedAt:           &completed,
	}
	if err := p.docs.SetStatus(ctx, docID, model.DocDone, extra); err != nil {
		return fmt.Errorf("pipeline.processDocument: set done: %w", err)
	}

	slog.Info("pipeline completed", "document_id", docID, "chunk_count", len(chunks), "tokens_per_second", tokensPerSecond)
	return nil
}

func (p *Pipeline) loadText(ctx context.Context, task Task) (string, error) {
	if task.TaskType == TaskText {
		return task.Content, nil
	}
	if p.extractor == nil {
		return "", fmt.Errorf("no extractor configured for file task")
	}
	return p.extractor.Extract(ctx, task.FilePath)
}

func (p *Pipeline) embedInBatches(ctx context.Context, chunks []string) ([][]float32, error) {
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := p.embed.EmbedPassages(ctx, chunks[start:end], true)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// maxStoreAttempts bounds how many times a VectorStore call is retried
// before the task is failed outright; combined with vectorstore.RetryBackoff
// (capped at 30s) this covers the store being briefly unavailable at
// startup without retrying forever.
const maxStoreAttempts = 5

// withStoreRetry runs fn, retrying with vectorstore.RetryBackoff between
// attempts while fn returns an error, up to maxStoreAttempts total tries.
func withStoreRetry(ctx context.Context, docID, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxStoreAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxStoreAttempts-1 {
			break
		}
		backoff := vectorstore.RetryBackoff(attempt)
		slog.Warn("pipeline: store call failed, retrying with backoff", "document_id", docID, "op", op, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: %d attempts failed: %w", op, maxStoreAttempts, err)
}

// fail sets the document status to FAILED without further retries for this
// task (the upstream queue may redeliver; this handler is
// idempotent on redelivery via the chunk-count check in processDocument).
func (p *Pipeline) fail(ctx context.Context, docID string, origErr error) {
	slog.Error("pipeline failed", "document_id", docID, "error", origErr)
	extra := &model.DocumentExtra{Error: origErr.Error()}
	if err := p.docs.SetStatus(ctx, docID, model.DocFailed, extra); err != nil {
		slog.Error("pipeline: failed to record failure status", "document_id", docID, "error", err)
	}
}

func (p *Pipeline) processDelete(ctx context.Context, task Task) error {
	collection := task.CollectionName
	if collection == "" {
		collection = p.cfg.CollectionName
	}
	if err := p.store.DeleteByExpr(ctx, collection, map[string]string{"document_uuid": task.DocumentUUID}); err != nil {
		return fmt.Errorf("pipeline.processDelete: %w", err)
	}
	if err := p.docs.Delete(ctx, task.DocumentUUID); err != nil {
		slog.Warn("pipeline: delete document row failed (non-fatal)", "document_id", task.DocumentUUID, "error", err)
	}
	if p.graph != nil {
		if err := p.graph.RemoveDocument(ctx, task.DocumentUUID); err != nil {
			slog.Warn("pipeline: graph document removal failed (non-fatal)", "document_id", task.DocumentUUID, "error", err)
		}
	}
	if task.FilePath != "" {
		if err := os.Remove(task.FilePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("pipeline: physical file removal failed (non-fatal)", "document_id", task.DocumentUUID, "file_path", task.FilePath, "error", err)
		}
	}
	slog.Info("pipeline: document deleted", "document_id", task.DocumentUUID)
	return nil
}
