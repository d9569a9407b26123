package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragcore/qacore/internal/agent"
	"github.com/ragcore/qacore/internal/bus"
	"github.com/ragcore/qacore/internal/config"
	"github.com/ragcore/qacore/internal/docstore"
	"github.com/ragcore/qacore/internal/embedder"
	"github.com/ragcore/qacore/internal/gcpclient"
	"github.com/ragcore/qacore/internal/graph"
	"github.com/ragcore/qacore/internal/history"
	"github.com/ragcore/qacore/internal/httpapi"
	"github.com/ragcore/qacore/internal/judge"
	"github.com/ragcore/qacore/internal/kv"
	"github.com/ragcore/qacore/internal/middleware"
	"github.com/ragcore/qacore/internal/orchestrator"
	"github.com/ragcore/qacore/internal/pgpool"
	"github.com/ragcore/qacore/internal/pipeline"
	"github.com/ragcore/qacore/internal/qacache"
	"github.com/ragcore/qacore/internal/reranker"
	"github.com/ragcore/qacore/internal/retriever"
	"github.com/ragcore/qacore/internal/service"
	"github.com/ragcore/qacore/internal/tools"
	"github.com/ragcore/qacore/internal/trace"
	"github.com/ragcore/qacore/internal/vectorstore"
)

const Version = "0.1.0"

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("main: load config: %w", err)
	}

	pool, err := pgpool.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("main: connect database: %w", err)
	}
	defer pool.Close()

	kvStore := kv.New(fmt.Sprintf("%s:%d", cfg.KVHost, cfg.KVPort), cfg.KVDB, cfg.KVPassword)
	defer kvStore.Close()

	sessions := docstore.NewSessionRepo(pool)
	messages := docstore.NewMessageRepo(pool)
	chains := docstore.NewThoughtChainRepo(pool)
	users := docstore.NewUserRepo(pool)
	documents := docstore.NewDocumentRepo(pool)

	vectors := vectorstore.New(pool)
	if err := vectors.CreateCollection(ctx, cfg.VectorCollectionDocs, cfg.VectorDim, vectorstore.CosineMetric); err != nil {
		return fmt.Errorf("main: create document collection: %w", err)
	}
	if err := vectors.CreateCollection(ctx, cfg.VectorCollectionQA, cfg.VectorDim, vectorstore.CosineMetric); err != nil {
		return fmt.Errorf("main: create qa collection: %w", err)
	}

	embedAdapter, err := gcpclient.NewEmbeddingAdapter(ctx, cfg.GCPProject, cfg.GCPRegion, cfg.EmbedderModelID)
	if err != nil {
		return fmt.Errorf("main: init embedding adapter: %w", err)
	}
	embed := embedder.New(embedAdapter, cfg.VectorDim)

	rankAdapter, err := gcpclient.NewRankingAdapter(ctx, cfg.GCPProject, cfg.RerankerModelID)
	if err != nil {
		return fmt.Errorf("main: init ranking adapter: %w", err)
	}
	rerank := reranker.New(rankAdapter)

	genAI, err := gcpclient.NewGenAIAdapter(ctx, cfg.GCPProject, cfg.GCPRegion, cfg.LLMModelID)
	if err != nil {
		return fmt.Errorf("main: init genai adapter: %w", err)
	}
	defer genAI.Close()

	retrv := retriever.New(embed, vectors, rerank, cfg.VectorCollectionDocs)

	qaCache := qacache.New(qacache.Config{
		Enabled:    cfg.EnableQACache,
		Threshold:  cfg.QASimilarityThreshold,
		TTL:        time.Duration(cfg.QACacheTTLSeconds) * time.Second,
		Collection: cfg.VectorCollectionQA,
	}, embed, vectors, chains)

	tracer := trace.New(trace.Config{
		CacheEnabled: cfg.EnableQACache,
		Collection:   cfg.VectorCollectionQA,
	}, embed, vectors, chains, messages)

	qaJudge := judge.New(genAI, judge.DefaultTimeout)

	hist := history.New(messages, sessions, genAI, cfg.SummaryMessageThreshold)

	// graphStore is the supplemental document-relationship graph. It is
	// additive: leaving NEO4J_URI unset simply disables it.
	var graphStore *graph.Store
	if cfg.Neo4jURI != "" {
		graphStore, err = graph.New(ctx, graph.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return fmt.Errorf("main: init graph store: %w", err)
		}
		defer graphStore.Close(context.Background())
	}

	registry := agent.NewRegistry()
	registry.Register(tools.NewSearchDocumentsTool(retrv))
	registry.Register(tools.NewDeleteDocumentTool(documents))
	registry.Register(tools.NewResetDocumentTool(documents))

	// AGENT_TYPE selects the loop shape once at startup; both variants
	// satisfy the orchestrator's Agent contract.
	var ag orchestrator.Agent
	switch cfg.AgentType {
	case "graph":
		ga := agent.NewGraph(genAI, registry)
		ga.SetBounds(cfg.AgentMaxIterations, cfg.AgentMaxRetries)
		ag = ga
	default:
		ra := agent.New(genAI, registry)
		ra.SetBounds(cfg.AgentMaxIterations, cfg.AgentMaxRetries)
		ag = ra
	}

	if graphStore != nil {
		tracer.SetGrapher(graphStore)
	}

	orch := orchestrator.New(orchestrator.Config{QAJudgeTimeout: judge.DefaultTimeout}, sessions, messages, hist, qaCache, qaJudge, tracer, ag)
	orch.SetKV(kvStore)

	docExtractor, err := gcpclient.NewDocumentExtractor(ctx, cfg.DocAIProcessorName)
	if err != nil {
		return fmt.Errorf("main: init document extractor: %w", err)
	}
	defer docExtractor.Close()

	ingestBus, err := newBus(ctx, cfg)
	if err != nil {
		return fmt.Errorf("main: init bus: %w", err)
	}
	defer ingestBus.Stop(context.Background())

	docPipeline := pipeline.New(
		pipeline.DefaultConfig(cfg.VectorCollectionDocs, cfg.VectorDim),
		vectors, documents, embed, docExtractor,
	)
	if graphStore != nil {
		docPipeline.SetGrapher(graphStore)
	}
	if err := ingestBus.Consume(ctx, pipelineHandler(docPipeline)); err != nil {
		return fmt.Errorf("main: start ingestion consumer: %w", err)
	}

	var authMiddleware func(http.Handler) http.Handler
	if cfg.Environment != "development" {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.GCPProject})
		if err != nil {
			return fmt.Errorf("main: init firebase app: %w", err)
		}
		fbAuth, err := fbApp.Auth(ctx)
		if err != nil {
			return fmt.Errorf("main: init firebase auth client: %w", err)
		}
		authSvc := service.NewAuthService(fbAuth)
		authMiddleware = middleware.InternalOrFirebaseAuth(authSvc, cfg.InternalAuthSecret)
	}

	promReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(promReg)
	orch.SetMetrics(metrics)

	var related httpapi.RelatedDocs
	if graphStore != nil {
		related = graphStore
	}
	router := httpapi.New(orch, documents, ingestBus, qaCache, users, metrics, authMiddleware, cfg.FrontendURL, related)
	router.Handle("/metrics", middleware.MetricsHandler(promReg))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: httpapi.ChatStreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragcore server starting", "version", Version, "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// newBus selects MessageBus's backend based on cfg.MessageMode.
func newBus(ctx context.Context, cfg *config.Config) (bus.Bus, error) {
	switch cfg.MessageMode {
	case "log":
		return bus.NewLogBus(ctx, cfg.GCPProject, cfg.BusTopicDocEmbedding, cfg.BusConsumerGroupID, cfg.BusTimeout)
	default:
		return bus.NewChannelBus(cfg.BusMaxSize, cfg.BusNumConsumers), nil
	}
}

// pipelineHandler adapts DocPipeline's HandleTask to a bus.Handler,
// discarding malformed payloads (logged, never retried).
func pipelineHandler(p *pipeline.Pipeline) bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		var task pipeline.Task
		if err := json.Unmarshal(msg.Payload, &task); err != nil || !task.Valid() {
			slog.Warn("main: discarding malformed ingestion task", "error", err)
			return nil
		}
		return p.HandleTask(ctx, task)
	}
}

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		log.Fatal(err)
	}
}
