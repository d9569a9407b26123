package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns and is handed to every
// component constructor explicitly, no package-level globals.
type Config struct {
	Port        int
	Environment string

	// Vector
	VectorHost           string
	VectorPort           int
	VectorCollectionDocs string
	VectorCollectionQA   string
	VectorDim            int
	Metric               string

	// DocStore
	DatabaseURL      string
	DatabaseName     string
	DatabaseMaxConns int

	// KV
	KVHost     string
	KVPort     int
	KVDB       int
	KVPassword string

	// Bus
	MessageMode          string // "channel" | "log"
	BusMaxSize           int
	BusNumConsumers      int
	BusTimeout           time.Duration
	BusBootstrapServers  string
	BusTopicDocEmbedding string
	BusConsumerGroupID   string

	// Models
	EmbedderModelID    string
	RerankerModelID    string
	LLMModelID         string
	GCPProject         string
	GCPRegion          string
	DocAIProcessorName string // projects/{p}/locations/{l}/processors/{id}, used by the ingestion extractor

	// Agent
	AgentType          string // "react" | "graph"
	AgentMaxIterations int
	AgentMaxRetries    int

	// Cache
	EnableQACache         bool
	QASimilarityThreshold float64
	QACacheTTLSeconds     int

	// History
	SummaryMessageThreshold int
	MaxTokenForSummary      int

	InternalAuthSecret string
	FrontendURL        string

	// Graph (supplemental document-relationship graph, Neo4j-backed)
	Neo4jURI      string // empty disables the supplemental feature
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string
}

// Load reads configuration from environment variables. DATABASE_URL and
// GOOGLE_CLOUD_PROJECT are required; everything else has a documented
// default. INTERNAL_AUTH_SECRET is additionally required outside the
// "development" environment.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		VectorHost:           envStr("VECTOR_HOST", "localhost"),
		VectorPort:           envInt("VECTOR_PORT", 5432),
		VectorCollectionDocs: envStr("VECTOR_COLLECTION_DOCS", "doc_chunks"),
		VectorCollectionQA:   envStr("VECTOR_COLLECTION_QA", "qa_cache_entries"),
		VectorDim:            envInt("VECTOR_DIM", 1024),
		Metric:               envStr("METRIC", "COSINE"),

		DatabaseURL:      dbURL,
		DatabaseName:     envStr("DATABASE_NAME", "ragcore"),
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		KVHost:     envStr("KV_HOST", "localhost"),
		KVPort:     envInt("KV_PORT", 6379),
		KVDB:       envInt("KV_DB", 0),
		KVPassword: envStr("KV_PASSWORD", ""),

		MessageMode:          envStr("MESSAGE_MODE", "channel"),
		BusMaxSize:           envInt("BUS_MAX_SIZE", 1000),
		BusNumConsumers:      envInt("BUS_NUM_CONSUMERS", 4),
		BusTimeout:           envDuration("BUS_TIMEOUT", 10*time.Second),
		BusBootstrapServers:  envStr("BUS_BOOTSTRAP_SERVERS", ""),
		BusTopicDocEmbedding: envStr("BUS_TOPIC_DOCUMENT_EMBEDDING", "document-embedding"),
		BusConsumerGroupID:   envStr("BUS_CONSUMER_GROUP_ID", "doc-pipeline"),

		EmbedderModelID:    envStr("EMBEDDER_MODEL_ID", "text-embedding-005"),
		RerankerModelID:    envStr("RERANKER_MODEL_ID", "semantic-ranker-default-004"),
		LLMModelID:         envStr("LLM_MODEL_ID", "gemini-3-pro-preview"),
		GCPProject:         gcpProject,
		GCPRegion:          envStr("GCP_REGION", "us-east4"),
		DocAIProcessorName: envStr("DOCAI_PROCESSOR_NAME", ""),

		AgentType:          envStr("AGENT_TYPE", "react"),
		AgentMaxIterations: envInt("AGENT_MAX_ITERATIONS", 5),
		AgentMaxRetries:    envInt("AGENT_MAX_RETRIES", 2),

		EnableQACache:         envBool("ENABLE_QA_CACHE", true),
		QASimilarityThreshold: envFloat("QA_SIMILARITY_THRESHOLD", 0.85),
		QACacheTTLSeconds:     envInt("QA_CACHE_TTL_SECONDS", 7*24*3600),

		SummaryMessageThreshold: envInt("SUMMARY_MESSAGE_THRESHOLD", 20),
		MaxTokenForSummary:      envInt("MAX_TOKEN", 4000),

		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),
		FrontendURL:        envStr("FRONTEND_URL", "http://localhost:3000"),

		Neo4jURI:      envStr("NEO4J_URI", ""),
		Neo4jUsername: envStr("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: envStr("NEO4J_PASSWORD", ""),
		Neo4jDatabase: envStr("NEO4J_DATABASE", ""),
	}

	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}
	if cfg.MessageMode != "channel" && cfg.MessageMode != "log" {
		return nil, fmt.Errorf("config.Load: MESSAGE_MODE must be 'channel' or 'log', got %q", cfg.MessageMode)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
