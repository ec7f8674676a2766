package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string        `env:"PORT,default=8080"`
	RateLimitPerMin int           `env:"RATE_LIMIT_REQUESTS,default=600"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=50"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s"`
}

// GraphConfig points at the Neo4j backend.
type GraphConfig struct {
	URI      string `env:"NEO4J_URI,default=bolt://localhost:7687"`
	Username string `env:"NEO4J_USER,default=neo4j"`
	Password string `env:"NEO4J_PASSWORD"`
	PoolSize int    `env:"NEO4J_POOL_SIZE,default=100"`
}

// VectorConfig points at the Qdrant backend.
type VectorConfig struct {
	Host   string `env:"QDRANT_HOST,default=localhost"`
	Port   int    `env:"QDRANT_PORT,default=6334"`
	APIKey string `env:"QDRANT_API_KEY"`
}

// RedisConfig points at the cache/lock/breaker-state Redis instance.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// EmbeddingConfig points at the embeddings endpoint used for vector search.
type EmbeddingConfig struct {
	BaseURL string `env:"EMBEDDING_BASE_URL,default=https://api.openai.com/v1"`
	APIKey  string `env:"EMBEDDING_API_KEY"`
	Model   string `env:"EMBEDDING_MODEL,default=text-embedding-3-small"`
}

// LLMProviderConfig is one entry in the fallback chain.
type LLMProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// LLMConfig configures the primary and fallback chat-completion providers.
type LLMConfig struct {
	PrimaryBaseURL   string `env:"LLM_PRIMARY_BASE_URL"`
	PrimaryAPIKey    string `env:"LLM_PRIMARY_API_KEY"`
	PrimaryModel     string `env:"LLM_PRIMARY_MODEL,default=gpt-4o-mini"`
	FallbackBaseURL  string `env:"LLM_FALLBACK_BASE_URL"`
	FallbackAPIKey   string `env:"LLM_FALLBACK_API_KEY"`
	FallbackModel    string `env:"LLM_FALLBACK_MODEL,default=gpt-3.5-turbo"`
}

// Providers returns the configured provider specs in fallback order,
// skipping any with no base URL set.
func (c LLMConfig) Providers() []LLMProviderConfig {
	var out []LLMProviderConfig
	if c.PrimaryBaseURL != "" {
		out = append(out, LLMProviderConfig{BaseURL: c.PrimaryBaseURL, APIKey: c.PrimaryAPIKey, Model: c.PrimaryModel})
	}
	if c.FallbackBaseURL != "" {
		out = append(out, LLMProviderConfig{BaseURL: c.FallbackBaseURL, APIKey: c.FallbackAPIKey, Model: c.FallbackModel})
	}
	return out
}

// AuthConfig configures bearer-token principal resolution.
type AuthConfig struct {
	JWTSigningSecret string `env:"JWT_SIGNING_SECRET"`
	RequireTokens    bool   `env:"REQUIRE_AUTH_TOKENS,default=true"`
	DevMode          bool   `env:"DEV_MODE,default=false"`
	DefaultTenantID  string `env:"DEFAULT_TENANT_ID"`
}

// EvalConfig controls whether and how answers are scored after generation.
type EvalConfig struct {
	Enabled               bool    `env:"RAG_ENABLE_EVALUATION,default=true"`
	UseLLMJudge           bool    `env:"RAG_USE_LLM_JUDGE,default=true"`
	LowRelevanceThreshold float64 `env:"RAG_LOW_RELEVANCE_THRESHOLD,default=0.3"`
}

// IngestConfig bounds the HTTP ingest path's batch size and admission
// control; the Kafka path (the primary ingestion route) applies the same
// Orchestrator with its own consumer-group concurrency instead.
type IngestConfig struct {
	BatchSize        int           `env:"INGEST_BATCH_SIZE,default=500"`
	AdmissionLimit   int           `env:"INGEST_ADMISSION_LIMIT,default=20"`
	BackgroundLimit  int           `env:"INGEST_BACKGROUND_LIMIT,default=50"`
	SyncTimeout      time.Duration `env:"INGEST_SYNC_TIMEOUT,default=30s"`
	KafkaBrokers     string        `env:"KAFKA_BROKERS"`
	KafkaTopic       string        `env:"KAFKA_INGEST_TOPIC,default=groundwire.ingest.documents"`
	KafkaGroupID     string        `env:"KAFKA_CONSUMER_GROUP,default=orchestrator-ingest"`
}

// QueryConfig bounds the /query path.
type QueryConfig struct {
	SyncTimeout time.Duration `env:"QUERY_SYNC_TIMEOUT,default=15s"`
}

// OntologyConfig seeds the guardrail schema validator's known labels.
type OntologyConfig struct {
	NodeTypes string `env:"ONTOLOGY_NODE_TYPES,default=Service,Repository,KafkaTopic,K8sResource"`
	EdgeTypes string `env:"ONTOLOGY_EDGE_TYPES,default=DEPENDS_ON,OWNS,PRODUCES,CONSUMES,DEPLOYS"`
	HardBlock bool   `env:"GUARDRAIL_HARD_BLOCK,default=false"`
	DLQSize   int    `env:"GUARDRAIL_DLQ_SIZE,default=200"`
}

// CacheConfig sizes the subgraph and semantic query caches.
type CacheConfig struct {
	SubgraphL1Size        int           `env:"SUBGRAPH_CACHE_L1_SIZE,default=1000"`
	SubgraphMaxValueBytes int           `env:"SUBGRAPH_CACHE_MAX_VALUE_BYTES,default=65536"`
	SubgraphTTL           time.Duration `env:"SUBGRAPH_CACHE_TTL,default=5m"`
	SemanticSize          int           `env:"SEMANTIC_CACHE_SIZE,default=500"`
	ResolverMaxKnown      int           `env:"RESOLVER_MAX_KNOWN,default=200000"`
}

// MetaConfig holds identity fields used for health reporting.
type MetaConfig struct {
	ServiceVersion  string `env:"SERVICE_VERSION,default=dev"`
	DefaultTenantDB string `env:"DEFAULT_TENANT_DATABASE,default=neo4j"`
	TenantsFile     string `env:"TENANTS_FILE,default=config/tenants.yaml"`
}

// Config is the orchestrator's full environment-derived configuration,
// decoded with envdecode the same way every other service in this stack
// loads its settings. The only exception is the tenant bootstrap list
// (see tenants.go), which is small, hand-edited, and structured enough to
// warrant its own YAML file instead of a flat env var.
type Config struct {
	Server    ServerConfig
	Graph     GraphConfig
	Vector    VectorConfig
	Redis     RedisConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	Auth      AuthConfig
	Eval      EvalConfig
	Ingest    IngestConfig
	Query     QueryConfig
	Ontology  OntologyConfig
	Cache     CacheConfig
	Meta      MetaConfig
}

// Load reads .env (if present) then decodes the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "no target field") && !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("config: decode env: %w", err)
		}
	}
	return cfg, nil
}
