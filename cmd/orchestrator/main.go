// Command orchestrator runs the multi-tenant graph-augmented retrieval
// service: the /query and /ingest HTTP surface, backed by Neo4j, Qdrant,
// and Redis, fronted by the guardrail chain and LLM fallback.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/groundwire/orchestrator/applications/httpapi"
	"github.com/groundwire/orchestrator/infrastructure/config"
	"github.com/groundwire/orchestrator/infrastructure/embedding"
	"github.com/groundwire/orchestrator/infrastructure/graphdb"
	"github.com/groundwire/orchestrator/infrastructure/httputil"
	"github.com/groundwire/orchestrator/infrastructure/logging"
	"github.com/groundwire/orchestrator/infrastructure/metrics"
	"github.com/groundwire/orchestrator/infrastructure/middleware"
	"github.com/groundwire/orchestrator/infrastructure/state"
	"github.com/groundwire/orchestrator/infrastructure/vectorstore"
	"github.com/groundwire/orchestrator/services/breaker"
	"github.com/groundwire/orchestrator/services/cache"
	"github.com/groundwire/orchestrator/services/cypher"
	"github.com/groundwire/orchestrator/services/guardrails"
	"github.com/groundwire/orchestrator/services/ingest"
	"github.com/groundwire/orchestrator/services/llm"
	"github.com/groundwire/orchestrator/services/lock"
	"github.com/groundwire/orchestrator/services/outbox"
	"github.com/groundwire/orchestrator/services/resolver"
	"github.com/groundwire/orchestrator/services/retrieval"
	"github.com/groundwire/orchestrator/services/tenancy"
)

const serviceName = "orchestrator"

func main() {
	logger := logging.NewFromEnv(serviceName)
	m := metrics.New(serviceName)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("orchestrator: load config: %v", err)
	}

	svc, cleanup, err := build(ctx, cfg, logger, m)
	if err != nil {
		log.Fatalf("orchestrator: build failed: %v", err)
	}
	defer cleanup()

	if cfg.Ingest.KafkaBrokers != "" {
		consumer := ingest.NewKafkaConsumer(cfg.Ingest.KafkaBrokers, cfg.Ingest.KafkaTopic, cfg.Ingest.KafkaGroupID, svc.Ingest, logger)
		go consumer.Run(ctx)
		defer consumer.Close()
	} else {
		logger.Info(ctx, "KAFKA_BROKERS not set, ingestion is HTTP-only", nil)
	}

	router := httpapi.NewOrchestratorRouter(serviceName, svc)

	limiter := middleware.NewRateLimiterWithWindow(cfg.Server.RateLimitPerMin, time.Minute, cfg.Server.RateLimitBurst, logger)
	stopCleanup := limiter.StartCleanup(5 * time.Minute)
	defer stopCleanup()
	router.Use(limiter.Handler)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info(ctx, "listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("orchestrator: listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	drained := svc.Drainer.DrainAll(cfg.Server.ShutdownTimeout - 5*time.Second)
	logger.Info(ctx, "drained background ingest tasks", map[string]interface{}{"count": drained})

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "shutdown error", err, nil)
	}
}

// build wires every dependency the HTTP surface needs. It fails fast on the
// backends that can't degrade (graph, vector store). Redis is not contacted
// here: the client connects on first use, so a misconfigured Redis surfaces
// through the "redis" health check and L2 cache misses rather than as a
// startup error.
func build(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*httpapi.Service, func(), error) {
	graphDriver, err := graphdb.NewDriver(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
	if err != nil {
		return nil, nil, err
	}

	vectorStore, err := vectorstore.NewStore(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.APIKey)
	if err != nil {
		return nil, nil, err
	}

	embedClient, err := embedding.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model)
	if err != nil {
		return nil, nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	breakerState, err := state.NewPersistentState(state.DefaultConfig())
	if err != nil {
		return nil, nil, err
	}

	breakerCfg := breaker.DefaultConfig()
	breakerRegistry := breaker.NewRegistry(breakerCfg, breakerState)
	ingestGate := breaker.NewGlobalProviderBreaker(breakerRegistry, breakerCfg)
	llmGate := breaker.NewGlobalProviderBreaker(breakerRegistry, breakerCfg)

	subgraphCache := cache.NewRedisSubgraphCache(redisClient,
		cfg.Cache.SubgraphL1Size, cfg.Cache.SubgraphMaxValueBytes, cfg.Cache.SubgraphTTL, logger)
	semanticCache := cache.NewSemanticQueryCache(cfg.Cache.SemanticSize, 0.95)

	ontology := guardrails.Ontology{
		NodeTypes: toSet(config.SplitAndTrimCSV(cfg.Ontology.NodeTypes)),
		EdgeTypes: toSet(config.SplitAndTrimCSV(cfg.Ontology.EdgeTypes)),
	}
	dlq := guardrails.NewASTDeadLetterQueue(cfg.Ontology.DLQSize, redisClient, logger)
	guardrailChain := guardrails.NewGuardrailChain(ontology, dlq, guardrails.WithHardBlock(cfg.Ontology.HardBlock))

	catalog := cypher.NewCatalog()

	retrievalEngine := retrieval.New(
		graphDriver,
		vectorStore,
		embedClient,
		catalog,
		redisAdapter{subgraphCache},
		semanticCache,
		retrieval.Config{},
	)

	resolverSvc := resolver.New(cfg.Cache.ResolverMaxKnown)
	coalescingOutbox := outbox.NewCoalescingOutbox()
	cacheInvalidator := cacheInvalidatorAdapter{subgraph: subgraphCache}
	ingestOrchestrator := ingest.New(resolverSvc, graphDriver, coalescingOutbox, cacheInvalidator, cfg.Ingest.BatchSize)

	principalResolver := tenancy.NewPrincipalResolver(cfg.Auth.JWTSigningSecret, cfg.Auth.RequireTokens, cfg.Auth.DevMode, cfg.Auth.DefaultTenantID)
	tenantRegistry := tenancy.NewTenantRegistry(cfg.Meta.DefaultTenantDB)
	connTracker := tenancy.NewTenantConnectionTracker(cfg.Graph.PoolSize, 0.2)

	tenantsFile, err := config.LoadTenantsFile(cfg.Meta.TenantsFile)
	if err != nil {
		return nil, nil, err
	}
	config.ApplyTenants(tenantRegistry, tenantsFile, cfg.Meta.DefaultTenantDB)

	var providers []llm.Provider
	for i, p := range cfg.LLM.Providers() {
		name := "primary"
		if i > 0 {
			name = "fallback"
		}
		provider, err := llm.NewHTTPProvider(name, p.BaseURL, p.APIKey, p.Model, httputil.ClientConfig{})
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, llm.NewProviderWithCircuitBreaker(provider, breakerRegistry))
	}
	fallbackChain := llm.NewFallbackChain(providers, llmGate)

	jobStore := ingest.NewJobStore()
	admission := lock.NewLocalFallbackSemaphore(cfg.Ingest.AdmissionLimit, time.Minute)
	drainer := lock.NewBoundedTaskSet(cfg.Ingest.BackgroundLimit)

	health := middleware.NewHealthChecker(cfg.Meta.ServiceVersion)
	health.RegisterCheck("redis", func() error { return redisClient.Ping(ctx).Err() })

	svc := &httpapi.Service{
		Logger:     logger,
		Metrics:    m,
		Health:     health,
		Principals: principalResolver,
		Tenants:    tenantRegistry,
		Conns:      connTracker,
		Retrieval:  retrievalEngine,
		Guardrails: guardrailChain,
		Providers:  fallbackChain,
		Ingest:     ingestOrchestrator,
		Jobs:       jobStore,
		IngestGate: ingestGate,
		Admission:  admission,
		Drainer:    drainer,
		Eval: httpapi.EvalConfig{
			Enabled:               cfg.Eval.Enabled,
			UseLLMJudge:           cfg.Eval.UseLLMJudge,
			LowRelevanceThreshold: cfg.Eval.LowRelevanceThreshold,
		},
		QuerySyncTimeout:  cfg.Query.SyncTimeout,
		IngestSyncTimeout: cfg.Ingest.SyncTimeout,
	}

	cleanup := func() {
		_ = graphDriver.Close(ctx)
		_ = redisClient.Close()
	}
	return svc, cleanup, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// redisAdapter adapts *cache.RedisSubgraphCache's ctx-taking methods to
// retrieval.SubgraphCacheStore's ctx-free contract, backgrounding Redis
// round trips with a bounded timeout rather than blocking the query path
// indefinitely on a degraded cache tier.
type redisAdapter struct {
	c *cache.RedisSubgraphCache
}

func (a redisAdapter) Get(key string) ([]cache.Row, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	return a.c.Get(ctx, key)
}

func (a redisAdapter) Put(key string, rows []cache.Row, nodeIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	a.c.Put(ctx, key, rows, nodeIDs)
}

// cacheInvalidatorAdapter satisfies ingest.CacheInvalidator over the
// subgraph cache so a commit invalidates cached rows for every touched node.
type cacheInvalidatorAdapter struct {
	subgraph *cache.RedisSubgraphCache
}

func (a cacheInvalidatorAdapter) InvalidateByNodes(ids []string) {
	a.subgraph.InvalidateByNodes(ids)
}
