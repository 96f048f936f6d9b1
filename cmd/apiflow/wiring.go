package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/apiflow/ai"
	"github.com/itsneelabh/apiflow/catalog"
	"github.com/itsneelabh/apiflow/core"
	"github.com/itsneelabh/apiflow/orchestration"
	"github.com/itsneelabh/apiflow/resilience"
	"github.com/itsneelabh/apiflow/telemetry"
)

// components holds everything built from one configuration. Fields the
// running command does not need stay nil.
type components struct {
	config    *core.Config
	logger    *core.ProductionLogger
	telemetry core.Telemetry
	otel      *telemetry.OTelProvider
	redis     *redis.Client

	catalog      *catalog.Catalog
	executor     *orchestration.Executor
	interpreter  *orchestration.Interpreter
	planner      *ai.Planner
	history      orchestration.HistoryStore
	orchestrator *orchestration.Orchestrator
}

// buildOptions selects which layers newComponents builds.
type buildOptions struct {
	// withPlanner builds the LLM client, the planner and the orchestrator.
	withPlanner bool
	// withEmbedder enables semantic catalog search when an embedding key is set.
	withEmbedder bool
}

func newComponents(ctx context.Context, cfg *core.Config, logger *core.ProductionLogger, opts buildOptions) (*components, error) {
	c := &components{
		config:    cfg,
		logger:    logger,
		telemetry: &core.NoOpTelemetry{},
	}
	ok := false
	defer func() {
		if !ok {
			c.Close(context.Background())
		}
	}()

	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewOTelProvider(ctx, cfg.Telemetry, telemetry.WithProviderLogger(logger))
		if err != nil {
			return nil, err
		}
		c.otel = provider
		c.telemetry = provider
	}

	if cfg.Redis.URL != "" {
		client, err := core.NewRedisClient(core.RedisClientOptions{RedisURL: cfg.Redis.URL, Logger: logger})
		if err != nil {
			return nil, err
		}
		c.redis = client
	}

	cat, err := c.buildCatalog(opts.withEmbedder)
	if err != nil {
		return nil, err
	}
	c.catalog = cat

	if opts.withPlanner {
		planner, err := c.buildPlanner()
		if err != nil {
			return nil, err
		}
		c.planner = planner
	}

	executor, err := c.buildExecutor()
	if err != nil {
		return nil, err
	}
	c.executor = executor

	c.interpreter = orchestration.NewInterpreter(executor, orchestration.WithSkipPurposes(cfg.Execution.SkipPurposes...))
	c.interpreter.SetLogger(logger)
	c.interpreter.SetTelemetry(c.telemetry)

	c.history = c.buildHistory()

	if c.planner != nil {
		c.orchestrator = orchestration.NewOrchestrator(c.planner, c.catalog, c.interpreter,
			orchestration.WithMaxReplans(cfg.Execution.MaxReplans),
			orchestration.WithHistoryStore(c.history),
		)
		c.orchestrator.SetLogger(logger)
		c.orchestrator.SetTelemetry(c.telemetry)
	}

	ok = true
	return c, nil
}

func (c *components) buildCatalog(withEmbedder bool) (*catalog.Catalog, error) {
	var store catalog.Store
	switch c.config.Catalog.Store {
	case "sqlite":
		s, err := catalog.NewSQLiteStore(c.config.Catalog.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = catalog.NewMemoryStore()
	}

	var opts []catalog.Option
	opts = append(opts, catalog.WithHTTPClient(telemetry.NewTracedHTTPClient(nil, c.config.Upstream.Timeout)))
	if withEmbedder {
		embedOpts := []ai.AIOption{
			ai.WithEmbeddingModel(c.config.AI.EmbeddingModel),
			ai.WithLogger(c.logger),
		}
		if c.config.AI.Provider == string(ai.ProviderOpenAI) {
			embedOpts = append(embedOpts, ai.WithAPIKey(c.config.AI.APIKey), ai.WithBaseURL(c.config.AI.BaseURL))
		}
		embedder, err := ai.NewEmbedder(embedOpts...)
		if err != nil {
			c.logger.Warn("Semantic endpoint search disabled, falling back to lexical matching", map[string]interface{}{
				"operation": "catalog_setup",
				"error":     err.Error(),
			})
		} else {
			opts = append(opts, catalog.WithEmbedder(embedder))
		}
	}

	cat := catalog.New(store, opts...)
	cat.SetLogger(c.logger)
	return cat, nil
}

// aiOptions maps the ai section of the configuration onto client options.
func (c *components) aiOptions() []ai.AIOption {
	cfg := c.config.AI
	return []ai.AIOption{
		ai.WithAPIKey(cfg.APIKey),
		ai.WithBaseURL(cfg.BaseURL),
		ai.WithModel(cfg.Model),
		ai.WithTemperature(cfg.Temperature),
		ai.WithMaxTokens(cfg.MaxTokens),
		ai.WithMaxRetries(cfg.MaxRetries),
		ai.WithLogger(c.logger),
		ai.WithTelemetry(c.telemetry),
	}
}

// buildAIClient creates one provider client, or a failover chain when the
// provider setting lists several names ("openai,anthropic").
func (c *components) buildAIClient() (core.AIClient, error) {
	providers := strings.Split(c.config.AI.Provider, ",")
	for i := range providers {
		providers[i] = strings.TrimSpace(providers[i])
	}

	var client core.AIClient
	if len(providers) > 1 {
		// keys come from each provider's environment variable in a chain
		chain, err := ai.NewChainClient(
			ai.WithProviderChain(providers...),
			ai.WithChainClientOptions(
				ai.WithModel(c.config.AI.Model),
				ai.WithTemperature(c.config.AI.Temperature),
				ai.WithMaxTokens(c.config.AI.MaxTokens),
				ai.WithLogger(c.logger),
				ai.WithTelemetry(c.telemetry),
			),
			ai.WithChainLogger(c.logger),
		)
		if err != nil {
			return nil, err
		}
		client = chain
	} else {
		single, err := ai.NewClient(append(c.aiOptions(), ai.WithProvider(providers[0]))...)
		if err != nil {
			return nil, err
		}
		client = single
	}
	return ai.NewRateLimitedClient(client, c.config.AI.RequestsPerSecond, c.config.AI.Burst), nil
}

func (c *components) buildPlanner() (*ai.Planner, error) {
	client, err := c.buildAIClient()
	if err != nil {
		return nil, fmt.Errorf("ai client: %w", err)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = c.config.AI.MaxRetries + 1
	retry.ShouldRetry = nil

	opts := []ai.PlannerOption{
		ai.WithPlannerRetry(retry),
		ai.WithPlannerTelemetry(c.telemetry),
		ai.WithPlanningMaxTokens(c.config.AI.MaxTokens),
	}
	if len(c.config.Execution.SkipPurposes) > 0 {
		opts = append(opts, ai.WithSkipPurpose(c.config.Execution.SkipPurposes[0]))
	}

	planner, err := ai.NewPlanner(client, opts...)
	if err != nil {
		return nil, err
	}
	planner.SetLogger(c.logger)
	return planner, nil
}

func (c *components) buildExecutor() (*orchestration.Executor, error) {
	upstream := c.config.Upstream
	breaker, err := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name:             "upstream",
		FailureThreshold: upstream.CircuitBreakerThreshold,
		SleepWindow:      upstream.CircuitBreakerSleepWindow,
		Logger:           c.logger,
		Telemetry:        c.telemetry,
	})
	if err != nil {
		return nil, err
	}

	opts := []orchestration.ExecutorOption{
		orchestration.WithHTTPClient(telemetry.NewTracedHTTPClient(nil, 0)),
		orchestration.WithCallTimeout(upstream.Timeout),
		orchestration.WithCircuitBreaker(breaker),
		orchestration.WithEndpointSearcher(c.catalog),
	}
	if c.config.Cache.SharedEnabled && c.redis != nil {
		shared := orchestration.NewSharedCache(c.redis,
			orchestration.WithSharedCacheTTL(c.config.Cache.TTL),
			orchestration.WithSharedCachePrefix(c.config.Cache.Prefix),
		)
		shared.SetLogger(c.logger)
		opts = append(opts, orchestration.WithSharedCache(shared))
	}
	if c.config.AI.URLRewrite && c.planner != nil {
		opts = append(opts, orchestration.WithEndpointRewriter(c.planner, orchestration.DefaultRewriteTimeout))
	}

	executor := orchestration.NewExecutor(upstream.BaseURL, opts...)
	executor.SetLogger(c.logger)
	executor.SetTelemetry(c.telemetry)
	return executor, nil
}

func (c *components) buildHistory() orchestration.HistoryStore {
	if !c.config.History.Enabled {
		return orchestration.NewNoOpHistoryStore()
	}
	if c.redis != nil {
		return orchestration.NewRedisHistoryStore(c.redis,
			orchestration.WithHistoryTTL(c.config.History.TTL),
			orchestration.WithHistoryLogger(c.logger),
		)
	}
	return orchestration.NewMemoryHistoryStore(c.config.History.TTL)
}

// Close releases the catalog store, Redis and the trace exporter.
func (c *components) Close(ctx context.Context) {
	if c.catalog != nil {
		if err := c.catalog.Close(); err != nil {
			c.logger.Warn("Failed to close endpoint catalog", map[string]interface{}{
				"operation": "shutdown",
				"error":     err.Error(),
			})
		}
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.otel != nil {
		if err := c.otel.Shutdown(ctx); err != nil {
			c.logger.Warn("Failed to flush traces", map[string]interface{}{
				"operation": "shutdown",
				"error":     err.Error(),
			})
		}
	}
}
