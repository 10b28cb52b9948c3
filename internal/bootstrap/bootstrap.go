package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finbotics/business-assistant/internal/config"
	"github.com/finbotics/business-assistant/internal/core/ports"
	"github.com/finbotics/business-assistant/internal/core/usecase"
	"github.com/finbotics/business-assistant/internal/infrastructure/cache"
	"github.com/finbotics/business-assistant/internal/infrastructure/capability"
	"github.com/finbotics/business-assistant/internal/infrastructure/llm/ollama"
	natsq "github.com/finbotics/business-assistant/internal/infrastructure/queue/nats"
	"github.com/finbotics/business-assistant/internal/infrastructure/repository/postgres"
	"github.com/finbotics/business-assistant/internal/infrastructure/resilience"
	"github.com/finbotics/business-assistant/internal/infrastructure/vector/chromem"
	"github.com/finbotics/business-assistant/internal/observability/logging"
	"github.com/finbotics/business-assistant/internal/observability/metrics"
)

const serviceName = "assistant"

type App struct {
	Config config.Config
	Logger *slog.Logger

	Assistant ports.Conversationalist
	Plans     ports.PlanReader
	Threads   ports.ThreadStore
	Sessions  ports.SessionStateStore
	Metrics   *metrics.AssistantMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	assistantMetrics := metrics.NewAssistantMetrics(serviceName)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	threads := postgres.NewThreadRepository(db)
	entries := postgres.NewMemoryRepository(db)
	mentions := postgres.NewEntityRepository(db)
	patterns := postgres.NewPatternRepository(db)
	session := postgres.NewSessionRepository(db)
	plans := postgres.NewPlanRepository(db)
	traceRepo := postgres.NewTraceRepository(db)

	runner := resilience.NewRunner(resilience.DefaultPolicy(), logger)
	llmClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, cfg.LLMRatePerSecond, runner)
	generator := ollama.NewGenerator(llmClient)
	embedder := ollama.NewEmbedder(llmClient)

	index, err := chromem.NewIndex(cfg.IndexCollection, embedder)
	if err != nil {
		return nil, fmt.Errorf("init semantic index: %w", err)
	}

	traces, err := natsq.NewTracePublisher(cfg.NATSURL, cfg.NATSTraceSubject, traceRepo, natsq.Options{
		Runner: runner,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init trace publisher: %w", err)
	}

	extractor := usecase.NewEntityExtractor(cfg.KnownVendors)

	memory := usecase.NewMemoryService(threads, entries, mentions, patterns, session, index, extractor,
		usecase.MemoryServiceConfig{
			EmbedMinChars:          cfg.EmbedMinChars,
			RetentionAge:           cfg.RetentionAge,
			RetentionMaxImportance: cfg.RetentionMaxImportance,
		}, logger)

	assembler := usecase.NewContextAssembler(entries, patterns, session, mentions, index,
		usecase.AssemblerConfig{
			RecentEntries:      cfg.ContextRecentEntries,
			PatternLimit:       cfg.ContextPatternLimit,
			PatternMinEvidence: cfg.ContextPatternEvidence,
			SemanticTopK:       cfg.ContextSemanticTopK,
			SimilarityFloor:    cfg.ContextSimilarityFloor,
			EmbedMinChars:      cfg.EmbedMinChars,
		}, logger)

	builder := usecase.NewPlanBuilder(extractor, usecase.PlannerConfig{
		ConfidenceThreshold: cfg.PlanConfidenceThreshold,
		StepTimeout:         cfg.StepTimeout,
		StepMaxRetries:      cfg.StepMaxRetries,
	})

	tools := capability.NewHTTPExecutor(cfg.ToolGatewayURL, cfg.ToolGatewayToken, cfg.ToolGatewayTimeout)
	engine := usecase.NewEngine(plans, tools, traces, assistantMetrics, usecase.EngineConfig{
		ServiceName:  serviceName,
		RetryBackoff: cfg.StepRetryBackoff,
	}, logger)

	assistant := usecase.NewAssistant(memory, assembler, builder, engine, threads, plans, traces, generator,
		cache.NewResponseCache(cfg.ResponseCacheTTL), assistantMetrics,
		usecase.AssistantConfig{
			ServiceName:         serviceName,
			FollowupReuseWindow: cfg.FollowupReuseWindow,
		}, logger)

	// The index lives in process memory; the database is the source of truth.
	indexed, err := memory.RebuildIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild semantic index: %w", err)
	}
	logger.Info("semantic_index_ready", "entries", indexed)

	go runRetentionSweeper(ctx, memory, cfg.RetentionSweepInterval, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Assistant: assistant,
		Plans:     assistant,
		Threads:   threads,
		Sessions:  session,
		Metrics:   assistantMetrics,

		closeFn: func() {
			traces.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func runRetentionSweeper(ctx context.Context, memory *usecase.MemoryService, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := memory.PruneMemory(ctx)
			if err != nil {
				logger.Warn("memory_prune_failed", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("memory_pruned", "entries", pruned)
			}
		}
	}
}
