package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	conductor "github.com/nevindra/conductor"
	"github.com/nevindra/conductor/internal/config"
	"github.com/nevindra/conductor/model"
	"github.com/nevindra/conductor/observer"
	"github.com/nevindra/conductor/provider/nim"
	"github.com/nevindra/conductor/provider/openaicompat"
	"github.com/nevindra/conductor/provider/sonar"
	"github.com/nevindra/conductor/rag"
	"github.com/nevindra/conductor/render"
	"github.com/nevindra/conductor/store/postgres"
	"github.com/nevindra/conductor/store/sqlite"
	"github.com/nevindra/conductor/tools/coder"
	"github.com/nevindra/conductor/tools/multimodal"
	"github.com/nevindra/conductor/tools/search"
)

// app holds the wired service graph for one server process.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	service      *conductor.Service
	orchestrator *conductor.Orchestrator
	coordinator  *conductor.Coordinator
	monitor      *conductor.Monitor
	embedder     conductor.Embedder
	reranker     conductor.Reranker

	store       conductor.ResultStore
	pool        *pgxpool.Pool
	obsShutdown func(context.Context) error
}

// buildApp constructs every component from configuration. Optional pieces
// (search, RAG, embeddings, observer) wire in only when configured.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var inst *observer.Instruments
	var tracer conductor.Tracer
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for k, v := range cfg.Observer.Pricing {
			pricing[k] = observer.ModelPricing{InputPerMillion: v.Input, OutputPerMillion: v.Output}
		}
		var err error
		inst, a.obsShutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return nil, fmt.Errorf("observer init: %w", err)
		}
		tracer = observer.NewTracer()
	}

	retryOpts := []conductor.RetryOption{
		conductor.RetryMaxAttempts(retryAttempts(cfg.Retry.MaxRetries)),
		conductor.RetryBaseDelay(time.Duration(cfg.Retry.BackoffBaseMS) * time.Millisecond),
		conductor.RetryLogger(logger),
	}
	wrap := func(inner conductor.Adapter) conductor.Adapter {
		if inst != nil {
			inner = observer.WrapAdapter(inner, inst)
		}
		return conductor.WithRetry(inner, retryOpts...)
	}

	xlClient := openaicompat.New(cfg.XL.APIKey, cfg.XL.Model, cfg.XL.BaseURL,
		openaicompat.WithName("xl"),
		openaicompat.WithTimeout(time.Duration(cfg.XL.TimeoutSeconds)*time.Second),
		openaicompat.WithLogger(logger))
	lightClient := openaicompat.New(cfg.Light.APIKey, cfg.Light.Model, cfg.Light.BaseURL,
		openaicompat.WithName("light"),
		openaicompat.WithTimeout(time.Duration(cfg.Light.TimeoutSeconds)*time.Second),
		openaicompat.WithLogger(logger))
	codeClient := openaicompat.New(cfg.Code.APIKey, cfg.Code.Model, cfg.Code.BaseURL,
		openaicompat.WithName("code"),
		openaicompat.WithTimeout(time.Duration(cfg.Code.TimeoutSeconds)*time.Second),
		openaicompat.WithLogger(logger))
	visionClient := openaicompat.New(cfg.Vision.APIKey, cfg.Vision.Model, cfg.Vision.BaseURL,
		openaicompat.WithName("vision"),
		openaicompat.WithTimeout(time.Duration(cfg.Vision.TimeoutSeconds)*time.Second),
		openaicompat.WithLogger(logger))

	xl := wrap(model.XL(xlClient))
	light := wrap(model.Light(lightClient))
	code := wrap(model.NewCode(codeClient, model.CodeReview(), model.CodeLogger(logger)))
	vision := wrap(model.NewMultimodal(visionClient))

	models := conductor.NewModelSet()
	models.Register(xl)
	models.Register(light)
	models.Register(code)
	models.Register(vision)

	wrapTool := func(t conductor.Tool) conductor.Tool {
		if inst != nil {
			return observer.WrapTool(t, inst)
		}
		return t
	}

	registry := conductor.NewRegistry()
	if err := registry.Register(wrapTool(coder.New(code)), conductor.ToolLimits{}); err != nil {
		return nil, err
	}
	if err := registry.Register(wrapTool(multimodal.New(vision)), conductor.ToolLimits{}); err != nil {
		return nil, err
	}
	if cfg.Search.APIKey != "" {
		searchClient := sonar.New(cfg.Search.APIKey, cfg.Search.Model, cfg.Search.BaseURL)
		lightSearch := search.NewLight(searchClient, search.RPM(cfg.Search.RPM), search.Logger(logger))
		mediumSearch := search.NewMedium(searchClient, search.RPM(cfg.Search.RPM), search.Logger(logger))
		if err := registry.Register(wrapTool(lightSearch), conductor.ToolLimits{}); err != nil {
			return nil, err
		}
		if err := registry.Register(wrapTool(mediumSearch), conductor.ToolLimits{}); err != nil {
			return nil, err
		}
	}

	diversity := conductor.NewDiversityValidator(
		conductor.DiversityThreshold(cfg.Diversity.Threshold))

	execOpts := []conductor.ExecutorOption{conductor.ExecutorLogger(logger)}
	if tracer != nil {
		execOpts = append(execOpts, conductor.ExecutorTracer(tracer))
	}
	executor := conductor.NewExecutor(registry, diversity, execOpts...)

	a.monitor = conductor.NewMonitor(
		conductor.TokenCeiling(cfg.Monitor.MaxContextTokens),
		conductor.SoftHeapLimit(uint64(cfg.Monitor.SoftHeapBytes)),
		conductor.MonitorLogger(logger))
	a.monitor.Start()

	coordOpts := []conductor.CoordinatorOption{
		conductor.WorkerBounds(cfg.Coordinator.MinAgents, cfg.Coordinator.MaxAgents),
		conductor.ScaleInterval(time.Duration(cfg.Coordinator.MonitorIntervalSecs) * time.Second),
		conductor.CoordinatorLogger(logger),
	}
	if tracer != nil {
		coordOpts = append(coordOpts, conductor.CoordinatorTracer(tracer))
	}
	a.coordinator = conductor.NewCoordinator(coordOpts...)

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	orchOpts := []conductor.OrchestratorOption{
		conductor.ResearchStore(store),
		conductor.ResearchTTL(time.Duration(cfg.Research.ResultTTLHours) * time.Hour),
		conductor.ResearchAgentTimeout(time.Duration(cfg.Coordinator.AgentTimeoutSeconds) * time.Second),
		conductor.ResearchAgentRetries(cfg.Coordinator.AgentMaxRetries),
		conductor.ResearchRenderer(render.NewHTML("Research Report")),
		conductor.ResearchLogger(logger),
	}
	svcOpts := []conductor.ServiceOption{
		conductor.ServiceMonitor(a.monitor),
		conductor.ServiceToolIterationCap(cfg.Chat.ToolIterationCap),
		conductor.ServiceLogger(logger),
	}
	if cfg.RAG.BaseURL != "" {
		ragClient := rag.New(cfg.RAG.BaseURL, cfg.RAG.APIKey)
		orchOpts = append(orchOpts,
			conductor.ResearchIngestor(ragClient),
			conductor.ResearchRetriever(ragClient))
		svcOpts = append(svcOpts, conductor.ServiceRetriever(ragClient))
	}
	if tracer != nil {
		orchOpts = append(orchOpts, conductor.ResearchTracer(tracer))
		svcOpts = append(svcOpts, conductor.ServiceTracer(tracer))
	}
	if inst != nil {
		orchOpts = append(orchOpts, conductor.ResearchObserver(
			func(planID string, status conductor.PlanStatus, agents int, elapsed time.Duration) {
				inst.RecordResearch(context.Background(), planID, string(status), agents, float64(elapsed.Milliseconds()))
			}))
	}

	a.orchestrator = conductor.NewOrchestrator(xl, light, registry, diversity, a.coordinator, orchOpts...)
	svcOpts = append(svcOpts, conductor.ServiceResearch(a.orchestrator))

	a.service = conductor.NewService(models, registry, executor, svcOpts...)

	if cfg.Embedding.BaseURL != "" {
		a.embedder = model.NewEmbedding(nim.NewEmbedClient(
			cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimensions))
	}
	if cfg.Rerank.BaseURL != "" {
		a.reranker = model.NewRerank(
			nim.NewRerankClient(cfg.Rerank.APIKey, cfg.Rerank.Model, cfg.Rerank.BaseURL),
			model.RerankThreshold(cfg.Rerank.Threshold))
	}

	return a, nil
}

// openStore picks the result store from [database] config.
func (a *app) openStore(ctx context.Context) (conductor.ResultStore, error) {
	switch a.cfg.Database.Driver {
	case "", "memory":
		return conductor.NewMemoryResultStore(), nil
	case "sqlite":
		st := sqlite.New(a.cfg.Database.Path)
		if err := st.Init(ctx); err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, a.cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		a.pool = pool
		st := postgres.New(pool)
		if err := st.Init(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
}

// close shuts everything down in dependency order.
func (a *app) close(ctx context.Context) {
	a.orchestrator.Close()
	a.coordinator.Close()
	a.monitor.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.obsShutdown != nil {
		if err := a.obsShutdown(ctx); err != nil {
			a.logger.Warn("observer shutdown failed", "error", err)
		}
	}
}

// retryAttempts converts a retry budget into a total attempt count.
func retryAttempts(maxRetries int) int {
	if maxRetries < 0 {
		return 1
	}
	return maxRetries + 1
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
