package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/digitwin/internal/api"
	"github.com/nidhogg/digitwin/internal/cache"
	"github.com/nidhogg/digitwin/internal/config"
	"github.com/nidhogg/digitwin/internal/dispatch"
	"github.com/nidhogg/digitwin/internal/embedding"
	"github.com/nidhogg/digitwin/internal/generation"
	"github.com/nidhogg/digitwin/internal/graph"
	"github.com/nidhogg/digitwin/internal/mcpserver"
	"github.com/nidhogg/digitwin/internal/memory"
	"github.com/nidhogg/digitwin/internal/orchestrator"
	"github.com/nidhogg/digitwin/internal/provider"
	"github.com/nidhogg/digitwin/internal/reasoning"
	"github.com/nidhogg/digitwin/internal/registry"
	"github.com/nidhogg/digitwin/internal/resource"
	"github.com/nidhogg/digitwin/internal/retrieval"
	pgstore "github.com/nidhogg/digitwin/internal/store"
	"github.com/nidhogg/digitwin/internal/synthesis"
	"github.com/nidhogg/digitwin/internal/telemetry"
	"github.com/nidhogg/digitwin/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/digitwin.json"
	}
	cfg, cfgErr := config.Load(cfgPath)
	if errors.Is(cfgErr, fs.ErrNotExist) {
		cfg, cfgErr = config.Default(), nil
	}

	// zap writes to stderr, which keeps stdout free for the stdio transport.
	var logger *zap.Logger
	if cfg != nil && cfg.Server.LogLevel == "debug" {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	if cfgErr != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(cfgErr))
	}
	logger.Info("Starting digital twin server",
		zap.String("name", cfg.Server.Name),
		zap.String("version", cfg.Server.Version),
		zap.String("transport", cfg.Server.Transport))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		persisters  []memory.Persister
		recorders   []reasoning.ChainRecorder
		archive     api.ChainArchive
		chainGraph  api.ChainGraph
		cacheStatus = "disabled"
	)

	// Redis snapshot cache and mutation stream
	if url := cfg.Database.Redis.URL; url != "" {
		rc, err := cache.New(ctx, url, cfg.Database.Redis.Prefix, cfg.Database.Redis.CacheTTL(), logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without memory cache", zap.Error(err))
		} else {
			defer rc.Close()
			persisters = append(persisters, rc)
			cacheStatus = "active"
			go func() {
				for ev := range rc.Subscribe(ctx) {
					logger.Debug("memory mutated",
						zap.String("conversation_id", ev.ConversationID),
						zap.Int("interactions", ev.Interactions),
						zap.Int("learned_patterns", ev.LearnedPatterns))
				}
			}()
			logger.Info("Redis memory cache enabled")
		}
	}

	// PostgreSQL durable memory and chain archive
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		ps, err := pgstore.New(ctx, dsn, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(err))
		} else {
			defer ps.Close()
			if err := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); err != nil {
				logger.Fatal("migration failed", zap.Error(err))
			}
			persisters = append(persisters, ps)
			recorders = append(recorders, ps)
			archive = ps
		}
	}

	// Neo4j chain graph
	if uri := cfg.Database.Neo4j.URI; uri != "" {
		g, err := graph.New(uri, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if err == nil {
			err = g.Ping(ctx)
			if err == nil {
				err = g.EnsureSchema(ctx)
			}
			if err != nil {
				g.Close(context.Background())
			}
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, running without chain graph", zap.Error(err))
		} else {
			defer g.Close(context.Background())
			recorders = append(recorders, g)
			chainGraph = g
			logger.Info("Neo4j chain graph enabled")
		}
	}

	// Qdrant context retrieval
	var (
		embedder embedding.Embedder
		index    retrieval.Index
	)
	if q := cfg.Database.Qdrant; q.Host != "" && cfg.Embedding.Endpoint != "" {
		vc, err := vectorstore.NewClient(vectorstore.Config{Host: q.Host, Port: q.Port})
		if err != nil {
			logger.Warn("Qdrant unavailable, using static context", zap.Error(err))
		} else {
			defer vc.Close()
			index = vc
			embedder = embedding.New(embedding.Config{
				Provider:  cfg.Embedding.Provider,
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
				BatchSize: cfg.Embedding.BatchSize,
			})
		}
	}
	gatherer := retrieval.NewGatherer(embedder, index, cfg.Database.Qdrant.Collections, logger)
	gatherer.SetMinScore(cfg.Database.Qdrant.MinScore)
	if err := gatherer.InitCollections(ctx); err != nil {
		logger.Warn("failed to initialize vector collections", zap.Error(err))
	}

	// Language model providers
	provCfgs := make([]provider.Config, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		provCfgs = append(provCfgs, provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		})
	}
	router := provider.FromConfigs(provCfgs, logger)
	if id := cfg.Generation.Provider; id != "" {
		router.SetDefault(id)
	}
	for purpose, id := range cfg.Generation.Bindings {
		router.Bind(purpose, id)
	}
	if len(cfg.Generation.Fallbacks) > 0 {
		router.SetFallbacks(generation.PurposeReasoning, cfg.Generation.Fallbacks)
		router.SetFallbacks(generation.PurposeSynthesis, cfg.Generation.Fallbacks)
	}
	if router.Len() == 0 {
		logger.Warn("no language model provider configured, responses use fallback text")
	}
	gen := generation.New(router, generation.Options{
		Model:                cfg.Generation.Model,
		MaxTokens:            cfg.Generation.MaxTokens,
		ReasoningTemperature: cfg.Generation.ReasoningTemperature,
		CreativeTemperature:  cfg.Generation.CreativeTemperature,
		MaxContextLength:     cfg.Generation.MaxContextLength,
		Persona:              cfg.Generation.Persona,
		SystemPrompt:         cfg.Generation.SystemPrompt,
	}, logger)

	// Engines
	chains := reasoning.NewChainTable()
	engine := reasoning.NewEngine(chains, gatherer, reasoning.HeuristicAnalyzer{}, gen, logger)
	for _, r := range recorders {
		engine.AddRecorder(r)
	}
	memStore := memory.NewStore(logger, persisters...)

	metrics := telemetry.NewRecorder(cfg.Limits.TelemetrySamples)
	if err := metrics.RegisterGauge("active_sessions", "Conversations held in memory",
		func() float64 { return float64(memStore.Len()) }); err != nil {
		logger.Warn("gauge registration failed", zap.Error(err))
	}
	if err := metrics.RegisterGauge("reasoning_chains", "Reasoning chains recorded",
		func() float64 { return float64(chains.Len()) }); err != nil {
		logger.Warn("gauge registration failed", zap.Error(err))
	}

	synth := synthesis.New(gen, logger)
	orch := orchestrator.New(orchestrator.NewBaselinePolicy(), orchestrator.NewExecutor(logger), logger)
	dispatch.RegisterStepHandlers(orch.Executor(), dispatch.StepEngines{
		Gatherer:    gatherer,
		Analyzer:    reasoning.HeuristicAnalyzer{},
		Synthesizer: synth,
	})

	d := dispatch.New(dispatch.Deps{
		Registry:     registry.New(),
		Engine:       engine,
		Memory:       memStore,
		Orchestrator: orch,
		Synthesizer:  synth,
		Metrics:      metrics,
		Resources:    resource.NewExposer(memStore, chains, metrics, cacheStatus),
		Limiter:      dispatch.NewLimiter(cfg.Limits.RateLimitRequests, cfg.Limits.RateLimitWindow()),
	}, logger)
	mcpSrv := mcpserver.New(cfg.Server.Name, cfg.Server.Version, d, logger)

	if cfg.Server.Transport == "stdio" {
		logger.Info("Serving MCP over stdio")
		if err := mcpSrv.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stdio server error", zap.Error(err))
		}
		logger.Info("Shutting down digital twin server...")
		return
	}

	handler := api.NewHandler(cfg.Server.Name, d, api.Options{
		Metrics:   metrics,
		MCP:       mcpSrv.HTTPHandler(),
		Knowledge: gatherer,
		Archive:   archive,
		Graph:     chainGraph,
		Providers: router,
	}, logger)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Digital twin listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down digital twin server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
