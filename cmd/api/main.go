// Command api runs the page analysis service: the HTTP submission surface,
// the pipeline worker pool, and the graph store behind them.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pagegraph-backend/internal/config"
	"pagegraph-backend/internal/graph"
	httpapi "pagegraph-backend/internal/interfaces/http"
	"pagegraph-backend/internal/keyword"
	"pagegraph-backend/internal/pipeline"
	"pagegraph-backend/internal/pipeline/components"
	"pagegraph-backend/internal/service/analysis"
	"pagegraph-backend/internal/store"
	"pagegraph-backend/pkg/observability"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Environment)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, cfgPath, logger); err != nil {
		logger.Fatal("service exited", zap.Error(err))
	}
}

func run(cfg *config.Config, cfgPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(cfgPath, cfg, logger)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	if endpoint := cfg.Observability.TracingEndpoint; endpoint != "" {
		tp, err := observability.InitTracing("pagegraph-backend", string(cfg.Environment), endpoint)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown incomplete", zap.Error(err))
			}
		}()
	}

	// Store connection, transaction manager, schema.
	conn, err := graph.NewConnection(ctx, graph.ConnectionConfig{
		URI:               cfg.Store.URI,
		Username:          cfg.Store.Username,
		Password:          cfg.Store.Password,
		Database:          cfg.Store.Database,
		MaxPoolSize:       cfg.Store.MaxConnectionPoolSize,
		ConnectionTimeout: cfg.Store.ConnectionTimeout,
	}, logger)
	if err != nil {
		return err
	}

	manager := graph.NewManager(conn, graph.RetryConfig{
		MaxRetries:    cfg.Store.Transaction.MaxRetries,
		InitialDelay:  cfg.Store.Transaction.InitialRetryDelay,
		MaxDelay:      cfg.Store.Transaction.MaxRetryDelay,
		BackoffFactor: cfg.Store.Transaction.BackoffFactor,
	}, cfg.Store.QueryTimeout, logger)

	if err := graph.NewBootstrapper(manager, logger).Apply(ctx); err != nil {
		_ = conn.Close(context.Background())
		return err
	}

	ops := graph.NewOperations(manager, logger)
	pages := store.NewPageStore(ops, manager, logger)
	tasks := store.NewTaskStore(manager, logger)

	// Pipeline: coordinator, components, orchestrator.
	coordinator := pipeline.NewCoordinator(stageConfigs(cfg.Pipeline), logger)
	processor := registerComponents(coordinator, cfg, pages, logger)

	// Hot reload (development only): push refreshed tunables into the
	// coordinator and keyword processor. Structural settings still need a
	// restart.
	watcher.OnReload(func(next *config.Config) {
		coordinator.SetConfigs(stageConfigs(next.Pipeline))
		processor.UpdateConfig(keyword.ProcessorConfig{
			MinKeywordScore: next.Keyword.MinKeywordScore,
			MaxVariants:     next.Keyword.MaxVariants,
		})
		logger.Info("applied reloaded pipeline and keyword settings")
	})

	emitter := pipeline.NewEmitter(cfg.Pipeline.EventLoggingEnabled, logger)
	emitter.Subscribe(metricsEventHandler())
	emitter.Subscribe(logEventHandler(logger))

	orchestrator := pipeline.NewOrchestrator(coordinator, emitter, logger)

	service := analysis.NewService(analysis.Config{
		MaxConcurrent: cfg.Pipeline.MaxConcurrentPages,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		WorkerTimeout: time.Duration(cfg.Pipeline.WorkerTimeout) * time.Second,
	}, manager, tasks, pages, orchestrator, logger)
	service.Start(ctx)

	handler := httpapi.NewHandler(service, conn, logger)
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      httpapi.NewRouter(handler, time.Duration(cfg.Pipeline.DefaultTimeout)*time.Second, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	// Shutdown order: stop accepting, stop the workers, close the store last.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	service.Shutdown()
	return conn.Close(context.Background())
}

// registerComponents wires the built-in components into their stages and
// returns the keyword processor so reloads can retune it.
func registerComponents(coordinator *pipeline.Coordinator, cfg *config.Config, pages *store.PageStore, logger *zap.Logger) *keyword.Processor {
	extractorCfg := keyword.ExtractorConfig{
		MinChars:       cfg.Keyword.Extractor.MinChars,
		MaxWords:       cfg.Keyword.Extractor.MaxWords,
		MinFrequency:   cfg.Keyword.Extractor.MinFrequency,
		ScoreThreshold: cfg.Keyword.Extractor.ScoreThreshold,
	}
	processor := keyword.NewProcessor(
		keyword.NewVariantManager(),
		keyword.NewValidator(),
		keyword.ProcessorConfig{
			MinKeywordScore: cfg.Keyword.MinKeywordScore,
			MaxVariants:     cfg.Keyword.MaxVariants,
		}, logger)

	coordinator.Register(pipeline.StageInitialize, components.NewInitialize(cfg.Keyword.SkipDomains))
	coordinator.Register(pipeline.StageMetadata, components.NewMetadata())
	coordinator.Register(pipeline.StageContent, components.NewContent(components.ContentConfig{
		MinContentLength:    cfg.Keyword.MinContentLength,
		ComplexDOMThreshold: cfg.Keyword.ComplexDOMThreshold,
		MaxJSScripts:        cfg.Keyword.MaxJSScripts,
	}))
	coordinator.Register(pipeline.StageAnalysis, components.NewAnalysis(
		[]keyword.Extractor{
			keyword.NewFrequencyExtractor(extractorCfg),
			keyword.NewCapitalizedPhraseExtractor(extractorCfg),
		},
		processor,
		nil, // no similarity model wired; semantic detection is skipped
		keyword.NewRegexSegmenter(),
		cfg.Keyword.RelationshipConfidenceThreshold,
		logger))
	coordinator.Register(pipeline.StageStorage, components.NewStorage(pages, logger))
	return processor
}

// stageConfigs overlays configured stage settings onto the defaults.
func stageConfigs(cfg config.PipelineConfig) map[pipeline.Stage]pipeline.StageConfig {
	merged := pipeline.DefaultStageConfigs()
	for name, settings := range cfg.Stages {
		stage := pipeline.Stage(name)
		base, ok := merged[stage]
		if !ok {
			continue
		}
		if settings.TimeoutSeconds > 0 {
			base.Timeout = time.Duration(settings.TimeoutSeconds) * time.Second
		}
		base.Required = settings.Required
		base.ConcurrentComponents = settings.ConcurrentComponents
		base.ValidationRequired = settings.ValidationRequired
		if settings.Retry.MaxAttempts > 0 {
			base.Retry = pipeline.RetryPolicy{
				MaxAttempts:        settings.Retry.MaxAttempts,
				Delay:              time.Duration(settings.Retry.DelaySeconds) * time.Second,
				MaxDelay:           time.Duration(settings.Retry.MaxDelaySeconds) * time.Second,
				ExponentialBackoff: settings.Retry.ExponentialBackoff,
			}
		}
		merged[stage] = base
	}
	return merged
}

// metricsEventHandler bridges pipeline events into Prometheus.
func metricsEventHandler() pipeline.EventHandler {
	return func(e pipeline.Event) {
		switch e.Type {
		case pipeline.EventStageEnd:
			if secs, ok := e.Metadata["processing_time"].(float64); ok {
				observability.StageDuration.WithLabelValues(string(e.Stage)).Observe(secs)
			}
		case pipeline.EventStageError:
			observability.StageErrors.WithLabelValues(string(e.Stage)).Inc()
		case pipeline.EventComplete:
			observability.PagesProcessed.WithLabelValues("active").Inc()
		case pipeline.EventError:
			observability.PagesProcessed.WithLabelValues("error").Inc()
		}
	}
}

// logEventHandler mirrors pipeline events into the structured log.
func logEventHandler(logger *zap.Logger) pipeline.EventHandler {
	return func(e pipeline.Event) {
		fields := []zap.Field{
			zap.String("stage", string(e.Stage)),
			zap.String("message", e.Message),
		}
		switch e.Level {
		case pipeline.LevelError:
			logger.Warn("pipeline event", fields...)
		default:
			logger.Debug("pipeline event", fields...)
		}
	}
}

func newLogger(env config.Environment) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == config.Production {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
