package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/confidence"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/vectorstore"
	"github.com/querypilot/querypilot/internal/warehouse"
)

func main() {
	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	warehouseDB, err := warehouse.Open(context.Background(), warehouse.DBConfig{
		DSN:             cfg.Warehouse.DSN,
		MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
		MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
		ConnMaxIdleTime: cfg.Warehouse.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open warehouse db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = warehouseDB.Close() }()

	warehouseService := warehouse.NewService(warehouseDB, cfg.Warehouse.QueryTimeout)
	schemaService := schema.NewService(warehouseDB)
	if err := schemaService.Refresh(context.Background()); err != nil {
		logger.Error("failed to introspect schema", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := vectorstore.Open(context.Background(), cfg.VectorStore.Path)
	if err != nil {
		logger.Error("failed to open vector store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	provider, err := newProvider(cfg)
	if err != nil {
		logger.Error("failed to initialize llm provider", slog.Any("error", err))
		os.Exit(1)
	}

	retriever := nl2sql.NewVectorRetriever(store, provider)
	generator := nl2sql.NewGenerator(provider, retriever, cfg.Pipeline.RetrievalTopK)
	validator := nl2sql.NewValidator(schemaService.Snapshot(), warehouseService, cfg.Pipeline.StrictPreflight)
	pipeline := nl2sql.NewPipeline(generator, validator, cfg.Pipeline.MaxRepairAttempts)

	calibrator, err := confidence.LoadCalibrator(cfg.Confidence.CalibratorPath)
	if err != nil {
		logger.Error("failed to load calibrator", slog.Any("error", err))
		os.Exit(1)
	}
	if calibrator != nil {
		logger.Info("loaded confidence calibrator", slog.String("path", cfg.Confidence.CalibratorPath))
	}

	deps := api.Dependencies{
		Logger:     logger,
		Pipeline:   pipeline,
		Generator:  generator,
		Validator:  validator,
		Confidence: confidence.NewService(calibrator),
		Schema: func() api.SchemaInfo {
			snapshot := schemaService.Snapshot()
			if snapshot == nil {
				return nil
			}
			return snapshot
		},
		Readiness: api.CombineReadinessChecks(
			warehouseService.Ready,
			api.CheckLLMConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Confidence.SelfAgreementEnabled {
		deps.Variants = func(ctx context.Context, question, schemaText string) []string {
			variants, err := generator.GenerateVariants(ctx, question, schemaText, cfg.Confidence.SelfAgreementSamples)
			if err != nil {
				logger.Warn("self-agreement sampling failed", slog.Any("error", err))
				return nil
			}
			return variants
		}
	}
	if cfg.Confidence.ESSEnabled {
		deps.EmbeddingScore = func(ctx context.Context, question string) float64 {
			examples, err := retriever.SimilarExamples(ctx, question, cfg.Confidence.ESSTopK)
			if err != nil || len(examples) == 0 {
				return 0
			}
			best := examples[0].Score
			for _, ex := range examples[1:] {
				if ex.Score > best {
					best = ex.Score
				}
			}
			return best
		}
	}
	if cfg.Auth.Required {
		keyValidator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, keyValidator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func newProvider(cfg config.Config) (llm.Provider, error) {
	var base llm.Provider
	var err error
	switch cfg.LLM.Provider {
	case "openai":
		base, err = llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			EmbedModel:  cfg.LLM.EmbedModel,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
	default:
		base, err = llm.NewOllamaProvider(llm.OllamaConfig{
			Host:        cfg.LLM.OllamaHost,
			Model:       cfg.LLM.Model,
			EmbedModel:  cfg.LLM.EmbedModel,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
	}
	if err != nil {
		return nil, err
	}
	return llm.NewRetryingProvider(base, cfg.LLM.MaxRetries), nil
}
