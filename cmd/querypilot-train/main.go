package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/train"
	"github.com/querypilot/querypilot/internal/vectorstore"
	"github.com/querypilot/querypilot/internal/warehouse"
)

func main() {
	cfg, err := config.LoadFromEnv("querypilot-train")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	warehouseDB, err := warehouse.Open(ctx, warehouse.DBConfig{
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

	schemaService := schema.NewService(warehouseDB)
	if err := schemaService.Refresh(ctx); err != nil {
		logger.Error("failed to introspect schema", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := vectorstore.Open(ctx, cfg.VectorStore.Path)
	if err != nil {
		logger.Error("failed to open vector store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	base, err := llm.NewOllamaProvider(llm.OllamaConfig{
		Host:        cfg.LLM.OllamaHost,
		Model:       cfg.LLM.Model,
		EmbedModel:  cfg.LLM.EmbedModel,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize llm provider", slog.Any("error", err))
		os.Exit(1)
	}
	provider := llm.NewRetryingProvider(base, cfg.LLM.MaxRetries)

	trainer := train.NewTrainer(store, provider, logger)

	logger.Info("training on schema text")
	if err := trainer.TrainSchema(ctx, schemaService.Snapshot().Text()); err != nil {
		logger.Error("schema training failed", slog.Any("error", err))
		os.Exit(1)
	}

	items, err := train.LoadGoldFile(cfg.Eval.GoldFile)
	if err != nil {
		logger.Error("failed to load gold file", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("training on gold examples", slog.Int("count", len(items)))
	if err := trainer.TrainExamples(ctx, items); err != nil {
		logger.Error("example training failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("training complete")
}
