package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/confidence"
	"github.com/querypilot/querypilot/internal/eval"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/train"
	"github.com/querypilot/querypilot/internal/vectorstore"
	"github.com/querypilot/querypilot/internal/warehouse"
)

func main() {
	cfg, err := config.LoadFromEnv("querypilot-eval")
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

	warehouseService := warehouse.NewService(warehouseDB, cfg.Warehouse.QueryTimeout)
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

	retriever := nl2sql.NewVectorRetriever(store, provider)
	generator := nl2sql.NewGenerator(provider, retriever, cfg.Pipeline.RetrievalTopK)
	validator := nl2sql.NewValidator(schemaService.Snapshot(), warehouseService, cfg.Pipeline.StrictPreflight)
	pipeline := nl2sql.NewPipeline(generator, validator, cfg.Pipeline.MaxRepairAttempts)

	calibrator, err := confidence.LoadCalibrator(cfg.Confidence.CalibratorPath)
	if err != nil {
		logger.Error("failed to load calibrator", slog.Any("error", err))
		os.Exit(1)
	}

	items, err := train.LoadGoldFile(cfg.Eval.GoldFile)
	if err != nil {
		logger.Error("failed to load gold file", slog.Any("error", err))
		os.Exit(1)
	}

	runner := eval.NewRunner(pipeline, warehouseService, confidence.NewService(calibrator), logger)
	results, summary := runner.Run(ctx, items, schemaService.Snapshot().Text())

	if err := eval.WriteResults(cfg.Eval.ResultsFile, results); err != nil {
		logger.Error("failed to write eval results", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("eval complete",
		slog.Int("total", summary.Total),
		slog.Int("matches", summary.Matches),
		slog.Float64("accuracy", summary.Accuracy),
	)
	for _, result := range results {
		if !result.ResultMatch {
			logger.Warn("gold item failed",
				slog.Int("id", result.ID),
				slog.String("question", result.Question),
			)
		}
	}

	if cfg.ReportStore.Endpoint != "" {
		uploader, err := eval.NewReportUploader(eval.ReportStoreConfig{
			Endpoint:        cfg.ReportStore.Endpoint,
			Region:          cfg.ReportStore.Region,
			Bucket:          cfg.ReportStore.Bucket,
			AccessKeyID:     cfg.ReportStore.AccessKeyID,
			SecretAccessKey: cfg.ReportStore.SecretAccessKey,
			UseSSL:          cfg.ReportStore.UseSSL,
			Prefix:          cfg.ReportStore.Prefix,
		})
		if err != nil {
			logger.Error("failed to initialize report uploader", slog.Any("error", err))
			os.Exit(1)
		}
		key, err := uploader.Upload(ctx, cfg.Eval.ResultsFile)
		if err != nil {
			logger.Error("failed to upload eval results", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("uploaded eval results", slog.String("object_key", key))
	}
}
