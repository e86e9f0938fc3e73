package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/confidence"
	"github.com/querypilot/querypilot/internal/eval"
	"github.com/querypilot/querypilot/internal/observability"
)

// Reads a finished eval results file, fits the confidence calibrator, and
// writes the bundle the API server loads on startup.
func main() {
	cfg, err := config.LoadFromEnv("querypilot-calibrate")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	raw, err := os.ReadFile(cfg.Eval.ResultsFile)
	if err != nil {
		logger.Error("failed to read eval results", slog.Any("error", err))
		os.Exit(1)
	}
	var results []eval.ItemResult
	if err := json.Unmarshal(raw, &results); err != nil {
		logger.Error("failed to decode eval results", slog.Any("error", err))
		os.Exit(1)
	}

	samples := eval.CalibrationSamples(results)
	logger.Info("collected calibration samples",
		slog.Int("results", len(results)),
		slog.Int("samples", len(samples)),
	)

	calibrator, err := confidence.Train(samples)
	if err != nil {
		logger.Error("calibrator training failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := calibrator.Save(cfg.Confidence.CalibratorPath); err != nil {
		logger.Error("failed to save calibrator", slog.Any("error", err))
		os.Exit(1)
	}

	correct := 0
	for _, sample := range samples {
		prob, ok := calibrator.Predict(sample.Components)
		if !ok {
			continue
		}
		if (prob >= 0.5) == sample.Correct {
			correct++
		}
	}
	accuracy := 0.0
	if len(samples) > 0 {
		accuracy = float64(correct) / float64(len(samples))
	}
	logger.Info("saved calibrator",
		slog.String("path", cfg.Confidence.CalibratorPath),
		slog.Float64("training_accuracy", accuracy),
	)
}
