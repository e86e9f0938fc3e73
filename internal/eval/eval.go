package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/querypilot/querypilot/internal/confidence"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/train"
	"github.com/querypilot/querypilot/internal/warehouse"
)

// QueryRunner executes SQL against the warehouse.
type QueryRunner interface {
	RunQuery(ctx context.Context, sql string) (*warehouse.Result, error)
}

// PipelineRunner produces a validated SQL candidate for a question.
type PipelineRunner interface {
	Run(ctx context.Context, question, schemaText string) (nl2sql.Outcome, error)
}

// ItemResult is one evaluated gold item. The layout doubles as calibrator
// training input, so the component scores ride along.
type ItemResult struct {
	ID           int                `json:"id"`
	Question     string             `json:"question"`
	GoldSQL      string             `json:"gold_sql"`
	ModelSQL     string             `json:"model_sql"`
	Validated    bool               `json:"validated"`
	Repaired     bool               `json:"repaired"`
	Attempts     int                `json:"attempts"`
	Diagnostics  nl2sql.Diagnostics `json:"diagnostics"`
	GoldError    string             `json:"gold_error,omitempty"`
	ModelError   string             `json:"model_error,omitempty"`
	GoldRowCount *int               `json:"gold_row_count"`
	ModelRowCnt  *int               `json:"model_row_count"`
	ModelExecOK  bool               `json:"model_exec_ok"`
	ResultMatch  bool               `json:"result_match"`
	ModelCorrect *bool              `json:"model_correct"`
	Confidence   *confidence.Result `json:"confidence,omitempty"`
}

// Summary aggregates one run.
type Summary struct {
	Total    int     `json:"total"`
	Matches  int     `json:"matches"`
	Accuracy float64 `json:"accuracy"`
}

// Runner evaluates the gold set end to end: generate, execute both
// statements, compare, score.
type Runner struct {
	pipeline   PipelineRunner
	queries    QueryRunner
	confidence *confidence.Service
	logger     *slog.Logger
}

func NewRunner(pipeline PipelineRunner, queries QueryRunner, conf *confidence.Service, logger *slog.Logger) *Runner {
	return &Runner{pipeline: pipeline, queries: queries, confidence: conf, logger: logger}
}

// Run evaluates every gold item and returns the per-item results with a
// summary. Item-level failures are recorded, not fatal.
func (r *Runner) Run(ctx context.Context, items []train.GoldItem, schemaText string) ([]ItemResult, Summary) {
	results := make([]ItemResult, 0, len(items))
	for _, item := range items {
		result := r.evalItem(ctx, item, schemaText)
		results = append(results, result)
		r.logger.InfoContext(ctx, "evaluated gold item",
			slog.Int("id", item.ID),
			slog.Bool("validated", result.Validated),
			slog.Bool("result_match", result.ResultMatch),
		)
	}

	summary := Summary{Total: len(results)}
	for _, result := range results {
		if result.ResultMatch {
			summary.Matches++
		}
	}
	if summary.Total > 0 {
		summary.Accuracy = float64(summary.Matches) / float64(summary.Total)
	}
	return results, summary
}

func (r *Runner) evalItem(ctx context.Context, item train.GoldItem, schemaText string) ItemResult {
	result := ItemResult{ID: item.ID, Question: item.Question, GoldSQL: item.GoldSQL}

	outcome, err := r.pipeline.Run(ctx, item.Question, schemaText)
	if err != nil {
		result.ModelError = fmt.Sprintf("generation/validation error: %v", err)
		return result
	}
	result.ModelSQL = outcome.SQL
	result.Validated = outcome.Validated
	result.Repaired = outcome.Repaired
	result.Attempts = outcome.Attempts
	result.Diagnostics = outcome.Diagnostics

	goldResult, err := r.queries.RunQuery(ctx, item.GoldSQL)
	if err != nil {
		result.GoldError = err.Error()
	} else {
		n := len(goldResult.Rows)
		result.GoldRowCount = &n
	}

	var modelResult *warehouse.Result
	if result.ModelSQL != "" {
		modelResult, err = r.queries.RunQuery(ctx, result.ModelSQL)
		if err != nil {
			result.ModelError = fmt.Sprintf("execution error: %v", err)
		} else {
			n := len(modelResult.Rows)
			result.ModelRowCnt = &n
			result.ModelExecOK = true
		}
	}

	if goldResult != nil && modelResult != nil {
		result.ResultMatch = ResultsEqual(goldResult, modelResult)
		correct := result.ResultMatch
		result.ModelCorrect = &correct
	}

	if r.confidence != nil {
		rowCount := -1
		if result.ModelRowCnt != nil {
			rowCount = *result.ModelRowCnt
		}
		conf := r.confidence.Compute(confidence.Inputs{
			SQL:         result.ModelSQL,
			Diagnostics: result.Diagnostics,
			Variants:    nl2sql.FastVariants(result.ModelSQL),
			ExecOK:      result.ModelExecOK,
			RowCount:    rowCount,
		})
		result.Confidence = &conf
	}

	return result
}

// ResultsEqual compares two result sets ordered, cell by cell, after
// normalizing driver types through fmt.Sprint. Column names are ignored
// because gold and model statements rarely agree on aliases.
func ResultsEqual(a, b *warehouse.Result) bool {
	if len(a.Rows) != len(b.Rows) {
		return false
	}
	for i := range a.Rows {
		if len(a.Rows[i]) != len(b.Rows[i]) {
			return false
		}
		for j := range a.Rows[i] {
			if fmt.Sprint(a.Rows[i][j]) != fmt.Sprint(b.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

// WriteResults saves the per-item results as indented JSON.
func WriteResults(path string, results []ItemResult) error {
	raw, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode eval results: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write eval results: %w", err)
	}
	return nil
}

// CalibrationSamples converts eval results into training rows, skipping
// items without a usable label the way the offline trainer does.
func CalibrationSamples(results []ItemResult) []confidence.Sample {
	var samples []confidence.Sample
	for _, result := range results {
		if result.GoldError != "" || result.ModelCorrect == nil || result.Confidence == nil {
			continue
		}
		samples = append(samples, confidence.Sample{
			Components: result.Confidence.Components,
			Correct:    *result.ModelCorrect,
		})
	}
	return samples
}
