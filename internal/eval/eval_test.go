package eval

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/querypilot/querypilot/internal/confidence"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/train"
	"github.com/querypilot/querypilot/internal/warehouse"
)

type fakePipeline struct {
	outcome nl2sql.Outcome
	err     error
}

func (p *fakePipeline) Run(_ context.Context, _ string, _ string) (nl2sql.Outcome, error) {
	return p.outcome, p.err
}

type fakeQueries struct {
	results map[string]*warehouse.Result
	errs    map[string]error
}

func (q *fakeQueries) RunQuery(_ context.Context, sql string) (*warehouse.Result, error) {
	if err, ok := q.errs[sql]; ok {
		return nil, err
	}
	if result, ok := q.results[sql]; ok {
		return result, nil
	}
	return &warehouse.Result{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rows(values ...any) *warehouse.Result {
	result := &warehouse.Result{Columns: []string{"v"}}
	for _, v := range values {
		result.Rows = append(result.Rows, []any{v})
	}
	return result
}

func TestResultsEqual(t *testing.T) {
	if !ResultsEqual(rows(1, 2), rows(1, 2)) {
		t.Fatal("identical rows should match")
	}
	if ResultsEqual(rows(1, 2), rows(2, 1)) {
		t.Fatal("order matters")
	}
	if ResultsEqual(rows(1), rows(1, 2)) {
		t.Fatal("row count mismatch should fail")
	}
	if !ResultsEqual(rows(int64(5)), rows("5")) {
		t.Fatal("values should compare through string normalization")
	}
}

func TestRunnerMarksMatchingItem(t *testing.T) {
	pipeline := &fakePipeline{outcome: nl2sql.Outcome{
		SQL:       "SELECT model",
		Validated: true,
		Attempts:  1,
	}}
	queries := &fakeQueries{results: map[string]*warehouse.Result{
		"SELECT gold":  rows(2003, 2004),
		"SELECT model": rows(2003, 2004),
	}}
	runner := NewRunner(pipeline, queries, confidence.NewService(nil), discardLogger())

	results, summary := runner.Run(context.Background(),
		[]train.GoldItem{{ID: 1, Question: "q", GoldSQL: "SELECT gold"}}, "schema")

	if summary.Total != 1 || summary.Matches != 1 || summary.Accuracy != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	result := results[0]
	if !result.ResultMatch || !result.ModelExecOK {
		t.Fatalf("result = %+v", result)
	}
	if result.ModelCorrect == nil || !*result.ModelCorrect {
		t.Fatal("ModelCorrect should be true")
	}
	if result.GoldRowCount == nil || *result.GoldRowCount != 2 {
		t.Fatalf("GoldRowCount = %v", result.GoldRowCount)
	}
	if result.Confidence == nil || result.Confidence.Raw <= 0 {
		t.Fatalf("Confidence = %+v", result.Confidence)
	}
}

func TestRunnerRecordsExecutionError(t *testing.T) {
	pipeline := &fakePipeline{outcome: nl2sql.Outcome{SQL: "SELECT model", Validated: true, Attempts: 1}}
	queries := &fakeQueries{
		results: map[string]*warehouse.Result{"SELECT gold": rows(1)},
		errs:    map[string]error{"SELECT model": errors.New("Invalid object name 'X'")},
	}
	runner := NewRunner(pipeline, queries, nil, discardLogger())

	results, summary := runner.Run(context.Background(),
		[]train.GoldItem{{ID: 1, Question: "q", GoldSQL: "SELECT gold"}}, "schema")

	if summary.Matches != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	result := results[0]
	if result.ModelExecOK || result.ResultMatch {
		t.Fatalf("result = %+v", result)
	}
	if result.ModelError == "" {
		t.Fatal("ModelError should be recorded")
	}
	if result.ModelCorrect != nil {
		t.Fatal("ModelCorrect should stay unset without both result sets")
	}
}

func TestRunnerRecordsGoldError(t *testing.T) {
	pipeline := &fakePipeline{outcome: nl2sql.Outcome{SQL: "SELECT model", Validated: true, Attempts: 1}}
	queries := &fakeQueries{
		results: map[string]*warehouse.Result{"SELECT model": rows(1)},
		errs:    map[string]error{"SELECT gold": errors.New("gold is stale")},
	}
	runner := NewRunner(pipeline, queries, nil, discardLogger())

	results, _ := runner.Run(context.Background(),
		[]train.GoldItem{{ID: 1, Question: "q", GoldSQL: "SELECT gold"}}, "schema")

	result := results[0]
	if result.GoldError == "" {
		t.Fatal("GoldError should be recorded")
	}
	if !result.ModelExecOK {
		t.Fatal("model execution should still be attempted")
	}
}

func TestRunnerSurvivesPipelineFailure(t *testing.T) {
	pipeline := &fakePipeline{err: errors.New("provider down")}
	runner := NewRunner(pipeline, &fakeQueries{}, nil, discardLogger())

	results, summary := runner.Run(context.Background(),
		[]train.GoldItem{{ID: 1, Question: "q", GoldSQL: "SELECT gold"}}, "schema")

	if summary.Total != 1 || summary.Matches != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if results[0].ModelError == "" {
		t.Fatal("ModelError should carry the pipeline failure")
	}
}

func TestWriteResultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	n := 3
	correct := true
	input := []ItemResult{{
		ID: 1, Question: "q", GoldSQL: "SELECT gold", ModelSQL: "SELECT model",
		Validated: true, ResultMatch: true, ModelCorrect: &correct, GoldRowCount: &n,
	}}

	if err := WriteResults(path, input); err != nil {
		t.Fatalf("WriteResults() error = %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	var decoded []ItemResult
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(decoded) != 1 || decoded[0].GoldRowCount == nil || *decoded[0].GoldRowCount != 3 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestCalibrationSamplesSkipsUnlabeledItems(t *testing.T) {
	correct := true
	conf := &confidence.Result{Components: map[string]float64{"schema_validity": 1}}
	results := []ItemResult{
		{ModelCorrect: &correct, Confidence: conf},
		{GoldError: "stale", ModelCorrect: &correct, Confidence: conf},
		{Confidence: conf},
		{ModelCorrect: &correct},
	}

	samples := CalibrationSamples(results)
	if len(samples) != 1 {
		t.Fatalf("len(samples) = %d, want 1", len(samples))
	}
	if !samples[0].Correct {
		t.Fatal("sample should be labeled correct")
	}
}
