package confidence

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/querypilot/querypilot/internal/nl2sql"
)

func validDiagnostics() nl2sql.Diagnostics {
	return nl2sql.Diagnostics{IsSafe: true, PreflightOK: true}
}

func TestSchemaValidityScore(t *testing.T) {
	if got := SchemaValidityScore(validDiagnostics()); got != 1 {
		t.Fatalf("valid = %v", got)
	}
	if got := SchemaValidityScore(nl2sql.Diagnostics{IsSafe: true, UnknownTables: []string{"X"}}); got != 0 {
		t.Fatalf("unknown table = %v", got)
	}
	if got := SchemaValidityScore(nl2sql.Diagnostics{}); got != 0 {
		t.Fatalf("unsafe = %v", got)
	}
}

func TestStructureScore(t *testing.T) {
	full := "SELECT x FROM t JOIN u ON 1=1 GROUP BY x ORDER BY x"
	if got := StructureScore(full); math.Abs(got-1) > 1e-9 {
		t.Fatalf("full structure = %v", got)
	}
	if got := StructureScore("SELECT 1 FROM t"); math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("partial = %v", got)
	}
	if got := StructureScore(""); got != 0 {
		t.Fatalf("empty = %v", got)
	}
}

func TestSelfAgreementScore(t *testing.T) {
	if got := SelfAgreementScore("select 1", nil); got != 0 {
		t.Fatalf("no variants = %v", got)
	}
	same := SelfAgreementScore("select 1", []string{"select 1", "select 1"})
	if math.Abs(same-1) > 1e-9 {
		t.Fatalf("identical variants = %v", same)
	}
	mixed := SelfAgreementScore("select 1", []string{"select 1", "with x as (select 9) select * from x"})
	if mixed >= same || mixed <= 0 {
		t.Fatalf("mixed variants = %v", mixed)
	}
}

func TestExecutionScore(t *testing.T) {
	cases := []struct {
		ok       bool
		rowCount int
		want     float64
	}{
		{false, 100, 0},
		{true, -1, 0.2},
		{true, 0, 1},
		{true, 42, 1},
		{true, 6_000_000, 0.4},
	}
	for _, tc := range cases {
		if got := ExecutionScore(tc.ok, tc.rowCount); got != tc.want {
			t.Fatalf("ExecutionScore(%v, %d) = %v, want %v", tc.ok, tc.rowCount, got, tc.want)
		}
	}
}

func TestScoreWeightsComponents(t *testing.T) {
	raw, components := Score(Inputs{
		SQL:                 "SELECT x FROM t JOIN u ON 1=1 GROUP BY x ORDER BY x",
		Diagnostics:         validDiagnostics(),
		Variants:            []string{"SELECT x FROM t JOIN u ON 1=1 GROUP BY x ORDER BY x"},
		ExecOK:              true,
		RowCount:            10,
		EmbeddingSimilarity: 1,
	})
	if math.Abs(raw-1) > 1e-9 {
		t.Fatalf("perfect raw = %v", raw)
	}
	for key, value := range components {
		if math.Abs(value-1) > 1e-9 {
			t.Fatalf("component %s = %v", key, value)
		}
	}
}

func TestServiceFallsBackWithoutCalibrator(t *testing.T) {
	svc := NewService(nil)
	result := svc.Compute(Inputs{SQL: "SELECT 1 FROM t", Diagnostics: validDiagnostics()})
	if result.UsedCalibrator {
		t.Fatal("UsedCalibrator should be false")
	}
	if result.Calibrated != result.Raw {
		t.Fatalf("calibrated = %v, raw = %v", result.Calibrated, result.Raw)
	}
}

func TestTrainSeparatesGoodFromBad(t *testing.T) {
	var samples []Sample
	for i := 0; i < 20; i++ {
		samples = append(samples, Sample{
			Components: map[string]float64{
				"schema_validity": 1, "structure": 0.8, "self_agreement": 0.9,
				"execution": 1, "embedding_similarity": 0.7,
			},
			Correct: true,
		})
		samples = append(samples, Sample{
			Components: map[string]float64{
				"schema_validity": 0, "structure": 0.2, "self_agreement": 0.3,
				"execution": 0, "embedding_similarity": 0.1,
			},
			Correct: false,
		})
	}

	calibrator, err := Train(samples)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	good, ok := calibrator.Predict(samples[0].Components)
	if !ok {
		t.Fatal("Predict() should succeed for good sample")
	}
	bad, ok := calibrator.Predict(samples[1].Components)
	if !ok {
		t.Fatal("Predict() should succeed for bad sample")
	}
	if good <= 0.5 || bad >= 0.5 {
		t.Fatalf("good = %v, bad = %v", good, bad)
	}
}

func TestCalibratorRoundTripAndFallback(t *testing.T) {
	samples := []Sample{
		{Components: map[string]float64{"schema_validity": 1, "structure": 1, "self_agreement": 1, "execution": 1, "embedding_similarity": 1}, Correct: true},
		{Components: map[string]float64{"schema_validity": 0, "structure": 0, "self_agreement": 0, "execution": 0, "embedding_similarity": 0}, Correct: false},
	}
	calibrator, err := Train(samples)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "calibrator.json")
	if err := calibrator.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := LoadCalibrator(path)
	if err != nil {
		t.Fatalf("LoadCalibrator() error = %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadCalibrator() returned nil for existing file")
	}

	want, _ := calibrator.Predict(samples[0].Components)
	got, ok := loaded.Predict(samples[0].Components)
	if !ok || math.Abs(got-want) > 1e-9 {
		t.Fatalf("loaded predict = %v, want %v", got, want)
	}

	if _, ok := loaded.Predict(map[string]float64{"schema_validity": 1}); ok {
		t.Fatal("missing features should disable calibration")
	}
	if _, ok := loaded.Predict(map[string]float64{
		"schema_validity": math.NaN(), "structure": 0, "self_agreement": 0, "execution": 0, "embedding_similarity": 0,
	}); ok {
		t.Fatal("NaN features should disable calibration")
	}
}

func TestLoadCalibratorMissingFileIsNotAnError(t *testing.T) {
	calibrator, err := LoadCalibrator(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadCalibrator() error = %v", err)
	}
	if calibrator != nil {
		t.Fatal("missing file should yield nil calibrator")
	}
}
