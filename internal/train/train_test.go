package train

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/vectorstore"
)

type stubProvider struct{ dims int }

func (p *stubProvider) Chat(_ context.Context, _ []llm.Message) (llm.Completion, error) {
	return llm.Completion{Content: "SELECT 1"}, nil
}

func (p *stubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)
	for i := range vec {
		vec[i] = float32(len(text)%7) + float32(i)
	}
	return vec, nil
}

func (p *stubProvider) Model() string { return "stub" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeGoldFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gold.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write gold file: %v", err)
	}
	return path
}

func TestLoadGoldFile(t *testing.T) {
	path := writeGoldFile(t, `[
		{"id": 1, "question": "total sales by year", "gold_sql": "SELECT 1"},
		{"id": 2, "question": "top products", "gold_sql": "SELECT 2"}
	]`)

	items, err := LoadGoldFile(path)
	if err != nil {
		t.Fatalf("LoadGoldFile() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Question != "total sales by year" {
		t.Fatalf("Question = %q", items[0].Question)
	}
}

func TestLoadGoldFileRejectsIncompleteItems(t *testing.T) {
	path := writeGoldFile(t, `[{"id": 1, "question": "missing sql"}]`)
	if _, err := LoadGoldFile(path); err == nil {
		t.Fatal("LoadGoldFile() expected error")
	}
}

func TestTrainExamplesPopulatesStore(t *testing.T) {
	ctx := context.Background()
	store, err := vectorstore.Open(ctx, filepath.Join(t.TempDir(), "vec.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	trainer := NewTrainer(store, &stubProvider{dims: 4}, discardLogger())
	items := []GoldItem{
		{ID: 1, Question: "total sales by year", GoldSQL: "SELECT 1"},
		{ID: 2, Question: "top products", GoldSQL: "SELECT 2"},
	}
	if err := trainer.TrainExamples(ctx, items); err != nil {
		t.Fatalf("TrainExamples() error = %v", err)
	}

	n, err := store.Count(ctx, vectorstore.KindExample)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Count() = %d, want 2", n)
	}
}

func TestTrainExamplesReplacesPreviousRun(t *testing.T) {
	ctx := context.Background()
	store, err := vectorstore.Open(ctx, filepath.Join(t.TempDir(), "vec.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	trainer := NewTrainer(store, &stubProvider{dims: 4}, discardLogger())
	first := []GoldItem{{ID: 1, Question: "old", GoldSQL: "SELECT 1"}}
	if err := trainer.TrainExamples(ctx, first); err != nil {
		t.Fatalf("first TrainExamples() error = %v", err)
	}
	second := []GoldItem{
		{ID: 2, Question: "new a", GoldSQL: "SELECT 2"},
		{ID: 3, Question: "new b", GoldSQL: "SELECT 3"},
	}
	if err := trainer.TrainExamples(ctx, second); err != nil {
		t.Fatalf("second TrainExamples() error = %v", err)
	}

	n, err := store.Count(ctx, vectorstore.KindExample)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Count() = %d, want 2 after retrain", n)
	}
}

func TestTrainSchemaStoresOneDocument(t *testing.T) {
	ctx := context.Background()
	store, err := vectorstore.Open(ctx, filepath.Join(t.TempDir(), "vec.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	trainer := NewTrainer(store, &stubProvider{dims: 4}, discardLogger())
	if err := trainer.TrainSchema(ctx, "- DimDate: DateKey\n"); err != nil {
		t.Fatalf("TrainSchema() error = %v", err)
	}
	if err := trainer.TrainSchema(ctx, "- DimDate: DateKey, CalendarYear\n"); err != nil {
		t.Fatalf("second TrainSchema() error = %v", err)
	}

	n, err := store.Count(ctx, vectorstore.KindDocumentation)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}
}
