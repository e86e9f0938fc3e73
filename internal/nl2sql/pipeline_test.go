package nl2sql

import (
	"context"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/llm"
)

// scriptedProvider returns canned completions in order, cycling on the last
// one.
type scriptedProvider struct {
	responses []string
	calls     int
	prompts   []string
}

func (p *scriptedProvider) Chat(_ context.Context, messages []llm.Message) (llm.Completion, error) {
	p.prompts = append(p.prompts, messages[len(messages)-1].Content)
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return llm.Completion{Content: p.responses[idx]}, nil
}

func (p *scriptedProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (p *scriptedProvider) Model() string { return "scripted" }

func TestPipelineReturnsOnFirstValidAttempt(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"SELECT SalesAmount FROM FactInternetSales"}}
	gen := NewGenerator(provider, nil, 5)
	v := NewValidator(newFakeSchema(), nil, false)
	pipeline := NewPipeline(gen, v, 3)

	outcome, err := pipeline.Run(context.Background(), "total sales", "schema")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Validated || outcome.Repaired {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Attempts != 1 || len(outcome.History) != 1 {
		t.Fatalf("attempts = %d, history = %d", outcome.Attempts, len(outcome.History))
	}
}

func TestPipelineRepairsInvalidSQL(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		"SELECT * FROM FactSales",
		"SELECT SalesAmount FROM FactInternetSales",
	}}
	gen := NewGenerator(provider, nil, 5)
	v := NewValidator(newFakeSchema(), nil, false)
	pipeline := NewPipeline(gen, v, 3)

	outcome, err := pipeline.Run(context.Background(), "total sales", "schema")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Validated || !outcome.Repaired {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Attempts != 2 || len(outcome.History) != 2 {
		t.Fatalf("attempts = %d, history = %d", outcome.Attempts, len(outcome.History))
	}
	if !strings.Contains(provider.prompts[1], "Unknown tables: FactSales") {
		t.Fatal("repair prompt should carry the error summary")
	}
}

func TestPipelineKeepsLastSQLOnTotalFailure(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"SELECT * FROM NoSuchTable"}}
	gen := NewGenerator(provider, nil, 5)
	v := NewValidator(newFakeSchema(), nil, false)
	pipeline := NewPipeline(gen, v, 3)

	outcome, err := pipeline.Run(context.Background(), "total sales", "schema")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Validated {
		t.Fatal("outcome should not validate")
	}
	if outcome.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", outcome.Attempts)
	}
	if outcome.SQL == "" {
		t.Fatal("last attempted SQL should be preserved")
	}
}

func TestGeneratorStripsMarkdownFences(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"```sql\nSELECT 1\n```"}}
	gen := NewGenerator(provider, nil, 5)

	sql, err := gen.Generate(context.Background(), "q", "schema")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if sql != "SELECT 1" {
		t.Fatalf("sql = %q", sql)
	}
}

type staticRetriever struct{ examples []Example }

func (r *staticRetriever) SimilarExamples(_ context.Context, _ string, _ int) ([]Example, error) {
	return r.examples, nil
}

func TestGeneratorIncludesRetrievedExamples(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"SELECT 1"}}
	retriever := &staticRetriever{examples: []Example{
		{Question: "total sales by year", SQL: "SELECT CalendarYear, SUM(SalesAmount) FROM FactInternetSales"},
	}}
	gen := NewGenerator(provider, retriever, 5)

	if _, err := gen.Generate(context.Background(), "sales per year", "schema"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(provider.prompts[0], "total sales by year") {
		t.Fatal("prompt should include the retrieved example question")
	}
	if !strings.Contains(provider.prompts[0], "SIMILAR KNOWN-GOOD EXAMPLES") {
		t.Fatal("prompt should label the example section")
	}
}

func TestBuildRepairPromptAddsQuestionHints(t *testing.T) {
	prompt := BuildRepairPrompt(
		"Compare Internet and Reseller sales amount by calendar year",
		"SELECT 1",
		Diagnostics{UnknownTables: []string{"DateRange"}},
		"schema",
	)
	if !strings.Contains(prompt, "UNION ALL") {
		t.Fatal("internet/reseller hint missing")
	}
	if !strings.Contains(prompt, "'DateRange' should be a CTE") {
		t.Fatal("unknown-table hint missing")
	}
}

func TestGenerateVariantsReturnsRequestedCount(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"SELECT 1"}}
	gen := NewGenerator(provider, nil, 5)

	variants, err := gen.GenerateVariants(context.Background(), "q", "schema", 3)
	if err != nil {
		t.Fatalf("GenerateVariants() error = %v", err)
	}
	if len(variants) != 3 {
		t.Fatalf("len(variants) = %d", len(variants))
	}
}
