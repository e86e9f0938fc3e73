package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/llm"
)

// Retriever finds the nearest known-good examples for a question. Optional,
// a nil retriever just produces zero-shot prompts.
type Retriever interface {
	SimilarExamples(ctx context.Context, question string, topK int) ([]Example, error)
}

// Generator turns questions into SQL candidates using the model provider
// plus retrieved context.
type Generator struct {
	provider  llm.Provider
	retriever Retriever
	topK      int
}

func NewGenerator(provider llm.Provider, retriever Retriever, topK int) *Generator {
	if topK <= 0 {
		topK = 5
	}
	return &Generator{provider: provider, retriever: retriever, topK: topK}
}

// Generate produces a first-pass SQL candidate for the question.
func (g *Generator) Generate(ctx context.Context, question, schemaText string) (string, error) {
	var examples []Example
	if g.retriever != nil {
		found, err := g.retriever.SimilarExamples(ctx, question, g.topK)
		if err == nil {
			examples = found
		}
		// Retrieval failures degrade to a zero-shot prompt.
	}

	prompt := BuildGenerationPrompt(question, schemaText, examples)
	return g.complete(ctx, prompt)
}

// Repair asks the model to fix a statement that failed validation.
func (g *Generator) Repair(ctx context.Context, question, badSQL string, diag Diagnostics, schemaText string) (string, error) {
	prompt := BuildRepairPrompt(question, badSQL, diag, schemaText)
	sql, err := g.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(sql), " "), nil
}

// GenerateVariants samples extra candidates for self-agreement scoring. A
// partial failure returns whatever succeeded.
func (g *Generator) GenerateVariants(ctx context.Context, question, schemaText string, n int) ([]string, error) {
	var variants []string
	for i := 0; i < n; i++ {
		sql, err := g.Generate(ctx, question, schemaText)
		if err != nil {
			if len(variants) > 0 {
				return variants, nil
			}
			return nil, err
		}
		variants = append(variants, sql)
	}
	return variants, nil
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	completion, err := g.provider.Chat(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}
	sql := StripMarkdown(completion.Content)
	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	return sql, nil
}

// StripMarkdown removes a ```sql fence if the model wrapped its answer in
// one.
func StripMarkdown(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
