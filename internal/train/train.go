package train

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/vectorstore"
)

// GoldItem is one entry of the gold training/eval set.
type GoldItem struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	GoldSQL  string `json:"gold_sql"`
}

// LoadGoldFile reads and sanity-checks a gold set.
func LoadGoldFile(path string) ([]GoldItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gold file: %w", err)
	}
	var items []GoldItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode gold file: %w", err)
	}
	for i, item := range items {
		if item.Question == "" || item.GoldSQL == "" {
			return nil, fmt.Errorf("gold item %d is missing question or gold_sql", i)
		}
	}
	return items, nil
}

// Trainer embeds the schema document and gold examples into the vector
// store.
type Trainer struct {
	store    *vectorstore.Store
	provider llm.Provider
	logger   *slog.Logger
}

func NewTrainer(store *vectorstore.Store, provider llm.Provider, logger *slog.Logger) *Trainer {
	return &Trainer{store: store, provider: provider, logger: logger}
}

// TrainSchema stores the schema text as a documentation document, replacing
// any previous one.
func (t *Trainer) TrainSchema(ctx context.Context, schemaText string) error {
	if err := t.store.Reset(ctx, vectorstore.KindDocumentation); err != nil {
		return err
	}
	embedding, err := t.provider.Embed(ctx, schemaText)
	if err != nil {
		return fmt.Errorf("embed schema text: %w", err)
	}
	if _, err := t.store.Add(ctx, vectorstore.Document{
		Kind:      vectorstore.KindDocumentation,
		Content:   schemaText,
		Embedding: embedding,
	}); err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "trained schema documentation")
	return nil
}

// TrainExamples replaces all example documents with the given gold set.
// Each question is embedded and stored with its known-good SQL in meta.
func (t *Trainer) TrainExamples(ctx context.Context, items []GoldItem) error {
	if err := t.store.Reset(ctx, vectorstore.KindExample); err != nil {
		return err
	}
	for i, item := range items {
		embedding, err := t.provider.Embed(ctx, item.Question)
		if err != nil {
			return fmt.Errorf("embed example %d: %w", i, err)
		}
		if _, err := t.store.Add(ctx, vectorstore.Document{
			Kind:      vectorstore.KindExample,
			Content:   item.Question,
			Meta:      map[string]string{"sql": item.GoldSQL, "id": fmt.Sprint(item.ID)},
			Embedding: embedding,
		}); err != nil {
			return err
		}
		t.logger.InfoContext(ctx, "trained example",
			slog.Int("n", i+1),
			slog.String("question", truncate(item.Question, 60)),
		)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
