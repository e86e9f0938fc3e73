package nl2sql

import (
	"context"
	"fmt"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/vectorstore"
)

// VectorRetriever embeds the question and finds the closest trained
// examples in the vector store.
type VectorRetriever struct {
	store    *vectorstore.Store
	provider llm.Provider
}

func NewVectorRetriever(store *vectorstore.Store, provider llm.Provider) *VectorRetriever {
	return &VectorRetriever{store: store, provider: provider}
}

func (r *VectorRetriever) SimilarExamples(ctx context.Context, question string, topK int) ([]Example, error) {
	embedding, err := r.provider.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	matches, err := r.store.Search(ctx, embedding, vectorstore.KindExample, topK)
	if err != nil {
		return nil, err
	}

	examples := make([]Example, 0, len(matches))
	for _, m := range matches {
		examples = append(examples, Example{
			Question: m.Document.Content,
			SQL:      m.Document.Meta["sql"],
			Score:    m.Score,
		})
	}
	return examples, nil
}
