package knowledge

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// EmbedDim is the embedding dimension stored in the chunks table. Vectors
// of any other dimension are rejected before they reach the database.
const EmbedDim = 768

// EmbedTexts generates one embedding per text through a Genkit embedder,
// preserving input order.
func EmbedTexts(ctx context.Context, embedder ai.Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("generating embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d embeddings for %d texts",
			len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyEmbedding)
		}
		if len(e.Embedding) != EmbedDim {
			return nil, fmt.Errorf("text %d: embedding dimension %d, want %d",
				i, len(e.Embedding), EmbedDim)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// EmbedQuery generates the embedding for one retrieval query.
func EmbedQuery(ctx context.Context, embedder ai.Embedder, query string) ([]float32, error) {
	vectors, err := EmbedTexts(ctx, embedder, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
