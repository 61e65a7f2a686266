package retrieval

import (
	"context"
	"fmt"
)

// Searcher combines query embedding and vector search for the retrieval
// surface consumed by semantic search and insight queries.
type Searcher struct {
	embedder *Embedder
	store    EmbeddingStore
}

// NewSearcher creates a Searcher backed by the given Embedder and store.
func NewSearcher(embedder *Embedder, store EmbeddingStore) *Searcher {
	return &Searcher{embedder: embedder, store: store}
}

// SearchText embeds the query and returns the tenant's top-K most similar
// embeddings. Scores are raw cosine similarity in [-1, 1]; rounding is the
// presentation layer's job.
func (s *Searcher) SearchText(ctx context.Context, userID, query string, limit int) ([]ScoredEmbedding, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.store.Search(userID, vec, limit)
}

// SearchVector runs a similarity search with a caller-supplied vector.
func (s *Searcher) SearchVector(userID string, vector []float32, limit int) ([]ScoredEmbedding, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	return s.store.Search(userID, vector, limit)
}
