package retrieval

import (
	"context"
	"time"
)

// EmbeddingStore is the contract between the embed pipeline stage and the
// similarity-search path. The natural key (owner_type, owner_id,
// chunk_index, content_hash) makes Upsert idempotent: re-embedding identical
// content is a no-op, changed content lands under a new hash and the caller
// supersedes stale rows.
//
// Search is exact top-K by cosine similarity over the caller's tenant; a
// faster index may replace the scan but must not change result semantics.
type EmbeddingStore interface {
	// Upsert writes embedding rows, skipping rows whose natural key already
	// exists. Returns the number of rows actually inserted.
	Upsert(records []Embedding) (int, error)

	// HasContent reports whether a row for the natural key already exists.
	HasContent(ownerType, ownerID string, chunkIndex int, contentHash string) (bool, error)

	// DeleteOwner removes every row belonging to one owning entity, used to
	// supersede stale vectors once changed content has been re-embedded.
	DeleteOwner(ownerType, ownerID string) error

	// Search returns the top-K most similar embeddings belonging to userID,
	// in descending score order. Ties break by most-recent created_at.
	Search(userID string, vector []float32, limit int) ([]ScoredEmbedding, error)

	// Count returns the number of embeddings stored for a user.
	Count(userID string) (int, error)
}

// Embedding is one fixed-dimension vector keyed by its owning entity.
// Meta is opaque JSON the presentation layer may surface (title, snippet).
type Embedding struct {
	ID          string
	UserID      string
	OwnerType   string
	OwnerID     string
	ChunkIndex  int
	ContentHash string
	Vector      []float32
	Meta        string
	CreatedAt   time.Time
}

// ScoredEmbedding is an Embedding with a cosine similarity score in [-1, 1].
type ScoredEmbedding struct {
	Embedding
	Score float32
}

// TextEmbedder turns text into a fixed-dimension vector. Implemented by the
// provider client; the search path and the embed stage both depend on it.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
