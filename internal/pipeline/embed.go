package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/praxiscrm/praxis/internal/retrieval"
	"github.com/praxiscrm/praxis/internal/runner"
	"github.com/praxiscrm/praxis/internal/storage"
)

// chunkRunes bounds one embedding input. Interactions longer than this are
// split into ordered chunks addressed by chunk_index.
const chunkRunes = 1200

// snippetRunes bounds the preview stored in embedding meta.
const snippetRunes = 160

// EmbedStore is the storage slice the embed stage needs.
type EmbedStore interface {
	GetInteractionsByBatch(userID, batchID string) ([]storage.Interaction, error)
}

// BatchEmbedder turns a batch of texts into vectors.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type embedPayload struct {
	BatchID string `json:"batch_id"`
}

type embedMeta struct {
	Kind    string `json:"kind"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// EmbedHandler embeds the text of a batch's interactions. Interactions whose
// chunk hashes are all stored already are skipped before any provider call,
// so re-running a batch with unchanged content writes nothing and costs no
// embedding requests. Changed content is re-embedded and the owner's stale
// rows are deleted, keeping exactly one vector set per interaction.
func EmbedHandler(store EmbedStore, vectors retrieval.EmbeddingStore, embedder BatchEmbedder) runner.HandlerFunc {
	return func(ctx context.Context, job storage.Job) error {
		var payload embedPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if payload.BatchID == "" {
			return fmt.Errorf("payload requires batch_id")
		}

		interactions, err := store.GetInteractionsByBatch(job.UserID, payload.BatchID)
		if err != nil {
			return fmt.Errorf("loading interactions: %w", err)
		}

		// Collect the interactions whose current chunk set is not fully
		// stored yet. A changed interaction is re-embedded whole so its
		// stale rows can be dropped in one sweep.
		var pending []retrieval.Embedding
		var texts []string
		var refreshed []string
		for _, interaction := range interactions {
			text := interactionText(interaction)
			if text == "" {
				continue
			}
			chunks := chunkText(text, chunkRunes)
			hashes := make([]string, len(chunks))
			covered := true
			for idx, chunk := range chunks {
				hashes[idx] = contentHash(chunk)
				exists, err := vectors.HasContent("interaction", interaction.ID, idx, hashes[idx])
				if err != nil {
					return fmt.Errorf("checking embedding for %s: %w", interaction.ID, err)
				}
				if !exists {
					covered = false
				}
			}
			if covered {
				continue
			}
			meta := metaJSON(interaction, text)
			for idx, chunk := range chunks {
				pending = append(pending, retrieval.Embedding{
					ID:          uuid.New().String(),
					UserID:      job.UserID,
					OwnerType:   "interaction",
					OwnerID:     interaction.ID,
					ChunkIndex:  idx,
					ContentHash: hashes[idx],
					Meta:        meta,
				})
				texts = append(texts, chunk)
			}
			refreshed = append(refreshed, interaction.ID)
		}

		if len(pending) == 0 {
			slog.Debug("batch already embedded", "batch_id", payload.BatchID)
			return nil
		}

		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}
		for i := range pending {
			pending[i].Vector = vecs[i]
		}

		// Superseded rows go only after the provider call succeeds, so a
		// failed attempt leaves the previous vectors searchable.
		for _, ownerID := range refreshed {
			if err := vectors.DeleteOwner("interaction", ownerID); err != nil {
				return fmt.Errorf("removing stale embeddings for %s: %w", ownerID, err)
			}
		}

		inserted, err := vectors.Upsert(pending)
		if err != nil {
			return fmt.Errorf("storing embeddings: %w", err)
		}

		slog.Debug("batch embedded", "batch_id", payload.BatchID,
			"chunks", len(pending), "inserted", inserted)
		return nil
	}
}

func interactionText(i storage.Interaction) string {
	title := strings.TrimSpace(i.Title)
	body := strings.TrimSpace(i.Body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + "\n\n" + body
	}
}

func metaJSON(i storage.Interaction, text string) string {
	snippet := text
	if runes := []rune(snippet); len(runes) > snippetRunes {
		snippet = string(runes[:snippetRunes])
	}
	b, err := json.Marshal(embedMeta{Kind: i.Kind, Title: i.Title, Snippet: snippet})
	if err != nil {
		return "{}"
	}
	return string(b)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// chunkText splits text into rune-bounded chunks, preferring to break at a
// newline or space near the limit so chunks stay readable.
func chunkText(text string, maxRunes int) []string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxRunes {
			chunks = append(chunks, strings.TrimSpace(string(runes)))
			break
		}
		cut := maxRunes
		for i := maxRunes; i > maxRunes/2; i-- {
			if runes[i] == '\n' || runes[i] == ' ' {
				cut = i
				break
			}
		}
		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}
	return chunks
}
