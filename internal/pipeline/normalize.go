// Package pipeline holds the stage handlers the job runner dispatches to:
// normalize -> extract_contacts -> embed. Each stage reads upstream data,
// writes downstream data idempotently, and chains the next stage by
// enqueueing one follow-on job per batch.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/praxiscrm/praxis/internal/ingest"
	"github.com/praxiscrm/praxis/internal/runner"
	"github.com/praxiscrm/praxis/internal/storage"
)

// Job types the pipeline registers.
const (
	JobNormalize       = "normalize"
	JobExtractContacts = "extract_contacts"
	JobEmbed           = "embed"
)

// Enqueuer chains follow-on stage jobs, deduplicated per (type, batch).
type Enqueuer interface {
	EnqueueIfAbsent(jobType, payloadJSON, userID, batchID string) (storage.Job, bool, error)
}

// NormalizeStore is the storage slice the normalize stage needs.
type NormalizeStore interface {
	GetRawEvents(userID, batchID, provider string) ([]storage.RawEvent, error)
	UpsertInteraction(i storage.Interaction) (bool, error)
}

type normalizePayload struct {
	BatchID  string `json:"batch_id"`
	Provider string `json:"provider"`
}

// NormalizeHandler converts a batch's raw events into canonical interaction
// records and enqueues the batch's extract_contacts job. Re-running on an
// already-normalized batch is a no-op per record (dedup by source identity).
func NormalizeHandler(store NormalizeStore, queue Enqueuer) runner.HandlerFunc {
	return func(ctx context.Context, job storage.Job) error {
		var payload normalizePayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if payload.BatchID == "" || payload.Provider == "" {
			return fmt.Errorf("payload requires batch_id and provider")
		}

		events, err := store.GetRawEvents(job.UserID, payload.BatchID, payload.Provider)
		if err != nil {
			return fmt.Errorf("loading raw events: %w", err)
		}

		created := 0
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			interaction, err := ingest.MapEvent(ev)
			if err != nil {
				return fmt.Errorf("normalizing event %s: %w", ev.SourceID, err)
			}
			inserted, err := store.UpsertInteraction(interaction)
			if err != nil {
				return fmt.Errorf("saving interaction for %s: %w", ev.SourceID, err)
			}
			if inserted {
				created++
			}
		}

		slog.Debug("batch normalized", "batch_id", payload.BatchID,
			"provider", payload.Provider, "events", len(events), "created", created)

		next, err := json.Marshal(extractPayload{BatchID: payload.BatchID})
		if err != nil {
			return fmt.Errorf("building extract_contacts payload: %w", err)
		}
		if _, _, err := queue.EnqueueIfAbsent(JobExtractContacts, string(next), job.UserID, payload.BatchID); err != nil {
			return fmt.Errorf("enqueueing extract_contacts: %w", err)
		}
		return nil
	}
}
