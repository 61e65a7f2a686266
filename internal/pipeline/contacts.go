package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/praxiscrm/praxis/internal/ingest"
	"github.com/praxiscrm/praxis/internal/runner"
	"github.com/praxiscrm/praxis/internal/storage"
)

// ContactStore is the storage slice the extract_contacts stage needs.
type ContactStore interface {
	GetInteractionsByBatch(userID, batchID string) ([]storage.Interaction, error)
	UpsertContact(c storage.Contact) (bool, error)
}

type extractPayload struct {
	BatchID string `json:"batch_id"`
}

// ExtractContactsHandler scans a batch's interactions for participant
// identities, merges them into the contact book by email, and enqueues the
// batch's embed job. Already-matched identities never duplicate a contact.
func ExtractContactsHandler(store ContactStore, queue Enqueuer) runner.HandlerFunc {
	return func(ctx context.Context, job storage.Job) error {
		var payload extractPayload
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

		created := 0
		seen := make(map[string]bool)
		for _, interaction := range interactions {
			if err := ctx.Err(); err != nil {
				return err
			}
			var participants []ingest.Participant
			if err := json.Unmarshal([]byte(interaction.Participants), &participants); err != nil {
				return fmt.Errorf("parsing participants of %s: %w", interaction.ID, err)
			}
			for _, p := range participants {
				email := strings.ToLower(strings.TrimSpace(p.Email))
				// Identities without an email have no merge key; skip them
				// rather than accumulate unmatchable rows.
				if email == "" || !strings.Contains(email, "@") {
					continue
				}
				if seen[email] {
					continue
				}
				seen[email] = true

				inserted, err := store.UpsertContact(storage.Contact{
					ID:     uuid.New().String(),
					UserID: job.UserID,
					Name:   p.Name,
					Email:  email,
				})
				if err != nil {
					return fmt.Errorf("merging contact %s: %w", email, err)
				}
				if inserted {
					created++
				}
			}
		}

		slog.Debug("batch contacts extracted", "batch_id", payload.BatchID,
			"interactions", len(interactions), "created", created)

		next, err := json.Marshal(embedPayload{BatchID: payload.BatchID})
		if err != nil {
			return fmt.Errorf("building embed payload: %w", err)
		}
		if _, _, err := queue.EnqueueIfAbsent(JobEmbed, string(next), job.UserID, payload.BatchID); err != nil {
			return fmt.Errorf("enqueueing embed: %w", err)
		}
		return nil
	}
}
