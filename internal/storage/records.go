package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertInteraction inserts a canonical interaction unless one already exists
// for the same (provider, user, source) key. This is the idempotency
// primitive normalize relies on: re-running a batch is a no-op per record.
// Returns true when a row was inserted.
func (s *Store) UpsertInteraction(i Interaction) (bool, error) {
	occurredAt := i.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	participants := i.Participants
	if participants == "" {
		participants = "[]"
	}
	res, err := s.db.Exec(`
		INSERT INTO interactions (id, user_id, batch_id, provider, source_id, kind, title, body, participants, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, user_id, source_id) DO NOTHING`,
		i.ID, i.UserID, i.BatchID, i.Provider, i.SourceID, i.Kind, i.Title, i.Body,
		participants, occurredAt.UTC().Format(timeFormat), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetInteraction returns one canonical interaction by ID.
func (s *Store) GetInteraction(id string) (Interaction, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, batch_id, provider, source_id, kind, title, body, participants, occurred_at, created_at
		FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// GetInteractionsByBatch returns the canonical interactions derived from one
// ingestion batch, oldest occurrence first.
func (s *Store) GetInteractionsByBatch(userID, batchID string) ([]Interaction, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, batch_id, provider, source_id, kind, title, body, participants, occurred_at, created_at
		FROM interactions WHERE user_id = ? AND batch_id = ?
		ORDER BY occurred_at ASC`, userID, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

func scanInteraction(row rowScanner) (Interaction, error) {
	var i Interaction
	var occurredAt, createdAt string
	err := row.Scan(&i.ID, &i.UserID, &i.BatchID, &i.Provider, &i.SourceID, &i.Kind,
		&i.Title, &i.Body, &i.Participants, &occurredAt, &createdAt)
	if err != nil {
		return Interaction{}, err
	}
	if i.OccurredAt, err = time.Parse(timeFormat, occurredAt); err != nil {
		return Interaction{}, fmt.Errorf("parsing occurred_at for interaction %s: %w", i.ID, err)
	}
	if i.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at for interaction %s: %w", i.ID, err)
	}
	return i, nil
}
