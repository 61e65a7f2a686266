package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertRawEvents appends raw events, skipping any whose
// (provider, user, source) key already exists. Returns the number inserted.
func (s *Store) InsertRawEvents(events []RawEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO raw_events (id, provider, user_id, batch_id, source_id, payload_json, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, user_id, source_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, ev := range events {
		occurredAt := ev.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		res, err := stmt.Exec(ev.ID, ev.Provider, ev.UserID, ev.BatchID, ev.SourceID,
			ev.PayloadJSON, occurredAt.UTC().Format(timeFormat), time.Now().UTC().Format(timeFormat))
		if err != nil {
			return 0, fmt.Errorf("inserting raw event %s: %w", ev.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetRawEvents returns the raw events of one ingestion batch for a provider,
// oldest occurrence first.
func (s *Store) GetRawEvents(userID, batchID, provider string) ([]RawEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, provider, user_id, batch_id, source_id, payload_json, occurred_at, created_at
		FROM raw_events
		WHERE user_id = ? AND batch_id = ? AND provider = ?
		ORDER BY occurred_at ASC`, userID, batchID, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RawEvent
	for rows.Next() {
		var ev RawEvent
		var occurredAt, createdAt string
		if err := rows.Scan(&ev.ID, &ev.Provider, &ev.UserID, &ev.BatchID, &ev.SourceID,
			&ev.PayloadJSON, &occurredAt, &createdAt); err != nil {
			return nil, err
		}
		if ev.OccurredAt, err = time.Parse(timeFormat, occurredAt); err != nil {
			return nil, fmt.Errorf("parsing occurred_at for event %s: %w", ev.ID, err)
		}
		if ev.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for event %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountRawEvents returns the number of raw events in a batch across providers.
func (s *Store) CountRawEvents(userID, batchID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM raw_events WHERE user_id = ? AND batch_id = ?`,
		userID, batchID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
