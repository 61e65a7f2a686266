package storage

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// timeFormat is fixed-width so string comparison of stored timestamps
// matches chronological order during claims. RFC3339Nano would not do:
// it trims trailing fractional zeros, and "...00.5Z" compares greater
// than "...00.55Z".
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultMaxAttempts bounds retries for jobs enqueued without an explicit cap.
const DefaultMaxAttempts = 3

// InsertJob appends a new queued job. Zero-value fields get defaults:
// status queued, attempts 0, max_attempts DefaultMaxAttempts, run_after now.
func (s *Store) InsertJob(job Job) error {
	now := time.Now().UTC()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, user_id, batch_id, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, job.UserID, nullString(job.BatchID),
		maxAttempts, runAfter.Format(timeFormat), now.Format(timeFormat), now.Format(timeFormat),
	)
	return err
}

// InsertJobIfAbsent inserts the job only when no job of the same type exists
// for the same user and batch. It is the dedup primitive stage handlers use
// to chain follow-on jobs idempotently. Returns true when a row was inserted.
func (s *Store) InsertJobIfAbsent(job Job) (bool, error) {
	if job.BatchID == "" {
		return false, fmt.Errorf("batch-scoped insert requires a batch id")
	}
	now := time.Now().UTC()
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	res, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, user_id, batch_id, status, attempts, max_attempts, run_after, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM jobs WHERE type = ? AND user_id = ? AND batch_id = ?
		)`,
		job.ID, job.Type, job.PayloadJSON, job.UserID, job.BatchID,
		maxAttempts, now.Format(timeFormat), now.Format(timeFormat), now.Format(timeFormat),
		job.Type, job.UserID, job.BatchID,
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

// ClaimJobs atomically transitions up to limit eligible queued jobs (oldest
// first) to processing and returns them. The per-row status guard on the
// UPDATE makes a double claim impossible even across overlapping passes.
func (s *Store) ClaimJobs(limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(timeFormat)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, type, payload_json, user_id, batch_id, status, attempts, max_attempts, last_error, run_after, created_at, updated_at
		FROM jobs
		WHERE status = 'queued' AND run_after <= ?
		ORDER BY created_at ASC
		LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting eligible jobs: %w", err)
	}

	candidates, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	var claimed []Job
	for _, j := range candidates {
		res, err := tx.Exec(`UPDATE jobs SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'queued'`, now, j.ID)
		if err != nil {
			return nil, fmt.Errorf("claiming job %s: %w", j.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("checking claim of job %s: %w", j.ID, err)
		}
		if n != 1 {
			continue
		}
		j.Status = JobProcessing
		claimed = append(claimed, j)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return claimed, nil
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job becomes terminally "error" once
// attempts reach the cap; otherwise it is requeued with an exponential
// run_after backoff so the next externally-scheduled pass retries it.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'error', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(timeFormat), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'queued', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(timeFormat), now.Format(timeFormat), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetJob returns a job by ID.
func (s *Store) GetJob(id string) (Job, error) {
	row := s.db.QueryRow(`
		SELECT id, type, payload_json, user_id, batch_id, status, attempts, max_attempts, last_error, run_after, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	return j, err
}

// GetJobsByBatch returns all jobs correlated to one ingestion batch, oldest first.
func (s *Store) GetJobsByBatch(userID, batchID string) ([]Job, error) {
	rows, err := s.db.Query(`
		SELECT id, type, payload_json, user_id, batch_id, status, attempts, max_attempts, last_error, run_after, created_at, updated_at
		FROM jobs WHERE user_id = ? AND batch_id = ?
		ORDER BY created_at ASC`, userID, batchID)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// CountJobsByStatus returns job counts keyed by status.
func (s *Store) CountJobsByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// QueuedDepth returns the number of jobs waiting to be claimed.
func (s *Store) QueuedDepth() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = 'queued'`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var batchID, lastError sql.NullString
	var runAfter, createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.UserID, &batchID, &j.Status,
		&j.Attempts, &j.MaxAttempts, &lastError, &runAfter, &createdAt, &updatedAt)
	if err != nil {
		return Job{}, err
	}
	j.BatchID = batchID.String
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(timeFormat, runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
