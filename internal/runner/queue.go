package runner

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/praxiscrm/praxis/internal/storage"
	"github.com/praxiscrm/praxis/internal/telemetry"
)

// ErrUnknownJobType is returned when enqueueing a type with no registered handler.
var ErrUnknownJobType = errors.New("unknown job type")

// ErrInvalidPayload is returned when a payload is not valid JSON.
var ErrInvalidPayload = errors.New("invalid job payload")

// JobStore is the slice of the storage contract the queue and runner use.
type JobStore interface {
	InsertJob(job storage.Job) error
	InsertJobIfAbsent(job storage.Job) (bool, error)
	ClaimJobs(limit int) ([]storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	QueuedDepth() (int, error)
}

// Queue is the append-only enqueue surface. It validates the job type
// against the registered handler set and never blocks on processing.
type Queue struct {
	store       JobStore
	registry    *Registry
	maxAttempts int
}

// NewQueue creates a Queue. maxAttempts <= 0 falls back to the storage default.
func NewQueue(store JobStore, registry *Registry, maxAttempts int) *Queue {
	return &Queue{store: store, registry: registry, maxAttempts: maxAttempts}
}

// Enqueue validates and inserts one queued job. Unknown types and malformed
// payloads are rejected up front and never enter the queue.
func (q *Queue) Enqueue(jobType, payloadJSON, userID, batchID string) (storage.Job, error) {
	job, err := q.build(jobType, payloadJSON, userID, batchID)
	if err != nil {
		return storage.Job{}, err
	}
	if err := q.store.InsertJob(job); err != nil {
		return storage.Job{}, fmt.Errorf("inserting job: %w", err)
	}
	telemetry.EnqueueCounter.Inc()
	return job, nil
}

// EnqueueIfAbsent inserts the job only if no job of the same type exists for
// the batch. Stage handlers use this to chain follow-on jobs idempotently.
// Returns false when an equivalent job already existed.
func (q *Queue) EnqueueIfAbsent(jobType, payloadJSON, userID, batchID string) (storage.Job, bool, error) {
	job, err := q.build(jobType, payloadJSON, userID, batchID)
	if err != nil {
		return storage.Job{}, false, err
	}
	inserted, err := q.store.InsertJobIfAbsent(job)
	if err != nil {
		return storage.Job{}, false, fmt.Errorf("inserting job: %w", err)
	}
	if inserted {
		telemetry.EnqueueCounter.Inc()
	}
	return job, inserted, nil
}

func (q *Queue) build(jobType, payloadJSON, userID, batchID string) (storage.Job, error) {
	if !q.registry.Known(jobType) {
		return storage.Job{}, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	if userID == "" {
		return storage.Job{}, fmt.Errorf("user id is required")
	}
	if payloadJSON == "" {
		payloadJSON = "{}"
	}
	if !json.Valid([]byte(payloadJSON)) {
		return storage.Job{}, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		PayloadJSON: payloadJSON,
		UserID:      userID,
		BatchID:     batchID,
		Status:      storage.JobQueued,
		MaxAttempts: q.maxAttempts,
	}, nil
}
