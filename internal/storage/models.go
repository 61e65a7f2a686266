package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses. A job only moves forward through
// queued -> processing -> (done | error); FailJob may move an attempt
// back to queued until the attempt cap is reached.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
	JobError      = "error"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	UserID      string
	BatchID     string // empty when the job is not tied to an ingestion batch
	Status      string
	Attempts    int
	MaxAttempts int
	LastError   string
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RawEvent is one externally-sourced record written by an ingestion run.
// The pipeline reads these read-only; dedup key is (provider, user, source).
type RawEvent struct {
	ID          string
	Provider    string
	UserID      string
	BatchID     string
	SourceID    string
	PayloadJSON string
	OccurredAt  time.Time
	CreatedAt   time.Time
}

// Interaction is the canonical record the normalize stage derives from a
// raw event. Participants is a JSON array of {name, email} stored as text.
type Interaction struct {
	ID           string
	UserID       string
	BatchID      string
	Provider     string
	SourceID     string
	Kind         string // "email", "event", "document"
	Title        string
	Body         string
	Participants string
	OccurredAt   time.Time
	CreatedAt    time.Time
}

type Contact struct {
	ID        string
	UserID    string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
