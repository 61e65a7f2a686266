package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/praxiscrm/praxis/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func noopHandler(ctx context.Context, job storage.Job) error { return nil }

func TestEnqueueUnknownType(t *testing.T) {
	store := openTestStore(t)
	reg := NewRegistry()
	q := NewQueue(store, reg, 3)

	_, err := q.Enqueue("bogus", "{}", "u1", "")
	if !errors.Is(err, ErrUnknownJobType) {
		t.Errorf("Enqueue(bogus) = %v, want ErrUnknownJobType", err)
	}

	depth, err := store.QueuedDepth()
	if err != nil {
		t.Fatalf("QueuedDepth: %v", err)
	}
	if depth != 0 {
		t.Errorf("queue depth = %d after rejected enqueue, want 0", depth)
	}
}

func TestEnqueueInvalidPayload(t *testing.T) {
	store := openTestStore(t)
	reg := NewRegistry()
	reg.Register("work", noopHandler)
	q := NewQueue(store, reg, 3)

	_, err := q.Enqueue("work", "{not json", "u1", "")
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Enqueue with bad payload = %v, want ErrInvalidPayload", err)
	}
}

func TestEnqueueRequiresUser(t *testing.T) {
	store := openTestStore(t)
	reg := NewRegistry()
	reg.Register("work", noopHandler)
	q := NewQueue(store, reg, 3)

	if _, err := q.Enqueue("work", "{}", "", ""); err == nil {
		t.Error("expected error for missing user id")
	}
}

func TestEnqueueDefaultsPayload(t *testing.T) {
	store := openTestStore(t)
	reg := NewRegistry()
	reg.Register("work", noopHandler)
	q := NewQueue(store, reg, 3)

	job, err := q.Enqueue("work", "", "u1", "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.PayloadJSON != "{}" {
		t.Errorf("PayloadJSON = %q, want {}", job.PayloadJSON)
	}

	stored, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != storage.JobQueued {
		t.Errorf("Status = %q, want %q", stored.Status, storage.JobQueued)
	}
}

func TestEnqueueIfAbsentDedup(t *testing.T) {
	store := openTestStore(t)
	reg := NewRegistry()
	reg.Register("embed", noopHandler)
	q := NewQueue(store, reg, 3)

	_, inserted, err := q.EnqueueIfAbsent("embed", "{}", "u1", "b1")
	if err != nil {
		t.Fatalf("first EnqueueIfAbsent: %v", err)
	}
	if !inserted {
		t.Fatal("first enqueue should insert")
	}

	_, inserted, err = q.EnqueueIfAbsent("embed", "{}", "u1", "b1")
	if err != nil {
		t.Fatalf("second EnqueueIfAbsent: %v", err)
	}
	if inserted {
		t.Error("second enqueue for the same batch should be a no-op")
	}

	depth, err := store.QueuedDepth()
	if err != nil {
		t.Fatalf("QueuedDepth: %v", err)
	}
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestRegistryTypes(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", noopHandler)
	reg.Register("a", noopHandler)

	if !reg.Known("a") || !reg.Known("b") {
		t.Error("registered types should be known")
	}
	if reg.Known("c") {
		t.Error("unregistered type should not be known")
	}

	types := reg.Types()
	if len(types) != 2 || types[0] != "a" || types[1] != "b" {
		t.Errorf("Types() = %v, want [a b]", types)
	}
}
