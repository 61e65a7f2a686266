package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestJob(t *testing.T, s *Store, id, jobType string) {
	t.Helper()
	err := s.InsertJob(Job{
		ID:          id,
		Type:        jobType,
		PayloadJSON: "{}",
		UserID:      "u1",
	})
	if err != nil {
		t.Fatalf("InsertJob(%s): %v", id, err)
	}
}

func TestInsertJobDefaults(t *testing.T) {
	s := openTestStore(t)
	insertTestJob(t, s, "j1", "normalize")

	job, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != JobQueued {
		t.Errorf("Status = %q, want %q", job.Status, JobQueued)
	}
	if job.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", job.Attempts)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", job.MaxAttempts, DefaultMaxAttempts)
	}
	if job.RunAfter.IsZero() {
		t.Error("RunAfter should default to insertion time")
	}
}

// TestClaimJobsOldestFirst verifies claim order follows creation order, not
// insertion luck, so earlier work is never starved by later work.
func TestClaimJobsOldestFirst(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		insertTestJob(t, s, fmt.Sprintf("j%d", i), "normalize")
		time.Sleep(time.Millisecond)
	}

	claimed, err := s.ClaimJobs(3)
	if err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d jobs, want 3", len(claimed))
	}
	for i, j := range claimed {
		want := fmt.Sprintf("j%d", i)
		if j.ID != want {
			t.Errorf("claimed[%d].ID = %q, want %q", i, j.ID, want)
		}
		if j.Status != JobProcessing {
			t.Errorf("claimed[%d].Status = %q, want %q", i, j.Status, JobProcessing)
		}
	}
}

// TestClaimJobsExclusive verifies a claimed job cannot be claimed again.
func TestClaimJobsExclusive(t *testing.T) {
	s := openTestStore(t)
	insertTestJob(t, s, "j1", "normalize")

	first, err := s.ClaimJobs(10)
	if err != nil {
		t.Fatalf("first ClaimJobs: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first claim got %d jobs, want 1", len(first))
	}

	second, err := s.ClaimJobs(10)
	if err != nil {
		t.Fatalf("second ClaimJobs: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second claim got %d jobs, want 0", len(second))
	}
}

// TestClaimJobsConcurrent runs overlapping claim passes and verifies no job
// is handed out twice.
func TestClaimJobsConcurrent(t *testing.T) {
	s := openTestStore(t)

	const total = 20
	for i := 0; i < total; i++ {
		insertTestJob(t, s, fmt.Sprintf("j%02d", i), "normalize")
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.ClaimJobs(3)
				if err != nil {
					t.Errorf("ClaimJobs: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, j := range claimed {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("claimed %d distinct jobs, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times, want 1", id, n)
		}
	}
}

func TestClaimJobsRespectsRunAfter(t *testing.T) {
	s := openTestStore(t)

	err := s.InsertJob(Job{
		ID:       "future",
		Type:     "normalize",
		UserID:   "u1",
		RunAfter: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	claimed, err := s.ClaimJobs(10)
	if err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d jobs, want 0 (run_after in the future)", len(claimed))
	}
}

// TestFailJobRequeues verifies a failure below the attempt cap goes back to
// queued with the attempt count and error recorded, and with a backoff delay.
func TestFailJobRequeues(t *testing.T) {
	s := openTestStore(t)
	insertTestJob(t, s, "j1", "normalize")

	if _, err := s.ClaimJobs(1); err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	before := time.Now().UTC()
	if err := s.FailJob("j1", "provider unavailable"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	job, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != JobQueued {
		t.Errorf("Status = %q, want %q", job.Status, JobQueued)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", job.Attempts)
	}
	if job.LastError != "provider unavailable" {
		t.Errorf("LastError = %q, want %q", job.LastError, "provider unavailable")
	}
	if !job.RunAfter.After(before) {
		t.Errorf("RunAfter = %v, want after %v (backoff)", job.RunAfter, before)
	}

	// The requeued job is not eligible until the backoff elapses.
	claimed, err := s.ClaimJobs(1)
	if err != nil {
		t.Fatalf("ClaimJobs after fail: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d jobs during backoff, want 0", len(claimed))
	}
}

// TestFailJobTerminal verifies a job whose attempts reach the cap becomes
// terminally "error" and is never claimed again.
func TestFailJobTerminal(t *testing.T) {
	s := openTestStore(t)
	insertTestJob(t, s, "j1", "normalize")

	for i := 0; i < DefaultMaxAttempts; i++ {
		// Make the job immediately eligible regardless of backoff.
		if _, err := s.db.Exec(`UPDATE jobs SET run_after = ? WHERE id = 'j1'`,
			time.Now().UTC().Add(-time.Minute).Format(timeFormat)); err != nil {
			t.Fatalf("resetting run_after: %v", err)
		}
		claimed, err := s.ClaimJobs(1)
		if err != nil {
			t.Fatalf("ClaimJobs (attempt %d): %v", i+1, err)
		}
		if len(claimed) != 1 {
			t.Fatalf("attempt %d: claimed %d jobs, want 1", i+1, len(claimed))
		}
		if err := s.FailJob("j1", fmt.Sprintf("failure %d", i+1)); err != nil {
			t.Fatalf("FailJob (attempt %d): %v", i+1, err)
		}
	}

	job, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != JobError {
		t.Errorf("Status = %q, want %q", job.Status, JobError)
	}
	if job.Attempts != DefaultMaxAttempts {
		t.Errorf("Attempts = %d, want %d", job.Attempts, DefaultMaxAttempts)
	}
	if job.LastError == "" {
		t.Error("LastError should be recorded on terminal failure")
	}

	if _, err := s.db.Exec(`UPDATE jobs SET run_after = ? WHERE id = 'j1'`,
		time.Now().UTC().Add(-time.Minute).Format(timeFormat)); err != nil {
		t.Fatalf("resetting run_after: %v", err)
	}
	claimed, err := s.ClaimJobs(1)
	if err != nil {
		t.Fatalf("ClaimJobs after terminal failure: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d jobs after terminal failure, want 0", len(claimed))
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	insertTestJob(t, s, "j1", "normalize")

	if _, err := s.ClaimJobs(1); err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	job, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != JobDone {
		t.Errorf("Status = %q, want %q", job.Status, JobDone)
	}
	if job.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 (success does not consume an attempt)", job.Attempts)
	}
}

func TestCompleteJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.CompleteJob("missing"); err != ErrNotFound {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}
}

// TestInsertJobIfAbsent verifies the per-batch dedup primitive: a second job
// of the same type for the same user and batch is not inserted.
func TestInsertJobIfAbsent(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j1", Type: "embed", PayloadJSON: "{}", UserID: "u1", BatchID: "b1"}
	inserted, err := s.InsertJobIfAbsent(job)
	if err != nil {
		t.Fatalf("first InsertJobIfAbsent: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should report inserted=true")
	}

	job.ID = "j2"
	inserted, err = s.InsertJobIfAbsent(job)
	if err != nil {
		t.Fatalf("second InsertJobIfAbsent: %v", err)
	}
	if inserted {
		t.Error("second insert should report inserted=false")
	}

	// A different type for the same batch is still allowed.
	inserted, err = s.InsertJobIfAbsent(Job{ID: "j3", Type: "extract_contacts", PayloadJSON: "{}", UserID: "u1", BatchID: "b1"})
	if err != nil {
		t.Fatalf("different-type InsertJobIfAbsent: %v", err)
	}
	if !inserted {
		t.Error("different type should insert")
	}

	jobs, err := s.GetJobsByBatch("u1", "b1")
	if err != nil {
		t.Fatalf("GetJobsByBatch: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("batch has %d jobs, want 2", len(jobs))
	}
}

func TestInsertJobIfAbsentRequiresBatch(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertJobIfAbsent(Job{ID: "j1", Type: "embed", UserID: "u1"}); err == nil {
		t.Error("expected error for batch-less InsertJobIfAbsent")
	}
}

func TestCountJobsByStatus(t *testing.T) {
	s := openTestStore(t)

	insertTestJob(t, s, "j1", "normalize")
	insertTestJob(t, s, "j2", "normalize")
	if _, err := s.ClaimJobs(1); err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	counts, err := s.CountJobsByStatus()
	if err != nil {
		t.Fatalf("CountJobsByStatus: %v", err)
	}
	if counts[JobDone] != 1 {
		t.Errorf("done = %d, want 1", counts[JobDone])
	}
	if counts[JobQueued] != 1 {
		t.Errorf("queued = %d, want 1", counts[JobQueued])
	}

	depth, err := s.QueuedDepth()
	if err != nil {
		t.Fatalf("QueuedDepth: %v", err)
	}
	if depth != 1 {
		t.Errorf("QueuedDepth = %d, want 1", depth)
	}
}

// TestTimeFormatLexicalOrder verifies stored timestamps compare
// chronologically as plain strings. Claim ordering and run_after eligibility
// both rely on this; a layout that trims fractional zeros would break it
// within a second (".5Z" sorts after ".55Z").
func TestTimeFormatLexicalOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(5 * time.Nanosecond),
		base.Add(500 * time.Millisecond),
		base.Add(550 * time.Millisecond),
		base.Add(time.Second),
	}
	for i := 1; i < len(times); i++ {
		a := times[i-1].Format(timeFormat)
		b := times[i].Format(timeFormat)
		if a >= b {
			t.Errorf("%q should sort before %q", a, b)
		}
		if _, err := time.Parse(timeFormat, a); err != nil {
			t.Errorf("round-trip parse of %q: %v", a, err)
		}
	}
}
