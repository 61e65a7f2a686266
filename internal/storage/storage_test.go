package storage

import (
	"testing"
	"time"
)

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestIndexesExist verifies the claim-path and batch indexes are created.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"jobs_claim_idx", "jobs_batch_idx"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestInsertRawEventsDedup(t *testing.T) {
	s := openTestStore(t)

	events := []RawEvent{
		{ID: "e1", Provider: "gmail", UserID: "u1", BatchID: "b1", SourceID: "msg-1", PayloadJSON: "{}", OccurredAt: time.Now().UTC()},
		{ID: "e2", Provider: "gmail", UserID: "u1", BatchID: "b1", SourceID: "msg-2", PayloadJSON: "{}", OccurredAt: time.Now().UTC()},
	}
	n, err := s.InsertRawEvents(events)
	if err != nil {
		t.Fatalf("InsertRawEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	// Re-importing the same source records in a later batch inserts nothing.
	dup := []RawEvent{
		{ID: "e3", Provider: "gmail", UserID: "u1", BatchID: "b2", SourceID: "msg-1", PayloadJSON: "{}", OccurredAt: time.Now().UTC()},
	}
	n, err = s.InsertRawEvents(dup)
	if err != nil {
		t.Fatalf("InsertRawEvents (dup): %v", err)
	}
	if n != 0 {
		t.Errorf("dup inserted = %d, want 0", n)
	}

	total, err := s.CountRawEvents("u1", "b1")
	if err != nil {
		t.Fatalf("CountRawEvents: %v", err)
	}
	if total != 2 {
		t.Errorf("batch count = %d, want 2", total)
	}
}

func TestGetRawEventsOrdered(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []RawEvent{
		{ID: "e1", Provider: "gmail", UserID: "u1", BatchID: "b1", SourceID: "late", PayloadJSON: "{}", OccurredAt: base.Add(time.Hour)},
		{ID: "e2", Provider: "gmail", UserID: "u1", BatchID: "b1", SourceID: "early", PayloadJSON: "{}", OccurredAt: base},
	}
	if _, err := s.InsertRawEvents(events); err != nil {
		t.Fatalf("InsertRawEvents: %v", err)
	}

	got, err := s.GetRawEvents("u1", "b1", "gmail")
	if err != nil {
		t.Fatalf("GetRawEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].SourceID != "early" || got[1].SourceID != "late" {
		t.Errorf("order = [%q, %q], want [early, late]", got[0].SourceID, got[1].SourceID)
	}
}

func TestUpsertInteractionIdempotent(t *testing.T) {
	s := openTestStore(t)

	i := Interaction{
		ID:           "i1",
		UserID:       "u1",
		BatchID:      "b1",
		Provider:     "gmail",
		SourceID:     "msg-1",
		Kind:         "email",
		Title:        "Renewal",
		Body:         "Let's talk next week.",
		Participants: `[{"name":"Dana","email":"dana@example.com"}]`,
		OccurredAt:   time.Now().UTC(),
	}
	inserted, err := s.UpsertInteraction(i)
	if err != nil {
		t.Fatalf("UpsertInteraction: %v", err)
	}
	if !inserted {
		t.Fatal("first upsert should insert")
	}

	i.ID = "i2"
	inserted, err = s.UpsertInteraction(i)
	if err != nil {
		t.Fatalf("second UpsertInteraction: %v", err)
	}
	if inserted {
		t.Error("second upsert of the same source should be a no-op")
	}

	got, err := s.GetInteractionsByBatch("u1", "b1")
	if err != nil {
		t.Fatalf("GetInteractionsByBatch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d interactions, want 1", len(got))
	}
	if got[0].ID != "i1" {
		t.Errorf("surviving ID = %q, want i1", got[0].ID)
	}
	if got[0].Title != "Renewal" {
		t.Errorf("Title = %q, want Renewal", got[0].Title)
	}
}

func TestUpsertContactNameBackfill(t *testing.T) {
	s := openTestStore(t)

	created, err := s.UpsertContact(Contact{ID: "c1", UserID: "u1", Email: "Dana@Example.com"})
	if err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	if !created {
		t.Fatal("first upsert should create")
	}

	// Same identity seen later with a name: no new row, name filled in.
	created, err = s.UpsertContact(Contact{ID: "c2", UserID: "u1", Name: "Dana Reyes", Email: "dana@example.com"})
	if err != nil {
		t.Fatalf("second UpsertContact: %v", err)
	}
	if created {
		t.Error("second upsert should not create a new contact")
	}

	c, err := s.GetContactByEmail("u1", "dana@example.com")
	if err != nil {
		t.Fatalf("GetContactByEmail: %v", err)
	}
	if c.ID != "c1" {
		t.Errorf("ID = %q, want c1", c.ID)
	}
	if c.Name != "Dana Reyes" {
		t.Errorf("Name = %q, want %q", c.Name, "Dana Reyes")
	}

	// A conflicting name never overwrites an existing one.
	if _, err := s.UpsertContact(Contact{ID: "c3", UserID: "u1", Name: "D. Reyes", Email: "dana@example.com"}); err != nil {
		t.Fatalf("third UpsertContact: %v", err)
	}
	c, err = s.GetContactByEmail("u1", "dana@example.com")
	if err != nil {
		t.Fatalf("GetContactByEmail: %v", err)
	}
	if c.Name != "Dana Reyes" {
		t.Errorf("Name = %q after conflicting upsert, want %q", c.Name, "Dana Reyes")
	}

	n, err := s.CountContacts("u1")
	if err != nil {
		t.Fatalf("CountContacts: %v", err)
	}
	if n != 1 {
		t.Errorf("CountContacts = %d, want 1", n)
	}
}

func TestContactsScopedByUser(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.UpsertContact(Contact{ID: "c1", UserID: "u1", Email: "shared@example.com"}); err != nil {
		t.Fatalf("UpsertContact u1: %v", err)
	}
	created, err := s.UpsertContact(Contact{ID: "c2", UserID: "u2", Email: "shared@example.com"})
	if err != nil {
		t.Fatalf("UpsertContact u2: %v", err)
	}
	if !created {
		t.Error("same email under a different user should create a separate contact")
	}

	if _, err := s.GetContactByEmail("u2", "shared@example.com"); err != nil {
		t.Errorf("GetContactByEmail u2: %v", err)
	}
}
