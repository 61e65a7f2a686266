package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertContact merges a candidate identity into the contact book. The match
// key is (user, lowercased email); an existing contact keeps its name unless
// it was empty, in which case the candidate's name fills it in.
// Returns true when a new contact row was created.
func (s *Store) UpsertContact(c Contact) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return false, fmt.Errorf("contact email is required")
	}
	now := time.Now().UTC().Format(timeFormat)

	res, err := s.db.Exec(`
		INSERT INTO contacts (id, user_id, name, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, email) DO NOTHING`,
		c.ID, c.UserID, strings.TrimSpace(c.Name), email, now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Existing contact: backfill the name if we only had an email before.
	if name := strings.TrimSpace(c.Name); name != "" {
		_, err = s.db.Exec(`UPDATE contacts SET name = ?, updated_at = ? WHERE user_id = ? AND email = ? AND name = ''`,
			name, now, c.UserID, email)
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// GetContactByEmail looks up a contact by its merge key.
func (s *Store) GetContactByEmail(userID, email string) (Contact, error) {
	var c Contact
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, email, created_at, updated_at
		FROM contacts WHERE user_id = ? AND email = ?`,
		userID, strings.ToLower(strings.TrimSpace(email)),
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, err
	}
	if c.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return Contact{}, fmt.Errorf("parsing created_at for contact %s: %w", c.ID, err)
	}
	if c.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return Contact{}, fmt.Errorf("parsing updated_at for contact %s: %w", c.ID, err)
	}
	return c, nil
}

// CountContacts returns the number of contacts for a user.
func (s *Store) CountContacts(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
