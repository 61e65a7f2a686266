// Package ingest converts provider-specific raw event payloads into the
// system's canonical interaction records. The importers that fetch from the
// providers live outside this module; their boundary is the raw_events table.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/praxiscrm/praxis/internal/storage"
)

// Providers the normalize stage understands.
const (
	ProviderGmail    = "gmail"
	ProviderCalendar = "calendar"
	ProviderDocument = "document"
)

// Participant is one identity attached to an interaction.
type Participant struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// gmailMessage is the payload shape a Gmail importer writes.
type gmailMessage struct {
	Subject string        `json:"subject"`
	Snippet string        `json:"snippet"`
	Body    string        `json:"body"`
	From    Participant   `json:"from"`
	To      []Participant `json:"to"`
	Cc      []Participant `json:"cc"`
}

// calendarEvent is the payload shape a Calendar importer writes.
type calendarEvent struct {
	Summary     string        `json:"summary"`
	Description string        `json:"description"`
	Location    string        `json:"location"`
	Organizer   Participant   `json:"organizer"`
	Attendees   []Participant `json:"attendees"`
}

// documentPayload is the payload shape the document upload path writes.
type documentPayload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// MapEvent converts one raw event into a canonical interaction.
// Unknown providers are an error; the event stays unnormalized.
func MapEvent(ev storage.RawEvent) (storage.Interaction, error) {
	base := storage.Interaction{
		ID:         uuid.New().String(),
		UserID:     ev.UserID,
		BatchID:    ev.BatchID,
		Provider:   ev.Provider,
		SourceID:   ev.SourceID,
		OccurredAt: ev.OccurredAt,
	}

	switch ev.Provider {
	case ProviderGmail:
		var msg gmailMessage
		if err := json.Unmarshal([]byte(ev.PayloadJSON), &msg); err != nil {
			return storage.Interaction{}, fmt.Errorf("parsing gmail payload for %s: %w", ev.SourceID, err)
		}
		body := msg.Body
		if body == "" {
			body = msg.Snippet
		}
		base.Kind = "email"
		base.Title = msg.Subject
		base.Body = body
		base.Participants = marshalParticipants(collect(msg.From, msg.To, msg.Cc))
		return base, nil

	case ProviderCalendar:
		var evt calendarEvent
		if err := json.Unmarshal([]byte(ev.PayloadJSON), &evt); err != nil {
			return storage.Interaction{}, fmt.Errorf("parsing calendar payload for %s: %w", ev.SourceID, err)
		}
		body := evt.Description
		if evt.Location != "" {
			body = strings.TrimSpace(body + "\n\nLocation: " + evt.Location)
		}
		base.Kind = "event"
		base.Title = evt.Summary
		base.Body = body
		base.Participants = marshalParticipants(collect(evt.Organizer, evt.Attendees))
		return base, nil

	case ProviderDocument:
		var doc documentPayload
		if err := json.Unmarshal([]byte(ev.PayloadJSON), &doc); err != nil {
			return storage.Interaction{}, fmt.Errorf("parsing document payload for %s: %w", ev.SourceID, err)
		}
		base.Kind = "document"
		base.Title = doc.Title
		base.Body = doc.Text
		base.Participants = "[]"
		return base, nil

	default:
		return storage.Interaction{}, fmt.Errorf("unknown provider %q", ev.Provider)
	}
}

// collect flattens a primary participant and extra lists, dropping entries
// with neither name nor email and deduplicating by lowercased email.
func collect(primary Participant, lists ...[]Participant) []Participant {
	var out []Participant
	seen := make(map[string]bool)
	add := func(p Participant) {
		p.Email = strings.ToLower(strings.TrimSpace(p.Email))
		p.Name = strings.TrimSpace(p.Name)
		if p.Email == "" && p.Name == "" {
			return
		}
		if p.Email != "" {
			if seen[p.Email] {
				return
			}
			seen[p.Email] = true
		}
		out = append(out, p)
	}
	add(primary)
	for _, list := range lists {
		for _, p := range list {
			add(p)
		}
	}
	return out
}

func marshalParticipants(ps []Participant) string {
	if len(ps) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ps)
	if err != nil {
		return "[]"
	}
	return string(b)
}
