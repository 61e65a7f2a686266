package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/praxiscrm/praxis/internal/ingest"
	"github.com/praxiscrm/praxis/internal/pipeline"
	"github.com/praxiscrm/praxis/internal/storage"
)

type ingestEvent struct {
	SourceID   string          `json:"source_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type ingestEventsRequest struct {
	UserID   string        `json:"user_id"`
	Provider string        `json:"provider"`
	Events   []ingestEvent `json:"events"`
}

// handleIngestEvents is the boundary the external importers call after one
// fetch run: it writes the raw records immutably and seeds the pipeline's
// first stage for the new batch.
func handleIngestEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ingestEventsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" || req.Provider == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and provider are required")
			return
		}
		if len(req.Events) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "events must not be empty")
			return
		}

		batchID := uuid.New().String()
		events := make([]storage.RawEvent, 0, len(req.Events))
		for _, ev := range req.Events {
			if ev.SourceID == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "every event requires a source_id")
				return
			}
			payload := string(ev.Payload)
			if payload == "" {
				payload = "{}"
			}
			events = append(events, storage.RawEvent{
				ID:          uuid.New().String(),
				Provider:    req.Provider,
				UserID:      req.UserID,
				BatchID:     batchID,
				SourceID:    ev.SourceID,
				PayloadJSON: payload,
				OccurredAt:  ev.OccurredAt,
			})
		}

		accepted, err := deps.Store.InsertRawEvents(events)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store events: %v", err)
			return
		}

		payload, err := json.Marshal(map[string]string{"batch_id": batchID, "provider": req.Provider})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build job payload: %v", err)
			return
		}
		job, err := deps.Queue.Enqueue(pipeline.JobNormalize, string(payload), req.UserID, batchID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "stored events but failed to enqueue normalize: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"batch_id": batchID,
			"accepted": accepted,
			"job_id":   job.ID,
		})
	}
}

type ingestDocumentRequest struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Type    string `json:"type"`    // "text" (default) or "pdf"
	Content string `json:"content"` // plain text, or base64 for pdf
}

// handleIngestDocument accepts a one-off document upload, extracts its text,
// and runs it through the same raw-event pipeline as provider imports.
func handleIngestDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ingestDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" || req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and content are required")
			return
		}

		var text string
		switch req.Type {
		case "pdf":
			data, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			text, err = ingest.ExtractPDFText(data)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to extract pdf text: %v", err)
				return
			}
		case "", "text":
			text = req.Content
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported document type %q", req.Type)
			return
		}

		if strings.TrimSpace(text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document has no extractable text")
			return
		}

		batchID := uuid.New().String()
		docID := uuid.New().String()
		payload, err := json.Marshal(map[string]string{"title": req.Title, "text": text})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build document payload: %v", err)
			return
		}

		accepted, err := deps.Store.InsertRawEvents([]storage.RawEvent{{
			ID:          docID,
			Provider:    ingest.ProviderDocument,
			UserID:      req.UserID,
			BatchID:     batchID,
			SourceID:    docID,
			PayloadJSON: string(payload),
			OccurredAt:  time.Now().UTC(),
		}})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store document: %v", err)
			return
		}

		jobPayload, err := json.Marshal(map[string]string{"batch_id": batchID, "provider": ingest.ProviderDocument})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build job payload: %v", err)
			return
		}
		job, err := deps.Queue.Enqueue(pipeline.JobNormalize, string(jobPayload), req.UserID, batchID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "stored document but failed to enqueue normalize: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"batch_id": batchID,
			"accepted": accepted,
			"job_id":   job.ID,
		})
	}
}
