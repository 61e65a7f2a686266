package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/praxiscrm/praxis/internal/runner"
	"github.com/praxiscrm/praxis/internal/storage"
)

// jobResponse is the canonical job record shape consumers depend on.
type jobResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	UserID      string          `json:"user_id"`
	BatchID     string          `json:"batch_id,omitempty"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toJobResponse(j storage.Job) jobResponse {
	payload := json.RawMessage(j.PayloadJSON)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return jobResponse{
		ID:          j.ID,
		Type:        j.Type,
		Payload:     payload,
		UserID:      j.UserID,
		BatchID:     j.BatchID,
		Status:      j.Status,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// handleProcessJobs runs one runner pass on behalf of the external
// scheduler. Individual job failures are part of the counts; only a
// store-level failure surfaces as an error response.
func handleProcessJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := deps.Runner.RunOnce(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "processing pass failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type enqueueRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	UserID  string          `json:"user_id"`
	BatchID string          `json:"batch_id"`
}

func handleEnqueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		job, err := deps.Queue.Enqueue(req.Type, string(req.Payload), req.UserID, req.BatchID)
		if errors.Is(err, runner.ErrUnknownJobType) || errors.Is(err, runner.ErrInvalidPayload) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		// The insert path fills defaults the build step left zero.
		stored, err := deps.Store.GetJob(job.ID)
		if err != nil {
			stored = job
		}
		writeJSON(w, http.StatusCreated, toJobResponse(stored))
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func handleBatchJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "id")
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id query parameter is required")
			return
		}

		jobs, err := deps.Store.GetJobsByBatch(userID, batchID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list batch jobs: %v", err)
			return
		}

		out := make([]jobResponse, len(jobs))
		for i, j := range jobs {
			out[i] = toJobResponse(j)
		}
		writeJSON(w, http.StatusOK, out)
	}
}
