package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/praxiscrm/praxis/internal/retrieval"
	"github.com/praxiscrm/praxis/internal/runner"
	"github.com/praxiscrm/praxis/internal/storage"
	"github.com/praxiscrm/praxis/internal/telemetry"
)

const maxRequestBodySize = 10 << 20 // 10MB; document uploads are the largest requests

// ProcessRunner abstracts the job runner for the cron trigger.
type ProcessRunner interface {
	RunOnce(ctx context.Context) (runner.Result, error)
}

// JobQueue abstracts the enqueue surface.
type JobQueue interface {
	Enqueue(jobType, payloadJSON, userID, batchID string) (storage.Job, error)
}

// SearchProvider abstracts semantic search for the API layer.
type SearchProvider interface {
	SearchText(ctx context.Context, userID, query string, limit int) ([]retrieval.ScoredEmbedding, error)
	SearchVector(userID string, vector []float32, limit int) ([]retrieval.ScoredEmbedding, error)
}

// Deps holds the collaborators the HTTP surface is built from.
type Deps struct {
	Store    *storage.Store
	Queue    JobQueue
	Runner   ProcessRunner
	Searcher SearchProvider
	Token    string
}

// NewHandler builds the HTTP surface: a public health/metrics pair and a
// bearer-auth'd group for the cron trigger, queue, ingestion, and search.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Group(func(pr chi.Router) {
		pr.Use(BearerAuth(deps.Token))

		pr.Post("/cron/process-jobs", handleProcessJobs(deps))
		pr.Post("/jobs", handleEnqueue(deps))
		pr.Get("/jobs/{id}", handleGetJob(deps))
		pr.Get("/batches/{id}/jobs", handleBatchJobs(deps))
		pr.Post("/ingest/events", handleIngestEvents(deps))
		pr.Post("/ingest/documents", handleIngestDocument(deps))
		pr.Post("/search", handleSearch(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
