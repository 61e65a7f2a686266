package api

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/praxiscrm/praxis/internal/retrieval"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

type searchRequest struct {
	UserID string    `json:"user_id"`
	Query  string    `json:"query"`
	Vector []float32 `json:"vector"`
	Limit  int       `json:"limit"`
}

type searchResult struct {
	OwnerType  string          `json:"owner_type"`
	OwnerID    string          `json:"owner_id"`
	ChunkIndex int             `json:"chunk_index"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	Similarity float64         `json:"similarity"`
}

// handleSearch answers semantic queries over the caller's embedded content.
// A text query is embedded first; a raw vector skips the provider round trip.
func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if req.Query == "" && len(req.Vector) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "either query or vector is required")
			return
		}

		limit := req.Limit
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		var (
			scored []retrieval.ScoredEmbedding
			err    error
		)
		if req.Query != "" {
			scored, err = deps.Searcher.SearchText(r.Context(), req.UserID, req.Query, limit)
		} else {
			scored, err = deps.Searcher.SearchVector(req.UserID, req.Vector, limit)
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}

		results := make([]searchResult, len(scored))
		for i, s := range scored {
			var meta json.RawMessage
			if s.Meta != "" {
				meta = json.RawMessage(s.Meta)
			}
			results[i] = searchResult{
				OwnerType:  s.OwnerType,
				OwnerID:    s.OwnerID,
				ChunkIndex: s.ChunkIndex,
				Meta:       meta,
				Similarity: roundScore(s.Score),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// roundScore trims cosine scores to four decimals at the presentation
// boundary only. Stored and compared scores keep full precision.
func roundScore(score float32) float64 {
	return math.Round(float64(score)*10000) / 10000
}
