package retrieval

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements EmbeddingStore.
var _ EmbeddingStore = (*SQLiteStore)(nil)

// timeFormat matches the storage package so rows written by either side
// parse identically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore provides embedding storage and brute-force cosine similarity
// search backed by SQLite. Vectors are stored as little-endian float32 BLOBs
// in the embeddings table and scanned per tenant at query time, which is
// exact and fast enough well past 100K rows per user.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for embedding operations.
// The embeddings table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Upsert writes embedding rows, relying on the natural-key unique index to
// silently skip rows whose content is already embedded.
func (s *SQLiteStore) Upsert(records []Embedding) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO embeddings (id, user_id, owner_type, owner_id, chunk_index, content_hash, embedding, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_type, owner_id, chunk_index, content_hash) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		blob := encodeFloat32s(r.Vector)
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		meta := r.Meta
		if meta == "" {
			meta = "{}"
		}
		res, err := stmt.Exec(r.ID, r.UserID, r.OwnerType, r.OwnerID, r.ChunkIndex,
			r.ContentHash, blob, meta, createdAt.UTC().Format(timeFormat))
		if err != nil {
			return 0, fmt.Errorf("inserting embedding %s: %w", r.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// HasContent reports whether the natural key is already embedded.
func (s *SQLiteStore) HasContent(ownerType, ownerID string, chunkIndex int, contentHash string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM embeddings
		WHERE owner_type = ? AND owner_id = ? AND chunk_index = ? AND content_hash = ?`,
		ownerType, ownerID, chunkIndex, contentHash).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// idScore holds the ID, score and created_at during the scan phase of
// Search. Full rows are fetched only for top-K winners.
type idScore struct {
	ID        string
	Score     float32
	CreatedAt time.Time
}

// outranks reports whether a places above b in search results: higher score
// first, newer created_at breaking ties. The heap uses it too, so the tie
// rule holds when the top-K truncation decides which of two equal-score rows
// survives.
func outranks(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Search performs a brute-force cosine similarity scan over the tenant's
// vectors, returning the top-K most similar embeddings in descending score
// order with created_at DESC breaking ties.
func (s *SQLiteStore) Search(userID string, vector []float32, limit int) ([]ScoredEmbedding, error) {
	if limit <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan id + vector + created_at to find top-K candidates.
	rows, err := s.db.Query(`SELECT id, embedding, created_at FROM embeddings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding vectors to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id, createdAt string
		var blob []byte
		if err := rows.Scan(&id, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding vector for %s: %w", id, err)
		}
		created, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", id, err)
		}

		cand := idScore{ID: id, Score: cosine(vector, buf, queryNorm), CreatedAt: created}
		if h.Len() < limit {
			heap.Push(h, cand)
		} else if outranks(cand, (*h)[0]) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full rows only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, user_id, owner_type, owner_id, chunk_index, content_hash, embedding, meta, created_at
		FROM embeddings WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.Query(fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K rows: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredEmbedding
	for fullRows.Next() {
		var r Embedding
		var blob []byte
		var createdAt string
		if err := fullRows.Scan(&r.ID, &r.UserID, &r.OwnerType, &r.OwnerID, &r.ChunkIndex,
			&r.ContentHash, &blob, &r.Meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning full row: %w", err)
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding vector for %s: %w", r.ID, err)
		}
		r.Vector = vec
		t, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, ScoredEmbedding{Embedding: r, Score: scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full rows: %w", err)
	}

	// Sort by score descending, newest first on ties (IN query doesn't
	// preserve order).
	sortScored(results)

	return results, nil
}

// Count returns the number of embeddings stored for a user.
func (s *SQLiteStore) Count(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM embeddings WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// DeleteOwner removes all embeddings for one owning entity, used when a
// caller supersedes stale rows after content changed.
func (s *SQLiteStore) DeleteOwner(ownerType, ownerID string) error {
	_, err := s.db.Exec(`DELETE FROM embeddings WHERE owner_type = ? AND owner_id = ?`, ownerType, ownerID)
	return err
}

// sortScored sorts by score descending with created_at descending breaking
// ties. Insertion sort; the slice is at most top-K long.
func sortScored(results []ScoredEmbedding) {
	less := func(a, b ScoredEmbedding) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.CreatedAt.After(b.CreatedAt)
	}
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && less(results[j], results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * bNorm), where aNorm is the
// precomputed L2 norm of vector a. Mismatched dimensions score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore keeping the weakest candidate at the
// root. Used during the scan phase of Search to track top-K candidates.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return outranks(h[j], h[i]) }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
