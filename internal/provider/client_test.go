package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestKeyRingRotation(t *testing.T) {
	ring := NewKeyRing([]string{"k1", " k2 ", "", "k3"})
	if ring.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (empties dropped)", ring.Len())
	}

	got := []string{ring.Next(), ring.Next(), ring.Next(), ring.Next()}
	want := []string{"k1", "k2", "k3", "k1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Next()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeyRingEmpty(t *testing.T) {
	ring := NewKeyRing(nil)
	if key := ring.Next(); key != "" {
		t.Errorf("Next() on empty ring = %q, want empty", key)
	}
}

func TestEmbedRequestShape(t *testing.T) {
	var mu sync.Mutex
	var gotAuth []string
	var gotModel string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q, want /v1/embeddings", r.URL.Path)
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		mu.Lock()
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		gotModel = req.Model
		mu.Unlock()

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-model", NewKeyRing([]string{"alpha", "beta"}))

	for i := 0; i < 2; i++ {
		vec, err := c.Embed(context.Background(), "hello")
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if len(vec) != 3 {
			t.Errorf("vector dim = %d, want 3", len(vec))
		}
	}

	if gotModel != "test-model" {
		t.Errorf("model = %q, want test-model", gotModel)
	}
	// Keys rotate across calls.
	if len(gotAuth) != 2 || gotAuth[0] != "Bearer alpha" || gotAuth[1] != "Bearer beta" {
		t.Errorf("auth headers = %v, want rotation alpha then beta", gotAuth)
	}
}

func TestEmbedNoKeyOmitsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Authorization = %q, want unset", auth)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "m", NewKeyRing(nil))
	if _, err := c.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
}

func TestEmbedNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "m", NewKeyRing(nil))
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Error("expected error on non-200 response")
	}
}

func TestEmbedEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, "m", NewKeyRing(nil))
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Error("expected error on empty data array")
	}
}
