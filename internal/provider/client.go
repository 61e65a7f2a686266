package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
)

// KeyRing rotates across a set of API keys round-robin. It replaces the
// process-global rotation index: the owner constructs one ring and injects
// it into the client.
type KeyRing struct {
	keys []string
	next atomic.Uint64
}

// NewKeyRing creates a ring over the given keys. An empty key list yields a
// ring that always returns "".
func NewKeyRing(keys []string) *KeyRing {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	return &KeyRing{keys: clean}
}

// Next returns the next key in rotation.
func (k *KeyRing) Next() string {
	if len(k.keys) == 0 {
		return ""
	}
	n := k.next.Add(1)
	return k.keys[(n-1)%uint64(len(k.keys))]
}

// Len returns the number of keys in the ring.
func (k *KeyRing) Len() int {
	return len(k.keys)
}

// Client talks to an OpenAI-compatible embeddings endpoint over HTTP.
type Client struct {
	baseURL    string
	model      string
	keys       *KeyRing
	httpClient *http.Client
}

// New creates a Client targeting the given base URL and embedding model.
// Request deadlines come from the caller's context; the runner bounds each
// handler invocation, so the client itself sets no timeout.
func New(baseURL, model string, keys *KeyRing) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		keys:       keys,
		httpClient: &http.Client{},
	}
}

// embedRequest is the JSON body for POST /v1/embeddings.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON returned by POST /v1/embeddings.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.keys.Next(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}

	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embed: empty embeddings array")
	}
	return result.Data[0].Embedding, nil
}
