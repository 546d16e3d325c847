// Package embedprovider calls an OpenAI-compatible embeddings endpoint
// (e.g. LM Studio) and returns both the vector and a content hash, so
// callers can skip re-embedding unchanged text (spec §4.4/§4.6). Adapted
// from internal/memory/embedding_lmstudio.go, the teacher's own
// LM Studio client.
package embedprovider

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider calls a local or remote embedding model over HTTP.
type Provider struct {
	baseURL    string
	model      string
	client     *http.Client
	dimensions int
}

// New constructs a Provider pointed at an OpenAI-compatible base URL
// (e.g. "http://localhost:1234/v1").
func New(baseURL, model string, dimension int) *Provider {
	return &Provider{
		baseURL:    baseURL,
		model:      model,
		client:     &http.Client{Timeout: 30 * time.Second},
		dimensions: dimension,
	}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embedded is a vector paired with the model that produced it and a
// sha256 hex digest of the source text.
type Embedded struct {
	Vector []float32
	Model  string
	Hash   string
}

// Embed calls the configured endpoint for a single piece of text,
// matching the spec's embed_text(config, text) -> {vector, model, hash}
// contract.
func (p *Provider) Embed(text string) (Embedded, error) {
	req := embeddingRequest{Input: text, Model: p.model}
	body, err := json.Marshal(req)
	if err != nil {
		return Embedded{}, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	resp, err := p.client.Post(p.baseURL+"/embeddings", "application/json", bytes.NewReader(body))
	if err != nil {
		return Embedded{}, fmt.Errorf("failed to call embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Embedded{}, fmt.Errorf("embedding API error: %s - %s", resp.Status, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return Embedded{}, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(embResp.Data) == 0 {
		return Embedded{}, fmt.Errorf("embedding API returned no data")
	}

	vector := embResp.Data[0].Embedding
	p.dimensions = len(vector)
	sum := sha256.Sum256([]byte(text))

	return Embedded{
		Vector: vector,
		Model:  p.model,
		Hash:   hex.EncodeToString(sum[:]),
	}, nil
}

// EmbedBatch embeds each text independently, matching the teacher's own
// one-request-per-item batching strategy.
func (p *Provider) EmbedBatch(texts []string) ([]Embedded, error) {
	results := make([]Embedded, len(texts))
	for i, text := range texts {
		emb, err := p.Embed(text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the last observed embedding dimension, updated
// after each successful call.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// ContentHash returns the sha256 hex digest of text, used to decide
// whether a stored embedding needs to be regenerated after an edit.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
