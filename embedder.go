package reverie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) (Vector, error)

	// Dimensions returns the vector dimensions produced by this embedder.
	Dimensions() int
}

// ErrNoEmbedder is returned when no embedder is configured. Callers are
// expected to degrade to tag/recency retrieval rather than fail.
var ErrNoEmbedder = fmt.Errorf("no embedder configured")

// HTTPEmbedder implements Embedder against an OpenAI-compatible
// /v1/embeddings endpoint (OpenAI itself, LM Studio, or any proxy).
type HTTPEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *http.Client
}

// Common embedding models and their dimensions.
const (
	ModelTextEmbedding3Small = "text-embedding-3-small"
	ModelNomicEmbedText      = "text-embedding-nomic-embed-text-v1.5"
	DimensionsTextEmbedding3 = 1536
	DimensionsNomicEmbed     = 768
)

// HTTPEmbedderOption configures an HTTPEmbedder.
type HTTPEmbedderOption func(*HTTPEmbedder)

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string, dimensions int) HTTPEmbedderOption {
	return func(e *HTTPEmbedder) {
		e.model = model
		e.dimensions = dimensions
	}
}

// WithEmbedderAPIKey sets the bearer token sent with each request.
// Local backends typically need none.
func WithEmbedderAPIKey(key string) HTTPEmbedderOption {
	return func(e *HTTPEmbedder) {
		e.apiKey = key
	}
}

// WithEmbedderHTTPClient sets a custom HTTP client.
func WithEmbedderHTTPClient(client *http.Client) HTTPEmbedderOption {
	return func(e *HTTPEmbedder) {
		e.client = client
	}
}

// NewHTTPEmbedder creates an embedder for the given base URL.
func NewHTTPEmbedder(baseURL string, opts ...HTTPEmbedderOption) *HTTPEmbedder {
	e := &HTTPEmbedder{
		model:      ModelNomicEmbedText,
		dimensions: DimensionsNomicEmbed,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed generates an embedding for the given text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	reqBody := embeddingRequest{
		Input: text,
		Model: e.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("embeddings API error: %s", embResp.Error.Message)
	}

	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return NewVector(embResp.Data[0].Embedding), nil
}

// Dimensions returns the vector dimensions for this embedder.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

var _ Embedder = (*HTTPEmbedder)(nil)
