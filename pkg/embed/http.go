package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds a single embedding call.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPConfig configures an HTTPEmbedder.
type HTTPConfig struct {
	BaseURL    string        // e.g. http://localhost:8081
	Model      string        // Model name sent in the request
	APIKey     string        // Optional bearer token; never logged
	Dimensions int           // Expected vector length
	Timeout    time.Duration // Per-call timeout
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	endpoint string
	model    string
	apiKey   string
	dims     int
	client   *http.Client
}

// NewHTTPEmbedder creates an HTTPEmbedder. Zero-valued fields take defaults.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	return &HTTPEmbedder{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/v1/embeddings",
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		dims:     cfg.Dimensions,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Dimensions returns the configured vector length.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dims
}

type embeddingRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed requests a vector for text. Responses with the wrong length are
// rejected so that stored vectors stay comparable.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("embedding service returned %d: unparseable body", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("embedding service returned %d", resp.StatusCode)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding service returned no vectors")
	}

	vec := parsed.Data[0].Embedding
	if len(vec) != e.dims {
		return nil, fmt.Errorf("embedding service returned %d dimensions, want %d", len(vec), e.dims)
	}
	return vec, nil
}
