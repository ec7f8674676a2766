// Package embedding adapts an OpenAI-compatible embeddings endpoint to the
// services/retrieval.Embedder and services/rerank density-scoring contracts,
// built on infrastructure/httputil the same way services/llm's HTTPProvider
// is, rather than vendoring a provider SDK.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/groundwire/orchestrator/infrastructure/httputil"
)

// Client calls a /embeddings endpoint over plain HTTP.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewClient builds an embedding client against baseURL.
func NewClient(baseURL, apiKey, model string) (*Client, error) {
	normalized, _, err := httputil.NormalizeBaseURL(baseURL, httputil.BaseURLOptions{})
	if err != nil {
		return nil, fmt.Errorf("embedding: normalize base url: %w", err)
	}
	httpClient, err := httputil.NewClient(httputil.ClientConfig{}, httputil.DefaultClientDefaults())
	if err != nil {
		return nil, err
	}
	return &Client{baseURL: normalized, apiKey: apiKey, model: model, client: httpClient}, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed converts text into its embedding vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedding: endpoint returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding: endpoint returned no vectors")
	}
	return parsed.Data[0].Embedding, nil
}
