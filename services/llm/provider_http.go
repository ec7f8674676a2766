package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/groundwire/orchestrator/infrastructure/httputil"
)

// HTTPProvider calls an OpenAI-compatible chat-completions endpoint over
// plain HTTP, built on infrastructure/httputil's shared client config
// rather than a vendored provider SDK.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPProvider builds a provider named name against baseURL (e.g.
// "https://api.openai.com/v1" or a self-hosted vLLM/Ollama gateway).
func NewHTTPProvider(name, baseURL, apiKey, model string, timeoutCfg httputil.ClientConfig) (*HTTPProvider, error) {
	normalized, _, err := httputil.NormalizeBaseURL(baseURL, httputil.BaseURLOptions{})
	if err != nil {
		return nil, fmt.Errorf("llm: normalize base url for %s: %w", name, err)
	}
	client, err := httputil.NewClient(timeoutCfg, httputil.DefaultClientDefaults())
	if err != nil {
		return nil, err
	}
	return &HTTPProvider{name: name, baseURL: normalized, apiKey: apiKey, model: model, client: client}, nil
}

// Name returns the provider's identity, used as its circuit-breaker key.
func (p *HTTPProvider) Name() string { return p.name }

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// InvokeMessages posts messages to the provider's chat-completions endpoint
// and returns the first choice's content.
func (p *HTTPProvider) InvokeMessages(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{Model: p.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrLLM, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrLLM, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLLM, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrLLM, p.name, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrLLM, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: %s returned no choices", ErrLLM, p.name)
	}
	return parsed.Choices[0].Message.Content, nil
}
