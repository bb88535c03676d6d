package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tradeengine/logger"
)

// HTTPProvider calls an OpenAI-compatible chat-completions endpoint —
// the same shape the teacher's mcp.LocalAIClient targets (LocalAI,
// OpenAI, and most self-hosted model servers all speak this dialect).
// Bearer auth mirrors LocalAIClient.setAuthHeader; BaseURL/Model default
// the way NewLocalAIClientWithOptions layers preset options under
// caller overrides.
type HTTPProvider struct {
	BaseURL string
	Model   string
	APIKey  string
	Client  *http.Client

	log logger.Logger
}

// ProviderOption configures an HTTPProvider, mirroring the teacher's
// ClientOption functional-options pattern.
type ProviderOption func(*HTTPProvider)

func WithBaseURL(url string) ProviderOption {
	return func(p *HTTPProvider) { p.BaseURL = url }
}

func WithModel(model string) ProviderOption {
	return func(p *HTTPProvider) { p.Model = model }
}

func WithAPIKey(key string) ProviderOption {
	return func(p *HTTPProvider) { p.APIKey = key }
}

// NewHTTPProvider builds a Provider for a given model ID, defaulting to
// localhost LocalAI the way NewLocalAIClient does, then applying opts.
func NewHTTPProvider(opts ...ProviderOption) *HTTPProvider {
	p := &HTTPProvider{
		BaseURL: "http://localhost:8080/v1",
		Model:   "gpt-oss-20b",
		Client:  &http.Client{Timeout: 60 * time.Second},
		log:     logger.With("component", "compose.provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements compose.Provider: one chat-completions round trip,
// system + user messages in, the assistant's raw content out.
func (p *HTTPProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read model provider response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode model provider response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("model provider error: %s", parsed.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("model provider returned %d: %s", resp.StatusCode, string(raw))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("model provider returned no choices")
	}
	p.log.Debugf("model provider responded (%d bytes)", len(parsed.Choices[0].Message.Content))
	return parsed.Choices[0].Message.Content, nil
}
