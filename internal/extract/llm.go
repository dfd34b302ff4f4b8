// Package extract turns a raw transcript into cleaned text plus zero or more
// task candidates with a confidence label. It negotiates a strict JSON
// contract with an external language model and repairs or falls back on every
// failure mode, so it never raises an error past the orchestrator.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	murmurerrors "murmur/internal/errors"
	"murmur/internal/httpclient"
	"murmur/internal/jsonx"
	"murmur/internal/logging"
)

const maxResponseBytes = 4 << 20

// CompletionRequest is one prompt for the language model.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// LLMClient is the subset of a chat-completions client the extractor needs.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// LLMConfig holds the language-model endpoint settings.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// openAIClient speaks the OpenAI-compatible chat completions API.
type openAIClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIClient constructs an LLM client for the extraction contract.
func NewOpenAIClient(cfg LLMConfig, logger logging.Logger) LLMClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	logger = logging.OrNop(logger)
	return &openAIClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpclient.New(timeout, logger),
		logger:     logger,
	}
}

func (c *openAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User},
		},
		"temperature":     req.Temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	body, err := jsonx.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("extraction request: POST %s model=%s", endpoint, c.model)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &murmurerrors.HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := jsonx.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
