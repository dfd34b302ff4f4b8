// Package transcribe sends recorded audio to an external Whisper-compatible
// speech-to-text engine and returns best-effort text.
//
// The stage performs no retries; retry policy belongs to the pipeline
// orchestrator.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	murmurerrors "murmur/internal/errors"
	"murmur/internal/httpclient"
	"murmur/internal/jsonx"
	"murmur/internal/logging"
)

const (
	// MaxAudioBytes bounds one decoded recording. Anything longer must have
	// been force-stopped client-side already.
	MaxAudioBytes = 10 << 20

	maxResponseBytes = 1 << 20
)

// Config holds the transcription engine endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client talks to the speech-to-text engine.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient constructs a transcription client from config.
func NewClient(cfg Config, logger logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger = logging.OrNop(logger)
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: httpclient.New(timeout, logger),
		logger:     logger,
	}
}

// Transcribe uploads one finite audio payload and returns the recognized
// text. Zero-length input is rejected before any network call.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", murmurerrors.ErrEmptyAudio
	}
	if len(audio) > MaxAudioBytes {
		return "", fmt.Errorf("audio payload of %d bytes exceeds %d byte limit", len(audio), MaxAudioBytes)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "recording.webm")
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	endpoint := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("transcribing %d bytes via %s", len(audio), endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", murmurerrors.ErrTranscriptionUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", murmurerrors.ErrTranscriptionUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("transcription engine returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		return "", fmt.Errorf("%w: status %d", murmurerrors.ErrTranscriptionUnavailable, resp.StatusCode)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := jsonx.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", murmurerrors.ErrTranscriptionUnavailable, err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
