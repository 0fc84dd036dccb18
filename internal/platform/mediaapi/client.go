package mediaapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mikububu/readings-engine/internal/config"
	"github.com/mikububu/readings-engine/internal/generation"
)

// maxErrorBodyBytes bounds how much of an error response body ends up in
// an error message (and therefore in logs).
const maxErrorBodyBytes = 2048

// Client calls the media rendering API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a media API client from the generation config.
func NewClient(cfg config.GenerationConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MediaAPIBaseURL == "" {
		return nil, fmt.Errorf("%w: media API base URL cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.MediaAPIKey == "" {
		return nil, fmt.Errorf("%w: media API key cannot be empty", generation.ErrInvalidConfig)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.MediaAPIBaseURL, "/"),
		apiKey:  cfg.MediaAPIKey,
		httpClient: &http.Client{
			// Renders are slow; the per-task heartbeat keeps the lease
			// alive while we wait.
			Timeout: 15 * time.Minute,
		},
		logger: logger.With("component", "media_api_client"),
	}, nil
}

// RenderDocument renders the text into a PDF document.
func (c *Client) RenderDocument(ctx context.Context, req generation.RenderRequest) (*generation.RenderResult, error) {
	return c.post(ctx, "/v1/render/document", req)
}

// NarrateAudio produces narrated audio of the text.
func (c *Client) NarrateAudio(ctx context.Context, req generation.RenderRequest) (*generation.RenderResult, error) {
	return c.post(ctx, "/v1/render/audio", req)
}

// RenderSong derives a song artifact from the text.
func (c *Client) RenderSong(ctx context.Context, req generation.RenderRequest) (*generation.RenderResult, error) {
	return c.post(ctx, "/v1/render/song", req)
}

// post sends one render request and decodes the result.
func (c *Client) post(
	ctx context.Context,
	path string,
	req generation.RenderRequest,
) (*generation.RenderResult, error) {
	if req.TextRef == "" {
		return nil, fmt.Errorf("%w: text ref cannot be empty", generation.ErrGenerationFailed)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.DebugContext(ctx, "calling media API", "path", path)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("media API call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var result generation.RenderResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode render response: %v",
			generation.ErrInvalidResponse, err)
	}
	if result.ArtifactRef == "" {
		return nil, fmt.Errorf("%w: response carried no artifact ref", generation.ErrInvalidResponse)
	}

	return &result, nil
}

// statusError shapes a non-200 response into an error whose message keeps
// the status code and any retry-after hint visible, because the limiter's
// rate-limit detection works on the stringified error.
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	snippet := strings.TrimSpace(string(body))

	if resp.StatusCode == http.StatusTooManyRequests {
		if header := resp.Header.Get("Retry-After"); header != "" {
			return fmt.Errorf("media API returned 429, retry-after: %s: %s", header, snippet)
		}
		return fmt.Errorf("media API returned 429: %s", snippet)
	}

	return fmt.Errorf("media API returned status %d: %s", resp.StatusCode, snippet)
}
