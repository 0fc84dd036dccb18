package mediaapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikububu/readings-engine/internal/config"
	"github.com/mikububu/readings-engine/internal/generation"
	"github.com/mikububu/readings-engine/internal/limiter"
	"github.com/mikububu/readings-engine/internal/platform/mediaapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, baseURL string) *mediaapi.Client {
	t.Helper()
	client, err := mediaapi.NewClient(config.GenerationConfig{
		MediaAPIBaseURL: baseURL,
		MediaAPIKey:     "test-media-key",
	}, discardLogger())
	require.NoError(t, err)
	return client
}

func TestNewClientValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := mediaapi.NewClient(config.GenerationConfig{MediaAPIKey: "k"}, discardLogger())
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = mediaapi.NewClient(config.GenerationConfig{MediaAPIBaseURL: "http://x"}, discardLogger())
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestRenderDocument(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/render/document", r.URL.Path)
		assert.Equal(t, "Bearer test-media-key", r.Header.Get("Authorization"))

		var req generation.RenderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text/abc", req.TextRef)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(generation.RenderResult{
			ArtifactRef: "pdf/abc",
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	result, err := client.RenderDocument(context.Background(), generation.RenderRequest{
		TextRef: "text/abc",
		Title:   "Overview",
	})
	require.NoError(t, err)
	assert.Equal(t, "pdf/abc", result.ArtifactRef)
}

func TestRenderRequiresTextRef(t *testing.T) {
	t.Parallel()

	client := newClient(t, "http://localhost:1")
	_, err := client.NarrateAudio(context.Background(), generation.RenderRequest{})
	assert.ErrorIs(t, err, generation.ErrGenerationFailed)
}

func TestRenderRejectsEmptyArtifactRef(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(generation.RenderResult{})
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	_, err := client.RenderSong(context.Background(), generation.RenderRequest{TextRef: "text/x"})
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)
}

func TestRateLimitResponsesStayDetectable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"quota exceeded"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	_, err := client.RenderDocument(context.Background(), generation.RenderRequest{TextRef: "text/x"})
	require.Error(t, err)

	// The limiter classifies rate limits from the stringified error, so the
	// client must keep the status code and retry hint in the message.
	assert.True(t, limiter.IsRateLimitError(err), "429 response must be detectable: %v", err)

	hint, ok := limiter.RetryAfterHint(err)
	require.True(t, ok)
	assert.Equal(t, 17*time.Second, hint)
}

func TestServerErrorsAreNotRateLimits(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("renderer crashed"))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	_, err := client.RenderDocument(context.Background(), generation.RenderRequest{TextRef: "text/x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.False(t, limiter.IsRateLimitError(err))
}
