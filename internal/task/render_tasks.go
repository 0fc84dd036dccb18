package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mikububu/readings-engine/internal/domain"
	"github.com/mikububu/readings-engine/internal/generation"
	"github.com/mikububu/readings-engine/internal/limiter"
	"github.com/mikububu/readings-engine/internal/pipeline"
)

// renderHandler is the shared shape of the three downstream stages: decode
// the fanned-out input, call one media rendering operation through the
// limiter, record the artifact reference.
type renderHandler struct {
	taskType string
	limiter  *limiter.Limiter
	render   func(ctx context.Context, req generation.RenderRequest) (*generation.RenderResult, error)
}

// NewDocumentRenderHandler creates the handler for PDF rendering tasks.
func NewDocumentRenderHandler(media generation.MediaRenderer, lim *limiter.Limiter) Handler {
	return &renderHandler{
		taskType: domain.TaskTypeDocumentRender,
		limiter:  lim,
		render:   media.RenderDocument,
	}
}

// NewAudioNarrationHandler creates the handler for audio narration tasks.
func NewAudioNarrationHandler(media generation.MediaRenderer, lim *limiter.Limiter) Handler {
	return &renderHandler{
		taskType: domain.TaskTypeAudioNarration,
		limiter:  lim,
		render:   media.NarrateAudio,
	}
}

// NewSongRenderHandler creates the handler for song rendering tasks.
func NewSongRenderHandler(media generation.MediaRenderer, lim *limiter.Limiter) Handler {
	return &renderHandler{
		taskType: domain.TaskTypeSongRender,
		limiter:  lim,
		render:   media.RenderSong,
	}
}

// Type implements Handler.
func (h *renderHandler) Type() string {
	return h.taskType
}

// Handle implements Handler.
func (h *renderHandler) Handle(ctx context.Context, t *domain.Task) (json.RawMessage, error) {
	var input pipeline.DownstreamInput
	if err := json.Unmarshal(t.Input, &input); err != nil {
		return nil, fmt.Errorf("failed to decode %s input: %w", h.taskType, err)
	}
	if input.TextRef == "" {
		return nil, fmt.Errorf("%s task %s has no source text reference", h.taskType, t.ID)
	}

	var params pipeline.ReadingParams
	if len(input.JobParams) > 0 {
		if err := json.Unmarshal(input.JobParams, &params); err != nil {
			return nil, fmt.Errorf("failed to decode job params for %s: %w", h.taskType, err)
		}
	}

	var result *generation.RenderResult
	err := h.limiter.Run(ctx, h.taskType, func(ctx context.Context) error {
		var renderErr error
		result, renderErr = h.render(ctx, generation.RenderRequest{
			TextRef: input.TextRef,
			Title:   input.Title,
			Voice:   params.Voice,
		})
		return renderErr
	})
	if err != nil {
		return nil, err
	}

	output, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s output: %w", h.taskType, err)
	}

	return output, nil
}
