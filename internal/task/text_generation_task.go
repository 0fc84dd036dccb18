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

// TextGenerationHandler executes source-stage tasks: it asks the text
// service for one section of the reading and records the text reference
// the downstream stages will resolve.
type TextGenerationHandler struct {
	texts   generation.TextGenerator
	limiter *limiter.Limiter
}

// NewTextGenerationHandler creates the handler for text generation tasks.
func NewTextGenerationHandler(texts generation.TextGenerator, lim *limiter.Limiter) *TextGenerationHandler {
	return &TextGenerationHandler{texts: texts, limiter: lim}
}

// Type implements Handler.
func (h *TextGenerationHandler) Type() string {
	return domain.TaskTypeTextGeneration
}

// Handle implements Handler.
func (h *TextGenerationHandler) Handle(ctx context.Context, t *domain.Task) (json.RawMessage, error) {
	var input pipeline.SourceInput
	if err := json.Unmarshal(t.Input, &input); err != nil {
		return nil, fmt.Errorf("failed to decode text generation input: %w", err)
	}

	var result *generation.TextResult
	err := h.limiter.Run(ctx, domain.TaskTypeTextGeneration, func(ctx context.Context) error {
		var genErr error
		result, genErr = h.texts.GenerateSection(ctx, generation.TextRequest{
			Subject:  input.Subject,
			Section:  input.Section,
			Category: input.Category,
		})
		return genErr
	})
	if err != nil {
		return nil, err
	}

	output, err := json.Marshal(pipeline.SourceOutput{
		TextRef:    result.TextRef,
		Title:      result.Title,
		DocumentID: input.DocumentID,
		Category:   input.Category,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode text generation output: %w", err)
	}

	return output, nil
}
