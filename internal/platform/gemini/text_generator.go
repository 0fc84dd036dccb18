package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/google/uuid"
	"github.com/mikububu/readings-engine/internal/config"
	"github.com/mikububu/readings-engine/internal/generation"
	"google.golang.org/genai"
)

// defaultPromptTemplate asks for a JSON object so the response parses
// without post-processing.
const defaultPromptTemplate = `Write the "{{.Section}}" section of a long-form reading about {{.Subject}}.
{{if .Category}}The section belongs to the "{{.Category}}" category.{{end}}
Respond with a JSON object: {"title": "<display title>", "text": "<the section text>"}.`

// TextGenerator implements generation.TextGenerator using the Gemini API.
type TextGenerator struct {
	logger         *slog.Logger
	client         *genai.Client
	model          string
	promptTemplate *template.Template
}

// NewTextGenerator creates a TextGenerator from the generation config.
func NewTextGenerator(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.GenerationConfig,
) (*TextGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	promptTemplate, err := template.New("reading_section").Parse(defaultPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v",
			generation.ErrInvalidConfig, err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &TextGenerator{
		logger:         logger.With("component", "gemini_text_generator"),
		client:         client,
		model:          cfg.ModelName,
		promptTemplate: promptTemplate,
	}, nil
}

// sectionResponse is the JSON shape the prompt asks the model for.
type sectionResponse struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// GenerateSection produces one text section for a reading. Errors pass
// through unwrapped enough for the limiter's rate-limit detection to see
// the vendor's 429 phrasing.
func (g *TextGenerator) GenerateSection(
	ctx context.Context,
	req generation.TextRequest,
) (*generation.TextResult, error) {
	if req.Subject == "" {
		return nil, fmt.Errorf("%w: subject cannot be empty", generation.ErrGenerationFailed)
	}
	if req.Section == "" {
		return nil, fmt.Errorf("%w: section cannot be empty", generation.ErrGenerationFailed)
	}

	var promptBuffer bytes.Buffer
	if err := g.promptTemplate.Execute(&promptBuffer, req); err != nil {
		return nil, fmt.Errorf("failed to execute prompt template: %w", err)
	}

	g.logger.DebugContext(ctx, "calling Gemini",
		"model", g.model,
		"section", req.Section)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(promptBuffer.String()), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini call failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: finish reason safety", generation.ErrContentBlocked)
	}

	text := ""
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text += part.Text
		}
	}

	var parsed sectionResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v",
			generation.ErrInvalidResponse, err)
	}
	if parsed.Text == "" {
		return nil, fmt.Errorf("%w: response carried no text", generation.ErrInvalidResponse)
	}

	return &generation.TextResult{
		TextRef: fmt.Sprintf("text/%s", uuid.New()),
		Title:   parsed.Title,
		Text:    parsed.Text,
	}, nil
}
