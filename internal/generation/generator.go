package generation

import "context"

// TextRequest asks the text service for one section of a reading.
type TextRequest struct {
	// Subject identifies whom or what the reading is about, taken from
	// the job's parameter bag.
	Subject string `json:"subject"`

	// Section names the section of the reading this task produces.
	Section string `json:"section"`

	// Category groups the section for display purposes.
	Category string `json:"category,omitempty"`
}

// TextResult is the output of one text-generation call.
type TextResult struct {
	// TextRef is an opaque reference to the stored generated text that
	// downstream stages resolve.
	TextRef string `json:"text_ref"`

	// Title is the display title the service produced for the section.
	Title string `json:"title,omitempty"`

	// Text is the generated content itself.
	Text string `json:"text"`
}

// TextGenerator is the boundary to the text generation service used by the
// source stage.
type TextGenerator interface {
	// GenerateSection produces one text section for a reading.
	GenerateSection(ctx context.Context, req TextRequest) (*TextResult, error)
}

// RenderRequest asks the media service to derive an artifact from a
// previously generated text section.
type RenderRequest struct {
	// TextRef references the source text.
	TextRef string `json:"text_ref"`

	// Title is forwarded display metadata.
	Title string `json:"title,omitempty"`

	// Voice selects the narration voice, for stages that speak.
	Voice string `json:"voice,omitempty"`
}

// RenderResult is the output of one media rendering call.
type RenderResult struct {
	// ArtifactRef is an opaque reference to the produced artifact
	// (a PDF, an audio file, a song).
	ArtifactRef string `json:"artifact_ref"`

	// DurationSeconds is set for audio artifacts.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// MediaRenderer is the boundary to the media rendering service used by the
// downstream stages.
type MediaRenderer interface {
	// RenderDocument renders the text into a PDF document.
	RenderDocument(ctx context.Context, req RenderRequest) (*RenderResult, error)

	// NarrateAudio produces narrated audio of the text.
	NarrateAudio(ctx context.Context, req RenderRequest) (*RenderResult, error)

	// RenderSong derives a song artifact from the text.
	RenderSong(ctx context.Context, req RenderRequest) (*RenderResult, error)
}
