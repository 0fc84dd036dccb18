package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mikububu/readings-engine/internal/domain"
)

// StageSpec describes one downstream stage derived from the source stage.
type StageSpec struct {
	// TaskType identifies which executor handles tasks of this stage.
	TaskType string

	// SequenceOffset is added to the source task's sequence so that
	// downstream tasks stay grouped with their source and never collide
	// with another stage's range.
	SequenceOffset int

	// MaxAttempts is the retry budget for tasks of this stage.
	MaxAttempts int

	// HeartbeatTimeoutSeconds bounds how long a claimed task of this stage
	// may go without heartbeating. Stages that call slow generative APIs
	// get a longer window; CPU-bound rendering gets a short one so crashed
	// workers are detected quickly.
	HeartbeatTimeoutSeconds int
}

// Source stage parameters.
const (
	SourceTaskType                = domain.TaskTypeTextGeneration
	SourceMaxAttempts             = 3
	SourceHeartbeatTimeoutSeconds = 900
)

// downstreamStages is the fixed downstream graph for reading jobs.
// Sequence offsets are spaced by 100 so a job can carry up to 100 source
// tasks without ranges overlapping.
var downstreamStages = []StageSpec{
	{
		TaskType:                domain.TaskTypeDocumentRender,
		SequenceOffset:          100,
		MaxAttempts:             3,
		HeartbeatTimeoutSeconds: 300,
	},
	{
		TaskType:                domain.TaskTypeAudioNarration,
		SequenceOffset:          200,
		MaxAttempts:             3,
		HeartbeatTimeoutSeconds: 1800,
	},
	{
		TaskType:                domain.TaskTypeSongRender,
		SequenceOffset:          300,
		MaxAttempts:             3,
		HeartbeatTimeoutSeconds: 1800,
	},
}

// IsSourceStage reports whether the given task type belongs to the source
// (text generation) stage whose completion gates the downstream fan-out.
func IsSourceStage(taskType string) bool {
	return taskType == SourceTaskType
}

// DownstreamStages returns the downstream stage specs for the given job
// type. Only reading jobs are defined; unknown job types have no
// downstream stages.
func DownstreamStages(jobType string) []StageSpec {
	if jobType != domain.JobTypeReading {
		return nil
	}
	specs := make([]StageSpec, len(downstreamStages))
	copy(specs, downstreamStages)
	return specs
}

// DownstreamTaskTypes returns just the task type names of the downstream
// stages for the given job type, used by the cascade's idempotency guard.
func DownstreamTaskTypes(jobType string) []string {
	specs := DownstreamStages(jobType)
	types := make([]string, 0, len(specs))
	for _, spec := range specs {
		types = append(types, spec.TaskType)
	}
	return types
}

// AllTaskTypes returns every task type a worker may claim.
func AllTaskTypes() []string {
	types := []string{SourceTaskType}
	for _, spec := range downstreamStages {
		types = append(types, spec.TaskType)
	}
	return types
}

// ReadingParams is the job-level parameter bag of a reading job: the
// inputs every stage needs, fixed at submission time.
type ReadingParams struct {
	Subject  string        `json:"subject"`
	Voice    string        `json:"voice,omitempty"`
	Sections []SectionSpec `json:"sections"`
}

// SectionSpec names one text section the source stage must produce.
type SectionSpec struct {
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// SourceInput is the input payload of a source (text generation) task.
type SourceInput struct {
	Subject    string `json:"subject"`
	Section    string `json:"section"`
	Category   string `json:"category,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// BuildSourceTasks constructs the source-stage task set for a new reading
// job: one text-generation task per requested section, sequences starting
// at 1.
func BuildSourceTasks(jobID uuid.UUID, params ReadingParams) ([]*domain.Task, error) {
	if len(params.Sections) == 0 {
		return nil, fmt.Errorf("reading job requires at least one section")
	}

	tasks := make([]*domain.Task, 0, len(params.Sections))
	for i, section := range params.Sections {
		input, err := json.Marshal(SourceInput{
			Subject:    params.Subject,
			Section:    section.Name,
			Category:   section.Category,
			DocumentID: section.DocumentID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode source input for section %q: %w", section.Name, err)
		}

		task, err := domain.NewTask(
			jobID,
			SourceTaskType,
			i+1,
			input,
			SourceMaxAttempts,
			SourceHeartbeatTimeoutSeconds,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build source task for section %q: %w", section.Name, err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// SourceOutput is the output payload a completed text-generation task is
// expected to carry. Downstream stages need the text reference plus display
// metadata, so the cascade forwards these fields into downstream inputs.
type SourceOutput struct {
	TextRef    string `json:"text_ref"`
	Title      string `json:"title,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Category   string `json:"category,omitempty"`
}

// DownstreamInput is the input payload of a fanned-out downstream task.
// It references the source task and carries forward the fields the stage
// handler needs, alongside the job-level parameter bag.
type DownstreamInput struct {
	SourceTaskID uuid.UUID       `json:"source_task_id"`
	TextRef      string          `json:"text_ref"`
	Title        string          `json:"title,omitempty"`
	DocumentID   string          `json:"document_id,omitempty"`
	Category     string          `json:"category,omitempty"`
	JobParams    json.RawMessage `json:"job_params,omitempty"`
}

// BuildFanOut constructs the complete downstream task set for a job whose
// source stage just finished: one task per (source task, downstream stage)
// pair, in stage order then sequence order. Source tasks must all be
// complete; their outputs supply the forwarded fields.
func BuildFanOut(
	jobType string,
	jobParams json.RawMessage,
	sourceTasks []*domain.Task,
) ([]*domain.Task, error) {
	specs := DownstreamStages(jobType)
	if len(specs) == 0 {
		return nil, nil
	}

	ordered := make([]*domain.Task, len(sourceTasks))
	copy(ordered, sourceTasks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	fanOut := make([]*domain.Task, 0, len(specs)*len(ordered))
	for _, spec := range specs {
		for _, src := range ordered {
			if src.Status != domain.TaskStatusComplete {
				return nil, fmt.Errorf(
					"source task %s is %s, fan-out requires a fully complete source stage",
					src.ID, src.Status,
				)
			}

			var out SourceOutput
			if len(src.Output) > 0 {
				if err := json.Unmarshal(src.Output, &out); err != nil {
					return nil, fmt.Errorf("failed to decode output of source task %s: %w", src.ID, err)
				}
			}

			input, err := json.Marshal(DownstreamInput{
				SourceTaskID: src.ID,
				TextRef:      out.TextRef,
				Title:        out.Title,
				DocumentID:   out.DocumentID,
				Category:     out.Category,
				JobParams:    jobParams,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode downstream input for source task %s: %w", src.ID, err)
			}

			task, err := domain.NewTask(
				src.JobID,
				spec.TaskType,
				src.Sequence+spec.SequenceOffset,
				input,
				spec.MaxAttempts,
				spec.HeartbeatTimeoutSeconds,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to build %s task for source task %s: %w", spec.TaskType, src.ID, err)
			}

			fanOut = append(fanOut, task)
		}
	}

	return fanOut, nil
}
