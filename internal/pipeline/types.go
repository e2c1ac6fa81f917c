// Package pipeline implements the staged multi-model build system:
// spec, architect, parallel build, review, write. The router model stays
// loaded throughout so chat keeps working while a build runs.
package pipeline

import (
	"context"
	"encoding/json"
	"strings"
)

// Spec is the phase-1 output: a distilled build specification.
type Spec struct {
	Project      string   `json:"project"`
	Description  string   `json:"description"`
	Requirements []string `json:"requirements"`
	Files        []string `json:"files"`
	Language     string   `json:"language"`
	OutputDir    string   `json:"output_dir"`
}

// FileTask is one file assignment in the architect's plan.
type FileTask struct {
	Path        string   `json:"path"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
}

// WorkerPlan is one worker's share of the build.
type WorkerPlan struct {
	Files []FileTask `json:"files"`
}

// Plan is the phase-2 output: structure plus the heavy/light work split.
type Plan struct {
	Architecture     string     `json:"architecture"`
	WorkerHeavy      WorkerPlan `json:"worker_heavy"`
	WorkerLight      WorkerPlan `json:"worker_light"`
	IntegrationNotes string     `json:"integration_notes"`
}

// Issue is one review finding.
type Issue struct {
	File  string `json:"file"`
	Issue string `json:"issue"`
	Fix   string `json:"fix"`
}

// Review is the phase-4 output.
type Review struct {
	Verdict string  `json:"verdict"`
	Issues  []Issue `json:"issues"`
	Summary string  `json:"summary"`
}

// ModelHost is the inference and VRAM management surface the pipeline
// drives. Satisfied by providers.Ollama.
type ModelHost interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	Warm(ctx context.Context, model string) error
	Unload(ctx context.Context, model string) error
	UnloadAllExcept(ctx context.Context, keep ...string) error
}

// Reporter receives pipeline progress. Implementations must be safe for
// concurrent use — the build phase reports from two goroutines.
type Reporter interface {
	Phase(num, total int, label string)
	Status(msg string)
	OK(msg string)
	Fail(msg string)
}

// NopReporter discards all progress.
type NopReporter struct{}

func (NopReporter) Phase(int, int, string) {}
func (NopReporter) Status(string)          {}
func (NopReporter) OK(string)              {}
func (NopReporter) Fail(string)            {}

// ExtractJSON pulls the first complete JSON object out of model output,
// tolerating markdown fences and surrounding prose. Returns false when no
// parseable object exists.
func ExtractJSON(text string, v any) bool {
	text = strings.TrimSpace(text)
	if _, after, ok := strings.Cut(text, "```json"); ok {
		text = after
	}
	if before, _, ok := strings.Cut(text, "```"); ok {
		text = before
	}
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return false
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return json.Unmarshal([]byte(text[start:i+1]), v) == nil
			}
		}
	}
	return false
}
