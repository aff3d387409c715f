package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ecrowe/taskforge/pkg/models"
)

// decompositionPrompt is the prompt template for model-assisted decomposition.
const decompositionPrompt = `Break this specification into parallelizable subtasks. Each task should be sized for a single agent to complete.

Specification:
%s

Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "title": "Short task title",
    "description": "Detailed task description",
    "capability": "code-writing | research | testing | review | generic",
    "priority": 5,
    "complexity": "trivial | simple | moderate | complex",
    "artifacts": ["names of outputs this task produces"],
    "requires": ["names of artifacts this task consumes"],
    "resources": ["exclusive resources this task holds, e.g. a config file"]
  }
]

Guidelines:
- Tasks should be as independent as possible to allow parallel execution
- Express ordering through artifacts and requires, not prose
- capability must be one of the five listed values exactly
- priority is 0-10, higher runs first
- Each task should be completable by a single agent in one session`

// decomposedTask is the JSON structure the model returns for a single task.
type decomposedTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Capability  string   `json:"capability"`
	Priority    int      `json:"priority"`
	Complexity  string   `json:"complexity"`
	Artifacts   []string `json:"artifacts"`
	Requires    []string `json:"requires"`
	Resources   []string `json:"resources"`
}

// modelDecompose asks the backend for a breakdown and validates it strictly.
// Any invalid response is an error so the caller can fall back.
func (d *Decomposer) modelDecompose(ctx context.Context, spec string) ([]*models.Task, error) {
	prompt := fmt.Sprintf(decompositionPrompt, spec)

	response, err := d.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	tasks, err := parseDecomposition(response)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// parseDecomposition extracts and validates the JSON task array from a model
// response. The model may wrap the array in extra text.
func parseDecomposition(response string) ([]*models.Task, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, &DecompositionError{Reason: "no JSON array found in model response", RawOutput: response}
	}
	jsonStr := response[jsonStart : jsonEnd+1]

	var decomposed []decomposedTask
	if err := json.Unmarshal([]byte(jsonStr), &decomposed); err != nil {
		return nil, &DecompositionError{Reason: fmt.Sprintf("unmarshal model response: %v", err), RawOutput: response}
	}
	if len(decomposed) == 0 {
		return nil, &DecompositionError{Reason: "model returned an empty task list", RawOutput: response}
	}

	now := time.Now()
	seen := make(map[string]bool, len(decomposed))
	tasks := make([]*models.Task, len(decomposed))
	for i, dt := range decomposed {
		title := strings.TrimSpace(dt.Title)
		if title == "" {
			return nil, &DecompositionError{Reason: fmt.Sprintf("task %d has an empty title", i), RawOutput: response}
		}
		if seen[title] {
			return nil, &DecompositionError{Reason: fmt.Sprintf("duplicate task title %q", title), RawOutput: response}
		}
		seen[title] = true

		capability := models.Capability(dt.Capability)
		if !capability.Valid() {
			return nil, &DecompositionError{Reason: fmt.Sprintf("task %q has unknown capability %q", title, dt.Capability), RawOutput: response}
		}

		complexity := models.Complexity(dt.Complexity)
		if !complexity.Valid() {
			complexity = models.ComplexitySimple
		}

		priority := dt.Priority
		if priority < 0 {
			priority = 0
		}
		if priority > 10 {
			priority = 10
		}

		tasks[i] = &models.Task{
			ID:          uuid.New().String(),
			Title:       title,
			Description: dt.Description,
			Capability:  capability,
			Priority:    priority,
			Complexity:  complexity,
			Artifacts:   dt.Artifacts,
			Requires:    dt.Requires,
			Resources:   dt.Resources,
			Status:      models.TaskStatusPending,
			CreatedAt:   now,
		}
	}
	return tasks, nil
}
