// Package agent provides the worker side of the engine: capability-typed
// executors backed by the model client, the factory that spawns them, and
// the bounded per-capability pools the coordinator draws from.
package agent

import (
	"context"
	"fmt"

	"github.com/ecrowe/taskforge/internal/model"
	"github.com/ecrowe/taskforge/pkg/models"
)

// Executor performs one task and returns its output.
type Executor interface {
	Execute(ctx context.Context, task models.Task) (string, error)
}

// Builder constructs an executor for a capability. External plugins
// register builders to replace or extend the defaults.
type Builder func(completer model.Completer) Executor

// systemPrompts gives each capability its own execution framing.
var systemPrompts = map[models.Capability]string{
	models.CapabilityCodeWriting: "You are a software engineer. Produce working, idiomatic code that satisfies the task. Output only the deliverable.",
	models.CapabilityResearch:    "You are a technical researcher. Investigate the task and report findings as concise, actionable notes.",
	models.CapabilityTesting:     "You are a test engineer. Design and write tests that verify the described behavior, covering the edge cases.",
	models.CapabilityReview:      "You are a code reviewer. Assess the work described by the task and report defects and risks, most severe first.",
	models.CapabilityGeneric:     "You are a capable assistant. Complete the task as described.",
}

// modelExecutor runs a task as a single completion under a
// capability-specific system prompt.
type modelExecutor struct {
	capability models.Capability
	completer  model.Completer
}

// NewModelExecutor returns the default executor for a capability.
func NewModelExecutor(capability models.Capability, completer model.Completer) Executor {
	return &modelExecutor{capability: capability, completer: completer}
}

func (e *modelExecutor) Execute(ctx context.Context, task models.Task) (string, error) {
	if e.completer == nil {
		return "", fmt.Errorf("execute task %s: %w", task.ID, model.ErrNoBackend)
	}
	prompt := fmt.Sprintf("Task: %s\n\n%s", task.Title, task.Description)
	if len(task.Requires) > 0 {
		prompt += fmt.Sprintf("\n\nInputs available: %v", task.Requires)
	}
	if len(task.Artifacts) > 0 {
		prompt += fmt.Sprintf("\n\nExpected outputs: %v", task.Artifacts)
	}

	system := systemPrompts[e.capability]
	if system == "" {
		system = systemPrompts[models.CapabilityGeneric]
	}

	output, err := e.completer.CompleteWithSystem(ctx, system, prompt)
	if err != nil {
		return "", fmt.Errorf("execute task %s: %w", task.ID, err)
	}
	return output, nil
}

// defaultBuilders maps every capability to its stock executor.
func defaultBuilders() map[models.Capability]Builder {
	builders := make(map[models.Capability]Builder, len(models.Capabilities()))
	for _, c := range models.Capabilities() {
		capability := c
		builders[capability] = func(completer model.Completer) Executor {
			return NewModelExecutor(capability, completer)
		}
	}
	return builders
}
