// Package decompose turns a free-form specification into executable tasks.
// The model-assisted path asks the configured backend for a structured
// breakdown; when the model is unavailable or returns unusable output, the
// deterministic rule-based decomposer takes over.
package decompose

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ecrowe/taskforge/internal/model"
	"github.com/ecrowe/taskforge/pkg/models"
)

// DecompositionError reports why a specification could not be decomposed.
type DecompositionError struct {
	// Reason is the human-readable failure cause.
	Reason string
	// RawOutput holds the unusable model response, when the model path failed.
	RawOutput string
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decomposition failed: %s", e.Reason)
}

// Decomposer breaks a specification into parallelizable subtasks.
type Decomposer struct {
	// completer is the optional model backend. Nil selects rule-based only.
	completer model.Completer
}

// New creates a Decomposer. completer may be nil to force the rule-based path.
func New(completer model.Completer) *Decomposer {
	return &Decomposer{completer: completer}
}

// Decompose produces the task set for a specification. The specification
// must be non-empty; everything else yields at least one task.
func (d *Decomposer) Decompose(ctx context.Context, spec string) ([]*models.Task, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, &DecompositionError{Reason: "specification is empty"}
	}

	if d.completer != nil {
		tasks, err := d.modelDecompose(ctx, spec)
		if err == nil {
			return tasks, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[decompose] model path failed, using rule-based fallback: %v", err)
	}

	return ruleDecompose(spec), nil
}
