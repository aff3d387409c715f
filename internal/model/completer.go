// Package model wraps the Anthropic API behind the small Completer interface
// the rest of the engine consumes. Components that take model assistance
// (decomposition, dependency refinement, agent execution) depend on
// Completer, never on the SDK, so tests inject deterministic stand-ins.
package model

import (
	"context"
	"errors"
)

// ErrNoBackend is returned when a component needs a model call but no
// backend was configured.
var ErrNoBackend = errors.New("no model backend configured")

// Completer is a text-in/text-out model backend.
type Completer interface {
	// Complete sends a prompt and returns the text response.
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteWithSystem sends a prompt under a system message.
	CompleteWithSystem(ctx context.Context, system, prompt string) (string, error)
}
