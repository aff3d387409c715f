package coordinator

import (
	"fmt"
	"time"

	"github.com/ecrowe/taskforge/pkg/models"
)

// TaskExecutionError wraps an agent failure with task context.
type TaskExecutionError struct {
	TaskID  string
	AgentID string
	Attempt int
	Err     error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s (agent %s, attempt %d): %v", e.TaskID, e.AgentID, e.Attempt, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// TimeoutError reports a task that overran its complexity-derived deadline.
// A timeout counts as a failure and is retryable.
type TimeoutError struct {
	TaskID   string
	Deadline time.Duration
	Attempt  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: exceeded %s deadline on attempt %d", e.TaskID, e.Deadline, e.Attempt)
}

// ResourceExhaustedError reports a ready task whose capability no agent can
// ever cover because the pool for it is empty and nothing else advertises it.
type ResourceExhaustedError struct {
	TaskID     string
	Capability models.Capability
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("task %s: no agent can ever serve capability %q", e.TaskID, e.Capability)
}
