package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are satisfied.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusScheduled indicates the task has been handed to an agent.
	TaskStatusScheduled TaskStatus = "scheduled"
	// TaskStatusRunning indicates an agent is executing the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed after exhausting retries.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusSkipped indicates the task was skipped because an ancestor failed.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusScheduled, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Complexity is a coarse estimate of how much work a task needs.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityTrivial, ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	default:
		return false
	}
}

// Capability identifies the kind of agent a task requires. The set is closed:
// anything outside these values is rejected at validation time.
type Capability string

const (
	CapabilityCodeWriting Capability = "code-writing"
	CapabilityResearch    Capability = "research"
	CapabilityTesting     Capability = "testing"
	CapabilityReview      Capability = "review"
	CapabilityGeneric     Capability = "generic"
)

// Valid returns true if the capability is a known value.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityCodeWriting, CapabilityResearch, CapabilityTesting,
		CapabilityReview, CapabilityGeneric:
		return true
	default:
		return false
	}
}

// Capabilities returns all valid capability values in a stable order.
func Capabilities() []Capability {
	return []Capability{
		CapabilityCodeWriting,
		CapabilityResearch,
		CapabilityTesting,
		CapabilityReview,
		CapabilityGeneric,
	}
}

// Task represents a unit of work in the dispatch engine.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Capability is the kind of agent required to execute the task.
	Capability Capability `json:"capability"`
	// Priority orders tasks within a ready set; higher runs first.
	Priority int `json:"priority"`
	// Complexity drives the execution deadline for the task.
	Complexity Complexity `json:"complexity"`
	// EstimatedDuration is the planning estimate used for critical-path analysis.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	// Artifacts lists the named outputs this task produces.
	Artifacts []string `json:"artifacts,omitempty"`
	// Requires lists artifact names this task consumes.
	Requires []string `json:"requires,omitempty"`
	// Resources lists exclusive resources the task holds while running.
	Resources []string `json:"resources,omitempty"`
	// BestEffort marks a task whose failure does not skip its dependents.
	BestEffort bool `json:"best_effort,omitempty"`
	// MaxRetries overrides the engine-wide retry limit when greater than zero.
	MaxRetries int `json:"max_retries,omitempty"`
	// Attempt is the number of execution attempts made so far.
	Attempt int `json:"attempt,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedAgent is the ID of the agent executing the task.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// Output is the result payload from a completed execution.
	Output string `json:"output,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// SkipReason names the failed ancestor when the task was skipped.
	SkipReason string `json:"skip_reason,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began, if it did.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// EndedAt is when the task reached a terminal status, if it did.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// RetryLimit returns the effective retry cap for the task given the
// engine-wide default.
func (t *Task) RetryLimit(engineDefault int) int {
	if t.MaxRetries > 0 {
		return t.MaxRetries
	}
	return engineDefault
}

// DependencyType classifies why one task must run before another.
type DependencyType string

const (
	// DependencyData means the upstream task produces an artifact the
	// downstream task consumes.
	DependencyData DependencyType = "data"
	// DependencyLogical means domain ordering rules require the sequencing.
	DependencyLogical DependencyType = "logical"
	// DependencyResource means the tasks contend for an exclusive resource.
	DependencyResource DependencyType = "resource"
)

// Valid returns true if the dependency type is a known value.
func (d DependencyType) Valid() bool {
	switch d {
	case DependencyData, DependencyLogical, DependencyResource:
		return true
	default:
		return false
	}
}

// Precedence orders dependency types for deduplication; higher wins.
func (d DependencyType) Precedence() int {
	switch d {
	case DependencyData:
		return 3
	case DependencyLogical:
		return 2
	case DependencyResource:
		return 1
	default:
		return 0
	}
}

// Dependency is a directed edge: From must finish before To may start.
type Dependency struct {
	// From is the upstream task ID.
	From string `json:"from"`
	// To is the downstream task ID.
	To string `json:"to"`
	// Type classifies the edge.
	Type DependencyType `json:"type"`
	// Confidence is the resolver's confidence in the edge, in [0,1].
	Confidence float64 `json:"confidence"`
	// Rule records which resolver rule produced the edge, or "model".
	Rule string `json:"rule,omitempty"`
}
