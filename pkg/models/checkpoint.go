package models

import "time"

// CheckpointSchemaVersion is the document format version written into every
// checkpoint. Restore rejects documents with a different version.
const CheckpointSchemaVersion = 1

// Checkpoint is a point-in-time snapshot of a run, sufficient to resume it.
type Checkpoint struct {
	// ID is the unique identifier for this checkpoint.
	ID string `json:"id"`
	// RunID identifies the run the snapshot belongs to.
	RunID string `json:"run_id"`
	// SchemaVersion is the document format version.
	SchemaVersion int `json:"schema_version"`
	// Reason records why the checkpoint was taken (interval, pre-run, final, manual).
	Reason string `json:"reason"`
	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time `json:"created_at"`
	// Tasks is the full task set at snapshot time.
	Tasks []Task `json:"tasks"`
	// Edges is the frozen dependency edge set.
	Edges []Dependency `json:"edges"`
	// Queue is the ready queue content, in order, at snapshot time.
	Queue []string `json:"queue,omitempty"`
	// Metrics is the run metrics snapshot at checkpoint time.
	Metrics RunMetrics `json:"metrics"`
	// Digest is the hex SHA-256 of the canonical document body, used to
	// detect corruption on restore.
	Digest string `json:"digest,omitempty"`
}

// RunMetrics aggregates live counters for a run.
type RunMetrics struct {
	// StatusCounts maps each task status to the number of tasks in it.
	StatusCounts map[TaskStatus]int `json:"status_counts"`
	// TotalAttempts counts every execution attempt, including retries.
	TotalAttempts int `json:"total_attempts"`
	// QueueDepth is the current ready-queue length.
	QueueDepth int `json:"queue_depth"`
	// BusyAgents is the number of agents currently executing.
	BusyAgents int `json:"busy_agents"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// WallTime is elapsed time since the run began.
	WallTime time.Duration `json:"wall_time"`
}

// Result is the aggregated outcome of a completed run.
type Result struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`
	// Tasks is the final task set, terminal statuses included.
	Tasks []Task `json:"tasks"`
	// StatusCounts maps each terminal status to its task count.
	StatusCounts map[TaskStatus]int `json:"status_counts"`
	// WallTime is the total run duration.
	WallTime time.Duration `json:"wall_time"`
	// CriticalPath lists the task IDs on the longest estimated path.
	CriticalPath []string `json:"critical_path,omitempty"`
	// CriticalPathLength is the summed estimate along the critical path.
	CriticalPathLength time.Duration `json:"critical_path_length,omitempty"`
	// ParallelEfficiency is the ratio of summed task time to wall time,
	// normalized by the worker cap; 1.0 means perfectly parallel.
	ParallelEfficiency float64 `json:"parallel_efficiency,omitempty"`
}

// Succeeded reports whether every non-best-effort task completed.
func (r *Result) Succeeded() bool {
	for i := range r.Tasks {
		t := &r.Tasks[i]
		if t.BestEffort {
			continue
		}
		if t.Status != TaskStatusCompleted {
			return false
		}
	}
	return true
}
