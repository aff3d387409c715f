// Package state provides SQLite-backed run state, the authoritative task
// state machine, and checkpoint/restore.
package state

import (
	"io"

	"github.com/ecrowe/taskforge/pkg/models"
)

// RunStore handles run-level persistence operations.
type RunStore interface {
	CreateRun(id, spec string) error
	FinishRun(id, status string) error
}

// TaskStore handles task-level persistence operations.
type TaskStore interface {
	UpsertTask(runID string, t *models.Task) error
	GetTask(id string) (*models.Task, error)
	ListTasksByRun(runID string) ([]models.Task, error)
}

// EventStore records every task status transition.
type EventStore interface {
	AppendEvent(runID, taskID string, from, to models.TaskStatus, attempt int, detail string) error
	CountEvents(runID string) (int, error)
}

// CheckpointIndex tracks checkpoint documents on disk.
type CheckpointIndex interface {
	IndexCheckpoint(cp *models.Checkpoint, path string) error
	LookupCheckpoint(id string) (path string, digest string, err error)
	ListCheckpoints(runID string) ([]CheckpointInfo, error)
	DeleteCheckpoint(id string) error
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for run-state persistence. It composes
// focused sub-interfaces so callers can depend on just what they use.
type Store interface {
	io.Closer
	Migrator
	RunStore
	TaskStore
	EventStore
	CheckpointIndex
}

// CheckpointInfo is one row of the checkpoint index.
type CheckpointInfo struct {
	ID        string
	RunID     string
	Reason    string
	Path      string
	Digest    string
	CreatedAt string
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store           = (*DB)(nil)
	_ Migrator        = (*DB)(nil)
	_ RunStore        = (*DB)(nil)
	_ TaskStore       = (*DB)(nil)
	_ EventStore      = (*DB)(nil)
	_ CheckpointIndex = (*DB)(nil)
)
