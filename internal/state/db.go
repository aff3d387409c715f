package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ecrowe/taskforge/pkg/models"
)

// DB wraps an SQLite database connection with run-state operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the default database location.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "taskforge", "state.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Runs},
		{2, migrationV2Tasks},
		{3, migrationV3Events},
		{4, migrationV4Checkpoints},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	spec TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	started_at DATETIME NOT NULL,
	ended_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	capability TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	complexity TEXT,
	artifacts TEXT,
	requires TEXT,
	resources TEXT,
	best_effort INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	attempt INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	assigned_agent TEXT,
	output TEXT,
	error TEXT,
	skip_reason TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	ended_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_run_id ON tasks(run_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const migrationV3Events = `
CREATE TABLE IF NOT EXISTS task_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	old_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	attempt INTEGER NOT NULL DEFAULT 0,
	detail TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_events_run_id ON task_events(run_id);
CREATE INDEX IF NOT EXISTS idx_task_events_task_id ON task_events(task_id);
`

const migrationV4Checkpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	path TEXT NOT NULL,
	digest TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
`

// CreateRun inserts a run row.
func (db *DB) CreateRun(id, spec string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		"INSERT INTO runs (id, spec, status, started_at) VALUES (?, ?, 'running', ?)",
		id, spec, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with the given status.
func (db *DB) FinishRun(id, status string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		"UPDATE runs SET status = ?, ended_at = ? WHERE id = ?",
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// UpsertTask writes the current state of a task.
func (db *DB) UpsertTask(runID string, t *models.Task) error {
	artifacts, _ := json.Marshal(t.Artifacts)
	requires, _ := json.Marshal(t.Requires)
	resources, _ := json.Marshal(t.Resources)

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`
		INSERT INTO tasks (
			id, run_id, title, description, capability, priority, complexity,
			artifacts, requires, resources, best_effort, max_retries, attempt,
			status, assigned_agent, output, error, skip_reason,
			created_at, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			attempt = excluded.attempt,
			status = excluded.status,
			assigned_agent = excluded.assigned_agent,
			output = excluded.output,
			error = excluded.error,
			skip_reason = excluded.skip_reason,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at`,
		t.ID, runID, t.Title, t.Description, string(t.Capability), t.Priority,
		string(t.Complexity), string(artifacts), string(requires), string(resources),
		boolToInt(t.BestEffort), t.MaxRetries, t.Attempt, string(t.Status),
		t.AssignedAgent, t.Output, t.Error, t.SkipReason,
		t.CreatedAt.UTC(), timePtr(t.StartedAt), timePtr(t.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads a task by ID.
func (db *DB) GetTask(id string) (*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	row := db.conn.QueryRow(taskSelect+" WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return t, err
}

// ListTasksByRun loads every task for a run, ordered by creation.
func (db *DB) ListTasksByRun(runID string) ([]models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rows, err := db.conn.Query(taskSelect+" WHERE run_id = ? ORDER BY created_at, id", runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

const taskSelect = `
	SELECT id, title, description, capability, priority, complexity,
	       artifacts, requires, resources, best_effort, max_retries, attempt,
	       status, assigned_agent, output, error, skip_reason,
	       created_at, started_at, ended_at
	FROM tasks`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var t models.Task
	var capability, complexity, status string
	var artifacts, requires, resources sql.NullString
	var description, agent, output, errMsg, skip sql.NullString
	var bestEffort int
	var startedAt, endedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Title, &description, &capability, &t.Priority, &complexity,
		&artifacts, &requires, &resources, &bestEffort, &t.MaxRetries, &t.Attempt,
		&status, &agent, &output, &errMsg, &skip,
		&t.CreatedAt, &startedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Capability = models.Capability(capability)
	t.Complexity = models.Complexity(complexity)
	t.BestEffort = bestEffort != 0
	t.Status = models.TaskStatus(status)
	t.AssignedAgent = agent.String
	t.Output = output.String
	t.Error = errMsg.String
	t.SkipReason = skip.String
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		t.EndedAt = &endedAt.Time
	}
	if artifacts.Valid {
		json.Unmarshal([]byte(artifacts.String), &t.Artifacts)
	}
	if requires.Valid {
		json.Unmarshal([]byte(requires.String), &t.Requires)
	}
	if resources.Valid {
		json.Unmarshal([]byte(resources.String), &t.Resources)
	}
	return &t, nil
}

// AppendEvent records a task status transition.
func (db *DB) AppendEvent(runID, taskID string, from, to models.TaskStatus, attempt int, detail string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		"INSERT INTO task_events (run_id, task_id, old_status, new_status, attempt, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		runID, taskID, string(from), string(to), attempt, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// CountEvents returns the number of recorded transitions for a run.
func (db *DB) CountEvents(runID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var n int
	row := db.conn.QueryRow("SELECT COUNT(*) FROM task_events WHERE run_id = ?", runID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// IndexCheckpoint records a checkpoint document's location and digest.
func (db *DB) IndexCheckpoint(cp *models.Checkpoint, path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		"INSERT INTO checkpoints (id, run_id, reason, path, digest, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		cp.ID, cp.RunID, cp.Reason, path, cp.Digest, cp.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("index checkpoint: %w", err)
	}
	return nil
}

// LookupCheckpoint returns the document path and expected digest for a
// checkpoint ID.
func (db *DB) LookupCheckpoint(id string) (string, string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var path, digest string
	row := db.conn.QueryRow("SELECT path, digest FROM checkpoints WHERE id = ?", id)
	if err := row.Scan(&path, &digest); err != nil {
		if err == sql.ErrNoRows {
			return "", "", fmt.Errorf("checkpoint %s not found", id)
		}
		return "", "", fmt.Errorf("lookup checkpoint: %w", err)
	}
	return path, digest, nil
}

// ListCheckpoints returns the index rows for a run, newest first. An empty
// runID lists everything.
func (db *DB) ListCheckpoints(runID string) ([]CheckpointInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := "SELECT id, run_id, reason, path, digest, created_at FROM checkpoints"
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointInfo
	for rows.Next() {
		var info CheckpointInfo
		if err := rows.Scan(&info.ID, &info.RunID, &info.Reason, &info.Path, &info.Digest, &info.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteCheckpoint removes an index row.
func (db *DB) DeleteCheckpoint(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec("DELETE FROM checkpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
