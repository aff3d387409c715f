// Package history keeps an append-only record of finished runs, separate
// from the live state database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ecrowe/taskforge/pkg/models"
)

// Record is one finished run.
type Record struct {
	RunID              string
	SpecDigest         string
	TotalTasks         int
	Completed          int
	Failed             int
	Skipped            int
	Cancelled          int
	WallTime           time.Duration
	CriticalPathLength time.Duration
	ParallelEfficiency float64
	FinishedAt         time.Time
}

// Stats aggregates the recorded runs.
type Stats struct {
	Runs                  int
	TotalTasks            int
	TotalCompleted        int
	TotalFailed           int
	AvgWallTime           time.Duration
	AvgParallelEfficiency float64
}

// Store is the append-only run-history database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the on-disk location of the history database.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskforge", "history.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".taskforge", "history.db")
	}
	return filepath.Join(home, ".local", "share", "taskforge", "history.db")
}

// Open opens (creating if needed) the history database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			spec_digest TEXT,
			total_tasks INT,
			completed INT,
			failed INT,
			skipped INT,
			cancelled INT,
			wall_time_ms INT,
			critical_path_ms INT,
			parallel_efficiency REAL,
			finished_at DATETIME
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records a finished run. Re-recording a run ID is an error; history
// rows are never updated.
func (s *Store) Append(r Record) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, spec_digest, total_tasks, completed, failed, skipped, cancelled,
			wall_time_ms, critical_path_ms, parallel_efficiency, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.SpecDigest, r.TotalTasks, r.Completed, r.Failed, r.Skipped, r.Cancelled,
		r.WallTime.Milliseconds(), r.CriticalPathLength.Milliseconds(), r.ParallelEfficiency,
		r.FinishedAt)
	if err != nil {
		return fmt.Errorf("append run %s: %w", r.RunID, err)
	}
	return nil
}

// FromResult builds a history record from an aggregated run result.
func FromResult(res *models.Result, specDigest string) Record {
	counts := res.StatusCounts
	return Record{
		RunID:              res.RunID,
		SpecDigest:         specDigest,
		TotalTasks:         len(res.Tasks),
		Completed:          counts[models.TaskStatusCompleted],
		Failed:             counts[models.TaskStatusFailed],
		Skipped:            counts[models.TaskStatusSkipped],
		Cancelled:          counts[models.TaskStatusCancelled],
		WallTime:           res.WallTime,
		CriticalPathLength: res.CriticalPathLength,
		ParallelEfficiency: res.ParallelEfficiency,
		FinishedAt:         time.Now(),
	}
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT run_id, spec_digest, total_tasks, completed, failed, skipped, cancelled,
			wall_time_ms, critical_path_ms, parallel_efficiency, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var wallMS, pathMS int64
		if err := rows.Scan(&r.RunID, &r.SpecDigest, &r.TotalTasks, &r.Completed, &r.Failed,
			&r.Skipped, &r.Cancelled, &wallMS, &pathMS, &r.ParallelEfficiency, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.WallTime = time.Duration(wallMS) * time.Millisecond
		r.CriticalPathLength = time.Duration(pathMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats aggregates all recorded runs.
func (s *Store) Stats() (Stats, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(total_tasks), 0),
			COALESCE(SUM(completed), 0),
			COALESCE(SUM(failed), 0),
			COALESCE(AVG(wall_time_ms), 0),
			COALESCE(AVG(parallel_efficiency), 0)
		FROM runs
	`)
	var st Stats
	var avgWallMS float64
	if err := row.Scan(&st.Runs, &st.TotalTasks, &st.TotalCompleted, &st.TotalFailed,
		&avgWallMS, &st.AvgParallelEfficiency); err != nil {
		return Stats{}, fmt.Errorf("aggregate history: %w", err)
	}
	st.AvgWallTime = time.Duration(avgWallMS) * time.Millisecond
	return st, nil
}
