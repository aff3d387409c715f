package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ecrowe/taskforge/pkg/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(runID string, wall time.Duration) Record {
	return Record{
		RunID:              runID,
		SpecDigest:         "digest-" + runID,
		TotalTasks:         5,
		Completed:          4,
		Failed:             1,
		WallTime:           wall,
		CriticalPathLength: wall / 2,
		ParallelEfficiency: 0.5,
		FinishedAt:         time.Now(),
	}
}

func TestAppendAndList(t *testing.T) {
	s := openStore(t)
	if err := s.Append(record("run-1", time.Minute)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	runs, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("List returned %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.RunID != "run-1" || got.SpecDigest != "digest-run-1" {
		t.Errorf("record = %+v", got)
	}
	if got.WallTime != time.Minute || got.CriticalPathLength != 30*time.Second {
		t.Errorf("durations = %v / %v", got.WallTime, got.CriticalPathLength)
	}
}

func TestAppendRejectsDuplicateRun(t *testing.T) {
	s := openStore(t)
	if err := s.Append(record("run-1", time.Minute)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(record("run-1", time.Minute)); err == nil {
		t.Fatal("duplicate run ID accepted; history must be append-only")
	}
}

func TestStats(t *testing.T) {
	s := openStore(t)
	if err := s.Append(record("run-1", time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(record("run-2", 3*time.Minute)); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Runs != 2 || st.TotalTasks != 10 || st.TotalCompleted != 8 || st.TotalFailed != 2 {
		t.Errorf("stats = %+v", st)
	}
	if st.AvgWallTime != 2*time.Minute {
		t.Errorf("AvgWallTime = %v, want 2m", st.AvgWallTime)
	}
}

func TestFromResult(t *testing.T) {
	res := &models.Result{
		RunID: "run-9",
		Tasks: []models.Task{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		StatusCounts: map[models.TaskStatus]int{
			models.TaskStatusCompleted: 2,
			models.TaskStatusSkipped:   1,
		},
		WallTime:           time.Minute,
		CriticalPathLength: 45 * time.Second,
		ParallelEfficiency: 0.75,
	}
	r := FromResult(res, "abc123")
	if r.RunID != "run-9" || r.SpecDigest != "abc123" {
		t.Errorf("record = %+v", r)
	}
	if r.TotalTasks != 3 || r.Completed != 2 || r.Skipped != 1 || r.Failed != 0 {
		t.Errorf("counts = %+v", r)
	}
}
