package dispatcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ecrowe/taskforge/internal/config"
	"github.com/ecrowe/taskforge/internal/decompose"
	"github.com/ecrowe/taskforge/internal/history"
	"github.com/ecrowe/taskforge/internal/state"
	"github.com/ecrowe/taskforge/pkg/models"
)

// planOnlyCompleter fails planning calls so decomposition and resolution run
// rule-only, and succeeds execution calls.
type planOnlyCompleter struct{}

func (planOnlyCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("model unavailable")
}

func (planOnlyCompleter) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	return "executed", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Engine.MaxConcurrentAgents = 4
	cfg.Engine.MaxRetries = 1
	cfg.Engine.TaskTimeoutDefault = 5 * time.Minute
	cfg.Engine.DependencyConfidenceThreshold = 0.6
	cfg.Engine.CheckpointIntervalSeconds = 0
	cfg.Engine.AgentPoolSizePerType = 2
	cfg.Storage.DBPath = filepath.Join(dir, "state.db")
	cfg.Storage.HistoryDBPath = filepath.Join(dir, "history.db")
	cfg.Storage.CheckpointDir = filepath.Join(dir, "checkpoints")
	return cfg
}

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := New(testConfig(t), WithCompleter(planOnlyCompleter{}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

const spec = "Build a REST API backend with a database schema, then write tests for it and review the result."

func TestPlanProducesFrozenGraph(t *testing.T) {
	d := newDispatcher(t)
	plan, err := d.Plan(context.Background(), spec)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Tasks) == 0 {
		t.Fatal("plan has no tasks")
	}
	if !plan.Graph.Frozen() {
		t.Error("graph not frozen after planning")
	}
	if plan.Graph.Size() != len(plan.Tasks) {
		t.Errorf("graph size %d != %d tasks", plan.Graph.Size(), len(plan.Tasks))
	}
	if _, err := plan.Graph.TopologicalOrder(); err != nil {
		t.Errorf("plan graph not acyclic: %v", err)
	}
}

func TestPlanEmptySpec(t *testing.T) {
	d := newDispatcher(t)
	_, err := d.Plan(context.Background(), "   ")
	var derr *decompose.DecompositionError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want *DecompositionError", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	d := newDispatcher(t)
	res, err := d.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("run did not succeed: %+v", res.StatusCounts)
	}
	if res.RunID == "" {
		t.Error("missing run ID")
	}
	for _, task := range res.Tasks {
		if task.Status != models.TaskStatusCompleted {
			t.Errorf("task %s status = %q", task.ID, task.Status)
		}
		if task.Output != "executed" {
			t.Errorf("task %s output = %q", task.ID, task.Output)
		}
	}
	if len(res.CriticalPath) == 0 || res.CriticalPathLength == 0 {
		t.Error("critical path not computed")
	}
	if res.ParallelEfficiency <= 0 || res.ParallelEfficiency > 1 {
		t.Errorf("ParallelEfficiency = %v", res.ParallelEfficiency)
	}
}

func TestRunWritesCheckpointsAndHistory(t *testing.T) {
	d := newDispatcher(t)
	res, err := d.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	infos, err := d.Checkpoints(res.RunID)
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	if len(infos) < 2 {
		t.Fatalf("got %d checkpoints, want pre-run and final", len(infos))
	}
	reasons := make(map[string]bool)
	for _, info := range infos {
		reasons[info.Reason] = true
	}
	if !reasons["pre-run"] || !reasons["final"] {
		t.Errorf("checkpoint reasons = %v", reasons)
	}

	runs, err := d.History().List(10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != res.RunID {
		t.Errorf("history runs = %+v", runs)
	}
	if runs[0].SpecDigest == "" {
		t.Error("history row missing spec digest")
	}
}

func TestResumeContinuesRun(t *testing.T) {
	cfg := testConfig(t)
	db, err := state.Open(cfg.Storage.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	hist, err := history.Open(cfg.Storage.HistoryDBPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	d, err := New(cfg, WithCompleter(planOnlyCompleter{}), WithStore(db), WithHistory(hist))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })

	res, err := d.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	infos, err := d.Checkpoints(res.RunID)
	if err != nil || len(infos) == 0 {
		t.Fatalf("Checkpoints: %v (%d)", err, len(infos))
	}

	resumed, err := d.Resume(context.Background(), infos[0].ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.RunID != res.RunID {
		t.Errorf("resumed run ID %s, want %s", resumed.RunID, res.RunID)
	}
	if !resumed.Succeeded() {
		t.Errorf("resumed run did not succeed: %+v", resumed.StatusCounts)
	}
}

func TestSpecDigestStable(t *testing.T) {
	a := specDigest("same spec")
	b := specDigest("same spec")
	if a != b || len(a) != 64 {
		t.Errorf("digest unstable or malformed: %q vs %q", a, b)
	}
	if specDigest("other") == a {
		t.Error("distinct specs collided")
	}
}

func TestNewCompleterFromConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := testConfig(t)
	if _, err := NewCompleterFromConfig(cfg); err == nil {
		t.Error("expected an error with no API key configured")
	}

	cfg.Anthropic.APIKey = "sk-ant-REDACTED"
	cfg.Anthropic.Model = "claude-sonnet-4-5"
	cfg.Anthropic.MaxTokens = 4096
	completer, err := NewCompleterFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewCompleterFromConfig: %v", err)
	}
	if completer == nil {
		t.Fatal("completer is nil")
	}
}

func TestRunWithoutBackendFailsCleanly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.MaxRetries = 0
	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	res, err := d.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Succeeded() {
		t.Error("run without a model backend should not succeed")
	}

	sawFailure := false
	for _, task := range res.Tasks {
		switch task.Status {
		case models.TaskStatusFailed:
			sawFailure = true
			if !strings.Contains(task.Error, "no model backend") {
				t.Errorf("task %s error = %q, want the missing backend named", task.ID, task.Error)
			}
		case models.TaskStatusSkipped:
		default:
			t.Errorf("task %s status = %q, want failed or skipped", task.ID, task.Status)
		}
	}
	if !sawFailure {
		t.Error("expected at least one failed task")
	}
}
