package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/ecrowe/taskforge/pkg/models"
)

func task(id string, priority int) *models.Task {
	return &models.Task{
		ID:         id,
		Title:      "task " + id,
		Capability: models.CapabilityGeneric,
		Priority:   priority,
		Complexity: models.ComplexitySimple,
		Status:     models.TaskStatusPending,
	}
}

func edge(from, to string) models.Dependency {
	return models.Dependency{From: from, To: to, Type: models.DependencyLogical, Confidence: 0.9, Rule: "test"}
}

func TestBuildRejectsUnknownEndpoint(t *testing.T) {
	_, err := Build([]*models.Task{task("a", 0)}, []models.Dependency{edge("a", "ghost")})
	if err == nil {
		t.Fatal("expected error for edge to unknown task")
	}
}

func TestBuildRejectsDuplicateTask(t *testing.T) {
	g := New()
	if err := g.AddTask(task("a", 0)); err != nil {
		t.Fatal(err)
	}
	if err := g.AddTask(task("a", 0)); err == nil {
		t.Fatal("expected duplicate ID to be rejected")
	}
}

func TestCycleDetection(t *testing.T) {
	_, err := Build(
		[]*models.Task{task("a", 0), task("b", 0), task("c", 0)},
		[]models.Dependency{edge("a", "b"), edge("b", "c"), edge("c", "a")},
	)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if len(ce.TaskIDs) == 0 {
		t.Error("cycle error should name the tasks involved")
	}
}

func TestCycleInsertRollsBack(t *testing.T) {
	g, err := Build(
		[]*models.Task{task("a", 0), task("b", 0)},
		[]models.Dependency{edge("a", "b")},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency(edge("b", "a")); err == nil {
		t.Fatal("expected cycle error")
	}
	// The rejected edge must not linger.
	if got := len(g.Edges()); got != 1 {
		t.Errorf("edge count after rollback = %d, want 1", got)
	}
	if _, err := g.TopologicalOrder(); err != nil {
		t.Errorf("graph should still be acyclic after rollback: %v", err)
	}
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	build := func() *ExecutionGraph {
		g, err := Build(
			[]*models.Task{task("t3", 1), task("t1", 2), task("t4", 1), task("t2", 2), task("t5", 5)},
			[]models.Dependency{edge("t1", "t4"), edge("t2", "t4")},
		)
		if err != nil {
			t.Fatal(err)
		}
		return g
	}

	first, err := build().TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"t5", "t1", "t2", "t3", "t4"}
	if len(first) != len(want) {
		t.Fatalf("order length = %d, want %d", len(first), len(want))
	}
	for i := range want {
		if first[i] != want[i] {
			t.Fatalf("order = %v, want %v", first, want)
		}
	}

	// Map iteration order must not leak into the result.
	for i := 0; i < 20; i++ {
		again, err := build().TopologicalOrder()
		if err != nil {
			t.Fatal(err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: order %v differs from %v", i, again, first)
			}
		}
	}
}

func TestFreezeRejectsMutation(t *testing.T) {
	g, err := Build([]*models.Task{task("a", 0), task("b", 0)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	g.Freeze()
	if !g.Frozen() {
		t.Fatal("graph should report frozen")
	}

	if err := g.AddTask(task("c", 0)); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddTask after freeze: got %v, want ErrFrozen", err)
	}
	err = g.AddDependency(edge("a", "b"))
	var fe *FrozenError
	if !errors.As(err, &fe) {
		t.Fatalf("AddDependency after freeze: got %T, want *FrozenError", err)
	}
	if fe.Op != "AddDependency" {
		t.Errorf("frozen error op = %q, want AddDependency", fe.Op)
	}
}

func TestSingleTaskSinglePhase(t *testing.T) {
	g, err := Build([]*models.Task{task("only", 0)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	phases, err := g.Phases()
	if err != nil {
		t.Fatal(err)
	}
	if len(phases) != 1 || len(phases[0]) != 1 || phases[0][0] != "only" {
		t.Fatalf("phases = %v, want [[only]]", phases)
	}
}

func TestPhasesIndependentTasksShareFirstPhase(t *testing.T) {
	// t2 consumes t1's output; t3 is independent.
	t1 := task("t1", 0)
	t2 := task("t2", 0)
	t3 := task("t3", 0)
	g, err := Build(
		[]*models.Task{t1, t2, t3},
		[]models.Dependency{{From: "t1", To: "t2", Type: models.DependencyData, Confidence: 1.0, Rule: "artifact"}},
	)
	if err != nil {
		t.Fatal(err)
	}
	phases, err := g.Phases()
	if err != nil {
		t.Fatal(err)
	}
	if len(phases) != 2 {
		t.Fatalf("phase count = %d, want 2 (%v)", len(phases), phases)
	}
	if len(phases[0]) != 2 || phases[0][0] != "t1" || phases[0][1] != "t3" {
		t.Errorf("phase 0 = %v, want [t1 t3]", phases[0])
	}
	if len(phases[1]) != 1 || phases[1][0] != "t2" {
		t.Errorf("phase 1 = %v, want [t2]", phases[1])
	}
}

func TestAncestorsAndDescendants(t *testing.T) {
	g, err := Build(
		[]*models.Task{task("a", 0), task("b", 0), task("c", 0), task("d", 0)},
		[]models.Dependency{edge("a", "b"), edge("b", "c"), edge("a", "d")},
	)
	if err != nil {
		t.Fatal(err)
	}
	anc := g.Ancestors("c")
	if len(anc) != 2 || anc[0] != "a" || anc[1] != "b" {
		t.Errorf("Ancestors(c) = %v, want [a b]", anc)
	}
	desc := g.Descendants("a")
	if len(desc) != 3 {
		t.Errorf("Descendants(a) = %v, want 3 tasks", desc)
	}
}

func TestCriticalPath(t *testing.T) {
	a := task("a", 0)
	a.EstimatedDuration = 10 * time.Minute
	b := task("b", 0)
	b.EstimatedDuration = 30 * time.Minute
	c := task("c", 0)
	c.EstimatedDuration = 5 * time.Minute
	d := task("d", 0)
	d.EstimatedDuration = 5 * time.Minute

	// a -> b -> d is the long chain; a -> c -> d is the short one.
	g, err := Build(
		[]*models.Task{a, b, c, d},
		[]models.Dependency{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")},
	)
	if err != nil {
		t.Fatal(err)
	}
	cp, err := g.ComputeCriticalPath()
	if err != nil {
		t.Fatal(err)
	}
	if cp.Length != 45*time.Minute {
		t.Errorf("critical path length = %v, want 45m", cp.Length)
	}
	want := []string{"a", "b", "d"}
	if len(cp.TaskIDs) != len(want) {
		t.Fatalf("critical path = %v, want %v", cp.TaskIDs, want)
	}
	for i := range want {
		if cp.TaskIDs[i] != want[i] {
			t.Fatalf("critical path = %v, want %v", cp.TaskIDs, want)
		}
	}
	if cp.Slack["c"] != 25*time.Minute {
		t.Errorf("slack(c) = %v, want 25m", cp.Slack["c"])
	}
	if cp.Slack["b"] != 0 {
		t.Errorf("slack(b) = %v, want 0", cp.Slack["b"])
	}
}

func TestExportShapes(t *testing.T) {
	g, err := Build(
		[]*models.Task{task("a", 1), task("b", 0)},
		[]models.Dependency{edge("a", "b")},
	)
	if err != nil {
		t.Fatal(err)
	}
	ex := g.Export()
	if len(ex.Nodes) != 2 || len(ex.Edges) != 1 {
		t.Fatalf("export has %d nodes, %d edges", len(ex.Nodes), len(ex.Edges))
	}
	if ex.Nodes[0].ID != "a" {
		t.Errorf("nodes not in scheduling order: %v", ex.Nodes[0].ID)
	}
	if _, err := ex.JSON(); err != nil {
		t.Errorf("JSON export: %v", err)
	}
	if _, err := ex.YAML(); err != nil {
		t.Errorf("YAML export: %v", err)
	}
	if m := ex.Mermaid(); len(m) == 0 {
		t.Error("mermaid export is empty")
	}
}
