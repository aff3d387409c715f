// Package graph builds and queries the frozen execution graph a run is
// scheduled from. Tasks are nodes; edges are "must finish before"
// relationships produced by the dependency resolver.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ecrowe/taskforge/pkg/models"
)

// ErrCycle indicates a circular dependency was found in the task graph.
var ErrCycle = errors.New("circular dependency detected")

// ErrFrozen indicates a mutation was attempted after Freeze.
var ErrFrozen = errors.New("execution graph is frozen")

// CycleError reports the tasks involved in a circular dependency.
type CycleError struct {
	// TaskIDs are the IDs left unordered by the topological sort, sorted.
	TaskIDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected among tasks [%s]", strings.Join(e.TaskIDs, ", "))
}

// Unwrap allows errors.Is(err, ErrCycle).
func (e *CycleError) Unwrap() error { return ErrCycle }

// FrozenError reports which mutation was rejected on a frozen graph.
type FrozenError struct {
	// Op is the mutation that was attempted.
	Op string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("execution graph is frozen: %s rejected", e.Op)
}

// Unwrap allows errors.Is(err, ErrFrozen).
func (e *FrozenError) Unwrap() error { return ErrFrozen }

// ExecutionGraph is a directed acyclic graph of tasks. Once frozen it is
// immutable and safe for concurrent reads.
type ExecutionGraph struct {
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// upstream maps task ID to the IDs it depends on.
	upstream map[string][]string
	// downstream maps task ID to the IDs that depend on it.
	downstream map[string][]string
	// edges holds the full edge records, provenance included.
	edges  []models.Dependency
	frozen bool
}

// New creates an empty execution graph.
func New() *ExecutionGraph {
	return &ExecutionGraph{
		nodes:      make(map[string]*models.Task),
		upstream:   make(map[string][]string),
		downstream: make(map[string][]string),
	}
}

// Build constructs a graph from a task set and edge set, validating edge
// endpoints and rejecting cycles. The returned graph is not yet frozen.
func Build(tasks []*models.Task, deps []models.Dependency) (*ExecutionGraph, error) {
	g := New()
	for _, task := range tasks {
		if err := g.AddTask(task); err != nil {
			return nil, err
		}
	}
	for _, dep := range deps {
		if err := g.AddDependency(dep); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddTask registers a task node. Duplicate IDs are rejected.
func (g *ExecutionGraph) AddTask(task *models.Task) error {
	if g.frozen {
		return &FrozenError{Op: "AddTask"}
	}
	if task.ID == "" {
		return errors.New("task has empty ID")
	}
	if _, exists := g.nodes[task.ID]; exists {
		return fmt.Errorf("duplicate task ID %s", task.ID)
	}
	g.nodes[task.ID] = task
	return nil
}

// AddDependency inserts an edge. Edges referencing unknown tasks are
// rejected, and an edge that would create a cycle is rolled back.
func (g *ExecutionGraph) AddDependency(dep models.Dependency) error {
	if g.frozen {
		return &FrozenError{Op: "AddDependency"}
	}
	if _, ok := g.nodes[dep.From]; !ok {
		return fmt.Errorf("dependency references unknown task %s", dep.From)
	}
	if _, ok := g.nodes[dep.To]; !ok {
		return fmt.Errorf("dependency references unknown task %s", dep.To)
	}
	if dep.From == dep.To {
		return fmt.Errorf("task %s cannot depend on itself", dep.From)
	}
	for _, existing := range g.upstream[dep.To] {
		if existing == dep.From {
			return nil // edge already present
		}
	}

	g.upstream[dep.To] = append(g.upstream[dep.To], dep.From)
	g.downstream[dep.From] = append(g.downstream[dep.From], dep.To)
	g.edges = append(g.edges, dep)

	if cycle := g.findCycle(); cycle != nil {
		// Roll back so the graph stays acyclic.
		g.upstream[dep.To] = g.upstream[dep.To][:len(g.upstream[dep.To])-1]
		g.downstream[dep.From] = g.downstream[dep.From][:len(g.downstream[dep.From])-1]
		g.edges = g.edges[:len(g.edges)-1]
		return &CycleError{TaskIDs: cycle}
	}
	return nil
}

// Freeze makes the graph immutable. Idempotent.
func (g *ExecutionGraph) Freeze() {
	g.frozen = true
}

// Frozen reports whether the graph has been frozen.
func (g *ExecutionGraph) Frozen() bool {
	return g.frozen
}

// Size returns the number of tasks in the graph.
func (g *ExecutionGraph) Size() int {
	return len(g.nodes)
}

// Task returns the task for a given ID, or nil if not found.
func (g *ExecutionGraph) Task(id string) *models.Task {
	return g.nodes[id]
}

// Tasks returns all tasks ordered by the scheduling key.
func (g *ExecutionGraph) Tasks() []*models.Task {
	out := make([]*models.Task, 0, len(g.nodes))
	for _, t := range g.nodes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return scheduleLess(out[i], out[j]) })
	return out
}

// Edges returns a copy of the edge set.
func (g *ExecutionGraph) Edges() []models.Dependency {
	out := make([]models.Dependency, len(g.edges))
	copy(out, g.edges)
	return out
}

// Dependencies returns the IDs the given task depends on, sorted.
func (g *ExecutionGraph) Dependencies(id string) []string {
	out := append([]string(nil), g.upstream[id]...)
	sort.Strings(out)
	return out
}

// Dependents returns the IDs that depend on the given task, sorted.
func (g *ExecutionGraph) Dependents(id string) []string {
	out := append([]string(nil), g.downstream[id]...)
	sort.Strings(out)
	return out
}

// Roots returns tasks with no dependencies, in scheduling order.
func (g *ExecutionGraph) Roots() []string {
	return g.boundary(g.upstream)
}

// Leaves returns tasks nothing depends on, in scheduling order.
func (g *ExecutionGraph) Leaves() []string {
	return g.boundary(g.downstream)
}

func (g *ExecutionGraph) boundary(adj map[string][]string) []string {
	var edge []*models.Task
	for id, t := range g.nodes {
		if len(adj[id]) == 0 {
			edge = append(edge, t)
		}
	}
	sort.Slice(edge, func(i, j int) bool { return scheduleLess(edge[i], edge[j]) })
	ids := make([]string, len(edge))
	for i, t := range edge {
		ids[i] = t.ID
	}
	return ids
}

// Ancestors returns the transitive upstream closure of a task, sorted.
func (g *ExecutionGraph) Ancestors(id string) []string {
	return g.closure(id, g.upstream)
}

// Descendants returns the transitive downstream closure of a task, sorted.
func (g *ExecutionGraph) Descendants(id string) []string {
	return g.closure(id, g.downstream)
}

func (g *ExecutionGraph) closure(id string, adj map[string][]string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				walk(next)
			}
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder returns every task ID in dependency order. The order is
// deterministic: at each step the ready set is drained by priority
// descending, then ID ascending. Returns a *CycleError naming the unresolved
// tasks if the graph is cyclic.
func (g *ExecutionGraph) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.upstream[id])
	}

	var ready []*models.Task
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, g.nodes[id])
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return scheduleLess(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next.ID)

		for _, down := range g.downstream[next.ID] {
			indegree[down]--
			if indegree[down] == 0 {
				ready = append(ready, g.nodes[down])
			}
		}
	}

	if len(order) != len(g.nodes) {
		var stuck []string
		for id := range g.nodes {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{TaskIDs: stuck}
	}
	return order, nil
}

// findCycle returns the sorted IDs of tasks on or behind a cycle, or nil if
// the graph is acyclic.
func (g *ExecutionGraph) findCycle() []string {
	if _, err := g.TopologicalOrder(); err != nil {
		var ce *CycleError
		if errors.As(err, &ce) {
			return ce.TaskIDs
		}
	}
	return nil
}

// scheduleLess is the engine-wide deterministic ordering: priority
// descending, then ID ascending.
func scheduleLess(a, b *models.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}
