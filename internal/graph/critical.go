package graph

import (
	"sort"
	"time"

	"github.com/ecrowe/taskforge/pkg/models"
)

// CriticalPath is the longest chain of estimated work through the graph.
type CriticalPath struct {
	// TaskIDs is the zero-slack chain, in execution order.
	TaskIDs []string
	// Length is the summed estimate along the chain.
	Length time.Duration
	// Slack maps every task to how long it can slip without extending the run.
	Slack map[string]time.Duration
}

// defaultEstimates supplies a planning estimate when a task carries none.
var defaultEstimates = map[models.Complexity]time.Duration{
	models.ComplexityTrivial:  1 * time.Minute,
	models.ComplexitySimple:   5 * time.Minute,
	models.ComplexityModerate: 15 * time.Minute,
	models.ComplexityComplex:  30 * time.Minute,
}

// Estimate returns the planning duration for a task: its own estimate when
// set, otherwise the default for its complexity.
func Estimate(t *models.Task) time.Duration {
	if t.EstimatedDuration > 0 {
		return t.EstimatedDuration
	}
	if d, ok := defaultEstimates[t.Complexity]; ok {
		return d
	}
	return defaultEstimates[models.ComplexitySimple]
}

// ComputeCriticalPath runs a forward and backward pass over the graph and
// returns the zero-slack chain. Ties on slack are broken by the scheduling
// key so the result is deterministic.
func (g *ExecutionGraph) ComputeCriticalPath() (*CriticalPath, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return &CriticalPath{Slack: map[string]time.Duration{}}, nil
	}

	// Forward pass: earliest start and finish.
	earlyStart := make(map[string]time.Duration, len(order))
	earlyFinish := make(map[string]time.Duration, len(order))
	for _, id := range order {
		var es time.Duration
		for _, up := range g.upstream[id] {
			if earlyFinish[up] > es {
				es = earlyFinish[up]
			}
		}
		earlyStart[id] = es
		earlyFinish[id] = es + Estimate(g.nodes[id])
	}

	var projectEnd time.Duration
	for _, ef := range earlyFinish {
		if ef > projectEnd {
			projectEnd = ef
		}
	}

	// Backward pass: latest finish and start.
	lateFinish := make(map[string]time.Duration, len(order))
	lateStart := make(map[string]time.Duration, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		lf := projectEnd
		for _, down := range g.downstream[id] {
			if ls := lateStart[down]; ls < lf {
				lf = ls
			}
		}
		lateFinish[id] = lf
		lateStart[id] = lf - Estimate(g.nodes[id])
	}

	slack := make(map[string]time.Duration, len(order))
	for _, id := range order {
		slack[id] = lateStart[id] - earlyStart[id]
	}

	// Walk the zero-slack chain from the start, one task per step.
	var path []string
	var cursor string
	candidates := func(ids []string) []string {
		var zero []string
		for _, id := range ids {
			if slack[id] == 0 {
				zero = append(zero, id)
			}
		}
		sort.Slice(zero, func(i, j int) bool {
			return scheduleLess(g.nodes[zero[i]], g.nodes[zero[j]])
		})
		return zero
	}

	if roots := candidates(g.Roots()); len(roots) > 0 {
		cursor = roots[0]
	}
	for cursor != "" {
		path = append(path, cursor)
		next := candidates(g.downstream[cursor])
		if len(next) == 0 {
			break
		}
		cursor = next[0]
	}

	return &CriticalPath{TaskIDs: path, Length: projectEnd, Slack: slack}, nil
}
