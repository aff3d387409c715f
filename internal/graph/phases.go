package graph

import "sort"

// Phases groups tasks into parallel execution phases. A task lands in the
// first phase after the latest phase containing any of its dependencies, so
// every task in a phase may run concurrently. Each phase is sorted by the
// scheduling key. A single-task graph yields exactly one phase.
func (g *ExecutionGraph) Phases() ([][]string, error) {
	if _, err := g.TopologicalOrder(); err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(g.nodes))
	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, up := range g.upstream[id] {
			if ud := depthOf(up) + 1; ud > d {
				d = ud
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := -1
	for id := range g.nodes {
		if d := depthOf(id); d > maxDepth {
			maxDepth = d
		}
	}
	if maxDepth < 0 {
		return nil, nil
	}

	phases := make([][]string, maxDepth+1)
	for id, d := range depth {
		phases[d] = append(phases[d], id)
	}
	for _, phase := range phases {
		sort.Slice(phase, func(i, j int) bool {
			return scheduleLess(g.nodes[phase[i]], g.nodes[phase[j]])
		})
	}
	return phases, nil
}

// Depth returns the phase index a task would execute in, or -1 for unknown
// tasks.
func (g *ExecutionGraph) Depth(id string) int {
	if _, ok := g.nodes[id]; !ok {
		return -1
	}
	phases, err := g.Phases()
	if err != nil {
		return -1
	}
	for i, phase := range phases {
		for _, pid := range phase {
			if pid == id {
				return i
			}
		}
	}
	return -1
}
