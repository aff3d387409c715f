// Package resolve infers the dependency edges between decomposed tasks.
// Deterministic rules (artifact flow, domain ordering, resource contention)
// produce the edge set; a model backend may optionally suggest extra edges,
// but a suggestion never overrides a rule-derived edge. The final set is
// deduplicated, transitively reduced, and guaranteed acyclic.
package resolve

import (
	"context"
	"log"
	"sort"

	"github.com/ecrowe/taskforge/internal/model"
	"github.com/ecrowe/taskforge/pkg/models"
)

// DefaultConfidenceThreshold is the minimum confidence a model-suggested
// edge needs to be kept.
const DefaultConfidenceThreshold = 0.6

// Resolver derives the dependency edge set for a task set.
type Resolver struct {
	rules     []Rule
	completer model.Completer
	threshold float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCompleter enables the model refinement pass.
func WithCompleter(c model.Completer) Option {
	return func(r *Resolver) { r.completer = c }
}

// WithRules replaces the built-in ordering rule table.
func WithRules(rules []Rule) Option {
	return func(r *Resolver) { r.rules = rules }
}

// WithConfidenceThreshold sets the floor for model-suggested edges.
func WithConfidenceThreshold(t float64) Option {
	return func(r *Resolver) { r.threshold = t }
}

// New creates a Resolver with the built-in rules and default threshold.
func New(opts ...Option) (*Resolver, error) {
	rules := make([]Rule, len(builtinRules))
	copy(rules, builtinRules)
	r := &Resolver{rules: rules, threshold: DefaultConfidenceThreshold}
	for _, opt := range opts {
		opt(r)
	}
	if err := compileRules(r.rules); err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve produces the final edge set for the tasks. The result is
// deterministic for a fixed task set: every pass iterates tasks in ID order
// and ties are broken the same way on every run.
func (r *Resolver) Resolve(ctx context.Context, tasks []*models.Task) ([]models.Dependency, error) {
	ordered := make([]*models.Task, len(tasks))
	copy(ordered, tasks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var edges []models.Dependency
	edges = append(edges, r.artifactEdges(ordered)...)
	edges = append(edges, r.ruleEdges(ordered)...)
	edges = append(edges, r.resourceEdges(ordered)...)

	if r.completer != nil {
		refined, err := r.refine(ctx, ordered, edges)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[resolve] model refinement failed, keeping rule-derived edges: %v", err)
		} else {
			edges = append(edges, refined...)
		}
	}

	edges = dedupe(edges)
	edges = breakCycles(ordered, edges)
	edges = reduceTransitive(edges)
	sortEdges(edges)
	return edges, nil
}

// artifactEdges links every artifact producer to its consumers.
func (r *Resolver) artifactEdges(tasks []*models.Task) []models.Dependency {
	producers := make(map[string][]string)
	for _, t := range tasks {
		for _, artifact := range t.Artifacts {
			producers[artifact] = append(producers[artifact], t.ID)
		}
	}

	var edges []models.Dependency
	for _, t := range tasks {
		for _, needed := range t.Requires {
			for _, producer := range producers[needed] {
				if producer == t.ID {
					continue
				}
				edges = append(edges, models.Dependency{
					From:       producer,
					To:         t.ID,
					Type:       models.DependencyData,
					Confidence: 1.0,
					Rule:       "artifact:" + needed,
				})
			}
		}
	}
	return edges
}

// ruleEdges applies the ordering rule table to every task pair.
func (r *Resolver) ruleEdges(tasks []*models.Task) []models.Dependency {
	var edges []models.Dependency
	for i := range r.rules {
		rule := &r.rules[i]
		for _, src := range tasks {
			if !rule.matchesSource(src) {
				continue
			}
			for _, tgt := range tasks {
				if src.ID == tgt.ID || !rule.matchesTarget(tgt) {
					continue
				}
				// A pair matching the rule in both directions is ambiguous;
				// emitting both edges would only feed the cycle breaker.
				if rule.matchesSource(tgt) && rule.matchesTarget(src) {
					continue
				}
				edges = append(edges, models.Dependency{
					From:       src.ID,
					To:         tgt.ID,
					Type:       rule.Type,
					Confidence: rule.Confidence,
					Rule:       rule.Name,
				})
			}
		}
	}
	return edges
}

// resourceEdges serializes tasks contending for the same exclusive resource.
// Contenders are chained in scheduling order rather than fully connected.
func (r *Resolver) resourceEdges(tasks []*models.Task) []models.Dependency {
	holders := make(map[string][]*models.Task)
	for _, t := range tasks {
		for _, res := range t.Resources {
			holders[res] = append(holders[res], t)
		}
	}

	resources := make([]string, 0, len(holders))
	for res := range holders {
		resources = append(resources, res)
	}
	sort.Strings(resources)

	var edges []models.Dependency
	for _, res := range resources {
		group := holders[res]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].Priority != group[j].Priority {
				return group[i].Priority > group[j].Priority
			}
			return group[i].ID < group[j].ID
		})
		for i := 0; i < len(group)-1; i++ {
			edges = append(edges, models.Dependency{
				From:       group[i].ID,
				To:         group[i+1].ID,
				Type:       models.DependencyResource,
				Confidence: 1.0,
				Rule:       "resource:" + res,
			})
		}
	}
	return edges
}

// dedupe collapses duplicate (from, to) edges, keeping the highest type
// precedence and then the highest confidence.
func dedupe(edges []models.Dependency) []models.Dependency {
	type key struct{ from, to string }
	best := make(map[key]models.Dependency, len(edges))
	var order []key
	for _, e := range edges {
		k := key{e.From, e.To}
		cur, seen := best[k]
		if !seen {
			best[k] = e
			order = append(order, k)
			continue
		}
		if e.Type.Precedence() > cur.Type.Precedence() ||
			(e.Type.Precedence() == cur.Type.Precedence() && e.Confidence > cur.Confidence) {
			best[k] = e
		}
	}
	out := make([]models.Dependency, 0, len(best))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// breakCycles removes the lowest-confidence edge on each detected cycle
// until the edge set is acyclic. Removals are logged with provenance.
func breakCycles(tasks []*models.Task, edges []models.Dependency) []models.Dependency {
	for {
		cycle := findCycleEdges(tasks, edges)
		if cycle == nil {
			return edges
		}

		victim := -1
		for _, idx := range cycle {
			if victim == -1 || weaker(edges[idx], edges[victim]) {
				victim = idx
			}
		}

		e := edges[victim]
		log.Printf("[resolve] breaking cycle: dropping edge %s -> %s (type=%s rule=%s confidence=%.2f)",
			e.From, e.To, e.Type, e.Rule, e.Confidence)
		edges = append(edges[:victim], edges[victim+1:]...)
	}
}

// weaker orders edges for cycle-victim selection: lower confidence first,
// then lower type precedence, then (from, to) descending so the choice is
// stable.
func weaker(a, b models.Dependency) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence < b.Confidence
	}
	if a.Type.Precedence() != b.Type.Precedence() {
		return a.Type.Precedence() < b.Type.Precedence()
	}
	if a.From != b.From {
		return a.From > b.From
	}
	return a.To > b.To
}

// findCycleEdges returns the indices of edges forming one cycle, or nil if
// the edge set is acyclic.
func findCycleEdges(tasks []*models.Task, edges []models.Dependency) []int {
	next := make(map[string][]int) // task ID -> outgoing edge indices
	for i, e := range edges {
		next[e.From] = append(next[e.From], i)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	onPath := make(map[string]int) // task ID -> edge index that led here

	var cycle []int
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, idx := range next[id] {
			to := edges[idx].To
			switch color[to] {
			case gray:
				// Walk the path back from id to the cycle entry.
				cycle = []int{idx}
				cur := id
				for cur != to {
					back := onPath[cur]
					cycle = append(cycle, back)
					cur = edges[back].From
				}
				return true
			case white:
				onPath[to] = idx
				if visit(to) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// reduceTransitive drops an edge when a longer path already orders the same
// pair. Artifact data edges document a real data flow and are kept.
func reduceTransitive(edges []models.Dependency) []models.Dependency {
	reachableWithout := func(from, to string, skip int) bool {
		seen := map[string]bool{from: true}
		stack := []string{from}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for i, e := range edges {
				if i == skip || e.From != cur {
					continue
				}
				if e.To == to {
					return true
				}
				if !seen[e.To] {
					seen[e.To] = true
					stack = append(stack, e.To)
				}
			}
		}
		return false
	}

	var out []models.Dependency
	for i, e := range edges {
		if e.Type == models.DependencyData {
			out = append(out, e)
			continue
		}
		if reachableWithout(e.From, e.To, i) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// sortEdges puts the final edge set in a stable order for callers and tests.
func sortEdges(edges []models.Dependency) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Rule < edges[j].Rule
	})
}
