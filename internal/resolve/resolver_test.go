package resolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ecrowe/taskforge/pkg/models"
)

// staticCompleter returns a canned refinement response.
type staticCompleter struct {
	response string
	err      error
}

func (s *staticCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return s.response, s.err
}

func (s *staticCompleter) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	return s.response, s.err
}

func mustResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	r, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func findEdge(edges []models.Dependency, from, to string) *models.Dependency {
	for i := range edges {
		if edges[i].From == from && edges[i].To == to {
			return &edges[i]
		}
	}
	return nil
}

func TestArtifactMatching(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t1", Title: "Produce dataset", Capability: models.CapabilityGeneric, Artifacts: []string{"dataset"}},
		{ID: "t2", Title: "Consume dataset", Capability: models.CapabilityGeneric, Requires: []string{"dataset"}},
		{ID: "t3", Title: "Unrelated", Capability: models.CapabilityGeneric},
	}
	edges, err := mustResolver(t).Resolve(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	e := findEdge(edges, "t1", "t2")
	if e == nil {
		t.Fatalf("expected t1 -> t2 data edge, got %v", edges)
	}
	if e.Type != models.DependencyData || e.Confidence != 1.0 {
		t.Errorf("artifact edge = %+v, want data type at confidence 1.0", e)
	}
	if findEdge(edges, "t1", "t3") != nil || findEdge(edges, "t3", "t2") != nil {
		t.Error("unrelated task should have no edges")
	}
}

func TestOrderingRules(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", Title: "Research caching strategies", Capability: models.CapabilityResearch},
		{ID: "b", Title: "Implement cache layer", Capability: models.CapabilityCodeWriting},
		{ID: "c", Title: "Validate cache behavior", Capability: models.CapabilityTesting},
	}
	edges, err := mustResolver(t).Resolve(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}

	re := findEdge(edges, "a", "b")
	if re == nil {
		t.Fatal("expected research -> implementation edge")
	}
	if re.Rule != "research_before_implementation" {
		t.Errorf("edge rule = %q", re.Rule)
	}
	te := findEdge(edges, "b", "c")
	if te == nil {
		t.Fatal("expected implementation -> testing edge")
	}
	if te.Confidence != 0.9 {
		t.Errorf("implementation_before_testing confidence = %v, want 0.9", te.Confidence)
	}
}

func TestResourceContention(t *testing.T) {
	tasks := []*models.Task{
		{ID: "w1", Title: "Update config A", Capability: models.CapabilityGeneric, Priority: 5, Resources: []string{"config.yaml"}},
		{ID: "w2", Title: "Update config B", Capability: models.CapabilityGeneric, Priority: 3, Resources: []string{"config.yaml"}},
		{ID: "w3", Title: "Update config C", Capability: models.CapabilityGeneric, Priority: 3, Resources: []string{"config.yaml"}},
	}
	edges, err := mustResolver(t).Resolve(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	// Chained in scheduling order: w1 (priority 5), then w2, then w3.
	if findEdge(edges, "w1", "w2") == nil {
		t.Errorf("expected w1 -> w2 resource edge, got %v", edges)
	}
	if findEdge(edges, "w2", "w3") == nil {
		t.Errorf("expected w2 -> w3 resource edge, got %v", edges)
	}
	if findEdge(edges, "w1", "w3") != nil {
		t.Error("contenders should be chained, not fully connected")
	}
}

func TestResolveDeterministic(t *testing.T) {
	tasks := func() []*models.Task {
		return []*models.Task{
			{ID: "t1", Title: "Design schema", Capability: models.CapabilityCodeWriting, Artifacts: []string{"schema"}},
			{ID: "t2", Title: "Implement data access layer", Capability: models.CapabilityCodeWriting, Requires: []string{"schema"}},
			{ID: "t3", Title: "Test data access", Capability: models.CapabilityTesting},
			{ID: "t4", Title: "Research indexes", Capability: models.CapabilityResearch},
		}
	}

	first, err := mustResolver(t).Resolve(context.Background(), tasks())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := mustResolver(t).Resolve(context.Background(), tasks())
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(again) != fmt.Sprint(first) {
			t.Fatalf("run %d: edges %v differ from %v", i, again, first)
		}
	}
}

func TestDedupeKeepsStrongestEdge(t *testing.T) {
	// t1 produces what t2 consumes AND matches an ordering rule; the data
	// edge must win the dedupe.
	tasks := []*models.Task{
		{ID: "t1", Title: "Implement exporter", Capability: models.CapabilityCodeWriting, Artifacts: []string{"export"}},
		{ID: "t2", Title: "Test exporter output", Capability: models.CapabilityTesting, Requires: []string{"export"}},
	}
	edges, err := mustResolver(t).Resolve(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("edge count = %d, want 1 after dedupe: %v", len(edges), edges)
	}
	if edges[0].Type != models.DependencyData {
		t.Errorf("surviving edge type = %q, want data", edges[0].Type)
	}
}

func TestTransitiveReduction(t *testing.T) {
	// a orders before b and c via the design rule; b orders before c via the
	// implementation rule. The direct a -> c logical edge is redundant.
	tasks := []*models.Task{
		{ID: "a", Title: "Design the pipeline", Capability: models.CapabilityGeneric},
		{ID: "b", Title: "Implement the pipeline", Capability: models.CapabilityCodeWriting},
		{ID: "c", Title: "Create tests for the pipeline", Capability: models.CapabilityTesting},
	}
	edges, err := mustResolver(t).Resolve(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	if findEdge(edges, "a", "b") == nil || findEdge(edges, "b", "c") == nil {
		t.Fatalf("expected a->b and b->c, got %v", edges)
	}
	if findEdge(edges, "a", "c") != nil {
		t.Errorf("a -> c should be transitively reduced: %v", edges)
	}
}

func TestCycleBreakingRemovesLowestConfidence(t *testing.T) {
	rules := []Rule{
		{Name: "strong", Source: `alpha`, Target: `beta`, Confidence: 0.9},
		{Name: "weak", Source: `beta-side`, Target: `alpha-side`, Confidence: 0.5},
	}
	tasks := []*models.Task{
		{ID: "x", Title: "alpha work", Description: "alpha-side", Capability: models.CapabilityGeneric},
		{ID: "y", Title: "beta work", Description: "beta-side", Capability: models.CapabilityGeneric},
	}
	edges, err := mustResolver(t, WithRules(rules)).Resolve(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	if findEdge(edges, "x", "y") == nil {
		t.Errorf("high-confidence edge should survive: %v", edges)
	}
	if findEdge(edges, "y", "x") != nil {
		t.Errorf("low-confidence edge should be removed to break the cycle: %v", edges)
	}
}

func TestModelRefinementThreshold(t *testing.T) {
	response := `[
  {"from": "t1", "to": "t2", "confidence": 0.9},
  {"from": "t2", "to": "t3", "confidence": 0.4}
]`
	tasks := []*models.Task{
		{ID: "t1", Title: "One", Capability: models.CapabilityGeneric},
		{ID: "t2", Title: "Two", Capability: models.CapabilityGeneric},
		{ID: "t3", Title: "Three", Capability: models.CapabilityGeneric},
	}
	r := mustResolver(t, WithCompleter(&staticCompleter{response: response}))
	edges, err := r.Resolve(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	e := findEdge(edges, "t1", "t2")
	if e == nil {
		t.Fatalf("high-confidence suggestion should be kept: %v", edges)
	}
	if e.Rule != "model" {
		t.Errorf("suggestion provenance = %q, want model", e.Rule)
	}
	if findEdge(edges, "t2", "t3") != nil {
		t.Error("suggestion below the 0.6 threshold must be discarded")
	}
}

func TestModelCannotOverrideRules(t *testing.T) {
	// The model tries to reverse the implementation -> testing rule edge.
	tasks := []*models.Task{
		{ID: "impl", Title: "Implement parser", Capability: models.CapabilityCodeWriting},
		{ID: "test", Title: "Test parser", Capability: models.CapabilityTesting},
	}
	response := `[{"from": "test", "to": "impl", "confidence": 0.99}]`
	r := mustResolver(t, WithCompleter(&staticCompleter{response: response}))
	edges, err := r.Resolve(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	if findEdge(edges, "impl", "test") == nil {
		t.Errorf("rule edge must survive: %v", edges)
	}
	if findEdge(edges, "test", "impl") != nil {
		t.Error("model suggestion contradicting a rule must be rejected")
	}
}

func TestModelFailureKeepsRuleEdges(t *testing.T) {
	tasks := []*models.Task{
		{ID: "impl", Title: "Implement widget", Capability: models.CapabilityCodeWriting},
		{ID: "test", Title: "Test widget", Capability: models.CapabilityTesting},
	}
	r := mustResolver(t, WithCompleter(&staticCompleter{err: errors.New("unavailable")}))
	edges, err := r.Resolve(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	if findEdge(edges, "impl", "test") == nil {
		t.Errorf("rule edges must survive model failure: %v", edges)
	}
}

func TestLoadRulesMergesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  - name: deploy_after_everything
    source: "implement"
    target: "deploy"
    confidence: 0.7
    description: deploys go last
  - name: implementation_before_testing
    source: "implement"
    target: "test"
    confidence: 0.95
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != len(builtinRules)+1 {
		t.Errorf("rule count = %d, want builtin+1 with one override", len(rules))
	}
	var override *Rule
	for i := range rules {
		if rules[i].Name == "implementation_before_testing" {
			override = &rules[i]
		}
	}
	if override == nil {
		t.Fatal("override rule missing")
	}
	if override.Confidence != 0.95 {
		t.Errorf("override confidence = %v, want 0.95", override.Confidence)
	}
}

func TestLoadRulesRejectsBadPattern(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  - name: broken
    source: "(("
    target: "x"
    confidence: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatal("expected invalid regexp to be rejected")
	}
}
