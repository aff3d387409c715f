package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ecrowe/taskforge/pkg/models"
)

// refinementPrompt asks the model for dependency edges the rules missed.
const refinementPrompt = `These tasks will execute concurrently unless ordered. Suggest ordering
dependencies the list below is missing. Only suggest an edge when one task
genuinely cannot start before another finishes.

Tasks:
%s

Known dependencies:
%s

Return ONLY a JSON array (no other text):
[
  {"from": "<task id that runs first>", "to": "<task id that waits>", "confidence": 0.0}
]

confidence is your certainty in [0,1]. Return [] if nothing is missing.`

// suggestedEdge is the JSON structure the model returns per suggestion.
type suggestedEdge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
}

// refine asks the model for additional edges and filters the answer hard:
// unknown endpoints, self-edges, sub-threshold confidence, duplicates of
// rule-derived edges, and reversals of rule-derived edges are all discarded.
// Rules always win over suggestions.
func (r *Resolver) refine(ctx context.Context, tasks []*models.Task, existing []models.Dependency) ([]models.Dependency, error) {
	var taskList strings.Builder
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
		fmt.Fprintf(&taskList, "- %s: %s (%s)\n", t.ID, t.Title, t.Capability)
	}

	var edgeList strings.Builder
	forward := make(map[[2]string]bool, len(existing))
	for _, e := range existing {
		forward[[2]string{e.From, e.To}] = true
		fmt.Fprintf(&edgeList, "- %s -> %s (%s)\n", e.From, e.To, e.Rule)
	}
	if len(existing) == 0 {
		edgeList.WriteString("(none)\n")
	}

	response, err := r.completer.Complete(ctx, fmt.Sprintf(refinementPrompt, taskList.String(), edgeList.String()))
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no JSON array in refinement response")
	}
	var suggestions []suggestedEdge
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &suggestions); err != nil {
		return nil, fmt.Errorf("unmarshal refinement response: %w", err)
	}

	var accepted []models.Dependency
	for _, s := range suggestions {
		switch {
		case !known[s.From] || !known[s.To]:
			log.Printf("[resolve] rejecting model edge %s -> %s: unknown task", s.From, s.To)
		case s.From == s.To:
			log.Printf("[resolve] rejecting model edge %s -> %s: self-edge", s.From, s.To)
		case s.Confidence < r.threshold:
			log.Printf("[resolve] rejecting model edge %s -> %s: confidence %.2f below threshold %.2f",
				s.From, s.To, s.Confidence, r.threshold)
		case forward[[2]string{s.From, s.To}]:
			// Already ordered by a rule; nothing to add.
		case forward[[2]string{s.To, s.From}]:
			log.Printf("[resolve] rejecting model edge %s -> %s: contradicts rule-derived edge", s.From, s.To)
		default:
			accepted = append(accepted, models.Dependency{
				From:       s.From,
				To:         s.To,
				Type:       models.DependencyLogical,
				Confidence: s.Confidence,
				Rule:       "model",
			})
		}
	}
	return accepted, nil
}
