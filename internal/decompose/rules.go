package decompose

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ecrowe/taskforge/pkg/models"
)

// Keyword classes used by the rule-based decomposer. Matching is
// case-insensitive substring search over the whole specification.
var (
	researchKeywords    = []string{"research", "evaluate", "investigate", "architecture", "distributed"}
	dataKeywords        = []string{"database", "storage", "schema", "persist", "data model"}
	backendKeywords     = []string{"api", "server", "backend", "service", "endpoint"}
	uiKeywords          = []string{"ui", "interface", "frontend", "component", "page", "screen", "form"}
	integrationKeywords = []string{"integration", "external", "third-party", "webhook"}
	testingKeywords     = []string{"test", "testing", "verify", "validation", "quality"}
	reviewKeywords      = []string{"review", "document", "docs", "audit"}
)

func matchesAny(spec string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(spec, kw) {
			return true
		}
	}
	return false
}

// ruleDecompose is the deterministic fallback: a fixed pattern table mapping
// specification keywords to subtasks. A specification matching nothing yields
// a single generic task covering the whole request.
func ruleDecompose(spec string) []*models.Task {
	lower := strings.ToLower(spec)
	now := time.Now()

	newTask := func(title, desc string, capability models.Capability, priority int, complexity models.Complexity, artifacts, requires []string) *models.Task {
		return &models.Task{
			ID:          uuid.New().String(),
			Title:       title,
			Description: desc,
			Capability:  capability,
			Priority:    priority,
			Complexity:  complexity,
			Artifacts:   artifacts,
			Requires:    requires,
			Status:      models.TaskStatusPending,
			CreatedAt:   now,
		}
	}

	var tasks []*models.Task
	var implArtifacts []string

	if matchesAny(lower, researchKeywords) {
		tasks = append(tasks, newTask(
			"Research technical requirements",
			"Research technical requirements and architecture patterns for: "+spec,
			models.CapabilityResearch, 8, models.ComplexitySimple,
			[]string{"research-notes"}, nil,
		))
	}

	if matchesAny(lower, dataKeywords) {
		tasks = append(tasks, newTask(
			"Design storage schema",
			"Design and implement the storage schema.",
			models.CapabilityCodeWriting, 7, models.ComplexityModerate,
			[]string{"schema"}, nil,
		))
		tasks = append(tasks, newTask(
			"Implement data access layer",
			"Implement the data access layer over the storage schema.",
			models.CapabilityCodeWriting, 6, models.ComplexityModerate,
			[]string{"data-access"}, []string{"schema"},
		))
		implArtifacts = append(implArtifacts, "data-access")
	}

	if matchesAny(lower, backendKeywords) {
		tasks = append(tasks, newTask(
			"Implement core API endpoints",
			"Design and implement the core API endpoints.",
			models.CapabilityCodeWriting, 6, models.ComplexityModerate,
			[]string{"api"}, nil,
		))
		tasks = append(tasks, newTask(
			"Implement business logic",
			"Implement the core business logic and services.",
			models.CapabilityCodeWriting, 5, models.ComplexityComplex,
			[]string{"business-logic"}, nil,
		))
		implArtifacts = append(implArtifacts, "api", "business-logic")
	}

	if matchesAny(lower, uiKeywords) {
		var requires []string
		if matchesAny(lower, backendKeywords) {
			requires = []string{"api"}
		}
		tasks = append(tasks, newTask(
			"Implement UI components",
			"Implement the core UI components and layouts.",
			models.CapabilityCodeWriting, 4, models.ComplexityModerate,
			[]string{"ui"}, requires,
		))
		implArtifacts = append(implArtifacts, "ui")
	}

	if matchesAny(lower, integrationKeywords) {
		tasks = append(tasks, newTask(
			"Implement external integrations",
			"Implement the external service integrations.",
			models.CapabilityCodeWriting, 4, models.ComplexityModerate,
			[]string{"integrations"}, nil,
		))
		implArtifacts = append(implArtifacts, "integrations")
	}

	if len(implArtifacts) > 0 && matchesAny(lower, testingKeywords) {
		tasks = append(tasks, newTask(
			"Write tests",
			"Write tests covering the implemented functionality.",
			models.CapabilityTesting, 3, models.ComplexitySimple,
			[]string{"test-suite"}, implArtifacts,
		))
	}

	if len(tasks) > 0 && matchesAny(lower, reviewKeywords) {
		requires := append([]string(nil), implArtifacts...)
		tasks = append(tasks, newTask(
			"Review deliverables",
			"Review the produced work for correctness and completeness.",
			models.CapabilityReview, 2, models.ComplexitySimple,
			nil, requires,
		))
	}

	if len(tasks) == 0 {
		// Nothing matched: the whole specification becomes one generic task.
		title := spec
		if len(title) > 64 {
			title = title[:64]
		}
		tasks = append(tasks, newTask(
			title,
			spec,
			models.CapabilityGeneric, 5, models.ComplexitySimple,
			nil, nil,
		))
	}

	return tasks
}
