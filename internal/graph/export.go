package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ecrowe/taskforge/pkg/models"
)

// Export is the serializable node/edge form of a graph.
type Export struct {
	Nodes []models.Task       `json:"nodes" yaml:"nodes"`
	Edges []models.Dependency `json:"edges" yaml:"edges"`
}

// Export returns the graph as a node list and edge list, tasks in scheduling
// order and edges as inserted.
func (g *ExecutionGraph) Export() Export {
	tasks := g.Tasks()
	nodes := make([]models.Task, len(tasks))
	for i, t := range tasks {
		nodes[i] = *t
	}
	return Export{Nodes: nodes, Edges: g.Edges()}
}

// JSON serializes the export form with indentation.
func (e Export) JSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// YAML serializes the export form as YAML.
func (e Export) YAML() ([]byte, error) {
	return yaml.Marshal(e)
}

// Mermaid renders the graph as a mermaid flowchart for quick inspection.
func (e Export) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, n := range e.Nodes {
		fmt.Fprintf(&b, "    %s[%q]\n", shortID(n.ID), n.Title)
	}
	for _, edge := range e.Edges {
		arrow := "-->"
		if edge.Type == models.DependencyResource {
			arrow = "-.->"
		}
		fmt.Fprintf(&b, "    %s %s|%s| %s\n", shortID(edge.From), arrow, edge.Type, shortID(edge.To))
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
