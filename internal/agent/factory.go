package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ecrowe/taskforge/internal/model"
	"github.com/ecrowe/taskforge/pkg/models"
)

// Agent pairs worker metadata with the executor that does the work.
type Agent struct {
	models.Agent
	exec Executor
}

// Execute delegates to the agent's executor.
func (a *Agent) Execute(ctx context.Context, task models.Task) (string, error) {
	return a.exec.Execute(ctx, task)
}

// Factory spawns agents. Executor construction is looked up in the builder
// registry so plugins can override a capability's executor.
type Factory struct {
	completer model.Completer
	builders  map[models.Capability]Builder
	// extraCaps grants additional capabilities to agents of a primary type,
	// e.g. letting review agents also take generic work.
	extraCaps map[models.Capability][]models.Capability
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithBuilder overrides the executor builder for a capability.
func WithBuilder(c models.Capability, b Builder) FactoryOption {
	return func(f *Factory) { f.builders[c] = b }
}

// WithExtraCapabilities widens the capability set agents of a primary type
// advertise.
func WithExtraCapabilities(primary models.Capability, extra ...models.Capability) FactoryOption {
	return func(f *Factory) {
		f.extraCaps[primary] = append(f.extraCaps[primary], extra...)
	}
}

// NewFactory creates an agent factory over a model backend.
func NewFactory(completer model.Completer, opts ...FactoryOption) *Factory {
	f := &Factory{
		completer: completer,
		builders:  defaultBuilders(),
		extraCaps: make(map[models.Capability][]models.Capability),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CapabilitySet returns the full set an agent of the primary type
// advertises: the primary first, then any extras in sorted order.
func (f *Factory) CapabilitySet(primary models.Capability) []models.Capability {
	caps := []models.Capability{primary}
	for _, extra := range f.extraCaps[primary] {
		if extra != primary {
			caps = append(caps, extra)
		}
	}
	sort.Slice(caps[1:], func(i, j int) bool { return caps[i+1] < caps[j+1] })
	return caps
}

// Spawn creates an idle agent of the given primary capability.
func (f *Factory) Spawn(primary models.Capability) (*Agent, error) {
	if !primary.Valid() {
		return nil, fmt.Errorf("unknown capability %q", primary)
	}
	builder, ok := f.builders[primary]
	if !ok {
		return nil, fmt.Errorf("no executor builder for capability %q", primary)
	}

	return &Agent{
		Agent: models.Agent{
			ID:           fmt.Sprintf("%s-%s", primary, uuid.New().String()[:8]),
			Capabilities: f.CapabilitySet(primary),
			Status:       models.AgentStatusIdle,
			SpawnedAt:    time.Now(),
		},
		exec: builder(f.completer),
	}, nil
}
