// Package dispatcher wires the pipeline end to end: decompose a spec into
// tasks, resolve dependencies, build and freeze the execution graph, run it
// through the coordinator, and aggregate the result.
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/ecrowe/taskforge/internal/agent"
	"github.com/ecrowe/taskforge/internal/bus"
	"github.com/ecrowe/taskforge/internal/config"
	"github.com/ecrowe/taskforge/internal/coordinator"
	"github.com/ecrowe/taskforge/internal/decompose"
	"github.com/ecrowe/taskforge/internal/graph"
	"github.com/ecrowe/taskforge/internal/history"
	"github.com/ecrowe/taskforge/internal/model"
	"github.com/ecrowe/taskforge/internal/plugin"
	"github.com/ecrowe/taskforge/internal/resolve"
	"github.com/ecrowe/taskforge/internal/state"
	"github.com/ecrowe/taskforge/pkg/models"
)

// Plan is the pre-execution output of the pipeline: the tasks, the resolved
// edges, and the frozen graph.
type Plan struct {
	Tasks []*models.Task
	Edges []models.Dependency
	Graph *graph.ExecutionGraph
}

// Dispatcher owns the engine's collaborators for one process. There are no
// package-level globals; everything hangs off this object.
type Dispatcher struct {
	cfg       *config.Config
	completer model.Completer
	store     state.Store
	events    *bus.Bus
	registry  *plugin.Registry
	hist      *history.Store

	checkpointDir string
	ownsStore     bool
	ownsBus       bool
	ownsHist      bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCompleter sets the model backend. Without one, decomposition and
// resolution run rule-only.
func WithCompleter(c model.Completer) Option {
	return func(d *Dispatcher) { d.completer = c }
}

// WithStore injects a state store; the caller keeps ownership.
func WithStore(s state.Store) Option {
	return func(d *Dispatcher) { d.store = s; d.ownsStore = false }
}

// WithBus injects a message bus; the caller keeps ownership.
func WithBus(b *bus.Bus) Option {
	return func(d *Dispatcher) { d.events = b; d.ownsBus = false }
}

// WithHistory injects a run-history store; the caller keeps ownership.
func WithHistory(h *history.Store) Option {
	return func(d *Dispatcher) { d.hist = h; d.ownsHist = false }
}

// WithPlugins sets the executor plugin registry.
func WithPlugins(r *plugin.Registry) Option {
	return func(d *Dispatcher) { d.registry = r }
}

// WithCheckpointDir overrides where checkpoint documents are written.
func WithCheckpointDir(dir string) Option {
	return func(d *Dispatcher) { d.checkpointDir = dir }
}

// New creates a dispatcher from configuration. Collaborators not injected
// via options are opened from the config's storage paths and owned (and
// closed) by the dispatcher.
func New(cfg *config.Config, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		cfg:       cfg,
		ownsStore: true,
		ownsBus:   true,
		ownsHist:  true,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.events == nil {
		d.events = bus.New()
	}
	if d.store == nil {
		path := cfg.Storage.DBPath
		if path == "" {
			path = state.DefaultDBPath()
		}
		db, err := state.Open(path)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		d.store = db
	}
	if d.hist == nil {
		path := cfg.Storage.HistoryDBPath
		if path == "" {
			path = history.DefaultPath()
		}
		h, err := history.Open(path)
		if err != nil {
			return nil, err
		}
		d.hist = h
	}
	if d.checkpointDir == "" {
		d.checkpointDir = cfg.Storage.CheckpointDir
	}
	return d, nil
}

// Close releases every collaborator the dispatcher owns.
func (d *Dispatcher) Close() error {
	var firstErr error
	if d.registry != nil {
		d.registry.Close()
	}
	if d.ownsHist && d.hist != nil {
		if err := d.hist.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.ownsStore && d.store != nil {
		if err := d.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.ownsBus && d.events != nil {
		d.events.Close()
	}
	return firstErr
}

// Events returns the dispatcher's message bus, for subscribers like the TUI.
func (d *Dispatcher) Events() *bus.Bus {
	return d.events
}

// Plan decomposes a spec and resolves its dependencies without executing
// anything. The returned graph is frozen.
func (d *Dispatcher) Plan(ctx context.Context, spec string) (*Plan, error) {
	tasks, err := decompose.New(d.completer).Decompose(ctx, spec)
	if err != nil {
		return nil, err
	}

	ropts := []resolve.Option{
		resolve.WithConfidenceThreshold(d.cfg.Engine.DependencyConfidenceThreshold),
	}
	if d.completer != nil {
		ropts = append(ropts, resolve.WithCompleter(d.completer))
	}
	if d.cfg.Resolver.RulesFile != "" {
		rules, err := resolve.LoadRules(d.cfg.Resolver.RulesFile)
		if err != nil {
			return nil, err
		}
		ropts = append(ropts, resolve.WithRules(rules))
	}
	resolver, err := resolve.New(ropts...)
	if err != nil {
		return nil, err
	}
	edges, err := resolver.Resolve(ctx, tasks)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(tasks, edges)
	if err != nil {
		return nil, err
	}
	g.Freeze()
	return &Plan{Tasks: tasks, Edges: edges, Graph: g}, nil
}

// Run executes a spec end to end and aggregates the outcome. A checkpoint
// is written before execution and after it finishes, and a history row is
// appended when the run ends.
func (d *Dispatcher) Run(ctx context.Context, spec string) (*models.Result, error) {
	plan, err := d.Plan(ctx, spec)
	if err != nil {
		return nil, err
	}
	return d.RunPlanned(ctx, plan, spec)
}

// RunPlanned executes an already-planned spec. Callers that need the plan
// up front (the watch TUI seeds itself from it) use this to avoid planning
// twice.
func (d *Dispatcher) RunPlanned(ctx context.Context, plan *Plan, spec string) (*models.Result, error) {
	runID := uuid.New().String()
	digest := specDigest(spec)
	if err := d.store.CreateRun(runID, digest); err != nil {
		return nil, err
	}

	mgr := state.NewManager(runID, d.store, d.events, d.checkpointDir)
	if err := mgr.Register(plan.Graph.Tasks(), plan.Graph.Edges()); err != nil {
		return nil, err
	}

	cp, err := plan.Graph.ComputeCriticalPath()
	if err != nil {
		return nil, err
	}

	return d.execute(ctx, mgr, plan.Graph, cp, digest)
}

// Resume restores a checkpoint and continues the run it snapshotted.
func (d *Dispatcher) Resume(ctx context.Context, checkpointID string) (*models.Result, error) {
	mgr := state.NewManager("", d.store, d.events, d.checkpointDir)
	snapshot, err := mgr.Restore(checkpointID)
	if err != nil {
		return nil, err
	}

	tasks := mgr.Tasks()
	ptrs := make([]*models.Task, len(tasks))
	for i := range tasks {
		t := tasks[i]
		ptrs[i] = &t
	}
	g, err := graph.Build(ptrs, mgr.Edges())
	if err != nil {
		return nil, err
	}
	g.Freeze()

	cp, err := g.ComputeCriticalPath()
	if err != nil {
		return nil, err
	}

	log.Printf("[dispatcher] resuming run %s from checkpoint %s (%d tasks)",
		snapshot.RunID, checkpointID, len(tasks))
	return d.execute(ctx, mgr, g, cp, "")
}

// execute runs a registered graph through the coordinator and aggregates
// the result.
func (d *Dispatcher) execute(ctx context.Context, mgr *state.Manager, g *graph.ExecutionGraph, cp *graph.CriticalPath, digest string) (*models.Result, error) {
	if _, err := mgr.Checkpoint("pre-run", nil); err != nil {
		return nil, err
	}

	var fopts []agent.FactoryOption
	if d.registry != nil {
		fopts = d.registry.FactoryOptions()
	}
	factory := agent.NewFactory(d.completer, fopts...)
	pool := agent.NewPool(factory, d.cfg.Engine.AgentPoolSizePerType, nil)

	copts := []coordinator.Option{
		coordinator.WithMaxConcurrent(d.cfg.Engine.MaxConcurrentAgents),
		coordinator.WithMaxRetries(d.cfg.Engine.MaxRetries),
		coordinator.WithTaskTimeout(d.cfg.Engine.TaskTimeoutDefault),
	}
	if cp != nil {
		copts = append(copts, coordinator.WithCriticalPath(cp.TaskIDs))
	}
	coord := coordinator.New(g, mgr, pool, copts...)

	checkpointCtx, stopCheckpoints := context.WithCancel(ctx)
	defer stopCheckpoints()
	mgr.StartAutoCheckpoint(checkpointCtx, d.cfg.Engine.CheckpointInterval(), coord.QueueIDs)

	runErr := coord.Run(ctx)
	stopCheckpoints()

	if _, err := mgr.Checkpoint("final", coord.QueueIDs()); err != nil {
		log.Printf("[dispatcher] final checkpoint: %v", err)
	}

	result := d.aggregate(mgr, cp)
	if err := d.store.FinishRun(mgr.RunID(), runStatus(result, runErr)); err != nil {
		log.Printf("[dispatcher] finish run: %v", err)
	}
	if d.hist != nil {
		if err := d.hist.Append(history.FromResult(result, digest)); err != nil {
			log.Printf("[dispatcher] record history: %v", err)
		}
	}
	return result, runErr
}

func runStatus(result *models.Result, runErr error) string {
	switch {
	case runErr != nil:
		return "cancelled"
	case result.Succeeded():
		return "succeeded"
	default:
		return "failed"
	}
}

// aggregate assembles the run result from final state.
func (d *Dispatcher) aggregate(mgr *state.Manager, cp *graph.CriticalPath) *models.Result {
	tasks := mgr.Tasks()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	metrics := mgr.Metrics()
	counts := make(map[models.TaskStatus]int)
	var busyTime time.Duration
	for _, t := range tasks {
		counts[t.Status]++
		if t.StartedAt != nil && t.EndedAt != nil {
			busyTime += t.EndedAt.Sub(*t.StartedAt)
		}
	}

	result := &models.Result{
		RunID:        mgr.RunID(),
		Tasks:        tasks,
		StatusCounts: counts,
		WallTime:     metrics.WallTime,
	}
	if cp != nil {
		result.CriticalPath = cp.TaskIDs
		result.CriticalPathLength = cp.Length
	}
	if metrics.WallTime > 0 && d.cfg.Engine.MaxConcurrentAgents > 0 {
		eff := float64(busyTime) / (float64(metrics.WallTime) * float64(d.cfg.Engine.MaxConcurrentAgents))
		if eff > 1 {
			eff = 1
		}
		result.ParallelEfficiency = eff
	}
	return result
}

// specDigest fingerprints a spec for the run index and history.
func specDigest(spec string) string {
	sum := sha256.Sum256([]byte(spec))
	return hex.EncodeToString(sum[:])
}

// Checkpoints lists recorded checkpoints, optionally filtered by run.
func (d *Dispatcher) Checkpoints(runID string) ([]state.CheckpointInfo, error) {
	return d.store.ListCheckpoints(runID)
}

// History exposes the run-history store for reporting commands.
func (d *Dispatcher) History() *history.Store {
	return d.hist
}

// NewCompleterFromConfig builds the Anthropic-backed completer described by
// the config, or returns nil when no API key or Bedrock path is available.
func NewCompleterFromConfig(cfg *config.Config) (model.Completer, error) {
	key, err := config.GetAPIKey(cfg)
	if err != nil && !cfg.Anthropic.UseBedrock {
		return nil, fmt.Errorf("model backend unavailable: %w", err)
	}
	client, err := model.NewClient(model.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        key,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
