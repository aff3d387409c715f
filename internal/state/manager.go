package state

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecrowe/taskforge/internal/bus"
	"github.com/ecrowe/taskforge/pkg/models"
)

// DefaultCheckpointRetention is how many checkpoints are kept per run.
const DefaultCheckpointRetention = 10

// allowedTransitions is the task state machine. A transition not listed
// here is illegal.
var allowedTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending:   {models.TaskStatusReady, models.TaskStatusCancelled, models.TaskStatusSkipped},
	models.TaskStatusReady:     {models.TaskStatusScheduled, models.TaskStatusCancelled, models.TaskStatusSkipped},
	models.TaskStatusScheduled: {models.TaskStatusRunning, models.TaskStatusCancelled, models.TaskStatusSkipped},
	models.TaskStatusRunning:   {models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled},
	models.TaskStatusFailed:    {models.TaskStatusPending}, // retry
}

// TransitionError reports an illegal state machine transition.
type TransitionError struct {
	TaskID string
	From   models.TaskStatus
	To     models.TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
}

// ChangeEvent is the payload published on every task transition.
type ChangeEvent struct {
	TaskID  string            `json:"task_id"`
	From    models.TaskStatus `json:"from"`
	To      models.TaskStatus `json:"to"`
	Attempt int               `json:"attempt"`
	Detail  string            `json:"detail,omitempty"`
}

// AgentEvent is the payload published under state.agent.<id> when an
// agent's assignment changes.
type AgentEvent struct {
	AgentID string `json:"agent_id"`
	Event   string `json:"event"`
	TaskID  string `json:"task_id,omitempty"`
	Success bool   `json:"success,omitempty"`
}

// Agent lifecycle event names.
const (
	AgentAssigned = "assigned"
	AgentReleased = "released"
)

// Manager is the authoritative holder of run state. Every task transition
// flows through it: it validates the state machine, persists the change,
// and publishes a change event on the bus under state.task.<id>. Agent
// assignment changes are published under state.agent.<id>.
type Manager struct {
	runID         string
	store         Store
	events        *bus.Bus
	checkpointDir string
	retention     int

	mu            sync.RWMutex
	tasks         map[string]*models.Task
	edges         []models.Dependency
	startedAt     time.Time
	totalAttempts int
	queueDepth    int
	busyAgents    int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCheckpointRetention overrides how many checkpoints are kept per run.
func WithCheckpointRetention(n int) ManagerOption {
	return func(m *Manager) { m.retention = n }
}

// NewManager creates a state manager for a run.
func NewManager(runID string, store Store, events *bus.Bus, checkpointDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		runID:         runID,
		store:         store,
		events:        events,
		checkpointDir: checkpointDir,
		retention:     DefaultCheckpointRetention,
		tasks:         make(map[string]*models.Task),
		startedAt:     time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunID returns the run this manager owns.
func (m *Manager) RunID() string {
	return m.runID
}

// Register loads the initial task set and frozen edge set, persisting every
// task.
func (m *Manager) Register(tasks []*models.Task, edges []models.Dependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		copied := *t
		m.tasks[t.ID] = &copied
		if err := m.store.UpsertTask(m.runID, &copied); err != nil {
			return err
		}
	}
	m.edges = append([]models.Dependency(nil), edges...)
	return nil
}

// Task returns a copy of a task's current state.
func (m *Manager) Task(id string) (models.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return *t, true
}

// Tasks returns a copy of every task.
func (m *Manager) Tasks() []models.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	return out
}

// Mutate applies fn to a task's non-status fields under the lock and
// persists the result. Status changes must go through Transition.
func (m *Manager) Mutate(id string, fn func(*models.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}
	before := t.Status
	fn(t)
	if t.Status != before {
		t.Status = before
		return fmt.Errorf("task %s: Mutate must not change status", id)
	}
	return m.store.UpsertTask(m.runID, t)
}

// Transition moves a task through the state machine. Illegal transitions
// return *TransitionError. The change is persisted and published.
func (m *Manager) Transition(id string, to models.TaskStatus, detail string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown task %s", id)
	}
	from := t.Status
	if !transitionAllowed(from, to) {
		m.mu.Unlock()
		return &TransitionError{TaskID: id, From: from, To: to}
	}

	now := time.Now()
	t.Status = to
	switch to {
	case models.TaskStatusRunning:
		t.StartedAt = &now
		t.Attempt++
		m.totalAttempts++
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled, models.TaskStatusSkipped:
		t.EndedAt = &now
	case models.TaskStatusPending:
		// Retry path: clear transient execution state.
		t.AssignedAgent = ""
		t.StartedAt = nil
		t.EndedAt = nil
	}
	if to == models.TaskStatusSkipped {
		t.SkipReason = detail
	}
	attempt := t.Attempt
	if err := m.store.UpsertTask(m.runID, t); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.store.AppendEvent(m.runID, id, from, to, attempt, detail); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if m.events != nil {
		_, err := m.events.Publish("state.task."+id, "state-manager", ChangeEvent{
			TaskID:  id,
			From:    from,
			To:      to,
			Attempt: attempt,
			Detail:  detail,
		})
		if err != nil && err != bus.ErrClosed {
			log.Printf("[state] publish change event for %s: %v", id, err)
		}
	}
	return nil
}

// PublishAgentEvent emits an agent assignment change on its per-agent
// topic. Agent events are advisory and do not touch persisted state.
func (m *Manager) PublishAgentEvent(ev AgentEvent) {
	if m.events == nil {
		return
	}
	_, err := m.events.Publish("state.agent."+ev.AgentID, "state-manager", ev)
	if err != nil && err != bus.ErrClosed {
		log.Printf("[state] publish agent event for %s: %v", ev.AgentID, err)
	}
}

func transitionAllowed(from, to models.TaskStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// UpdateGauges records the coordinator's live queue depth and busy agent
// count for metrics and checkpoints.
func (m *Manager) UpdateGauges(queueDepth, busyAgents int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = queueDepth
	m.busyAgents = busyAgents
}

// Metrics returns a snapshot of run counters.
func (m *Manager) Metrics() models.RunMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metricsLocked()
}

func (m *Manager) metricsLocked() models.RunMetrics {
	counts := make(map[models.TaskStatus]int)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return models.RunMetrics{
		StatusCounts:  counts,
		TotalAttempts: m.totalAttempts,
		QueueDepth:    m.queueDepth,
		BusyAgents:    m.busyAgents,
		StartedAt:     m.startedAt,
		WallTime:      time.Since(m.startedAt),
	}
}

// Checkpoint snapshots the run to disk and records it in the index. queue
// is the coordinator's current ready queue, in order.
func (m *Manager) Checkpoint(reason string, queue []string) (*models.Checkpoint, error) {
	m.mu.RLock()
	tasks := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, *t)
	}
	cp := &models.Checkpoint{
		ID:            uuid.New().String(),
		RunID:         m.runID,
		SchemaVersion: models.CheckpointSchemaVersion,
		Reason:        reason,
		CreatedAt:     time.Now(),
		Tasks:         tasks,
		Edges:         append([]models.Dependency(nil), m.edges...),
		Queue:         append([]string(nil), queue...),
		Metrics:       m.metricsLocked(),
	}
	m.mu.RUnlock()

	path, err := writeCheckpointDoc(m.checkpointDir, cp)
	if err != nil {
		return nil, err
	}
	if err := m.store.IndexCheckpoint(cp, path); err != nil {
		return nil, err
	}
	m.pruneCheckpoints()
	return cp, nil
}

// pruneCheckpoints enforces the retention limit, dropping the oldest
// documents and index rows. Failures are logged, not fatal.
func (m *Manager) pruneCheckpoints() {
	infos, err := m.store.ListCheckpoints(m.runID)
	if err != nil {
		log.Printf("[state] list checkpoints for pruning: %v", err)
		return
	}
	for i := m.retention; i < len(infos); i++ {
		if err := m.store.DeleteCheckpoint(infos[i].ID); err != nil {
			log.Printf("[state] prune checkpoint %s: %v", infos[i].ID, err)
			continue
		}
		if err := removeFile(infos[i].Path); err != nil {
			log.Printf("[state] remove checkpoint document %s: %v", infos[i].Path, err)
		}
	}
}

// Restore loads a checkpoint and resets the manager to it. Tasks that were
// in flight at snapshot time go back to pending; terminal tasks keep their
// outcome. Corrupt documents return *CheckpointCorruptError.
func (m *Manager) Restore(id string) (*models.Checkpoint, error) {
	path, digest, err := m.store.LookupCheckpoint(id)
	if err != nil {
		return nil, err
	}
	cp, err := readCheckpointDoc(id, path, digest)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.runID = cp.RunID
	m.tasks = make(map[string]*models.Task, len(cp.Tasks))
	for i := range cp.Tasks {
		t := cp.Tasks[i]
		switch t.Status {
		case models.TaskStatusReady, models.TaskStatusScheduled, models.TaskStatusRunning:
			t.Status = models.TaskStatusPending
			t.AssignedAgent = ""
			t.StartedAt = nil
		}
		m.tasks[t.ID] = &t
		if err := m.store.UpsertTask(m.runID, &t); err != nil {
			return nil, err
		}
	}
	m.edges = append([]models.Dependency(nil), cp.Edges...)
	m.totalAttempts = cp.Metrics.TotalAttempts
	return cp, nil
}

// Edges returns the frozen edge set registered with the manager.
func (m *Manager) Edges() []models.Dependency {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Dependency(nil), m.edges...)
}

// StartAutoCheckpoint checkpoints on the given interval until ctx is
// cancelled.
func (m *Manager) StartAutoCheckpoint(ctx context.Context, interval time.Duration, queueFn func() []string) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var queue []string
				if queueFn != nil {
					queue = queueFn()
				}
				if _, err := m.Checkpoint("interval", queue); err != nil {
					log.Printf("[state] auto checkpoint: %v", err)
				}
			}
		}
	}()
}
