// Package coordinator runs a frozen execution graph to completion: it
// promotes tasks whose dependencies are satisfied, dispatches them to pooled
// agents from a single global ready queue, and drives every task through the
// state machine, including retries, deadlines, skip cascades, and
// cooperative cancellation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ecrowe/taskforge/internal/agent"
	"github.com/ecrowe/taskforge/internal/graph"
	"github.com/ecrowe/taskforge/internal/state"
	"github.com/ecrowe/taskforge/pkg/models"
)

const (
	// DefaultMaxConcurrent caps simultaneously running agents.
	DefaultMaxConcurrent = 4
	// DefaultMaxRetries is the engine-wide retry cap per task.
	DefaultMaxRetries = 3
	// DefaultTaskTimeout is the deadline for a simple task; other
	// complexities scale around it.
	DefaultTaskTimeout = 5 * time.Minute
	// DefaultBackoffBase is the first retry delay; it doubles per attempt.
	DefaultBackoffBase = time.Second
	// DefaultCancelGrace is how long running agents get to finish after the
	// run context is cancelled.
	DefaultCancelGrace = 30 * time.Second
	// DefaultPollInterval bounds how long the loop idles between checks.
	DefaultPollInterval = 100 * time.Millisecond
)

// deadlineBase maps complexity to its deadline at the default task timeout.
var deadlineBase = map[models.Complexity]time.Duration{
	models.ComplexityTrivial:  1 * time.Minute,
	models.ComplexitySimple:   5 * time.Minute,
	models.ComplexityModerate: 15 * time.Minute,
	models.ComplexityComplex:  30 * time.Minute,
}

// errAborted signals a task whose agent never got to run it.
var errAborted = errors.New("task aborted before execution")

// completion is a finished (or aborted) execution reported by a task
// goroutine.
type completion struct {
	taskID  string
	agentID string
	ag      *agent.Agent
	output  string
	err     error
}

// inflight tracks one dispatched task.
type inflight struct {
	taskID  string
	agentID string
	started time.Time
}

// Coordinator schedules and executes tasks over an agent pool.
type Coordinator struct {
	graph *graph.ExecutionGraph
	st    *state.Manager
	pool  *agent.Pool

	maxConcurrent int
	maxRetries    int
	taskTimeout   time.Duration
	backoffBase   time.Duration
	cancelGrace   time.Duration
	pollInterval  time.Duration

	critical map[string]bool

	mu           sync.Mutex
	queue        *readyQueue
	tasksInRun   map[string]*inflight
	retryAt      map[string]time.Time
	shuttingDown bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxConcurrent caps simultaneously running agents.
func WithMaxConcurrent(n int) Option {
	return func(c *Coordinator) { c.maxConcurrent = n }
}

// WithMaxRetries sets the engine-wide retry cap per task.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) { c.maxRetries = n }
}

// WithTaskTimeout rescales complexity deadlines around a new simple-task
// deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.taskTimeout = d }
}

// WithBackoffBase sets the first retry delay.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Coordinator) { c.backoffBase = d }
}

// WithCancelGrace sets how long running agents get after cancellation.
func WithCancelGrace(d time.Duration) Option {
	return func(c *Coordinator) { c.cancelGrace = d }
}

// WithPollInterval bounds loop idle time.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = d }
}

// WithCriticalPath marks the zero-slack tasks; among equal priorities they
// dispatch before off-path work.
func WithCriticalPath(ids []string) Option {
	return func(c *Coordinator) {
		for _, id := range ids {
			c.critical[id] = true
		}
	}
}

// New creates a coordinator over a frozen graph. The state manager must
// already hold the graph's tasks.
func New(g *graph.ExecutionGraph, st *state.Manager, pool *agent.Pool, opts ...Option) *Coordinator {
	c := &Coordinator{
		graph:         g,
		st:            st,
		pool:          pool,
		maxConcurrent: DefaultMaxConcurrent,
		maxRetries:    DefaultMaxRetries,
		taskTimeout:   DefaultTaskTimeout,
		backoffBase:   DefaultBackoffBase,
		cancelGrace:   DefaultCancelGrace,
		pollInterval:  DefaultPollInterval,
		critical:      make(map[string]bool),
		queue:         newReadyQueue(),
		tasksInRun:    make(map[string]*inflight),
		retryAt:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueueIDs returns the ready queue in dispatch order. Safe to call while the
// run loop is active; checkpointing uses it.
func (c *Coordinator) QueueIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.IDs()
}

// Run executes the graph until every task is terminal or the context is
// cancelled. On cancellation, running agents get the grace period before
// being hard-stopped.
func (c *Coordinator) Run(ctx context.Context) error {
	c.reconcile()

	done := make(chan completion, c.maxConcurrent)

	// Executions hang off a detached context so the grace period can let
	// them finish after the run context is cancelled.
	execCtx, execCancel := context.WithCancel(context.Background())
	defer execCancel()

	for {
		select {
		case <-ctx.Done():
			return c.shutdown(ctx, done, execCancel)

		case comp := <-done:
			c.handleCompletion(comp)

		default:
			c.promote()
			dispatched, err := c.dispatch(execCtx, done)
			if err != nil {
				execCancel()
				c.drain(done)
				return err
			}
			c.updateGauges()

			if c.finished() {
				return nil
			}

			if dispatched == 0 {
				select {
				case <-ctx.Done():
					return c.shutdown(ctx, done, execCancel)
				case comp := <-done:
					c.handleCompletion(comp)
				case <-time.After(c.idleDelay()):
				}
			}
		}
	}
}

// reconcile settles tasks left failed by a restored checkpoint taken
// between a failure and its retry or skip cascade: a failed task with
// retries remaining goes back to pending, one without retries cascades
// skips to its descendants so the run can still finish.
func (c *Coordinator) reconcile() {
	for _, t := range c.st.Tasks() {
		if t.Status != models.TaskStatusFailed {
			continue
		}
		if t.Attempt <= t.RetryLimit(c.maxRetries) {
			if err := c.st.Transition(t.ID, models.TaskStatusPending, "retry"); err != nil {
				log.Printf("[coordinator] requeue %s: %v", t.ID, err)
			}
			continue
		}
		if !t.BestEffort {
			c.cascadeSkip(t.ID)
		}
	}
}

// promote moves pending tasks whose dependencies are all satisfied into the
// ready queue. A dependency is satisfied when it completed, or when it is
// best-effort and reached any terminal state.
func (c *Coordinator) promote() {
	tasks := c.st.Tasks()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	now := time.Now()
	for _, t := range tasks {
		if t.Status != models.TaskStatusPending {
			continue
		}
		c.mu.Lock()
		gate, gated := c.retryAt[t.ID]
		c.mu.Unlock()
		if gated && now.Before(gate) {
			continue
		}
		if !c.depsSatisfied(t.ID) {
			continue
		}
		if err := c.st.Transition(t.ID, models.TaskStatusReady, ""); err != nil {
			log.Printf("[coordinator] promote %s: %v", t.ID, err)
			continue
		}
		c.mu.Lock()
		delete(c.retryAt, t.ID)
		c.queue.Push(t.ID, t.Priority, c.critical[t.ID])
		c.mu.Unlock()
	}
}

func (c *Coordinator) depsSatisfied(id string) bool {
	for _, depID := range c.graph.Dependencies(id) {
		dep, ok := c.st.Task(depID)
		if !ok {
			return false
		}
		if dep.Status == models.TaskStatusCompleted {
			continue
		}
		if dep.BestEffort && dep.Status.Terminal() {
			continue
		}
		return false
	}
	return true
}

// dispatch hands queued tasks to agents, in queue order, passing over tasks
// whose capability pool is momentarily full. A task nothing could ever serve
// aborts the run with *ResourceExhaustedError.
func (c *Coordinator) dispatch(execCtx context.Context, done chan<- completion) (int, error) {
	c.mu.Lock()
	candidates := c.queue.IDs()
	c.mu.Unlock()

	dispatched := 0
	for _, id := range candidates {
		c.mu.Lock()
		slots := c.maxConcurrent - len(c.tasksInRun)
		c.mu.Unlock()
		if slots <= 0 {
			return dispatched, nil
		}

		t, ok := c.st.Task(id)
		if !ok || t.Status != models.TaskStatusReady {
			c.mu.Lock()
			c.queue.Remove(id)
			c.mu.Unlock()
			continue
		}

		ag, ok, err := c.pool.Acquire(t.Capability)
		if err != nil {
			return dispatched, fmt.Errorf("acquire agent for task %s: %w", id, err)
		}
		if !ok {
			if !c.pool.CanServe(t.Capability) {
				return dispatched, &ResourceExhaustedError{TaskID: id, Capability: t.Capability}
			}
			continue
		}

		if err := c.st.Transition(id, models.TaskStatusScheduled, ag.ID); err != nil {
			c.pool.Release(ag, false)
			return dispatched, err
		}
		ag.CurrentTask = id
		if err := c.st.Mutate(id, func(task *models.Task) {
			task.AssignedAgent = ag.ID
		}); err != nil {
			log.Printf("[coordinator] assign agent on %s: %v", id, err)
		}
		c.st.PublishAgentEvent(state.AgentEvent{
			AgentID: ag.ID,
			Event:   state.AgentAssigned,
			TaskID:  id,
		})

		c.mu.Lock()
		c.queue.Remove(id)
		c.tasksInRun[id] = &inflight{taskID: id, agentID: ag.ID, started: time.Now()}
		c.mu.Unlock()

		dispatched++
		go c.runTask(execCtx, done, ag, id)
	}
	return dispatched, nil
}

// runTask executes one task under its complexity deadline and reports the
// outcome on the completion channel.
func (c *Coordinator) runTask(execCtx context.Context, done chan<- completion, ag *agent.Agent, id string) {
	if err := c.st.Transition(id, models.TaskStatusRunning, ag.ID); err != nil {
		// The task was cancelled or skipped between dispatch and start.
		done <- completion{taskID: id, agentID: ag.ID, ag: ag, err: errAborted}
		return
	}

	t, _ := c.st.Task(id)
	deadline := c.deadlineFor(t.Complexity)
	taskCtx, cancel := context.WithTimeout(execCtx, deadline)
	defer cancel()

	output, err := ag.Execute(taskCtx, t)
	if err != nil {
		if taskCtx.Err() == context.DeadlineExceeded {
			err = &TimeoutError{TaskID: id, Deadline: deadline, Attempt: t.Attempt}
		} else if !errors.Is(err, context.Canceled) {
			err = &TaskExecutionError{TaskID: id, AgentID: ag.ID, Attempt: t.Attempt, Err: err}
		}
	}
	done <- completion{taskID: id, agentID: ag.ID, ag: ag, output: output, err: err}
}

// deadlineFor derives a task's execution deadline from its complexity,
// scaled by the configured simple-task timeout.
func (c *Coordinator) deadlineFor(cx models.Complexity) time.Duration {
	base, ok := deadlineBase[cx]
	if !ok {
		base = deadlineBase[models.ComplexitySimple]
	}
	return time.Duration(float64(base) * float64(c.taskTimeout) / float64(DefaultTaskTimeout))
}

// handleCompletion settles one finished execution: success completes the
// task, failure retries with backoff or cascades skips, cancellation during
// shutdown marks the task cancelled.
func (c *Coordinator) handleCompletion(comp completion) {
	c.mu.Lock()
	delete(c.tasksInRun, comp.taskID)
	shuttingDown := c.shuttingDown
	c.mu.Unlock()

	c.pool.Release(comp.ag, comp.err == nil)
	c.st.PublishAgentEvent(state.AgentEvent{
		AgentID: comp.agentID,
		Event:   state.AgentReleased,
		TaskID:  comp.taskID,
		Success: comp.err == nil,
	})

	if comp.err == nil {
		if err := c.st.Mutate(comp.taskID, func(t *models.Task) {
			t.Output = comp.output
		}); err != nil {
			log.Printf("[coordinator] record output for %s: %v", comp.taskID, err)
		}
		if err := c.st.Transition(comp.taskID, models.TaskStatusCompleted, ""); err != nil {
			log.Printf("[coordinator] complete %s: %v", comp.taskID, err)
		}
		return
	}

	if errors.Is(comp.err, errAborted) {
		return
	}

	if errors.Is(comp.err, context.Canceled) {
		if err := c.st.Transition(comp.taskID, models.TaskStatusCancelled, "run cancelled"); err != nil {
			log.Printf("[coordinator] cancel %s: %v", comp.taskID, err)
		}
		return
	}

	detail := comp.err.Error()
	if err := c.st.Mutate(comp.taskID, func(t *models.Task) {
		t.Error = detail
	}); err != nil {
		log.Printf("[coordinator] record error for %s: %v", comp.taskID, err)
	}
	if err := c.st.Transition(comp.taskID, models.TaskStatusFailed, detail); err != nil {
		log.Printf("[coordinator] fail %s: %v", comp.taskID, err)
		return
	}

	t, ok := c.st.Task(comp.taskID)
	if !ok {
		return
	}
	if !shuttingDown && t.Attempt <= t.RetryLimit(c.maxRetries) {
		delay := c.backoff(t.Attempt)
		log.Printf("[coordinator] task %s failed on attempt %d, retrying in %s: %v",
			comp.taskID, t.Attempt, delay, comp.err)
		if err := c.st.Transition(comp.taskID, models.TaskStatusPending, "retry"); err != nil {
			log.Printf("[coordinator] requeue %s: %v", comp.taskID, err)
			return
		}
		c.mu.Lock()
		c.retryAt[comp.taskID] = time.Now().Add(delay)
		c.mu.Unlock()
		return
	}

	log.Printf("[coordinator] task %s failed permanently after %d attempts: %v",
		comp.taskID, t.Attempt, comp.err)
	if t.BestEffort {
		return
	}
	if !shuttingDown {
		c.cascadeSkip(comp.taskID)
	}
}

// backoff returns the retry delay before the next attempt: the base delay
// doubled per completed attempt, no jitter.
func (c *Coordinator) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	return c.backoffBase << shift
}

// cascadeSkip marks every non-terminal descendant of a failed task as
// skipped, naming the failed ancestor.
func (c *Coordinator) cascadeSkip(failedID string) {
	reason := fmt.Sprintf("upstream task %s failed", failedID)
	for _, id := range c.graph.Descendants(failedID) {
		t, ok := c.st.Task(id)
		if !ok || t.Status.Terminal() {
			continue
		}
		c.mu.Lock()
		c.queue.Remove(id)
		delete(c.retryAt, id)
		c.mu.Unlock()
		if err := c.st.Transition(id, models.TaskStatusSkipped, reason); err != nil {
			log.Printf("[coordinator] skip %s: %v", id, err)
		}
	}
}

// shutdown runs the cooperative cancellation protocol: unstarted tasks are
// cancelled immediately, running agents get the grace period, then are
// hard-stopped.
func (c *Coordinator) shutdown(ctx context.Context, done chan completion, execCancel context.CancelFunc) error {
	c.mu.Lock()
	c.shuttingDown = true
	remaining := len(c.tasksInRun)
	c.mu.Unlock()

	c.cancelUnstarted()
	log.Printf("[coordinator] cancelling run, waiting up to %s for %d in-flight tasks", c.cancelGrace, remaining)

	grace := time.NewTimer(c.cancelGrace)
	defer grace.Stop()

	for {
		c.mu.Lock()
		remaining = len(c.tasksInRun)
		c.mu.Unlock()
		if remaining == 0 {
			return ctx.Err()
		}
		select {
		case comp := <-done:
			c.handleCompletion(comp)
		case <-grace.C:
			execCancel()
		}
	}
}

// cancelUnstarted cancels every task still waiting for an agent.
func (c *Coordinator) cancelUnstarted() {
	for _, t := range c.st.Tasks() {
		switch t.Status {
		case models.TaskStatusPending, models.TaskStatusReady:
			c.mu.Lock()
			c.queue.Remove(t.ID)
			delete(c.retryAt, t.ID)
			c.mu.Unlock()
			if err := c.st.Transition(t.ID, models.TaskStatusCancelled, "run cancelled"); err != nil {
				log.Printf("[coordinator] cancel %s: %v", t.ID, err)
			}
		}
	}
}

// drain settles any completions still in flight after an aborting error.
func (c *Coordinator) drain(done chan completion) {
	c.mu.Lock()
	c.shuttingDown = true
	remaining := len(c.tasksInRun)
	c.mu.Unlock()
	for ; remaining > 0; remaining-- {
		c.handleCompletion(<-done)
	}
}

func (c *Coordinator) updateGauges() {
	c.mu.Lock()
	depth := c.queue.Len()
	busy := len(c.tasksInRun)
	c.mu.Unlock()
	c.st.UpdateGauges(depth, busy)
}

// finished reports whether every task is terminal and nothing is in flight.
func (c *Coordinator) finished() bool {
	c.mu.Lock()
	busy := len(c.tasksInRun)
	c.mu.Unlock()
	if busy > 0 {
		return false
	}
	for _, t := range c.st.Tasks() {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// idleDelay returns how long to wait before re-checking: the poll interval,
// or sooner if a retry gate opens first.
func (c *Coordinator) idleDelay() time.Duration {
	delay := c.pollInterval
	now := time.Now()
	c.mu.Lock()
	for _, at := range c.retryAt {
		if d := at.Sub(now); d > 0 && d < delay {
			delay = d
		}
	}
	c.mu.Unlock()
	if delay <= 0 {
		delay = time.Millisecond
	}
	return delay
}
