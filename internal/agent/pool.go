package agent

import (
	"sync"

	"github.com/ecrowe/taskforge/pkg/models"
)

// Pool manages bounded, capability-typed agent pools. Agents are spawned
// lazily up to the per-type cap and recycled between tasks. Matching is by
// capability set: an idle agent takes any task whose capability it covers,
// regardless of which pool it lives in.
type Pool struct {
	factory     *Factory
	defaultSize int
	sizes       map[models.Capability]int

	mu      sync.Mutex
	idle    map[models.Capability][]*Agent
	busy    map[string]*Agent
	spawned map[models.Capability]int
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	// Spawned maps capability to agents created so far.
	Spawned map[models.Capability]int
	// Idle is the total idle agent count.
	Idle int
	// Busy is the total busy agent count.
	Busy int
}

// NewPool creates a pool set. defaultSize caps every capability pool;
// sizes overrides individual capabilities, and a zero size disables a pool.
func NewPool(factory *Factory, defaultSize int, sizes map[models.Capability]int) *Pool {
	p := &Pool{
		factory:     factory,
		defaultSize: defaultSize,
		sizes:       make(map[models.Capability]int, len(sizes)),
		idle:        make(map[models.Capability][]*Agent),
		busy:        make(map[string]*Agent),
		spawned:     make(map[models.Capability]int),
	}
	for c, n := range sizes {
		p.sizes[c] = n
	}
	return p
}

// Capacity returns the cap for a capability's pool.
func (p *Pool) Capacity(c models.Capability) int {
	if n, ok := p.sizes[c]; ok {
		return n
	}
	return p.defaultSize
}

// CanServe reports whether an agent covering the capability could ever
// exist: either its own pool has capacity, or another type with capacity
// advertises it as an extra capability.
func (p *Pool) CanServe(c models.Capability) bool {
	if p.Capacity(c) > 0 {
		return true
	}
	for _, primary := range models.Capabilities() {
		if primary == c || p.Capacity(primary) == 0 {
			continue
		}
		for _, covered := range p.factory.CapabilitySet(primary) {
			if covered == c {
				return true
			}
		}
	}
	return false
}

// Acquire returns an agent able to execute the capability, spawning one if
// the pool has room. The second return is false when every eligible agent
// is busy and the pool is full; the caller should retry later.
func (p *Pool) Acquire(c models.Capability) (*Agent, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Work stealing: any idle agent whose set covers the capability will do.
	// The capability's own pool is checked first so specialists keep their
	// lanes when possible.
	for _, primary := range acquireOrder(c) {
		queue := p.idle[primary]
		for i, a := range queue {
			if !a.Can(c) {
				continue
			}
			p.idle[primary] = append(queue[:i], queue[i+1:]...)
			a.Status = models.AgentStatusBusy
			p.busy[a.ID] = a
			return a, true, nil
		}
	}

	if p.spawned[c] < p.Capacity(c) {
		a, err := p.factory.Spawn(c)
		if err != nil {
			return nil, false, err
		}
		p.spawned[c]++
		a.Status = models.AgentStatusBusy
		p.busy[a.ID] = a
		return a, true, nil
	}

	return nil, false, nil
}

// acquireOrder puts the wanted capability's own pool first, then the rest
// in the stable enum order.
func acquireOrder(c models.Capability) []models.Capability {
	order := []models.Capability{c}
	for _, other := range models.Capabilities() {
		if other != c {
			order = append(order, other)
		}
	}
	return order
}

// Release returns an agent to its primary pool and records the outcome.
func (p *Pool) Release(a *Agent, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.busy, a.ID)
	a.Status = models.AgentStatusIdle
	a.CurrentTask = ""
	if success {
		a.CompletedTasks++
	} else {
		a.FailedTasks++
	}

	primary := a.Capabilities[0]
	p.idle[primary] = append(p.idle[primary], a)
}

// Busy returns the busy agent with the given ID, if one exists.
func (p *Pool) Busy(id string) (*Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.busy[id]
	return a, ok
}

// BusyCount returns the number of agents currently executing.
func (p *Pool) BusyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy)
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	spawned := make(map[models.Capability]int, len(p.spawned))
	idle := 0
	for c, n := range p.spawned {
		spawned[c] = n
	}
	for _, queue := range p.idle {
		idle += len(queue)
	}
	return PoolStats{Spawned: spawned, Idle: idle, Busy: len(p.busy)}
}
