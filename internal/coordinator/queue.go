package coordinator

import "sort"

// queueEntry is one ready task waiting for an agent.
type queueEntry struct {
	id       string
	priority int
	critical bool
}

// readyQueue is the single global ready queue. It keeps entries ordered by
// priority descending, then critical-path members first, then ID ascending,
// so dispatch order is deterministic and zero-slack tasks never wait behind
// equal-priority work.
type readyQueue struct {
	entries []queueEntry
	present map[string]bool
}

func newReadyQueue() *readyQueue {
	return &readyQueue{present: make(map[string]bool)}
}

// Push inserts a task at its ordered position. Re-pushing a queued task is a
// no-op.
func (q *readyQueue) Push(id string, priority int, critical bool) {
	if q.present[id] {
		return
	}
	e := queueEntry{id: id, priority: priority, critical: critical}
	i := sort.Search(len(q.entries), func(i int) bool {
		if q.entries[i].priority != e.priority {
			return q.entries[i].priority < e.priority
		}
		if q.entries[i].critical != e.critical {
			return !q.entries[i].critical
		}
		return q.entries[i].id > e.id
	})
	q.entries = append(q.entries, queueEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
	q.present[id] = true
}

// Pop removes and returns the highest-ordered task.
func (q *readyQueue) Pop() (string, bool) {
	if len(q.entries) == 0 {
		return "", false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	delete(q.present, e.id)
	return e.id, true
}

// Remove drops a task from the queue if present.
func (q *readyQueue) Remove(id string) {
	if !q.present[id] {
		return
	}
	for i, e := range q.entries {
		if e.id == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	delete(q.present, id)
}

// Contains reports whether the task is queued.
func (q *readyQueue) Contains(id string) bool {
	return q.present[id]
}

func (q *readyQueue) Len() int {
	return len(q.entries)
}

// IDs returns the queued task IDs in dispatch order.
func (q *readyQueue) IDs() []string {
	out := make([]string, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.id
	}
	return out
}
