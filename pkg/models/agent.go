package models

import "time"

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent is executing a task.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusStopped indicates the agent has been retired.
	AgentStatusStopped AgentStatus = "stopped"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusStopped:
		return true
	default:
		return false
	}
}

// Agent represents a worker instance in a capability pool.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Capabilities is the set of task kinds this agent can execute.
	Capabilities []Capability `json:"capabilities"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// CurrentTask is the ID of the task being executed, if any.
	CurrentTask string `json:"current_task,omitempty"`
	// CompletedTasks counts successful executions by this agent.
	CompletedTasks int `json:"completed_tasks"`
	// FailedTasks counts failed executions by this agent.
	FailedTasks int `json:"failed_tasks"`
	// SpawnedAt is when the agent was created.
	SpawnedAt time.Time `json:"spawned_at"`
}

// Can reports whether the agent's capability set covers the given capability.
// Matching is set containment, not type equality: a multi-capability agent can
// take any task whose capability it advertises.
func (a *Agent) Can(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
