package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusReady, TaskStatusScheduled, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusSkipped,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if TaskStatus("blocked").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	cases := map[TaskStatus]bool{
		TaskStatusPending:   false,
		TaskStatusReady:     false,
		TaskStatusScheduled: false,
		TaskStatusRunning:   false,
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
		TaskStatusCancelled: true,
		TaskStatusSkipped:   true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Errorf("Terminal(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestCapabilityValid(t *testing.T) {
	for _, c := range Capabilities() {
		if !c.Valid() {
			t.Errorf("expected %q to be valid", c)
		}
	}
	if Capability("deploy").Valid() {
		t.Error("capability set is closed; unknown values must be invalid")
	}
}

func TestDependencyTypePrecedence(t *testing.T) {
	if DependencyData.Precedence() <= DependencyLogical.Precedence() {
		t.Error("data edges must outrank logical edges")
	}
	if DependencyLogical.Precedence() <= DependencyResource.Precedence() {
		t.Error("logical edges must outrank resource edges")
	}
}

func TestTaskRetryLimit(t *testing.T) {
	task := Task{}
	if got := task.RetryLimit(3); got != 3 {
		t.Errorf("RetryLimit = %d, want engine default 3", got)
	}
	task.MaxRetries = 1
	if got := task.RetryLimit(3); got != 1 {
		t.Errorf("RetryLimit = %d, want per-task override 1", got)
	}
}

func TestAgentCan(t *testing.T) {
	a := Agent{Capabilities: []Capability{CapabilityCodeWriting, CapabilityReview}}
	if !a.Can(CapabilityReview) {
		t.Error("agent should cover review")
	}
	if a.Can(CapabilityResearch) {
		t.Error("agent should not cover research")
	}
}
