package model

import "testing"

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(1000, 500)
	tr.Add(2000, 1500)

	in, out := tr.Total()
	if in != 3000 || out != 2000 {
		t.Errorf("Total = (%d, %d), want (3000, 2000)", in, out)
	}
	if tr.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", tr.Calls())
	}
	if tr.Cost() <= 0 {
		t.Error("Cost should be positive after usage")
	}

	tr.Reset()
	in, out = tr.Total()
	if in != 0 || out != 0 || tr.Calls() != 0 {
		t.Error("Reset should clear all counters")
	}
}
