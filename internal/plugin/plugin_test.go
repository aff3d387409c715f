package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ecrowe/taskforge/internal/agent"
	"github.com/ecrowe/taskforge/pkg/models"
)

type fakeCompleter struct {
	lastSystem string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

func (f *fakeCompleter) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	f.lastSystem = system
	return "plugin-output", nil
}

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSkipsBrokenManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good.yaml", `
name: strict-reviewer
capability: review
system_prompt: Review with extreme prejudice.
`)
	writeManifest(t, dir, "broken.yaml", "name: [unclosed")
	writeManifest(t, dir, "invalid.yaml", `
name: bad-capability
capability: juggling
system_prompt: whatever
`)
	writeManifest(t, dir, "notes.txt", "ignored")

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer r.Close()

	if got := r.Names(); len(got) != 1 || got[0] != "strict-reviewer" {
		t.Errorf("Names = %v, want [strict-reviewer]", got)
	}
	if _, ok := r.Manifest(models.CapabilityReview); !ok {
		t.Error("review manifest not loaded")
	}
	if _, ok := r.Manifest(models.CapabilityTesting); ok {
		t.Error("unexpected testing manifest")
	}
}

func TestLoadMissingDirIsEmpty(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer r.Close()
	if got := r.Names(); len(got) != 0 {
		t.Errorf("Names = %v, want empty", got)
	}
}

func TestLaterFileWinsPerCapability(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", `
name: first
capability: generic
system_prompt: one
`)
	writeManifest(t, dir, "b.yaml", `
name: second
capability: generic
system_prompt: two
`)
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer r.Close()

	m, ok := r.Manifest(models.CapabilityGeneric)
	if !ok || m.Name != "second" {
		t.Errorf("manifest = %+v, want second to win", m)
	}
}

func TestFactoryOptionsUsePluginPrompt(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "reviewer.yaml", `
name: strict-reviewer
capability: review
system_prompt: Review with extreme prejudice.
`)
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer r.Close()

	c := &fakeCompleter{}
	factory := agent.NewFactory(c, r.FactoryOptions()...)
	ag, err := factory.Spawn(models.CapabilityReview)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	out, err := ag.Execute(context.Background(), models.Task{ID: "t1", Title: "Check it"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "plugin-output" {
		t.Errorf("output = %q", out)
	}
	if c.lastSystem != "Review with extreme prejudice." {
		t.Errorf("system prompt = %q, want manifest prompt", c.lastSystem)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer r.Close()
	if err := r.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeManifest(t, dir, "tester.yaml", `
name: chaos-tester
capability: testing
system_prompt: Break everything.
`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.Manifest(models.CapabilityTesting); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("registry did not pick up new manifest")
}
