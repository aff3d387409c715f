// Package plugin loads externally contributed executor definitions from a
// manifest directory. Each manifest overrides the stock executor for one
// capability. A manifest that fails to load is logged and skipped so one bad
// file never aborts a run.
package plugin

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"

	"github.com/ecrowe/taskforge/internal/agent"
	"github.com/ecrowe/taskforge/internal/model"
	"github.com/ecrowe/taskforge/pkg/models"
)

// Manifest describes one plugin executor.
type Manifest struct {
	// Name identifies the plugin in logs.
	Name string `yaml:"name"`
	// Capability is the capability whose executor this plugin replaces.
	Capability models.Capability `yaml:"capability"`
	// SystemPrompt is the execution framing the plugin's executor uses.
	SystemPrompt string `yaml:"system_prompt"`
}

func (m Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest missing name")
	}
	if !m.Capability.Valid() {
		return fmt.Errorf("manifest %s: unknown capability %q", m.Name, m.Capability)
	}
	if m.SystemPrompt == "" {
		return fmt.Errorf("manifest %s: missing system_prompt", m.Name)
	}
	return nil
}

// Registry holds the loaded plugin set and optionally watches the manifest
// directory for changes.
type Registry struct {
	dir string

	mu        sync.RWMutex
	manifests map[models.Capability]Manifest

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry creates a registry over a manifest directory and loads it.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{
		dir:       dir,
		manifests: make(map[models.Capability]Manifest),
		done:      make(chan struct{}),
	}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load scans the manifest directory, replacing the registry's contents.
// Unreadable or invalid manifests are skipped. When two manifests claim the
// same capability the lexically later file wins.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading plugin directory %s: %w", r.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	loaded := make(map[models.Capability]Manifest)
	for _, name := range names {
		path := filepath.Join(r.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[plugin] skipping %s: %v", name, err)
			continue
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			log.Printf("[plugin] skipping %s: %v", name, err)
			continue
		}
		if err := m.validate(); err != nil {
			log.Printf("[plugin] skipping %s: %v", name, err)
			continue
		}
		if prev, ok := loaded[m.Capability]; ok {
			log.Printf("[plugin] %s overrides %s for capability %s", m.Name, prev.Name, m.Capability)
		}
		loaded[m.Capability] = m
	}

	r.mu.Lock()
	r.manifests = loaded
	r.mu.Unlock()
	return nil
}

// Manifest returns the loaded manifest for a capability, if any.
func (r *Registry) Manifest(c models.Capability) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[c]
	return m, ok
}

// Names returns the loaded plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.manifests))
	for _, m := range r.manifests {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// FactoryOptions returns the factory overrides for every loaded plugin.
// Executors resolve their manifest at spawn time, so a registry reload
// affects agents spawned afterwards.
func (r *Registry) FactoryOptions() []agent.FactoryOption {
	r.mu.RLock()
	caps := make([]models.Capability, 0, len(r.manifests))
	for c := range r.manifests {
		caps = append(caps, c)
	}
	r.mu.RUnlock()
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })

	opts := make([]agent.FactoryOption, 0, len(caps))
	for _, c := range caps {
		capability := c
		opts = append(opts, agent.WithBuilder(capability, func(completer model.Completer) agent.Executor {
			return &pluginExecutor{registry: r, capability: capability, completer: completer}
		}))
	}
	return opts
}

// Watch starts an fsnotify watcher that reloads the registry when manifests
// change. Callers must Close the registry to stop it.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting plugin watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", r.dir, err)
	}
	r.watcher = watcher
	go r.watchLoop()
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Printf("[plugin] manifest change detected: %s", filepath.Base(event.Name))
			if err := r.Load(); err != nil {
				log.Printf("[plugin] reload failed: %v", err)
			}
		case <-r.watcher.Errors:
			// Keep watching.
		}
	}
}

// Close stops the watcher, if running.
func (r *Registry) Close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	if r.watcher != nil {
		r.watcher.Close()
	}
}

// pluginExecutor runs tasks under a manifest's system prompt. It falls back
// to the stock executor if the manifest disappears on reload.
type pluginExecutor struct {
	registry   *Registry
	capability models.Capability
	completer  model.Completer
}

func (e *pluginExecutor) Execute(ctx context.Context, task models.Task) (string, error) {
	if e.completer == nil {
		return "", fmt.Errorf("execute task %s: %w", task.ID, model.ErrNoBackend)
	}
	m, ok := e.registry.Manifest(e.capability)
	if !ok {
		return agent.NewModelExecutor(e.capability, e.completer).Execute(ctx, task)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&sb, "\n\n%s", task.Description)
	}
	if len(task.Requires) > 0 {
		fmt.Fprintf(&sb, "\n\nInputs available: %v", task.Requires)
	}
	if len(task.Artifacts) > 0 {
		fmt.Fprintf(&sb, "\n\nExpected outputs: %v", task.Artifacts)
	}

	output, err := e.completer.CompleteWithSystem(ctx, m.SystemPrompt, sb.String())
	if err != nil {
		return "", fmt.Errorf("plugin %s: execute task %s: %w", m.Name, task.ID, err)
	}
	return output, nil
}
