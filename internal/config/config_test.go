package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromPathDefaults(t *testing.T) {
	path := writeConfig(t, "anthropic:\n  model: test-model\n")
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Engine.MaxConcurrentAgents != 4 {
		t.Errorf("MaxConcurrentAgents = %d, want default 4", cfg.Engine.MaxConcurrentAgents)
	}
	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.TaskTimeoutDefault != 5*time.Minute {
		t.Errorf("TaskTimeoutDefault = %v, want 5m", cfg.Engine.TaskTimeoutDefault)
	}
	if cfg.Engine.DependencyConfidenceThreshold != 0.6 {
		t.Errorf("DependencyConfidenceThreshold = %v, want 0.6", cfg.Engine.DependencyConfidenceThreshold)
	}
	if cfg.Engine.CheckpointInterval() != time.Minute {
		t.Errorf("CheckpointInterval = %v, want 1m", cfg.Engine.CheckpointInterval())
	}
	if cfg.Engine.AgentPoolSizePerType != 2 {
		t.Errorf("AgentPoolSizePerType = %d, want default 2", cfg.Engine.AgentPoolSizePerType)
	}
	if cfg.Anthropic.Model != "test-model" {
		t.Errorf("Model = %q, want file value", cfg.Anthropic.Model)
	}
}

func TestLoadFromPathOverrides(t *testing.T) {
	path := writeConfig(t, `
engine:
  max_concurrent_agents: 8
  task_timeout_default: 90s
  checkpoint_interval_seconds: 0
storage:
  db_path: /tmp/forge.db
plugins:
  dir: /tmp/plugins
  watch: true
`)
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Engine.MaxConcurrentAgents != 8 {
		t.Errorf("MaxConcurrentAgents = %d, want 8", cfg.Engine.MaxConcurrentAgents)
	}
	if cfg.Engine.TaskTimeoutDefault != 90*time.Second {
		t.Errorf("TaskTimeoutDefault = %v, want 90s", cfg.Engine.TaskTimeoutDefault)
	}
	if cfg.Engine.CheckpointInterval() != 0 {
		t.Errorf("CheckpointInterval = %v, want disabled", cfg.Engine.CheckpointInterval())
	}
	if cfg.Storage.DBPath != "/tmp/forge.db" {
		t.Errorf("DBPath = %q", cfg.Storage.DBPath)
	}
	if cfg.Plugins.Dir != "/tmp/plugins" || !cfg.Plugins.Watch {
		t.Errorf("Plugins = %+v", cfg.Plugins)
	}
}

func TestLoadFromPathExpandsAPIKeyEnv(t *testing.T) {
	t.Setenv("TEST_FORGE_KEY", "sk-ant-from-env")
	path := writeConfig(t, "anthropic:\n  api_key: ${TEST_FORGE_KEY}\n")
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.Anthropic.APIKey)
	}
}

func TestGetAPIKeyPrecedence(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	cfg := &Config{}
	cfg.Anthropic.APIKey = "sk-ant-file"
	key, err := GetAPIKey(cfg)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if key != "sk-ant-env" {
		t.Errorf("key = %q, want env to win", key)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	key, err = GetAPIKey(cfg)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if key != "sk-ant-file" {
		t.Errorf("key = %q, want file fallback", key)
	}

	if _, err := GetAPIKey(&Config{}); err != ErrNoAPIKey {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestValidateAPIKey(t *testing.T) {
	if err := ValidateAPIKey("sk-ant-0123456789abcdef"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := ValidateAPIKey("bogus"); err == nil {
		t.Error("bogus key accepted")
	}
	if err := ValidateAPIKey(""); err != ErrNoAPIKey {
		t.Errorf("empty key: err = %v, want ErrNoAPIKey", err)
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := MaskAPIKey(""); got != "(not set)" {
		t.Errorf("MaskAPIKey empty = %q", got)
	}
	got := MaskAPIKey("sk-ant-0123456789abcdef")
	if got != "sk-ant-...cdef" {
		t.Errorf("MaskAPIKey = %q", got)
	}
}
