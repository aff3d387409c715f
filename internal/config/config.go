// Package config handles configuration loading and management for taskforge.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for taskforge.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// EngineConfig holds the execution knobs.
type EngineConfig struct {
	// MaxConcurrentAgents caps simultaneously running agents.
	MaxConcurrentAgents int `mapstructure:"max_concurrent_agents"`
	// MaxRetries is the per-task retry cap.
	MaxRetries int `mapstructure:"max_retries"`
	// TaskTimeoutDefault is the deadline for a simple task; other
	// complexities scale around it.
	TaskTimeoutDefault time.Duration `mapstructure:"task_timeout_default"`
	// DependencyConfidenceThreshold is the minimum confidence for
	// model-suggested dependency edges.
	DependencyConfidenceThreshold float64 `mapstructure:"dependency_confidence_threshold"`
	// CheckpointIntervalSeconds is how often the run auto-checkpoints.
	// Zero disables interval checkpoints.
	CheckpointIntervalSeconds int `mapstructure:"checkpoint_interval_seconds"`
	// AgentPoolSizePerType caps each capability's agent pool.
	AgentPoolSizePerType int `mapstructure:"agent_pool_size_per_type"`
}

// CheckpointInterval returns the auto-checkpoint interval as a duration.
func (e EngineConfig) CheckpointInterval() time.Duration {
	return time.Duration(e.CheckpointIntervalSeconds) * time.Second
}

// AnthropicConfig holds model backend settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// ResolverConfig holds dependency resolver settings.
type ResolverConfig struct {
	// RulesFile points at a YAML file of extra ordering rules.
	RulesFile string `mapstructure:"rules_file"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	DBPath        string `mapstructure:"db_path"`
	CheckpointDir string `mapstructure:"checkpoint_dir"`
	HistoryDBPath string `mapstructure:"history_db_path"`
}

// PluginsConfig holds executor plugin settings.
type PluginsConfig struct {
	// Dir is the plugin manifest directory. Empty disables plugins.
	Dir string `mapstructure:"dir"`
	// Watch enables hot registry refresh on manifest changes.
	Watch bool `mapstructure:"watch"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (TASKFORGE_*, ANTHROPIC_API_KEY)
// 2. Project config (taskforge.yaml in current directory or a parent)
// 3. User config (~/.config/taskforge/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("TASKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values for every knob.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_concurrent_agents", 4)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.task_timeout_default", "5m")
	v.SetDefault("engine.dependency_confidence_threshold", 0.6)
	v.SetDefault("engine.checkpoint_interval_seconds", 60)
	v.SetDefault("engine.agent_pool_size_per_type", 2)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("resolver.rules_file", "")

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.checkpoint_dir", "")
	v.SetDefault("storage.history_db_path", "")

	v.SetDefault("plugins.dir", "")
	v.SetDefault("plugins.watch", false)

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for taskforge.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskforge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskforge")
	}
	return filepath.Join(home, ".config", "taskforge")
}

// findProjectConfig searches for taskforge.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, "taskforge.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
