// Package config implements the configuration surface: per-role model
// settings, the memory budget, the workspace directory, the
// permission/confirmation policy, generation timeouts, and the shell-access
// toggle. Loading layers defaults, then a YAML file, then environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"codey/internal/coretypes"
)

// RoleConfig configures one model role. Fields map 1:1 onto the
// "models.<role>.*" YAML keys.
type RoleConfig struct {
	Path              string  `yaml:"path"`
	ContextSize       int     `yaml:"contextSize"`
	MaxTokens         int     `yaml:"maxTokens"`
	MemoryEstimateMB  int     `yaml:"memoryEstimateMB"`
	AlwaysResident    bool    `yaml:"alwaysResident"`
	IdleEvictAfterSec int     `yaml:"idleEvictAfterSec"` // 0 = never
	Temperature       float64 `yaml:"temperature"`
}

// ToPolicy converts a RoleConfig into the coretypes.Policy the Lifecycle
// Manager operates on.
func (rc RoleConfig) ToPolicy(role coretypes.Role) coretypes.Policy {
	return coretypes.Policy{
		Role:               role,
		AlwaysResident:     rc.AlwaysResident,
		IdleEvictAfter:     time.Duration(rc.IdleEvictAfterSec) * time.Second,
		MemoryEstimateMB:   rc.MemoryEstimateMB,
		ContextSize:        rc.ContextSize,
		MaxTokens:          rc.MaxTokens,
		DefaultTemperature: rc.Temperature,
	}
}

// Config holds the full configuration surface.
type Config struct {
	Models map[string]RoleConfig `yaml:"models"`

	MemoryBudgetMB       int    `yaml:"memoryBudgetMB"`
	WorkspaceDir         string `yaml:"workspaceDir"`
	RequireConfirmation  bool   `yaml:"requireConfirmation"`
	GenerationTimeoutSec int    `yaml:"generationTimeoutSec"`
	AllowShell           bool   `yaml:"allowShell"`
}

// DefaultConfig returns the built-in defaults, matching the deadlines used
// elsewhere in this module.
func DefaultConfig() *Config {
	return &Config{
		Models: map[string]RoleConfig{
			string(coretypes.RoleRouter): {
				ContextSize:      2048,
				MaxTokens:        256,
				MemoryEstimateMB: 512,
				AlwaysResident:   true,
				Temperature:      0.1,
			},
			string(coretypes.RoleCoder): {
				ContextSize:      8192,
				MaxTokens:        2048,
				MemoryEstimateMB: 4096,
				Temperature:      0.2,
			},
			string(coretypes.RoleAlgorithm): {
				ContextSize:       8192,
				MaxTokens:         4096,
				MemoryEstimateMB:  6144,
				IdleEvictAfterSec: 600,
				Temperature:       0.1,
			},
		},
		MemoryBudgetMB:       8192,
		WorkspaceDir:         ".",
		RequireConfirmation:  true,
		GenerationTimeoutSec: 300,
		AllowShell:           true,
	}
}

// Load reads configuration from a YAML file, falling back to defaults if the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file, creating parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments override the workspace and
// budget without editing the YAML file, mirroring its env-override
// convention for secrets/paths.
func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("CODEY_WORKSPACE"); ws != "" {
		c.WorkspaceDir = ws
	}
	if budget := os.Getenv("CODEY_MEMORY_BUDGET_MB"); budget != "" {
		var mb int
		if _, err := fmt.Sscanf(budget, "%d", &mb); err == nil && mb > 0 {
			c.MemoryBudgetMB = mb
		}
	}
	if os.Getenv("CODEY_NO_CONFIRM") == "1" {
		c.RequireConfirmation = false
	}
	if os.Getenv("CODEY_NO_SHELL") == "1" {
		c.AllowShell = false
	}
}

// GenerationTimeout returns the configured generation deadline as a
// time.Duration.
func (c *Config) GenerationTimeout() time.Duration {
	if c.GenerationTimeoutSec <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.GenerationTimeoutSec) * time.Second
}

// Policies converts every configured role into the Lifecycle Manager's
// Policy map.
func (c *Config) Policies() map[coretypes.Role]coretypes.Policy {
	out := make(map[coretypes.Role]coretypes.Policy, len(c.Models))
	for name, rc := range c.Models {
		role := coretypes.Role(name)
		out[role] = rc.ToPolicy(role)
	}
	return out
}

// Watch reloads the configuration at path every time it changes on disk and
// invokes onReload with the freshly loaded config. It returns a closer that
// stops the watch. A reload that fails to parse or validate is logged
// through onError and the previous configuration keeps serving; a single
// bad edit (e.g. a save-in-progress) never tears down an already-running
// process.
func Watch(path string, onReload func(*Config), onError func(error)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					onError(err)
					continue
				}
				if err := cfg.Validate(); err != nil {
					onError(err)
					continue
				}
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(err)
			}
		}
	}()

	return watcher.Close, nil
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.MemoryBudgetMB <= 0 {
		return fmt.Errorf("memoryBudgetMB must be > 0")
	}
	if _, ok := c.Models[string(coretypes.RoleRouter)]; !ok {
		return fmt.Errorf("models.router must be configured (router is always-resident)")
	}
	for name, rc := range c.Models {
		if rc.MemoryEstimateMB <= 0 {
			return fmt.Errorf("models.%s.memoryEstimateMB must be > 0", name)
		}
	}
	return nil
}
