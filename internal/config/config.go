// Package config provides configuration types and defaults for nacre.
package config

import (
	"os"
	"path/filepath"

	"github.com/zjrosen/nacre/internal/tracing"
)

// Config holds all configuration options for nacre.
type Config struct {
	// StateDir is where the tab-state database lives.
	// Default: ~/.config/nacre
	StateDir string `mapstructure:"state_dir"`

	// AutoRefresh reloads tab state when another window writes it.
	AutoRefresh bool `mapstructure:"auto_refresh"`

	UI      UIConfig      `mapstructure:"ui"`
	Hub     HubConfig     `mapstructure:"hub"`
	Engines EnginesConfig `mapstructure:"engines"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// UIConfig holds user interface configuration options.
type UIConfig struct {
	ShowStatusBar bool `mapstructure:"show_status_bar"`
	VimMode       bool `mapstructure:"vim_mode"` // Enable vim keybindings in the prompt input
}

// HubConfig locates the local window-sync hub.
type HubConfig struct {
	// URL of the hub's WebSocket endpoint.
	URL string `mapstructure:"url"`
}

// EnginesConfig selects the default engine and per-engine models.
type EnginesConfig struct {
	Default string             `mapstructure:"default"` // "claude" (default), "codex", or "gemini"
	Claude  ClaudeEngineConfig `mapstructure:"claude"`
	Codex   CodexEngineConfig  `mapstructure:"codex"`
	Gemini  GeminiEngineConfig `mapstructure:"gemini"`
}

// ClaudeEngineConfig holds Claude-specific settings.
type ClaudeEngineConfig struct {
	Model string `mapstructure:"model"` // sonnet (default), opus, haiku
}

// CodexEngineConfig holds Codex-specific settings.
type CodexEngineConfig struct {
	Model string `mapstructure:"model"`
}

// GeminiEngineConfig holds Gemini-specific settings.
type GeminiEngineConfig struct {
	Model string `mapstructure:"model"`
}

// TracingConfig holds trace export configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active. Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the export backend: "stdout" or "file".
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	// Default: <state_dir>/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// SampleRate controls sampling (0.0 to 1.0). Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ToTracing converts the file-level tracing section into the runtime form.
func (t TracingConfig) ToTracing(stateDir string) tracing.Config {
	cfg := tracing.DefaultConfig()
	cfg.Enabled = t.Enabled
	if t.Exporter != "" {
		cfg.Exporter = t.Exporter
	}
	cfg.FilePath = t.FilePath
	if cfg.FilePath == "" && stateDir != "" {
		cfg.FilePath = filepath.Join(stateDir, "traces", "traces.jsonl")
	}
	if t.SampleRate > 0 {
		cfg.SampleRate = t.SampleRate
	}
	return cfg
}

// DefaultStateDir returns ~/.config/nacre, or "" if the home directory is
// unavailable.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nacre")
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		StateDir:    DefaultStateDir(),
		AutoRefresh: true,
		UI: UIConfig{
			ShowStatusBar: true,
			VimMode:       false,
		},
		Hub: HubConfig{
			URL: "ws://127.0.0.1:4763/sync",
		},
		Engines: EnginesConfig{
			Default: "claude",
			Claude:  ClaudeEngineConfig{Model: "sonnet"},
			Codex:   CodexEngineConfig{Model: "gpt-5-codex"},
			Gemini:  GeminiEngineConfig{Model: "gemini-2.5-pro"},
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "file",
			SampleRate: 1.0,
		},
	}
}

// StatePath returns the tab-state database path under the configured
// state directory.
func (c Config) StatePath() string {
	dir := c.StateDir
	if dir == "" {
		dir = DefaultStateDir()
	}
	return filepath.Join(dir, "nacre.db")
}

// ModelFor returns the configured model for an engine name, or "".
func (c Config) ModelFor(engine string) string {
	switch engine {
	case "claude":
		return c.Engines.Claude.Model
	case "codex":
		return c.Engines.Codex.Model
	case "gemini":
		return c.Engines.Gemini.Model
	default:
		return ""
	}
}
