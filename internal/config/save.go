package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zjrosen/nacre/internal/log"
)

// DefaultConfigTemplate returns the commented YAML written on first run.
func DefaultConfigTemplate() string {
	return `# nacre configuration
#
# state_dir: where the tab-state database lives.
# state_dir: ~/.config/nacre

# auto_refresh: reload tab state when another window writes it.
auto_refresh: true

ui:
  show_status_bar: true
  # vim_mode: enable vim keybindings in the prompt input.
  vim_mode: false

hub:
  # URL of the local window-sync hub.
  url: ws://127.0.0.1:4763/sync

engines:
  # default: engine used for new sessions ("claude", "codex", "gemini").
  default: claude
  claude:
    model: sonnet
  codex:
    model: gpt-5-codex
  gemini:
    model: gemini-2.5-pro

# tracing: spans for prompt turns and cancellations.
# tracing:
#   enabled: true
#   exporter: file
#   file_path: ~/.config/nacre/traces/traces.jsonl
#   sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
