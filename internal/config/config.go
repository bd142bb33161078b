// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and persists application settings, including the
// tool-server registry, from ~/.open-claude/config.toml or config.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jasonkneen/open-claude/internal/mcp"
	"github.com/jasonkneen/open-claude/internal/util"
)

// =============================================================================
// SETTINGS
// =============================================================================

// Settings is the full persisted configuration.
type Settings struct {
	// LogLevel controls logger verbosity: debug, info, warn, error.
	LogLevel string `toml:"log_level" json:"log_level"`

	// HistoryPath overrides the default invocation-history database location.
	HistoryPath string `toml:"history_path,omitempty" json:"history_path,omitempty"`

	// Servers is the configured tool-server registry.
	Servers []mcp.ServerConfig `toml:"servers" json:"servers"`
}

// DefaultSettings returns settings used when no config file exists.
func DefaultSettings() Settings {
	return Settings{
		LogLevel: "info",
	}
}

// EnabledServers returns only the servers marked enabled.
func (s Settings) EnabledServers() []mcp.ServerConfig {
	var out []mcp.ServerConfig
	for _, srv := range s.Servers {
		if srv.Enabled {
			out = append(out, srv)
		}
	}
	return out
}

// Server returns the configured server with the given ID, if present.
func (s Settings) Server(id string) (mcp.ServerConfig, bool) {
	for _, srv := range s.Servers {
		if srv.ID == id {
			return srv, true
		}
	}
	return mcp.ServerConfig{}, false
}

// =============================================================================
// LOADING
// =============================================================================

// DefaultDir returns the configuration directory (~/.open-claude).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".open-claude"), nil
}

// ResolvePath returns the config file path. OPEN_CLAUDE_CONFIG takes
// precedence; otherwise config.toml then config.json under the default
// directory, whichever exists first. When neither exists the TOML path is
// returned so a fresh Save has a destination.
func ResolvePath() (string, error) {
	if p := os.Getenv("OPEN_CLAUDE_CONFIG"); p != "" {
		return p, nil
	}

	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}

	tomlPath := filepath.Join(dir, "config.toml")
	jsonPath := filepath.Join(dir, "config.json")

	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, nil
	}
	return tomlPath, nil
}

// Load reads settings from path. A missing file yields defaults, not an
// error. The format is chosen by extension: .json is JSON, anything else is
// TOML. OPEN_CLAUDE_LOG_LEVEL overrides the file's log level.
func Load(path string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&settings)
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read config: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &settings); err != nil {
			return settings, fmt.Errorf("failed to parse config: %w", err)
		}
	} else {
		if err := toml.Unmarshal(data, &settings); err != nil {
			return settings, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(&settings)

	if err := Validate(settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func applyEnvOverrides(s *Settings) {
	if lvl := os.Getenv("OPEN_CLAUDE_LOG_LEVEL"); lvl != "" {
		s.LogLevel = lvl
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
}

// Validate checks structural invariants: server IDs are non-empty and
// unique, and every enabled server has a launch command.
func Validate(s Settings) error {
	seen := make(map[string]struct{}, len(s.Servers))
	for _, srv := range s.Servers {
		if srv.ID == "" {
			return fmt.Errorf("server %q has empty id", srv.Name)
		}
		if _, dup := seen[srv.ID]; dup {
			return fmt.Errorf("duplicate server id %q", srv.ID)
		}
		seen[srv.ID] = struct{}{}
		if srv.Enabled && srv.Command == "" {
			return fmt.Errorf("server %q is enabled but has no command", srv.ID)
		}
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes settings to path atomically, in the format matching the
// file extension.
func Save(path string, s Settings) error {
	if err := Validate(s); err != nil {
		return err
	}

	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		data = append(data, '\n')
	} else {
		var buf strings.Builder
		if err := toml.NewEncoder(&buf).Encode(s); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		data = []byte(buf.String())
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
