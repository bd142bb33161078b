// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mcp manages connections to external tool-provider (MCP) servers:
// process lifecycle, capability discovery, per-conversation capability
// selection, and tool invocation.
package mcp

import (
	"encoding/json"
	"time"
)

// =============================================================================
// SERVER CONFIG
// =============================================================================

// ServerConfig is the identity and launch definition for one tool server.
// Records are treated as immutable; edits replace the whole record.
type ServerConfig struct {
	// ID uniquely identifies the server across the settings store.
	ID string `toml:"id" json:"id"`

	// Name is the display name shown in the UI.
	Name string `toml:"name" json:"name"`

	// Command is the executable to launch.
	Command string `toml:"command" json:"command"`

	// Args are the command-line arguments, sanitized before launch.
	Args []string `toml:"args" json:"args"`

	// Env holds environment overrides merged over the parent environment.
	Env map[string]string `toml:"env,omitempty" json:"env,omitempty"`

	// Enabled controls whether a connection is maintained for this server.
	Enabled bool `toml:"enabled" json:"enabled"`
}

// =============================================================================
// CONNECTION STATE
// =============================================================================

// Status is the connectivity state of a managed connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusErrored      Status = "errored"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Capability is one named, schema-described invocable operation exposed by a
// tool server. Identity is the (ServerID, Name) pair; names are unique within
// a server but not globally.
type Capability struct {
	ServerID    string          `json:"server_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ConnectionInfo is a read-only snapshot of one connection's state.
type ConnectionInfo struct {
	Config       ServerConfig
	Status       Status
	LastErr      error
	Capabilities []Capability
}

// =============================================================================
// INVOCATION RESULTS
// =============================================================================

// InvocationResult is the typed outcome of a successful tool invocation.
type InvocationResult struct {
	// ID is the correlation token assigned to this invocation.
	ID string

	// Content is the flattened text content returned by the provider.
	Content string

	// Duration is how long the remote call took.
	Duration time.Duration
}

// InvocationRecord tracks one invocation attempt for audit purposes,
// including failed and abandoned calls.
type InvocationRecord struct {
	// ID is the correlation token pairing the request with its response.
	ID string

	// ServerID and Capability identify what was invoked.
	ServerID   string
	Capability string

	// Arguments is the JSON encoding of the structured arguments.
	Arguments string

	// Output is the flattened result text (empty on failure).
	Output string

	// Err holds the classification error when the invocation failed.
	Err error

	// Timestamp is when the invocation started; Duration how long it took.
	Timestamp time.Time
	Duration  time.Duration
}
