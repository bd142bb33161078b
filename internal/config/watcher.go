// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/jasonkneen/open-claude/internal/mcp"
)

// =============================================================================
// CHANGE EVENTS
// =============================================================================

// ChangeType classifies one server-registry change.
type ChangeType string

const (
	// ServerUpdated covers both newly added servers and edits to existing
	// entries (command, args, env, enabled flag).
	ServerUpdated ChangeType = "updated"

	// ServerRemoved means the entry disappeared from the registry.
	ServerRemoved ChangeType = "removed"
)

// Change is one registry delta produced by a config reload.
type Change struct {
	Type   ChangeType
	Server mcp.ServerConfig
}

// DiffServers computes the registry deltas between two server lists.
// Unchanged entries produce nothing. Results are ordered by server ID.
func DiffServers(old, updated []mcp.ServerConfig) []Change {
	prev := make(map[string]mcp.ServerConfig, len(old))
	for _, srv := range old {
		prev[srv.ID] = srv
	}
	next := make(map[string]mcp.ServerConfig, len(updated))
	for _, srv := range updated {
		next[srv.ID] = srv
	}

	var changes []Change
	for id, srv := range next {
		before, existed := prev[id]
		if !existed || !reflect.DeepEqual(before, srv) {
			changes = append(changes, Change{Type: ServerUpdated, Server: srv})
		}
	}
	for id, srv := range prev {
		if _, still := next[id]; !still {
			changes = append(changes, Change{Type: ServerRemoved, Server: srv})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Server.ID != changes[j].Server.ID {
			return changes[i].Server.ID < changes[j].Server.ID
		}
		return changes[i].Type < changes[j].Type
	})
	return changes
}

// =============================================================================
// FILE WATCHER
// =============================================================================

// debounceDelay coalesces the burst of filesystem events editors emit for a
// single save.
const debounceDelay = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk and publishes the
// resulting server-registry deltas.
//
// The parent directory is watched rather than the file itself: editors that
// save via rename (vim, atomic writers) replace the inode, which would
// silently detach a direct file watch.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	current Settings
	changes chan Change
	logger  *log.Logger
}

// NewWatcher creates a watcher for the config file at path. initial is the
// already-loaded settings snapshot that deltas are computed against.
func NewWatcher(path string, initial Settings, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}
	return &Watcher{
		path:    path,
		fsw:     fsw,
		current: initial,
		changes: make(chan Change, 16),
		logger:  logger,
	}, nil
}

// Changes returns the channel of registry deltas. It is closed when Run
// returns.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run watches until ctx is cancelled. It owns the changes channel and the
// current-settings snapshot; no other goroutine touches them.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	defer close(w.changes)

	var debounce *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceDelay)
			}
			pending = debounce.C

		case <-pending:
			pending = nil
			w.reload(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload re-reads the config and publishes deltas. A file that fails to
// parse keeps the previous snapshot; a bad edit must not tear servers down.
func (w *Watcher) reload(ctx context.Context) {
	settings, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config change", "path", w.path, "error", err)
		return
	}

	changes := DiffServers(w.current.Servers, settings.Servers)
	w.current = settings
	if len(changes) == 0 {
		return
	}

	w.logger.Info("config changed", "deltas", len(changes))
	for _, c := range changes {
		select {
		case w.changes <- c:
		case <-ctx.Done():
			return
		}
	}
}
