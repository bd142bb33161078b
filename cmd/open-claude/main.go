// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command open-claude runs the tool-server connection manager: it launches
// the configured MCP servers, discovers their capabilities, applies config
// edits live, and records every invocation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/jasonkneen/open-claude/internal/config"
	"github.com/jasonkneen/open-claude/internal/history"
	"github.com/jasonkneen/open-claude/internal/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "path to config file (default ~/.open-claude/config.toml)")
	logLevelFlag := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	// ===== CONFIGURATION =====

	configPath := *configFlag
	if configPath == "" {
		var err error
		configPath, err = config.ResolvePath()
		if err != nil {
			return err
		}
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if *logLevelFlag != "" {
		settings.LogLevel = *logLevelFlag
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "open-claude",
	})
	if lvl, err := log.ParseLevel(settings.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	// ===== INVOCATION HISTORY =====

	historyPath := settings.HistoryPath
	if historyPath == "" {
		dir, err := config.DefaultDir()
		if err != nil {
			return err
		}
		historyPath = filepath.Join(dir, "history.db")
	}

	store, err := history.Open(historyPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// ===== CONNECTION MANAGER =====

	manager := mcp.NewManager(mcp.Options{Logger: logger})
	defer manager.Shutdown()

	manager.SetRecorder(func(rec mcp.InvocationRecord) {
		inv := history.Invocation{
			ID:         rec.ID,
			ServerID:   rec.ServerID,
			Capability: rec.Capability,
			Arguments:  rec.Arguments,
			Output:     rec.Output,
			DurationMs: rec.Duration.Milliseconds(),
			CreatedAt:  rec.Timestamp,
		}
		if rec.Err != nil {
			inv.Error = rec.Err.Error()
		}
		if err := store.Record(inv); err != nil {
			logger.Warn("failed to record invocation", "id", rec.ID, "error", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, srv := range settings.EnabledServers() {
		if err := manager.Connect(ctx, srv); err != nil {
			// Connect already recorded the errored state; the rest of the
			// registry still comes up.
			logger.Warn("server unavailable", "server", srv.ID, "error", err)
		}
	}

	for _, c := range manager.AllConnected() {
		logger.Info("capability available", "server", c.ServerID, "name", c.Name)
	}

	// ===== LIVE CONFIG RELOAD =====

	watcher, err := config.NewWatcher(configPath, settings, logger)
	if err != nil {
		return err
	}
	go watcher.Run(ctx)
	go applyChanges(ctx, manager, watcher.Changes(), logger)

	// ===== SHUTDOWN =====

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	cancel()
	manager.Shutdown()
	return nil
}

// applyChanges maps config-registry deltas onto connection lifecycle calls:
// an updated enabled server (re)connects, a disabled or removed server
// disconnects.
func applyChanges(ctx context.Context, manager *mcp.Manager, changes <-chan config.Change, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			switch change.Type {
			case config.ServerUpdated:
				if !change.Server.Enabled {
					manager.Disconnect(change.Server.ID)
					continue
				}
				if err := manager.Connect(ctx, change.Server); err != nil {
					logger.Warn("server unavailable after config change",
						"server", change.Server.ID, "error", err)
				}
			case config.ServerRemoved:
				manager.Disconnect(change.Server.ID)
			}
		}
	}
}
