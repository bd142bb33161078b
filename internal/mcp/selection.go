// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mcp

import (
	"sort"
	"sync"
)

// =============================================================================
// SELECTION REGISTRY
// =============================================================================

// CapabilitySource answers live capability queries; the Manager implements
// it. Selection keeps a narrow view so tests can substitute fakes.
type CapabilitySource interface {
	Capabilities(serverID string) []Capability
}

// SelectedCapability is one (server, capability) pair in a resolved
// selection.
type SelectedCapability struct {
	ServerID string
	Name     string
}

// Selection tracks which discovered capabilities are enabled for the next
// request. One conversation owns one Selection; it is created fresh with the
// conversation and discarded with it, never persisted.
//
// All state lives in a single map from server ID to the set of enabled
// capability names. Whole-server selection is a snapshot: it enumerates the
// names discovered at selection time, so later capability-list churn does not
// silently grow an existing selection. Stale names are tolerated in the map
// and filtered only when the selection is resolved.
type Selection struct {
	mu       sync.Mutex
	source   CapabilitySource
	selected map[string]map[string]struct{}
}

// NewSelection creates an empty selection backed by the given capability
// source.
func NewSelection(source CapabilitySource) *Selection {
	return &Selection{
		source:   source,
		selected: make(map[string]map[string]struct{}),
	}
}

// =============================================================================
// MUTATION
// =============================================================================

// SelectServer enables every capability currently discovered for serverID.
// The set is computed once, now; it is not a live rule.
func (s *Selection) SelectServer(serverID string) {
	caps := s.source.Capabilities(serverID)

	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.selected[serverID]
	if set == nil {
		set = make(map[string]struct{})
		s.selected[serverID] = set
	}
	for _, c := range caps {
		set[c.Name] = struct{}{}
	}
}

// DeselectServer disables every capability for serverID.
func (s *Selection) DeselectServer(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selected, serverID)
}

// SelectCapability enables one capability, independent of whole-server
// selection. Selecting a name the server does not currently expose is
// allowed; it simply never resolves.
func (s *Selection) SelectCapability(serverID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.selected[serverID]
	if set == nil {
		set = make(map[string]struct{})
		s.selected[serverID] = set
	}
	set[name] = struct{}{}
}

// DeselectCapability disables one capability.
func (s *Selection) DeselectCapability(serverID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.selected[serverID]
	if set == nil {
		return
	}
	delete(set, name)
	if len(set) == 0 {
		delete(s.selected, serverID)
	}
}

// Clear discards the whole selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[string]map[string]struct{})
}

// =============================================================================
// DERIVATION
// =============================================================================

// Resolve returns the de-duplicated, flattened set of selected capabilities,
// filtered against the currently live capability lists: names the server no
// longer exposes are silently excluded. The result is ordered by server then
// name.
//
// This is the single source of truth for request construction and for any
// displayed count; callers must not recompute the union themselves.
func (s *Selection) Resolve() []SelectedCapability {
	s.mu.Lock()
	servers := make([]string, 0, len(s.selected))
	for id := range s.selected {
		servers = append(servers, id)
	}
	snapshot := make(map[string]map[string]struct{}, len(s.selected))
	for id, set := range s.selected {
		names := make(map[string]struct{}, len(set))
		for name := range set {
			names[name] = struct{}{}
		}
		snapshot[id] = names
	}
	s.mu.Unlock()

	sort.Strings(servers)

	var out []SelectedCapability
	for _, id := range servers {
		live := s.source.Capabilities(id)
		if len(live) == 0 {
			continue
		}
		set := snapshot[id]
		names := make([]string, 0, len(set))
		for _, c := range live {
			if _, ok := set[c.Name]; ok {
				names = append(names, c.Name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, SelectedCapability{ServerID: id, Name: name})
		}
	}
	return out
}

// Count returns the number of capabilities Resolve would return.
func (s *Selection) Count() int {
	return len(s.Resolve())
}

// IsServerFullySelected reports whether every currently discovered
// capability of serverID is selected. Used for tri-state UI display only,
// never for request construction. A server with no discovered capabilities
// is never fully selected.
func (s *Selection) IsServerFullySelected(serverID string) bool {
	live := s.source.Capabilities(serverID)
	if len(live) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.selected[serverID]
	if set == nil {
		return false
	}
	for _, c := range live {
		if _, ok := set[c.Name]; !ok {
			return false
		}
	}
	return true
}

// IsCapabilitySelected reports whether one capability name is currently in
// the selection map. Stale names still report true here; resolution is where
// staleness is filtered.
func (s *Selection) IsCapabilitySelected(serverID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.selected[serverID]
	if set == nil {
		return false
	}
	_, ok := set[name]
	return ok
}
