// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSource is a mutable capability source standing in for the Manager.
type fakeSource struct {
	caps map[string][]Capability
}

func (f *fakeSource) Capabilities(serverID string) []Capability {
	return f.caps[serverID]
}

func (f *fakeSource) set(serverID string, names ...string) {
	caps := make([]Capability, 0, len(names))
	for _, n := range names {
		caps = append(caps, Capability{ServerID: serverID, Name: n})
	}
	f.caps[serverID] = caps
}

func newFakeSource() *fakeSource {
	return &fakeSource{caps: make(map[string][]Capability)}
}

func pairs(sel []SelectedCapability) [][2]string {
	out := make([][2]string, 0, len(sel))
	for _, s := range sel {
		out = append(out, [2]string{s.ServerID, s.Name})
	}
	return out
}

func TestSelectServerThenDeselectOne(t *testing.T) {
	src := newFakeSource()
	src.set("files", "read", "write")
	sel := NewSelection(src)

	sel.SelectServer("files")
	require.Equal(t, 2, sel.Count())
	require.True(t, sel.IsServerFullySelected("files"))

	sel.DeselectCapability("files", "write")

	require.Equal(t, [][2]string{{"files", "read"}}, pairs(sel.Resolve()))
	require.False(t, sel.IsServerFullySelected("files"))
	require.True(t, sel.IsCapabilitySelected("files", "read"))
	require.False(t, sel.IsCapabilitySelected("files", "write"))
}

func TestSelectServerIsSnapshotNotRule(t *testing.T) {
	src := newFakeSource()
	src.set("files", "read")
	sel := NewSelection(src)

	sel.SelectServer("files")

	// A capability discovered after whole-server selection does not join the
	// selection implicitly.
	src.set("files", "read", "delete")

	require.Equal(t, [][2]string{{"files", "read"}}, pairs(sel.Resolve()))
	require.False(t, sel.IsServerFullySelected("files"))
}

func TestResolveFiltersStaleNames(t *testing.T) {
	src := newFakeSource()
	src.set("files", "read", "write")
	sel := NewSelection(src)

	sel.SelectServer("files")
	src.set("files", "read") // server dropped "write" on reconnect

	require.Equal(t, [][2]string{{"files", "read"}}, pairs(sel.Resolve()))
	// Stale names stay in the map; only resolution filters them.
	require.True(t, sel.IsCapabilitySelected("files", "write"))
}

func TestResolveSkipsDisconnectedServers(t *testing.T) {
	src := newFakeSource()
	src.set("files", "read")
	sel := NewSelection(src)

	sel.SelectServer("files")
	delete(src.caps, "files")

	require.Empty(t, sel.Resolve())
	require.Zero(t, sel.Count())
}

func TestResolveOrderingAndDedup(t *testing.T) {
	src := newFakeSource()
	src.set("files", "read", "write")
	src.set("browser", "fetch")
	sel := NewSelection(src)

	// Selecting the same capability through both paths yields one entry.
	sel.SelectServer("files")
	sel.SelectCapability("files", "read")
	sel.SelectCapability("browser", "fetch")

	want := [][2]string{
		{"browser", "fetch"},
		{"files", "read"},
		{"files", "write"},
	}
	require.Equal(t, want, pairs(sel.Resolve()))
	require.Equal(t, 3, sel.Count())
}

func TestSelectUnknownCapabilityNeverResolves(t *testing.T) {
	src := newFakeSource()
	src.set("files", "read")
	sel := NewSelection(src)

	sel.SelectCapability("files", "imaginary")

	require.True(t, sel.IsCapabilitySelected("files", "imaginary"))
	require.Empty(t, sel.Resolve())
}

func TestDeselectServerAndClear(t *testing.T) {
	src := newFakeSource()
	src.set("files", "read")
	src.set("browser", "fetch")
	sel := NewSelection(src)

	sel.SelectServer("files")
	sel.SelectServer("browser")
	sel.DeselectServer("files")
	require.Equal(t, [][2]string{{"browser", "fetch"}}, pairs(sel.Resolve()))

	sel.Clear()
	require.Empty(t, sel.Resolve())
}

func TestIsServerFullySelected(t *testing.T) {
	src := newFakeSource()
	sel := NewSelection(src)

	// No discovered capabilities: never fully selected.
	require.False(t, sel.IsServerFullySelected("files"))

	src.set("files", "read", "write")
	require.False(t, sel.IsServerFullySelected("files"))

	sel.SelectCapability("files", "read")
	require.False(t, sel.IsServerFullySelected("files"))

	sel.SelectCapability("files", "write")
	require.True(t, sel.IsServerFullySelected("files"))
}
