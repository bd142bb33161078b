// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream reconstructs the typed content blocks of one in-flight
// model response from the interleaved event sequence emitted by the
// inference backend.
package stream

// =============================================================================
// EVENT CONTRACT
// =============================================================================

// BlockKind classifies one unit of model output.
type BlockKind string

const (
	KindReasoning      BlockKind = "reasoning"
	KindToolInvocation BlockKind = "tool_invocation"
	KindToolResult     BlockKind = "tool_result"
	KindText           BlockKind = "text"
)

// EventType is the lifecycle phase an event applies to its block.
type EventType string

const (
	EventOpen   EventType = "open"
	EventAppend EventType = "append"
	EventClose  EventType = "close"
)

// Event is one record of the streaming event contract. Indices are assigned
// by the producer, not the assembler, and are only meaningful within a kind.
type Event struct {
	Type     EventType
	Kind     BlockKind
	Index    int
	Fragment string
}

// Open, Append, and Close are convenience constructors used heavily in
// tests and by the backend adapter.

func Open(kind BlockKind, index int) Event {
	return Event{Type: EventOpen, Kind: kind, Index: index}
}

func Append(kind BlockKind, index int, fragment string) Event {
	return Event{Type: EventAppend, Kind: kind, Index: index, Fragment: fragment}
}

func Close(kind BlockKind, index int) Event {
	return Event{Type: EventClose, Kind: kind, Index: index}
}
