// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// BUBBLE TEA INTEGRATION
// =============================================================================

// EventMsg delivers one streaming event to the UI event loop.
type EventMsg struct {
	Event Event
}

// FinalizedMsg indicates the producer closed the event channel. The UI loop
// finalizes the assembler on receipt.
type FinalizedMsg struct{}

// Listen returns a command that waits for the next event on ch. The UI loop
// re-issues it after each EventMsg, giving the same single-consumer ordering
// as Run without blocking the render loop.
func Listen(ch <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return FinalizedMsg{}
		}
		return EventMsg{Event: ev}
	}
}
