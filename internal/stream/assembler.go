// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// RESPONSE LIFECYCLE
// =============================================================================

// State is the lifecycle of one streamed response.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateFinalized State = "finalized"
)

// =============================================================================
// BLOCKS
// =============================================================================

// block is one unit of model output under construction. Content accumulates
// in emission order; once closed the block is immutable.
type block struct {
	index  int
	kind   BlockKind
	buf    strings.Builder
	closed bool
}

// Block is a read-only snapshot of one assembled block.
type Block struct {
	Index   int
	Kind    BlockKind
	Content string
	Closed  bool
}

// Invocation is the decoded payload of a closed tool_invocation block.
type Invocation struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Invocation decodes the block content as a tool invocation payload. Only
// meaningful for closed tool_invocation blocks.
func (b Block) Invocation() (Invocation, error) {
	var inv Invocation
	if b.Kind != KindToolInvocation {
		return inv, fmt.Errorf("block %d is %s, not %s", b.Index, b.Kind, KindToolInvocation)
	}
	if err := json.Unmarshal([]byte(b.Content), &inv); err != nil {
		return inv, fmt.Errorf("malformed invocation payload: %w", err)
	}
	return inv, nil
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler converts the externally-ordered but interleaved event sequence
// of one in-flight response into stable, queryable block state.
//
// Blocks are tracked in kind-partitioned collections keyed by the
// producer-assigned index. The text kind is special: fragments accumulate in
// a single running buffer across the whole response, since downstream
// rendering only ever needs the full running text, never per-fragment
// boundaries.
//
// Malformed sequences never raise: duplicate opens are no-ops, and appends
// to unopened or closed indices are dropped and counted. Streaming
// transports may reorder or duplicate delivery; degrading beats crashing the
// session.
type Assembler struct {
	mu      sync.Mutex
	state   State
	blocks  map[BlockKind]map[int]*block
	text    strings.Builder
	dropped int
}

// NewAssembler creates an idle assembler.
func NewAssembler() *Assembler {
	a := &Assembler{}
	a.resetLocked()
	return a
}

// resetLocked reinitializes all block state. Caller holds the lock (or owns
// the assembler exclusively, as in NewAssembler).
func (a *Assembler) resetLocked() {
	a.state = StateIdle
	a.blocks = map[BlockKind]map[int]*block{
		KindReasoning:      {},
		KindToolInvocation: {},
		KindToolResult:     {},
		KindText:           {},
	}
	a.text.Reset()
	a.dropped = 0
}

// Reset discards all block state and returns to idle. Must be called before
// a new response begins streaming; calling it redundantly is safe.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

// State returns the current lifecycle state.
func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// =============================================================================
// EVENT HANDLING
// =============================================================================

// Apply processes one event. Events arriving after finalization are dropped
// and counted; they never reopen state.
func (a *Assembler) Apply(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateFinalized {
		a.dropped++
		return
	}
	a.state = StateStreaming

	byIndex, ok := a.blocks[ev.Kind]
	if !ok {
		a.dropped++
		return
	}

	switch ev.Type {
	case EventOpen:
		if existing := byIndex[ev.Index]; existing != nil {
			// Idempotent open: a re-sent open event must not corrupt state,
			// and a closed block is never reopened.
			if existing.closed {
				a.dropped++
			}
			return
		}
		byIndex[ev.Index] = &block{index: ev.Index, kind: ev.Kind}

	case EventAppend:
		b := byIndex[ev.Index]
		if b == nil || b.closed {
			a.dropped++
			return
		}
		if ev.Kind == KindText {
			a.text.WriteString(ev.Fragment)
		} else {
			b.buf.WriteString(ev.Fragment)
		}

	case EventClose:
		b := byIndex[ev.Index]
		if b == nil {
			a.dropped++
			return
		}
		b.closed = true

	default:
		a.dropped++
	}
}

// Finalize ends the response. Any block still open is forcibly closed with
// whatever content it has accumulated: a response finalized by cancellation
// mid-block keeps its partial content.
func (a *Assembler) Finalize() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, byIndex := range a.blocks {
		for _, b := range byIndex {
			b.closed = true
		}
	}
	a.state = StateFinalized
}

// Abort cancels the response; equivalent to an immediate Finalize.
func (a *Assembler) Abort() {
	a.Finalize()
}

// Run consumes events from ch until the channel closes (the producer's
// finalize signal) or ctx is cancelled (abort). It is the single consumer
// loop for one response lifecycle; the assembler is finalized on every exit
// path.
func (a *Assembler) Run(ctx context.Context, ch <-chan Event) error {
	defer a.Finalize()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			a.Apply(ev)
		}
	}
}

// =============================================================================
// READ-BACK
// =============================================================================

// Blocks returns the blocks of one kind in index order.
func (a *Assembler) Blocks(kind BlockKind) []Block {
	a.mu.Lock()
	defer a.mu.Unlock()

	byIndex := a.blocks[kind]
	out := make([]Block, 0, len(byIndex))
	for _, b := range byIndex {
		out = append(out, a.snapshotLocked(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Block returns one block by kind and index.
func (a *Assembler) Block(kind BlockKind, index int) (Block, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.blocks[kind][index]
	if b == nil {
		return Block{}, false
	}
	return a.snapshotLocked(b), true
}

// snapshotLocked copies one block for read-back. Caller holds the lock.
func (a *Assembler) snapshotLocked(b *block) Block {
	content := b.buf.String()
	if b.kind == KindText {
		content = a.text.String()
	}
	return Block{
		Index:   b.index,
		Kind:    b.kind,
		Content: content,
		Closed:  b.closed,
	}
}

// Text returns the running text buffer accumulated from all text events.
func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// DroppedEvents returns how many events were dropped as no-ops (late,
// duplicate, or malformed deliveries). Non-fatal by design.
func (a *Assembler) DroppedEvents() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}
