// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mcp

import "errors"

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Failures are returned as wrapped sentinel errors so callers can classify
// them with errors.Is. Only launch failures, handshake timeouts, and
// invocation failures are meant to surface to the user; everything else is
// internal bookkeeping. No error from this package is fatal to the process:
// a misbehaving tool server must never take down other connections or an
// in-flight response.
var (
	// ErrLaunchFailed indicates the tool server process could not be started.
	ErrLaunchFailed = errors.New("tool server launch failed")

	// ErrHandshakeTimeout indicates the process started but did not complete
	// the initialize handshake within the configured deadline.
	ErrHandshakeTimeout = errors.New("tool server handshake timed out")

	// ErrNotConnected indicates an operation that requires a connected server
	// was attempted against a server that is disconnected, connecting, or
	// errored. No process call is made in this case.
	ErrNotConnected = errors.New("tool server not connected")

	// ErrUnknownCapability indicates the requested capability name is not in
	// the server's current discovery list.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrInvocationFailed indicates the remote call itself failed; the wrapped
	// message carries the provider-supplied detail.
	ErrInvocationFailed = errors.New("tool invocation failed")
)
