// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/time/rate"
)

// =============================================================================
// PROVIDER CLIENT
// =============================================================================

// ProviderClient is the private channel to one tool-provider process. The
// stdio implementation comes from mcp-go; tests substitute fakes.
type ProviderClient interface {
	Initialize(ctx context.Context, req mcpproto.InitializeRequest) (*mcpproto.InitializeResult, error)
	ListTools(ctx context.Context, req mcpproto.ListToolsRequest) (*mcpproto.ListToolsResult, error)
	CallTool(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error)
	Close() error
}

// Launcher starts the external process described by a ServerConfig and
// returns the channel to it. Launch failures are reported as errors; the
// handshake happens afterwards, under the manager's deadline.
type Launcher func(cfg ServerConfig) (ProviderClient, error)

// StdioLauncher launches the server as a child process speaking MCP over
// stdio. Arguments are sanitized and environment overrides are merged over
// the parent environment.
func StdioLauncher(cfg ServerConfig) (ProviderClient, error) {
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := mcpclient.NewStdioMCPClient(cfg.Command, env, SanitizeArgs(cfg.Args)...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// =============================================================================
// CONNECTION
// =============================================================================

// connection is the runtime state bound 1:1 to an enabled ServerConfig.
// All fields are guarded by the manager's mutex; the blocking provider calls
// themselves happen outside the lock so a hung server cannot stall others.
type connection struct {
	config       ServerConfig
	status       Status
	lastErr      error
	capabilities []Capability

	client  ProviderClient
	limiter *rate.Limiter

	// gen distinguishes this connection from any replacement created by a
	// concurrent reconnect, so a late handshake cannot resurrect state that
	// was torn down while it was pending.
	gen uint64
}

// =============================================================================
// MANAGER
// =============================================================================

// Options configures a Manager.
type Options struct {
	// HandshakeTimeout bounds launch + initialize + discovery. Default 10s.
	HandshakeTimeout time.Duration

	// InvokeTimeout is applied to invocations whose context has no deadline.
	// Default 30s.
	InvokeTimeout time.Duration

	// InvokeRate and InvokeBurst bound per-connection invocation throughput.
	// Defaults: 10/s with a burst of 20.
	InvokeRate  rate.Limit
	InvokeBurst int

	// Launcher overrides process launch, used by tests.
	Launcher Launcher

	// Logger receives structured connection lifecycle logs.
	Logger *log.Logger
}

// DefaultOptions returns the default manager options.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		InvokeTimeout:    30 * time.Second,
		InvokeRate:       rate.Limit(10),
		InvokeBurst:      20,
		Launcher:         StdioLauncher,
		Logger:           log.Default(),
	}
}

// Manager owns at most one live connection per enabled ServerConfig and
// mediates all capability discovery and tool-invocation traffic.
type Manager struct {
	mu      sync.Mutex
	conns   map[string]*connection
	nextGen uint64

	opts Options

	// recorder, when set, receives a copy of every invocation record.
	recorder func(InvocationRecord)

	// history keeps the most recent invocation records in memory.
	history []InvocationRecord
}

const maxHistorySize = 1000

// NewManager creates a connection manager. Zero-valued options fall back to
// defaults.
func NewManager(opts Options) *Manager {
	def := DefaultOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = def.InvokeTimeout
	}
	if opts.InvokeRate <= 0 {
		opts.InvokeRate = def.InvokeRate
	}
	if opts.InvokeBurst <= 0 {
		opts.InvokeBurst = def.InvokeBurst
	}
	if opts.Launcher == nil {
		opts.Launcher = def.Launcher
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}

	return &Manager{
		conns: make(map[string]*connection),
		opts:  opts,
	}
}

// SetRecorder installs a sink for invocation records (e.g. the SQLite
// history store). The sink is called outside the manager lock.
func (m *Manager) SetRecorder(fn func(InvocationRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = fn
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Connect launches the server described by cfg and performs the initialize
// handshake and capability discovery. Any existing connection for cfg.ID is
// torn down first. On launch failure or handshake timeout the connection is
// left in the errored state with the cause recorded; there is no automatic
// retry.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) error {
	m.mu.Lock()
	if old := m.conns[cfg.ID]; old != nil {
		m.teardownLocked(old)
	}
	m.nextGen++
	conn := &connection{
		config:  cfg,
		status:  StatusConnecting,
		limiter: rate.NewLimiter(m.opts.InvokeRate, m.opts.InvokeBurst),
		gen:     m.nextGen,
	}
	m.conns[cfg.ID] = conn
	gen := conn.gen
	m.mu.Unlock()

	m.opts.Logger.Info("connecting to tool server", "server", cfg.ID, "command", cfg.Command)

	client, err := m.opts.Launcher(cfg)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		m.failConnect(cfg.ID, gen, nil, err)
		return err
	}

	hsCtx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	initReq := mcpproto.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpproto.Implementation{
		Name:    "open-claude",
		Version: "0.1.0",
	}

	if _, err := client.Initialize(hsCtx, initReq); err != nil {
		err = m.classifyHandshake(hsCtx, err)
		m.failConnect(cfg.ID, gen, client, err)
		return err
	}

	caps, err := discoverCapabilities(hsCtx, cfg.ID, client)
	if err != nil {
		err = m.classifyHandshake(hsCtx, err)
		m.failConnect(cfg.ID, gen, client, err)
		return err
	}

	m.mu.Lock()
	conn = m.conns[cfg.ID]
	if conn == nil || conn.gen != gen {
		// Torn down or replaced while the handshake was pending. Discard the
		// late result without touching the current state.
		m.mu.Unlock()
		client.Close()
		return fmt.Errorf("%w: connection abandoned during handshake", ErrNotConnected)
	}
	conn.client = client
	conn.status = StatusConnected
	conn.lastErr = nil
	conn.capabilities = caps
	m.mu.Unlock()

	m.opts.Logger.Info("tool server connected", "server", cfg.ID, "capabilities", len(caps))
	return nil
}

// classifyHandshake maps a handshake error onto the taxonomy.
func (m *Manager) classifyHandshake(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	return fmt.Errorf("%w: handshake rejected: %v", ErrLaunchFailed, err)
}

// failConnect records a failed connect attempt, unless the connection was
// already replaced by a newer generation.
func (m *Manager) failConnect(id string, gen uint64, client ProviderClient, cause error) {
	if client != nil {
		client.Close()
	}

	m.mu.Lock()
	conn := m.conns[id]
	if conn != nil && conn.gen == gen {
		conn.status = StatusErrored
		conn.lastErr = cause
		conn.client = nil
		conn.capabilities = nil
	}
	m.mu.Unlock()

	m.opts.Logger.Error("tool server connect failed", "server", id, "err", cause)
}

// discoverCapabilities queries the process for its capability manifest.
func discoverCapabilities(ctx context.Context, serverID string, client ProviderClient) ([]Capability, error) {
	res, err := client.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	caps := make([]Capability, 0, len(res.Tools))
	for _, tool := range res.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schema = nil
		}
		caps = append(caps, Capability{
			ServerID:    serverID,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return caps, nil
}

// Disconnect terminates the process for serverID, releases the connection,
// and clears its capability list. Disconnecting a server that is not
// connected is a no-op, not an error.
func (m *Manager) Disconnect(serverID string) {
	m.mu.Lock()
	conn := m.conns[serverID]
	if conn == nil {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(conn)
	delete(m.conns, serverID)
	m.mu.Unlock()

	m.opts.Logger.Info("tool server disconnected", "server", serverID)
}

// teardownLocked kills the process and clears discovery state. Caller holds
// the manager lock.
func (m *Manager) teardownLocked(conn *connection) {
	if conn.client != nil {
		conn.client.Close()
		conn.client = nil
	}
	conn.status = StatusDisconnected
	conn.capabilities = nil
}

// Reconnect is disconnect followed by connect using the currently stored
// config; used after a config edit.
func (m *Manager) Reconnect(ctx context.Context, serverID string) error {
	m.mu.Lock()
	conn := m.conns[serverID]
	if conn == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: no connection for %q", ErrNotConnected, serverID)
	}
	cfg := conn.config
	m.mu.Unlock()

	m.Disconnect(serverID)
	return m.Connect(ctx, cfg)
}

// Shutdown tears down every connection. No tool-server process survives the
// manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Info returns a snapshot of one connection's state.
func (m *Manager) Info(serverID string) (ConnectionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn := m.conns[serverID]
	if conn == nil {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		Config:       conn.config,
		Status:       conn.status,
		LastErr:      conn.lastErr,
		Capabilities: append([]Capability(nil), conn.capabilities...),
	}, true
}

// Capabilities returns the discovered capability list for serverID. Only
// connected servers report capabilities.
func (m *Manager) Capabilities(serverID string) []Capability {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn := m.conns[serverID]
	if conn == nil || conn.status != StatusConnected {
		return nil
	}
	return append([]Capability(nil), conn.capabilities...)
}

// AllConnected returns every capability of every connected server, ordered
// by server then capability name.
func (m *Manager) AllConnected() []Capability {
	m.mu.Lock()
	var all []Capability
	for _, conn := range m.conns {
		if conn.status != StatusConnected {
			continue
		}
		all = append(all, conn.capabilities...)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].ServerID != all[j].ServerID {
			return all[i].ServerID < all[j].ServerID
		}
		return all[i].Name < all[j].Name
	})
	return all
}

// =============================================================================
// INVOCATION
// =============================================================================

// Invoke forwards a structured invocation to the live connection for
// serverID. All failure modes come back as typed errors; no process-level
// panic crosses this boundary, and nothing is sent to a server that is not
// connected.
func (m *Manager) Invoke(ctx context.Context, serverID, capabilityName string, arguments map[string]any) (*InvocationResult, error) {
	record := InvocationRecord{
		ID:         uuid.New().String(),
		ServerID:   serverID,
		Capability: capabilityName,
		Timestamp:  time.Now(),
	}
	if arguments != nil {
		if data, err := json.Marshal(arguments); err == nil {
			record.Arguments = string(data)
		}
	}

	m.mu.Lock()
	conn := m.conns[serverID]
	if conn == nil || conn.status != StatusConnected || conn.client == nil {
		m.mu.Unlock()
		record.Err = fmt.Errorf("%w: %q", ErrNotConnected, serverID)
		m.record(record)
		return nil, record.Err
	}
	known := false
	for _, c := range conn.capabilities {
		if c.Name == capabilityName {
			known = true
			break
		}
	}
	client := conn.client
	limiter := conn.limiter
	m.mu.Unlock()

	if !known {
		record.Err = fmt.Errorf("%w: %q on server %q", ErrUnknownCapability, capabilityName, serverID)
		m.record(record)
		return nil, record.Err
	}

	if !limiter.Allow() {
		record.Err = fmt.Errorf("%w: rate limited", ErrInvocationFailed)
		m.record(record)
		return nil, record.Err
	}

	// Bound the call so a hung server cannot stall the caller indefinitely.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.InvokeTimeout)
		defer cancel()
	}

	req := mcpproto.CallToolRequest{}
	req.Params.Name = capabilityName
	req.Params.Arguments = arguments

	res, err := client.CallTool(ctx, req)
	record.Duration = time.Since(record.Timestamp)

	if err != nil {
		record.Err = fmt.Errorf("%w: %v", ErrInvocationFailed, err)
		m.record(record)
		return nil, record.Err
	}

	content := flattenContent(res)
	if res.IsError {
		record.Err = fmt.Errorf("%w: %s", ErrInvocationFailed, content)
		m.record(record)
		return nil, record.Err
	}

	record.Output = content
	m.record(record)

	return &InvocationResult{
		ID:       record.ID,
		Content:  content,
		Duration: record.Duration,
	}, nil
}

// flattenContent concatenates the text blocks of a tool result.
func flattenContent(res *mcpproto.CallToolResult) string {
	var sb strings.Builder
	for _, item := range res.Content {
		if text, ok := item.(mcpproto.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

// record appends to the in-memory ring and forwards to the recorder sink.
func (m *Manager) record(rec InvocationRecord) {
	m.mu.Lock()
	if len(m.history) >= maxHistorySize {
		m.history = m.history[len(m.history)-maxHistorySize+1:]
	}
	m.history = append(m.history, rec)
	sink := m.recorder
	m.mu.Unlock()

	if sink != nil {
		sink(rec)
	}
}

// History returns a copy of the in-memory invocation records.
func (m *Manager) History() []InvocationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InvocationRecord, len(m.history))
	copy(out, m.history)
	return out
}
