package mcphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	mcpstdio "github.com/vikashloomba/mcp-host-go/pkg/mcp-stdio"
)

// stdioClient is the slice of mcpstdio.Client the manager drives. Tests
// substitute fakes through the manager's newClient hook.
type stdioClient interface {
	Start(ctx context.Context) (*mcpstdio.InitializeResult, error)
	ListTools(ctx context.Context) ([]mcpstdio.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	Stop(ctx context.Context) error
	PID() int
}

// Manager owns every configured server: it admits launches against the
// concurrency ceiling, drives each server's protocol client, indexes the
// tools servers advertise, and routes tool calls to the owning client. All
// state lives behind the manager's lock; events fan out to subscribers from
// a snapshot taken outside it.
type Manager struct {
	opts ManagerOptions
	log  *slog.Logger

	mu      sync.RWMutex
	servers map[string]*serverState
	tools   map[string][]Tool
	closed  bool

	subMu  sync.Mutex
	subSeq uint64
	subs   map[uint64]func(Event)

	newClient func(mcpstdio.Config) (stdioClient, error)
}

// serverState pairs a config with its runtime record and, while running, the
// live protocol client. gen increments on every start and stop so callbacks
// from a superseded client cannot touch newer state; exitGen records which
// generation's process has already died.
type serverState struct {
	config  ServerConfig
	runtime ServerRuntime
	client  stdioClient
	gen     uint64
	exitGen uint64
}

// NewManager returns an empty manager. Pass nil options for defaults.
func NewManager(opts *ManagerOptions) *Manager {
	options := opts.normalized()
	return &Manager{
		opts:    options,
		log:     options.Logger,
		servers: make(map[string]*serverState),
		tools:   make(map[string][]Tool),
		subs:    make(map[uint64]func(Event)),
		newClient: func(cfg mcpstdio.Config) (stdioClient, error) {
			return mcpstdio.NewClient(cfg)
		},
	}
}

// AddServer registers a new server config with status stopped. The id must be
// unused. When cfg.AutoStart is set the server is started immediately and the
// start error, if any, is returned; the config stays registered either way.
func (m *Manager) AddServer(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("mcphost: add server: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("mcphost: add server %q: %w", cfg.ID, ErrManagerClosed)
	}
	if _, ok := m.servers[cfg.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("mcphost: add server %q: %w", cfg.ID, ErrServerExists)
	}
	m.servers[cfg.ID] = &serverState{
		config:  cfg,
		runtime: ServerRuntime{Status: StatusStopped},
	}
	m.mu.Unlock()

	m.log.Info("server registered", "server", cfg.ID, "command", cfg.Command)
	if cfg.AutoStart {
		return m.StartServer(ctx, cfg.ID)
	}
	return nil
}

// StartServer launches a registered server and blocks through its initialize
// handshake. Starting an already running server (or one whose start is still
// in flight) is a no-op. The launch is refused while the number of running
// servers is at the configured maximum. On failure the server is left in the
// error state with the message recorded, and the error is returned.
func (m *Manager) StartServer(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("mcphost: start server %q: %w", id, ErrManagerClosed)
	}
	state, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mcphost: start server %q: %w", id, ErrServerNotFound)
	}
	switch state.runtime.Status {
	case StatusRunning, StatusStarting:
		m.mu.Unlock()
		return nil
	}
	if n := m.runningLocked(); n >= m.opts.MaxConcurrentServers {
		m.mu.Unlock()
		return fmt.Errorf("mcphost: start server %q: %w (%d running)", id, ErrTooManyServers, n)
	}

	state.gen++
	gen := state.gen
	cfg := state.config
	state.runtime = ServerRuntime{Status: StatusStarting, StartedAt: time.Now()}
	m.mu.Unlock()

	m.emit(ServerStarting{Server: id})

	client, err := m.newClient(m.clientConfig(id, gen, cfg))
	if err == nil {
		var res *mcpstdio.InitializeResult
		res, err = client.Start(ctx)
		if err == nil {
			m.markRunning(id, gen, client, res)
			go m.discoverTools(id, gen, client)
			return nil
		}
	}

	m.markError(id, gen, err)
	return fmt.Errorf("mcphost: start server %q: %w", id, err)
}

// clientConfig maps a ServerConfig onto the protocol client's launch spec and
// wires the callbacks that feed manager state.
func (m *Manager) clientConfig(id string, gen uint64, cfg ServerConfig) mcpstdio.Config {
	return mcpstdio.Config{
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
		Dir:     cfg.WorkDir,
		Client: mcpstdio.Implementation{
			Name:    m.opts.ClientName,
			Version: m.opts.ClientVersion,
		},
		HandshakeTimeout: m.opts.HandshakeTimeout,
		RequestTimeout:   m.opts.RequestTimeout,
		CallTimeout:      m.opts.CallTimeout,
		Logger:           m.log.With("server", id),
		OnNotification: func(method string, params json.RawMessage) {
			m.emit(ServerNotification{Server: id, Method: method, Params: params})
		},
		OnStderr: func(line string) {
			m.log.Debug("server stderr", "server", id, "line", line)
		},
		OnExit: func(err error) {
			m.handleExit(id, gen, err)
		},
	}
}

func (m *Manager) markRunning(id string, gen uint64, client stdioClient, res *mcpstdio.InitializeResult) {
	m.mu.Lock()
	state, ok := m.servers[id]
	if !ok || state.gen != gen {
		// Removed or restarted while the handshake ran; the new owner wins.
		m.mu.Unlock()
		go func() { _ = client.Stop(context.Background()) }()
		return
	}
	if state.exitGen == gen {
		// The process handshook and then died before we got here.
		state.client = nil
		state.runtime.Status = StatusStopped
		state.runtime.PID = 0
		m.mu.Unlock()
		m.emit(ServerStopped{Server: id})
		return
	}
	state.client = client
	state.runtime.Status = StatusRunning
	state.runtime.PID = client.PID()
	state.runtime.LastError = ""
	if res != nil {
		state.runtime.ServerName = res.ServerInfo.Name
		state.runtime.ServerVersion = res.ServerInfo.Version
	}
	pid := state.runtime.PID
	m.mu.Unlock()

	m.log.Info("server started", "server", id, "pid", pid)
	m.emit(ServerStarted{Server: id, PID: pid})
}

func (m *Manager) markError(id string, gen uint64, err error) {
	m.mu.Lock()
	state, ok := m.servers[id]
	if !ok || state.gen != gen {
		m.mu.Unlock()
		return
	}
	state.client = nil
	state.runtime.Status = StatusError
	state.runtime.PID = 0
	if err != nil {
		state.runtime.LastError = err.Error()
	}
	m.mu.Unlock()

	m.log.Warn("server start failed", "server", id, "err", err)
	m.emit(ServerError{Server: id, Err: err})
}

// handleExit runs when a server process goes away on its own. An exit caused
// by StopServer or a newer start carries a stale gen and is ignored; the
// stopped status is otherwise indistinguishable from an intentional stop.
func (m *Manager) handleExit(id string, gen uint64, err error) {
	m.mu.Lock()
	state, ok := m.servers[id]
	if !ok || state.gen != gen {
		m.mu.Unlock()
		return
	}
	state.exitGen = gen
	if state.runtime.Status != StatusRunning {
		// Mid-start exits are resolved by the start path, which sees exitGen.
		m.mu.Unlock()
		return
	}
	state.client = nil
	state.runtime.Status = StatusStopped
	state.runtime.PID = 0
	state.runtime.ToolCount = 0
	if err != nil {
		state.runtime.LastError = err.Error()
	}
	delete(m.tools, id)
	m.mu.Unlock()

	m.log.Info("server exited", "server", id, "err", err)
	m.emit(ServerStopped{Server: id})
}

// discoverTools fetches and indexes the server's tool catalog after a start.
// A listing failure is logged and the server stays running with no tools.
func (m *Manager) discoverTools(id string, gen uint64, client stdioClient) {
	listed, err := client.ListTools(context.Background())
	if err != nil {
		m.log.Warn("tool discovery failed", "server", id, "err", err)
		return
	}

	tools := make([]Tool, 0, len(listed))
	index := make(map[string]int, len(listed))
	for _, def := range listed {
		tool := Tool{
			Server:      id,
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
			Category:    CategoryOf(def.Name),
			Risk:        RiskOf(def.Name),
		}
		// Same-name duplicates within one listing replace the earlier entry.
		if at, ok := index[def.Name]; ok {
			tools[at] = tool
			continue
		}
		index[def.Name] = len(tools)
		tools = append(tools, tool)
	}

	m.mu.Lock()
	state, ok := m.servers[id]
	if !ok || state.gen != gen || state.runtime.Status != StatusRunning {
		// The server stopped while we were listing; its tools stay purged.
		m.mu.Unlock()
		return
	}
	m.tools[id] = tools
	state.runtime.ToolCount = len(tools)
	m.mu.Unlock()

	m.log.Info("tools discovered", "server", id, "count", len(tools))
	for _, tool := range tools {
		m.emit(ToolDiscovered{Server: id, Tool: tool})
	}
}

// StopServer shuts the server's process down and marks it stopped. Its tools
// are purged and the client reference dropped regardless of whether a process
// was alive. Stopping an unknown server fails; stopping a stopped one is a
// no-op.
func (m *Manager) StopServer(ctx context.Context, id string) error {
	m.mu.Lock()
	state, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mcphost: stop server %q: %w", id, ErrServerNotFound)
	}
	client := state.client
	wasRunning := state.runtime.Status == StatusRunning || state.runtime.Status == StatusStarting
	state.gen++
	state.client = nil
	state.runtime.Status = StatusStopped
	state.runtime.PID = 0
	state.runtime.ToolCount = 0
	delete(m.tools, id)
	m.mu.Unlock()

	var err error
	if client != nil {
		err = client.Stop(ctx)
	}
	if wasRunning {
		m.log.Info("server stopped", "server", id)
		m.emit(ServerStopped{Server: id})
	}
	if err != nil {
		return fmt.Errorf("mcphost: stop server %q: %w", id, err)
	}
	return nil
}

// RemoveServer stops the server if needed and deletes its config entirely.
func (m *Manager) RemoveServer(ctx context.Context, id string) error {
	m.mu.RLock()
	_, ok := m.servers[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mcphost: remove server %q: %w", id, ErrServerNotFound)
	}

	if err := m.StopServer(ctx, id); err != nil {
		return fmt.Errorf("mcphost: remove server %q: %w", id, err)
	}

	m.mu.Lock()
	delete(m.servers, id)
	delete(m.tools, id)
	m.mu.Unlock()

	m.log.Info("server removed", "server", id)
	return nil
}

// ExecuteTool routes one call to the owning server's client and reports the
// outcome as data: failures come back with Success false rather than as an
// error, so callers can surface them inline. The call id is generated when
// the caller leaves it empty, and every execution emits a ToolExecuted event.
func (m *Manager) ExecuteTool(ctx context.Context, call ToolCall) ToolResult {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	result := ToolResult{ID: call.ID, Server: call.Server, Tool: call.Tool}

	m.mu.RLock()
	var client stdioClient
	if state, ok := m.servers[call.Server]; ok {
		client = state.client
	}
	m.mu.RUnlock()

	if client == nil {
		result.Error = fmt.Sprintf("Server %s not running", call.Server)
		m.emit(ToolExecuted{Call: call, Result: result})
		return result
	}

	started := time.Now()
	data, err := client.CallTool(ctx, call.Tool, call.Arguments)
	result.Duration = time.Since(started)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
		result.Data = data
	}

	m.log.Debug("tool executed",
		"server", call.Server, "tool", call.Tool, "id", call.ID,
		"success", result.Success, "duration", result.Duration)
	m.emit(ToolExecuted{Call: call, Result: result})
	return result
}

// Servers returns a snapshot of every registered server, sorted by id.
func (m *Manager) Servers() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerState, 0, len(m.servers))
	for _, state := range m.servers {
		out = append(out, ServerState{Config: state.config, Runtime: state.runtime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

// RunningServers returns the snapshot filtered to running servers.
func (m *Manager) RunningServers() []ServerState {
	all := m.Servers()
	out := all[:0]
	for _, s := range all {
		if s.Runtime.Status == StatusRunning {
			out = append(out, s)
		}
	}
	return out
}

// Server returns the snapshot for one server.
func (m *Manager) Server(id string) (ServerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.servers[id]
	if !ok {
		return ServerState{}, fmt.Errorf("mcphost: server %q: %w", id, ErrServerNotFound)
	}
	return ServerState{Config: state.config, Runtime: state.runtime}, nil
}

// Tools returns discovered tools for one server, or for every server when id
// is empty (grouped by server in lexicographic order, each group in the order
// the server listed them). The result is never nil.
func (m *Manager) Tools(server string) []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if server != "" {
		return append([]Tool{}, m.tools[server]...)
	}
	ids := make([]string, 0, len(m.tools))
	for id := range m.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := []Tool{}
	for _, id := range ids {
		out = append(out, m.tools[id]...)
	}
	return out
}

// FindTool locates a tool by name. With a server id the lookup is exact; with
// an empty server the servers are scanned in lexicographic id order and the
// first match wins, so the result is deterministic even when several servers
// expose the same tool name.
func (m *Manager) FindTool(name, server string) (Tool, error) {
	for _, tool := range m.Tools(server) {
		if tool.Name == name {
			return tool, nil
		}
	}
	return Tool{}, fmt.Errorf("mcphost: tool %q: %w", name, ErrToolNotFound)
}

// runningLocked counts servers in the running state. Callers hold m.mu.
func (m *Manager) runningLocked() int {
	n := 0
	for _, state := range m.servers {
		if state.runtime.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Close stops every server concurrently and clears all collections. The
// manager accepts no new work afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			if err := m.StopServer(ctx, id); err != nil && !errors.Is(err, ErrServerNotFound) {
				errs[i] = err
			}
		}(i, id)
	}
	wg.Wait()

	m.mu.Lock()
	m.servers = make(map[string]*serverState)
	m.tools = make(map[string][]Tool)
	m.mu.Unlock()

	m.log.Info("manager closed", "servers", len(ids))
	return errors.Join(errs...)
}
