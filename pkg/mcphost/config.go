package mcphost

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultMaxConcurrentServers caps how many servers may be running at once
// when ManagerOptions leaves the limit unset.
const DefaultMaxConcurrentServers = 5

// Sentinel errors returned by Manager operations. Match with errors.Is; the
// wrapped form carries the server id.
var (
	ErrServerExists   = errors.New("server already registered")
	ErrServerNotFound = errors.New("server not found")
	ErrTooManyServers = errors.New("max concurrent servers reached")
	ErrManagerClosed  = errors.New("manager closed")
	ErrToolNotFound   = errors.New("tool not found")
	ErrInvalidConfig  = errors.New("invalid server config")
)

// ServerConfig describes one stdio MCP server: how to launch it and how to
// present it. Command and Args go to the OS directly; there is no shell
// interpretation anywhere in the launch path.
type ServerConfig struct {
	// ID uniquely names the server within a manager. It doubles as the tool
	// namespace in listings.
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
	// Env entries are layered over the parent process environment.
	Env     map[string]string `json:"env,omitempty"`
	WorkDir string            `json:"workDir,omitempty"`
	// AutoStart marks the server for launch as soon as it is registered.
	AutoStart bool `json:"autoStart,omitempty"`
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("%w: command is required for %q", ErrInvalidConfig, c.ID)
	}
	return nil
}

// DisplayName returns the human label for the server, falling back to its id.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// MaxConcurrentServers limits how many servers may be in the running
	// state at once. Zero or negative means DefaultMaxConcurrentServers.
	MaxConcurrentServers int
	// ClientName and ClientVersion identify this host during the MCP
	// handshake with every server.
	ClientName    string
	ClientVersion string
	// HandshakeTimeout, RequestTimeout and CallTimeout are passed through to
	// each server's protocol client; zero keeps the client defaults.
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	CallTimeout      time.Duration
	// Logger receives manager diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

func (o *ManagerOptions) normalized() ManagerOptions {
	var opts ManagerOptions
	if o != nil {
		opts = *o
	}
	if opts.MaxConcurrentServers <= 0 {
		opts.MaxConcurrentServers = DefaultMaxConcurrentServers
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcp-host-go"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// ServerStatus is the lifecycle state of a managed server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusError    ServerStatus = "error"
)

// ServerRuntime is the live half of a server's state: everything that changes
// as the process starts, runs and stops.
type ServerRuntime struct {
	Status    ServerStatus `json:"status"`
	PID       int          `json:"pid,omitempty"`
	StartedAt time.Time    `json:"startedAt"`
	// ServerName and ServerVersion come from the server's half of the
	// initialize handshake.
	ServerName    string `json:"serverName,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
	ToolCount     int    `json:"toolCount"`
	LastError     string `json:"lastError,omitempty"`
}

// ServerState pairs a server's launch configuration with its runtime state.
type ServerState struct {
	Config  ServerConfig  `json:"config"`
	Runtime ServerRuntime `json:"runtime"`
}

// Tool is one discovered tool, annotated with the server that owns it and the
// host-side classification used for display and safety hints.
type Tool struct {
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Category    string          `json:"category"`
	Risk        string          `json:"risk"`
}

// ToolCall names one tool invocation. ID is assigned by the manager when left
// empty.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the outcome of one tool invocation. Failures are data, not
// errors: Success is false and Error holds the reason.
type ToolResult struct {
	ID       string          `json:"id"`
	Server   string          `json:"server"`
	Tool     string          `json:"tool"`
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}
