// Package mcphost orchestrates a fleet of Model Context Protocol (MCP) tool
// servers from a single Go process. It layers lifecycle tracking, a
// concurrency ceiling, tool discovery with host-side classification, and
// tool-call routing on top of the mcpstdio protocol client so callers can
// manage servers and invoke their tools without touching the wire plumbing.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, register servers with AddServer, and drive their
//     lifecycles with StartServer / StopServer / RemoveServer.
//   - ServerConfig declares how each server is launched: command, args,
//     environment overrides, working directory, and an AutoStart flag.
//   - ManagerOptions set the running-server ceiling, the client identity
//     advertised during the MCP handshake, per-operation timeouts, and the
//     logger.
//
// After a server starts, the manager lists its tools, classifies each by name
// (CategoryOf, RiskOf) and indexes it under the owning server. ExecuteTool
// routes a ToolCall to the right server and reports the outcome as a
// ToolResult; a call against a server that is not running fails in data, not
// with an error. Queries (Servers, RunningServers, Tools, FindTool) read a
// consistent snapshot.
//
// Lifecycle observers register with Subscribe and receive the closed Event
// set: ServerStarting, ServerStarted, ServerStopped, ServerError,
// ToolDiscovered, ToolExecuted, and ServerNotification for frames a server
// pushes on its own. A server that fails or exits is never restarted
// automatically; callers decide when StartServer is retried.
package mcphost
