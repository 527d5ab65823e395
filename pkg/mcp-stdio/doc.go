// Package mcpstdio implements the client half of the Model Context Protocol
// (MCP) stdio transport: it spawns a server as a child process and speaks
// newline-delimited JSON-RPC 2.0 over the process's stdin/stdout, keeping
// stderr as a plain diagnostics stream.
//
// # Core entry points
//
//   - Client owns one server process. Construct it with NewClient, call Start
//     to spawn the process and run the initialize handshake, and Stop to shut
//     the process down (gracefully first, forcefully after a grace period).
//   - Config declares the launch spec: command, args, environment overrides,
//     working directory, per-operation timeouts, and the callbacks that
//     surface server-initiated notifications, stderr lines, and process exit.
//
// Between Start and Stop, use SendMessage for raw requests, SendNotification
// for fire-and-forget frames, and the typed helpers ListTools and CallTool.
// Responses are matched to requests strictly by id, so any number of calls
// can be in flight concurrently; each carries its own timeout, and a timeout
// or cancellation rejects only that one call. When the process exits for any
// reason, every still-pending request is rejected with ErrServerStopped.
//
// The package never retries: spawn failures and unexpected exits surface to
// the owner (via the Start error or the OnExit callback), and restart policy
// belongs to the caller.
package mcpstdio
