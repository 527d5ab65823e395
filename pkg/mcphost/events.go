package mcphost

import "encoding/json"

// Event is the closed set of manager lifecycle notifications. Subscribers
// type-switch on the concrete variants; there is no generic payload map to
// fish values out of.
type Event interface {
	event()
}

// ServerStarting fires when a launch has been admitted but the process is not
// yet handshaken.
type ServerStarting struct {
	Server string
}

// ServerStarted fires once the initialize handshake completes.
type ServerStarted struct {
	Server string
	PID    int
}

// ServerStopped fires when a server leaves the running state, whether by
// request or because the process exited on its own.
type ServerStopped struct {
	Server string
}

// ServerError fires when a launch fails or a running process exits abnormally.
type ServerError struct {
	Server string
	Err    error
}

// ToolDiscovered fires once per tool found during discovery.
type ToolDiscovered struct {
	Server string
	Tool   Tool
}

// ToolExecuted fires after every ExecuteTool, successful or not.
type ToolExecuted struct {
	Call   ToolCall
	Result ToolResult
}

// ServerNotification relays a server-initiated protocol notification.
type ServerNotification struct {
	Server string
	Method string
	Params json.RawMessage
}

func (ServerStarting) event()     {}
func (ServerStarted) event()      {}
func (ServerStopped) event()      {}
func (ServerError) event()        {}
func (ToolDiscovered) event()     {}
func (ToolExecuted) event()       {}
func (ServerNotification) event() {}

// Subscribe registers fn for every future event and returns its unsubscribe
// function. Handlers run synchronously on the emitting goroutine, outside the
// manager lock; a panicking handler is isolated and logged.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	m.subMu.Lock()
	m.subSeq++
	id := m.subSeq
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// emit delivers ev to every subscriber registered at the time of the call.
func (m *Manager) emit(ev Event) {
	m.subMu.Lock()
	handlers := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		handlers = append(handlers, fn)
	}
	m.subMu.Unlock()

	for _, fn := range handlers {
		// Best-effort; isolate panics.
		func(handler func(Event)) {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("event subscriber panicked", "panic", r)
				}
			}()
			handler(ev)
		}(fn)
	}
}
