package mcpadmin

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

// sseEvent is one frame ready to hit the wire.
type sseEvent struct {
	name string
	data []byte
}

const subscriberBuffer = 64

// eventHub fans manager events out to SSE subscribers. Publishing never
// blocks: a subscriber whose buffer is full is evicted and its channel
// closed, ending that connection.
type eventHub struct {
	log *slog.Logger

	mu     sync.Mutex
	seq    uint64
	subs   map[uint64]chan sseEvent
	closed bool
}

func newEventHub(log *slog.Logger) *eventHub {
	return &eventHub{log: log, subs: make(map[uint64]chan sseEvent)}
}

func (h *eventHub) subscribe() (uint64, <-chan sseEvent) {
	ch := make(chan sseEvent, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return 0, ch
	}
	h.seq++
	id := h.seq
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *eventHub) unsubscribe(id uint64) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *eventHub) publish(ev mcphost.Event) {
	name, payload := envelope(ev)
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("encode event", "event", name, "err", err)
		return
	}
	frame := sseEvent{name: name, data: data}

	h.mu.Lock()
	for id, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			// Too far behind; cut the consumer loose rather than stall.
			delete(h.subs, id)
			close(ch)
			h.log.Warn("slow event subscriber dropped", "subscriber", id)
		}
	}
	h.mu.Unlock()
}

func (h *eventHub) close() {
	h.mu.Lock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// envelope maps a manager event onto its wire name and JSON payload.
func envelope(ev mcphost.Event) (string, any) {
	switch e := ev.(type) {
	case mcphost.ServerStarting:
		return "server_starting", map[string]any{"server": e.Server}
	case mcphost.ServerStarted:
		return "server_started", map[string]any{"server": e.Server, "pid": e.PID}
	case mcphost.ServerStopped:
		return "server_stopped", map[string]any{"server": e.Server}
	case mcphost.ServerError:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return "server_error", map[string]any{"server": e.Server, "error": msg}
	case mcphost.ToolDiscovered:
		return "tool_discovered", map[string]any{"server": e.Server, "tool": e.Tool}
	case mcphost.ToolExecuted:
		return "tool_executed", map[string]any{"call": e.Call, "result": e.Result}
	case mcphost.ServerNotification:
		return "server_notification", map[string]any{
			"server": e.Server, "method": e.Method, "params": e.Params,
		}
	default:
		return "event", map[string]any{"type": "unknown"}
	}
}
