package mcpadmin

import (
	"sync"
	"time"

	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

// HistoryEntry is one recorded tool execution as served by /v1/history.
type HistoryEntry struct {
	At         time.Time `json:"at"`
	ID         string    `json:"id"`
	Server     string    `json:"server"`
	Tool       string    `json:"tool"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
}

// history is a fixed-capacity ring of executions. Once full, each new entry
// overwrites the oldest.
type history struct {
	mu      sync.Mutex
	entries []HistoryEntry
	head    int
	size    int
}

func newHistory(capacity int) *history {
	return &history{entries: make([]HistoryEntry, capacity)}
}

func (h *history) record(res mcphost.ToolResult) {
	entry := HistoryEntry{
		At:         time.Now(),
		ID:         res.ID,
		Server:     res.Server,
		Tool:       res.Tool,
		Success:    res.Success,
		Error:      res.Error,
		DurationMS: res.Duration.Milliseconds(),
	}
	h.mu.Lock()
	h.entries[h.head] = entry
	h.head = (h.head + 1) % len(h.entries)
	if h.size < len(h.entries) {
		h.size++
	}
	h.mu.Unlock()
}

// snapshot returns the recorded executions, newest first.
func (h *history) snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, 0, h.size)
	for i := 1; i <= h.size; i++ {
		at := (h.head - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[at])
	}
	return out
}
