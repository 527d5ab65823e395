package mcpstdio

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNotificationFrameOmitsID(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(notification{
		JSONRPC: jsonRPCVersion,
		Method:  notificationInitialized,
	})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if _, hasID := frame["id"]; hasID {
		t.Fatalf("notification frame carries an id: %s", raw)
	}
	if frame["method"] != notificationInitialized {
		t.Fatalf("method = %v", frame["method"])
	}
}

func TestRequestFrameShape(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(request{
		JSONRPC: jsonRPCVersion,
		ID:      7,
		Method:  methodListTools,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame["id"] != float64(7) {
		t.Fatalf("id = %v, want 7", frame["id"])
	}
	if _, hasParams := frame["params"]; hasParams {
		t.Fatalf("empty params serialized: %s", raw)
	}
}

func TestMessageDiscrimination(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		line       string
		wantID     bool
		wantMethod string
	}{
		{"response", `{"jsonrpc":"2.0","id":3,"result":{"ok":true}}`, true, ""},
		{"error response", `{"jsonrpc":"2.0","id":4,"error":{"code":-32000,"message":"boom"}}`, true, ""},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/resources/updated","params":{}}`, false, "notifications/resources/updated"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var msg message
			if err := json.Unmarshal([]byte(tc.line), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if (msg.ID != nil) != tc.wantID {
				t.Fatalf("id presence = %v, want %v", msg.ID != nil, tc.wantID)
			}
			if msg.Method != tc.wantMethod {
				t.Fatalf("method = %q, want %q", msg.Method, tc.wantMethod)
			}
		})
	}
}

func TestRPCErrorString(t *testing.T) {
	t.Parallel()
	err := &RPCError{Code: -32601, Message: "method not found"}
	if got := err.Error(); !strings.Contains(got, "-32601") || !strings.Contains(got, "method not found") {
		t.Fatalf("Error() = %q", got)
	}
}

func TestToolDecodesInputSchemaVerbatim(t *testing.T) {
	t.Parallel()
	line := `{"name":"read_file","description":"Read a file","inputSchema":{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}}`
	var tool Tool
	if err := json.Unmarshal([]byte(line), &tool); err != nil {
		t.Fatalf("unmarshal tool: %v", err)
	}
	if tool.Name != "read_file" {
		t.Fatalf("name = %q", tool.Name)
	}
	var schema map[string]any
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		t.Fatalf("schema not preserved as raw JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("schema type = %v", schema["type"])
	}
}
