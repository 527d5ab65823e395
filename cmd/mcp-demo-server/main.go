// Command mcp-demo-server is a small stdio MCP server used to exercise the
// client and manager end to end: echo and add for round-trips, sleep_ms for
// timeout behavior, and an in-memory note store whose tool names span the
// risk spectrum.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoInput struct {
	Text string `json:"text" jsonschema:"the text to echo back"`
}

type addInput struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type sleepInput struct {
	Ms int64 `json:"ms" jsonschema:"how long to block, in milliseconds"`
}

type writeNoteInput struct {
	Name string `json:"name" jsonschema:"note identifier"`
	Text string `json:"text" jsonschema:"note body"`
}

type noteNameInput struct {
	Name string `json:"name" jsonschema:"note identifier"`
}

// noteStore keeps notes for the lifetime of the process.
type noteStore struct {
	mu    sync.Mutex
	notes map[string]string
}

func newNoteStore() *noteStore {
	return &noteStore{notes: make(map[string]string)}
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mcp-demo-server",
		Version: "1.0.0",
	}, nil)
	if err := registerTools(server); err != nil {
		log.Error("register tools", "err", err)
		os.Exit(1)
	}

	log.Info("demo server listening on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func registerTools(server *mcp.Server) error {
	echoSchema, err := jsonschema.For[echoInput](nil)
	if err != nil {
		return fmt.Errorf("schema for echo: %w", err)
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the given text back to the caller.",
		InputSchema: echoSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in echoInput) (*mcp.CallToolResult, any, error) {
		return textResult(in.Text), nil, nil
	})

	// Handcrafted schema: both addends are required numbers.
	mcp.AddTool(server, &mcp.Tool{
		Name:        "add",
		Description: "Add two numbers and return the sum.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"a": {Type: "number", Description: "first addend"},
				"b": {Type: "number", Description: "second addend"},
			},
			Required: []string{"a", "b"},
		},
	}, func(ctx context.Context, req *mcp.CallToolRequest, in addInput) (*mcp.CallToolResult, any, error) {
		sum := strconv.FormatFloat(in.A+in.B, 'f', -1, 64)
		return textResult(sum), nil, nil
	})

	sleepSchema, err := jsonschema.For[sleepInput](nil)
	if err != nil {
		return fmt.Errorf("schema for sleep_ms: %w", err)
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sleep_ms",
		Description: "Block for the given number of milliseconds, then return.",
		InputSchema: sleepSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in sleepInput) (*mcp.CallToolResult, any, error) {
		select {
		case <-time.After(time.Duration(in.Ms) * time.Millisecond):
			return textResult(fmt.Sprintf("slept %dms", in.Ms)), nil, nil
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	})

	notes := newNoteStore()

	writeSchema, err := jsonschema.For[writeNoteInput](nil)
	if err != nil {
		return fmt.Errorf("schema for write_note: %w", err)
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "write_note",
		Description: "Store a note under the given name, replacing any previous content.",
		InputSchema: writeSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in writeNoteInput) (*mcp.CallToolResult, any, error) {
		notes.mu.Lock()
		notes.notes[in.Name] = in.Text
		notes.mu.Unlock()
		return textResult(fmt.Sprintf("stored %q (%d bytes)", in.Name, len(in.Text))), nil, nil
	})

	nameSchema, err := jsonschema.For[noteNameInput](nil)
	if err != nil {
		return fmt.Errorf("schema for note tools: %w", err)
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_note",
		Description: "Return the body of a stored note.",
		InputSchema: nameSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in noteNameInput) (*mcp.CallToolResult, any, error) {
		notes.mu.Lock()
		text, ok := notes.notes[in.Name]
		notes.mu.Unlock()
		if !ok {
			return errorResult(fmt.Sprintf("note %q not found", in.Name)), nil, nil
		}
		return textResult(text), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_note",
		Description: "Delete a stored note.",
		InputSchema: nameSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in noteNameInput) (*mcp.CallToolResult, any, error) {
		notes.mu.Lock()
		_, ok := notes.notes[in.Name]
		delete(notes.notes, in.Name)
		notes.mu.Unlock()
		if !ok {
			return errorResult(fmt.Sprintf("note %q not found", in.Name)), nil, nil
		}
		return textResult(fmt.Sprintf("deleted %q", in.Name)), nil, nil
	})

	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
