package mcpstdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// pipeServer is the far end of an in-memory stdio session: it reads frames
// the client writes and lets tests script response lines byte for byte.
type pipeServer struct {
	t     *testing.T
	in    *io.PipeReader
	out   *io.PipeWriter
	lines *bufio.Scanner
}

// newPipeClient wires a client to in-memory pipes instead of a real process.
// The returned client is marked started and initialized unless handshake is
// true, in which case the test drives the handshake itself.
func newPipeClient(t *testing.T, cfg Config, needsHandshake bool) (*Client, *pipeServer) {
	t.Helper()
	if cfg.Command == "" {
		cfg.Command = "test-server"
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()
	c.attach(clientOut, clientIn, nil)

	c.mu.Lock()
	c.started = true
	c.initialized = !needsHandshake
	c.mu.Unlock()

	srv := &pipeServer{t: t, in: serverIn, out: serverOut}
	srv.lines = bufio.NewScanner(serverIn)
	t.Cleanup(func() {
		srv.close()
		c.ioWG.Wait()
		c.teardown()
	})
	return c, srv
}

func (s *pipeServer) close() {
	_ = s.out.Close()
	_ = s.in.Close()
}

func (s *pipeServer) readFrame() map[string]any {
	s.t.Helper()
	if !s.lines.Scan() {
		s.t.Fatalf("pipe closed before frame arrived: %v", s.lines.Err())
	}
	var frame map[string]any
	if err := json.Unmarshal(s.lines.Bytes(), &frame); err != nil {
		s.t.Fatalf("unparseable frame %q: %v", s.lines.Text(), err)
	}
	return frame
}

func (s *pipeServer) writeLine(line string) {
	s.t.Helper()
	if _, err := io.WriteString(s.out, line+"\n"); err != nil {
		s.t.Fatalf("write line: %v", err)
	}
}

func (s *pipeServer) respond(id int64, result string) {
	s.writeLine(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

func frameID(t *testing.T, frame map[string]any) int64 {
	t.Helper()
	id, ok := frame["id"].(float64)
	if !ok {
		t.Fatalf("frame has no numeric id: %#v", frame)
	}
	return int64(id)
}

type sendReply struct {
	raw json.RawMessage
	err error
}

func TestSendMessageRoundTrip(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{}, false)

	got := make(chan sendReply, 1)
	go func() {
		raw, err := c.SendMessage(context.Background(), "tools/list", map[string]any{"cursor": "abc"})
		got <- sendReply{raw, err}
	}()

	frame := srv.readFrame()
	if frame["jsonrpc"] != "2.0" {
		t.Fatalf("jsonrpc field = %v, want 2.0", frame["jsonrpc"])
	}
	if frame["method"] != "tools/list" {
		t.Fatalf("method = %v, want tools/list", frame["method"])
	}
	params, ok := frame["params"].(map[string]any)
	if !ok || params["cursor"] != "abc" {
		t.Fatalf("params not round-tripped: %#v", frame["params"])
	}

	srv.respond(frameID(t, frame), `{"tools":[]}`)

	reply := <-got
	if reply.err != nil {
		t.Fatalf("SendMessage: %v", reply.err)
	}
	if string(reply.raw) != `{"tools":[]}` {
		t.Fatalf("result = %s, want {\"tools\":[]}", reply.raw)
	}
}

func TestResponsesMatchByIDNotArrival(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{}, false)

	resolved := make(chan string, 2)
	send := func(method string) {
		go func() {
			if _, err := c.SendMessage(context.Background(), method, nil); err != nil {
				t.Errorf("SendMessage(%s): %v", method, err)
			}
			resolved <- method
		}()
	}
	send("op/alpha")
	send("op/beta")

	idByMethod := make(map[string]int64, 2)
	for range 2 {
		frame := srv.readFrame()
		idByMethod[frame["method"].(string)] = frameID(t, frame)
	}

	srv.respond(idByMethod["op/beta"], `"beta done"`)
	if first := <-resolved; first != "op/beta" {
		t.Fatalf("first resolved call = %s, want op/beta", first)
	}

	select {
	case m := <-resolved:
		t.Fatalf("op/alpha resolved without a response: %s", m)
	case <-time.After(50 * time.Millisecond):
	}

	c.mu.Lock()
	stillPending := len(c.pending)
	c.mu.Unlock()
	if stillPending != 1 {
		t.Fatalf("pending requests = %d, want 1", stillPending)
	}

	srv.respond(idByMethod["op/alpha"], `"alpha done"`)
	if second := <-resolved; second != "op/alpha" {
		t.Fatalf("second resolved call = %s, want op/alpha", second)
	}
}

func TestHandleDataBuffersPartialLines(t *testing.T) {
	t.Parallel()
	c, err := NewClient(Config{Command: "test-server"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ch1 := make(chan outcome, 1)
	ch2 := make(chan outcome, 1)
	c.mu.Lock()
	c.pending[1] = ch1
	c.pending[2] = ch2
	c.mu.Unlock()

	c.handleData([]byte(`{"jsonrpc":"2.0","id":1,"res`))
	select {
	case out := <-ch1:
		t.Fatalf("partial line resolved a request: %#v", out)
	default:
	}

	c.handleData([]byte("ult\":\"one\"}\n{\"jsonrpc\":\"2.0\",\"id\":2,\"result\":\"two\"}\n"))

	out1 := <-ch1
	if out1.err != nil || string(out1.result) != `"one"` {
		t.Fatalf("request 1 resolved to (%s, %v), want \"one\"", out1.result, out1.err)
	}
	out2 := <-ch2
	if out2.err != nil || string(out2.result) != `"two"` {
		t.Fatalf("request 2 resolved to (%s, %v), want \"two\"", out2.result, out2.err)
	}
	if len(c.rbuf) != 0 {
		t.Fatalf("read buffer not drained: %q", c.rbuf)
	}
}

func TestRequestTimeoutLeavesOthersPending(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{RequestTimeout: 150 * time.Millisecond}, false)

	slowErr := make(chan error, 1)
	go func() {
		_, err := c.SendMessage(context.Background(), "op/slow", nil)
		slowErr <- err
	}()
	fastReply := make(chan sendReply, 1)
	go func() {
		raw, err := c.SendMessage(context.Background(), "op/fast", nil)
		fastReply <- sendReply{raw, err}
	}()

	ids := make(map[string]int64, 2)
	for range 2 {
		frame := srv.readFrame()
		ids[frame["method"].(string)] = frameID(t, frame)
	}
	srv.respond(ids["op/fast"], `"quick"`)

	fast := <-fastReply
	if fast.err != nil {
		t.Fatalf("fast request failed: %v", fast.err)
	}
	err := <-slowErr
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("slow request error = %v, want ErrRequestTimeout", err)
	}

	c.mu.Lock()
	left := len(c.pending)
	c.mu.Unlock()
	if left != 0 {
		t.Fatalf("pending requests after timeout = %d, want 0", left)
	}
}

func TestPendingRejectedWhenServerStops(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{}, false)

	errs := make(chan error, 2)
	for _, method := range []string{"op/one", "op/two"} {
		go func() {
			_, err := c.SendMessage(context.Background(), method, nil)
			errs <- err
		}()
	}
	srv.readFrame()
	srv.readFrame()

	srv.close()
	c.ioWG.Wait()
	c.teardown()

	for range 2 {
		if err := <-errs; !errors.Is(err, ErrServerStopped) {
			t.Fatalf("pending request error = %v, want ErrServerStopped", err)
		}
	}

	c.mu.Lock()
	left := len(c.pending)
	closed := c.closed
	initialized := c.initialized
	c.mu.Unlock()
	if left != 0 {
		t.Fatalf("pending map has %d entries after teardown, want 0", left)
	}
	if !closed || initialized {
		t.Fatalf("teardown state closed=%v initialized=%v, want true/false", closed, initialized)
	}
}

func TestUnparseableLinesAreSkipped(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{}, false)

	got := make(chan sendReply, 1)
	go func() {
		raw, err := c.SendMessage(context.Background(), "op/sturdy", nil)
		got <- sendReply{raw, err}
	}()
	frame := srv.readFrame()

	srv.writeLine("this is not json at all")
	srv.writeLine(`{"truncated`)
	srv.respond(frameID(t, frame), `"survived"`)

	reply := <-got
	if reply.err != nil {
		t.Fatalf("request failed after bad lines: %v", reply.err)
	}
	if string(reply.raw) != `"survived"` {
		t.Fatalf("result = %s, want \"survived\"", reply.raw)
	}
}

func TestServerNotificationsReachHandler(t *testing.T) {
	t.Parallel()
	type note struct {
		method string
		params json.RawMessage
	}
	notes := make(chan note, 4)
	cfg := Config{
		OnNotification: func(method string, params json.RawMessage) {
			notes <- note{method, params}
		},
	}
	c, srv := newPipeClient(t, cfg, false)

	srv.writeLine(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"pct":50}}`)
	select {
	case n := <-notes:
		if n.method != "notifications/progress" {
			t.Fatalf("notification method = %s", n.method)
		}
		if string(n.params) != `{"pct":50}` {
			t.Fatalf("notification params = %s", n.params)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}

	// A frame with an id is a response and must route to the pending table,
	// not the notification handler.
	got := make(chan sendReply, 1)
	go func() {
		raw, err := c.SendMessage(context.Background(), "op/x", nil)
		got <- sendReply{raw, err}
	}()
	frame := srv.readFrame()
	srv.writeLine(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"op/x","result":"done"}`, frameID(t, frame)))
	if reply := <-got; reply.err != nil {
		t.Fatalf("response misrouted: %v", reply.err)
	}
	select {
	case n := <-notes:
		t.Fatalf("response delivered as notification: %#v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendRequiresStartAndHandshake(t *testing.T) {
	t.Parallel()

	fresh, err := NewClient(Config{Command: "test-server"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := fresh.SendMessage(context.Background(), "tools/list", nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("SendMessage before start = %v, want ErrNotStarted", err)
	}
	if err := fresh.SendNotification("notifications/x", nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("SendNotification before start = %v, want ErrNotStarted", err)
	}

	c, srv := newPipeClient(t, Config{}, true)
	if _, err := c.SendMessage(context.Background(), "tools/list", nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("SendMessage before handshake = %v, want ErrNotInitialized", err)
	}

	// The initialize request itself is exempt from the handshake gate.
	got := make(chan sendReply, 1)
	go func() {
		raw, err := c.SendMessage(context.Background(), methodInitialize, nil)
		got <- sendReply{raw, err}
	}()
	frame := srv.readFrame()
	if frame["method"] != methodInitialize {
		t.Fatalf("method = %v, want %s", frame["method"], methodInitialize)
	}
	srv.respond(frameID(t, frame), `{}`)
	if reply := <-got; reply.err != nil {
		t.Fatalf("initialize passthrough failed: %v", reply.err)
	}
}

func TestHandshakeSequence(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{Client: Implementation{Name: "host-test", Version: "0.0.1"}}, true)

	type handshakeReply struct {
		res *InitializeResult
		err error
	}
	got := make(chan handshakeReply, 1)
	go func() {
		res, err := c.handshake(context.Background())
		got <- handshakeReply{res, err}
	}()

	frame := srv.readFrame()
	if frame["method"] != methodInitialize {
		t.Fatalf("first frame method = %v, want initialize", frame["method"])
	}
	params := frame["params"].(map[string]any)
	if params["protocolVersion"] != protocolVersion {
		t.Fatalf("protocolVersion = %v, want %s", params["protocolVersion"], protocolVersion)
	}
	clientInfo := params["clientInfo"].(map[string]any)
	if clientInfo["name"] != "host-test" || clientInfo["version"] != "0.0.1" {
		t.Fatalf("clientInfo = %#v", clientInfo)
	}
	if _, ok := params["capabilities"].(map[string]any); !ok {
		t.Fatalf("capabilities missing from initialize params: %#v", params)
	}

	srv.respond(frameID(t, frame), `{"protocolVersion":"2024-11-05","capabilities":{"tools":{"listChanged":true}},"serverInfo":{"name":"fake","version":"9.9"}}`)

	initialized := srv.readFrame()
	if initialized["method"] != notificationInitialized {
		t.Fatalf("second frame method = %v, want %s", initialized["method"], notificationInitialized)
	}
	if _, hasID := initialized["id"]; hasID {
		t.Fatalf("initialized notification must not carry an id: %#v", initialized)
	}

	reply := <-got
	if reply.err != nil {
		t.Fatalf("handshake: %v", reply.err)
	}
	if reply.res.ServerInfo.Name != "fake" {
		t.Fatalf("server info = %#v", reply.res.ServerInfo)
	}

	c.mu.Lock()
	ok := c.initialized
	c.mu.Unlock()
	if !ok {
		t.Fatal("client not marked initialized after handshake")
	}
}

func TestListToolsNeverReturnsNil(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{}, false)

	type listReply struct {
		tools []Tool
		err   error
	}
	got := make(chan listReply, 1)
	go func() {
		tools, err := c.ListTools(context.Background())
		got <- listReply{tools, err}
	}()
	frame := srv.readFrame()
	if frame["method"] != methodListTools {
		t.Fatalf("method = %v, want %s", frame["method"], methodListTools)
	}
	srv.respond(frameID(t, frame), `{}`)

	reply := <-got
	if reply.err != nil {
		t.Fatalf("ListTools: %v", reply.err)
	}
	if reply.tools == nil || len(reply.tools) != 0 {
		t.Fatalf("tools = %#v, want empty non-nil slice", reply.tools)
	}
}

func TestCallToolSendsNameAndArguments(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{}, false)

	got := make(chan sendReply, 1)
	go func() {
		raw, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
		got <- sendReply{raw, err}
	}()
	frame := srv.readFrame()
	if frame["method"] != methodCallTool {
		t.Fatalf("method = %v, want %s", frame["method"], methodCallTool)
	}
	params := frame["params"].(map[string]any)
	if params["name"] != "echo" {
		t.Fatalf("tool name = %v", params["name"])
	}
	args := params["arguments"].(map[string]any)
	if args["text"] != "hi" {
		t.Fatalf("arguments = %#v", args)
	}
	srv.respond(frameID(t, frame), `{"content":[{"type":"text","text":"hi"}]}`)

	reply := <-got
	if reply.err != nil {
		t.Fatalf("CallTool: %v", reply.err)
	}
}

func TestCallToolHonorsCallTimeout(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{CallTimeout: 100 * time.Millisecond}, false)

	got := make(chan sendReply, 1)
	go func() {
		raw, err := c.CallTool(context.Background(), "hang", nil)
		got <- sendReply{raw, err}
	}()
	srv.readFrame()

	reply := <-got
	if !errors.Is(reply.err, context.DeadlineExceeded) {
		t.Fatalf("CallTool error = %v, want context.DeadlineExceeded", reply.err)
	}
}

func TestRPCErrorSurfacesToCaller(t *testing.T) {
	t.Parallel()
	c, srv := newPipeClient(t, Config{}, false)

	got := make(chan sendReply, 1)
	go func() {
		raw, err := c.SendMessage(context.Background(), "tools/call", nil)
		got <- sendReply{raw, err}
	}()
	frame := srv.readFrame()
	srv.writeLine(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, frameID(t, frame)))

	reply := <-got
	var rpcErr *RPCError
	if !errors.As(reply.err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", reply.err)
	}
	if rpcErr.Code != -32601 || rpcErr.Message != "method not found" {
		t.Fatalf("rpc error = %#v", rpcErr)
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	t.Parallel()
	c, err := NewClient(Config{Command: "test-server"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on unstarted client: %v", err)
	}
}
