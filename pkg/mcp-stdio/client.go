package mcpstdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Default deadlines. The handshake gets extra headroom because servers pay
// process warm-up costs before their first reply; tool calls use a tighter
// ceiling so a hung tool cannot stall its caller.
const (
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultRequestTimeout   = 12 * time.Second
	DefaultCallTimeout      = 10 * time.Second

	stopGracePeriod = 5 * time.Second
)

// Sentinel errors returned by Client operations. Wrapped values carry the
// method and server context; match with errors.Is.
var (
	ErrNotStarted     = errors.New("client not started")
	ErrAlreadyStarted = errors.New("client already started")
	ErrNotInitialized = errors.New("client not initialized")
	ErrServerStopped  = errors.New("server stopped")
	ErrRequestTimeout = errors.New("request timed out")
)

// Config describes how to launch and identify one MCP server process.
// Command is required; zero values elsewhere fall back to library defaults.
type Config struct {
	// Command and Args are handed to the OS directly, never through a shell.
	Command string
	Args    []string
	// Env entries are layered over the parent process environment.
	Env map[string]string
	// Dir is the child's working directory; empty inherits the parent's.
	Dir string

	// Client identifies this side of the initialize handshake.
	Client Implementation

	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	CallTimeout      time.Duration

	// Logger receives client diagnostics, never protocol payloads. Nil uses
	// slog.Default().
	Logger *slog.Logger

	// OnNotification receives server-initiated notifications (frames with a
	// method and no id).
	OnNotification func(method string, params json.RawMessage)
	// OnStderr receives each line the server writes to stderr. When nil the
	// lines go to the logger at debug level.
	OnStderr func(line string)
	// OnExit fires exactly once after the process exits and every pending
	// request has been rejected. err is the process wait error, nil on a
	// clean exit.
	OnExit func(err error)
}

func (c Config) normalized() Config {
	if c.Client.Name == "" {
		c.Client.Name = "mcp-host-go"
	}
	if c.Client.Version == "" {
		c.Client.Version = "1.0.0"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Client owns exactly one MCP server child process and speaks
// newline-delimited JSON-RPC 2.0 over its stdio streams. In-flight requests
// are correlated by id, so many calls can be outstanding against the same
// process at once. A Client is single-use: once its process exits it cannot
// be restarted.
type Client struct {
	cfg Config
	log *slog.Logger

	nextID atomic.Int64

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu          sync.Mutex
	started     bool
	initialized bool
	closed      bool
	pending     map[int64]chan outcome
	cmd         *exec.Cmd
	pid         int

	ioWG   sync.WaitGroup
	exited chan struct{}

	// rbuf holds the trailing partial stdout line between reads. Owned by the
	// read loop; teardown clears it only after the loop has finished.
	rbuf []byte
}

// outcome resolves one pending request: a raw result or an error, never both.
type outcome struct {
	result json.RawMessage
	err    error
}

// NewClient validates the config and returns an unstarted client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Command == "" {
		return nil, errors.New("mcpstdio: command is required")
	}
	cfg = cfg.normalized()
	return &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		pending: make(map[int64]chan outcome),
		exited:  make(chan struct{}),
	}, nil
}

// Start spawns the configured command with the merged environment and
// optional working directory, wires up the stdio streams, and performs the
// initialize handshake bounded by the handshake timeout. On success the
// initialized notification has been sent and the server's negotiated
// InitializeResult is returned. On spawn failure or handshake failure the
// process is killed and the client is unusable.
func (c *Client) Start(ctx context.Context) (*InitializeResult, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil, fmt.Errorf("mcpstdio: %w", ErrAlreadyStarted)
	}
	c.started = true
	c.mu.Unlock()

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	if len(c.cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range c.cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.Dir = c.cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpstdio: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpstdio: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpstdio: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcpstdio: spawn %s: %w", c.cfg.Command, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.mu.Unlock()

	c.attach(stdin, stdout, stderr)
	go c.monitor(cmd)

	res, err := c.handshake(ctx)
	if err != nil {
		_ = cmd.Process.Kill()
		<-c.exited
		return nil, err
	}
	return res, nil
}

// attach wires the stream goroutines. Split out so tests can drive a client
// over in-memory pipes without a real process.
func (c *Client) attach(stdin io.WriteCloser, stdout, stderr io.Reader) {
	c.writeMu.Lock()
	c.stdin = stdin
	c.writeMu.Unlock()

	c.ioWG.Add(1)
	go c.readLoop(stdout)
	if stderr != nil {
		c.ioWG.Add(1)
		go c.stderrLoop(stderr)
	}
}

// monitor reaps the process after both stream loops drain, tears down every
// pending request, and then reports the exit.
func (c *Client) monitor(cmd *exec.Cmd) {
	c.ioWG.Wait()
	err := cmd.Wait()
	c.teardown()
	close(c.exited)
	if c.cfg.OnExit != nil {
		c.cfg.OnExit(err)
	}
}

// teardown flips the client into its terminal state: the read buffer is
// dropped, the initialized flag cleared, and every still-pending request is
// rejected with ErrServerStopped so no caller hangs forever.
func (c *Client) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.initialized = false
	waiting := c.pending
	c.pending = make(map[int64]chan outcome)
	c.rbuf = nil
	c.mu.Unlock()

	for _, ch := range waiting {
		ch <- outcome{err: ErrServerStopped}
	}
}

func (c *Client) handshake(ctx context.Context) (*InitializeResult, error) {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      c.cfg.Client,
	}
	raw, err := c.roundTrip(ctx, methodInitialize, params, c.cfg.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("mcpstdio: %s: %w", methodInitialize, err)
	}
	var res InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("mcpstdio: decode %s result: %w", methodInitialize, err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	if err := c.SendNotification(notificationInitialized, struct{}{}); err != nil {
		return nil, err
	}
	return &res, nil
}

// SendMessage issues a raw JSON-RPC request and blocks until the matching
// response arrives, the request timeout elapses, the context is canceled, or
// the server goes away.
func (c *Client) SendMessage(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := c.roundTrip(ctx, method, params, c.cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("mcpstdio: %s: %w", method, err)
	}
	return raw, nil
}

// SendNotification writes a fire-and-forget notification frame: no id, no
// pending bookkeeping, no response.
func (c *Client) SendNotification(method string, params any) error {
	c.mu.Lock()
	switch {
	case !c.started:
		c.mu.Unlock()
		return fmt.Errorf("mcpstdio: %s: %w", method, ErrNotStarted)
	case c.closed:
		c.mu.Unlock()
		return fmt.Errorf("mcpstdio: %s: %w", method, ErrServerStopped)
	case !c.initialized && method != notificationInitialized:
		c.mu.Unlock()
		return fmt.Errorf("mcpstdio: %s: %w", method, ErrNotInitialized)
	}
	c.mu.Unlock()

	if err := c.writeFrame(notification{JSONRPC: jsonRPCVersion, Method: method, Params: params}); err != nil {
		return fmt.Errorf("mcpstdio: %s: %w", method, err)
	}
	return nil
}

// ListTools requests the server's tool catalog. The returned slice is never
// nil, matching servers that omit the tools field entirely.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.roundTrip(ctx, methodListTools, struct{}{}, c.cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("mcpstdio: %s: %w", methodListTools, err)
	}
	var res listToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("mcpstdio: decode %s result: %w", methodListTools, err)
	}
	if res.Tools == nil {
		res.Tools = []Tool{}
	}
	return res.Tools, nil
}

// CallTool invokes one tool by name. The call is additionally bounded by the
// call timeout so a hung server cannot block the caller past its ceiling.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	raw, err := c.roundTrip(callCtx, methodCallTool, callToolParams{Name: name, Arguments: args}, c.cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("mcpstdio: %s %s: %w", methodCallTool, name, err)
	}
	return raw, nil
}

// roundTrip registers a pending request, writes the frame, and waits for
// exactly one resolution. Every exit path removes the pending entry, so the
// id is never left behind.
func (c *Client) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan outcome, 1)

	c.mu.Lock()
	switch {
	case !c.started:
		c.mu.Unlock()
		return nil, ErrNotStarted
	case c.closed:
		c.mu.Unlock()
		return nil, ErrServerStopped
	case !c.initialized && method != methodInitialize:
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeFrame(request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		c.discardPending(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out.result, out.err
	case <-timer.C:
		c.discardPending(id)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		c.discardPending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin == nil {
		return ErrNotStarted
	}
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Client) discardPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) takePending(id int64) (chan outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return ch, ok
}

func (c *Client) readLoop(r io.Reader) {
	defer c.ioWG.Done()
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c.handleData(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

// handleData buffers stdout bytes, splits off complete lines, and retains any
// trailing partial line for the next chunk. Each complete line is parsed
// independently.
func (c *Client) handleData(data []byte) {
	c.rbuf = append(c.rbuf, data...)
	for {
		nl := bytes.IndexByte(c.rbuf, '\n')
		if nl < 0 {
			return
		}
		line := bytes.TrimSpace(c.rbuf[:nl])
		c.rbuf = c.rbuf[nl+1:]
		if len(line) == 0 {
			continue
		}
		c.handleLine(line)
	}
}

// handleLine routes one parsed frame. A bad line is logged and skipped; one
// malformed message must not take the connection down.
func (c *Client) handleLine(line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		c.log.Warn("discarding unparseable server line", "err", err, "bytes", len(line))
		return
	}
	switch {
	case msg.ID != nil:
		ch, ok := c.takePending(*msg.ID)
		if !ok {
			c.log.Debug("response for unknown request id", "id", *msg.ID, "method", msg.Method)
			return
		}
		if msg.Error != nil {
			ch <- outcome{err: msg.Error}
			return
		}
		ch <- outcome{result: msg.Result}
	case msg.Method != "":
		if c.cfg.OnNotification != nil {
			c.cfg.OnNotification(msg.Method, msg.Params)
			return
		}
		c.log.Debug("unhandled server notification", "method", msg.Method)
	default:
		c.log.Debug("ignoring frame with neither id nor method")
	}
}

func (c *Client) stderrLoop(r io.Reader) {
	defer c.ioWG.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if c.cfg.OnStderr != nil {
			c.cfg.OnStderr(line)
			continue
		}
		c.log.Debug("server stderr", "line", line)
	}
}

// Stop terminates the server process: a termination signal first, then a
// forced kill once the grace period elapses. It always returns after the
// process is confirmed gone (or the context is canceled post-kill).
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	cmd := c.cmd
	started := c.started
	c.mu.Unlock()
	if !started || cmd == nil {
		return nil
	}

	select {
	case <-c.exited:
		return nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}

	grace := time.NewTimer(stopGracePeriod)
	defer grace.Stop()
	select {
	case <-c.exited:
		return nil
	case <-grace.C:
		_ = cmd.Process.Kill()
	case <-ctx.Done():
		_ = cmd.Process.Kill()
	}

	select {
	case <-c.exited:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// PID returns the child's process id, or zero before Start.
func (c *Client) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}
