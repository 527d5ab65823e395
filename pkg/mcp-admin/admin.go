// Package mcpadmin exposes a Manager over a small JSON HTTP API: server CRUD
// and lifecycle, tool listing and invocation, an execution history ring, a
// live event stream, and a rendered documentation page.
package mcpadmin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

// Server wraps one Manager with the admin HTTP surface.
type Server struct {
	manager   *mcphost.Manager
	opts      Options
	startedAt time.Time

	history *history
	events  *eventHub

	mux         *http.ServeMux
	httpHandler http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server

	unsubscribe func()
}

// NewServer builds the admin surface around mgr and subscribes to its events.
// Call Shutdown to detach again.
func NewServer(mgr *mcphost.Manager, opts *Options) (*Server, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpadmin: manager is required")
	}
	options := opts.withDefaults()
	s := &Server{
		manager:   mgr,
		opts:      options,
		startedAt: time.Now(),
		history:   newHistory(options.HistorySize),
		events:    newEventHub(options.Logger),
	}

	s.unsubscribe = mgr.Subscribe(func(ev mcphost.Event) {
		if exec, ok := ev.(mcphost.ToolExecuted); ok {
			s.history.record(exec.Result)
		}
		s.events.publish(ev)
	})

	s.mux = http.NewServeMux()
	s.routes()
	s.httpHandler = cors.New(cors.Options{
		AllowedOrigins: options.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.mux)

	return s, nil
}

// Handler exposes the HTTP handler serving the admin API.
func (s *Server) Handler() http.Handler {
	return s.httpHandler
}

// ServeMux exposes the underlying mux so embedders can mount extra routes.
func (s *Server) ServeMux() *http.ServeMux {
	return s.mux
}

// ListenAndServe runs an HTTP server until the provided context is cancelled
// or the server stops.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServerMu.Lock()
	if s.httpServer != nil {
		srv := s.httpServer
		s.httpServerMu.Unlock()
		return fmt.Errorf("mcpadmin: server already running on %s", srv.Addr)
	}
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.Handler()}
	s.httpServer = srv
	s.httpServerMu.Unlock()
	defer func() {
		s.httpServerMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.detach()
		return ctx.Err()
	case err := <-errCh:
		s.detach()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if one is running and detaches from
// the manager's event stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpServerMu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.httpServerMu.Unlock()
	defer s.detach()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (s *Server) detach() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.events.close()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /v1/status", s.handleStatus)
	s.mux.HandleFunc("GET /v1/servers", s.handleListServers)
	s.mux.HandleFunc("POST /v1/servers", s.handleAddServer)
	s.mux.HandleFunc("GET /v1/servers/{id}", s.handleGetServer)
	s.mux.HandleFunc("DELETE /v1/servers/{id}", s.handleRemoveServer)
	s.mux.HandleFunc("POST /v1/servers/{id}/start", s.handleStartServer)
	s.mux.HandleFunc("POST /v1/servers/{id}/stop", s.handleStopServer)
	s.mux.HandleFunc("GET /v1/tools", s.handleListTools)
	s.mux.HandleFunc("POST /v1/tools/call", s.handleCallTool)
	s.mux.HandleFunc("GET /v1/history", s.handleHistory)
	s.mux.HandleFunc("GET /v1/events", s.handleEvents)
	s.mux.HandleFunc("GET /v1/docs", s.handleDocs)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	servers := s.manager.Servers()
	running := 0
	for _, srv := range servers {
		if srv.Runtime.Status == mcphost.StatusRunning {
			running++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"startedAt":     s.startedAt,
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"servers":       len(servers),
		"running":       running,
		"tools":         len(s.manager.Tools("")),
	})
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Servers())
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var cfg mcphost.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(fmt.Errorf("decode config: %w", err)))
		return
	}
	if err := s.manager.AddServer(r.Context(), cfg); err != nil {
		switch {
		case errors.Is(err, mcphost.ErrServerExists),
			errors.Is(err, mcphost.ErrInvalidConfig),
			errors.Is(err, mcphost.ErrManagerClosed):
			s.writeError(w, err)
			return
		}
		// Any other failure is AutoStart: the config registered, the launch
		// did not. Report created with the error state attached.
		if state, serr := s.manager.Server(cfg.ID); serr == nil {
			s.opts.Logger.Warn("server added but not started", "server", cfg.ID, "err", err)
			writeJSON(w, http.StatusCreated, state)
			return
		}
		s.writeError(w, err)
		return
	}
	state, err := s.manager.Server(cfg.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	state, err := s.manager.Server(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.RemoveServer(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.StartServer(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	state, err := s.manager.Server(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.StopServer(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	state, err := s.manager.Server(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	server := r.URL.Query().Get("server")
	if server != "" {
		if _, err := s.manager.Server(server); err != nil {
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.manager.Tools(server))
}

// toolCallResponse is the wire shape of one execution outcome. Durations
// travel as milliseconds, matching the history entries.
type toolCallResponse struct {
	ID         string          `json:"id"`
	Server     string          `json:"server"`
	Tool       string          `json:"tool"`
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"durationMs"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var call mcphost.ToolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(fmt.Errorf("decode call: %w", err)))
		return
	}
	if call.Server == "" || call.Tool == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(errors.New("server and tool are required")))
		return
	}
	res := s.manager.ExecuteTool(r.Context(), call)
	writeJSON(w, http.StatusOK, toolCallResponse{
		ID:         res.ID,
		Server:     res.Server,
		Tool:       res.Tool,
		Success:    res.Success,
		Data:       res.Data,
		Error:      res.Error,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.history.snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody(errors.New("streaming unsupported")))
		return
	}
	id, ch := s.events.subscribe()
	defer s.events.unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// An immediate comment line commits the response headers so clients know
	// they are subscribed before the first event fires.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
			flusher.Flush()
		}
	}
}

// writeError maps manager sentinels onto HTTP statuses: unknown ids are 404,
// conflicts (duplicate id, concurrency ceiling) are 409, rejected configs are
// 400, everything else is 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, mcphost.ErrServerNotFound), errors.Is(err, mcphost.ErrToolNotFound):
		status = http.StatusNotFound
	case errors.Is(err, mcphost.ErrServerExists), errors.Is(err, mcphost.ErrTooManyServers):
		status = http.StatusConflict
	case errors.Is(err, mcphost.ErrInvalidConfig):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.opts.Logger.Error("admin request failed", "err", err)
	}
	writeJSON(w, status, errorBody(err))
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
