// Package gateway is the bridge's HTTP surface: the webhook receiver,
// the dispatch and conversation endpoints, read models for status and
// diagnostics, Prometheus metrics, and an SSE stream of bus events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/homechat-bridge/internal/bus"
	"github.com/haasonsaas/homechat-bridge/internal/config"
	"github.com/haasonsaas/homechat-bridge/internal/conversation"
	"github.com/haasonsaas/homechat-bridge/internal/coordinator"
	"github.com/haasonsaas/homechat-bridge/internal/dispatch"
	"github.com/haasonsaas/homechat-bridge/internal/provision"
	"github.com/haasonsaas/homechat-bridge/internal/webhook"
)

// maxRequestBody caps dispatch and conversation request bodies.
const maxRequestBody = 1 << 20

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Config      config.Config
	Coordinator *coordinator.Coordinator
	Dispatcher  *dispatch.Dispatcher
	Agent       *conversation.Agent
	Receiver    *webhook.Receiver
	Bus         *bus.Bus
	ServerInfo  *provision.Info

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server is the bridge HTTP server.
type Server struct {
	deps      Deps
	logger    *slog.Logger
	startTime time.Time

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		deps:      deps,
		logger:    deps.Logger.With("component", "gateway"),
		startTime: time.Now(),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.deps.Receiver != nil {
		mux.Handle("/webhook/{id}", s.deps.Receiver)
	}
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /services/{operation}", s.handleService)
	mux.HandleFunc("POST /conversation", s.handleConversation)
	mux.HandleFunc("GET /events", s.handleEvents)

	return s.withRequestID(mux)
}

// Start begins serving. Non-blocking; errors after startup are logged.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.deps.Config.Server.Listen)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server started", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, letting in-flight requests drain.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.listener = nil
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":        string(coordinator.StatusUnknown),
		"channel_count": 0,
	}
	if s.deps.Coordinator != nil {
		snap := s.deps.Coordinator.Snapshot()
		body["status"] = string(snap.Status)
		body["channel_count"] = snap.ChannelCount()
		body["channels"] = snap.Channels
		if !snap.LastSuccess.IsZero() {
			body["last_success"] = snap.LastSuccess
		}
	}
	if s.deps.ServerInfo != nil {
		body["server"] = s.deps.ServerInfo
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"config": s.deps.Config.Redacted(),
	}
	if s.deps.Coordinator != nil {
		body["snapshot"] = s.deps.Coordinator.Snapshot()
	}
	if s.deps.Dispatcher != nil {
		body["operations"] = s.deps.Dispatcher.Operations()
	}
	if s.deps.Bus != nil {
		body["subscribers"] = s.deps.Bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleService accepts an operation payload. Validation is the only
// synchronous failure; a payload that validates is always accepted,
// whatever happens downstream.
func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatch is not available")
		return
	}
	operation := r.PathValue("operation")

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Dispatcher.Dispatch(r.Context(), operation, body); err != nil {
		var vErr *dispatch.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "accepted",
		"operation": operation,
	})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Agent == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation is not available")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "body must be JSON with a non-empty text field")
		return
	}

	result, err := s.deps.Agent.Process(r.Context(), req.Text)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleEvents streams bus events as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus is not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var names []string
	if filter := r.URL.Query().Get("name"); filter != "" {
		names = append(names, filter)
	}
	events, cancel := s.deps.Bus.Subscribe(names...)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, data)
			flusher.Flush()
		}
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errors.New("request body too large")
		}
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
