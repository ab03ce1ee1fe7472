// Package server exposes the control and status HTTP surface of voicefront:
// health and readiness probes, Prometheus metrics, a websocket feed of
// status events, and endpoints to toggle manual listening and interrupt the
// tutor.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/simpletutor/voicefront/internal/health"
	"github.com/simpletutor/voicefront/internal/observe"
	"github.com/simpletutor/voicefront/internal/status"
)

const (
	// subscriberBuffer is the event backlog of one websocket client before
	// events are dropped for it.
	subscriberBuffer = 64

	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Controller is the subset of the capture orchestrator the server drives.
type Controller interface {
	SetManualListening(enabled bool) error
	RequestInterrupt() uint64
	Listening() bool
}

// Feed is the source of status events. [status.Broadcaster] implements it.
type Feed interface {
	Subscribe(buffer int) (<-chan status.Event, func())
	Snapshot() status.Event
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics, typically promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithOriginPatterns allows cross-origin websocket clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server routes the HTTP endpoints. Create it with [New].
type Server struct {
	ctrl           Controller
	feed           Feed
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	originPatterns []string

	handler http.Handler
}

// New builds the route table.
func New(ctrl Controller, feed Feed, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, feed: feed}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /listen", s.handleListen)
	mux.HandleFunc("POST /interrupt", s.handleInterrupt)

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler with request instrumentation applied.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("server: listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// handleStatus upgrades to a websocket and streams status events as JSON
// text messages until the client goes away. The first event is the current
// state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		slog.Debug("server: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := s.feed.Subscribe(subscriberBuffer)
	defer unsubscribe()

	// The feed is one-way; CloseRead handles pings and the client's close.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("server: status write failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Snapshot())
}

type listenResponse struct {
	ManualListening bool `json:"manual_listening"`
	Listening       bool `json:"listening"`
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "enabled must be true or false")
		return
	}
	if err := s.ctrl.SetManualListening(enabled); err != nil {
		slog.Warn("server: set manual listening failed", "enabled", enabled, "err", err)
		writeError(w, http.StatusInternalServerError, "could not update listening state")
		return
	}
	writeJSON(w, http.StatusOK, listenResponse{ManualListening: enabled, Listening: s.ctrl.Listening()})
}

type interruptResponse struct {
	Generation uint64 `json:"generation"`
}

func (s *Server) handleInterrupt(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, interruptResponse{Generation: s.ctrl.RequestInterrupt()})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: encode response failed", "err", err)
	}
}
