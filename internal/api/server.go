// Package api serves the agent's HTTP and WebSocket interface: reader
// listing, card status, APDU exchange, live reader events, logs and
// metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SimplyPrint/pcsc-agent/internal/certs"
	"github.com/SimplyPrint/pcsc-agent/internal/config"
	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/metrics"
	"github.com/SimplyPrint/pcsc-agent/internal/monitor"
	"github.com/SimplyPrint/pcsc-agent/internal/native"
)

// Server holds what the handlers share. Every request that talks to the
// smart card service establishes its own Context on the handler goroutine.
type Server struct {
	svc     native.Service
	cfg     *config.Config
	monitor  *monitor.Monitor
	hub      *WSHub
	upgrader websocket.Upgrader
}

// NewServer creates a server. mon supplies reader events for WebSocket
// clients and may be nil, in which case no events are streamed.
func NewServer(svc native.Service, cfg *config.Config, mon *monitor.Monitor) *Server {
	s := &Server{
		svc:     svc,
		cfg:     cfg,
		monitor: mon,
		hub:     NewWSHub(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

// Handler returns the HTTP mux for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /v1/readers", "readers", s.handleListReaders)
	s.route(mux, "GET /v1/readers/{name}/status", "reader_status", s.handleReaderStatus)
	s.route(mux, "POST /v1/readers/{name}/transmit", "reader_transmit", s.handleTransmit)
	s.route(mux, "GET /v1/logs", "logs", handleLogs)
	s.route(mux, "DELETE /v1/logs", "logs", handleLogs)
	s.route(mux, "GET /v1/version", "version", handleVersion)
	s.route(mux, "GET /v1/health", "health", handleHealth)
	s.route(mux, "GET /v1/ws", "websocket", s.handleWebSocket)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, metrics.HTTPMiddleware(name, s.corsMiddleware(recoveryMiddleware(h))))
}

// Run starts the event hub and serves HTTP on the configured address until
// ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	if s.monitor != nil {
		id, events := s.monitor.Subscribe(0)
		go s.forwardEvents(ctx, id, events)
	}

	srv := &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := s.listen(srv.Addr)
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info(logging.CatHTTP, "HTTP server listening", map[string]any{
			"address": ln.Addr().String(),
			"tls":     s.cfg.TLS,
		})
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// listen opens the API port. With TLS enabled the same port also accepts
// HTTPS, for pages that may only talk to secure origins.
func (s *Server) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if !s.cfg.TLS {
		return ln, nil
	}

	dir := s.cfg.CertDir
	if dir == "" {
		if dir, err = certs.DefaultDir(); err != nil {
			ln.Close()
			return nil, fmt.Errorf("locate certificate directory: %w", err)
		}
	}
	tlsConfig, err := certs.LoadOrGenerate(dir)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return certs.NewMuxListener(ln, tlsConfig), nil
}

// forwardEvents relays monitor events to every WebSocket client until ctx
// is done, then drops the subscription.
func (s *Server) forwardEvents(ctx context.Context, id uuid.UUID, events <-chan monitor.Event) {
	defer logging.RecoverAndLog("event forwarder", false)
	defer s.monitor.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, err := newMessage("event", "", ev)
			if err != nil {
				logging.Error(logging.CatWebSocket, "Failed to encode event", map[string]any{"error": err.Error()})
				continue
			}
			s.hub.Broadcast(msg)
		}
	}
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				where := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

				logging.CapturePanic(rec, stack, where)
				logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", where, rec), map[string]any{
					"panic":  fmt.Sprintf("%v", rec),
					"stack":  string(stack),
					"method": r.Method,
					"path":   r.URL.Path,
				})

				crashFile, err := logging.WriteCrashLog(rec, stack)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
					crashFile = ""
				}

				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error":     "internal server error",
					"crashFile": crashFile,
				})
			}
		}()
		next(w, r)
	}
}

// corsMiddleware refuses requests from web origins that are not
// configured and grants CORS access to those that are. Requests without an
// Origin header pass unchanged.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !s.cfg.OriginAllowed(origin) {
			logging.Warn(logging.CatHTTP, "Refused request from foreign origin", map[string]any{
				"origin": origin,
				"method": r.Method,
				"path":   r.URL.Path,
			})
			respondError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next(w, r)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // header already sent
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
