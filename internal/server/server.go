// Package server is the HTTP front for the gateway pipeline. It adapts
// net/http requests into pipeline requests, handles CORS, exposes the
// health, metrics and session endpoints, and owns graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/axisgate/axis/internal/gateway"
	"github.com/axisgate/axis/internal/logging"
	"github.com/axisgate/axis/internal/metrics"
	"github.com/axisgate/axis/internal/observability"
	"github.com/axisgate/axis/internal/rbac"
	"github.com/axisgate/axis/internal/routes"
)

// maxRequestBody caps how much of a request body is read.
const maxRequestBody = 10 << 20

// SessionCookie is the cookie consulted when no session header is set.
const SessionCookie = "axis_session"

// Config holds the front's listen and timeout settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server fronts the gateway over HTTP.
type Server struct {
	cfg      Config
	gw       *gateway.Gateway
	registry *routes.Registry
	authz    *rbac.Engine
	exporter *metrics.Exporter
	httpSrv  *http.Server
}

// New builds the server. exporter and authz may be nil; the corresponding
// endpoints then return 404.
func New(cfg Config, gw *gateway.Gateway, registry *routes.Registry, authz *rbac.Engine, exporter *metrics.Exporter) *Server {
	s := &Server{
		cfg:      cfg,
		gw:       gw,
		registry: registry,
		authz:    authz,
		exporter: exporter,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if exporter != nil {
		mux.Handle("/metrics", exporter.Handler())
	}
	if authz != nil {
		mux.HandleFunc("/sessions", s.handleSessions)
		mux.HandleFunc("/sessions/", s.handleSessions)
	}
	mux.HandleFunc("/", s.handleGateway)

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      observability.HTTPMiddleware(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logging.Op().Info("http server listening", "addr", s.cfg.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleGateway adapts the HTTP request and runs it through the pipeline.
func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.handlePreflight(w, r)
		return
	}

	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, `{"error":"read_body_failed"}`, http.StatusBadRequest)
			return
		}
		body = b
	}

	req := &gateway.Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   flattenHeaders(r.Header),
		Body:      body,
		SessionID: sessionID(r),
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: requestID(r),
	}

	resp := s.gw.HandleRequest(r.Context(), req)

	if route := s.registry.Find(r.Method, r.URL.Path); route != nil && route.CORS != nil {
		setCORSHeaders(w, r, route.CORS)
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("X-Request-ID", req.RequestID)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// handleSessions implements POST /sessions (login) and
// DELETE /sessions/{id} (logout).
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/sessions":
		var in struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil || in.UserID == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad_request","message":"user_id is required"}`))
			return
		}
		sess, err := s.authz.CreateSession(in.UserID)
		switch {
		case errors.Is(err, rbac.ErrUserNotFound):
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"user_not_found"}`))
		case errors.Is(err, rbac.ErrUserInactive):
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"user_inactive"}`))
		case err != nil:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"internal_error"}`))
		default:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(sess)
		}

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/sessions/"):
		id := strings.TrimPrefix(r.URL.Path, "/sessions/")
		if s.authz.DestroySession(id) {
			w.WriteHeader(http.StatusNoContent)
		} else {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"session_not_found"}`))
		}

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method_not_allowed"}`))
	}
}

// sessionID pulls the caller's session from header, bearer token or cookie.
func sessionID(r *http.Request) string {
	if v := r.Header.Get("X-Session-ID"); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// clientIP resolves the caller address: X-Forwarded-For first hop, then
// X-Real-IP, then the socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			xff = xff[:idx]
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestID(r *http.Request) string {
	if v := r.Header.Get("X-Request-ID"); v != "" {
		return v
	}
	return uuid.NewString()
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
