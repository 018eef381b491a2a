// Package server exposes FlowPilot over HTTP: an MCP endpoint with an
// SSE back-channel, an OpenAI-compatible chat surface that runs the
// agent loop, and a REST API over inventory and the audit trail. One
// listener carries all of it plus /health and /metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrtian2016/flowpilot/internal/agent"
	"github.com/mrtian2016/flowpilot/internal/agent/providers"
	"github.com/mrtian2016/flowpilot/internal/audit"
	"github.com/mrtian2016/flowpilot/internal/config"
	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/internal/observability"
	"github.com/mrtian2016/flowpilot/internal/policy"
)

// ProviderResolver picks the LLM provider serving a request. The agent
// router satisfies it.
type ProviderResolver interface {
	Resolve(name, scenario string) (providers.LLMProvider, error)
}

// Options wires one server instance.
type Options struct {
	Config *config.Config

	// ConfigPath enables hot reload of policy rules and inventory when
	// set; the watcher follows the file across atomic saves.
	ConfigPath string

	Engine   *policy.Engine
	Resolver *inventory.Resolver

	// Inventory backs the REST mutations. Nil disables them; reads
	// still work off the resolver.
	Inventory *inventory.Store

	// Audit backs the /api/audit endpoints and the agent loop's trail.
	// Nil disables both.
	Audit *audit.Store

	Registry *agent.Registry
	Executor *agent.Executor

	// SystemPrompt is the catalog prompt injected into API chats that
	// do not carry their own system turn.
	SystemPrompt string

	Providers ProviderResolver
	Metrics   *observability.Metrics
	Logger    *slog.Logger

	// Version is reported by the MCP initialize handshake.
	Version string

	// APIKey guards the /v1 surface. Empty falls back to
	// $FLOWPILOT_API_KEY; when both are unset /v1 is open.
	APIKey string
}

// Server is the HTTP front of a FlowPilot runtime.
type Server struct {
	mux *http.ServeMux

	engine    *policy.Engine
	resolver  *inventory.Resolver
	inventory *inventory.Store
	audit     *audit.Store
	registry  *agent.Registry
	executor  *agent.Executor
	providers ProviderResolver
	metrics   *observability.Metrics
	logger    *slog.Logger

	systemPrompt string
	version      string
	apiKey       string
	configPath   string
	heartbeat    time.Duration
	toolTimeout  time.Duration
	start        time.Time

	sse     *sseHub
	prompts []Prompt

	cfgMu sync.RWMutex
	cfg   *config.Config

	httpServer *http.Server
}

// New validates the options and assembles a server. It does not
// listen; call ListenAndServe or mount Handler yourself.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server requires a configuration")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("server requires a policy engine")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("server requires an inventory resolver")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("server requires a tool registry")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("server requires a tool executor")
	}
	if opts.Providers == nil {
		return nil, fmt.Errorf("server requires a provider resolver")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "0.1.0"
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("FLOWPILOT_API_KEY")
	}
	heartbeat := opts.Config.Server.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	toolTimeout := opts.Config.Agent.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = agent.DefaultToolTimeout
	}

	s := &Server{
		mux:          http.NewServeMux(),
		engine:       opts.Engine,
		resolver:     opts.Resolver,
		inventory:    opts.Inventory,
		audit:        opts.Audit,
		registry:     opts.Registry,
		executor:     opts.Executor,
		providers:    opts.Providers,
		metrics:      opts.Metrics,
		logger:       logger,
		systemPrompt: opts.SystemPrompt,
		version:      version,
		apiKey:       apiKey,
		configPath:   opts.ConfigPath,
		heartbeat:    heartbeat,
		toolTimeout:  toolTimeout,
		start:        time.Now(),
		sse:          newSSEHub(),
		prompts:      defaultPrompts(),
		cfg:          opts.Config,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// MCP transport.
	s.mux.HandleFunc("GET /sse", s.handleSSE)
	s.mux.HandleFunc("POST /message", s.handleMessage)

	// OpenAI-compatible surface.
	s.mux.HandleFunc("GET /v1/models", s.requireAPIKey(s.handleModels))
	s.mux.HandleFunc("GET /v1/tools", s.requireAPIKey(s.handleToolIndex))
	s.mux.HandleFunc("POST /v1/chat/completions", s.requireAPIKey(s.handleChatCompletions))

	// REST API.
	s.mux.HandleFunc("GET /api/hosts", s.handleHostList)
	s.mux.HandleFunc("POST /api/hosts", s.handleHostCreate)
	s.mux.HandleFunc("GET /api/hosts/{name}", s.handleHostGet)
	s.mux.HandleFunc("PUT /api/hosts/{name}", s.handleHostUpdate)
	s.mux.HandleFunc("DELETE /api/hosts/{name}", s.handleHostDelete)
	s.mux.HandleFunc("GET /api/services", s.handleServiceList)
	s.mux.HandleFunc("POST /api/services", s.handleServiceCreate)
	s.mux.HandleFunc("DELETE /api/services/{id}", s.handleServiceDelete)
	s.mux.HandleFunc("GET /api/jumps", s.handleJumpList)
	s.mux.HandleFunc("GET /api/policies", s.handlePolicyList)
	s.mux.HandleFunc("GET /api/audit/sessions", s.handleAuditSessions)
	s.mux.HandleFunc("GET /api/audit/sessions/count", s.handleAuditCount)
	s.mux.HandleFunc("GET /api/audit/sessions/{id}", s.handleAuditSession)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
}

// Handler returns the mux with observability middleware applied.
func (s *Server) Handler() http.Handler {
	return s.observe(s.mux)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully. The config watcher starts alongside when a config
// path was supplied.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.snapshot()
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	if err := s.watchConfig(ctx); err != nil {
		s.logger.Warn("config watch unavailable", "error", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = srv

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	s.logger.Info("http server listening",
		"addr", addr,
		"tools", s.registry.Len(),
		"resources", len(resourceIndex),
		"prompts", len(s.prompts),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]any{
		"status":          "healthy",
		"tools_count":     s.registry.Len(),
		"resources_count": len(resourceIndex),
		"prompts_count":   len(s.prompts),
	})
}

// requireAPIKey guards a handler with the bearer key when one is
// configured. Without a key the surface stays open, which suits local
// single-operator deployments.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) != s.apiKey {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.jsonError(w, "Invalid API key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// observe wraps the mux with request logging and HTTP metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(begin)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), strconv.Itoa(wrapped.status), elapsed.Seconds())
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", elapsed,
			"remote_addr", r.RemoteAddr,
		)
	})
}

// routeLabel folds dynamic path segments so the metric label set stays
// bounded.
func routeLabel(path string) string {
	switch {
	case path == "/api/audit/sessions/count":
		return path
	case strings.HasPrefix(path, "/api/audit/sessions/"):
		return "/api/audit/sessions/{id}"
	case strings.HasPrefix(path, "/api/hosts/"):
		return "/api/hosts/{name}"
	case strings.HasPrefix(path, "/api/services/"):
		return "/api/services/{id}"
	default:
		return path
	}
}

// responseWriter captures the status code for logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush forwards so SSE keeps working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// snapshot returns the live configuration. Hot reload swaps the
// pointer, so callers must not hold it across requests.
func (s *Server) snapshot() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func (s *Server) setConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}
