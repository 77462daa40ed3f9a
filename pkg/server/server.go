package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/contoso/sofia/internal/config"
	"github.com/contoso/sofia/internal/observability"
	"github.com/contoso/sofia/pkg/pizza"
	"github.com/contoso/sofia/pkg/toolexecutor"
)

// Server is the Contoso Pizza HTTP service.
type Server struct {
	cfg      config.ServerConfig
	store    *pizza.OrderStore
	executor *toolexecutor.ToolExecutor
	logger   zerolog.Logger
	version  string

	httpServer     *http.Server
	limiter        *RateLimiter
	mcp            *mcpHandler
	feed           *OrderFeed
	requestTimeout time.Duration
	startTime      time.Time

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Option configures optional server behavior.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the version reported by /healthz and the MCP
// handshake.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithToolPolicy restricts which tools MCP callers may run. Approval
// prompts are always bypassed for MCP calls; the policy is the remaining
// guard.
func WithToolPolicy(policy *toolexecutor.ToolPolicy) Option {
	return func(s *Server) { s.mcp.policy = policy }
}

// WithHeartbeatInterval overrides the order feed heartbeat cadence.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(s *Server) { s.feed.heartbeat = interval }
}

// New creates the server. The order store and tool executor are
// required; cfg zero values fall back to the documented defaults.
func New(cfg config.ServerConfig, store *pizza.OrderStore, executor *toolexecutor.ToolExecutor, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("order store is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}

	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 30
	}

	observability.EnsureRegistered()

	s := &Server{
		cfg:            cfg,
		store:          store,
		executor:       executor,
		logger:         zerolog.Nop(),
		version:        "dev",
		limiter:        NewRateLimiter(cfg.RateLimitPerMinute),
		requestTimeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		startTime:      time.Now(),
	}
	s.mcp = newMCPHandler(executor, s.requestTimeout)
	s.feed = newOrderFeed()

	for _, opt := range opts {
		opt(s)
	}
	s.mcp.logger = s.logger
	s.mcp.version = s.version
	s.feed.setLogger(s.logger)

	if cfg.FeedEnabled {
		s.feed.start(store.Events())
	}

	return s, nil
}

// Handler returns the route table. Useful for mounting in tests without
// a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/calculate_pizza", s.withMiddleware("/calculate_pizza", s.handleCalculatePizza))
	mux.HandleFunc("/menu", s.withMiddleware("/menu", s.handleMenu))
	mux.HandleFunc("/menu/search", s.withMiddleware("/menu/search", s.handleMenuSearch))
	mux.HandleFunc("/orders", s.withMiddleware("/orders", s.handleOrders))
	mux.HandleFunc("/orders/", s.withMiddleware("/orders/{id}", s.handleOrderByID))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())

	if s.cfg.MCPEnabled {
		mux.HandleFunc("/mcp", s.withMiddleware("/mcp", s.mcp.handle))
	}
	if s.cfg.FeedEnabled {
		mux.HandleFunc("/ws/orders", s.feed.handleWS)
	}

	return mux
}

// Start runs the server until Stop is called. It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("host", s.cfg.Host).
		Int("port", s.cfg.Port).
		Bool("mcp", s.cfg.MCPEnabled).
		Bool("feed", s.cfg.FeedEnabled).
		Msg("Starting server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, draining in-flight requests.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.limiter.Stop()
	s.feed.stop()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

// withMiddleware wraps a handler with the shutdown gate, in-flight
// tracking, the rate limiter, a request deadline, and metrics. route is
// the label recorded for metrics, with path parameters collapsed.
func (s *Server) withMiddleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		ip := clientIP(r)
		if !s.limiter.Allow(ip) {
			retryAfter := s.limiter.RetryAfter(ip)
			s.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retry_after", retryAfter).
				Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		if s.requestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		duration := time.Since(start)
		observability.RecordHTTPRequest(route, r.Method, rec.status, duration)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ip).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("Request completed")
	}
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// clientIP extracts the caller address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
