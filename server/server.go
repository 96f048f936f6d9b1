// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/itsneelabh/apiflow/catalog"
	"github.com/itsneelabh/apiflow/core"
	"github.com/itsneelabh/apiflow/orchestration"
	"github.com/itsneelabh/apiflow/telemetry"
)

// Processor handles natural-language requests.
type Processor interface {
	ProcessRequest(ctx context.Context, req orchestration.Request) (*orchestration.Result, error)
}

// EndpointCatalog lists and refreshes the endpoint catalog.
type EndpointCatalog interface {
	GetAll(ctx context.Context) ([]catalog.EndpointDescriptor, error)
	Sync(ctx context.Context, swaggerURL string) (int, error)
}

// Server is the apiflow HTTP API.
type Server struct {
	processor  Processor
	catalog    EndpointCatalog
	history    orchestration.HistoryStore
	config     core.ServerConfig
	swaggerURL string
	tracing    string
	verbose    bool
	limiter    RateLimiter
	logger     core.Logger

	mu     sync.Mutex
	server *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithConfig sets address, timeouts and CORS origins.
func WithConfig(cfg core.ServerConfig) Option {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithSwaggerURL sets the document /update-endpoints loads when the request
// names none.
func WithSwaggerURL(url string) Option {
	return func(s *Server) {
		s.swaggerURL = url
	}
}

// WithHistory exposes execution records under /history.
func WithHistory(store orchestration.HistoryStore) Option {
	return func(s *Server) {
		s.history = store
	}
}

// WithTracing wraps the API in OpenTelemetry server spans.
func WithTracing(serviceName string) Option {
	return func(s *Server) {
		s.tracing = serviceName
	}
}

// WithVerboseLogging logs every request instead of failures and slow ones only.
func WithVerboseLogging(verbose bool) Option {
	return func(s *Server) {
		s.verbose = verbose
	}
}

// WithRateLimiter throttles POST /process-request per client.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// New creates a server. cat may be nil when catalog maintenance is not exposed.
func New(processor Processor, cat EndpointCatalog, opts ...Option) *Server {
	s := &Server{
		processor: processor,
		catalog:   cat,
		history:   orchestration.NewNoOpHistoryStore(),
		config:    core.DefaultConfig().Server,
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger core.Logger) {
	if logger == nil {
		s.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("apiflow/server")
	} else {
		s.logger = logger
	}
}

// Handler returns the routed API with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	var process http.Handler = http.HandlerFunc(s.handleProcessRequest)
	if s.limiter != nil {
		process = RateLimitMiddleware(s.limiter)(process)
	}
	mux.Handle("POST /process-request", process)
	mux.HandleFunc("GET /list-endpoints", s.handleListEndpoints)
	mux.HandleFunc("POST /update-endpoints", s.handleUpdateEndpoints)
	mux.HandleFunc("GET /history/{id}", s.handleGetHistory)
	mux.HandleFunc("GET /history", s.handleListHistory)
	mux.HandleFunc("GET /health", s.handleHealth)

	var handler http.Handler = mux
	handler = CORSMiddleware(DefaultCORSConfig(s.config.CORSOrigins))(handler)
	handler = SecurityHeadersMiddleware(DefaultSecurityHeaders())(handler)
	handler = LoggingMiddleware(s.logger, s.verbose, time.Second)(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware(handler)
	if s.tracing != "" {
		handler = telemetry.TracingMiddlewareWithConfig(s.tracing, &telemetry.TracingMiddlewareConfig{
			ExcludedPaths: []string{"/health"},
		})(handler)
	}
	return handler
}

// Addr returns the listen address from the configuration.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.Port))
}

// Start serves until Stop is called. It returns nil after a graceful stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"operation":    "server_start",
		"address":      srv.Addr,
		"cors_origins": s.config.CORSOrigins,
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to the
// configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	s.logger.Info("Stopping HTTP server", map[string]interface{}{
		"operation": "server_stop",
	})
	return srv.Shutdown(ctx)
}
