package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/owsrgate/owsrgate/internal/appid"
	apperrors "github.com/owsrgate/owsrgate/internal/errors"
	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/server/handlers"
	servermw "github.com/owsrgate/owsrgate/internal/server/middleware"
)

// Options configures the HTTP server.
type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Relay serves the token and submission endpoints.
	Relay handlers.Relay
	// Health aggregates readiness checks; a bare manager is used when nil.
	Health *handlers.HealthManager
	Build  handlers.BuildInfo

	CORSOrigins []string
	// Throttle enables the per-client inbound limiter when non-nil.
	Throttle *servermw.Throttle

	// MetricsPort is where the Prometheus exporter listens when it has not
	// reported its own address.
	MetricsPort int
	// AdminToken enables POST /admin/signal when set.
	AdminToken string
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 60 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 120 * time.Second
	}
	if opts.Health == nil {
		opts.Health = handlers.NewHealthManager(opts.Build.Version)
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery → CORS → Throttle
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(servermw.CORS(opts.CORSOrigins))
	if opts.Throttle != nil {
		r.Use(opts.Throttle.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("Not Found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("Method Not Allowed"))
	})

	s := &Server{
		router: r,
		opts:   opts,
	}
	s.server = &http.Server{
		Handler:           r,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}

	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes()

	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, fmt.Sprintf("%d", s.opts.Port))
}

// Start listens on the configured address and serves until Shutdown.
// It returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	observability.Info("Starting HTTP server",
		zap.String("service", appid.Get().BinaryName),
		zap.String("host", s.opts.Host),
		zap.Int("port", s.opts.Port),
		zap.String("addr", ln.Addr().String()))

	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	observability.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// ShutdownTimeout returns the configured grace period, defaulting to 10s.
func (s *Server) ShutdownTimeout() time.Duration {
	if s.opts.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return s.opts.ShutdownTimeout
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured server port
func (s *Server) Port() int {
	return s.opts.Port
}

// HandleError writes err through the central error responder.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
