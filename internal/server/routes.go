package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/owsrgate/owsrgate/internal/appid"
	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/server/handlers"
)

// Relay endpoint paths
const (
	PathAccessToken = "/get-access-token"
	PathSubmitOWSR  = "/submit-owsr"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	if s.opts.Relay != nil {
		relay := handlers.NewRelayHandler(s.opts.Relay)
		s.router.Post(PathAccessToken, relay.GetAccessToken)
		s.router.Post(PathSubmitOWSR, relay.SubmitOWSR)
	}

	health := s.opts.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.NewVersionHandler(appid.Get(), s.opts.Build))

	s.router.Get("/metrics", newMetricsHandler(s.opts.MetricsPort))

	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	if s.opts.AdminToken == "" {
		observability.Debug("Admin signal endpoint disabled (no admin.token set)")
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	observability.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("auth", "bearer token"),
		zap.String("rate_limit", "10/min, burst 5"))
	observability.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
}
