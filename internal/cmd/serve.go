package cmd

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/owsrgate/owsrgate/internal/appid"
	"github.com/owsrgate/owsrgate/internal/config"
	errwrap "github.com/owsrgate/owsrgate/internal/errors"
	"github.com/owsrgate/owsrgate/internal/metrics"
	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/server"
	"github.com/owsrgate/owsrgate/internal/server/handlers"
	servermw "github.com/owsrgate/owsrgate/internal/server/middleware"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay HTTP server",
	Long: `Start the relay HTTP server with graceful shutdown support.

Upstream endpoints and client credentials must be configured, for example:
  OWSRGATE_UPSTREAM_TOKEN_URL, OWSRGATE_UPSTREAM_SUBMISSION_URL,
  OWSRGATE_UPSTREAM_CLIENT_ID, OWSRGATE_UPSTREAM_CLIENT_SECRET

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config and resize admission windows`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
		}
		if err := cfg.Validate(); err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration",
				errwrap.WrapConfigInvalid(cmd.Context(), err, err.Error()))
		}

		identity := appid.Get()
		namespace := identity.TelemetryNamespace()

		logLevel := cfg.Logging.Level
		if verbose {
			logLevel = "debug"
		}
		observability.InitServerLogger(identity.BinaryName, logLevel, cfg.Logging.Profile, namespace)

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(namespace, cfg.Metrics.Port); err != nil {
				observability.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			metrics.SetServerStartTime(time.Now().Unix())
		} else {
			observability.DisableMetrics()
		}

		observability.Info("Initializing relay",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.Int("token_limit", cfg.Admission.TokenLimit),
			zap.Int("submission_limit", cfg.Admission.SubmissionLimit),
			zap.Duration("admission_window", cfg.Admission.Window),
			zap.Duration("upstream_timeout", cfg.Upstream.Timeout))

		rt := newRelayRuntime(cfg)

		hm := handlers.NewHealthManager(versionInfo.Version)
		rt.registerHealthChecks(hm, cfg)
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		var throttle *servermw.Throttle
		if cfg.Throttle.Enabled {
			throttle = servermw.NewThrottle(servermw.ThrottleConfig{
				RPS:   cfg.Throttle.RPS,
				Burst: cfg.Throttle.Burst,
			})
			throttle.StartJanitor(ctx, time.Minute)
		}

		srv := server.New(server.Options{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     cfg.Server.IdleTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Relay:           rt.gateway,
			Health:          hm,
			Build:           versionInfo,
			CORSOrigins:     cfg.CORS.AllowedOrigins,
			Throttle:        throttle,
			MetricsPort:     cfg.Metrics.Port,
			AdminToken:      cfg.Admin.Token,
		})

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			if observability.ServerLogger == nil {
				return nil
			}
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		// Handler 2: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, srv.ShutdownTimeout())
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			return reloadConfig(ctx, rt)
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 2)
		go func() {
			err := srv.Start()
			if stderrors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errChan <- err
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				observability.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

// reloadConfig re-reads the config file and applies admission settings.
// Other settings take effect on restart.
func reloadConfig(ctx context.Context, rt *relayRuntime) error {
	observability.Info("Received SIGHUP: reloading configuration")

	v := viper.GetViper()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			observability.Error("Failed to reload config file",
				zap.String("file", v.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
	}
	if err := cfg.Validate(); err != nil {
		observability.Error("Reloaded configuration is invalid; keeping current settings", zap.Error(err))
		return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
	}

	rt.resize(cfg)
	observability.Info("Configuration reloaded", zap.String("file", v.ConfigFileUsed()))
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8000, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
