package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/owsrgate/owsrgate/internal/errors"
	"github.com/owsrgate/owsrgate/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify that the relay could start: logger, configuration and upstream settings.",
	Run: func(cmd *cobra.Command, args []string) {
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		log := observability.CLILogger
		log.Info("Running health check...")
		log.Info("✅ Logger initialized")

		cfg, err := loadConfig()
		if err != nil {
			log.Error("❌ FAIL: Configuration could not be loaded")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration could not be loaded", err)
			return
		}
		log.Info("✅ Configuration loaded")

		if err := cfg.Validate(); err != nil {
			log.Error("❌ FAIL: Upstream configuration incomplete")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Upstream configuration incomplete",
				errwrap.WrapConfigInvalid(cmd.Context(), err, err.Error()))
			return
		}
		log.Info("✅ Upstream endpoints and credentials configured",
			zap.String("token_url", cfg.Upstream.TokenURL),
			zap.String("submission_url", cfg.Upstream.SubmissionURL))

		for _, row := range newRelayRuntime(cfg).limitRows() {
			if !row.Gated {
				log.Warn("⚠️  Operation is not rate limited", zap.String("operation", row.Operation))
				continue
			}
			log.Debug("Admission window",
				zap.String("operation", row.Operation),
				zap.Int("limit", row.Limit),
				zap.Duration("window", row.Window))
		}

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
