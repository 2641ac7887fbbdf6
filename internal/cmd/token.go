package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/owsrgate/owsrgate/internal/errors"
	"github.com/owsrgate/owsrgate/internal/gateway"
	"github.com/owsrgate/owsrgate/internal/observability"
)

var tokenCompact bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetch one access token from the identity provider",
	Long: `Perform a single client-credentials token request using the configured
upstream endpoint and credentials, and print the provider's JSON response.

Useful for checking credentials before starting the relay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
		}
		if err := cfg.Validate(); err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration",
				errwrap.WrapConfigInvalid(cmd.Context(), err, err.Error()))
		}

		rt := newRelayRuntime(cfg)
		body, err := rt.gateway.FetchAccessToken(cmd.Context())
		if err != nil {
			observability.CLILogger.Error("Token request failed",
				zap.String("kind", string(gateway.KindOf(err))),
				zap.Error(err))
			return errwrap.FromGateway(cmd.Context(), err)
		}

		out := []byte(body)
		if !tokenCompact {
			var buf bytes.Buffer
			if err := json.Indent(&buf, body, "", "  "); err == nil {
				out = buf.Bytes()
			}
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().BoolVar(&tokenCompact, "compact", false, "print the response without indentation")
}
