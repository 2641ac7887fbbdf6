package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/output"
)

var (
	configShowSecrets bool
	configOutput      string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, config file and OWSRGATE_*
environment variables are applied. Secrets are redacted unless --show-secrets
is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(configOutput, output.FormatYAML)
		if err != nil {
			return err
		}
		if format == output.FormatTable {
			return fmt.Errorf("unsupported output format for config: %s", format)
		}

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
		}
		if !configShowSecrets {
			cfg = cfg.Redacted()
		}

		if used := viper.ConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "# config file: %s\n", used)
		}
		if err := cfg.Validate(); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "# warning: %v\n", err)
		}
		return output.Write(cmd.OutOrStdout(), format, cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configShowSecrets, "show-secrets", false, "print secrets in clear text")
	configCmd.Flags().StringVar(&configOutput, "output-format", string(output.FormatYAML), "Output format: yaml|json")
}
