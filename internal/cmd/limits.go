package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/output"
)

var limitsOutput string

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show configured admission windows",
	Long: `Show the admission window configured for each outbound operation.
A limit of 0 leaves the operation ungated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(limitsOutput, output.FormatTable)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
		}

		rt := newRelayRuntime(cfg)
		return output.Write(cmd.OutOrStdout(), format, rt.limitRows())
	},
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.Flags().StringVar(&limitsOutput, "output-format", string(output.FormatTable), "Output format: table|json|yaml")
}
