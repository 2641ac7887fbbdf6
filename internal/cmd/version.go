package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/owsrgate/owsrgate/internal/appid"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build, Go, Gofulmen and Crucible versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		printVersion(cmd.OutOrStdout(), extended)
		return nil
	},
}

func printVersion(w io.Writer, extended bool) {
	name := appid.Get().BinaryName
	version := versionInfo.Version
	if version == "" {
		version = "dev"
	}

	_, _ = fmt.Fprintf(w, "%s %s\n", name, version)
	if !extended {
		return
	}

	_, _ = fmt.Fprintf(w, "Commit: %s\n", versionInfo.Commit)
	_, _ = fmt.Fprintf(w, "Built: %s\n", versionInfo.BuildDate)
	_, _ = fmt.Fprintf(w, "Go: %s\n\n", runtime.Version())

	deps := crucible.GetVersion()
	_, _ = fmt.Fprintf(w, "Gofulmen: %s\n", deps.Gofulmen)
	_, _ = fmt.Fprintf(w, "Crucible: %s\n", deps.Crucible)
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
