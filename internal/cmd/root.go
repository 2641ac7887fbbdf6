package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/owsrgate/owsrgate/internal/appid"
	"github.com/owsrgate/owsrgate/internal/config"
	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/server/handlers"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo handlers.BuildInfo
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = handlers.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   appid.Get().BinaryName,
	Short: appid.Get().Description,
	Long: fmt.Sprintf(`%s - %s

The relay exposes two endpoints:
  POST /get-access-token  client-credentials token from the identity provider
  POST /submit-owsr       OWSR inventory import with the caller's bearer token

Outbound calls are admitted through per-operation sliding windows.`,
		appid.Get().BinaryName, appid.Get().Description),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep library telemetry quiet until serve installs the exporter.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	identity := appid.Get()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	identity := appid.Get()
	observability.InitCLILogger(identity.BinaryName, verbose)

	v := viper.GetViper()
	config.SetDefaults(v)
	config.ConfigureEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if dir := config.DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err == nil {
		observability.CLILogger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
		return
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	} else if cfgFile != "" {
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Failed to read config file", err)
	} else {
		observability.CLILogger.Warn("Error reading config file", zap.Error(err))
	}
}

// loadConfig decodes the effective configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
